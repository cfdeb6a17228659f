package search

import (
	"strings"
	"testing"
	"time"

	"example.com/blocktix/config"
	"example.com/blocktix/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerDocumentOmitsNilFields(t *testing.T) {
	entry := &models.LedgerEntry{
		ID:        "tx-9",
		Type:      models.LedgerTransfer,
		EventID:   "ev-1",
		To:        "b@example.com",
		Timestamp: time.Now(),
	}
	from := "a@example.com"
	entry.From = &from

	doc := LedgerDocument(entry, "Sunburn")
	assert.Equal(t, "a@example.com", doc["from"])
	assert.Equal(t, "Sunburn", doc["event_title"])
	assert.NotContains(t, doc, "amount")
	assert.NotContains(t, doc, "order_id")
}

func TestBuildLedgerQuery(t *testing.T) {
	q := BuildLedgerQuery(LedgerQuery{Text: "vip", Type: "purchase", EventID: "ev-1"})
	assert.Equal(t, defaultSearchSize, q["size"])

	boolQuery := q["query"].(map[string]interface{})["bool"].(map[string]interface{})
	require.Len(t, boolQuery["must"], 1)
	require.Len(t, boolQuery["filter"], 2)

	q = BuildLedgerQuery(LedgerQuery{Size: 5})
	boolQuery = q["query"].(map[string]interface{})["bool"].(map[string]interface{})
	assert.Equal(t, 5, q["size"])
	assert.NotContains(t, boolQuery, "filter")
	assert.Contains(t, boolQuery["must"].([]interface{})[0], "match_all")
}

func TestDecodeHits(t *testing.T) {
	body := `{"hits":{"hits":[{"_source":{"id":"tx-1"}},{"_id":"x"},{"_source":{"id":"tx-2"}}]}}`
	docs, err := decodeHits(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "tx-2", docs[1]["id"])
}

func TestNewElasticClientRequiresURL(t *testing.T) {
	_, err := NewElasticClient(config.ElasticConfig{})
	require.Error(t, err)
}
