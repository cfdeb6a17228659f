package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"example.com/blocktix/config"
	"example.com/blocktix/internal/models"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultSearchSize = 50

// LedgerQuery filters a full text search over indexed ledger entries
type LedgerQuery struct {
	Text    string
	Type    string
	EventID string
	Size    int
}

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("Elasticsearch URL is empty")
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{client: client, config: cfg}, nil
}

// LedgerDocument is the indexed form of a ledger entry
func LedgerDocument(entry *models.LedgerEntry, eventTitle string) map[string]interface{} {
	doc := map[string]interface{}{
		"id":          entry.ID,
		"type":        entry.Type,
		"event_id":    entry.EventID,
		"event_title": eventTitle,
		"to":          entry.To,
		"quantity":    entry.Quantity,
		"timestamp":   entry.Timestamp,
	}
	if entry.From != nil {
		doc["from"] = *entry.From
	}
	if entry.Amount != nil {
		doc["amount"] = *entry.Amount
	}
	if entry.CategoryName != nil {
		doc["category_name"] = *entry.CategoryName
	}
	if entry.OrderID != nil {
		doc["order_id"] = *entry.OrderID
	}
	return doc
}

// IndexLedgerEntry indexes a ledger entry under its id, so re-indexing is idempotent
func (c *ElasticClient) IndexLedgerEntry(ctx context.Context, entry *models.LedgerEntry, eventTitle string) error {
	docJSON, err := json.Marshal(LedgerDocument(entry, eventTitle))
	if err != nil {
		return errors.Wrap(err, "failed to marshal ledger document")
	}

	req := esapi.IndexRequest{
		Index:      config.FormatIndex(c.config, c.config.Index),
		DocumentID: entry.ID,
		Body:       bytes.NewReader(docJSON),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("index", res.Body)
	}

	log.Debug().Str("entry_id", entry.ID).Msg("ledger entry indexed")
	return nil
}

// BuildLedgerQuery translates a LedgerQuery into an Elasticsearch query body
func BuildLedgerQuery(q LedgerQuery) map[string]interface{} {
	var must []interface{}
	if q.Text != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q.Text,
				"fields": []string{"event_title^2", "to", "from", "category_name", "order_id"},
			},
		})
	}

	var filter []interface{}
	if q.Type != "" {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{"type": q.Type}})
	}
	if q.EventID != "" {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{"event_id": q.EventID}})
	}

	boolQuery := map[string]interface{}{}
	if len(must) > 0 {
		boolQuery["must"] = must
	} else {
		boolQuery["must"] = []interface{}{map[string]interface{}{"match_all": map[string]interface{}{}}}
	}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}

	size := q.Size
	if size <= 0 {
		size = defaultSearchSize
	}

	return map[string]interface{}{
		"size":  size,
		"query": map[string]interface{}{"bool": boolQuery},
		"sort":  []interface{}{map[string]interface{}{"timestamp": map[string]interface{}{"order": "desc"}}},
	}
}

// SearchLedger runs q and returns the matching documents
func (c *ElasticClient) SearchLedger(ctx context.Context, q LedgerQuery) ([]map[string]interface{}, error) {
	queryJSON, err := json.Marshal(BuildLedgerQuery(q))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	req := esapi.SearchRequest{
		Index: []string{config.FormatIndex(c.config, c.config.Index)},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError("search", res.Body)
	}

	return decodeHits(res.Body)
}

// Ping checks that the cluster is reachable
func (c *ElasticClient) Ping(ctx context.Context) error {
	res, err := c.client.Ping(c.client.Ping.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "failed to ping Elasticsearch")
	}
	defer res.Body.Close()
	if res.IsError() {
		return errors.Errorf("Elasticsearch ping returned %s", res.Status())
	}
	return nil
}

func decodeHits(body io.Reader) ([]map[string]interface{}, error) {
	var result struct {
		Hits struct {
			Hits []struct {
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	docs := make([]map[string]interface{}, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		if hit.Source != nil {
			docs = append(docs, hit.Source)
		}
	}
	return docs, nil
}

func responseError(op string, body io.Reader) error {
	var e map[string]interface{}
	if err := json.NewDecoder(body).Decode(&e); err != nil {
		return errors.Wrap(err, "failed to parse Elasticsearch error response")
	}
	return errors.Errorf("Elasticsearch %s error: %v", op, e)
}
