package messaging

import (
	"encoding/json"

	"example.com/blocktix/internal/models"

	"github.com/pkg/errors"
)

// Event types carried on the ledger queue
const (
	LedgerEntryRecorded = "LedgerEntryRecorded"
)

// Envelope is the common message structure on the queue
type Envelope struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

// EncodeLedgerEntry wraps a ledger entry in an envelope
func EncodeLedgerEntry(entry *models.LedgerEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal ledger entry")
	}
	return json.Marshal(Envelope{EventType: LedgerEntryRecorded, Data: data})
}

// DecodeEnvelope parses a raw message body
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "error unmarshalling message")
	}
	return env, nil
}
