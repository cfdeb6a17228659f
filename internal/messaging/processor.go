package messaging

import (
	"context"
	"encoding/json"

	"example.com/blocktix/internal/models"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// LedgerSink receives ledger entries decoded from the queue
type LedgerSink interface {
	IndexLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error
}

// Processor routes queue messages by event type
type Processor struct {
	sink LedgerSink
}

// NewProcessor creates a processor that forwards ledger entries to sink
func NewProcessor(sink LedgerSink) *Processor {
	return &Processor{sink: sink}
}

// ProcessMessage implements MessageProcessor
func (p *Processor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	return p.Handle(ctx, message.Body)
}

// Handle decodes and dispatches a raw message body. Unknown event types are
// logged and acknowledged.
func (p *Processor) Handle(ctx context.Context, body []byte) error {
	env, err := DecodeEnvelope(body)
	if err != nil {
		return err
	}

	switch env.EventType {
	case LedgerEntryRecorded:
		var entry models.LedgerEntry
		if err := json.Unmarshal(env.Data, &entry); err != nil {
			return errors.Wrap(err, "invalid ledger entry payload")
		}
		if entry.ID == "" {
			return errors.New("ledger entry without id")
		}
		log.Debug().Str("entry_id", entry.ID).Str("type", string(entry.Type)).Msg("Indexing ledger entry")
		return p.sink.IndexLedgerEntry(ctx, &entry)
	default:
		log.Warn().Str("eventType", env.EventType).Msg("Ignoring unknown message type")
		return nil
	}
}
