package messaging

import (
	"context"
	"time"

	"example.com/blocktix/config"
	"example.com/blocktix/internal/models"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	sourceName   = "blocktix-api"
	receiveBatch = 10
	idleBackoff  = 2 * time.Second
)

// LedgerPublisher fans recorded ledger entries out to downstream consumers
type LedgerPublisher interface {
	PublishLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error
	Close() error
}

// NoopPublisher drops every entry; used when no queue is configured
type NoopPublisher struct{}

// PublishLedgerEntry does nothing
func (NoopPublisher) PublishLedgerEntry(context.Context, *models.LedgerEntry) error { return nil }

// Close does nothing
func (NoopPublisher) Close() error { return nil }

// ServiceBusPublisher sends ledger entries to an Azure Service Bus queue
type ServiceBusPublisher struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
}

// NewLedgerPublisher connects to the configured queue
func NewLedgerPublisher(cfg config.AzureConfig) (*ServiceBusPublisher, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, errors.Wrap(err, "failed to create Service Bus sender")
	}

	return &ServiceBusPublisher{client: client, sender: sender, queueName: cfg.QueueName}, nil
}

// PublishLedgerEntry sends one entry
func (p *ServiceBusPublisher) PublishLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	body, err := EncodeLedgerEntry(entry)
	if err != nil {
		return err
	}

	msg := &azservicebus.Message{
		Body: body,
		ApplicationProperties: map[string]interface{}{
			"source":    sourceName,
			"eventType": LedgerEntryRecorded,
			"type":      string(entry.Type),
			"time":      time.Now().UTC().Format(time.RFC3339),
		},
	}
	if entry.OrderID != nil {
		msg.MessageID = entry.OrderID
	}

	if err := p.sender.SendMessage(ctx, msg, nil); err != nil {
		return errors.Wrapf(err, "failed to send ledger entry to %s", p.queueName)
	}
	return nil
}

// Close closes the sender and the client
func (p *ServiceBusPublisher) Close() error {
	if p.sender != nil {
		if err := p.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if p.client != nil {
		return p.client.Close(context.Background())
	}
	return nil
}

// MessageProcessor handles one received message
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

// ServiceBusConsumer drains a queue into a MessageProcessor
type ServiceBusConsumer struct {
	client    *azservicebus.Client
	queueName string
}

// NewConsumer creates a consumer for the configured queue
func NewConsumer(cfg config.AzureConfig) (*ServiceBusConsumer, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}
	return &ServiceBusConsumer{client: client, queueName: cfg.QueueName}, nil
}

// Run receives batches until ctx is cancelled. Failed messages are abandoned
// so the broker redelivers them.
func (c *ServiceBusConsumer) Run(ctx context.Context, processor MessageProcessor) error {
	receiver, err := c.client.NewReceiverForQueue(c.queueName, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create Service Bus receiver")
	}
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error closing receiver")
		}
	}()

	log.Info().Str("queue", c.queueName).Msg("Starting ledger consumer")

	for {
		messages, err := receiver.ReceiveMessages(ctx, receiveBatch, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Str("queue", c.queueName).Msg("Error receiving messages")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idleBackoff):
			}
			continue
		}

		for _, message := range messages {
			if err := processor.ProcessMessage(ctx, message); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("Error processing message")
				if err := receiver.AbandonMessage(context.Background(), message, nil); err != nil {
					log.Error().Err(err).Msg("Failed to abandon message")
				}
				continue
			}
			if err := receiver.CompleteMessage(context.Background(), message, nil); err != nil {
				log.Error().Err(err).Msg("Failed to complete message")
			}
		}
	}
}

// Close closes the underlying client
func (c *ServiceBusConsumer) Close() error {
	return c.client.Close(context.Background())
}
