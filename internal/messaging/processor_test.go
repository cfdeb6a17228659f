package messaging

import (
	"context"
	"testing"
	"time"

	"example.com/blocktix/internal/models"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) IndexLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func TestProcessorIndexesLedgerEntries(t *testing.T) {
	amount := 3000.0
	orderID := "ORD-1700000000000-abc123"
	entry := &models.LedgerEntry{
		ID:        "tx-1",
		Type:      models.LedgerPurchase,
		EventID:   "ev-1",
		To:        "fan@example.com",
		Amount:    &amount,
		Quantity:  2,
		OrderID:   &orderID,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	body, err := EncodeLedgerEntry(entry)
	require.NoError(t, err)

	sink := new(mockSink)
	sink.On("IndexLedgerEntry", mock.Anything, mock.MatchedBy(func(got *models.LedgerEntry) bool {
		return got.ID == "tx-1" && got.Quantity == 2 && *got.OrderID == orderID && got.From == nil
	})).Return(nil).Once()

	err = NewProcessor(sink).ProcessMessage(context.Background(), &azservicebus.ReceivedMessage{Body: body})
	require.NoError(t, err)
	sink.AssertExpectations(t)
}

func TestProcessorIgnoresUnknownEvents(t *testing.T) {
	sink := new(mockSink)
	err := NewProcessor(sink).Handle(context.Background(), []byte(`{"eventType":"Other","data":{}}`))
	require.NoError(t, err)
	sink.AssertNotCalled(t, "IndexLedgerEntry", mock.Anything, mock.Anything)
}

func TestProcessorRejectsMalformedBodies(t *testing.T) {
	sink := new(mockSink)
	require.Error(t, NewProcessor(sink).Handle(context.Background(), []byte(`not json`)))
	require.Error(t, NewProcessor(sink).Handle(context.Background(), []byte(`{"eventType":"LedgerEntryRecorded","data":{}}`)))
}
