package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"example.com/blocktix/internal/metrics"
	"example.com/blocktix/internal/models"
	"example.com/blocktix/internal/notify"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPurchaseDecrementsCategory(t *testing.T) {
	ctx := context.Background()
	publisher := new(MockPublisher)
	publisher.On("PublishLedgerEntry", mock.Anything, mock.AnythingOfType("*models.LedgerEntry")).Return(nil).Once()

	f := newLedgerFixture(t, nil, publisher)
	f.saveEvent(t, concertEvent())

	result, err := f.service.Purchase(ctx, PurchaseRequest{
		EventID:      "ev-1",
		Wallet:       " Fan@Example.com ",
		Quantity:     2,
		CategoryName: "vip",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.OrderID, "ORD-"))
	assert.Equal(t, 24000.0, result.TotalAmount)

	ev, err := f.store.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 4998, ev.FindCategory("VIP").Available)
	assert.Equal(t, 5000, ev.AvailableTickets)

	order, err := f.service.OrderByID(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "fan@example.com", order.To)
	assert.Nil(t, order.From)
	assert.Equal(t, 2, order.Quantity)
	require.NotNil(t, order.CategoryName)
	assert.Equal(t, "VIP", *order.CategoryName)
	assert.Equal(t, 24000.0, *order.Amount)

	assert.Equal(t, int64(2), f.metrics.GetCounters()[metrics.TicketsSold])
	publisher.AssertExpectations(t)
}

func TestPurchaseFlatEventAndPriceOverride(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	f.saveEvent(t, flatEvent())

	result, err := f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-flat", Wallet: "a@example.com", Quantity: 3, Price: floatPtr(199.99)})
	require.NoError(t, err)
	assert.Equal(t, 599.97, result.TotalAmount)
	assert.Nil(t, result.Entry.CategoryName)

	ev, err := f.store.GetEvent(ctx, "ev-flat")
	require.NoError(t, err)
	assert.Equal(t, 0, ev.AvailableTickets)

	_, err = f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-flat", Wallet: "b@example.com", Quantity: 1})
	requireDomainError(t, err, KindValidation, "Not enough tickets available")
}

func TestFlatPurchaseKeepsCategoryLabel(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	f.saveEvent(t, flatEvent())

	result, err := f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-flat", Wallet: "a@example.com", Quantity: 1, CategoryName: " Early Bird "})
	require.NoError(t, err)
	require.NotNil(t, result.Entry.CategoryName)
	assert.Equal(t, "Early Bird", *result.Entry.CategoryName)

	stored, err := f.store.GetLedgerByOrderID(ctx, result.OrderID)
	require.NoError(t, err)
	require.NotNil(t, stored.CategoryName)
	assert.Equal(t, "Early Bird", *stored.CategoryName)

	ev, err := f.store.GetEvent(ctx, "ev-flat")
	require.NoError(t, err)
	assert.Equal(t, 2, ev.AvailableTickets)
}

func TestPurchaseRejections(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	f.saveEvent(t, concertEvent())
	draft := flatEvent()
	draft.ID = "ev-draft"
	draft.Status = models.EventStatusDraft
	f.saveEvent(t, draft)

	tests := []struct {
		name    string
		req     PurchaseRequest
		kind    ErrorKind
		message string
	}{
		{"missing wallet", PurchaseRequest{EventID: "ev-1", Quantity: 1}, KindValidation, "Missing required fields"},
		{"zero quantity", PurchaseRequest{EventID: "ev-1", Wallet: "a", Quantity: 0}, KindValidation, "Missing required fields"},
		{"unknown event", PurchaseRequest{EventID: "nope", Wallet: "a", Quantity: 1}, KindNotFound, "Event not found"},
		{"draft event", PurchaseRequest{EventID: "ev-draft", Wallet: "a", Quantity: 1}, KindValidation, "Event not live"},
		{"no category", PurchaseRequest{EventID: "ev-1", Wallet: "a", Quantity: 1}, KindValidation, "categoryName required"},
		{"unknown category", PurchaseRequest{EventID: "ev-1", Wallet: "a", Quantity: 1, CategoryName: "Balcony"}, KindValidation, "Category not found"},
		{"category sold out", PurchaseRequest{EventID: "ev-1", Wallet: "a", Quantity: 3, CategoryName: "Stand"}, KindValidation, "Not enough category tickets available"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Purchase(ctx, tt.req)
			requireDomainError(t, err, tt.kind, tt.message)
		})
	}

	ev, err := f.store.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 2, ev.FindCategory("Stand").Available)
}

func TestPurchaseCapCountsPriorPurchases(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	f.saveEvent(t, concertEvent())
	rule := models.DefaultResaleRule("ev-1")
	rule.MaxTicketsPerWallet = intPtr(4)
	f.saveRule(t, rule)

	_, err := f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-1", Wallet: "fan@example.com", Quantity: 3, CategoryName: "VIP"})
	require.NoError(t, err)

	_, err = f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-1", Wallet: "FAN@example.com", Quantity: 2, CategoryName: "VIP"})
	requireDomainError(t, err, KindValidation, "Limit exceeded: max 4 per user")

	_, err = f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-1", Wallet: "fan@example.com", Quantity: 1, CategoryName: "VIP"})
	require.NoError(t, err)

	ev, err := f.store.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 4996, ev.FindCategory("VIP").Available)
}

func TestSingleUseRejectsMultiplePasses(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	f.saveEvent(t, concertEvent())
	rule := models.DefaultResaleRule("ev-1")
	rule.SingleUse = true
	f.saveRule(t, rule)

	_, err := f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-1", Wallet: "pilgrim@example.com", Quantity: 2, CategoryName: "VIP"})
	requireDomainError(t, err, KindValidation, "Only one pass allowed per user")

	_, err = f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-1", Wallet: "pilgrim@example.com", Quantity: 1, CategoryName: "VIP"})
	require.NoError(t, err)

	_, err = f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-1", Wallet: "pilgrim@example.com", Quantity: 1, CategoryName: "VIP"})
	requireDomainError(t, err, KindValidation, "Limit exceeded: max 1 per user")
}

func TestConcurrentPurchasesNeverOversell(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	f.saveEvent(t, concertEvent())

	const buyers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.service.Purchase(ctx, PurchaseRequest{
				EventID:      "ev-1",
				Wallet:       "buyer" + string(rune('a'+i)),
				Quantity:     2,
				CategoryName: "Stand",
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.True(t, IsKind(err, KindValidation), "unexpected error %v", err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	ev, err := f.store.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 0, ev.FindCategory("Stand").Available)
}

func TestReceiptFailureDoesNotFailPurchase(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("Configured").Return(true)
	notifier.On("SendTicketReceipt", mock.Anything, "fan@example.com", mock.MatchedBy(func(r notify.TicketReceipt) bool {
		return r.Title == "Sunburn" && r.Quantity == 1 && r.CategoryName == "VIP" && r.TotalAmount == 12000
	})).Return(errors.New("smtp down")).Once()

	f := newLedgerFixture(t, notifier, nil)
	f.saveEvent(t, concertEvent())

	result, err := f.service.Purchase(context.Background(), PurchaseRequest{EventID: "ev-1", Wallet: "fan@example.com", Quantity: 1, CategoryName: "VIP"})
	require.NoError(t, err)
	require.NotEmpty(t, result.OrderID)
	assert.Equal(t, int64(1), f.metrics.GetCounters()[metrics.ReceiptEmailsFailed])
	notifier.AssertExpectations(t)
}

func TestBlacklistWinsOverWhitelist(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	f.saveEvent(t, concertEvent())

	_, err := f.access.AddList(ctx, models.Whitelist, []string{"bad@example.com", "good@example.com"})
	require.NoError(t, err)
	_, err = f.access.AddList(ctx, models.Blacklist, []string{"BAD@example.com"})
	require.NoError(t, err)

	_, err = f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-1", Wallet: "bad@example.com", Quantity: 1, CategoryName: "VIP"})
	requireDomainError(t, err, KindForbidden, "Wallet blacklisted")

	_, err = f.service.Resell(ctx, ResellRequest{EventID: "ev-1", Seller: "bad@example.com", Buyer: "good@example.com", Price: floatPtr(100)})
	requireDomainError(t, err, KindForbidden, "Blacklisted wallet")

	_, err = f.service.Resell(ctx, ResellRequest{EventID: "ev-1", Seller: "good@example.com", Buyer: "bad@example.com", Price: floatPtr(100)})
	requireDomainError(t, err, KindForbidden, "Blacklisted wallet")

	_, err = f.service.Transfer(ctx, TransferRequest{EventID: "ev-1", From: "bad@example.com", To: "good@example.com"})
	requireDomainError(t, err, KindForbidden, "Blacklisted wallet")

	_, err = f.service.Transfer(ctx, TransferRequest{EventID: "ev-1", From: "good@example.com", To: "bad@example.com"})
	requireDomainError(t, err, KindForbidden, "Blacklisted wallet")

	_, err = f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-1", Wallet: "stranger@example.com", Quantity: 1, CategoryName: "VIP"})
	requireDomainError(t, err, KindForbidden, "Wallet not whitelisted")

	_, err = f.service.Transfer(ctx, TransferRequest{EventID: "ev-1", From: "good@example.com", To: "stranger@example.com"})
	requireDomainError(t, err, KindForbidden, "Not whitelisted")

	_, err = f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-1", Wallet: "Good@Example.com", Quantity: 1, CategoryName: "VIP"})
	require.NoError(t, err)
}

func TestResalePriceCeiling(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	f.saveEvent(t, concertEvent())
	rule := models.DefaultResaleRule("ev-1")
	rule.MaxResalePriceMultiplier = 1.2
	f.saveRule(t, rule)

	entry, err := f.service.Resell(ctx, ResellRequest{EventID: "ev-1", Seller: "a", Buyer: "b", Price: floatPtr(1800), CategoryName: "stand"})
	require.NoError(t, err)
	assert.Equal(t, models.LedgerResell, entry.Type)
	assert.Equal(t, "a", *entry.From)
	assert.Equal(t, "Stand", *entry.CategoryName)
	assert.Nil(t, entry.OrderID)

	_, err = f.service.Resell(ctx, ResellRequest{EventID: "ev-1", Seller: "a", Buyer: "b", Price: floatPtr(1800.01), CategoryName: "Stand"})
	requireDomainError(t, err, KindValidation, "Price exceeds allowed maximum")

	_, err = f.service.Resell(ctx, ResellRequest{EventID: "ev-1", Seller: "a", Buyer: "b", Price: floatPtr(10), CategoryName: "Balcony"})
	requireDomainError(t, err, KindValidation, "Category not found")

	_, err = f.service.Resell(ctx, ResellRequest{EventID: "ev-1", Seller: "a", Buyer: "b"})
	requireDomainError(t, err, KindValidation, "Missing fields")

	_, err = f.service.Resell(ctx, ResellRequest{EventID: "missing", Seller: "a", Buyer: "b", Price: floatPtr(1)})
	requireDomainError(t, err, KindNotFound, "Event not found")

	ev, err := f.store.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 2, ev.FindCategory("Stand").Available)
}

func TestResaleAndTransferDisabled(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	f.saveEvent(t, concertEvent())
	rule := models.DefaultResaleRule("ev-1")
	rule.AllowResale = false
	rule.AllowTransfer = false
	f.saveRule(t, rule)

	_, err := f.service.Resell(ctx, ResellRequest{EventID: "ev-1", Seller: "a", Buyer: "b", Price: floatPtr(1)})
	requireDomainError(t, err, KindValidation, "Resale disabled")

	_, err = f.service.Transfer(ctx, TransferRequest{EventID: "ev-1", From: "a", To: "b"})
	requireDomainError(t, err, KindValidation, "Transfer disabled")

	_, err = f.service.Transfer(ctx, TransferRequest{EventID: "ev-1", From: "a"})
	requireDomainError(t, err, KindValidation, "Missing fields")
}

func TestTransferRecordsEntryWithoutAmount(t *testing.T) {
	f := newLedgerFixture(t, nil, nil)

	entry, err := f.service.Transfer(context.Background(), TransferRequest{EventID: "ev-1", From: "A@x.io", To: "b@x.io"})
	require.NoError(t, err)
	assert.Equal(t, models.LedgerTransfer, entry.Type)
	assert.Equal(t, "a@x.io", *entry.From)
	assert.Nil(t, entry.Amount)
	assert.Equal(t, testNow, entry.Timestamp)
}

func TestOrdersLookup(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	f.saveEvent(t, concertEvent())

	_, err := f.service.OrdersByParticipant(ctx, "  ")
	requireDomainError(t, err, KindValidation, "email query param required")

	_, err = f.service.OrderByID(ctx, "ORD-0-missing")
	requireDomainError(t, err, KindNotFound, "Order not found")

	first, err := f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-1", Wallet: "fan@example.com", Quantity: 1, CategoryName: "VIP"})
	require.NoError(t, err)
	f.clock.Advance(1)
	second, err := f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-1", Wallet: "fan@example.com", Quantity: 1, CategoryName: "Stand"})
	require.NoError(t, err)

	orders, err := f.service.OrdersByParticipant(ctx, "FAN@example.com")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.OrderID, *orders[0].OrderID)
	assert.Equal(t, first.OrderID, *orders[1].OrderID)
}
