package services

import (
	"context"
	"testing"

	"example.com/blocktix/internal/models"
	"example.com/blocktix/internal/search"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLedgerIndex struct {
	mock.Mock
}

func (m *MockLedgerIndex) IndexLedgerEntry(ctx context.Context, entry *models.LedgerEntry, eventTitle string) error {
	return m.Called(ctx, entry, eventTitle).Error(0)
}

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) SearchLedger(ctx context.Context, q search.LedgerQuery) ([]map[string]interface{}, error) {
	args := m.Called(ctx, q)
	docs, _ := args.Get(0).([]map[string]interface{})
	return docs, args.Error(1)
}

func TestAnalyticsSummaryAndCategories(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	f.saveEvent(t, concertEvent())
	f.saveEvent(t, flatEvent())

	_, err := f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-1", Wallet: "a", Quantity: 2, CategoryName: "VIP"})
	require.NoError(t, err)
	_, err = f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-flat", Wallet: "b", Quantity: 1})
	require.NoError(t, err)
	_, err = f.service.Resell(ctx, ResellRequest{EventID: "ev-1", Seller: "a", Buyer: "c", Price: floatPtr(11000), CategoryName: "VIP"})
	require.NoError(t, err)

	svc := NewAnalyticsService(f.store, f.store, nil)

	summary, err := svc.Summary(ctx)
	require.NoError(t, err)
	// 5100 categorized seats with 100 sold, plus 10 flat seats with 8 sold
	assert.Equal(t, Summary{TotalTickets: 5110, SoldTickets: 108, RemainingTickets: 5002, Events: 2}, *summary)

	rows, err := svc.Categories(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ev-1", rows[0].EventID)
	assert.Equal(t, "VIP", *rows[0].CategoryName)
	assert.Equal(t, 2, rows[0].Purchases)
	assert.Equal(t, 1, rows[0].Resales)
	assert.Equal(t, 35000.0, rows[0].TotalAmount)
	assert.Equal(t, "ev-flat", rows[1].EventID)
	assert.Nil(t, rows[1].CategoryName)
	assert.Equal(t, 1, rows[1].Purchases)

	txns, err := svc.Transactions(ctx)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, models.LedgerResell, txns[0].Type)
}

func TestAnalyticsSearch(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)

	_, err := NewAnalyticsService(f.store, f.store, nil).Search(ctx, search.LedgerQuery{Text: "vip"})
	requireDomainError(t, err, KindUnavailable, "Search not configured")

	searcher := new(MockSearcher)
	docs := []map[string]interface{}{{"id": "e1"}}
	searcher.On("SearchLedger", mock.Anything, search.LedgerQuery{Text: "vip"}).Return(docs, nil).Once()
	searcher.On("SearchLedger", mock.Anything, search.LedgerQuery{Text: "boom"}).Return(nil, errors.New("cluster down")).Once()

	svc := NewAnalyticsService(f.store, f.store, searcher)
	got, err := svc.Search(ctx, search.LedgerQuery{Text: "vip"})
	require.NoError(t, err)
	assert.Equal(t, docs, got)

	_, err = svc.Search(ctx, search.LedgerQuery{Text: "boom"})
	require.Error(t, err)
	_, isDomain := AsError(err)
	assert.False(t, isDomain)
	searcher.AssertExpectations(t)
}

func TestLedgerIndexer(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	f.saveEvent(t, concertEvent())

	purchase, err := f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-1", Wallet: "a", Quantity: 1, CategoryName: "VIP"})
	require.NoError(t, err)
	orphan, err := f.service.Transfer(ctx, TransferRequest{EventID: "gone", From: "a", To: "b"})
	require.NoError(t, err)

	index := new(MockLedgerIndex)
	index.On("IndexLedgerEntry", mock.Anything, mock.MatchedBy(func(e *models.LedgerEntry) bool { return e.ID == purchase.Entry.ID }), "Sunburn").Return(nil)
	index.On("IndexLedgerEntry", mock.Anything, mock.MatchedBy(func(e *models.LedgerEntry) bool { return e.ID == orphan.ID }), "").Return(errors.New("rejected")).Once()

	indexer := NewLedgerIndexer(f.store, f.store, index, f.metrics)
	require.NoError(t, indexer.IndexLedgerEntry(ctx, purchase.Entry))

	n, err := indexer.Reindex(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	index.AssertExpectations(t)
}
