package services

import (
	"context"
	"testing"
	"time"

	"example.com/blocktix/internal/clock"
	"example.com/blocktix/internal/messaging"
	"example.com/blocktix/internal/metrics"
	"example.com/blocktix/internal/models"
	"example.com/blocktix/internal/notify"
	"example.com/blocktix/internal/repositories"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Configured() bool {
	return m.Called().Bool(0)
}

func (m *MockNotifier) SendTicketReceipt(ctx context.Context, to string, receipt notify.TicketReceipt) error {
	return m.Called(ctx, to, receipt).Error(0)
}

func (m *MockNotifier) SendOTP(ctx context.Context, to, code string, validFor time.Duration) error {
	return m.Called(ctx, to, code, validFor).Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockPublisher) Close() error {
	return nil
}

type ledgerFixture struct {
	store   *repositories.MemoryStore
	clock   *clock.Manual
	access  *AccessFilter
	rules   *RuleEvaluator
	metrics *metrics.Metrics
	service *LedgerService
}

func newLedgerFixture(t *testing.T, notifier notify.Notifier, publisher messaging.LedgerPublisher) *ledgerFixture {
	t.Helper()

	clk := clock.NewManual(testNow)
	store := repositories.NewMemoryStore(clk)
	access := NewAccessFilter(store, clk)
	rules := NewRuleEvaluator(store, clk)
	m := metrics.NewMetrics()

	return &ledgerFixture{
		store:   store,
		clock:   clk,
		access:  access,
		rules:   rules,
		metrics: m,
		service: NewLedgerService(store, store, access, rules, notifier, publisher, m, clk),
	}
}

func (f *ledgerFixture) saveEvent(t *testing.T, ev *models.Event) *models.Event {
	t.Helper()
	if ev.Status == "" {
		ev.Status = models.EventStatusLive
	}
	ev.Aggregate()
	require.NoError(t, f.store.SaveEvent(context.Background(), ev))
	return ev
}

func (f *ledgerFixture) saveRule(t *testing.T, rule models.ResaleRule) {
	t.Helper()
	require.NoError(t, f.store.SaveRule(context.Background(), &rule))
}

func concertEvent() *models.Event {
	return &models.Event{
		ID:       "ev-1",
		Title:    "Sunburn",
		Date:     testNow.Add(30 * 24 * time.Hour),
		Location: "Goa",
		Categories: []models.TicketCategory{
			{Name: "VIP", Price: 12000, Total: 5000, Available: 5000},
			{Name: "Stand", Price: 1500, Total: 100, Available: 2},
		},
	}
}

func flatEvent() *models.Event {
	return &models.Event{
		ID:               "ev-flat",
		Title:            "Meetup",
		Date:             testNow.Add(24 * time.Hour),
		Price:            250,
		TotalTickets:     10,
		AvailableTickets: 3,
	}
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func requireDomainError(t *testing.T, err error, kind ErrorKind, message string) {
	t.Helper()
	require.Error(t, err)
	domainErr, ok := AsError(err)
	require.True(t, ok, "expected a domain error, got %v", err)
	require.Equal(t, kind, domainErr.Kind)
	require.Equal(t, message, domainErr.Message)
}
