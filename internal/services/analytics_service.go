package services

import (
	"context"

	"example.com/blocktix/internal/models"
	"example.com/blocktix/internal/repositories"
	"example.com/blocktix/internal/search"

	"github.com/pkg/errors"
)

const recentTransactionsLimit = 50

// Summary aggregates ticket counts over every event
type Summary struct {
	TotalTickets     int `json:"totalTickets"`
	SoldTickets      int `json:"soldTickets"`
	RemainingTickets int `json:"remainingTickets"`
	Events           int `json:"events"`
}

// LedgerSearcher runs full text queries over indexed ledger entries
type LedgerSearcher interface {
	SearchLedger(ctx context.Context, q search.LedgerQuery) ([]map[string]interface{}, error)
}

// AnalyticsService answers the admin reporting endpoints
type AnalyticsService struct {
	events   repositories.EventRepository
	ledger   repositories.LedgerRepository
	searcher LedgerSearcher
}

// NewAnalyticsService creates a new analytics service. searcher may be nil.
func NewAnalyticsService(events repositories.EventRepository, ledger repositories.LedgerRepository, searcher LedgerSearcher) *AnalyticsService {
	return &AnalyticsService{events: events, ledger: ledger, searcher: searcher}
}

// Summary totals tickets across events of every status
func (s *AnalyticsService) Summary(ctx context.Context) (*Summary, error) {
	events, err := s.events.ListEvents(ctx, "")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list events")
	}

	out := &Summary{Events: len(events)}
	for _, ev := range events {
		out.TotalTickets += ev.TotalTickets
		out.RemainingTickets += ev.AvailableTickets
	}
	if sold := out.TotalTickets - out.RemainingTickets; sold > 0 {
		out.SoldTickets = sold
	}
	return out, nil
}

// Transactions returns the most recent ledger entries
func (s *AnalyticsService) Transactions(ctx context.Context) ([]models.LedgerEntry, error) {
	entries, err := s.ledger.ListLedger(ctx, recentTransactionsLimit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list transactions")
	}
	return entries, nil
}

// Categories returns purchase and resale activity per (event, category)
func (s *AnalyticsService) Categories(ctx context.Context) ([]models.CategoryStats, error) {
	rows, err := s.ledger.CategoryBreakdown(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build category breakdown")
	}
	return rows, nil
}

// Search queries the ledger index
func (s *AnalyticsService) Search(ctx context.Context, q search.LedgerQuery) ([]map[string]interface{}, error) {
	if s.searcher == nil {
		return nil, Unavailable("Search not configured")
	}
	docs, err := s.searcher.SearchLedger(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search transactions")
	}
	return docs, nil
}
