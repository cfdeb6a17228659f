package services

import (
	"context"

	"example.com/blocktix/internal/metrics"
	"example.com/blocktix/internal/models"
	"example.com/blocktix/internal/repositories"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// LedgerIndex stores ledger entries for search
type LedgerIndex interface {
	IndexLedgerEntry(ctx context.Context, entry *models.LedgerEntry, eventTitle string) error
}

// LedgerIndexer enriches ledger entries with their event title and writes
// them to the search index. It consumes the ledger queue and backs the
// periodic re-index job.
type LedgerIndexer struct {
	events  repositories.EventRepository
	ledger  repositories.LedgerRepository
	index   LedgerIndex
	metrics *metrics.Metrics
}

// NewLedgerIndexer creates a new indexer
func NewLedgerIndexer(events repositories.EventRepository, ledger repositories.LedgerRepository, index LedgerIndex, m *metrics.Metrics) *LedgerIndexer {
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &LedgerIndexer{events: events, ledger: ledger, index: index, metrics: m}
}

// IndexLedgerEntry indexes one entry. A deleted event leaves the title empty.
func (i *LedgerIndexer) IndexLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	title, err := i.eventTitle(ctx, entry.EventID)
	if err != nil {
		return err
	}
	if err := i.index.IndexLedgerEntry(ctx, entry, title); err != nil {
		return err
	}
	i.metrics.IncrementCounter(metrics.LedgerEntriesIndexed)
	return nil
}

// Reindex re-indexes the newest limit entries, returning how many were written
func (i *LedgerIndexer) Reindex(ctx context.Context, limit int) (int, error) {
	entries, err := i.ledger.ListLedger(ctx, limit)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list ledger for reindex")
	}

	titles := make(map[string]string)
	indexed := 0
	for n := range entries {
		entry := &entries[n]
		title, ok := titles[entry.EventID]
		if !ok {
			if title, err = i.eventTitle(ctx, entry.EventID); err != nil {
				return indexed, err
			}
			titles[entry.EventID] = title
		}
		if err := i.index.IndexLedgerEntry(ctx, entry, title); err != nil {
			log.Error().Err(err).Str("entry_id", entry.ID).Msg("Failed to reindex ledger entry")
			continue
		}
		indexed++
	}

	i.metrics.IncrementCounterBy(metrics.LedgerEntriesIndexed, int64(indexed))
	return indexed, nil
}

func (i *LedgerIndexer) eventTitle(ctx context.Context, eventID string) (string, error) {
	ev, err := i.events.GetEvent(ctx, eventID)
	if errors.Is(err, repositories.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to load event %s", eventID)
	}
	return ev.Title, nil
}
