package repositories

import (
	"context"
	"errors"
	"time"

	"example.com/blocktix/internal/models"
)

// Common repository errors
var (
	ErrNotFound              = errors.New("record not found")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrDuplicateKey          = errors.New("duplicate key violation")
)

// PurchaseCommit describes one purchase to apply atomically: the conditional
// decrement of the category (when CategoryName is set) and the event
// aggregate, followed by the ledger append.
type PurchaseCommit struct {
	EventID      string
	CategoryName string
	Quantity     int
	Entry        *models.LedgerEntry
}

// EventRepository stores events and their categories
type EventRepository interface {
	ListEvents(ctx context.Context, status string) ([]models.Event, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	FindEventByTitleAndDate(ctx context.Context, title string, date time.Time) (*models.Event, error)
	SaveEvent(ctx context.Context, event *models.Event) error
	// PublishEvent marks the event live without touching its inventory
	PublishEvent(ctx context.Context, id string, at time.Time) (*models.Event, error)
	// MergeEvent inserts the event, or replaces a stored one while keeping the
	// seats it has already sold. It reports whether a stored event was updated.
	MergeEvent(ctx context.Context, event *models.Event) (bool, error)
	DeleteEvent(ctx context.Context, id string) error
}

// RuleRepository stores per-event rule sets
type RuleRepository interface {
	// GetRule returns ErrNotFound when the event has no rule set
	GetRule(ctx context.Context, eventID string) (*models.ResaleRule, error)
	SaveRule(ctx context.Context, rule *models.ResaleRule) error
}

// AccessListRepository stores whitelists and blacklists with an index by participant
type AccessListRepository interface {
	AddAccessList(ctx context.Context, list *models.AccessList) error
	IsListed(ctx context.Context, kind models.AccessListKind, participant string) (bool, error)
	HasAccessList(ctx context.Context, kind models.AccessListKind) (bool, error)
}

// LedgerRepository stores the append-only ledger
type LedgerRepository interface {
	CommitPurchase(ctx context.Context, commit PurchaseCommit) error
	AppendLedger(ctx context.Context, entry *models.LedgerEntry) error
	SumPurchasedQuantity(ctx context.Context, eventID string, participant string) (int, error)
	ListPurchasesByParticipant(ctx context.Context, participant string) ([]models.LedgerEntry, error)
	GetLedgerByOrderID(ctx context.Context, orderID string) (*models.LedgerEntry, error)
	// ListLedger returns the newest entries first; limit <= 0 means no limit
	ListLedger(ctx context.Context, limit int) ([]models.LedgerEntry, error)
	CategoryBreakdown(ctx context.Context) ([]models.CategoryStats, error)
}

// AccountRepository stores users and contact form submissions
type AccountRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	CreateContactSubmission(ctx context.Context, submission *models.ContactSubmission) error
}

// Store is the full storage surface. Implementations: GormStore (postgres),
// MongoStore and MemoryStore.
type Store interface {
	EventRepository
	RuleRepository
	AccessListRepository
	LedgerRepository
	AccountRepository
	Ping(ctx context.Context) error
	Close() error
}

// CarrySoldSeats applies the sold counts of stored to fresh, which replaces it.
// Availability never drops below zero.
func CarrySoldSeats(fresh, stored *models.Event) {
	fresh.CreatedAt = stored.CreatedAt
	if !fresh.HasCategories() {
		sold := stored.TotalTickets - stored.AvailableTickets
		fresh.AvailableTickets = clampAvailable(fresh.TotalTickets - sold)
		return
	}

	for i := range fresh.Categories {
		c := &fresh.Categories[i]
		old := stored.FindCategory(c.Name)
		if old == nil {
			continue
		}
		c.Available = clampAvailable(c.Total - (old.Total - old.Available))
	}
	fresh.Aggregate()
}

func clampAvailable(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func categoryKeyOf(stats models.CategoryStats) string {
	name := "none"
	if stats.CategoryName != nil {
		name = *stats.CategoryName
	}
	return stats.EventID + "::" + name
}

func addToBreakdown(acc map[string]*models.CategoryStats, order *[]string, entry *models.LedgerEntry) {
	eventID := entry.EventID
	if eventID == "" {
		eventID = "unknown"
	}
	row := models.CategoryStats{EventID: eventID}
	if entry.CategoryName != nil && *entry.CategoryName != "" {
		name := *entry.CategoryName
		row.CategoryName = &name
	}

	key := categoryKeyOf(row)
	stats, ok := acc[key]
	if !ok {
		stats = &row
		acc[key] = stats
		*order = append(*order, key)
	}

	switch entry.Type {
	case models.LedgerPurchase:
		q := entry.Quantity
		if q == 0 {
			q = 1
		}
		stats.Purchases += q
	case models.LedgerResell:
		stats.Resales++
	}
	if entry.Amount != nil {
		stats.TotalAmount += *entry.Amount
	}
}

// BuildCategoryBreakdown folds ledger entries into per-(event, category) statistics,
// keeping the order in which each key first appears.
func BuildCategoryBreakdown(entries []models.LedgerEntry) []models.CategoryStats {
	acc := make(map[string]*models.CategoryStats)
	var order []string
	for i := range entries {
		addToBreakdown(acc, &order, &entries[i])
	}

	out := make([]models.CategoryStats, 0, len(order))
	for _, key := range order {
		out = append(out, *acc[key])
	}
	return out
}
