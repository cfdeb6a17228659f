package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/blocktix/internal/clock"
	"example.com/blocktix/internal/models"
)

// MemoryStore is an in-process Store used for development and tests.
// A single mutex serializes writes, so CommitPurchase is atomic.
type MemoryStore struct {
	mu       sync.RWMutex
	clock    clock.Clock
	events   map[string]*models.Event
	rules    map[string]models.ResaleRule
	lists    map[string]models.AccessList
	members  map[models.AccessListKind]map[string]int
	ledger   []models.LedgerEntry
	byOrder  map[string]int
	users    map[string]models.User
	contacts []models.ContactSubmission
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &MemoryStore{
		clock:   clk,
		events:  make(map[string]*models.Event),
		rules:   make(map[string]models.ResaleRule),
		lists:   make(map[string]models.AccessList),
		members: make(map[models.AccessListKind]map[string]int),
		byOrder: make(map[string]int),
		users:   make(map[string]models.User),
	}
}

// ListEvents returns events with the given status, or all events when status is empty
func (s *MemoryStore) ListEvents(ctx context.Context, status string) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Event, 0, len(s.events))
	for _, ev := range s.events {
		if status != "" && ev.Status != status {
			continue
		}
		out = append(out, *ev.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

// GetEvent retrieves an event by ID
func (s *MemoryStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ev.Clone(), nil
}

// FindEventByTitleAndDate retrieves an event by its natural key
func (s *MemoryStore) FindEventByTitleAndDate(ctx context.Context, title string, date time.Time) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ev := range s.events {
		if ev.Title == title && ev.Date.Equal(date) {
			return ev.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// SaveEvent inserts or replaces an event together with its categories
func (s *MemoryStore) SaveEvent(ctx context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.ID] = event.Clone()
	return nil
}

// PublishEvent sets the status and publish time under the store lock
func (s *MemoryStore) PublishEvent(ctx context.Context, id string, at time.Time) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	ev.Status = models.EventStatusLive
	published := at
	ev.PublishedAt = &published
	ev.UpdatedAt = at
	return ev.Clone(), nil
}

// MergeEvent stores the event, carrying over seats sold by a stored one
func (s *MemoryStore) MergeEvent(ctx context.Context, event *models.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.events[event.ID]
	if exists {
		CarrySoldSeats(event, stored)
	}
	s.events[event.ID] = event.Clone()
	return exists, nil
}

// DeleteEvent removes an event. Deleting a missing event is not an error.
func (s *MemoryStore) DeleteEvent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, id)
	return nil
}

// GetRule retrieves the rule set for an event
func (s *MemoryStore) GetRule(ctx context.Context, eventID string) (*models.ResaleRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rule, nil
}

// SaveRule inserts or replaces a rule set
func (s *MemoryStore) SaveRule(ctx context.Context, rule *models.ResaleRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules[rule.EventID] = *rule
	return nil
}

// AddAccessList stores an access list and indexes its members
func (s *MemoryStore) AddAccessList(ctx context.Context, list *models.AccessList) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.lists[list.ID]; exists {
		return ErrDuplicateKey
	}

	stored := *list
	stored.Wallets = append([]string(nil), list.Wallets...)
	s.lists[list.ID] = stored

	idx, ok := s.members[list.Kind]
	if !ok {
		idx = make(map[string]int)
		s.members[list.Kind] = idx
	}
	for _, w := range list.Wallets {
		idx[w]++
	}
	return nil
}

// IsListed reports whether the participant appears on any list of the kind
func (s *MemoryStore) IsListed(ctx context.Context, kind models.AccessListKind, participant string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.members[kind][participant] > 0, nil
}

// HasAccessList reports whether at least one list of the kind exists
func (s *MemoryStore) HasAccessList(ctx context.Context, kind models.AccessListKind) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, l := range s.lists {
		if l.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

// CommitPurchase decrements availability and appends the ledger entry under one lock
func (s *MemoryStore) CommitPurchase(ctx context.Context, commit PurchaseCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[commit.EventID]
	if !ok {
		return ErrNotFound
	}
	if err := s.checkOrderID(commit.Entry); err != nil {
		return err
	}

	updated := ev.Clone()
	if commit.CategoryName != "" && updated.HasCategories() {
		cat := updated.FindCategory(commit.CategoryName)
		if cat == nil {
			return ErrNotFound
		}
		if cat.Available < commit.Quantity {
			return ErrInsufficientInventory
		}
		cat.Available -= commit.Quantity
	} else if updated.AvailableTickets < commit.Quantity {
		return ErrInsufficientInventory
	}
	updated.AvailableTickets -= commit.Quantity
	updated.UpdatedAt = s.clock.Now()

	s.events[commit.EventID] = updated
	s.appendLocked(commit.Entry)
	return nil
}

// AppendLedger appends a ledger entry
func (s *MemoryStore) AppendLedger(ctx context.Context, entry *models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOrderID(entry); err != nil {
		return err
	}
	s.appendLocked(entry)
	return nil
}

func (s *MemoryStore) checkOrderID(entry *models.LedgerEntry) error {
	if entry.OrderID == nil {
		return nil
	}
	if _, exists := s.byOrder[*entry.OrderID]; exists {
		return ErrDuplicateKey
	}
	return nil
}

func (s *MemoryStore) appendLocked(entry *models.LedgerEntry) {
	s.ledger = append(s.ledger, *entry)
	if entry.OrderID != nil {
		s.byOrder[*entry.OrderID] = len(s.ledger) - 1
	}
}

// SumPurchasedQuantity totals the quantity a participant has purchased for an event
func (s *MemoryStore) SumPurchasedQuantity(ctx context.Context, eventID string, participant string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, e := range s.ledger {
		if e.Type == models.LedgerPurchase && e.EventID == eventID && e.To == participant {
			total += e.Quantity
		}
	}
	return total, nil
}

// ListPurchasesByParticipant returns purchases addressed to the participant, newest first
func (s *MemoryStore) ListPurchasesByParticipant(ctx context.Context, participant string) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.LedgerEntry{}
	for i := len(s.ledger) - 1; i >= 0; i-- {
		e := s.ledger[i]
		if e.Type == models.LedgerPurchase && e.To == participant {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetLedgerByOrderID looks an entry up by its order ID
func (s *MemoryStore) GetLedgerByOrderID(ctx context.Context, orderID string) (*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byOrder[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	entry := s.ledger[idx]
	return &entry, nil
}

// ListLedger returns the newest entries first
func (s *MemoryStore) ListLedger(ctx context.Context, limit int) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.ledger)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.LedgerEntry, 0, n)
	for i := len(s.ledger) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.ledger[i])
	}
	return out, nil
}

// CategoryBreakdown aggregates the whole ledger per (event, category)
func (s *MemoryStore) CategoryBreakdown(ctx context.Context) ([]models.CategoryStats, error) {
	entries, err := s.ListLedger(ctx, 0)
	if err != nil {
		return nil, err
	}
	return BuildCategoryBreakdown(entries), nil
}

// CreateUser stores a user; emails are unique
func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == user.Email {
			return ErrDuplicateKey
		}
	}
	s.users[user.ID] = *user
	return nil
}

// CreateContactSubmission stores a contact form submission
func (s *MemoryStore) CreateContactSubmission(ctx context.Context, submission *models.ContactSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contacts = append(s.contacts, *submission)
	return nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
