package repositories

import (
	"context"
	"time"

	"example.com/blocktix/internal/clock"
	"example.com/blocktix/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const pgUniqueViolation = "23505"

// GormStore is the postgres-backed Store
type GormStore struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
	clock      clock.Clock
}

// NewGormStore creates a new store. readOnlyDB may be nil, in which case reads go to db.
func NewGormStore(db *gorm.DB, readOnlyDB *gorm.DB, clk clock.Clock) *GormStore {
	if readOnlyDB == nil {
		readOnlyDB = db
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &GormStore{
		db:         db,
		readOnlyDB: readOnlyDB,
		clock:      clk,
	}
}

func translateError(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return errors.Wrap(ErrDuplicateKey, msg)
	}
	return errors.Wrap(err, msg)
}

func orderedCategories(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func normalizeLoaded(ev *models.Event) {
	if len(ev.Categories) == 0 {
		ev.Categories = nil
	}
}

// ListEvents returns events with the given status, or all events when status is empty
func (s *GormStore) ListEvents(ctx context.Context, status string) ([]models.Event, error) {
	var events []models.Event
	q := s.readOnlyDB.WithContext(ctx).Preload("Categories", orderedCategories)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("date ASC, id ASC").Find(&events).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list events")
	}
	for i := range events {
		normalizeLoaded(&events[i])
	}
	return events, nil
}

// GetEvent retrieves an event with its categories
func (s *GormStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := s.db.WithContext(ctx).
		Preload("Categories", orderedCategories).
		Where("id = ?", id).
		First(&event).Error
	if err != nil {
		return nil, translateError(err, "failed to get event")
	}
	normalizeLoaded(&event)
	return &event, nil
}

// FindEventByTitleAndDate retrieves an event by its natural key
func (s *GormStore) FindEventByTitleAndDate(ctx context.Context, title string, date time.Time) (*models.Event, error) {
	var event models.Event
	err := s.db.WithContext(ctx).
		Preload("Categories", orderedCategories).
		Where("title = ? AND date = ?", title, date).
		First(&event).Error
	if err != nil {
		return nil, translateError(err, "failed to find event by title and date")
	}
	normalizeLoaded(&event)
	return &event, nil
}

// SaveEvent upserts the event row and replaces its categories
func (s *GormStore) SaveEvent(ctx context.Context, event *models.Event) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return saveEventTx(tx, event)
	})
}

func saveEventTx(tx *gorm.DB, event *models.Event) error {
	if err := tx.Omit(clause.Associations).Save(event).Error; err != nil {
		return translateError(err, "failed to save event")
	}

	if err := tx.Where("event_id = ?", event.ID).Delete(&models.TicketCategory{}).Error; err != nil {
		return errors.Wrap(err, "failed to clear event categories")
	}

	if len(event.Categories) == 0 {
		return nil
	}

	categories := make([]models.TicketCategory, len(event.Categories))
	for i, c := range event.Categories {
		c.ID = 0
		c.EventID = event.ID
		c.Position = i
		c.NameKey = models.CategoryKey(c.Name)
		categories[i] = c
	}
	if err := tx.Create(&categories).Error; err != nil {
		return translateError(err, "failed to create event categories")
	}
	return nil
}

// PublishEvent updates only the status columns, leaving inventory to CommitPurchase
func (s *GormStore) PublishEvent(ctx context.Context, id string, at time.Time) (*models.Event, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"status":       models.EventStatusLive,
			"published_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "failed to publish event")
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetEvent(ctx, id)
}

// MergeEvent locks the stored categories and event row, in the order
// CommitPurchase takes them, before carrying sold seats into the new rows
func (s *GormStore) MergeEvent(ctx context.Context, event *models.Event) (bool, error) {
	updated := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		forUpdate := clause.Locking{Strength: "UPDATE"}

		var categories []models.TicketCategory
		if err := tx.Clauses(forUpdate).Where("event_id = ?", event.ID).Order("position ASC").Find(&categories).Error; err != nil {
			return errors.Wrap(err, "failed to lock event categories")
		}

		var stored models.Event
		err := tx.Clauses(forUpdate).Where("id = ?", event.ID).First(&stored).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return errors.Wrap(err, "failed to lock event")
		default:
			stored.Categories = categories
			normalizeLoaded(&stored)
			CarrySoldSeats(event, &stored)
			updated = true
		}

		return saveEventTx(tx, event)
	})
	return updated, err
}

// DeleteEvent removes an event and its categories
func (s *GormStore) DeleteEvent(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", id).Delete(&models.TicketCategory{}).Error; err != nil {
			return errors.Wrap(err, "failed to delete event categories")
		}
		if err := tx.Where("id = ?", id).Delete(&models.Event{}).Error; err != nil {
			return errors.Wrap(err, "failed to delete event")
		}
		return nil
	})
}

// GetRule retrieves the rule set for an event
func (s *GormStore) GetRule(ctx context.Context, eventID string) (*models.ResaleRule, error) {
	var rule models.ResaleRule
	if err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&rule).Error; err != nil {
		return nil, translateError(err, "failed to get resale rule")
	}
	return &rule, nil
}

// SaveRule upserts a rule set
func (s *GormStore) SaveRule(ctx context.Context, rule *models.ResaleRule) error {
	if err := s.db.WithContext(ctx).Save(rule).Error; err != nil {
		return errors.Wrap(err, "failed to save resale rule")
	}
	return nil
}

// AddAccessList stores a list and one member row per participant
func (s *GormStore) AddAccessList(ctx context.Context, list *models.AccessList) error {
	list.Members = make([]models.AccessListMember, 0, len(list.Wallets))
	for _, w := range list.Wallets {
		list.Members = append(list.Members, models.AccessListMember{
			ListID:      list.ID,
			Kind:        list.Kind,
			Participant: w,
		})
	}

	if err := s.db.WithContext(ctx).Create(list).Error; err != nil {
		return translateError(err, "failed to create access list")
	}
	return nil
}

// IsListed reports whether the participant appears on any list of the kind
func (s *GormStore) IsListed(ctx context.Context, kind models.AccessListKind, participant string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.AccessListMember{}).
		Where("kind = ? AND participant = ?", kind, participant).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to check access list membership")
	}
	return count > 0, nil
}

// HasAccessList reports whether at least one list of the kind exists
func (s *GormStore) HasAccessList(ctx context.Context, kind models.AccessListKind) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.AccessList{}).Where("kind = ?", kind).Count(&count).Error; err != nil {
		return false, errors.Wrap(err, "failed to count access lists")
	}
	return count > 0, nil
}

// CommitPurchase applies the conditional decrements and the ledger insert in one transaction.
// A decrement that matches no row means availability dropped below the requested quantity.
func (s *GormStore) CommitPurchase(ctx context.Context, commit PurchaseCommit) error {
	now := s.clock.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		eventUpdate := tx.Model(&models.Event{}).Where("id = ?", commit.EventID)

		if commit.CategoryName != "" {
			res := tx.Model(&models.TicketCategory{}).
				Where("event_id = ? AND name_key = ? AND available >= ?",
					commit.EventID, models.CategoryKey(commit.CategoryName), commit.Quantity).
				UpdateColumn("available", gorm.Expr("available - ?", commit.Quantity))
			if res.Error != nil {
				return errors.Wrap(res.Error, "failed to decrement category availability")
			}
			if res.RowsAffected == 0 {
				return inventoryMissError(tx, commit)
			}
		} else {
			eventUpdate = eventUpdate.Where("available_tickets >= ?", commit.Quantity)
		}

		res := eventUpdate.UpdateColumns(map[string]interface{}{
			"available_tickets": gorm.Expr("available_tickets - ?", commit.Quantity),
			"updated_at":        now,
		})
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to decrement event availability")
		}
		if res.RowsAffected == 0 {
			return inventoryMissError(tx, commit)
		}

		if err := tx.Create(commit.Entry).Error; err != nil {
			return translateError(err, "failed to append purchase to ledger")
		}
		return nil
	})
}

// inventoryMissError tells a vanished event or category apart from a sold-out one
func inventoryMissError(tx *gorm.DB, commit PurchaseCommit) error {
	var n int64
	if err := tx.Model(&models.Event{}).Where("id = ?", commit.EventID).Count(&n).Error; err != nil {
		return errors.Wrap(err, "failed to check event")
	}
	if n == 0 {
		return ErrNotFound
	}
	if commit.CategoryName == "" {
		return ErrInsufficientInventory
	}
	if err := tx.Model(&models.TicketCategory{}).
		Where("event_id = ? AND name_key = ?", commit.EventID, models.CategoryKey(commit.CategoryName)).
		Count(&n).Error; err != nil {
		return errors.Wrap(err, "failed to check category")
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrInsufficientInventory
}

// AppendLedger appends a ledger entry
func (s *GormStore) AppendLedger(ctx context.Context, entry *models.LedgerEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return translateError(err, "failed to append ledger entry")
	}
	return nil
}

// SumPurchasedQuantity totals the quantity a participant has purchased for an event
func (s *GormStore) SumPurchasedQuantity(ctx context.Context, eventID string, participant string) (int, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("type = ? AND event_id = ? AND \"to\" = ?", models.LedgerPurchase, eventID, participant).
		Scan(&total).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to sum purchased quantity")
	}
	return int(total), nil
}

// ListPurchasesByParticipant returns purchases addressed to the participant, newest first
func (s *GormStore) ListPurchasesByParticipant(ctx context.Context, participant string) ([]models.LedgerEntry, error) {
	entries := []models.LedgerEntry{}
	err := s.readOnlyDB.WithContext(ctx).
		Where("type = ? AND \"to\" = ?", models.LedgerPurchase, participant).
		Order("timestamp DESC").
		Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list purchases")
	}
	return entries, nil
}

// GetLedgerByOrderID looks an entry up by its order ID
func (s *GormStore) GetLedgerByOrderID(ctx context.Context, orderID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&entry).Error; err != nil {
		return nil, translateError(err, "failed to get order")
	}
	return &entry, nil
}

// ListLedger returns the newest entries first
func (s *GormStore) ListLedger(ctx context.Context, limit int) ([]models.LedgerEntry, error) {
	entries := []models.LedgerEntry{}
	q := s.readOnlyDB.WithContext(ctx).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list ledger entries")
	}
	return entries, nil
}

const categoryBreakdownSQL = `
SELECT
	COALESCE(NULLIF(event_id, ''), 'unknown') AS event_id,
	NULLIF(category_name, '') AS category_name,
	SUM(CASE WHEN type = 'purchase' THEN (CASE WHEN quantity = 0 THEN 1 ELSE quantity END) ELSE 0 END) AS purchases,
	SUM(CASE WHEN type = 'resell' THEN 1 ELSE 0 END) AS resales,
	COALESCE(SUM(amount), 0) AS total_amount
FROM transactions
GROUP BY 1, 2
ORDER BY MAX(timestamp) DESC`

// CategoryBreakdown aggregates the ledger per (event, category) in the database
func (s *GormStore) CategoryBreakdown(ctx context.Context) ([]models.CategoryStats, error) {
	rows := []models.CategoryStats{}
	if err := s.readOnlyDB.WithContext(ctx).Raw(categoryBreakdownSQL).Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to aggregate category breakdown")
	}
	return rows, nil
}

// CreateUser stores a user
func (s *GormStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return translateError(err, "failed to create user")
	}
	return nil
}

// CreateContactSubmission stores a contact form submission
func (s *GormStore) CreateContactSubmission(ctx context.Context, submission *models.ContactSubmission) error {
	if err := s.db.WithContext(ctx).Create(submission).Error; err != nil {
		return errors.Wrap(err, "failed to create contact submission")
	}
	return nil
}

// Ping checks the write database connection
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get underlying DB connection")
	}
	return sqlDB.PingContext(ctx)
}

// Close closes both database connections
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if s.readOnlyDB != s.db {
		if readSQLDB, err := s.readOnlyDB.DB(); err == nil {
			_ = readSQLDB.Close()
		}
	}
	return sqlDB.Close()
}
