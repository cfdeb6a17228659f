package models

import (
	"math"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Event lifecycle states
const (
	EventStatusDraft = "draft"
	EventStatusLive  = "live"
)

// LedgerType identifies the kind of ledger entry
type LedgerType string

const (
	LedgerPurchase LedgerType = "purchase"
	LedgerResell   LedgerType = "resell"
	LedgerTransfer LedgerType = "transfer"
)

// AccessListKind separates whitelists from blacklists
type AccessListKind string

const (
	Whitelist AccessListKind = "whitelist"
	Blacklist AccessListKind = "blacklist"
)

// Event represents a ticketed event. When Categories is non-empty, Price,
// TotalTickets and AvailableTickets are aggregates over the categories.
type Event struct {
	ID               string           `gorm:"type:text;primaryKey" json:"id" bson:"_id"`
	Title            string           `gorm:"not null;index:idx_event_title_date" json:"title" bson:"title"`
	Description      string           `json:"description" bson:"description"`
	Date             time.Time        `gorm:"index:idx_event_title_date" json:"date" bson:"date"`
	Location         string           `json:"location" bson:"location"`
	Image            string           `json:"image" bson:"image"`
	Category         string           `json:"category" bson:"category"`
	IsFeatured       bool             `json:"isFeatured" bson:"isFeatured"`
	Status           string           `gorm:"type:text;index;not null" json:"status" bson:"status"`
	Price            float64          `json:"price" bson:"price"`
	TotalTickets     int              `json:"totalTickets" bson:"totalTickets"`
	AvailableTickets int              `json:"availableTickets" bson:"availableTickets"`
	Categories       []TicketCategory `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE" json:"categories" bson:"categories"`
	CreatedAt        time.Time        `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt" bson:"updatedAt"`
	PublishedAt      *time.Time       `json:"publishedAt,omitempty" bson:"publishedAt,omitempty"`
}

// TicketCategory is a named price/quantity tier within an event
type TicketCategory struct {
	ID        uint    `gorm:"primaryKey" json:"-" bson:"-"`
	EventID   string  `gorm:"type:text;not null;uniqueIndex:idx_category_event_name" json:"-" bson:"-"`
	Position  int     `json:"-" bson:"position"`
	Name      string  `gorm:"not null" json:"name" bson:"name"`
	NameKey   string  `gorm:"not null;uniqueIndex:idx_category_event_name" json:"-" bson:"nameKey"`
	Price     float64 `json:"price" bson:"price"`
	Total     int     `json:"total" bson:"total"`
	Available int     `json:"available" bson:"available"`
}

// CategoryKey is the case-insensitive lookup key for a category name
func CategoryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// HasCategories reports whether the event sells tickets per category
func (e *Event) HasCategories() bool {
	return len(e.Categories) > 0
}

// IsLive reports whether the event is published
func (e *Event) IsLive() bool {
	return e.Status == EventStatusLive
}

// FindCategory looks a category up by name, ignoring case. It returns nil when absent.
func (e *Event) FindCategory(name string) *TicketCategory {
	key := CategoryKey(name)
	for i := range e.Categories {
		if e.Categories[i].NameKey == key || CategoryKey(e.Categories[i].Name) == key {
			return &e.Categories[i]
		}
	}
	return nil
}

// Aggregate recomputes price and ticket totals from the categories.
// Events without categories are left untouched.
func (e *Event) Aggregate() {
	if !e.HasCategories() {
		e.Categories = nil
		return
	}

	minPrice := math.Inf(1)
	total, available := 0, 0
	for i := range e.Categories {
		c := &e.Categories[i]
		c.EventID = e.ID
		c.Position = i
		c.NameKey = CategoryKey(c.Name)
		if c.Price < minPrice {
			minPrice = c.Price
		}
		total += c.Total
		available += c.Available
	}

	e.Price = minPrice
	e.TotalTickets = total
	e.AvailableTickets = available
}

// Clone returns a deep copy of the event
func (e *Event) Clone() *Event {
	out := *e
	if e.Categories != nil {
		out.Categories = make([]TicketCategory, len(e.Categories))
		copy(out.Categories, e.Categories)
	}
	if e.PublishedAt != nil {
		t := *e.PublishedAt
		out.PublishedAt = &t
	}
	return &out
}

// ResaleRule is the per-event rule set governing resale, transfer and purchase caps
type ResaleRule struct {
	EventID                  string    `gorm:"type:text;primaryKey" json:"eventId" bson:"_id"`
	AllowResale              bool      `json:"allowResale" bson:"allowResale"`
	AllowTransfer            bool      `json:"allowTransfer" bson:"allowTransfer"`
	MaxResalePriceMultiplier float64   `json:"maxResalePriceMultiplier" bson:"maxResalePriceMultiplier"`
	MaxTicketsPerWallet      *int      `json:"maxTicketsPerWallet,omitempty" bson:"maxTicketsPerWallet,omitempty"`
	SingleUse                bool      `json:"singleUse" bson:"singleUse"`
	MinAge                   *int      `json:"minAge,omitempty" bson:"minAge,omitempty"`
	RefundUntil              *string   `json:"refundUntil,omitempty" bson:"refundUntil,omitempty"`
	UpdatedAt                time.Time `json:"updatedAt" bson:"updatedAt"`
}

// DefaultResaleRule is the rule set applied to events that never had one configured
func DefaultResaleRule(eventID string) ResaleRule {
	return ResaleRule{
		EventID:                  eventID,
		AllowResale:              true,
		AllowTransfer:            true,
		MaxResalePriceMultiplier: 1.0,
	}
}

// LedgerEntry is an append-only record of a purchase, resale or transfer
type LedgerEntry struct {
	ID           string     `gorm:"type:text;primaryKey" json:"id" bson:"_id"`
	Type         LedgerType `gorm:"type:text;not null;index:idx_ledger_type_to" json:"type" bson:"type"`
	EventID      string     `gorm:"type:text;not null;index:idx_ledger_event_to" json:"eventId" bson:"eventId"`
	From         *string    `gorm:"type:text" json:"from" bson:"from"`
	To           string     `gorm:"type:text;not null;index:idx_ledger_event_to;index:idx_ledger_type_to" json:"to" bson:"to"`
	Amount       *float64   `json:"amount,omitempty" bson:"amount,omitempty"`
	Quantity     int        `json:"quantity,omitempty" bson:"quantity,omitempty"`
	CategoryName *string    `gorm:"type:text" json:"categoryName" bson:"categoryName"`
	OrderID      *string    `gorm:"type:text;uniqueIndex" json:"orderId,omitempty" bson:"orderId,omitempty"`
	Timestamp    time.Time  `gorm:"not null;index" json:"timestamp" bson:"timestamp"`
}

// TableName keeps the ledger in the transactions table
func (LedgerEntry) TableName() string {
	return "transactions"
}

// AccessList is one submitted batch of whitelisted or blacklisted participants.
// Membership is the union over all lists of a kind.
type AccessList struct {
	ID        string             `gorm:"type:text;primaryKey" json:"id" bson:"_id"`
	Kind      AccessListKind     `gorm:"type:text;not null;index" json:"-" bson:"kind"`
	Wallets   []string           `gorm:"serializer:json" json:"wallets" bson:"wallets"`
	Members   []AccessListMember `gorm:"foreignKey:ListID;constraint:OnDelete:CASCADE" json:"-" bson:"-"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
}

// AccessListMember indexes a single participant of an access list
type AccessListMember struct {
	ID          uint           `gorm:"primaryKey"`
	ListID      string         `gorm:"type:text;not null;index"`
	Kind        AccessListKind `gorm:"type:text;not null;index:idx_access_member,priority:1"`
	Participant string         `gorm:"type:text;not null;index:idx_access_member,priority:2"`
}

// User is a registered account
type User struct {
	ID           string    `gorm:"type:text;primaryKey" json:"id" bson:"_id"`
	Name         string    `gorm:"not null" json:"name" bson:"name"`
	Email        string    `gorm:"type:text;not null;uniqueIndex" json:"email" bson:"email"`
	PasswordHash string    `json:"-" bson:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
}

// ContactSubmission is a message sent through the contact form
type ContactSubmission struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id" bson:"_id"`
	Name        string    `gorm:"not null" json:"name" bson:"name"`
	Email       string    `gorm:"not null" json:"email" bson:"email"`
	Subject     string    `json:"subject" bson:"subject"`
	Message     string    `gorm:"not null" json:"message" bson:"message"`
	SubmittedAt time.Time `json:"submittedAt" bson:"submittedAt"`
}

// CategoryStats aggregates ledger activity per (event, category)
type CategoryStats struct {
	EventID      string  `json:"eventId" bson:"eventId"`
	CategoryName *string `json:"categoryName" bson:"categoryName"`
	Purchases    int     `json:"purchases" bson:"purchases"`
	Resales      int     `json:"resales" bson:"resales"`
	TotalAmount  float64 `json:"totalAmount" bson:"totalAmount"`
}

// SetupModels runs the schema migrations for every persisted model
func SetupModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Event{},
		&TicketCategory{},
		&ResaleRule{},
		&LedgerEntry{},
		&AccessList{},
		&AccessListMember{},
		&User{},
		&ContactSubmission{},
	)
}
