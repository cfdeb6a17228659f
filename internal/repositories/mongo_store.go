package repositories

import (
	"context"
	"time"

	"example.com/blocktix/internal/clock"
	"example.com/blocktix/internal/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names
const (
	eventsCollection      = "events"
	rulesCollection       = "resale_rules"
	accessListsCollection = "access_lists"
	ledgerCollection      = "transactions"
	usersCollection       = "users"
	contactCollection     = "contact_submissions"
)

// MongoStore is the document-store backed Store. Categories are embedded in
// the event document and decremented with a positional $inc.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	clock  clock.Clock
}

// ConnectMongo connects to MongoDB and verifies the connection
func ConnectMongo(ctx context.Context, uri string, database string, clk clock.Clock) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to MongoDB")
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "failed to ping MongoDB")
	}

	return NewMongoStore(client, database, clk), nil
}

// NewMongoStore wraps an existing client
func NewMongoStore(client *mongo.Client, database string, clk clock.Clock) *MongoStore {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &MongoStore{
		client: client,
		db:     client.Database(database),
		clock:  clk,
	}
}

// EnsureIndexes creates the lookup indexes used by the store
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		eventsCollection: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "date", Value: 1}}},
			{Keys: bson.D{{Key: "title", Value: 1}, {Key: "date", Value: 1}}},
		},
		accessListsCollection: {
			{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "wallets", Value: 1}}},
		},
		ledgerCollection: {
			{Keys: bson.D{{Key: "orderId", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
			{Keys: bson.D{{Key: "type", Value: 1}, {Key: "eventId", Value: 1}, {Key: "to", Value: 1}}},
			{Keys: bson.D{{Key: "type", Value: 1}, {Key: "to", Value: 1}, {Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		},
		usersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	for name, specs := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, specs); err != nil {
			return errors.Wrapf(err, "failed to create indexes on %s", name)
		}
	}
	return nil
}

func translateMongoError(err error, msg string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrap(ErrDuplicateKey, msg)
	}
	return errors.Wrap(err, msg)
}

// ListEvents returns events with the given status, or all events when status is empty
func (s *MongoStore) ListEvents(ctx context.Context, status string) ([]models.Event, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := s.db.Collection(eventsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list events")
	}
	events := []models.Event{}
	if err := cursor.All(ctx, &events); err != nil {
		return nil, errors.Wrap(err, "failed to decode events")
	}
	for i := range events {
		normalizeLoaded(&events[i])
	}
	return events, nil
}

// GetEvent retrieves an event by ID
func (s *MongoStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	return s.findEvent(ctx, bson.M{"_id": id})
}

// FindEventByTitleAndDate retrieves an event by its natural key
func (s *MongoStore) FindEventByTitleAndDate(ctx context.Context, title string, date time.Time) (*models.Event, error) {
	return s.findEvent(ctx, bson.M{"title": title, "date": date})
}

func (s *MongoStore) findEvent(ctx context.Context, filter bson.M) (*models.Event, error) {
	var event models.Event
	if err := s.db.Collection(eventsCollection).FindOne(ctx, filter).Decode(&event); err != nil {
		return nil, translateMongoError(err, "failed to get event")
	}
	normalizeLoaded(&event)
	return &event, nil
}

func indexCategories(event *models.Event) {
	for i := range event.Categories {
		event.Categories[i].Position = i
		event.Categories[i].NameKey = models.CategoryKey(event.Categories[i].Name)
	}
}

// SaveEvent replaces the whole event document
func (s *MongoStore) SaveEvent(ctx context.Context, event *models.Event) error {
	indexCategories(event)
	_, err := s.db.Collection(eventsCollection).ReplaceOne(ctx,
		bson.M{"_id": event.ID}, event, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrap(err, "failed to save event")
	}
	return nil
}

// PublishEvent sets the status fields with $set so concurrent decrements survive
func (s *MongoStore) PublishEvent(ctx context.Context, id string, at time.Time) (*models.Event, error) {
	update := bson.M{"$set": bson.M{
		"status":      models.EventStatusLive,
		"publishedAt": at,
		"updatedAt":   at,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var event models.Event
	if err := s.db.Collection(eventsCollection).FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&event); err != nil {
		return nil, translateMongoError(err, "failed to publish event")
	}
	normalizeLoaded(&event)
	return &event, nil
}

const mergeAttempts = 5

// MergeEvent replaces the stored document only while its availableTickets is
// unchanged since it was read. Every purchase moves that field, so a purchase
// landing in between forces a re-read.
func (s *MongoStore) MergeEvent(ctx context.Context, event *models.Event) (bool, error) {
	events := s.db.Collection(eventsCollection)
	indexCategories(event)

	for attempt := 0; attempt < mergeAttempts; attempt++ {
		stored, err := s.GetEvent(ctx, event.ID)
		if errors.Is(err, ErrNotFound) {
			_, err := events.InsertOne(ctx, event)
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			if err != nil {
				return false, errors.Wrap(err, "failed to insert event")
			}
			return false, nil
		}
		if err != nil {
			return false, err
		}

		fresh := event.Clone()
		CarrySoldSeats(fresh, stored)
		res, err := events.ReplaceOne(ctx,
			bson.M{"_id": event.ID, "availableTickets": stored.AvailableTickets}, fresh)
		if err != nil {
			return false, errors.Wrap(err, "failed to merge event")
		}
		if res.MatchedCount == 1 {
			*event = *fresh
			return true, nil
		}
	}
	return false, errors.Errorf("event %s kept changing while merging", event.ID)
}

// DeleteEvent removes an event document
func (s *MongoStore) DeleteEvent(ctx context.Context, id string) error {
	if _, err := s.db.Collection(eventsCollection).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return errors.Wrap(err, "failed to delete event")
	}
	return nil
}

// GetRule retrieves the rule set for an event
func (s *MongoStore) GetRule(ctx context.Context, eventID string) (*models.ResaleRule, error) {
	var rule models.ResaleRule
	if err := s.db.Collection(rulesCollection).FindOne(ctx, bson.M{"_id": eventID}).Decode(&rule); err != nil {
		return nil, translateMongoError(err, "failed to get resale rule")
	}
	return &rule, nil
}

// SaveRule upserts a rule set
func (s *MongoStore) SaveRule(ctx context.Context, rule *models.ResaleRule) error {
	_, err := s.db.Collection(rulesCollection).ReplaceOne(ctx,
		bson.M{"_id": rule.EventID}, rule, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrap(err, "failed to save resale rule")
	}
	return nil
}

// AddAccessList inserts a list document; the multikey index on wallets serves lookups
func (s *MongoStore) AddAccessList(ctx context.Context, list *models.AccessList) error {
	if _, err := s.db.Collection(accessListsCollection).InsertOne(ctx, list); err != nil {
		return translateMongoError(err, "failed to create access list")
	}
	return nil
}

// IsListed reports whether the participant appears on any list of the kind
func (s *MongoStore) IsListed(ctx context.Context, kind models.AccessListKind, participant string) (bool, error) {
	n, err := s.db.Collection(accessListsCollection).CountDocuments(ctx,
		bson.M{"kind": kind, "wallets": participant}, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Wrap(err, "failed to check access list membership")
	}
	return n > 0, nil
}

// HasAccessList reports whether at least one list of the kind exists
func (s *MongoStore) HasAccessList(ctx context.Context, kind models.AccessListKind) (bool, error) {
	n, err := s.db.Collection(accessListsCollection).CountDocuments(ctx,
		bson.M{"kind": kind}, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Wrap(err, "failed to count access lists")
	}
	return n > 0, nil
}

// CommitPurchase decrements availability with a conditional update, then
// inserts the ledger entry. A failed insert restores the decremented tickets.
func (s *MongoStore) CommitPurchase(ctx context.Context, commit PurchaseCommit) error {
	events := s.db.Collection(eventsCollection)
	now := s.clock.Now()

	filter := bson.M{"_id": commit.EventID}
	inc := bson.M{"availableTickets": -commit.Quantity}
	if commit.CategoryName != "" {
		filter["categories"] = bson.M{"$elemMatch": bson.M{
			"nameKey":   models.CategoryKey(commit.CategoryName),
			"available": bson.M{"$gte": commit.Quantity},
		}}
		inc["categories.$.available"] = -commit.Quantity
	} else {
		filter["availableTickets"] = bson.M{"$gte": commit.Quantity}
	}

	res, err := events.UpdateOne(ctx, filter, bson.M{"$inc": inc, "$set": bson.M{"updatedAt": now}})
	if err != nil {
		return errors.Wrap(err, "failed to decrement availability")
	}
	if res.MatchedCount == 0 {
		return s.inventoryMissError(ctx, commit)
	}

	if _, err := s.db.Collection(ledgerCollection).InsertOne(ctx, commit.Entry); err != nil {
		restore := bson.M{"availableTickets": commit.Quantity}
		restoreFilter := bson.M{"_id": commit.EventID}
		if commit.CategoryName != "" {
			restoreFilter["categories.nameKey"] = models.CategoryKey(commit.CategoryName)
			restore["categories.$.available"] = commit.Quantity
		}
		if _, rerr := events.UpdateOne(context.Background(), restoreFilter, bson.M{"$inc": restore}); rerr != nil {
			log.Error().Err(rerr).Str("event_id", commit.EventID).Msg("Failed to restore availability after ledger insert failure")
		}
		return translateMongoError(err, "failed to append purchase to ledger")
	}
	return nil
}

// inventoryMissError tells a vanished event or category apart from a sold-out one
func (s *MongoStore) inventoryMissError(ctx context.Context, commit PurchaseCommit) error {
	filter := bson.M{"_id": commit.EventID}
	if commit.CategoryName != "" {
		filter["categories.nameKey"] = models.CategoryKey(commit.CategoryName)
	}
	n, err := s.db.Collection(eventsCollection).CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return errors.Wrap(err, "failed to check event")
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrInsufficientInventory
}

// AppendLedger inserts a ledger entry
func (s *MongoStore) AppendLedger(ctx context.Context, entry *models.LedgerEntry) error {
	if _, err := s.db.Collection(ledgerCollection).InsertOne(ctx, entry); err != nil {
		return translateMongoError(err, "failed to append ledger entry")
	}
	return nil
}

// SumPurchasedQuantity totals the quantity a participant has purchased for an event
func (s *MongoStore) SumPurchasedQuantity(ctx context.Context, eventID string, participant string) (int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"type": models.LedgerPurchase, "eventId": eventID, "to": participant}}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$quantity"}}}},
	}
	cursor, err := s.db.Collection(ledgerCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, errors.Wrap(err, "failed to sum purchased quantity")
	}
	var out []struct {
		Total int `bson:"total"`
	}
	if err := cursor.All(ctx, &out); err != nil {
		return 0, errors.Wrap(err, "failed to decode purchased quantity")
	}
	if len(out) == 0 {
		return 0, nil
	}
	return out[0].Total, nil
}

// ListPurchasesByParticipant returns purchases addressed to the participant, newest first
func (s *MongoStore) ListPurchasesByParticipant(ctx context.Context, participant string) ([]models.LedgerEntry, error) {
	return s.findLedger(ctx, bson.M{"type": models.LedgerPurchase, "to": participant}, 0)
}

// GetLedgerByOrderID looks an entry up by its order ID
func (s *MongoStore) GetLedgerByOrderID(ctx context.Context, orderID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := s.db.Collection(ledgerCollection).FindOne(ctx, bson.M{"orderId": orderID}).Decode(&entry); err != nil {
		return nil, translateMongoError(err, "failed to get order")
	}
	return &entry, nil
}

// ListLedger returns the newest entries first
func (s *MongoStore) ListLedger(ctx context.Context, limit int) ([]models.LedgerEntry, error) {
	return s.findLedger(ctx, bson.M{}, limit)
}

func (s *MongoStore) findLedger(ctx context.Context, filter bson.M, limit int) ([]models.LedgerEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.db.Collection(ledgerCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list ledger entries")
	}
	entries := []models.LedgerEntry{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, errors.Wrap(err, "failed to decode ledger entries")
	}
	return entries, nil
}

// CategoryBreakdown aggregates the ledger per (event, category) on the server
func (s *MongoStore) CategoryBreakdown(ctx context.Context) ([]models.CategoryStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$sort", Value: bson.M{"timestamp": -1}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{"eventId": "$eventId", "categoryName": "$categoryName"},
			"purchases": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$type", string(models.LedgerPurchase)}},
				bson.M{"$ifNull": bson.A{"$quantity", 1}},
				0,
			}}},
			"resales": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$type", string(models.LedgerResell)}}, 1, 0,
			}}},
			"totalAmount": bson.M{"$sum": bson.M{"$ifNull": bson.A{"$amount", 0}}},
			"latest":      bson.M{"$max": "$timestamp"},
		}}},
		{{Key: "$sort", Value: bson.M{"latest": -1}}},
	}

	cursor, err := s.db.Collection(ledgerCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate category breakdown")
	}
	var rows []struct {
		ID struct {
			EventID      string  `bson:"eventId"`
			CategoryName *string `bson:"categoryName"`
		} `bson:"_id"`
		Purchases   int     `bson:"purchases"`
		Resales     int     `bson:"resales"`
		TotalAmount float64 `bson:"totalAmount"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "failed to decode category breakdown")
	}

	out := make([]models.CategoryStats, 0, len(rows))
	for _, r := range rows {
		stats := models.CategoryStats{
			EventID:      r.ID.EventID,
			CategoryName: r.ID.CategoryName,
			Purchases:    r.Purchases,
			Resales:      r.Resales,
			TotalAmount:  r.TotalAmount,
		}
		if stats.EventID == "" {
			stats.EventID = "unknown"
		}
		if stats.CategoryName != nil && *stats.CategoryName == "" {
			stats.CategoryName = nil
		}
		out = append(out, stats)
	}
	return out, nil
}

// CreateUser stores a user
func (s *MongoStore) CreateUser(ctx context.Context, user *models.User) error {
	if _, err := s.db.Collection(usersCollection).InsertOne(ctx, user); err != nil {
		return translateMongoError(err, "failed to create user")
	}
	return nil
}

// CreateContactSubmission stores a contact form submission
func (s *MongoStore) CreateContactSubmission(ctx context.Context, submission *models.ContactSubmission) error {
	if _, err := s.db.Collection(contactCollection).InsertOne(ctx, submission); err != nil {
		return errors.Wrap(err, "failed to create contact submission")
	}
	return nil
}

// Ping checks the MongoDB connection
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
