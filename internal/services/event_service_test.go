package services

import (
	"context"
	"testing"
	"time"

	"example.com/blocktix/internal/models"
	"example.com/blocktix/internal/repositories"
	"example.com/blocktix/internal/seed"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEventService(f *ledgerFixture) *EventService {
	return NewEventService(f.store, f.rules, f.clock)
}

func TestUpsertCreatesDraftWithAggregates(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	svc := newEventService(f)

	ev, created, err := svc.Upsert(ctx, EventInput{
		Title: "Ratha Yatra",
		Date:  testNow.Add(48 * time.Hour),
		Categories: []CategoryInput{
			{Name: "Darshan", Price: 0, Total: 1000},
			{Name: "Pavilion", Price: 500, Total: 200, Available: intPtr(150)},
		},
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, models.EventStatusDraft, ev.Status)
	assert.Equal(t, "general", ev.Category)
	assert.Equal(t, 1200, ev.TotalTickets)
	assert.Equal(t, 1150, ev.AvailableTickets)
	assert.Equal(t, 0.0, ev.Price)

	live, err := svc.ListLive(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)

	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertValidation(t *testing.T) {
	f := newLedgerFixture(t, nil, nil)
	svc := newEventService(f)
	date := testNow.Add(time.Hour)

	tests := []struct {
		name    string
		in      EventInput
		kind    ErrorKind
		message string
	}{
		{"missing title", EventInput{Date: date}, KindValidation, "Missing required fields"},
		{"missing date", EventInput{Title: "x"}, KindValidation, "Missing required fields"},
		{"duplicate category", EventInput{Title: "x", Date: date, Categories: []CategoryInput{{Name: "VIP"}, {Name: "vip"}}}, KindValidation, "Duplicate category vip"},
		{"available above total", EventInput{Title: "x", Date: date, Categories: []CategoryInput{{Name: "VIP", Total: 1, Available: intPtr(2)}}}, KindValidation, "Category VIP has more available than total tickets"},
		{"unknown id", EventInput{ID: "missing", Title: "x", Date: date}, KindNotFound, "Event not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Upsert(context.Background(), tt.in)
			requireDomainError(t, err, tt.kind, tt.message)
		})
	}
}

func TestUpdateResetsToDraftAndPublish(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	svc := newEventService(f)

	ev, _, err := svc.Upsert(ctx, EventInput{Title: "Meetup", Date: testNow.Add(time.Hour), Price: 100, TotalTickets: 50, Category: "Tech"})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	published, err := svc.Publish(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusLive, published.Status)
	require.NotNil(t, published.PublishedAt)
	assert.Equal(t, testNow.Add(time.Minute), *published.PublishedAt)

	f.clock.Advance(time.Minute)
	updated, created, err := svc.Upsert(ctx, EventInput{ID: ev.ID, Title: "Meetup v2", Date: testNow.Add(time.Hour), Price: 120, TotalTickets: 40})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.EventStatusDraft, updated.Status)
	assert.Equal(t, "general", updated.Category)
	assert.Equal(t, testNow, updated.CreatedAt)
	require.NotNil(t, updated.PublishedAt)

	got, err := svc.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Meetup v2", got.Title)
	assert.Equal(t, 40, got.AvailableTickets)

	_, err = svc.Publish(ctx, "missing")
	requireDomainError(t, err, KindNotFound, "Event not found")
}

// racingStore runs onWrite once: after the first event read, or just before the
// first publish or merge reaches the store, whichever comes first.
type racingStore struct {
	*repositories.MemoryStore
	onWrite func()
}

func (r *racingStore) fire() {
	if r.onWrite != nil {
		hook := r.onWrite
		r.onWrite = nil
		hook()
	}
}

func (r *racingStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	ev, err := r.MemoryStore.GetEvent(ctx, id)
	r.fire()
	return ev, err
}

func (r *racingStore) PublishEvent(ctx context.Context, id string, at time.Time) (*models.Event, error) {
	r.fire()
	return r.MemoryStore.PublishEvent(ctx, id, at)
}

func (r *racingStore) MergeEvent(ctx context.Context, event *models.Event) (bool, error) {
	r.fire()
	return r.MemoryStore.MergeEvent(ctx, event)
}

func TestPublishKeepsPurchaseCommittedMeanwhile(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	ev := concertEvent()
	ev.Categories[1].Available = 1
	f.saveEvent(t, ev)

	racing := &racingStore{MemoryStore: f.store}
	svc := NewEventService(racing, f.rules, f.clock)
	racing.onWrite = func() {
		_, err := f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-1", Wallet: "first@example.com", Quantity: 1, CategoryName: "Stand"})
		require.NoError(t, err)
	}

	published, err := svc.Publish(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, published.IsLive())
	assert.Equal(t, 0, published.FindCategory("Stand").Available)

	stored, err := f.store.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FindCategory("Stand").Available)
	assert.Equal(t, 5000, stored.AvailableTickets)

	_, err = f.service.Purchase(ctx, PurchaseRequest{EventID: "ev-1", Wallet: "second@example.com", Quantity: 1, CategoryName: "Stand"})
	requireDomainError(t, err, KindValidation, "Not enough category tickets available")

	purchases, err := f.store.ListLedger(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, purchases, 1)
}

func TestSeedKeepsPurchaseCommittedMeanwhile(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	svc := newEventService(f)

	samples, err := seed.Defaults()
	require.NoError(t, err)
	first, err := svc.SeedSamples(ctx, samples[:1])
	require.NoError(t, err)
	eventID := first[0].ID

	ev, err := f.store.GetEvent(ctx, eventID)
	require.NoError(t, err)
	cat := ev.Categories[0]

	racing := &racingStore{MemoryStore: f.store}
	racing.onWrite = func() {
		_, err := f.service.Purchase(ctx, PurchaseRequest{EventID: eventID, Wallet: "fan@example.com", Quantity: 3, CategoryName: cat.Name})
		require.NoError(t, err)
	}
	seeded, err := NewEventService(racing, f.rules, f.clock).SeedSamples(ctx, samples[:1])
	require.NoError(t, err)
	assert.True(t, seeded[0].Updated)

	ev, err = f.store.GetEvent(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, cat.Total-3, ev.FindCategory(cat.Name).Available)
	assert.Equal(t, ev.TotalTickets-3, ev.AvailableTickets)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	svc := newEventService(f)
	f.saveEvent(t, flatEvent())

	require.NoError(t, svc.Delete(ctx, "ev-flat"))
	require.NoError(t, svc.Delete(ctx, "ev-flat"))

	_, err := svc.Get(ctx, "ev-flat")
	requireDomainError(t, err, KindNotFound, "Event not found")
}

func TestSeedSamplesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, nil)
	svc := newEventService(f)

	samples, err := seed.Defaults()
	require.NoError(t, err)

	first, err := svc.SeedSamples(ctx, samples)
	require.NoError(t, err)
	require.Len(t, first, len(samples))
	for _, s := range first {
		assert.False(t, s.Updated)
	}

	eventID := first[0].ID
	ev, err := f.store.GetEvent(ctx, eventID)
	require.NoError(t, err)
	assert.True(t, ev.IsLive())
	categoryName := ev.Categories[0].Name

	_, err = f.service.Purchase(ctx, PurchaseRequest{EventID: eventID, Wallet: "fan@example.com", Quantity: 2, CategoryName: categoryName})
	require.NoError(t, err)

	second, err := svc.SeedSamples(ctx, samples)
	require.NoError(t, err)
	require.Len(t, second, len(samples))
	for i, s := range second {
		assert.True(t, s.Updated)
		assert.Equal(t, first[i].ID, s.ID)
	}

	all, err := svc.ListLive(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(samples))

	ev, err = f.store.GetEvent(ctx, eventID)
	require.NoError(t, err)
	cat := ev.FindCategory(categoryName)
	assert.Equal(t, cat.Total-2, cat.Available)

	rule, err := f.rules.GetRules(ctx, first[1].ID)
	require.NoError(t, err)
	require.NotNil(t, rule.MaxTicketsPerWallet)
	assert.Equal(t, 4, *rule.MaxTicketsPerWallet)
}
