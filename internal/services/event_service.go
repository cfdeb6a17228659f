package services

import (
	"context"
	"strings"
	"time"

	"example.com/blocktix/internal/clock"
	"example.com/blocktix/internal/models"
	"example.com/blocktix/internal/repositories"
	"example.com/blocktix/internal/seed"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultEventCategory = "general"

// CategoryInput is a ticket tier submitted by an admin. Available defaults to Total.
type CategoryInput struct {
	Name      string  `json:"name" binding:"required"`
	Price     float64 `json:"price" binding:"gte=0"`
	Total     int     `json:"total" binding:"gte=0"`
	Available *int    `json:"available" binding:"omitempty,gte=0"`
}

// EventInput creates an event, or replaces one when ID is set
type EventInput struct {
	ID           string          `json:"id"`
	Title        string          `json:"title" binding:"required"`
	Description  string          `json:"description"`
	Date         time.Time       `json:"date"`
	Location     string          `json:"location"`
	Image        string          `json:"image"`
	Price        float64         `json:"price" binding:"gte=0"`
	TotalTickets int             `json:"totalTickets" binding:"gte=0"`
	Category     string          `json:"category"`
	IsFeatured   bool            `json:"isFeatured"`
	Categories   []CategoryInput `json:"categories" binding:"omitempty,dive"`
}

// SeededEvent reports what the seeder did with one sample
type SeededEvent struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Updated bool   `json:"updated"`
}

// EventService manages the event catalogue and its rule sets
type EventService struct {
	events repositories.EventRepository
	rules  *RuleEvaluator
	clock  clock.Clock
}

// NewEventService creates a new event service
func NewEventService(events repositories.EventRepository, rules *RuleEvaluator, clk clock.Clock) *EventService {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &EventService{events: events, rules: rules, clock: clk}
}

// ListLive returns every published event
func (s *EventService) ListLive(ctx context.Context) ([]models.Event, error) {
	events, err := s.events.ListEvents(ctx, models.EventStatusLive)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list events")
	}
	return events, nil
}

// ListAll returns events in any status
func (s *EventService) ListAll(ctx context.Context) ([]models.Event, error) {
	events, err := s.events.ListEvents(ctx, "")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list events")
	}
	return events, nil
}

// Get returns an event in any status
func (s *EventService) Get(ctx context.Context, id string) (*models.Event, error) {
	ev, err := s.events.GetEvent(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, NotFound("Event not found")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load event %s", id)
	}
	return ev, nil
}

// Upsert creates a draft event, or overwrites an existing one and returns it
// to draft. The bool result reports whether the event was created.
func (s *EventService) Upsert(ctx context.Context, in EventInput) (*models.Event, bool, error) {
	now := s.clock.Now()

	ev := &models.Event{
		ID:               strings.TrimSpace(in.ID),
		Title:            strings.TrimSpace(in.Title),
		Description:      in.Description,
		Date:             in.Date.UTC(),
		Location:         in.Location,
		Image:            in.Image,
		Category:         in.Category,
		IsFeatured:       in.IsFeatured,
		Status:           models.EventStatusDraft,
		Price:            in.Price,
		TotalTickets:     in.TotalTickets,
		AvailableTickets: in.TotalTickets,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if ev.Category == "" {
		ev.Category = defaultEventCategory
	}
	if ev.Title == "" || in.Date.IsZero() {
		return nil, false, Validation("Missing required fields")
	}

	seen := make(map[string]bool, len(in.Categories))
	for _, c := range in.Categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, false, Validation("Category name required")
		}
		if seen[models.CategoryKey(name)] {
			return nil, false, Validation("Duplicate category %s", name)
		}
		seen[models.CategoryKey(name)] = true

		available := c.Total
		if c.Available != nil {
			available = *c.Available
		}
		if available > c.Total {
			return nil, false, Validation("Category %s has more available than total tickets", name)
		}
		ev.Categories = append(ev.Categories, models.TicketCategory{
			Name:      name,
			Price:     c.Price,
			Total:     c.Total,
			Available: available,
		})
	}

	created := ev.ID == ""
	if created {
		ev.ID = uuid.NewString()
	} else {
		existing, err := s.Get(ctx, ev.ID)
		if err != nil {
			return nil, false, err
		}
		ev.CreatedAt = existing.CreatedAt
		ev.PublishedAt = existing.PublishedAt
	}
	ev.Aggregate()

	if err := s.events.SaveEvent(ctx, ev); err != nil {
		return nil, false, errors.Wrap(err, "failed to save event")
	}

	log.Info().Str("event_id", ev.ID).Bool("created", created).Int("categories", len(ev.Categories)).Msg("Event saved")
	return ev, created, nil
}

// Publish makes an event live. Only the status fields are written, so
// purchases committed meanwhile keep their decrements.
func (s *EventService) Publish(ctx context.Context, id string) (*models.Event, error) {
	ev, err := s.events.PublishEvent(ctx, id, s.clock.Now())
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, NotFound("Event not found")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to publish event %s", id)
	}

	log.Info().Str("event_id", ev.ID).Msg("Event published")
	return ev, nil
}

// Delete removes an event; deleting an unknown id succeeds
func (s *EventService) Delete(ctx context.Context, id string) error {
	err := s.events.DeleteEvent(ctx, id)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return errors.Wrapf(err, "failed to delete event %s", id)
	}
	return nil
}

// SetRules replaces the rule set of an event
func (s *EventService) SetRules(ctx context.Context, eventID string, update RuleUpdate) (*models.ResaleRule, error) {
	return s.rules.SetRules(ctx, eventID, update)
}

// SeedSamples upserts each sample by (title, date), publishing it with its
// rule set. Updated events keep their id and the seats already sold.
func (s *EventService) SeedSamples(ctx context.Context, samples []seed.Sample) ([]SeededEvent, error) {
	out := make([]SeededEvent, 0, len(samples))
	for _, sample := range samples {
		date, err := sample.StartsAt()
		if err != nil {
			return nil, Validation("%s", err.Error())
		}

		existing, err := s.events.FindEventByTitleAndDate(ctx, sample.Title, date)
		if err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return nil, errors.Wrapf(err, "failed to look up %q", sample.Title)
		}

		id := sample.ID()
		if existing != nil {
			id = existing.ID
		}

		now := s.clock.Now()
		ev, err := sample.Event(id, now)
		if err != nil {
			return nil, err
		}

		updated, err := s.events.MergeEvent(ctx, ev)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to seed %q", sample.Title)
		}
		rule := sample.Rule(id, now)
		if err := s.rules.SaveRule(ctx, &rule); err != nil {
			return nil, errors.Wrapf(err, "failed to seed rules for %q", sample.Title)
		}

		out = append(out, SeededEvent{ID: id, Title: sample.Title, Updated: updated})
	}

	log.Info().Int("count", len(out)).Msg("Sample events seeded")
	return out, nil
}
