package seed

import (
	"bytes"
	_ "embed"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"example.com/blocktix/internal/models"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed sample_events.yaml
var sampleEvents []byte

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Sample is one event definition in a seed file
type Sample struct {
	Title       string           `yaml:"title"`
	Location    string           `yaml:"location"`
	Date        string           `yaml:"date"`
	Description string           `yaml:"description"`
	Image       string           `yaml:"image"`
	Category    string           `yaml:"category"`
	IsFeatured  bool             `yaml:"isFeatured"`
	Categories  []SampleCategory `yaml:"categories"`
	Rules       SampleRules      `yaml:"rules"`
}

// SampleCategory is a ticket tier in a seed file; every seat starts available
type SampleCategory struct {
	Name  string  `yaml:"name"`
	Price float64 `yaml:"price"`
	Total int     `yaml:"total"`
}

// SampleRules lists only the rule fields that differ from the defaults
type SampleRules struct {
	AllowResale              *bool    `yaml:"allowResale"`
	AllowTransfer            *bool    `yaml:"allowTransfer"`
	MaxResalePriceMultiplier *float64 `yaml:"maxResalePriceMultiplier"`
	MaxTicketsPerWallet      *int     `yaml:"maxTicketsPerWallet"`
	SingleUse                bool     `yaml:"singleUse"`
	MinAge                   *int     `yaml:"minAge"`
	RefundUntil              *string  `yaml:"refundUntil"`
}

type file struct {
	Events []Sample `yaml:"events"`
}

// Slug lower-cases s and collapses every run of non-alphanumerics into a dash
func Slug(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// Defaults returns the embedded sample events
func Defaults() ([]Sample, error) {
	return decode(bytes.NewReader(sampleEvents))
}

// LoadFile reads samples from a YAML file on disk
func LoadFile(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open seed file %s", path)
	}
	defer f.Close()
	return decode(f)
}

func decode(r io.Reader) ([]Sample, error) {
	var f file
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, errors.Wrap(err, "failed to decode seed file")
	}
	for i, s := range f.Events {
		if s.Title == "" {
			return nil, errors.Errorf("seed event %d has no title", i)
		}
		if _, err := s.StartsAt(); err != nil {
			return nil, err
		}
	}
	return f.Events, nil
}

// StartsAt parses the sample's RFC 3339 date
func (s Sample) StartsAt() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s.Date)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid date for seed event %q", s.Title)
	}
	return t, nil
}

// ID is the stable identifier assigned to a newly seeded event
func (s Sample) ID() string {
	return Slug(s.Title + "-" + s.Date)
}

// Event builds a live event with every category fully available
func (s Sample) Event(id string, now time.Time) (*models.Event, error) {
	date, err := s.StartsAt()
	if err != nil {
		return nil, err
	}

	ev := &models.Event{
		ID:          id,
		Title:       s.Title,
		Description: s.Description,
		Date:        date.UTC(),
		Location:    s.Location,
		Image:       s.Image,
		Category:    s.Category,
		IsFeatured:  s.IsFeatured,
		Status:      models.EventStatusLive,
		CreatedAt:   now,
		UpdatedAt:   now,
		PublishedAt: &now,
	}
	for _, c := range s.Categories {
		ev.Categories = append(ev.Categories, models.TicketCategory{
			Name:      c.Name,
			Price:     c.Price,
			Total:     c.Total,
			Available: c.Total,
		})
	}
	ev.Aggregate()
	return ev, nil
}

// Rule overlays the sample's rules on the defaults
func (s Sample) Rule(eventID string, now time.Time) models.ResaleRule {
	rule := models.DefaultResaleRule(eventID)
	if s.Rules.AllowResale != nil {
		rule.AllowResale = *s.Rules.AllowResale
	}
	if s.Rules.AllowTransfer != nil {
		rule.AllowTransfer = *s.Rules.AllowTransfer
	}
	if s.Rules.MaxResalePriceMultiplier != nil {
		rule.MaxResalePriceMultiplier = *s.Rules.MaxResalePriceMultiplier
	}
	rule.MaxTicketsPerWallet = s.Rules.MaxTicketsPerWallet
	rule.SingleUse = s.Rules.SingleUse
	rule.MinAge = s.Rules.MinAge
	rule.RefundUntil = s.Rules.RefundUntil
	rule.UpdatedAt = now
	return rule
}
