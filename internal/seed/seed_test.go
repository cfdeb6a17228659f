package seed

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"example.com/blocktix/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	assert.Equal(t, "india-vs-australia-t20-match", Slug("India vs Australia – T20 Match"))
	assert.Equal(t, "vip-networking", Slug("  VIP + Networking!! "))
	assert.Equal(t, "", Slug("---"))
}

func TestDefaults(t *testing.T) {
	samples, err := Defaults()
	require.NoError(t, err)
	require.Len(t, samples, 5)

	byTitle := make(map[string]Sample)
	for _, s := range samples {
		byTitle[s.Title] = s
	}

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	t20 := byTitle["India vs Australia – T20 Match"]
	rule := t20.Rule("t20", now)
	require.NotNil(t, rule.MaxTicketsPerWallet)
	assert.Equal(t, 4, *rule.MaxTicketsPerWallet)
	assert.Equal(t, 1.2, rule.MaxResalePriceMultiplier)
	assert.True(t, rule.AllowTransfer)

	ratha := byTitle["Ratha Yatra – Jagannath Puri Darshan Pass"].Rule("ratha", now)
	assert.True(t, ratha.SingleUse)
	assert.False(t, ratha.AllowResale)
	assert.False(t, ratha.AllowTransfer)

	summit := byTitle["Indian Tech Summit 2026"].Rule("summit", now)
	require.NotNil(t, summit.RefundUntil)
	assert.Equal(t, "2026-03-10", *summit.RefundUntil)
}

func TestSampleEventAggregatesCategories(t *testing.T) {
	samples, err := Defaults()
	require.NoError(t, err)

	now := time.Now().UTC()
	ev, err := samples[0].Event(samples[0].ID(), now)
	require.NoError(t, err)

	assert.Equal(t, models.EventStatusLive, ev.Status)
	assert.Equal(t, 4999.0, ev.Price)
	assert.Equal(t, 20000, ev.TotalTickets)
	assert.Equal(t, 20000, ev.AvailableTickets)
	assert.Equal(t, "sunburn-music-festival-goa-2025-2025-12-27t16-00-00-05-30", ev.ID)
	require.NotNil(t, ev.PublishedAt)
}

func TestLoadFileRejectsBadDates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.yaml")
	require.NoError(t, os.WriteFile(path, []byte("events:\n  - title: X\n    date: tomorrow\n"), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
}
