package notify

import (
	"context"
	"testing"
	"time"

	"example.com/blocktix/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTicketReceipt(t *testing.T) {
	msg, err := RenderTicketReceipt("fan@example.com", TicketReceipt{
		Title:        "Sunburn <Goa>",
		Date:         time.Date(2025, 12, 28, 16, 0, 0, 0, time.UTC),
		Location:     "Vagator Beach, Goa",
		Quantity:     2,
		CategoryName: "VIP",
		OrderID:      "ORD-1-abc",
		TotalAmount:  24000,
	})
	require.NoError(t, err)

	assert.Equal(t, "fan@example.com", msg.To)
	assert.Equal(t, "Your Ticket: Sunburn <Goa>", msg.Subject)
	assert.Contains(t, msg.HTML, "Your BlockTix Ticket")
	assert.Contains(t, msg.HTML, "Sunburn &lt;Goa&gt;")
	assert.Contains(t, msg.HTML, "<strong>Category:</strong> VIP")
	assert.Contains(t, msg.HTML, "ORD-1-abc")
	assert.Contains(t, msg.HTML, "₹24000.00")
}

func TestRenderTicketReceiptWithoutCategory(t *testing.T) {
	msg, err := RenderTicketReceipt("fan@example.com", TicketReceipt{Title: "Flat", Quantity: 1, TotalAmount: 99.5})
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "Category:")
	assert.Contains(t, msg.HTML, "₹99.50")
}

func TestRenderOTP(t *testing.T) {
	msg, err := RenderOTP("fan@example.com", "042137", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "Your BlockTix OTP Code", msg.Subject)
	assert.Contains(t, msg.HTML, "042137")
	assert.Contains(t, msg.HTML, "valid for 10 minutes")
}

func TestNewNotifierWithoutSMTP(t *testing.T) {
	n := NewNotifier(config.SMTPConfig{Host: "smtp.example.com"})
	assert.False(t, n.Configured())
	assert.ErrorIs(t, n.SendOTP(context.Background(), "a@example.com", "123456", time.Minute), ErrNotConfigured)

	n = NewNotifier(config.SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "noreply@example.com"})
	assert.True(t, n.Configured())
}
