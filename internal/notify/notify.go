package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/pkg/errors"
)

// ErrNotConfigured is returned when mail delivery has no SMTP settings
var ErrNotConfigured = errors.New("email not configured")

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("mail").Funcs(template.FuncMap{
	"datetime": func(t time.Time) string { return t.Format("Mon, 02 Jan 2006 3:04 PM MST") },
}).ParseFS(templateFS, "templates/*.html"))

// TicketReceipt is the data rendered into a purchase confirmation
type TicketReceipt struct {
	Title        string
	Date         time.Time
	Location     string
	Quantity     int
	CategoryName string
	OrderID      string
	TotalAmount  float64
}

// Message is a rendered HTML email
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Notifier delivers participant-facing email
type Notifier interface {
	Configured() bool
	SendTicketReceipt(ctx context.Context, to string, receipt TicketReceipt) error
	SendOTP(ctx context.Context, to, code string, validFor time.Duration) error
}

// RenderTicketReceipt builds the purchase confirmation email
func RenderTicketReceipt(to string, receipt TicketReceipt) (Message, error) {
	body, err := render("ticket_receipt.html", receipt)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: fmt.Sprintf("Your Ticket: %s", receipt.Title), HTML: body}, nil
}

// RenderOTP builds the verification code email
func RenderOTP(to, code string, validFor time.Duration) (Message, error) {
	body, err := render("otp.html", struct {
		Code         string
		ValidMinutes int
	}{Code: code, ValidMinutes: int(validFor.Minutes())})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Your BlockTix OTP Code", HTML: body}, nil
}

func render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", errors.Wrapf(err, "failed to render %s", name)
	}
	return buf.String(), nil
}

// Disabled is the notifier used when SMTP is not configured
type Disabled struct{}

// Configured always reports false
func (Disabled) Configured() bool { return false }

// SendTicketReceipt always fails with ErrNotConfigured
func (Disabled) SendTicketReceipt(context.Context, string, TicketReceipt) error {
	return ErrNotConfigured
}

// SendOTP always fails with ErrNotConfigured
func (Disabled) SendOTP(context.Context, string, string, time.Duration) error {
	return ErrNotConfigured
}
