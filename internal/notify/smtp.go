package notify

import (
	"context"
	"time"

	"example.com/blocktix/config"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/wneessen/go-mail"
)

const implicitTLSPort = 465

// SMTPMailer sends HTML mail through a single SMTP relay
type SMTPMailer struct {
	cfg config.SMTPConfig
}

// NewNotifier returns an SMTP mailer when cfg is complete and a Disabled
// notifier otherwise
func NewNotifier(cfg config.SMTPConfig) Notifier {
	if !cfg.Configured() {
		log.Warn().Msg("SMTP not configured, emails will not be sent")
		return Disabled{}
	}
	return &SMTPMailer{cfg: cfg}
}

// Configured reports true
func (m *SMTPMailer) Configured() bool { return true }

// SendTicketReceipt emails the purchase confirmation
func (m *SMTPMailer) SendTicketReceipt(ctx context.Context, to string, receipt TicketReceipt) error {
	msg, err := RenderTicketReceipt(to, receipt)
	if err != nil {
		return err
	}
	return m.Send(ctx, msg)
}

// SendOTP emails a verification code
func (m *SMTPMailer) SendOTP(ctx context.Context, to, code string, validFor time.Duration) error {
	msg, err := RenderOTP(to, code, validFor)
	if err != nil {
		return err
	}
	return m.Send(ctx, msg)
}

// Send delivers a rendered message
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	mm := mail.NewMsg()
	if err := mm.From(m.cfg.From); err != nil {
		return errors.Wrap(err, "invalid sender address")
	}
	if err := mm.To(msg.To); err != nil {
		return errors.Wrapf(err, "invalid recipient address %q", msg.To)
	}
	mm.Subject(msg.Subject)
	mm.SetBodyString(mail.TypeTextHTML, msg.HTML)

	client, err := mail.NewClient(m.cfg.Host, m.clientOptions()...)
	if err != nil {
		return errors.Wrap(err, "failed to create SMTP client")
	}

	if err := client.DialAndSendWithContext(ctx, mm); err != nil {
		return errors.Wrap(err, "failed to send email")
	}

	log.Debug().Str("to", msg.To).Str("subject", msg.Subject).Msg("Email sent")
	return nil
}

func (m *SMTPMailer) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
	}
	if m.cfg.Port == implicitTLSPort {
		return append(opts, mail.WithSSL())
	}
	return append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
}
