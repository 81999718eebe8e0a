// Package email renders and delivers the account emails sent by the engine:
// password reset, email verification and welcome.
//
// Delivery goes through a [Sender]. [Mailer] owns rendering and retries;
// senders only move bytes.
package email

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// ErrDelivery wraps every error returned by [Mailer] send methods.
var ErrDelivery = errors.New("email delivery failed")

// Message is a fully rendered email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a rendered message and returns a provider message ID.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// SenderFunc adapts a function to [Sender].
type SenderFunc func(ctx context.Context, msg Message) (string, error)

func (f SenderFunc) Send(ctx context.Context, msg Message) (string, error) {
	return f(ctx, msg)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Recipient identifies who an email goes to.
type Recipient struct {
	Email string
	Name  string
}

// Config controls message content and delivery.
type Config struct {
	From       string
	SiteURL    string
	AppName    string
	ResetPath  string
	VerifyPath string
	ResetTTL   time.Duration
	VerifyTTL  time.Duration
	// SendAttempts bounds delivery attempts per message, including the first.
	// Password-reset mail is always sent once.
	SendAttempts int
	// RetryBase is the first backoff delay. Zero means 200ms.
	RetryBase time.Duration
}

// Mailer renders account emails and hands them to a [Sender] with retries.
type Mailer struct {
	sender Sender
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
}

// NewMailer validates cfg and parses the embedded templates.
func NewMailer(sender Sender, cfg Config, log zerolog.Logger) (*Mailer, error) {
	if sender == nil {
		return nil, errors.New("email sender is required")
	}
	if cfg.From == "" {
		return nil, errors.New("email From is required")
	}
	if _, err := url.Parse(cfg.SiteURL); err != nil {
		return nil, fmt.Errorf("invalid SiteURL: %w", err)
	}
	if cfg.SendAttempts < 1 {
		cfg.SendAttempts = 1
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	if cfg.AppName == "" {
		cfg.AppName = "authcore"
	}
	if err := loadTemplates(); err != nil {
		return nil, err
	}
	return &Mailer{
		sender: sender,
		cfg:    cfg,
		log:    log.With().Str("component", "email").Logger(),
		now:    time.Now,
	}, nil
}

// ResetURL is the link embedded in the password-reset email.
func (m *Mailer) ResetURL(token string) string {
	return m.link(m.cfg.ResetPath, token)
}

// VerifyURL is the link embedded in the verification email.
func (m *Mailer) VerifyURL(token string) string {
	return m.link(m.cfg.VerifyPath, token)
}

func (m *Mailer) link(path, token string) string {
	return strings.TrimRight(m.cfg.SiteURL, "/") + path + "?token=" + url.QueryEscape(token)
}

// SendPasswordReset mails the reset link for token to to in a single
// attempt, keeping its latency close to the unknown-email delay.
func (m *Mailer) SendPasswordReset(ctx context.Context, to Recipient, token string) error {
	return m.send(ctx, "password_reset", to, 1, templateData{
		Title:     "Reset Your Password",
		Name:      to.Name,
		URL:       m.ResetURL(token),
		Label:     "Reset Password",
		ExpiresIn: humanDuration(m.cfg.ResetTTL),
		Footer:    "This email was sent to you because you requested a password reset.",
	})
}

// SendVerification mails the verification link for token to to.
func (m *Mailer) SendVerification(ctx context.Context, to Recipient, token string) error {
	return m.send(ctx, "email_verification", to, m.cfg.SendAttempts, templateData{
		Title:     "Verify Your Email",
		Name:      to.Name,
		URL:       m.VerifyURL(token),
		Label:     "Verify Email Address",
		ExpiresIn: humanDuration(m.cfg.VerifyTTL),
		Footer:    "This email was sent to verify your account.",
	})
}

// SendWelcome greets a newly verified account.
func (m *Mailer) SendWelcome(ctx context.Context, to Recipient) error {
	name := to.Name
	if name == "" {
		name = "User"
	}
	return m.send(ctx, "welcome", to, m.cfg.SendAttempts, templateData{
		Title:  "Welcome to the Family!",
		Name:   name,
		URL:    m.cfg.SiteURL,
		Label:  "Explore Our Site",
		Footer: "You're receiving this email because you signed up for an account.",
	})
}

func (m *Mailer) send(ctx context.Context, kind string, to Recipient, attempts int, data templateData) error {
	data.AppName = m.cfg.AppName
	data.Year = m.now().Year()

	msg, err := render(kind, data)
	if err != nil {
		return fmt.Errorf("%w: render %s: %w", ErrDelivery, kind, err)
	}
	msg.From = m.cfg.From
	msg.To = to.Email

	attempt := 0
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(m.cfg.RetryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		id, sendErr := m.sender.Send(ctx, msg)
		if sendErr != nil {
			var perm *permanentError
			if errors.As(sendErr, &perm) {
				return sendErr
			}
			m.log.Debug().Err(sendErr).Str("template", kind).Int("attempt", attempt).Msg("email send failed, retrying")
			return retry.RetryableError(sendErr)
		}
		m.log.Info().Str("template", kind).Str("message_id", id).Msg("email sent")
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s after %d attempt(s): %w", ErrDelivery, kind, attempt, err)
	}
	return nil
}

// humanDuration renders whole hours the way the email copy expects.
func humanDuration(d time.Duration) string {
	if d <= 0 {
		return "a short while"
	}
	hours := int(d / time.Hour)
	switch {
	case hours == 1:
		return "1 hour"
	case hours > 1:
		return fmt.Sprintf("%d hours", hours)
	}
	minutes := int(d / time.Minute)
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
