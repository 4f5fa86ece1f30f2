package notify

import (
	"context"
	"fmt"

	"github.com/mklein/backhaul/internal/models"
	"github.com/mklein/backhaul/internal/services/report"
	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// MailSender allows mocking the SMTP dialer.
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Email sends run reports over SMTP.
type Email struct {
	sender MailSender
	cfg    models.EmailConfig
	logger zerolog.Logger
}

// NewEmail creates a new email channel.
func NewEmail(logger zerolog.Logger, cfg models.EmailConfig) *Email {
	return &Email{
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		cfg:    cfg,
		logger: logger,
	}
}

// NewEmailWithSender creates a new email channel with a custom sender (for testing).
func NewEmailWithSender(logger zerolog.Logger, cfg models.EmailConfig, sender MailSender) *Email {
	return &Email{sender: sender, cfg: cfg, logger: logger}
}

// Name implements Channel.
func (e *Email) Name() string {
	return "email"
}

// Send implements Channel.
func (e *Email) Send(_ context.Context, rep models.RunReport) error {
	m := gomail.NewMessage()
	m.SetHeader("From", e.cfg.From)
	m.SetHeader("To", e.cfg.To)
	m.SetHeader("Subject", subjectFor(rep))
	m.SetBody("text/plain", report.Render(rep))

	if err := e.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	return nil
}

func subjectFor(rep models.RunReport) string {
	switch rep.Status {
	case models.StatusSuccess:
		return "Backup successful"
	case models.StatusPartialSuccess:
		return "Backup partially successful"
	default:
		return "Backup FAILED"
	}
}
