// Package notify delivers run reports to configured notification channels.
// Delivery is fire-and-forget: a channel failure never fails the backup run.
package notify

import (
	"context"

	"github.com/mklein/backhaul/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for report notification.
type Service interface {
	Send(ctx context.Context, rep models.RunReport)
}

// Channel is one notification backend.
type Channel interface {
	Name() string
	Send(ctx context.Context, rep models.RunReport) error
}

// Impl fans a report out to every configured channel.
type Impl struct {
	channels []Channel
	logger   zerolog.Logger
}

// New creates a notifier from the configured channels. Telegram and email
// are optional; with neither configured, Send is a no-op.
func New(logger zerolog.Logger, cfg *models.Config) *Impl {
	var channels []Channel
	if cfg.Telegram != nil {
		channels = append(channels, NewTelegram(logger, *cfg.Telegram))
	}
	if cfg.Email != nil {
		channels = append(channels, NewEmail(logger, *cfg.Email))
	}
	return &Impl{channels: channels, logger: logger}
}

// NewWithChannels creates a notifier with explicit channels (for testing).
func NewWithChannels(logger zerolog.Logger, channels ...Channel) *Impl {
	return &Impl{channels: channels, logger: logger}
}

// Send delivers the report to every channel, swallowing failures.
func (s *Impl) Send(ctx context.Context, rep models.RunReport) {
	for _, ch := range s.channels {
		if err := ch.Send(ctx, rep); err != nil {
			s.logger.Error().Err(err).Str("channel", ch.Name()).Msg("notification failed")
			continue
		}
		s.logger.Info().Str("channel", ch.Name()).Msg("notification sent")
	}
}
