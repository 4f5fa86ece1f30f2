// Package uploader ships archives to every enabled remote target.
package uploader

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/mklein/backhaul/internal/models"
	"github.com/mklein/backhaul/internal/services/transport"
	"github.com/rs/zerolog"
)

// Options holds per-run delivery settings.
type Options struct {
	BandwidthLimitKBps int
	Retries            int // extra transport attempts per target
	Verify             bool
}

// Service defines the interface for archive delivery.
type Service interface {
	Upload(ctx context.Context, archive models.Archive, targets []models.RemoteTarget, opts Options) []models.UploadOutcome
}

// Impl implements the uploader Service interface.
type Impl struct {
	transport transport.Transport
	retryWait time.Duration
	logger    zerolog.Logger
}

// New creates a new uploader on top of a transport.
func New(logger zerolog.Logger, t transport.Transport) *Impl {
	return &Impl{
		transport: t,
		retryWait: 5 * time.Second,
		logger:    logger,
	}
}

// NewWithRetryWait creates a new uploader with a custom retry pause (for testing).
func NewWithRetryWait(logger zerolog.Logger, t transport.Transport, wait time.Duration) *Impl {
	u := New(logger, t)
	u.retryWait = wait
	return u
}

// Upload offers the archive to every enabled target in configuration order.
// The loop is exhaustive: a failure at one target never skips the others.
func (s *Impl) Upload(ctx context.Context, archive models.Archive, targets []models.RemoteTarget, opts Options) []models.UploadOutcome {
	var outcomes []models.UploadOutcome

	for _, target := range targets {
		if !target.Enabled {
			continue
		}
		outcomes = append(outcomes, s.uploadOne(ctx, archive, target, opts))
	}

	return outcomes
}

func (s *Impl) uploadOne(ctx context.Context, archive models.Archive, target models.RemoteTarget, opts Options) models.UploadOutcome {
	outcome := models.UploadOutcome{
		Target:  target,
		Archive: archive.FileName,
	}

	ref := transport.Ref(target, archive.FileName)
	s.logger.Info().
		Str("archive", archive.FileName).
		Str("target", target.Name).
		Str("ref", ref).
		Msg("uploading archive")

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryWait), uint64(opts.Retries)),
		ctx,
	)
	err := backoff.Retry(func() error {
		return s.transport.Copy(ctx, archive.FilePath, ref, opts.BandwidthLimitKBps)
	}, bo)
	if err != nil {
		s.logger.Error().Err(err).Str("target", target.Name).Msg("upload failed")
		outcome.Err = err
		return outcome
	}
	outcome.Transported = true

	if opts.Verify {
		ok, err := s.transport.Verify(ctx, archive.FilePath, ref)
		if err != nil {
			s.logger.Error().Err(err).Str("target", target.Name).Msg("verification errored")
			ok = false
			outcome.Err = err
		}
		// A failed verification downgrades the outcome even though the
		// transport reported success.
		outcome.Verified = &ok
		if !ok {
			s.logger.Warn().
				Str("archive", archive.FileName).
				Str("target", target.Name).
				Msg("verification failed, delivery does not count")
			return outcome
		}
	}

	s.logger.Info().
		Str("archive", archive.FileName).
		Str("target", target.Name).
		Bool("verified", opts.Verify).
		Msg("archive delivered")
	return outcome
}
