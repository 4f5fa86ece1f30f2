// Package runner orchestrates a complete backup run: lock, validate,
// package, upload, retention, report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mklein/backhaul/internal/models"
	"github.com/mklein/backhaul/internal/services/lock"
	"github.com/mklein/backhaul/internal/services/notify"
	"github.com/mklein/backhaul/internal/services/packager"
	"github.com/mklein/backhaul/internal/services/report"
	"github.com/mklein/backhaul/internal/services/retention"
	"github.com/mklein/backhaul/internal/services/transport"
	"github.com/mklein/backhaul/internal/services/uploader"
	"github.com/rs/zerolog"
)

// ErrValidation is returned when a run aborts before any side effects
// because the source set or enabled-target set is empty.
var ErrValidation = errors.New("run validation failed")

// Store persists the last successful run timestamp.
type Store interface {
	TouchLastRun(cfg *models.Config, ts int64) error
}

// Service defines the interface for the backup orchestrator.
type Service interface {
	Run(ctx context.Context, cfg *models.Config) (*models.RunReport, error)
	CheckAuto(ctx context.Context, cfg *models.Config) (*models.RunReport, bool, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	lockSvc   lock.Service
	packSvc   packager.Service
	uploadSvc uploader.Service
	retainSvc retention.Service
	notifySvc notify.Service
	store     Store
	lockPath  string
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates a runner wired with the real services for the given config.
// The lock file lives next to the config file, so "never two overlapping
// runs" holds per configuration.
func New(logger zerolog.Logger, cfg *models.Config, store Store, lockPath string) *Impl {
	mux := transport.NewMux(
		transport.NewRclone(logger, cfg.Rclone),
		transport.NewLocalDir(logger),
	)
	return &Impl{
		lockSvc:   lock.New(logger),
		packSvc:   packager.New(logger),
		uploadSvc: uploader.New(logger, mux),
		retainSvc: retention.New(logger, mux),
		notifySvc: notify.New(logger, cfg),
		store:     store,
		lockPath:  lockPath,
		logger:    logger,
		now:       time.Now,
	}
}

// NewWithServices creates a runner with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	lockSvc lock.Service,
	packSvc packager.Service,
	uploadSvc uploader.Service,
	retainSvc retention.Service,
	notifySvc notify.Service,
	store Store,
	lockPath string,
	now func() time.Time,
) *Impl {
	return &Impl{
		lockSvc:   lockSvc,
		packSvc:   packSvc,
		uploadSvc: uploadSvc,
		retainSvc: retainSvc,
		notifySvc: notifySvc,
		store:     store,
		lockPath:  lockPath,
		logger:    logger,
		now:       now,
	}
}

// Run executes one complete backup run.
func (s *Impl) Run(ctx context.Context, cfg *models.Config) (*models.RunReport, error) {
	handle, err := s.lockSvc.Acquire(s.lockPath)
	if err != nil {
		return nil, err
	}
	defer s.release(handle)

	return s.runLocked(ctx, cfg)
}

func (s *Impl) release(handle *lock.Handle) {
	if err := handle.Release(); err != nil {
		s.logger.Warn().Err(err).Msg("releasing run lock failed")
	}
}

// runLocked is the run body; the caller holds the run lock.
//
//nolint:gocognit,gocyclo // the run sequence has multiple gated stages by design
func (s *Impl) runLocked(ctx context.Context, cfg *models.Config) (*models.RunReport, error) {
	rb := report.NewBuilder(s.now())
	stamp := rb.StartedAt()

	s.logger.Info().
		Int("sources", len(cfg.Sources)).
		Int("targets", len(cfg.EnabledTargets())).
		Str("strategy", string(cfg.Packaging.Strategy)).
		Msg("starting backup run")

	targets := cfg.EnabledTargets()
	if len(cfg.Sources) == 0 {
		return s.abort(ctx, rb, "no sources configured")
	}
	if len(targets) == 0 {
		return s.abort(ctx, rb, "no enabled targets configured")
	}

	tempDir, err := os.MkdirTemp("", "backhaul-run-")
	if err != nil {
		rb.Fail(fmt.Sprintf("creating temp directory: %v", err))
		rep := rb.Finalize()
		s.notifySvc.Send(ctx, rep)
		return &rep, fmt.Errorf("creating temp directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			s.logger.Warn().Err(err).Str("dir", tempDir).Msg("removing temp directory failed")
		}
	}()

	if cfg.SpaceCheck {
		if err := s.packSvc.EnsureSpace(cfg.Sources, tempDir); err != nil {
			rb.Fail(err.Error())
			rep := rb.Finalize()
			s.notifySvc.Send(ctx, rep)
			return &rep, err
		}
	}

	packOpts := packager.Options{
		Format:   cfg.Packaging.Format,
		Level:    cfg.Packaging.Level,
		Password: cfg.Packaging.Password,
	}
	upOpts := uploader.Options{
		BandwidthLimitKBps: cfg.Upload.BandwidthLimitKBps,
		Retries:            cfg.Upload.Retries,
		Verify:             cfg.Upload.Verify,
	}

	// Under single, all sources form one unit; under separate, each source
	// is packaged, uploaded and cleaned up before the next one, bounding
	// temp-disk usage to roughly one archive at a time.
	var units [][]string
	if cfg.Packaging.Strategy == models.StrategySingle {
		units = [][]string{cfg.Sources}
	} else {
		for _, src := range cfg.Sources {
			units = append(units, []string{src})
		}
	}

	anySucceeded := false
	for _, unit := range units {
		if ctx.Err() != nil {
			break
		}
		entry := s.processUnit(ctx, tempDir, unit, cfg.Packaging.Strategy, stamp, packOpts, upOpts, targets)
		if entry.Succeeded() {
			anySucceeded = true
		}
		rb.RecordSource(entry)
	}

	// Never prune remote state when nothing new was confirmed written.
	if anySucceeded {
		for _, summary := range s.retainSvc.Enforce(ctx, targets, cfg.Retention, s.now()) {
			rb.RecordRetention(summary)
		}
	} else {
		s.logger.Warn().Msg("no upload succeeded, skipping retention")
	}

	rep := rb.Finalize()
	s.notifySvc.Send(ctx, rep)

	if rep.Status != models.StatusFailure && anySucceeded {
		if err := s.store.TouchLastRun(cfg, s.now().Unix()); err != nil {
			s.logger.Error().Err(err).Msg("persisting last-run timestamp failed")
		}
	}

	s.logger.Info().
		Str("status", string(rep.Status)).
		Dur("duration", rep.Duration).
		Msg("backup run finished")
	return &rep, nil
}

// abort finalizes a failure report for a pre-side-effect validation error.
func (s *Impl) abort(ctx context.Context, rb *report.Builder, reason string) (*models.RunReport, error) {
	s.logger.Error().Str("reason", reason).Msg("run aborted")
	rb.Fail(reason)
	rep := rb.Finalize()
	s.notifySvc.Send(ctx, rep)
	return &rep, fmt.Errorf("%w: %s", ErrValidation, reason)
}

// processUnit packages one unit, offers the archive to every target, and
// deletes the archive unconditionally afterwards.
func (s *Impl) processUnit(
	ctx context.Context,
	tempDir string,
	unit []string,
	strategy models.PackagingStrategy,
	stamp time.Time,
	packOpts packager.Options,
	upOpts uploader.Options,
	targets []models.RemoteTarget,
) models.SourceEntry {
	desc := unit[0]
	if strategy == models.StrategySingle {
		desc = "all sources"
	}

	archive, err := s.packSvc.Package(ctx, tempDir, unit, strategy, stamp, packOpts)
	if err != nil {
		// Non-fatal: record and continue with the next source.
		s.logger.Error().Err(err).Str("source", desc).Msg("packaging failed, skipping source")
		return models.SourceEntry{Source: desc, Err: err}
	}

	outcomes := s.uploadSvc.Upload(ctx, *archive, targets, upOpts)

	if err := os.Remove(archive.FilePath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("archive", archive.FilePath).Msg("removing archive failed")
	}

	return models.SourceEntry{
		Source:    archive.Source,
		Archive:   archive,
		Outcomes:  outcomes,
		SizeBytes: archive.SizeBytes,
	}
}

// CheckAuto runs a backup only if the configured interval has elapsed since
// the last successful run. It reports whether a run was attempted. The lock
// is taken before the due-check, so concurrent scheduler invocations surface
// as a lock conflict instead of both evaluating.
func (s *Impl) CheckAuto(ctx context.Context, cfg *models.Config) (*models.RunReport, bool, error) {
	if cfg.AutoBackup.Interval <= 0 {
		s.logger.Info().Msg("auto backup disabled, nothing to do")
		return nil, false, nil
	}

	handle, err := s.lockSvc.Acquire(s.lockPath)
	if err != nil {
		return nil, false, err
	}
	defer s.release(handle)

	if cfg.LastRunUnix > 0 {
		elapsed := s.now().Sub(time.Unix(cfg.LastRunUnix, 0))
		if elapsed < cfg.AutoBackup.Interval {
			s.logger.Info().
				Dur("elapsed", elapsed).
				Dur("interval", cfg.AutoBackup.Interval).
				Msg("backup not due yet")
			return nil, false, nil
		}
	}

	rep, err := s.runLocked(ctx, cfg)
	return rep, true, err
}
