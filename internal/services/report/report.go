// Package report accumulates per-source and per-target outcomes into one
// structured run report.
package report

import (
	"time"

	"github.com/mklein/backhaul/internal/models"
)

// Builder collects entries as a run proceeds. It has no network
// responsibility; the finalized report is handed to the notifier.
type Builder struct {
	startedAt     time.Time
	sources       []models.SourceEntry
	deletions     []models.DeletionSummary
	failureReason string
	finalized     bool
	now           func() time.Time
}

// NewBuilder starts a report for a run beginning at startedAt.
func NewBuilder(startedAt time.Time) *Builder {
	return &Builder{startedAt: startedAt, now: time.Now}
}

// NewBuilderWithClock starts a report with a custom clock (for testing).
func NewBuilderWithClock(startedAt time.Time, now func() time.Time) *Builder {
	return &Builder{startedAt: startedAt, now: now}
}

// StartedAt returns the run start time shared by all archives in the run.
func (b *Builder) StartedAt() time.Time {
	return b.startedAt
}

// RecordSource adds a per-source entry.
func (b *Builder) RecordSource(entry models.SourceEntry) {
	if b.finalized {
		return
	}
	b.sources = append(b.sources, entry)
}

// RecordRetention adds a per-target deletion summary.
func (b *Builder) RecordRetention(summary models.DeletionSummary) {
	if b.finalized {
		return
	}
	b.deletions = append(b.deletions, summary)
}

// Fail marks the run as failed before any side effects, e.g. on validation
// errors or a refused space check.
func (b *Builder) Fail(reason string) {
	if b.finalized {
		return
	}
	b.failureReason = reason
}

// Finalize derives the overall status and seals the report.
func (b *Builder) Finalize() models.RunReport {
	b.finalized = true

	rep := models.RunReport{
		StartedAt:     b.startedAt,
		Duration:      b.now().Sub(b.startedAt),
		Sources:       b.sources,
		Deletions:     b.deletions,
		FailureReason: b.failureReason,
	}
	rep.Status = deriveStatus(rep)
	return rep
}

// deriveStatus: success when every source reached at least one target and
// nothing failed anywhere; failure when a pre-run error occurred or no upload
// succeeded at all; partial success in between.
func deriveStatus(rep models.RunReport) models.RunStatus {
	if rep.FailureReason != "" {
		return models.StatusFailure
	}

	anySucceeded := false
	anyFailed := false
	for _, e := range rep.Sources {
		if e.Succeeded() {
			anySucceeded = true
		}
		if e.Failed() {
			anyFailed = true
		}
	}

	switch {
	case !anySucceeded:
		return models.StatusFailure
	case anyFailed:
		return models.StatusPartialSuccess
	default:
		return models.StatusSuccess
	}
}
