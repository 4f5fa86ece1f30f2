// Package retention prunes old archives on remote targets.
package retention

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/mklein/backhaul/internal/models"
	"github.com/mklein/backhaul/internal/services/transport"
	"github.com/rs/zerolog"
)

// archivePattern matches the stable archive naming convention
// <sanitized-name>_<YYYYMMDDHHMMSS>.<ext>, capturing name and timestamp.
var archivePattern = regexp.MustCompile(`^([A-Za-z0-9_-]+)_(\d{14})\.(?:zip|tar\.gz)$`)

// Service defines the interface for retention enforcement.
type Service interface {
	Enforce(ctx context.Context, targets []models.RemoteTarget, policy models.RetentionSettings, now time.Time) []models.DeletionSummary
}

// Impl implements the retention Service interface.
type Impl struct {
	transport transport.Transport
	logger    zerolog.Logger
}

// New creates a new retention enforcer on top of a transport.
func New(logger zerolog.Logger, t transport.Transport) *Impl {
	return &Impl{transport: t, logger: logger}
}

// archiveEntry is a remote archive with its filename-embedded base name and
// timestamp. Sorting uses that timestamp, never remote-reported mtimes, so
// sweeps stay deterministic even when a remote's metadata is unreliable.
type archiveEntry struct {
	name  string
	base  string
	stamp time.Time
}

// Enforce applies the policy to every enabled target. A no-op when the
// policy is none.
func (s *Impl) Enforce(ctx context.Context, targets []models.RemoteTarget, policy models.RetentionSettings, now time.Time) []models.DeletionSummary {
	if policy.Policy == models.RetentionNone {
		return nil
	}

	var summaries []models.DeletionSummary
	for _, target := range targets {
		if !target.Enabled {
			continue
		}
		summaries = append(summaries, s.enforceTarget(ctx, target, policy, now))
	}
	return summaries
}

func (s *Impl) enforceTarget(ctx context.Context, target models.RemoteTarget, policy models.RetentionSettings, now time.Time) models.DeletionSummary {
	summary := models.DeletionSummary{Target: target.Name}

	entries, err := s.transport.List(ctx, transport.Ref(target, ""))
	if err != nil {
		s.logger.Error().Err(err).Str("target", target.Name).Msg("listing archives failed, skipping sweep")
		summary.Err = err
		return summary
	}

	archives := matchArchives(entries)
	summary.Found = len(archives)

	for _, a := range selectExpired(archives, policy, now) {
		ref := transport.Ref(target, a.name)
		if err := s.transport.Delete(ctx, ref); err != nil {
			// Best effort per file: log, count, keep sweeping.
			s.logger.Error().Err(err).Str("archive", a.name).Str("target", target.Name).Msg("delete failed")
			summary.Failed++
			continue
		}
		s.logger.Info().Str("archive", a.name).Str("target", target.Name).Msg("expired archive deleted")
		summary.Deleted++
	}

	s.logger.Info().
		Str("target", target.Name).
		Int("found", summary.Found).
		Int("deleted", summary.Deleted).
		Int("failed", summary.Failed).
		Msg("retention sweep completed")
	return summary
}

// selectExpired picks the archives the policy condemns. Count keeps the K
// most recent archives of each name group (one group per source under the
// separate strategy, the all_sources group under single), so one source's
// backlog never starves another's history. Days condemns every archive older
// than the cutoff regardless of grouping.
func selectExpired(archives []archiveEntry, policy models.RetentionSettings, now time.Time) []archiveEntry {
	var doomed []archiveEntry

	switch policy.Policy {
	case models.RetentionCount:
		groups := make(map[string][]archiveEntry)
		var order []string
		for _, a := range archives {
			if _, ok := groups[a.base]; !ok {
				order = append(order, a.base)
			}
			groups[a.base] = append(groups[a.base], a)
		}
		for _, base := range order {
			group := groups[base]
			if len(group) > policy.Keep {
				doomed = append(doomed, group[:len(group)-policy.Keep]...)
			}
		}
	case models.RetentionDays:
		cutoff := now.Add(-time.Duration(policy.Keep) * 24 * time.Hour)
		for _, a := range archives {
			if a.stamp.Before(cutoff) {
				doomed = append(doomed, a)
			}
		}
	}

	return doomed
}

// matchArchives filters entries down to names following the archive naming
// convention and returns them sorted ascending by embedded timestamp.
func matchArchives(entries []transport.Entry) []archiveEntry {
	var out []archiveEntry
	for _, e := range entries {
		m := archivePattern.FindStringSubmatch(e.Name)
		if m == nil {
			continue
		}
		stamp, err := time.ParseInLocation(models.TimestampLayout, m[2], time.Local)
		if err != nil {
			continue
		}
		out = append(out, archiveEntry{name: e.Name, base: m[1], stamp: stamp})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].stamp.Equal(out[j].stamp) {
			return out[i].name < out[j].name
		}
		return out[i].stamp.Before(out[j].stamp)
	})
	return out
}
