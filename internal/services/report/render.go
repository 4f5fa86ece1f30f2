package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mklein/backhaul/internal/models"
)

// Render produces the human-readable run report used for CLI output and
// notifications.
//
//nolint:gocognit // plain formatting of every report section
func Render(rep models.RunReport) string {
	var b strings.Builder

	switch rep.Status {
	case models.StatusSuccess:
		b.WriteString("Backup run: SUCCESS\n")
	case models.StatusPartialSuccess:
		b.WriteString("Backup run: PARTIAL SUCCESS\n")
	default:
		b.WriteString("Backup run: FAILURE\n")
	}

	b.WriteString(fmt.Sprintf("Started:  %s\n", rep.StartedAt.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("Duration: %s\n", rep.Duration.Round(time.Second)))

	if rep.FailureReason != "" {
		b.WriteString(fmt.Sprintf("Reason:   %s\n", rep.FailureReason))
	}

	if len(rep.Sources) > 0 {
		b.WriteString("\nSources:\n")
		for _, e := range rep.Sources {
			if e.Err != nil {
				b.WriteString(fmt.Sprintf("  %s: packaging failed: %v\n", e.Source, e.Err))
				continue
			}

			size := ""
			if e.Archive != nil {
				size = " (" + humanize.Bytes(uint64(e.Archive.SizeBytes)) + ")"
			}
			b.WriteString(fmt.Sprintf("  %s%s\n", e.Source, size))

			for _, o := range e.Outcomes {
				b.WriteString(fmt.Sprintf("    -> %s: %s\n", o.Target.Name, outcomeLabel(o)))
			}
		}
	}

	if len(rep.Deletions) > 0 {
		b.WriteString("\nRetention:\n")
		for _, d := range rep.Deletions {
			if d.Err != nil {
				b.WriteString(fmt.Sprintf("  %s: sweep skipped: %v\n", d.Target, d.Err))
				continue
			}
			b.WriteString(fmt.Sprintf("  %s: %d found, %d deleted", d.Target, d.Found, d.Deleted))
			if d.Failed > 0 {
				b.WriteString(fmt.Sprintf(", %d delete failures", d.Failed))
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

func outcomeLabel(o models.UploadOutcome) string {
	switch {
	case !o.Transported && o.Err != nil:
		return fmt.Sprintf("failed: %v", o.Err)
	case !o.Transported:
		return "failed"
	case o.Verified != nil && !*o.Verified:
		return "uploaded but verification failed"
	case o.Verified != nil:
		return "delivered and verified"
	default:
		return "delivered"
	}
}
