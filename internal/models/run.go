package models

import "time"

// TimestampLayout is the time layout embedded in archive file names. It sorts
// lexicographically, which retention sweeps rely on.
const TimestampLayout = "20060102150405"

// Archive is a compressed artifact produced from one or more sources for one
// run. The file at FilePath lives in the run-scoped temp directory and is
// deleted as soon as the archive has been offered to every target.
type Archive struct {
	Source    string // human-readable description of what was packaged
	FileName  string
	FilePath  string
	SizeBytes int64
	Format    ArchiveFormat
	CreatedAt time.Time
}

// UploadOutcome is one target's contribution to one archive.
type UploadOutcome struct {
	Target      RemoteTarget
	Archive     string // archive file name
	Transported bool
	Verified    *bool // nil when verification was not requested
	Err         error
}

// Effective reports whether the outcome counts as a successful delivery:
// the transport succeeded and verification, if requested, passed.
func (o UploadOutcome) Effective() bool {
	if !o.Transported {
		return false
	}
	return o.Verified == nil || *o.Verified
}

// SourceEntry is the per-source record in a run report.
type SourceEntry struct {
	Source    string
	Archive   *Archive // nil when packaging failed
	Outcomes  []UploadOutcome
	Err       error // packaging error, nil otherwise
	SizeBytes int64
}

// Succeeded reports whether at least one target effectively received the
// source's archive.
func (e SourceEntry) Succeeded() bool {
	for _, o := range e.Outcomes {
		if o.Effective() {
			return true
		}
	}
	return false
}

// Failed reports whether anything about the entry went wrong: packaging
// failed or any target did not effectively receive the archive.
func (e SourceEntry) Failed() bool {
	if e.Err != nil {
		return true
	}
	for _, o := range e.Outcomes {
		if !o.Effective() {
			return true
		}
	}
	return false
}

// DeletionSummary is the per-target result of a retention sweep.
type DeletionSummary struct {
	Target  string
	Found   int
	Deleted int
	Failed  int
	Err     error // listing error; deletions were not attempted when set
}

// RunStatus is the overall outcome of a run.
type RunStatus string

const (
	StatusSuccess        RunStatus = "success"
	StatusPartialSuccess RunStatus = "partial_success"
	StatusFailure        RunStatus = "failure"
)

// RunReport is the structured outcome of one complete run. It is built
// incrementally and immutable once finalized.
type RunReport struct {
	StartedAt     time.Time
	Duration      time.Duration
	Sources       []SourceEntry
	Deletions     []DeletionSummary
	Status        RunStatus
	FailureReason string
}

// AnyUploadSucceeded reports whether at least one effective delivery happened
// anywhere in the run. Retention enforcement is gated on this.
func (r RunReport) AnyUploadSucceeded() bool {
	for _, e := range r.Sources {
		if e.Succeeded() {
			return true
		}
	}
	return false
}
