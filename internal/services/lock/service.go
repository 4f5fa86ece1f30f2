// Package lock provides the single-instance run lock.
package lock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
)

// ErrAlreadyRunning is returned when another live process holds the lock.
var ErrAlreadyRunning = errors.New("another backup run is already in progress")

// Service defines the interface for run-lock operations.
type Service interface {
	Acquire(path string) (*Handle, error)
}

// Handle represents an acquired lock. Release is idempotent and safe to call
// from deferred cleanup on every exit path.
type Handle struct {
	path string
	pid  int

	mu       sync.Mutex
	released bool
}

// Path returns the lock file path.
func (h *Handle) Path() string {
	return h.path
}

// Release removes the lock file if this handle still owns it.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true

	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading lock file: %w", err)
	}

	// Only remove a lock we own.
	if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid != h.pid {
		return nil
	}

	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// PidProbe reports whether a process with the given pid is alive. It exists
// so tests can simulate dead owners.
type PidProbe func(pid int32) (bool, error)

// Impl implements the lock Service interface using a pid lock file.
type Impl struct {
	probe  PidProbe
	logger zerolog.Logger
}

// New creates a new lock service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		probe:  process.PidExists,
		logger: logger,
	}
}

// NewWithProbe creates a new lock service with a custom pid probe (for testing).
func NewWithProbe(logger zerolog.Logger, probe PidProbe) *Impl {
	return &Impl{
		probe:  probe,
		logger: logger,
	}
}

// Acquire attempts an atomic create-if-absent write of the current pid to the
// lock file. A lock file owned by a dead process is reclaimed once, making the
// lock self-healing across crashes.
func (s *Impl) Acquire(path string) (*Handle, error) {
	pid := os.Getpid()

	if err := s.tryCreate(path, pid); err == nil {
		s.logger.Debug().Str("path", path).Int("pid", pid).Msg("run lock acquired")
		return &Handle{path: path, pid: pid}, nil
	} else if !os.IsExist(err) {
		return nil, fmt.Errorf("creating lock file: %w", err)
	}

	ownerPid, err := s.readOwner(path)
	if err != nil {
		return nil, err
	}

	if ownerPid > 0 {
		alive, err := s.probe(int32(ownerPid))
		if err != nil {
			return nil, fmt.Errorf("checking lock owner pid %d: %w", ownerPid, err)
		}
		if alive {
			return nil, fmt.Errorf("%w (pid %d holds %s)", ErrAlreadyRunning, ownerPid, path)
		}
	}

	// Owner is gone (or left garbage behind): reclaim and retry once.
	s.logger.Warn().Str("path", path).Int("owner_pid", ownerPid).Msg("reclaiming stale run lock")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale lock file: %w", err)
	}

	if err := s.tryCreate(path, pid); err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w (lock recreated during reclaim)", ErrAlreadyRunning)
		}
		return nil, fmt.Errorf("creating lock file: %w", err)
	}

	s.logger.Debug().Str("path", path).Int("pid", pid).Msg("run lock acquired after reclaim")
	return &Handle{path: path, pid: pid}, nil
}

func (s *Impl) tryCreate(path string, pid int) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(f, "%d\n", pid); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

// readOwner returns the pid stored in the lock file, or 0 when the content is
// not a pid (treated as stale).
func (s *Impl) readOwner(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, nil
	}
	return pid, nil
}
