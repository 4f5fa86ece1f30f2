package transport

import (
	"context"
	"crypto/md5" //nolint:gosec // matches the checksum rclone reports, not used for security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/mklein/backhaul/internal/models"
	"github.com/rs/zerolog"
)

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its combined output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Rclone drives the rclone binary. It is the default transport and covers
// every backend rclone supports.
type Rclone struct {
	executor CommandExecutor
	cfg      models.RcloneConfig
	logger   zerolog.Logger
}

// NewRclone creates a new rclone transport.
func NewRclone(logger zerolog.Logger, cfg models.RcloneConfig) *Rclone {
	return &Rclone{
		executor: &DefaultExecutor{},
		cfg:      cfg,
		logger:   logger,
	}
}

// NewRcloneWithExecutor creates a new rclone transport with a custom executor (for testing).
func NewRcloneWithExecutor(logger zerolog.Logger, cfg models.RcloneConfig, executor CommandExecutor) *Rclone {
	return &Rclone{
		executor: executor,
		cfg:      cfg,
		logger:   logger,
	}
}

func (t *Rclone) buildArgs(verb string, args ...string) []string {
	out := []string{verb}
	if t.cfg.ConfigPath != "" {
		out = append(out, "--config", t.cfg.ConfigPath)
	}
	out = append(out, t.cfg.ExtraArgs...)
	return append(out, args...)
}

// Copy uploads a local file with rclone copyto, preserving the archive name.
func (t *Rclone) Copy(ctx context.Context, localPath, remoteRef string, limitKBps int) error {
	args := t.buildArgs("copyto", localPath, remoteRef)
	if limitKBps > 0 {
		args = append(args, "--bwlimit", fmt.Sprintf("%dk", limitKBps))
	}

	t.logger.Debug().Str("local", localPath).Str("remote", remoteRef).Msg("rclone copyto")
	output, err := t.executor.Execute(ctx, t.cfg.Binary, args...)
	if err != nil {
		return fmt.Errorf("rclone copyto failed: %w, output: %s", err, string(output))
	}
	return nil
}

// lsjsonEntry is one element of rclone lsjson output.
type lsjsonEntry struct {
	Path  string `json:"Path"`
	Name  string `json:"Name"`
	Size  int64  `json:"Size"`
	IsDir bool   `json:"IsDir"`
}

// List returns the files directly under remoteRef.
func (t *Rclone) List(ctx context.Context, remoteRef string) ([]Entry, error) {
	output, err := t.executor.Execute(ctx, t.cfg.Binary, t.buildArgs("lsjson", remoteRef)...)
	if err != nil {
		// A target that never received an archive is a valid, empty state.
		if strings.Contains(string(output), "directory not found") {
			return nil, nil
		}
		return nil, fmt.Errorf("rclone lsjson failed: %w, output: %s", err, string(output))
	}

	var raw []lsjsonEntry
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("parsing rclone lsjson output: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		if e.IsDir {
			continue
		}
		entries = append(entries, Entry{Name: e.Name, Size: e.Size})
	}
	return entries, nil
}

// Delete removes a single remote file.
func (t *Rclone) Delete(ctx context.Context, remoteRef string) error {
	output, err := t.executor.Execute(ctx, t.cfg.Binary, t.buildArgs("deletefile", remoteRef)...)
	if err != nil {
		return fmt.Errorf("rclone deletefile failed: %w, output: %s", err, string(output))
	}
	return nil
}

// md5Hex matches the 32-character hash column of rclone md5sum output.
var md5Hex = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// Verify compares the remote copy's md5 against the local file; backends that
// report no checksum fall back to a size comparison.
func (t *Rclone) Verify(ctx context.Context, localPath, remoteRef string) (bool, error) {
	output, err := t.executor.Execute(ctx, t.cfg.Binary, t.buildArgs("md5sum", remoteRef)...)
	if err != nil {
		return false, fmt.Errorf("rclone md5sum failed: %w, output: %s", err, string(output))
	}

	remoteSum := ""
	if fields := strings.Fields(strings.TrimSpace(string(output))); len(fields) > 0 {
		remoteSum = fields[0]
	}

	// Backends without MD5 support print UNSUPPORTED, or a blank hash column
	// leaving the file name as the first field. Anything that is not a hash
	// means "no checksum available", not a mismatch.
	if !md5Hex.MatchString(remoteSum) {
		return t.verifyBySize(ctx, localPath, remoteRef)
	}

	localSum, err := fileMD5(localPath)
	if err != nil {
		return false, fmt.Errorf("hashing local archive: %w", err)
	}

	ok := strings.EqualFold(remoteSum, localSum)
	if !ok {
		t.logger.Warn().
			Str("remote", remoteRef).
			Str("remote_md5", remoteSum).
			Str("local_md5", localSum).
			Msg("remote checksum mismatch")
	}
	return ok, nil
}

func (t *Rclone) verifyBySize(ctx context.Context, localPath, remoteRef string) (bool, error) {
	output, err := t.executor.Execute(ctx, t.cfg.Binary, t.buildArgs("lsjson", remoteRef)...)
	if err != nil {
		return false, fmt.Errorf("rclone lsjson failed: %w, output: %s", err, string(output))
	}

	var raw []lsjsonEntry
	if err := json.Unmarshal(output, &raw); err != nil {
		return false, fmt.Errorf("parsing rclone lsjson output: %w", err)
	}
	if len(raw) != 1 {
		return false, nil
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return false, fmt.Errorf("stating local archive: %w", err)
	}
	return raw[0].Size == info.Size(), nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := md5.New() //nolint:gosec // integrity check against rclone's md5, not cryptographic use
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
