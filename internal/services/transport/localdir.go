package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/juju/ratelimit"
	"github.com/rs/zerolog"
)

// LocalDir serves targets named "local": plain directories on an attached
// disk. Copies honor the shared bandwidth ceiling through a token bucket.
type LocalDir struct {
	logger zerolog.Logger
}

// NewLocalDir creates a new local-directory transport.
func NewLocalDir(logger zerolog.Logger) *LocalDir {
	return &LocalDir{logger: logger}
}

// Copy writes the local file to the destination path, rate limited to
// limitKBps when non-zero.
func (t *LocalDir) Copy(ctx context.Context, localPath, remoteRef string, limitKBps int) error {
	if err := os.MkdirAll(filepath.Dir(remoteRef), 0o755); err != nil {
		return fmt.Errorf("creating target directory: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(remoteRef)
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}

	var w io.Writer = dst
	if limitKBps > 0 {
		rate := float64(limitKBps) * 1024
		bucket := ratelimit.NewBucketWithRate(rate, int64(rate))
		w = ratelimit.Writer(dst, bucket)
	}

	if _, err := io.Copy(w, contextReader{ctx: ctx, r: src}); err != nil {
		_ = dst.Close()
		_ = os.Remove(remoteRef)
		return fmt.Errorf("copying to %s: %w", remoteRef, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("closing destination: %w", err)
	}

	t.logger.Debug().Str("local", localPath).Str("dest", remoteRef).Msg("local copy done")
	return nil
}

// List returns the files directly under the directory remoteRef.
func (t *LocalDir) List(_ context.Context, remoteRef string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(remoteRef)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", remoteRef, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, fmt.Errorf("stating %s: %w", de.Name(), err)
		}
		entries = append(entries, Entry{Name: de.Name(), Size: info.Size()})
	}
	return entries, nil
}

// Delete removes a single file.
func (t *LocalDir) Delete(_ context.Context, remoteRef string) error {
	if err := os.Remove(remoteRef); err != nil {
		return fmt.Errorf("deleting %s: %w", remoteRef, err)
	}
	return nil
}

// Verify compares sha256 digests of the local file and the stored copy.
func (t *LocalDir) Verify(_ context.Context, localPath, remoteRef string) (bool, error) {
	localSum, err := fileSHA256(localPath)
	if err != nil {
		return false, fmt.Errorf("hashing local archive: %w", err)
	}
	remoteSum, err := fileSHA256(remoteRef)
	if err != nil {
		return false, fmt.Errorf("hashing stored copy: %w", err)
	}
	return localSum == remoteSum, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// contextReader aborts a copy when the context is canceled, so a signal can
// interrupt a rate-limited transfer.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
