// Package packager turns source paths into compressed archives.
package packager

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/alexmullins/zip"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/mklein/backhaul/internal/models"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/disk"
)

// ErrInsufficientSpace is returned by EnsureSpace when the temp directory's
// filesystem cannot hold the sources plus safety margin.
var ErrInsufficientSpace = errors.New("not enough free space for packaging")

// SingleArchiveBase is the name base used when all sources go into one archive.
const SingleArchiveBase = "all_sources"

// Options holds per-run archive creation settings.
type Options struct {
	Format   models.ArchiveFormat
	Level    int    // 1..9
	Password string // zip only; empty disables encryption
}

// Service defines the interface for archive creation.
type Service interface {
	EnsureSpace(sources []string, tempDir string) error
	Package(ctx context.Context, tempDir string, sources []string, strategy models.PackagingStrategy, stamp time.Time, opts Options) (*models.Archive, error)
}

// FreeSpaceProbe reports the free bytes on the filesystem holding path. It
// exists so tests can simulate full disks.
type FreeSpaceProbe func(path string) (uint64, error)

// Impl implements the packager Service interface.
type Impl struct {
	freeSpace FreeSpaceProbe
	names     map[string]int // archive name bases used, keyed per run timestamp
	logger    zerolog.Logger
}

// New creates a new packager.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		freeSpace: func(path string) (uint64, error) {
			usage, err := disk.Usage(path)
			if err != nil {
				return 0, err
			}
			return usage.Free, nil
		},
		names:  make(map[string]int),
		logger: logger,
	}
}

// NewWithProbe creates a new packager with a custom free-space probe (for testing).
func NewWithProbe(logger zerolog.Logger, probe FreeSpaceProbe) *Impl {
	p := New(logger)
	p.freeSpace = probe
	return p
}

// EnsureSpace sums the on-disk size of all sources, applies a 20% safety
// margin, and compares against free space in the temp directory's filesystem.
func (s *Impl) EnsureSpace(sources []string, tempDir string) error {
	var total int64
	for _, src := range sources {
		size, err := sourceSize(src)
		if err != nil {
			return fmt.Errorf("sizing source %s: %w", src, err)
		}
		total += size
	}

	need := total + total/5
	free, err := s.freeSpace(tempDir)
	if err != nil {
		return fmt.Errorf("checking free space in %s: %w", tempDir, err)
	}

	if uint64(need) > free {
		return fmt.Errorf("%w: need %d bytes (with margin), %d free in %s",
			ErrInsufficientSpace, need, free, tempDir)
	}

	s.logger.Debug().
		Int64("sources_bytes", total).
		Uint64("free_bytes", free).
		Msg("pre-flight space check passed")
	return nil
}

// Package produces one archive from the given sources. Under the separate
// strategy it is called once per source; under single, once with all sources.
// The timestamp is the run start time, shared by every archive in the run.
func (s *Impl) Package(ctx context.Context, tempDir string, sources []string, strategy models.PackagingStrategy, stamp time.Time, opts Options) (*models.Archive, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources to package")
	}

	var base string
	var desc string
	if strategy == models.StrategySingle {
		base = SingleArchiveBase
		desc = "all sources"
	} else {
		base = SanitizeName(filepath.Base(sources[0]))
		desc = sources[0]
	}

	fileName := s.buildName(base, stamp, opts.Format)
	filePath := filepath.Join(tempDir, fileName)

	s.logger.Info().
		Strs("sources", sources).
		Str("archive", fileName).
		Msg("packaging sources")

	var err error
	switch opts.Format {
	case models.FormatTarGz:
		err = s.writeTarGz(ctx, filePath, sources, opts.Level)
	default:
		err = s.writeZip(ctx, filePath, sources, opts.Level, opts.Password)
	}
	if err != nil {
		_ = os.Remove(filePath)
		return nil, fmt.Errorf("packaging %s: %w", desc, err)
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("stating archive: %w", err)
	}

	archive := &models.Archive{
		Source:    desc,
		FileName:  fileName,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		Format:    opts.Format,
		CreatedAt: stamp,
	}

	s.logger.Info().
		Str("archive", fileName).
		Int64("size", archive.SizeBytes).
		Msg("archive created")
	return archive, nil
}

// buildName assembles <base>_<YYYYMMDDHHMMSS>.<ext>, suffixing the base when
// two sources sanitize to the same name within one run. The dedupe key
// includes the run timestamp so successive runs start fresh.
func (s *Impl) buildName(base string, stamp time.Time, format models.ArchiveFormat) string {
	ts := stamp.Format(models.TimestampLayout)
	key := base + "_" + ts
	n := s.names[key]
	s.names[key]++
	if n > 0 {
		base = fmt.Sprintf("%s_%d", base, n+1)
	}
	return fmt.Sprintf("%s_%s.%s", base, ts, format.Ext())
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeName reduces a source basename to remote-safe characters.
func SanitizeName(name string) string {
	out := unsafeNameChars.ReplaceAllString(name, "_")
	if out == "" {
		return "source"
	}
	return out
}

// entry is one file to store in an archive, with its archive-relative name.
type entry struct {
	path string
	name string
	info os.FileInfo
}

// collectEntries walks the sources. Directory contents are stored relative to
// the source's parent, so the archive roots at the source's basename and a
// restore never recreates absolute paths.
func collectEntries(ctx context.Context, sources []string) ([]entry, error) {
	var entries []entry

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(src)
		if err != nil {
			return nil, fmt.Errorf("stating source: %w", err)
		}

		if !info.IsDir() {
			entries = append(entries, entry{path: src, name: filepath.Base(src), info: info})
			continue
		}

		parent := filepath.Dir(src)
		err = filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if fi.IsDir() || !fi.Mode().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(parent, path)
			if err != nil {
				return err
			}
			entries = append(entries, entry{path: path, name: filepath.ToSlash(rel), info: fi})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking source %s: %w", src, err)
		}
	}

	return entries, nil
}

func (s *Impl) writeZip(ctx context.Context, dest string, sources []string, level int, password string) error {
	entries, err := collectEntries(ctx, sources)
	if err != nil {
		return err
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	zw := zip.NewWriter(f)
	zip.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	for _, e := range entries {
		hdr, err := zip.FileInfoHeader(e.info)
		if err != nil {
			return fmt.Errorf("building header for %s: %w", e.path, err)
		}
		hdr.Name = e.name
		hdr.Method = zip.Deflate
		if password != "" {
			hdr.SetPassword(password)
		}

		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("adding %s: %w", e.name, err)
		}
		if err := copyFile(w, e.path); err != nil {
			return fmt.Errorf("compressing %s: %w", e.path, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	return f.Close()
}

func (s *Impl) writeTarGz(ctx context.Context, dest string, sources []string, level int) error {
	entries, err := collectEntries(ctx, sources)
	if err != nil {
		return err
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	gzw, err := gzip.NewWriterLevel(f, level)
	if err != nil {
		return fmt.Errorf("initializing gzip: %w", err)
	}
	tw := tar.NewWriter(gzw)

	for _, e := range entries {
		hdr, err := tar.FileInfoHeader(e.info, "")
		if err != nil {
			return fmt.Errorf("building header for %s: %w", e.path, err)
		}
		hdr.Name = e.name

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("adding %s: %w", e.name, err)
		}
		if err := copyFile(tw, e.path); err != nil {
			return fmt.Errorf("compressing %s: %w", e.path, err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finishing tar: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("finishing gzip: %w", err)
	}
	return f.Close()
}

func copyFile(w io.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	_, err = io.Copy(w, src)
	return err
}

func sourceSize(src string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = filepath.Walk(src, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			total += fi.Size()
		}
		return nil
	})
	return total, err
}
