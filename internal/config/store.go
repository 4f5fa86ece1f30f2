package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mklein/backhaul/internal/models"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Store persists configuration back to disk. Saves are atomic: the document
// is written to a temp file in the same directory and renamed over the
// original, so a crash mid-save cannot corrupt prior state.
type Store struct {
	path   string
	logger zerolog.Logger
}

// NewStore creates a store bound to a config file path.
func NewStore(logger zerolog.Logger, path string) *Store {
	return &Store{path: path, logger: logger}
}

// Path returns the config file path the store writes to.
func (s *Store) Path() string {
	return s.path
}

// Save writes the configuration atomically.
func (s *Store) Save(cfg *models.Config) error {
	cfg.Version = models.ConfigVersion

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".backhaul-config-*")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp config: %w", err)
	}

	// Config may hold credentials.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("setting config permissions: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing config: %w", err)
	}

	s.logger.Debug().Str("path", s.path).Msg("configuration saved")
	return nil
}

// TouchLastRun updates the last successful run timestamp and persists the
// configuration.
func (s *Store) TouchLastRun(cfg *models.Config, ts int64) error {
	cfg.LastRunUnix = ts
	return s.Save(cfg)
}
