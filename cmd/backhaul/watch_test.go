package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// watchFixture writes a minimal due-for-backup config with one file source
// and one local target, and points the global config flag at it.
func watchFixture(t *testing.T) (targetDir string) {
	t.Helper()

	src := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	targetDir = t.TempDir()

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	cfgYAML := fmt.Sprintf(`version: 1
sources:
  - %s
packaging:
  strategy: separate
  format: zip
  level: 6
auto:
  interval: 1s
targets:
  - name: local
    path: %s
    enabled: true
`, src, targetDir)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o644))

	prev := configFile
	configFile = cfgPath
	t.Cleanup(func() { configFile = prev })

	return targetDir
}

func TestCheckOnce_HonorsCanceledContext(t *testing.T) {
	targetDir := watchFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	checkOnce(ctx)

	// A canceled cycle must not ship anything.
	entries, err := os.ReadDir(targetDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCheckOnce_RunsDueBackup(t *testing.T) {
	targetDir := watchFixture(t)

	checkOnce(context.Background())

	entries, err := os.ReadDir(targetDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "notes_txt_")
}
