package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mklein/backhaul/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_LoadReader_MinimalConfig(t *testing.T) {
	yaml := `
sources:
  - /data
targets:
  - name: gdrive
    path: backups/host
    enabled: true
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, []string{"/data"}, cfg.Sources)
	// Check defaults
	assert.Equal(t, models.StrategySeparate, cfg.Packaging.Strategy)
	assert.Equal(t, models.FormatZip, cfg.Packaging.Format)
	assert.Equal(t, 6, cfg.Packaging.Level)
	assert.Equal(t, models.RetentionNone, cfg.Retention.Policy)
	assert.Equal(t, "rclone", cfg.Rclone.Binary)
	assert.Equal(t, models.ConfigVersion, cfg.Version)
	assert.Nil(t, cfg.Telegram)
	assert.Nil(t, cfg.Email)
}

func TestParser_LoadReader_FullConfig(t *testing.T) {
	yaml := `
version: 1
sources:
  - /data/app
  - /home/user/documents
packaging:
  strategy: single
  format: tar.gz
  level: 9
  password: "hunter2"
retention:
  policy: count
  keep: 4
upload:
  bandwidth_limit_kbps: 512
  retries: 2
  verify: true
space_check: true
auto:
  interval: 24h
targets:
  - name: gdrive
    path: backups/host
    enabled: true
    origin: wizard
  - name: local
    path: /mnt/usb/backups
    enabled: false
rclone:
  binary: /usr/local/bin/rclone
  config: /home/user/.config/rclone/rclone.conf
  extra_args:
    - --transfers=1
telegram:
  bot_token: "123456:ABC"
  chat_id: "-100123456789"
email:
  host: smtp.example.com
  port: 465
  username: backup@example.com
  password: secret
  to: me@example.com
last_run: 1700000000
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)

	assert.Equal(t, []string{"/data/app", "/home/user/documents"}, cfg.Sources)

	assert.Equal(t, models.StrategySingle, cfg.Packaging.Strategy)
	assert.Equal(t, models.FormatTarGz, cfg.Packaging.Format)
	assert.Equal(t, 9, cfg.Packaging.Level)
	assert.Equal(t, "hunter2", cfg.Packaging.Password)

	assert.Equal(t, models.RetentionCount, cfg.Retention.Policy)
	assert.Equal(t, 4, cfg.Retention.Keep)

	assert.Equal(t, 512, cfg.Upload.BandwidthLimitKBps)
	assert.Equal(t, 2, cfg.Upload.Retries)
	assert.True(t, cfg.Upload.Verify)

	assert.True(t, cfg.SpaceCheck)
	assert.Equal(t, 24*time.Hour, cfg.AutoBackup.Interval)

	require.Len(t, cfg.Targets, 2)
	assert.Equal(t, "gdrive", cfg.Targets[0].Name)
	assert.Equal(t, "backups/host", cfg.Targets[0].Path)
	assert.True(t, cfg.Targets[0].Enabled)
	assert.Equal(t, "wizard", cfg.Targets[0].Origin)
	assert.False(t, cfg.Targets[1].Enabled)

	assert.Equal(t, "/usr/local/bin/rclone", cfg.Rclone.Binary)
	assert.Equal(t, []string{"--transfers=1"}, cfg.Rclone.ExtraArgs)

	require.NotNil(t, cfg.Telegram)
	assert.Equal(t, "123456:ABC", cfg.Telegram.BotToken)

	require.NotNil(t, cfg.Email)
	assert.Equal(t, "smtp.example.com", cfg.Email.Host)
	assert.Equal(t, 465, cfg.Email.Port)
	// From defaults to the username
	assert.Equal(t, "backup@example.com", cfg.Email.From)

	assert.Equal(t, int64(1700000000), cfg.LastRunUnix)
}

func TestParser_LoadReader_MigratesLegacySources(t *testing.T) {
	// Version 0 stored the source list as one comma-joined string.
	yaml := `
sources: "/data/app, /home/user/documents,/etc"
targets:
  - name: gdrive
    path: backups
    enabled: true
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, []string{"/data/app", "/home/user/documents", "/etc"}, cfg.Sources)
	assert.Equal(t, models.ConfigVersion, cfg.Version)
}

func TestParser_LoadReader_ExpandsEnv(t *testing.T) {
	t.Setenv("BACKHAUL_TEST_PW", "supersecret")

	yaml := `
sources:
  - /data
packaging:
  password: "${BACKHAUL_TEST_PW}"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, "supersecret", cfg.Packaging.Password)
}

func TestParser_LoadReader_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "relative source",
			yaml: "sources:\n  - data/app\n",
		},
		{
			name: "duplicate source",
			yaml: "sources:\n  - /data\n  - /data\n",
		},
		{
			name: "bad strategy",
			yaml: "sources:\n  - /data\npackaging:\n  strategy: both\n",
		},
		{
			name: "bad format",
			yaml: "sources:\n  - /data\npackaging:\n  format: rar\n",
		},
		{
			name: "level out of range",
			yaml: "sources:\n  - /data\npackaging:\n  level: 12\n",
		},
		{
			name: "count keep below one",
			yaml: "sources:\n  - /data\nretention:\n  policy: count\n  keep: 0\n",
		},
		{
			name: "days keep below one",
			yaml: "sources:\n  - /data\nretention:\n  policy: days\n  keep: 0\n",
		},
		{
			name: "unknown policy",
			yaml: "sources:\n  - /data\nretention:\n  policy: forever\n",
		},
		{
			name: "duplicate target",
			yaml: "sources:\n  - /data\ntargets:\n  - name: a\n    path: x\n  - name: a\n    path: y\n",
		},
		{
			name: "unnamed target",
			yaml: "sources:\n  - /data\ntargets:\n  - path: x\n",
		},
		{
			name: "telegram without chat id",
			yaml: "sources:\n  - /data\ntelegram:\n  bot_token: abc\n",
		},
		{
			name: "email without host",
			yaml: "sources:\n  - /data\nemail:\n  to: me@example.com\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewParser()
			_, err := parser.LoadReader(tt.yaml)
			assert.Error(t, err)
		})
	}
}

func TestParser_LoadFile_MissingFile(t *testing.T) {
	parser := NewParser()
	_, err := parser.LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParser_LoadFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
sources:
  - /data
targets:
  - name: gdrive
    path: backups
    enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	parser := NewParser()
	cfg, err := parser.LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, []string{"/data"}, cfg.Sources)
}
