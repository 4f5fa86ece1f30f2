// Package models contains the data structures used throughout backhaul.
package models

import "time"

// ConfigVersion is the current schema version of the config document.
const ConfigVersion = 1

// PackagingStrategy selects how sources are turned into archives.
type PackagingStrategy string

const (
	// StrategySeparate produces one archive per source.
	StrategySeparate PackagingStrategy = "separate"
	// StrategySingle produces one archive containing all sources.
	StrategySingle PackagingStrategy = "single"
)

// ArchiveFormat is the compression container used for archives.
type ArchiveFormat string

const (
	FormatZip   ArchiveFormat = "zip"
	FormatTarGz ArchiveFormat = "tar.gz"
)

// Ext returns the file extension for the format, without a leading dot.
func (f ArchiveFormat) Ext() string {
	return string(f)
}

// RetentionPolicy selects which archives are kept on a target over time.
type RetentionPolicy string

const (
	RetentionNone  RetentionPolicy = "none"
	RetentionCount RetentionPolicy = "count"
	RetentionDays  RetentionPolicy = "days"
)

// Config holds the complete configuration for backup runs.
type Config struct {
	Version     int                `yaml:"version" mapstructure:"version"`
	Sources     []string           `yaml:"sources" mapstructure:"sources"`
	Packaging   PackagingOptions   `yaml:"packaging" mapstructure:"packaging"`
	Retention   RetentionSettings  `yaml:"retention" mapstructure:"retention"`
	Upload      UploadSettings     `yaml:"upload" mapstructure:"upload"`
	SpaceCheck  bool               `yaml:"space_check" mapstructure:"space_check"`
	AutoBackup  AutoBackupSettings `yaml:"auto" mapstructure:"auto"`
	Targets     []RemoteTarget     `yaml:"targets" mapstructure:"targets"`
	Rclone      RcloneConfig       `yaml:"rclone" mapstructure:"rclone"`
	Telegram    *TelegramConfig    `yaml:"telegram,omitempty" mapstructure:"telegram"` // nil if not configured
	Email       *EmailConfig       `yaml:"email,omitempty" mapstructure:"email"`       // nil if not configured
	LastRunUnix int64              `yaml:"last_run" mapstructure:"last_run"`
}

// PackagingOptions holds archive creation settings.
type PackagingOptions struct {
	Strategy PackagingStrategy `yaml:"strategy" mapstructure:"strategy"`
	Format   ArchiveFormat     `yaml:"format" mapstructure:"format"`
	Level    int               `yaml:"level" mapstructure:"level"` // 1..9
	Password string            `yaml:"password,omitempty" mapstructure:"password"`
}

// RetentionSettings holds the retention policy and its value.
type RetentionSettings struct {
	Policy RetentionPolicy `yaml:"policy" mapstructure:"policy"`
	Keep   int             `yaml:"keep" mapstructure:"keep"` // count or days, >= 1 unless policy is none
}

// UploadSettings holds delivery settings shared by all targets.
type UploadSettings struct {
	BandwidthLimitKBps int  `yaml:"bandwidth_limit_kbps" mapstructure:"bandwidth_limit_kbps"` // 0 = unlimited
	Retries            int  `yaml:"retries" mapstructure:"retries"`                           // extra transport attempts per target
	Verify             bool `yaml:"verify" mapstructure:"verify"`
}

// AutoBackupSettings controls the scheduler-driven check-auto entry point.
type AutoBackupSettings struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"` // 0 = auto backup disabled
}

// RemoteTarget is a named remote location eligible to receive archives.
type RemoteTarget struct {
	Name    string `yaml:"name" mapstructure:"name"` // rclone remote name, or "local"
	Path    string `yaml:"path" mapstructure:"path"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Origin  string `yaml:"origin,omitempty" mapstructure:"origin"` // how the target was created, informational
}

// RcloneConfig holds settings for the rclone transport binary.
type RcloneConfig struct {
	Binary     string   `yaml:"binary" mapstructure:"binary"`
	ConfigPath string   `yaml:"config,omitempty" mapstructure:"config"`
	ExtraArgs  []string `yaml:"extra_args,omitempty" mapstructure:"extra_args"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token" mapstructure:"bot_token"`
	ChatID   string `yaml:"chat_id" mapstructure:"chat_id"`
}

// EmailConfig holds SMTP notification configuration.
type EmailConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	From     string `yaml:"from" mapstructure:"from"`
	To       string `yaml:"to" mapstructure:"to"`
}

// EnabledTargets returns the targets that form the delivery set for a run,
// in configuration order.
func (c *Config) EnabledTargets() []RemoteTarget {
	var out []RemoteTarget
	for _, t := range c.Targets {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}
