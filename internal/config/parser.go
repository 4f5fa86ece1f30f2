// Package config provides configuration loading, validation and persistence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mklein/backhaul/internal/models"
	"github.com/spf13/viper"
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{
		Version: models.ConfigVersion,
	}

	cfg.Sources = p.parseSources()

	cfg.Packaging = models.PackagingOptions{
		Strategy: models.PackagingStrategy(p.v.GetString("packaging.strategy")),
		Format:   models.ArchiveFormat(p.v.GetString("packaging.format")),
		Level:    p.v.GetInt("packaging.level"),
		Password: p.expandEnv(p.v.GetString("packaging.password")),
	}

	// Defaults.
	if cfg.Packaging.Strategy == "" {
		cfg.Packaging.Strategy = models.StrategySeparate
	}
	if cfg.Packaging.Format == "" {
		cfg.Packaging.Format = models.FormatZip
	}
	if cfg.Packaging.Level == 0 {
		cfg.Packaging.Level = 6
	}

	cfg.Retention = models.RetentionSettings{
		Policy: models.RetentionPolicy(p.v.GetString("retention.policy")),
		Keep:   p.v.GetInt("retention.keep"),
	}
	if cfg.Retention.Policy == "" {
		cfg.Retention.Policy = models.RetentionNone
	}

	cfg.Upload = models.UploadSettings{
		BandwidthLimitKBps: p.v.GetInt("upload.bandwidth_limit_kbps"),
		Retries:            p.v.GetInt("upload.retries"),
		Verify:             p.v.GetBool("upload.verify"),
	}

	cfg.SpaceCheck = p.v.GetBool("space_check")

	cfg.AutoBackup = models.AutoBackupSettings{
		Interval: p.v.GetDuration("auto.interval"),
	}

	if err := p.v.UnmarshalKey("targets", &cfg.Targets); err != nil {
		return nil, fmt.Errorf("parsing targets: %w", err)
	}

	cfg.Rclone = models.RcloneConfig{
		Binary:     p.v.GetString("rclone.binary"),
		ConfigPath: p.expandEnv(p.v.GetString("rclone.config")),
		ExtraArgs:  p.v.GetStringSlice("rclone.extra_args"),
	}
	if cfg.Rclone.Binary == "" {
		cfg.Rclone.Binary = "rclone"
	}

	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	if p.v.IsSet("email") {
		cfg.Email = &models.EmailConfig{
			Host:     p.v.GetString("email.host"),
			Port:     p.v.GetInt("email.port"),
			Username: p.expandEnv(p.v.GetString("email.username")),
			Password: p.expandEnv(p.v.GetString("email.password")),
			From:     p.v.GetString("email.from"),
			To:       p.v.GetString("email.to"),
		}

		if cfg.Email.Host == "" {
			return nil, fmt.Errorf("email.host is required when email is configured")
		}
		if cfg.Email.Port == 0 {
			cfg.Email.Port = 587
		}
		if cfg.Email.To == "" {
			return nil, fmt.Errorf("email.to is required when email is configured")
		}
		if cfg.Email.From == "" {
			cfg.Email.From = cfg.Email.Username
		}
	}

	cfg.LastRunUnix = p.v.GetInt64("last_run")

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseSources reads the source list, migrating the legacy version-0 layout
// (a single comma-joined string) to a proper list. The migrated form is
// written back on the next save.
func (p *Parser) parseSources() []string {
	raw := p.v.Get("sources")

	if s, ok := raw.(string); ok && p.v.GetInt("version") == 0 {
		var out []string
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
		return out
	}

	return p.v.GetStringSlice("sources")
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
//
//nolint:gocognit,gocyclo // config has many fields to check
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	seen := make(map[string]bool)
	for _, src := range cfg.Sources {
		if !filepath.IsAbs(src) {
			return fmt.Errorf("source %q must be an absolute path", src)
		}
		if seen[src] {
			return fmt.Errorf("source %q is listed twice", src)
		}
		seen[src] = true
	}

	switch cfg.Packaging.Strategy {
	case models.StrategySeparate, models.StrategySingle:
	default:
		return fmt.Errorf("packaging.strategy must be one of: separate, single")
	}

	switch cfg.Packaging.Format {
	case models.FormatZip, models.FormatTarGz:
	default:
		return fmt.Errorf("packaging.format must be one of: zip, tar.gz")
	}

	if cfg.Packaging.Level < 1 || cfg.Packaging.Level > 9 {
		return fmt.Errorf("packaging.level must be between 1 and 9")
	}

	switch cfg.Retention.Policy {
	case models.RetentionNone:
	case models.RetentionCount, models.RetentionDays:
		if cfg.Retention.Keep < 1 {
			return fmt.Errorf("retention.keep must be >= 1 when retention.policy is %s", cfg.Retention.Policy)
		}
	default:
		return fmt.Errorf("retention.policy must be one of: none, count, days")
	}

	if cfg.Upload.BandwidthLimitKBps < 0 {
		return fmt.Errorf("upload.bandwidth_limit_kbps must not be negative")
	}
	if cfg.Upload.Retries < 0 {
		return fmt.Errorf("upload.retries must not be negative")
	}

	names := make(map[string]bool)
	for _, t := range cfg.Targets {
		if t.Name == "" {
			return fmt.Errorf("every target needs a name")
		}
		if names[t.Name] {
			return fmt.Errorf("target %q is listed twice", t.Name)
		}
		names[t.Name] = true
	}

	return nil
}
