package main

import (
	"fmt"
	"os"

	"github.com/mklein/backhaul/internal/config"
	"github.com/mklein/backhaul/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file without executing any backup operations.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Sources:")
	for _, src := range cfg.Sources {
		fmt.Printf("  %s\n", src)
	}
	fmt.Println()
	fmt.Println("Packaging:")
	fmt.Printf("  Strategy: %s\n", cfg.Packaging.Strategy)
	fmt.Printf("  Format: %s\n", cfg.Packaging.Format)
	fmt.Printf("  Level: %d\n", cfg.Packaging.Level)
	fmt.Printf("  Password: %v\n", cfg.Packaging.Password != "")
	fmt.Println()
	fmt.Println("Retention:")
	fmt.Printf("  Policy: %s\n", cfg.Retention.Policy)
	if cfg.Retention.Policy != models.RetentionNone {
		fmt.Printf("  Keep: %d\n", cfg.Retention.Keep)
	}
	fmt.Println()
	fmt.Println("Upload:")
	fmt.Printf("  Bandwidth limit: %d KB/s\n", cfg.Upload.BandwidthLimitKBps)
	fmt.Printf("  Retries: %d\n", cfg.Upload.Retries)
	fmt.Printf("  Verify: %v\n", cfg.Upload.Verify)
	fmt.Println()
	fmt.Println("Targets:")
	for _, t := range cfg.Targets {
		state := "disabled"
		if t.Enabled {
			state = "enabled"
		}
		fmt.Printf("  %s:%s (%s)\n", t.Name, t.Path, state)
	}
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Space check: %v\n", cfg.SpaceCheck)
	fmt.Printf("  Auto backup interval: %s\n", cfg.AutoBackup.Interval)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)
	fmt.Printf("  Email: %v\n", cfg.Email != nil)

	return nil
}
