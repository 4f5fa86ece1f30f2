package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mklein/backhaul/internal/config"
	"github.com/mklein/backhaul/internal/models"
	"github.com/mklein/backhaul/internal/services/report"
	"github.com/mklein/backhaul/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a backup run",
	Long: `Execute one complete backup run:
1. Acquire the single-instance run lock
2. Package each source into an archive
3. Upload every archive to every enabled target
4. Verify deliveries (if enabled)
5. Prune old archives per the retention policy
6. Send notifications and persist the last-run timestamp`,
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, store, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger, cfg, store, lockPath())
	rep, err := runnerSvc.Run(ctx, cfg)
	if rep != nil {
		fmt.Print(report.Render(*rep))
	}
	if err != nil {
		log.Error().Err(err).Msg("backup run failed")
		return err
	}
	if rep.Status == models.StatusFailure {
		return fmt.Errorf("backup run failed: %s", rep.FailureReason)
	}

	return nil
}

// loadConfig parses and validates the configured file and prepares the
// persistence store bound to it.
func loadConfig() (*models.Config, *config.Store, error) {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return nil, nil, fmt.Errorf("config file is required")
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, nil, err
	}

	log.Info().
		Str("config", configFile).
		Int("sources", len(cfg.Sources)).
		Int("targets", len(cfg.Targets)).
		Msg("configuration loaded")

	return cfg, config.NewStore(log.Logger, configFile), nil
}

// lockPath returns the run lock path: a sibling of the config file, so
// mutual exclusion holds per configuration.
func lockPath() string {
	return configFile + ".lock"
}

// signalContext returns a context canceled on SIGINT/SIGTERM. The deferred
// cleanup in the runner still releases the lock and temp directory.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	return ctx, cancel
}
