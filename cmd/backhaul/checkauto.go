package main

import (
	"fmt"

	"github.com/mklein/backhaul/internal/models"
	"github.com/mklein/backhaul/internal/services/report"
	"github.com/mklein/backhaul/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var checkAutoCmd = &cobra.Command{
	Use:   "check-auto",
	Short: "Run a backup only if one is due",
	Long: `Intended for scheduler invocation (cron, systemd timer). Loads the
config, and if the configured auto interval has elapsed since the last
successful run, executes a backup. Exits 0 when no backup is due.`,
	RunE: runCheckAuto,
}

func runCheckAuto(cmd *cobra.Command, args []string) error {
	cfg, store, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger, cfg, store, lockPath())
	rep, attempted, err := runnerSvc.CheckAuto(ctx, cfg)
	if !attempted && err == nil {
		return nil
	}

	if rep != nil {
		fmt.Print(report.Render(*rep))
	}
	if err != nil {
		log.Error().Err(err).Msg("auto backup failed")
		return err
	}
	if rep.Status == models.StatusFailure {
		return fmt.Errorf("backup run failed: %s", rep.FailureReason)
	}

	return nil
}
