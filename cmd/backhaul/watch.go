package main

import (
	"context"
	"fmt"

	"github.com/mklein/backhaul/internal/config"
	"github.com/mklein/backhaul/internal/services/runner"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var watchSchedule string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Periodically run backups when due",
	Long: `Long-running mode for hosts without a system scheduler: evaluates
the auto-backup check on a cron schedule and runs a backup whenever the
configured interval has elapsed since the last successful run.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchSchedule, "schedule", "@hourly", "cron schedule for the due-check")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return fmt.Errorf("config file is required")
	}

	ctx, cancel := signalContext()
	defer cancel()

	c := cron.New()
	_, err := c.AddFunc(watchSchedule, func() { checkOnce(ctx) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", watchSchedule, err)
	}

	log.Info().Str("schedule", watchSchedule).Msg("watching for due backups")
	c.Start()

	<-ctx.Done()
	log.Info().Msg("stopping watch")
	<-c.Stop().Done()
	return nil
}

// checkOnce reloads the config every cycle so edits take effect without a
// restart. Failures are logged and the watch keeps going; the context is the
// watch command's signal context, so an interrupt cancels an in-flight run.
func checkOnce(ctx context.Context) {
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return
	}

	store := config.NewStore(log.Logger, configFile)
	runnerSvc := runner.New(log.Logger, cfg, store, lockPath())

	rep, attempted, err := runnerSvc.CheckAuto(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("auto backup failed")
		return
	}
	if attempted {
		log.Info().Str("status", string(rep.Status)).Msg("scheduled backup finished")
	}
}
