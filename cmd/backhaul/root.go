package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "backhaul",
	Short: "A personal backup orchestrator",
	Long: `backhaul packages local paths into archives, ships them to every
enabled remote target, verifies delivery, prunes old archives per a
retention policy, and reports the outcome.

Remotes are served by rclone (or a plain local directory), so any backend
rclone speaks is available. Use the run command interactively, or wire
check-auto into cron / a systemd timer for unattended backups.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (required)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkAutoCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(watchCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
