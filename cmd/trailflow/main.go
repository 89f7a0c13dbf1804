// Command trailflow consumes audit-log notifications from a queue, verifies and
// extracts the referenced log files and delivers their events to a sink.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var configFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "trailflow",
		Short:         "Audit-log ingestion pipeline",
		Long:          "trailflow polls a notification queue for new audit-log files, verifies their signatures, extracts their events and delivers them to a sink.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
			log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", os.Getenv("TRAILFLOW_CONFIG"), "Path to config file")

	rootCmd.AddCommand(newRunCmd(), newClassifyCmd())
	return rootCmd
}
