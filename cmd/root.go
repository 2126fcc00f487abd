// Package cmd implements the command-line interface.
package cmd

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:          "outage-notifier",
	Short:        "Telegram summaries and reminders for scheduled power outages",
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// newLogger builds the JSON logger every component shares.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
