package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"outage-notifier/config"
	"outage-notifier/pkg/outage"
	"outage-notifier/schedule"
)

var checkOpts struct {
	date     string
	file     string
	subqueue string
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Fetch the schedule page once and print the extracted schedule as JSON",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkOpts.date, "date", "", "date to extract, YYYY-MM-DD (default today)")
	checkCmd.Flags().StringVar(&checkOpts.file, "file", "", "read a saved page instead of fetching")
	checkCmd.Flags().StringVar(&checkOpts.subqueue, "subqueue", "", "print only this subqueue")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	// Logs go to stderr so stdout stays valid JSON.
	logger := newLogger(cmd.ErrOrStderr(), level)

	loc := cfg.Location()
	date := time.Now().In(loc)
	if checkOpts.date != "" {
		date, err = time.ParseInLocation(time.DateOnly, checkOpts.date, loc)
		if err != nil {
			return fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", checkOpts.date)
		}
	}
	if checkOpts.subqueue != "" && !outage.ValidSubqueue(checkOpts.subqueue) {
		return fmt.Errorf("invalid --subqueue %q", checkOpts.subqueue)
	}

	result, err := extractOnce(cmd.Context(), &cfg, checkOpts.file, date, logger)
	if err != nil {
		return err
	}
	return writeReport(cmd.OutOrStdout(), result.Report(checkOpts.subqueue))
}

func extractOnce(ctx context.Context, cfg *config.Config, file string, date time.Time, logger *slog.Logger) (*outage.FetchResult, error) {
	if file == "" {
		return schedule.New(&http.Client{}, cfg.ScheduleURL, cfg.FetchTimeout, logger).Fetch(ctx, date)
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("Failed to close page file", "file", file, "error", err)
		}
	}()
	return schedule.Extract(f, date, schedule.WithLogger(logger))
}

func writeReport(w io.Writer, rep outage.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
