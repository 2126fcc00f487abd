package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	gcs "cloud.google.com/go/storage"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"outage-notifier/bot"
	"outage-notifier/config"
	"outage-notifier/delivery"
	"outage-notifier/metrics"
	"outage-notifier/planner"
	"outage-notifier/poll"
	"outage-notifier/schedule"
	"outage-notifier/server"
	"outage-notifier/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot, the daily cycle and the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stdout, level)
	slog.SetDefault(logger)

	a, err := newApp(ctx, &cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("Failed to initialise service", "error", err)
		return err
	}
	defer a.close()

	return a.run(ctx)
}

// app holds the wired service components.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *planner.Registry
	monitor  *poll.Monitor
	router   *bot.Router // nil in mock delivery mode
	server   *server.Server
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	rec, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	loc := cfg.Location()
	scraper := schedule.New(&http.Client{}, cfg.ScheduleURL, cfg.FetchTimeout, logger)

	var provider delivery.Provider
	var api *tgbotapi.BotAPI
	if cfg.BotToken == "" {
		logger.Info("Mock delivery mode enabled (no BOT_TOKEN)")
		provider = delivery.NewMockProvider(logger)
	} else {
		api, err = tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("telegram bot: %w", err)
		}
		logger.Info("Telegram bot authorised", "username", api.Self.UserName)
		provider = delivery.NewTelegramProvider(api, logger)
	}

	a.registry = planner.NewRegistry(provider, logger, rec)
	plan := planner.New(a.registry, logger, rec)
	a.monitor = poll.New(scraper, store, provider, plan, loc, rec, logger)

	if api != nil {
		defaults := bot.Defaults{
			DailyHour:     cfg.DailyHour,
			DailyMinute:   cfg.DailyMinute,
			RemindMinutes: cfg.RemindMinutes,
		}
		a.router = bot.NewRouter(api, store, a.monitor, plan, defaults, cfg.TodayRateLimit, logger)
	}

	var gatherer prometheus.Gatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	a.server = server.New(&server.Config{
		Fetcher:  scraper,
		Poller:   a.monitor,
		Gatherer: gatherer,
		Logger:   logger,
		Location: loc,
	})
	return a, nil
}

// openStore selects the user store: bucket, then SQLite path, then a local directory.
func (a *app) openStore(ctx context.Context) (storage.Users, error) {
	switch a.cfg.Backend() {
	case "gcs":
		var opts []option.ClientOption
		if a.cfg.GoogleCredentials != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(a.cfg.GoogleCredentials)))
		}
		client, err := gcs.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.logger.Info("Using Cloud Storage", "bucket", a.cfg.StorageBucket)
		return storage.New(client, a.cfg.StorageBucket, "", a.logger), nil

	case "sqlite":
		db, err := storage.OpenSQLite(ctx, a.cfg.SQLitePath, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.logger.Info("Using SQLite storage", "path", a.cfg.SQLitePath)
		return db, nil

	default:
		dir := a.cfg.LocalDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create local storage directory: %w", err)
		}
		a.logger.Info("Running in local storage mode", "storage_path", dir)
		return storage.New(nil, "", dir, a.logger), nil
	}
}

// run starts every component and blocks until ctx is done or one of them fails.
func (a *app) run(ctx context.Context) error {
	if err := a.registry.Start(ctx); err != nil {
		return fmt.Errorf("start reminders: %w", err)
	}
	defer a.registry.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.monitor.Run(ctx) })
	if a.router != nil {
		g.Go(func() error { return a.router.Run(ctx) })
	}
	g.Go(func() error { return a.server.ListenAndServe(ctx, a.cfg.Port) })
	return g.Wait()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}
