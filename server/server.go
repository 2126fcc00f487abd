// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"outage-notifier/pkg/outage"
	"outage-notifier/schedule"
)

// Fetcher interface for on-demand schedule lookups.
type Fetcher interface {
	Fetch(ctx context.Context, date time.Time) (*outage.FetchResult, error)
}

// Poller interface for triggering checks.
type Poller interface {
	Tick(ctx context.Context) error
}

// Server handles HTTP requests.
type Server struct {
	fetcher  Fetcher
	poller   Poller
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	loc      *time.Location
}

// Config holds server configuration.
type Config struct {
	Fetcher  Fetcher
	Poller   Poller
	Gatherer prometheus.Gatherer // Defaults to prometheus.DefaultGatherer
	Logger   *slog.Logger
	Location *time.Location // Wall clock for the default /schedule date
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Server{
		fetcher:  cfg.Fetcher,
		poller:   cfg.Poller,
		gatherer: gatherer,
		logger:   cfg.Logger,
		loc:      loc,
	}
}

// Handler returns the routed endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/pollz", s.handlePoll)
	mux.HandleFunc("/schedule", s.handleSchedule)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe serves on port until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,  // Time to read request headers and body
		WriteTimeout:      30 * time.Second,  // Time to write response
		IdleTimeout:       120 * time.Second, // Time to keep connection alive between requests
		ReadHeaderTimeout: 5 * time.Second,   // Time to read request headers only
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
		return
	}
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Poll endpoint triggered")

	if err := s.poller.Tick(r.Context()); err != nil {
		s.logger.Error("Poll check failed", "error", err)
		http.Error(w, "Check failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"completed"}`); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// handleSchedule serves the extracted schedule for ?date=YYYY-MM-DD (default today),
// optionally narrowed by ?subqueue=.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	date := time.Now().In(s.loc)
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := time.ParseInLocation(time.DateOnly, v, s.loc)
		if err != nil {
			http.Error(w, "Invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		date = d
	}
	subqueue := r.URL.Query().Get("subqueue")
	if subqueue != "" && !outage.ValidSubqueue(subqueue) {
		http.Error(w, "Invalid subqueue", http.StatusBadRequest)
		return
	}

	result, err := s.fetcher.Fetch(r.Context(), date)
	if err != nil {
		s.logger.Warn("Schedule lookup failed", "date", date.Format(outage.DateLayout), "error", err)
		status := http.StatusInternalServerError
		if schedule.IsFetchError(err) {
			status = http.StatusBadGateway
		}
		http.Error(w, "Schedule unavailable", status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if err := json.NewEncoder(w).Encode(result.Report(subqueue)); err != nil {
		s.logger.Warn("Failed to write schedule response", "error", err)
	}
}
