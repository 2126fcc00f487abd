// Package schedule fetches the publisher's outage page and extracts per-subqueue schedules.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"outage-notifier/pkg/outage"
)

// DefaultTimeout bounds a single page retrieval, body included.
const DefaultTimeout = 20 * time.Second

// ErrTimeout marks a fetch that ran out of time.
var ErrTimeout = errors.New("timed out")

// StatusError indicates a non-2xx response from the publisher.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// FetchError wraps any failure to retrieve the page, as opposed to a page with no data.
type FetchError struct {
	Err error
	URL string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError checks if an error came from retrieving the page.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// IsTimeout checks if a fetch failed because it ran out of time.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Scraper fetches the publisher page and extracts schedules from it.
type Scraper struct {
	client  *http.Client
	logger  *slog.Logger
	pageURL string
	opts    []Option
	timeout time.Duration
}

// New creates a new scraper. A zero timeout means DefaultTimeout.
func New(client *http.Client, pageURL string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Scraper {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Scraper{
		client:  client,
		logger:  logger,
		pageURL: pageURL,
		timeout: timeout,
		opts:    append([]Option{WithLogger(logger)}, opts...),
	}
}

// Fetch retrieves the page once and extracts the schedule for date.
// There are no retries; callers decide whether to surface or swallow the error.
func (s *Scraper) Fetch(ctx context.Context, date time.Time) (*outage.FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Info("HTTP request starting",
		"method", "GET",
		"url", s.pageURL,
		"purpose", "fetch_schedule",
		"date", date.Format(outage.DateLayout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "uk-UA,uk;q=0.9,en;q=0.8")

	startTime := time.Now()
	resp, err := s.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		s.logger.Warn("HTTP request failed",
			"url", s.pageURL,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, s.fetchError(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	s.logger.Info("HTTP request completed",
		"url", s.pageURL,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"content_length", resp.ContentLength)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: s.pageURL, Err: &StatusError{URL: s.pageURL, StatusCode: resp.StatusCode}}
	}

	result, err := Extract(resp.Body, date, s.opts...)
	if err != nil {
		// html.Parse only fails when the body cannot be read.
		return nil, s.fetchError(err)
	}

	s.logger.Info("Schedule page parsed",
		"url", s.pageURL,
		"date", date.Format(outage.DateLayout),
		"subqueues", len(result.Schedule),
		"updated", result.Updated)
	return result, nil
}

func (s *Scraper) fetchError(err error) *FetchError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return &FetchError{URL: s.pageURL, Err: err}
}
