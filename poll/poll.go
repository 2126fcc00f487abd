// Package poll drives the daily schedule cycle: fetch, summarise, and plan reminders.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"outage-notifier/delivery"
	"outage-notifier/metrics"
	"outage-notifier/pkg/outage"
	"outage-notifier/planner"
	"outage-notifier/schedule"
)

// ErrInactive is returned for users that are paused or have no subqueue.
var ErrInactive = errors.New("user is paused or has no subqueue")

// Failure stages reported to metrics.
const (
	stageFetch = "fetch"
	stageSend  = "send"
	stagePlan  = "plan"
)

// Fetcher retrieves the extracted schedule for a date.
type Fetcher interface {
	Fetch(ctx context.Context, date time.Time) (*outage.FetchResult, error)
}

// Store interface for user persistence.
type Store interface {
	List(ctx context.Context) ([]*outage.User, error)
}

// Sender interface for delivering messages.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Planner interface for replacing a user's reminders.
type Planner interface {
	Plan(user *outage.User, ranges []outage.TimeRange, now time.Time) ([]planner.Job, error)
}

// Monitor runs the per-minute tick and on-demand summaries.
type Monitor struct {
	lastTick time.Time
	fetcher  Fetcher
	store    Store
	sender   Sender
	planner  Planner
	logger   *slog.Logger
	metrics  *metrics.Recorder
	loc      *time.Location
	now      func() time.Time
	mu       sync.Mutex
}

// New creates a new poll monitor. Wall-clock decisions use loc; rec may be nil.
func New(fetcher Fetcher, store Store, sender Sender, plan Planner, loc *time.Location, rec *metrics.Recorder, logger *slog.Logger) *Monitor {
	if loc == nil {
		loc = time.Local
	}
	return &Monitor{
		fetcher: fetcher,
		store:   store,
		sender:  sender,
		planner: plan,
		logger:  logger,
		metrics: rec,
		loc:     loc,
		now:     time.Now,
	}
}

// SendToday fetches today's schedule, sends the user's summary and replans their reminders.
// It returns once the summary was handed to delivery. Fetch failures still satisfy
// schedule.IsFetchError, so callers can answer "try again later".
func (m *Monitor) SendToday(ctx context.Context, user *outage.User) error {
	if !user.Active() {
		return ErrInactive
	}
	now := m.now().In(m.loc)
	cycleID := uuid.NewString()

	m.logger.Info("On-demand summary requested", "cycle_id", cycleID, "user_id", user.ID, "subqueue", user.Subqueue)

	result, err := m.fetch(ctx, now, cycleID)
	if err != nil {
		return err
	}
	if _, err := m.deliver(ctx, user, result, now, cycleID); err != nil {
		return err
	}
	return nil
}

// Tick checks the current wall-clock minute unless it was already processed.
// The clock is read once, so the minute recorded is the minute checked.
func (m *Monitor) Tick(ctx context.Context) error {
	now := m.now().In(m.loc)
	minute := now.Truncate(time.Minute)

	m.mu.Lock()
	if minute.Equal(m.lastTick) {
		m.mu.Unlock()
		m.logger.Debug("Minute already processed, skipping tick", "minute", minute.Format(time.RFC3339))
		return nil
	}
	m.lastTick = minute
	m.mu.Unlock()

	return m.checkAt(ctx, now)
}

// CheckAll sends the daily summary to every user due at the current wall-clock minute.
// Per-user failures are logged and counted; they never stop the loop.
// The page is fetched once and the result shared by every user due in the same call;
// a failed fetch is retried for the next due user.
func (m *Monitor) CheckAll(ctx context.Context) error {
	return m.checkAt(ctx, m.now().In(m.loc))
}

func (m *Monitor) checkAt(ctx context.Context, now time.Time) error {
	users, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	cycleID := uuid.NewString()
	m.logger.Debug("Checking users", "cycle_id", cycleID, "count", len(users), "timestamp", now.Format(time.RFC3339))

	// One page serves every user due this minute. Failed fetches are not cached.
	var result *outage.FetchResult
	var due, failed int

	for _, u := range users {
		// Check for context cancellation
		select {
		case <-ctx.Done():
			m.logger.Info("Context cancelled, stopping tick", "cycle_id", cycleID, "error", ctx.Err())
			return ctx.Err()
		default:
		}

		if !u.DueAt(now) {
			continue
		}
		due++

		if result == nil {
			r, err := m.fetch(ctx, now, cycleID)
			if err != nil {
				failed++
				m.metrics.TickFailure(stageFetch)
				m.logger.Warn("Daily summary skipped, fetch failed",
					"cycle_id", cycleID,
					"user_id", u.ID,
					"error", err)
				continue
			}
			result = r
		}

		if stage, err := m.deliver(ctx, u, result, now, cycleID); err != nil {
			failed++
			m.metrics.TickFailure(stage)
			m.logger.Warn("Daily summary failed",
				"cycle_id", cycleID,
				"user_id", u.ID,
				"stage", stage,
				"error", err)
		}
	}

	if due > 0 {
		m.logger.Info("Tick completed",
			"cycle_id", cycleID,
			"users", len(users),
			"due", due,
			"failed", failed)
	}
	return nil
}

// Run wakes at every wall-clock minute boundary and ticks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Tick driver started", "location", m.loc.String())
	for {
		now := m.now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info("Tick driver stopped")
			return nil
		case <-timer.C:
		}

		if err := m.Tick(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("Tick failed", "error", err)
		}
	}
}

func (m *Monitor) fetch(ctx context.Context, now time.Time, cycleID string) (*outage.FetchResult, error) {
	startTime := time.Now()
	result, err := m.fetcher.Fetch(ctx, now)
	duration := time.Since(startTime)

	switch {
	case err != nil && schedule.IsTimeout(err):
		m.metrics.Fetch(metrics.OutcomeTimeout)
	case err != nil:
		m.metrics.Fetch(metrics.OutcomeError)
	case len(result.Schedule) == 0:
		m.metrics.Fetch(metrics.OutcomeEmpty)
	default:
		m.metrics.Fetch(metrics.OutcomeOK)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch schedule: %w", err)
	}

	m.logger.Info("Schedule fetched",
		"cycle_id", cycleID,
		"date", now.Format(outage.DateLayout),
		"subqueues", len(result.Schedule),
		"pending", len(result.Pending),
		"updated", result.Updated,
		"duration_ms", duration.Milliseconds())
	return result, nil
}

// deliver sends the summary and replans reminders, returning the failing stage on error.
func (m *Monitor) deliver(ctx context.Context, u *outage.User, result *outage.FetchResult, now time.Time, cycleID string) (string, error) {
	text := delivery.FormatToday(now, u.Subqueue, result)
	if err := m.sender.Send(ctx, u.ID, text); err != nil {
		return stageSend, fmt.Errorf("send summary: %w", err)
	}

	// Sending may take a while; plan against a fresh clock so boundaries already passed are dropped.
	ranges, _ := result.Ranges(u.Subqueue)
	jobs, err := m.planner.Plan(u, ranges, m.now().In(m.loc))
	if err != nil {
		return stagePlan, fmt.Errorf("plan reminders: %w", err)
	}

	m.logger.Info("Summary delivered",
		"cycle_id", cycleID,
		"user_id", u.ID,
		"subqueue", u.Subqueue,
		"windows", len(ranges),
		"pending", result.IsPending(u.Subqueue),
		"reminders", len(jobs))
	return "", nil
}
