package planner

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"outage-notifier/metrics"
)

// ErrStopped is returned when jobs are handed to a stopped registry.
var ErrStopped = errors.New("registry stopped")

// Sender delivers a reminder text to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

type entry struct {
	timer *time.Timer
	job   Job
}

// Registry owns every live reminder job, keyed by user and job key.
// Each job fires once through the sender and is then removed.
type Registry struct {
	ctx     context.Context
	sender  Sender
	logger  *slog.Logger
	metrics *metrics.Recorder
	jobs    map[int64]map[JobKey]*entry
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
}

// NewRegistry creates an empty registry. Jobs added before Start wait until Start arms them.
func NewRegistry(sender Sender, logger *slog.Logger, rec *metrics.Recorder) *Registry {
	return &Registry{
		sender:  sender,
		logger:  logger,
		metrics: rec,
		jobs:    make(map[int64]map[JobKey]*entry),
	}
}

// Start arms the timers. Deliveries run with ctx.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrStopped
	}
	if r.started {
		return nil
	}
	r.ctx = ctx
	r.started = true

	for _, jobs := range r.jobs {
		for _, e := range jobs {
			r.armLocked(e)
		}
	}
	r.logger.Info("Reminder registry started", "jobs", r.lenLocked())
	return nil
}

// Stop cancels every timer and waits for deliveries already in flight.
func (r *Registry) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	dropped := 0
	for _, jobs := range r.jobs {
		for _, e := range jobs {
			if e.timer != nil {
				e.timer.Stop()
			}
			dropped++
		}
	}
	r.jobs = make(map[int64]map[JobKey]*entry)
	r.mu.Unlock()

	r.metrics.SetReminderJobs(0)
	r.wg.Wait()
	r.logger.Info("Reminder registry stopped", "dropped_jobs", dropped)
}

// Replace swaps a user's whole job set for jobs in one step.
// A nil or empty jobs removes the user's reminders.
func (r *Registry) Replace(userID int64, jobs []Job) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}

	for _, e := range r.jobs[userID] {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	delete(r.jobs, userID)

	if len(jobs) > 0 {
		set := make(map[JobKey]*entry, len(jobs))
		for _, job := range jobs {
			job.Key.UserID = userID
			if old, ok := set[job.Key]; ok && old.timer != nil {
				old.timer.Stop()
			}
			e := &entry{job: job}
			set[job.Key] = e
			if r.started {
				r.armLocked(e)
			}
		}
		r.jobs[userID] = set
	}
	n := r.lenLocked()
	r.mu.Unlock()

	r.metrics.SetReminderJobs(n)
	return nil
}

// Jobs returns a user's live jobs ordered by fire time.
func (r *Registry) Jobs(userID int64) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]Job, 0, len(r.jobs[userID]))
	for _, e := range r.jobs[userID] {
		jobs = append(jobs, e.job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].At.Equal(jobs[j].At) {
			return jobs[i].At.Before(jobs[j].At)
		}
		return jobs[i].Key.String() < jobs[j].Key.String()
	})
	return jobs
}

// Len returns the number of live jobs across all users.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lenLocked()
}

func (r *Registry) lenLocked() int {
	n := 0
	for _, jobs := range r.jobs {
		n += len(jobs)
	}
	return n
}

func (r *Registry) armLocked(e *entry) {
	e.timer = time.AfterFunc(time.Until(e.job.At), func() { r.fire(e) })
}

func (r *Registry) fire(e *entry) {
	key := e.job.Key

	r.mu.Lock()
	// A replaced or stopped entry may still fire if its timer raced the swap.
	if r.stopped || r.jobs[key.UserID][key] != e {
		r.mu.Unlock()
		return
	}
	delete(r.jobs[key.UserID], key)
	if len(r.jobs[key.UserID]) == 0 {
		delete(r.jobs, key.UserID)
	}
	r.wg.Add(1)
	ctx := r.ctx
	n := r.lenLocked()
	r.mu.Unlock()

	defer r.wg.Done()
	r.metrics.SetReminderJobs(n)

	err := r.sender.Send(ctx, key.UserID, e.job.Text)
	r.metrics.ReminderSent(string(key.Edge), err)
	if err != nil {
		r.logger.Warn("Reminder delivery failed",
			"user_id", key.UserID,
			"job_id", key.String(),
			"scheduled_at", e.job.At,
			"error", err)
		return
	}
	r.logger.Info("Reminder sent",
		"user_id", key.UserID,
		"job_id", key.String(),
		"delay_ms", time.Since(e.job.At).Milliseconds())
}
