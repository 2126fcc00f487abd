// Package planner turns a day's outage windows into timed per-user reminder jobs.
package planner

import (
	"fmt"
	"log/slog"
	"time"

	"outage-notifier/delivery"
	"outage-notifier/metrics"
	"outage-notifier/pkg/outage"
)

// Edge is the boundary of an outage window a reminder announces.
type Edge string

// Reminder edges.
const (
	EdgeOff Edge = "off" // Power goes off at the window start
	EdgeOn  Edge = "on"  // Power returns at the window end
)

// JobKey identifies a reminder. No two live jobs share a key.
type JobKey struct {
	Edge   Edge
	UserID int64
	Index  int // Position of the window in the day's schedule
}

func (k JobKey) String() string {
	return fmt.Sprintf("rem_%d_%d_%s", k.UserID, k.Index, k.Edge)
}

// Job is one reminder waiting to fire.
type Job struct {
	At   time.Time
	Text string
	Key  JobKey
}

// Reminders computes the jobs for user's windows as of now.
// Boundaries are anchored to now's calendar date and location; instants not strictly after now are dropped.
// Windows are planned independently, so overlapping or unsorted input is fine.
func Reminders(user *outage.User, ranges []outage.TimeRange, now time.Time) []Job {
	if !user.Active() || len(ranges) == 0 {
		return nil
	}

	lead := time.Duration(user.LeadMinutes) * time.Minute
	var jobs []Job
	for i, r := range ranges {
		if offAt := r.Start.On(now).Add(-lead); offAt.After(now) {
			jobs = append(jobs, Job{
				Key:  JobKey{UserID: user.ID, Index: i, Edge: EdgeOff},
				At:   offAt,
				Text: delivery.FormatPreOff(user.LeadMinutes, r),
			})
		}
		if onAt := r.End.On(now).Add(-lead); onAt.After(now) {
			jobs = append(jobs, Job{
				Key:  JobKey{UserID: user.ID, Index: i, Edge: EdgeOn},
				At:   onAt,
				Text: delivery.FormatPreOn(user.LeadMinutes, r),
			})
		}
	}
	return jobs
}

// Planner keeps each user's reminder set in the registry consistent with their latest schedule.
type Planner struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// New creates a planner over registry. rec may be nil.
func New(registry *Registry, logger *slog.Logger, rec *metrics.Recorder) *Planner {
	return &Planner{
		registry: registry,
		logger:   logger,
		metrics:  rec,
	}
}

// Plan replaces every reminder of user with the ones derived from ranges.
// A paused user, a user without a subqueue or an empty schedule ends with no reminders.
// Calling Plan twice with the same inputs leaves the same job set.
func (p *Planner) Plan(user *outage.User, ranges []outage.TimeRange, now time.Time) ([]Job, error) {
	jobs := Reminders(user, ranges, now)
	if err := p.registry.Replace(user.ID, jobs); err != nil {
		return nil, fmt.Errorf("replace reminders for user %d: %w", user.ID, err)
	}
	p.metrics.RemindersScheduled(len(jobs))

	p.logger.Info("Reminders planned",
		"user_id", user.ID,
		"subqueue", user.Subqueue,
		"windows", len(ranges),
		"jobs", len(jobs),
		"paused", user.Paused)
	return jobs, nil
}

// Cancel drops every reminder of a user.
func (p *Planner) Cancel(userID int64) error {
	if err := p.registry.Replace(userID, nil); err != nil {
		return fmt.Errorf("cancel reminders for user %d: %w", userID, err)
	}
	p.logger.Info("Reminders canceled", "user_id", userID)
	return nil
}

// Pending returns a user's waiting reminders ordered by fire time.
func (p *Planner) Pending(userID int64) []Job {
	return p.registry.Jobs(userID)
}
