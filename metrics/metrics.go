// Package metrics records fetch, tick and reminder activity in Prometheus collectors.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Fetch outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeEmpty   = "empty"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// Recorder holds the service's collectors. A nil *Recorder records nothing.
type Recorder struct {
	fetches   *prometheus.CounterVec
	failures  *prometheus.CounterVec
	scheduled prometheus.Counter
	sent      *prometheus.CounterVec
	jobs      prometheus.Gauge
}

// New registers the collectors on reg. If reg is nil, the default registerer is used.
// Collectors that are already registered are reused.
func New(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outage_fetch_total",
			Help: "Schedule page fetches by outcome",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outage_tick_failures_total",
			Help: "Per-user failures in the daily tick by stage",
		}, []string{"stage"}),
		scheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outage_reminders_scheduled_total",
			Help: "Reminder jobs handed to the registry",
		}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outage_reminders_sent_total",
			Help: "Reminder deliveries by edge and outcome",
		}, []string{"edge", "outcome"}),
		jobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outage_reminder_jobs",
			Help: "Reminder jobs currently waiting to fire",
		}),
	}

	var err error
	if r.fetches, err = register(reg, r.fetches); err != nil {
		return nil, err
	}
	if r.failures, err = register(reg, r.failures); err != nil {
		return nil, err
	}
	if r.scheduled, err = register(reg, r.scheduled); err != nil {
		return nil, err
	}
	if r.sent, err = register(reg, r.sent); err != nil {
		return nil, err
	}
	if r.jobs, err = register(reg, r.jobs); err != nil {
		return nil, err
	}
	return r, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Fetch counts one schedule fetch.
func (r *Recorder) Fetch(outcome string) {
	if r == nil {
		return
	}
	r.fetches.WithLabelValues(outcome).Inc()
}

// TickFailure counts a per-user failure in the daily tick.
func (r *Recorder) TickFailure(stage string) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(stage).Inc()
}

// RemindersScheduled counts jobs handed to the registry.
func (r *Recorder) RemindersScheduled(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.scheduled.Add(float64(n))
}

// ReminderSent counts a reminder delivery attempt.
func (r *Recorder) ReminderSent(edge string, err error) {
	if r == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	r.sent.WithLabelValues(edge, outcome).Inc()
}

// SetReminderJobs reports the number of live jobs.
func (r *Recorder) SetReminderJobs(n int) {
	if r == nil {
		return
	}
	r.jobs.Set(float64(n))
}
