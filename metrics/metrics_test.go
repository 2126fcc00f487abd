package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	r.Fetch(OutcomeOK)
	r.Fetch(OutcomeOK)
	r.Fetch(OutcomeTimeout)
	r.TickFailure("fetch")
	r.RemindersScheduled(3)
	r.RemindersScheduled(0)
	r.ReminderSent("off", nil)
	r.ReminderSent("on", errors.New("blocked by user"))
	r.SetReminderJobs(2)

	expected := `
# HELP outage_fetch_total Schedule page fetches by outcome
# TYPE outage_fetch_total counter
outage_fetch_total{outcome="ok"} 2
outage_fetch_total{outcome="timeout"} 1
`
	if err := testutil.CollectAndCompare(r.fetches, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected fetch metrics: %v", err)
	}

	expectedSent := `
# HELP outage_reminders_sent_total Reminder deliveries by edge and outcome
# TYPE outage_reminders_sent_total counter
outage_reminders_sent_total{edge="off",outcome="ok"} 1
outage_reminders_sent_total{edge="on",outcome="error"} 1
`
	if err := testutil.CollectAndCompare(r.sent, strings.NewReader(expectedSent)); err != nil {
		t.Errorf("unexpected sent metrics: %v", err)
	}

	if got := testutil.ToFloat64(r.failures.WithLabelValues("fetch")); got != 1 {
		t.Errorf("tick failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.scheduled); got != 3 {
		t.Errorf("scheduled = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.jobs); got != 2 {
		t.Errorf("jobs = %v, want 2", got)
	}
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	second, err := New(reg)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}

	first.TickFailure("send")
	second.TickFailure("send")

	if got := testutil.ToFloat64(first.failures.WithLabelValues("send")); got != 2 {
		t.Errorf("shared counter = %v, want 2", got)
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.Fetch(OutcomeError)
	r.TickFailure("fetch")
	r.RemindersScheduled(1)
	r.ReminderSent("on", nil)
	r.SetReminderJobs(1)
}
