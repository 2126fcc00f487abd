package poll

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"outage-notifier/metrics"
	"outage-notifier/pkg/outage"
	"outage-notifier/planner"
	"outage-notifier/schedule"
)

type fakeFetcher struct {
	result *outage.FetchResult
	errs   []error // consumed one per call before result is returned
	calls  int
	mu     sync.Mutex
}

func (f *fakeFetcher) Fetch(_ context.Context, _ time.Time) (*outage.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.result, nil
}

type fakeStore struct {
	err   error
	users []*outage.User
	calls int
}

func (s *fakeStore) List(context.Context) ([]*outage.User, error) {
	s.calls++
	return s.users, s.err
}

type fakeSender struct {
	failFor map[int64]bool
	sent    map[int64]string
}

func (s *fakeSender) Send(_ context.Context, chatID int64, text string) error {
	if s.failFor[chatID] {
		return errors.New("bot was blocked by the user")
	}
	if s.sent == nil {
		s.sent = make(map[int64]string)
	}
	s.sent[chatID] = text
	return nil
}

type planCall struct {
	now    time.Time
	ranges []outage.TimeRange
	jobs   []planner.Job
	userID int64
}

type fakePlanner struct {
	calls []planCall
}

func (p *fakePlanner) Plan(u *outage.User, ranges []outage.TimeRange, now time.Time) ([]planner.Job, error) {
	jobs := planner.Reminders(u, ranges, now)
	p.calls = append(p.calls, planCall{userID: u.ID, ranges: ranges, now: now, jobs: jobs})
	return jobs, nil
}

func tr(h1, m1, h2, m2 int) outage.TimeRange {
	return outage.TimeRange{
		Start: outage.Clock{Hour: h1, Minute: m1},
		End:   outage.Clock{Hour: h2, Minute: m2},
	}
}

func user(id int64, sq string, h, m int) *outage.User {
	return &outage.User{ID: id, Subqueue: sq, DailyHour: h, DailyMinute: m, LeadMinutes: 60}
}

// clockSeq returns each time in turn, then keeps returning the last one.
func clockSeq(times ...time.Time) func() time.Time {
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := times[0]
		if len(times) > 1 {
			times = times[1:]
		}
		return t
	}
}

var testResult = &outage.FetchResult{
	Schedule: outage.Schedule{
		"1.1": {tr(10, 0, 12, 0)},
		"2.1": {},
	},
	Pending: map[string]bool{"2.1": true},
	Updated: "Оновлено: 01.06.2024 06:55",
}

type harness struct {
	fetcher *fakeFetcher
	store   *fakeStore
	sender  *fakeSender
	planner *fakePlanner
	reg     *prometheus.Registry
	monitor *Monitor
}

func newHarness(t *testing.T, now time.Time, users ...*outage.User) *harness {
	t.Helper()
	h := &harness{
		fetcher: &fakeFetcher{result: testResult},
		store:   &fakeStore{users: users},
		sender:  &fakeSender{},
		planner: &fakePlanner{},
		reg:     prometheus.NewRegistry(),
	}
	rec, err := metrics.New(h.reg)
	if err != nil {
		t.Fatalf("metrics.New() error = %v", err)
	}
	h.monitor = New(h.fetcher, h.store, h.sender, h.planner, time.UTC, rec, slog.New(slog.DiscardHandler))
	h.monitor.now = func() time.Time { return now }
	return h
}

func TestCheckAllSendsToDueUsers(t *testing.T) {
	now := time.Date(2024, time.June, 1, 7, 30, 15, 0, time.UTC)
	h := newHarness(t, now,
		user(1, "1.1", 7, 30),
		user(2, "2.1", 7, 30),
		user(3, "1.1", 8, 0), // not due
		&outage.User{ID: 4, Subqueue: "1.1", DailyHour: 7, DailyMinute: 30, Paused: true},
		user(5, "", 7, 30), // no subqueue
	)

	if err := h.monitor.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll() error = %v", err)
	}

	if h.fetcher.calls != 1 {
		t.Errorf("fetched %d times, want 1 per tick", h.fetcher.calls)
	}
	if len(h.sender.sent) != 2 {
		t.Fatalf("sent to %d users, want 2: %v", len(h.sender.sent), h.sender.sent)
	}
	if !strings.Contains(h.sender.sent[1], "• 10:00–12:00") {
		t.Errorf("user 1 summary:\n%s", h.sender.sent[1])
	}
	if !strings.Contains(h.sender.sent[2], "Очікується") {
		t.Errorf("user 2 summary should be pending:\n%s", h.sender.sent[2])
	}
	if !strings.Contains(h.sender.sent[1], "Графік на 01.06.2024") {
		t.Errorf("summary date wrong:\n%s", h.sender.sent[1])
	}

	if len(h.planner.calls) != 2 {
		t.Fatalf("planned %d users, want 2", len(h.planner.calls))
	}
	if got := h.planner.calls[0]; got.userID != 1 || len(got.ranges) != 1 || !got.now.Equal(now) {
		t.Errorf("plan call = %+v", got)
	}
	if got := h.planner.calls[1]; got.userID != 2 || len(got.ranges) != 0 {
		t.Errorf("pending user planned with ranges: %+v", got)
	}
}

func TestCheckAllFetchFailureIsCountedAndRetried(t *testing.T) {
	now := time.Date(2024, time.June, 1, 7, 30, 0, 0, time.UTC)
	h := newHarness(t, now, user(1, "1.1", 7, 30), user(2, "1.1", 7, 30))
	h.fetcher.errs = []error{&schedule.FetchError{URL: "x", Err: schedule.ErrTimeout}}

	if err := h.monitor.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll() error = %v", err)
	}

	if h.fetcher.calls != 2 {
		t.Errorf("fetched %d times, want a retry for the next user", h.fetcher.calls)
	}
	if _, ok := h.sender.sent[1]; ok {
		t.Error("user 1 got a summary despite the failed fetch")
	}
	if _, ok := h.sender.sent[2]; !ok {
		t.Error("user 2 missed the summary")
	}

	expected := `
# HELP outage_tick_failures_total Per-user failures in the daily tick by stage
# TYPE outage_tick_failures_total counter
outage_tick_failures_total{stage="fetch"} 1
`
	if err := testutil.GatherAndCompare(h.reg, strings.NewReader(expected), "outage_tick_failures_total"); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	expectedFetch := `
# HELP outage_fetch_total Schedule page fetches by outcome
# TYPE outage_fetch_total counter
outage_fetch_total{outcome="ok"} 1
outage_fetch_total{outcome="timeout"} 1
`
	if err := testutil.GatherAndCompare(h.reg, strings.NewReader(expectedFetch), "outage_fetch_total"); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
}

func TestCheckAllSendFailureDoesNotStopLoop(t *testing.T) {
	now := time.Date(2024, time.June, 1, 7, 30, 0, 0, time.UTC)
	h := newHarness(t, now, user(1, "1.1", 7, 30), user(2, "1.1", 7, 30))
	h.sender.failFor = map[int64]bool{1: true}

	if err := h.monitor.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll() error = %v", err)
	}

	if _, ok := h.sender.sent[2]; !ok {
		t.Error("user 2 missed the summary")
	}
	if len(h.planner.calls) != 1 || h.planner.calls[0].userID != 2 {
		t.Errorf("plan calls = %+v, want only user 2", h.planner.calls)
	}
	expected := `
# HELP outage_tick_failures_total Per-user failures in the daily tick by stage
# TYPE outage_tick_failures_total counter
outage_tick_failures_total{stage="send"} 1
`
	if err := testutil.GatherAndCompare(h.reg, strings.NewReader(expected), "outage_tick_failures_total"); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
}

func TestCheckAllListError(t *testing.T) {
	h := newHarness(t, time.Date(2024, time.June, 1, 7, 30, 0, 0, time.UTC))
	h.store.err = errors.New("bucket unavailable")

	if err := h.monitor.CheckAll(context.Background()); err == nil {
		t.Error("CheckAll() error = nil, want list error")
	}
	if h.fetcher.calls != 0 {
		t.Error("fetched without users")
	}
}

func TestCheckAllUsesServiceTimeZone(t *testing.T) {
	kyiv := time.FixedZone("EEST", 3*60*60)
	// 04:30 UTC is 07:30 in Kyiv.
	now := time.Date(2024, time.June, 1, 4, 30, 0, 0, time.UTC)
	h := newHarness(t, now, user(1, "1.1", 7, 30))
	h.monitor.loc = kyiv

	if err := h.monitor.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll() error = %v", err)
	}
	if _, ok := h.sender.sent[1]; !ok {
		t.Error("user due in the service time zone was skipped")
	}
	if loc := h.planner.calls[0].now.Location(); loc != kyiv {
		t.Errorf("planned in %v, want service zone", loc)
	}
}

func TestSendToday(t *testing.T) {
	now := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	u := user(1, "1.1", 7, 30)

	if err := h.monitor.SendToday(context.Background(), u); err != nil {
		t.Fatalf("SendToday() error = %v", err)
	}
	if !strings.Contains(h.sender.sent[1], "• 10:00–12:00") {
		t.Errorf("summary:\n%s", h.sender.sent[1])
	}
	if len(h.planner.calls) != 1 {
		t.Errorf("planned %d times, want 1", len(h.planner.calls))
	}
}

func TestSendTodayFetchError(t *testing.T) {
	h := newHarness(t, time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC))
	h.fetcher.errs = []error{&schedule.FetchError{URL: "x", Err: &schedule.StatusError{URL: "x", StatusCode: 502}}}

	err := h.monitor.SendToday(context.Background(), user(1, "1.1", 7, 30))
	if !schedule.IsFetchError(err) {
		t.Errorf("SendToday() error = %v, want fetch error", err)
	}
	if len(h.sender.sent) != 0 || len(h.planner.calls) != 0 {
		t.Error("failed fetch still produced a summary or plan")
	}
}

func TestSendTodayInactive(t *testing.T) {
	h := newHarness(t, time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC))

	paused := user(1, "1.1", 7, 30)
	paused.Paused = true
	for _, u := range []*outage.User{paused, user(2, "", 7, 30)} {
		if err := h.monitor.SendToday(context.Background(), u); !errors.Is(err, ErrInactive) {
			t.Errorf("SendToday(%d) error = %v, want ErrInactive", u.ID, err)
		}
	}
	if h.fetcher.calls != 0 {
		t.Error("inactive users triggered a fetch")
	}
}

func TestTickProcessesMinuteOnce(t *testing.T) {
	now := time.Date(2024, time.June, 1, 7, 30, 5, 0, time.UTC)
	h := newHarness(t, now, user(1, "1.1", 7, 30))
	ctx := context.Background()

	if err := h.monitor.Tick(ctx); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	h.monitor.now = func() time.Time { return now.Add(40 * time.Second) }
	if err := h.monitor.Tick(ctx); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if h.store.calls != 1 {
		t.Errorf("minute processed %d times, want 1", h.store.calls)
	}

	h.monitor.now = func() time.Time { return now.Add(time.Minute) }
	if err := h.monitor.Tick(ctx); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if h.store.calls != 2 {
		t.Errorf("next minute not processed, calls = %d", h.store.calls)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, time.Now())
	h.monitor.now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.monitor.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}

func TestTickAcrossMinuteBoundarySendsOnce(t *testing.T) {
	before := time.Date(2024, time.June, 1, 7, 29, 59, 900_000_000, time.UTC)
	after := time.Date(2024, time.June, 1, 7, 30, 0, 100_000_000, time.UTC)
	h := newHarness(t, before, user(1, "1.1", 7, 30))
	h.monitor.now = clockSeq(before, after)
	ctx := context.Background()

	// A manual trigger just before the boundary, then the driver's tick just after it.
	for range 3 {
		if err := h.monitor.Tick(ctx); err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
	}

	if len(h.planner.calls) != 1 {
		t.Errorf("summary for 07:30 delivered %d times, want 1", len(h.planner.calls))
	}
	if h.store.calls != 2 {
		t.Errorf("processed %d minutes, want 07:29 and 07:30", h.store.calls)
	}
}

func TestPlanUsesClockAfterSending(t *testing.T) {
	tick := time.Date(2024, time.June, 1, 7, 30, 0, 0, time.UTC)
	later := tick.Add(2 * time.Minute)
	h := newHarness(t, tick, user(1, "1.1", 7, 30))
	h.monitor.now = clockSeq(tick, later)
	// Lead 60: the pre-off instant 07:31 passes while the tick is running, the pre-on 08:00 does not.
	h.fetcher.result = &outage.FetchResult{Schedule: outage.Schedule{"1.1": {tr(8, 31, 9, 0)}}}

	if err := h.monitor.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll() error = %v", err)
	}

	if len(h.planner.calls) != 1 {
		t.Fatalf("plan calls = %d, want 1", len(h.planner.calls))
	}
	call := h.planner.calls[0]
	if !call.now.Equal(later) {
		t.Errorf("planned at %v, want %v", call.now, later)
	}
	if len(call.jobs) != 1 || call.jobs[0].Key.Edge != planner.EdgeOn {
		t.Errorf("jobs = %+v, want only the pre-on reminder", call.jobs)
	}
	if !strings.Contains(h.sender.sent[1], "Графік на 01.06.2024") {
		t.Errorf("summary date wrong:\n%s", h.sender.sent[1])
	}
}
