package schedule

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"outage-notifier/pkg/outage"
)

const fixturePage = `<html><body>
<p>Updated: 01.06.2024 08:15</p>
<table>
  <tr><th>Subqueue</th><th>1.1</th><th>1.2</th></tr>
  <tr><td>01.06.2024</td><td>10:00-12:00</td><td>Pending</td></tr>
</table>
</body></html>`

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" || r.Header.Get("Accept-Language") == "" {
			http.Error(w, "browser headers required", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(fixturePage))
	}))
	defer srv.Close()

	s := New(srv.Client(), srv.URL, time.Second, testLogger(), WithLabels(englishLabels))
	result, err := s.Fetch(context.Background(), day(2024, time.June, 1))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	want := outage.Schedule{
		"1.1": {tr(10, 0, 12, 0)},
		"1.2": {},
	}
	if !reflect.DeepEqual(result.Schedule, want) {
		t.Errorf("Schedule = %v, want %v", result.Schedule, want)
	}
	if !result.IsPending("1.2") {
		t.Error("1.2 should be pending")
	}
	if result.Updated != "Updated: 01.06.2024 08:15" {
		t.Errorf("Updated = %q", result.Updated)
	}
}

func TestFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := New(srv.Client(), srv.URL, time.Second, testLogger())
	_, err := s.Fetch(context.Background(), day(2024, time.June, 1))
	if err == nil {
		t.Fatal("Fetch() error = nil, want status error")
	}
	if !IsFetchError(err) {
		t.Errorf("IsFetchError(%v) = false", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Fetch() error = %v, want StatusError 503", err)
	}
	if IsTimeout(err) {
		t.Error("status error reported as timeout")
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	s := New(srv.Client(), srv.URL, 50*time.Millisecond, testLogger())
	_, err := s.Fetch(context.Background(), day(2024, time.June, 1))
	if err == nil {
		t.Fatal("Fetch() error = nil, want timeout")
	}
	if !IsFetchError(err) || !IsTimeout(err) {
		t.Errorf("Fetch() error = %v, want fetch timeout", err)
	}
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := New(http.DefaultClient, url, time.Second, testLogger())
	_, err := s.Fetch(context.Background(), day(2024, time.June, 1))
	if !IsFetchError(err) {
		t.Errorf("Fetch() error = %v, want fetch error", err)
	}
}

func TestFetchEmptyPageIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>Графік оновлюється</body></html>"))
	}))
	defer srv.Close()

	s := New(srv.Client(), srv.URL, 0, testLogger())
	result, err := s.Fetch(context.Background(), day(2024, time.June, 1))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(result.Schedule) != 0 {
		t.Errorf("Schedule = %v, want empty", result.Schedule)
	}
}
