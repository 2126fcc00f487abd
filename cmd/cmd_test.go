package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"outage-notifier/config"
	"outage-notifier/pkg/outage"
)

const savedPage = `<html><body>
<p>Оновлено: 15.10.2026 21:40</p>
<table>
  <tr><td>Дата</td><td>Підчерга</td><td>1.1</td><td>1.2</td></tr>
  <tr><td>Сьогодні</td><td>16.10.2026</td><td>08:00 - 10:00<br>18:00 - 20:00</td><td>Очікується</td></tr>
</table>
</body></html>`

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestCheckSavedPage(t *testing.T) {
	page := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(page, []byte(savedPage), 0o600); err != nil {
		t.Fatal(err)
	}

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"check", "--env-file", "", "--file", page, "--date", "2026-10-16"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("check failed: %v\n%s", err, errOut.String())
	}

	var got outage.Report
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	want := outage.Report{
		Date:     "16.10.2026",
		Updated:  "Оновлено: 15.10.2026 21:40",
		Schedule: map[string][]string{"1.1": {"08:00–10:00", "18:00–20:00"}, "1.2": {}},
		Pending:  []string{"1.2"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("report = %+v, want %+v", got, want)
	}
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  config.Config
	}{
		{"local", config.Config{LocalStorage: filepath.Join(dir, "users")}},
		{"sqlite", config.Config{SQLitePath: filepath.Join(dir, "db", "users.db")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &app{cfg: &tt.cfg, logger: testLogger()}
			defer a.close()

			store, err := a.openStore(context.Background())
			if err != nil {
				t.Fatalf("openStore() error = %v", err)
			}
			ctx := context.Background()
			u := &outage.User{ID: 42, Subqueue: "3.1", CreatedAt: time.Now().UTC().Truncate(time.Second)}
			if err := store.Save(ctx, u); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			users, err := store.List(ctx)
			if err != nil || len(users) != 1 || users[0].Subqueue != "3.1" {
				t.Errorf("List() = %v, %v", users, err)
			}
		})
	}
}

func TestAppRunsInMockMode(t *testing.T) {
	cfg := config.Config{
		ScheduleURL:    "http://127.0.0.1:1/",
		Timezone:       "Europe/Kyiv",
		LocalStorage:   t.TempDir(),
		Port:           "0",
		FetchTimeout:   time.Second,
		TodayRateLimit: 1,
	}
	a, err := newApp(context.Background(), &cfg, testLogger(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close()
	if a.router != nil {
		t.Error("router started without a bot token")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not stop")
	}
}
