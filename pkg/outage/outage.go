// Package outage contains the core domain types for the outage notification service.
package outage

import (
	"fmt"
	"time"
)

// DateLayout is the DD.MM.YYYY format used on the publisher page and in messages.
const DateLayout = "02.01.2006"

// Subqueues lists every valid subqueue code in canonical order.
var Subqueues = func() []string {
	var out []string
	for major := 1; major <= 6; major++ {
		for minor := 1; minor <= 2; minor++ {
			out = append(out, fmt.Sprintf("%d.%d", major, minor))
		}
	}
	return out
}()

// ValidSubqueue reports whether code is one of the twelve subqueue codes.
func ValidSubqueue(code string) bool {
	for _, sq := range Subqueues {
		if sq == code {
			return true
		}
	}
	return false
}

// Clock is a wall-clock time of day without a date.
type Clock struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// On anchors the clock to the calendar date of day, in day's location.
// Hours past 23 (e.g. "24:00") roll over into the next day.
func (c Clock) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, day.Location())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// TimeRange is one outage window on a given date.
// Start < End is not enforced: values are kept exactly as published.
type TimeRange struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

func (r TimeRange) String() string {
	return r.Start.String() + "–" + r.End.String()
}

// Schedule maps a subqueue code to its outage windows for one date, in document order.
// A missing key means no data; an empty slice means no outage or not yet published.
type Schedule map[string][]TimeRange

// FetchResult is one extraction of the publisher page for a date.
type FetchResult struct {
	Date     time.Time       `json:"-"`
	Schedule Schedule        `json:"schedule"`
	Pending  map[string]bool `json:"pending,omitempty"` // Subqueues whose cell carried the pending marker
	Updated  string          `json:"updated,omitempty"` // Publisher's "last updated" marker, verbatim
}

// Ranges returns the windows for a subqueue and whether the subqueue was present at all.
func (r *FetchResult) Ranges(subqueue string) ([]TimeRange, bool) {
	if r == nil || r.Schedule == nil {
		return nil, false
	}
	ranges, ok := r.Schedule[subqueue]
	return ranges, ok
}

// IsPending reports whether the subqueue's cell was marked as not yet published.
func (r *FetchResult) IsPending(subqueue string) bool {
	return r != nil && r.Pending[subqueue]
}

// User is a subscriber's preference snapshot.
type User struct {
	CreatedAt   time.Time `json:"created_at"`
	Subqueue    string    `json:"subqueue"`       // Empty when not chosen yet
	ID          int64     `json:"id"`             // Telegram chat id
	DailyHour   int       `json:"daily_hour"`     // Local hour of the daily summary
	DailyMinute int       `json:"daily_minute"`   // Local minute of the daily summary
	LeadMinutes int       `json:"remind_minutes"` // Minutes before a boundary to remind
	Paused      bool      `json:"paused"`
}

// Active reports whether the user should receive anything at all.
func (u *User) Active() bool {
	return u != nil && !u.Paused && u.Subqueue != ""
}

// DueAt reports whether the daily summary is due at the wall-clock minute of now.
func (u *User) DueAt(now time.Time) bool {
	return u.Active() && now.Hour() == u.DailyHour && now.Minute() == u.DailyMinute
}

// Report is the JSON view of a FetchResult served over HTTP and printed by the CLI.
type Report struct {
	Date     string              `json:"date"`
	Updated  string              `json:"updated,omitempty"`
	Schedule map[string][]string `json:"schedule"`
	Pending  []string            `json:"pending,omitempty"`
}

// Report renders the result with ranges as "HH:MM–HH:MM" strings.
// A non-empty subqueue narrows the report to that subqueue.
func (r *FetchResult) Report(subqueue string) Report {
	rep := Report{Schedule: make(map[string][]string)}
	if r == nil {
		return rep
	}
	if !r.Date.IsZero() {
		rep.Date = r.Date.Format(DateLayout)
	}
	rep.Updated = r.Updated
	for _, sq := range Subqueues {
		if subqueue != "" && sq != subqueue {
			continue
		}
		if ranges, ok := r.Schedule[sq]; ok {
			out := make([]string, 0, len(ranges))
			for _, tr := range ranges {
				out = append(out, tr.String())
			}
			rep.Schedule[sq] = out
		}
		if r.Pending[sq] {
			rep.Pending = append(rep.Pending, sq)
		}
	}
	return rep
}
