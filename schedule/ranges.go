package schedule

import (
	"regexp"
	"strconv"

	"outage-notifier/pkg/outage"
)

var timeRangeRegex = regexp.MustCompile(`(\d{1,2}):(\d{2})\s*[-–]\s*(\d{1,2}):(\d{2})`)

// ParseRanges returns every H:MM-H:MM window found in text, left to right.
// Reversed or overlapping windows are returned as written.
func ParseRanges(text string) []outage.TimeRange {
	var out []outage.TimeRange
	for _, m := range timeRangeRegex.FindAllStringSubmatch(text, -1) {
		out = append(out, outage.TimeRange{
			Start: outage.Clock{Hour: atoi(m[1]), Minute: atoi(m[2])},
			End:   outage.Clock{Hour: atoi(m[3]), Minute: atoi(m[4])},
		})
	}
	return out
}

// atoi is only called on regex digit groups.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
