package delivery

import (
	"fmt"
	"strings"
	"time"

	"outage-notifier/pkg/outage"
)

// Message texts are Ukrainian, matching the publisher's audience.
const (
	pendingText  = "⏳ *Очікується* (години ще не опубліковані)"
	noOutageText = "✅ Відключень не заплановано"
	noDataText   = "❔ Для цієї підчерги на сайті немає даних"
	todayFooter  = "_Якщо на сайті 'Очікується' — це нормально, графік ще не дали._"
)

// FormatToday renders the daily summary for one subqueue.
// A pending cell, an empty cell and a missing column read differently.
func FormatToday(date time.Time, subqueue string, result *outage.FetchResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "⚡️ *Графік на %s*\n", date.Format(outage.DateLayout))
	fmt.Fprintf(&b, "Підчерга: *%s*\n\n", subqueue)

	ranges, ok := result.Ranges(subqueue)
	switch {
	case len(ranges) > 0:
		b.WriteString(formatRanges(ranges))
	case result.IsPending(subqueue):
		b.WriteString(pendingText)
	case ok:
		b.WriteString(noOutageText)
	default:
		b.WriteString(noDataText)
	}
	b.WriteString("\n\n")

	if result != nil && result.Updated != "" {
		b.WriteString("🕒 " + result.Updated + "\n")
	}
	b.WriteString(todayFooter)
	return b.String()
}

func formatRanges(ranges []outage.TimeRange) string {
	lines := make([]string, len(ranges))
	for i, r := range ranges {
		lines[i] = "• " + r.String()
	}
	return strings.Join(lines, "\n")
}

// FormatPreOff renders the reminder sent lead minutes before an outage starts.
func FormatPreOff(lead int, r outage.TimeRange) string {
	return fmt.Sprintf("⏳ Через %d хв можливе *вимкнення*: %s", lead, r)
}

// FormatPreOn renders the reminder sent lead minutes before power returns.
func FormatPreOn(lead int, r outage.TimeRange) string {
	return fmt.Sprintf("✅ Через %d хв планове *увімкнення*: о %s", lead, r.End)
}

// FormatStatus renders a user's settings and the number of waiting reminders.
func FormatStatus(u *outage.User, reminders int) string {
	subqueue := u.Subqueue
	if subqueue == "" {
		subqueue = "не обрано"
	}
	state := "✅ Активно"
	if u.Paused {
		state = "⏸ Призупинено"
	}

	var b strings.Builder
	b.WriteString("🧾 *Твої налаштування*\n\n")
	fmt.Fprintf(&b, "• Підчерга: *%s*\n", subqueue)
	fmt.Fprintf(&b, "• Щоденний графік о %s\n", outage.Clock{Hour: u.DailyHour, Minute: u.DailyMinute})
	fmt.Fprintf(&b, "• Нагадування за %d хв\n", u.LeadMinutes)
	fmt.Fprintf(&b, "• Стан: %s\n", state)
	fmt.Fprintf(&b, "• Заплановано нагадувань: %d", reminders)
	return b.String()
}
