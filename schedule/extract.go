package schedule

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"outage-notifier/pkg/outage"
)

var subqueueRegex = regexp.MustCompile(`^[1-6]\.[1-2]$`)

// Labels are the literal strings the publisher prints around the schedule.
type Labels struct {
	Updated string // Precedes the "last updated" timestamp
	Section string // Appears inside the schedule table
	Pending string // Cell marker for hours not published yet
}

// DefaultLabels match the Rivne oblenergo disconnections page.
var DefaultLabels = Labels{
	Updated: "Оновлено",
	Section: "Підчерга",
	Pending: "Очікується",
}

// Option configures extraction.
type Option func(*extractor)

// WithLabels overrides the publisher labels.
func WithLabels(l Labels) Option {
	return func(e *extractor) { e.labels = l }
}

// WithLocator replaces the default table heuristic.
func WithLocator(l Locator) Option {
	return func(e *extractor) { e.locator = l }
}

// WithLogger enables debug logging of where extraction stopped.
func WithLogger(logger *slog.Logger) Option {
	return func(e *extractor) { e.logger = logger }
}

type extractor struct {
	locator Locator
	logger  *slog.Logger
	updated *regexp.Regexp
	labels  Labels
}

func newExtractor(opts []Option) *extractor {
	e := &extractor{labels: DefaultLabels}
	for _, opt := range opts {
		opt(e)
	}
	if e.locator == nil {
		e.locator = LabelLocator{Label: e.labels.Section, Code: "1.1"}
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	e.updated = regexp.MustCompile(`(?i)(` + regexp.QuoteMeta(e.labels.Updated) +
		`\s*:\s*\d{1,2}\.\d{1,2}\.\d{4}\s+\d{1,2}:\d{2})`)
	return e
}

// Extract parses a publisher page and returns the schedule for date.
// Only unreadable markup is an error; a missing table, header, row or column yields an empty schedule.
func Extract(r io.Reader, date time.Time, opts ...Option) (*outage.FetchResult, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return ExtractDocument(goquery.NewDocumentFromNode(root), date, opts...), nil
}

// ExtractDocument is Extract over an already parsed document.
func ExtractDocument(doc *goquery.Document, date time.Time, opts ...Option) *outage.FetchResult {
	e := newExtractor(opts)

	result := &outage.FetchResult{
		Date:     date,
		Schedule: outage.Schedule{},
		Pending:  map[string]bool{},
	}
	if m := e.updated.FindStringSubmatch(flatten(doc.Nodes)); m != nil {
		result.Updated = m[1]
	}

	table := e.locator.Locate(doc)
	if table == nil {
		e.logger.Debug("No schedule table found", "date", date.Format(outage.DateLayout))
		return result
	}

	rows := grid(table)
	header := -1
	for i, row := range rows {
		if hasSubqueueCell(row) {
			header = i
			break
		}
	}
	if header < 0 {
		e.logger.Debug("No subqueue header row in schedule table", "rows", len(rows))
		return result
	}

	columns := make(map[int]string)
	for i, cell := range rows[header] {
		if subqueueRegex.MatchString(cell) {
			columns[i] = cell
		}
	}

	want := date.Format(outage.DateLayout)
	var target []string
	for _, row := range rows[header+1:] {
		if strings.Contains(strings.Join(row[:min(2, len(row))], " "), want) {
			target = row
			break
		}
	}
	if target == nil {
		e.logger.Debug("No row for date in schedule table", "date", want, "rows", len(rows)-header-1)
		return result
	}

	for col, sq := range columns {
		var cell string
		if col < len(target) {
			cell = target[col]
		}
		switch {
		case cell == "":
			result.Schedule[sq] = []outage.TimeRange{}
		case strings.Contains(cell, e.labels.Pending):
			result.Schedule[sq] = []outage.TimeRange{}
			result.Pending[sq] = true
		default:
			ranges := ParseRanges(cell)
			if ranges == nil {
				ranges = []outage.TimeRange{}
			}
			result.Schedule[sq] = ranges
		}
	}

	e.logger.Debug("Schedule extracted",
		"date", want,
		"subqueues", len(result.Schedule),
		"pending", len(result.Pending),
		"updated", result.Updated)
	return result
}

// grid linearises a table into rows of cell texts, skipping rows without cells.
func grid(table *goquery.Selection) [][]string {
	var rows [][]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var row []string
		tr.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
			row = append(row, flatten(cell.Nodes))
		})
		if len(row) > 0 {
			rows = append(rows, row)
		}
	})
	return rows
}

func hasSubqueueCell(row []string) bool {
	for _, cell := range row {
		if subqueueRegex.MatchString(cell) {
			return true
		}
	}
	return false
}
