package schedule

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Locator picks the schedule table out of a publisher document.
// It returns nil when no candidate table exists.
type Locator interface {
	Locate(doc *goquery.Document) *goquery.Selection
}

// LabelLocator selects the first table whose text contains both Label and Code.
type LabelLocator struct {
	Label string
	Code  string
}

// Locate implements Locator.
func (l LabelLocator) Locate(doc *goquery.Document) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		text := flatten(table.Nodes)
		if strings.Contains(text, l.Label) && strings.Contains(text, l.Code) {
			found = table
			return false
		}
		return true
	})
	return found
}

// flatten joins the text nodes under nodes with single spaces.
// Every whitespace run, non-breaking spaces included, becomes one space.
func flatten(nodes []*html.Node) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return collapse(strings.Join(parts, " "))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
