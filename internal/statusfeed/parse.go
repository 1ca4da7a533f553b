// Package statusfeed scrapes the upstream systems status page and keeps
// the resulting payload fresh.
package statusfeed

import (
	"io"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/model"
)

// headerSynonyms maps normalized header text to the canonical row key.
var headerSynonyms = map[string]string{
	"system":          "system",
	"system_name":     "system",
	"name":            "system",
	"status":          "status",
	"system_status":   "status",
	"dsrc":            "dsrc",
	"center":          "dsrc",
	"site":            "dsrc",
	"login":           "login_node",
	"login_node":      "login_node",
	"login_nodes":     "login_node",
	"login_node_s":    "login_node",
	"scheduler":       "scheduler",
	"batch_scheduler": "scheduler",
}

// ParseTable reads the first table in an HTML document. The first row
// holding header cells (or, failing that, the first row) names the
// columns; every later row with at least one non-empty cell becomes a
// SystemRow stamped with observedAt.
func ParseTable(r io.Reader, observedAt time.Time) ([]model.SystemRow, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrFeed, "Couldn't parse the status page", "")
	}

	table := findFirst(doc, atom.Table)
	if table == nil {
		return nil, errors.New(errors.ErrFeed, "Status page has no table",
			"Check feed.url points at the systems status page")
	}

	stamp := observedAt.UTC().Format(time.RFC3339)

	var keys []string
	rows := []model.SystemRow{}
	for _, tr := range collect(table, atom.Tr) {
		cells, header := rowCells(tr)
		if keys == nil {
			if header || len(cells) > 0 {
				keys = make([]string, len(cells))
				for i, c := range cells {
					keys[i] = HeaderKey(c)
				}
			}
			continue
		}
		if allEmpty(cells) {
			continue
		}

		row := model.SystemRow{ObservedAt: stamp}
		for i, c := range cells {
			if i >= len(keys) || keys[i] == "" {
				continue
			}
			row.Set(keys[i], c)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// HeaderKey normalizes a column header: lower-case, runs of anything but
// letters and digits become one underscore, and known synonyms map to
// the canonical key.
func HeaderKey(text string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	key := b.String()
	if canon, ok := headerSynonyms[key]; ok {
		return canon
	}
	return key
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

// collect returns matching descendants in document order without
// descending into nested tables.
func collect(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.DataAtom == a {
				out = append(out, c)
				continue
			}
			if c.DataAtom == atom.Table {
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

func rowCells(tr *html.Node) (cells []string, header bool) {
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Th:
			header = true
			cells = append(cells, textOf(c))
		case atom.Td:
			cells = append(cells, textOf(c))
		}
	}
	return cells, header
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func allEmpty(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
