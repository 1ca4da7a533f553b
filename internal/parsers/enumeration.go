package parsers

import (
	"strings"

	"github.com/rileyhilliard/fleetwatch/internal/model"
)

const (
	wantType   = "existing"
	wantStatus = "on"
)

// ParseEnumerationRows parses the cluster listing table:
//
//	+--------------------+--------+----------+
//	| URI                | STATUS | TYPE     |
//	+--------------------+--------+----------+
//	| pw://mshaxted/jean | on     | existing |
//	+--------------------+--------+----------+
//
// Only clusters of type "existing" with status "on" are accepted.
func ParseEnumerationRows(text string) []Row[model.ClusterEndpoint] {
	lines := splitLines(text)
	rows := make([]Row[model.ClusterEndpoint], 0, len(lines))

	for i, line := range lines {
		n := i + 1
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			rows = append(rows, skip[model.ClusterEndpoint](n, line, SkipBlank))
			continue
		case isBorderLine(trimmed):
			rows = append(rows, skip[model.ClusterEndpoint](n, line, SkipSeparator))
			continue
		case strings.Contains(line, "URI") || strings.Contains(line, "STATUS") || strings.Contains(line, "TYPE"):
			rows = append(rows, skip[model.ClusterEndpoint](n, line, SkipHeader))
			continue
		}

		inner := strings.TrimSpace(strings.Trim(trimmed, "|"))
		var cols []string
		for _, part := range strings.Split(inner, "|") {
			if p := strings.TrimSpace(part); p != "" {
				cols = append(cols, p)
			}
		}
		if len(cols) < 3 {
			rows = append(rows, skip[model.ClusterEndpoint](n, line, SkipTooFewColumns))
			continue
		}

		ep := model.ClusterEndpoint{URI: cols[0], Status: cols[1], Type: cols[2]}
		if ep.Type != wantType || ep.Status != wantStatus {
			rows = append(rows, skip[model.ClusterEndpoint](n, line, SkipFiltered))
			continue
		}
		rows = append(rows, accept(n, line, ep))
	}

	return rows
}

// ParseEnumeration returns the accepted endpoints in table order.
func ParseEnumeration(text string) []model.ClusterEndpoint {
	return Records(ParseEnumerationRows(text))
}

// isBorderLine matches table borders like "+---+---+", "|---+---|" and
// pure rule lines.
func isBorderLine(s string) bool {
	if strings.HasPrefix(s, "+") {
		return true
	}
	if strings.HasPrefix(s, "|") && strings.Contains(s, "+") {
		return true
	}
	return strings.Trim(s, "-=+| ") == ""
}
