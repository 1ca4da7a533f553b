package ui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rileyhilliard/fleetwatch/internal/model"
	"github.com/rileyhilliard/fleetwatch/internal/views"
)

const (
	columnGap  = 2
	notApplied = "N/A"
	barWidth   = 12
)

// RenderTable renders a plain left-aligned table. Column widths fit the
// widest cell, ANSI styling excluded.
func RenderTable(headers []string, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	total := 0
	for _, w := range widths {
		total += w + columnGap
	}

	var sb strings.Builder
	headerStyle := HeaderStyle()
	border := MutedStyle()

	cells := make([]string, len(headers))
	for i, h := range headers {
		cells[i] = padRight(headerStyle.Render(h), widths[i])
	}
	sb.WriteString(strings.TrimRight(strings.Join(cells, strings.Repeat(" ", columnGap)), " "))
	sb.WriteString("\n")
	sb.WriteString(border.Render(strings.Repeat("─", total-columnGap)))
	sb.WriteString("\n")

	for _, row := range rows {
		cells = cells[:0]
		for i := range headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			cells = append(cells, padRight(cell, widths[i]))
		}
		sb.WriteString(strings.TrimRight(strings.Join(cells, strings.Repeat(" ", columnGap)), " "))
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderClusters lists endpoints in enumeration order.
func RenderClusters(endpoints []model.ClusterEndpoint) string {
	if len(endpoints) == 0 {
		return "No active clusters found\n"
	}
	rows := make([][]string, 0, len(endpoints))
	for _, ep := range endpoints {
		rows = append(rows, []string{
			StatusSymbol(ep.Status),
			ep.Name(),
			ep.URI,
			ep.Type,
		})
	}
	return RenderTable([]string{"", "CLUSTER", "URI", "TYPE"}, rows)
}

// TopByRemaining returns up to n profiles ordered by percent of
// allocation remaining, highest first. Profiles with no allocation sort
// last. n <= 0 keeps them all.
func TopByRemaining(profiles []views.ClusterProfile, n int) []views.ClusterProfile {
	sorted := make([]views.ClusterProfile, len(profiles))
	copy(sorted, profiles)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Usage.PercentRemaining, sorted[j].Usage.PercentRemaining
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// RenderUsage renders the top n clusters by allocation remaining with
// their least backlogged queue.
func RenderUsage(profiles []views.ClusterProfile, n int) string {
	top := TopByRemaining(profiles, n)
	if len(top) == 0 {
		return "No cluster usage data yet\n"
	}
	rows := make([][]string, 0, len(top))
	for _, p := range top {
		queue := MutedStyle().Render("-")
		if q := p.PlacementHint.LeastBackloggedQueue; q != nil {
			queue = fmt.Sprintf("%s (%d pending)", q.Name, q.Jobs.Pending)
		}
		capacity := SuccessStyle().Render("yes")
		if !p.PlacementHint.HasCapacity {
			capacity = ErrorStyle().Render("no")
		}
		rows = append(rows, []string{
			p.Cluster,
			RenderRemainingBar(p.Usage.PercentRemaining, barWidth),
			FormatHours(p.Usage.TotalRemainingHours),
			queue,
			capacity,
		})
	}
	return RenderTable([]string{"CLUSTER", "REMAINING", "HOURS LEFT", "LEAST BACKLOGGED", "CAPACITY"}, rows)
}

// RenderFleetStats renders the status-feed summary: uptime followed by
// counts per status.
func RenderFleetStats(stats views.FleetStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %d systems, %s up\n",
		HeaderStyle().Render("Fleet:"),
		stats.TotalSystems,
		uptimeStyle(stats.UptimeRatio).Render(fmt.Sprintf("%.1f%%", stats.UptimeRatio*100)))

	for _, status := range sortedKeys(stats.StatusCounts) {
		fmt.Fprintf(&sb, "  %s %-12s %d\n", StatusSymbol(status), status, stats.StatusCounts[status])
	}
	return sb.String()
}

// RenderSystems lists status-feed rows.
func RenderSystems(rows []model.SystemRow) string {
	if len(rows) == 0 {
		return "No systems reported\n"
	}
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			StatusSymbol(r.Status),
			r.System,
			orDash(r.Status),
			orDash(r.DSRC),
			orDash(r.Scheduler),
			orDash(r.LoginNode),
		})
	}
	return RenderTable([]string{"", "SYSTEM", "STATUS", "DSRC", "SCHEDULER", "LOGIN NODE"}, out)
}

// RenderRemainingBar draws percent remaining as a bar. More remaining is
// better: red below the capacity threshold, yellow below 25%, else green.
// A nil percent renders N/A.
func RenderRemainingBar(percent *float64, width int) string {
	if percent == nil {
		return MutedStyle().Render(notApplied)
	}
	p := clampPercent(*percent)
	filled := int(p / 100 * float64(width))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return lipgloss.NewStyle().Foreground(remainingColor(p)).Render(bar) + fmt.Sprintf(" %5.1f%%", p)
}

func remainingColor(percent float64) lipgloss.Color {
	switch {
	case percent <= views.CapacityThreshold:
		return ColorError
	case percent < 25:
		return ColorWarning
	default:
		return ColorSuccess
	}
}

func uptimeStyle(ratio float64) lipgloss.Style {
	switch {
	case ratio >= 0.9:
		return SuccessStyle()
	case ratio >= 0.5:
		return WarningStyle()
	default:
		return ErrorStyle()
	}
}

// FormatHours renders an hour count with thousands separators.
func FormatHours(h int64) string {
	s := strconv.FormatInt(h, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var sb strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			sb.WriteRune(',')
		}
		sb.WriteRune(r)
	}
	if neg {
		return "-" + sb.String()
	}
	return sb.String()
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// padRight pads a string to the specified width.
func padRight(s string, width int) string {
	// Account for ANSI codes when calculating visible length
	visibleLen := lipgloss.Width(s)
	if visibleLen >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visibleLen)
}
