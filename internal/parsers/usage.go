package parsers

import (
	"strings"

	"github.com/rileyhilliard/fleetwatch/internal/model"
)

// ParseUsageRows parses the allocation table printed by show_usage:
//
//	System   Subproject     Allocated   Used  Remaining  Pct  Background
//	======   ==========     =========   ====  =========  ===  ==========
//	jean     AFSNW27526RYZ     250000      0     250000  100.00%     0
//
// Rows are only read after the header and at least one separator line.
func ParseUsageRows(text string) []Row[model.UsageRecord] {
	lines := splitLines(text)
	rows := make([]Row[model.UsageRecord], 0, len(lines))

	inTable := false
	dataStarted := false

	for i, line := range lines {
		n := i + 1
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			rows = append(rows, skip[model.UsageRecord](n, line, SkipBlank))
			continue
		}
		if isUsageHeader(line) {
			inTable = true
			dataStarted = false
			rows = append(rows, skip[model.UsageRecord](n, line, SkipHeader))
			continue
		}
		if !inTable {
			rows = append(rows, skip[model.UsageRecord](n, line, SkipOutsideTable))
			continue
		}
		// Separators mark where data begins; they never end the table.
		if strings.HasPrefix(trimmed, "=") || strings.HasPrefix(trimmed, "-") {
			dataStarted = true
			rows = append(rows, skip[model.UsageRecord](n, line, SkipSeparator))
			continue
		}
		if !dataStarted {
			rows = append(rows, skip[model.UsageRecord](n, line, SkipHeader))
			continue
		}

		rows = append(rows, parseUsageLine(n, line, trimmed))
	}

	return rows
}

func isUsageHeader(line string) bool {
	return strings.Contains(line, "System") &&
		strings.Contains(line, "Subproject") &&
		strings.Contains(line, "Allocated")
}

func parseUsageLine(n int, raw, trimmed string) Row[model.UsageRecord] {
	fields := strings.Fields(trimmed)
	if len(fields) < 7 {
		return skip[model.UsageRecord](n, raw, SkipTooFewColumns)
	}

	counts, ok := parseCounts(fields[2], fields[3], fields[4], fields[6])
	if !ok {
		return skip[model.UsageRecord](n, raw, SkipBadNumber)
	}
	pct, ok := parsePercent(fields[5])
	if !ok {
		return skip[model.UsageRecord](n, raw, SkipBadNumber)
	}

	return accept(n, raw, model.UsageRecord{
		System:              fields[0],
		Subproject:          fields[1],
		HoursAllocated:      counts[0],
		HoursUsed:           counts[1],
		HoursRemaining:      counts[2],
		PercentRemaining:    pct,
		BackgroundHoursUsed: counts[3],
	})
}

// UsageHeader returns the free-text banner above the usage table: the
// leading non-empty lines up to the first blank, "System" or "=" line,
// joined by single spaces.
func UsageHeader(text string) string {
	var parts []string
	started := false
	for _, line := range splitLines(text) {
		trimmed := strings.TrimSpace(line)
		if !started && trimmed == "" {
			continue
		}
		started = true
		if trimmed == "" || strings.HasPrefix(trimmed, "System") || strings.HasPrefix(trimmed, "=") {
			break
		}
		parts = append(parts, trimmed)
	}
	return strings.Join(parts, " ")
}

// FiscalYearInfo returns every line mentioning "Fiscal Year" or
// "Hours Remaining", joined by single spaces.
func FiscalYearInfo(text string) string {
	var parts []string
	for _, line := range splitLines(text) {
		if strings.Contains(line, "Fiscal Year") || strings.Contains(line, "Hours Remaining") {
			parts = append(parts, strings.TrimSpace(line))
		}
	}
	return strings.Join(parts, " ")
}

// ParseUsage parses the full show_usage output into a usage section.
func ParseUsage(text string) model.UsageSection {
	return model.UsageSection{
		Header:         UsageHeader(text),
		FiscalYearInfo: FiscalYearInfo(text),
		Systems:        Records(ParseUsageRows(text)),
	}
}
