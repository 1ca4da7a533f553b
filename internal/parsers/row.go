// Package parsers turns the loosely structured tables printed by cluster
// tooling into typed records. Every routine reports one Row per input
// line, so callers can see exactly why a line was dropped.
package parsers

import (
	"math"
	"strconv"
	"strings"
)

// SkipReason explains why a line produced no record.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipBlank         SkipReason = "blank"
	SkipSeparator     SkipReason = "separator"
	SkipHeader        SkipReason = "header"
	SkipTooFewColumns SkipReason = "too_few_columns"
	SkipBadNumber     SkipReason = "bad_number"
	SkipFiltered      SkipReason = "filtered"
	SkipOutsideTable  SkipReason = "outside_table"
)

// Row is the outcome of parsing one input line: either an accepted record
// or a skip reason.
type Row[T any] struct {
	Record T
	Skip   SkipReason
	// Line is the 1-based line number in the input.
	Line int
	Raw  string
}

// Accepted reports whether the row produced a record.
func (r Row[T]) Accepted() bool {
	return r.Skip == SkipNone
}

// Records returns the accepted records in input order, never nil.
func Records[T any](rows []Row[T]) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		if r.Accepted() {
			out = append(out, r.Record)
		}
	}
	return out
}

// CountSkips tallies skipped rows by reason.
func CountSkips[T any](rows []Row[T]) map[SkipReason]int {
	counts := make(map[SkipReason]int)
	for _, r := range rows {
		if !r.Accepted() {
			counts[r.Skip]++
		}
	}
	return counts
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}
	return lines
}

func skip[T any](n int, raw string, reason SkipReason) Row[T] {
	return Row[T]{Skip: reason, Line: n, Raw: raw}
}

func accept[T any](n int, raw string, rec T) Row[T] {
	return Row[T]{Record: rec, Line: n, Raw: raw}
}

// parseCount parses a non-negative integer column.
func parseCount(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// parsePercent parses a "75.00%" column. NaN, infinities and negative
// values are rejected.
func parsePercent(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

// parseCounts parses every token as a non-negative integer.
func parseCounts(tokens ...string) ([]int64, bool) {
	out := make([]int64, len(tokens))
	for i, tok := range tokens {
		v, ok := parseCount(tok)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}
