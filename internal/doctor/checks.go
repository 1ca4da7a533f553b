// Package doctor runs diagnostic checks against a fleetwatch
// configuration: the config itself, the writable paths, the cluster CLI,
// SSH reachability, the status feed and the history database.
package doctor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rileyhilliard/fleetwatch/internal/util"
)

// CheckStatus is the outcome of a check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
	StatusSkip
)

// String returns a human-readable status.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	case StatusSkip:
		return "SKIP"
	default:
		return "UNKNOWN"
	}
}

// CheckResult holds the outcome of a single check.
type CheckResult struct {
	Name       string
	Category   string
	Status     CheckStatus
	Message    string
	Suggestion string
	Duration   time.Duration
}

// Check is a single diagnostic.
type Check interface {
	// Name is a stable identifier, e.g. "config_file".
	Name() string

	// Category groups related checks in output, e.g. "CONFIG".
	Category() string

	// Run performs the check. It must honor ctx.
	Run(ctx context.Context) CheckResult
}

// RunAll runs checks in order. Later checks may depend on state recorded
// by earlier ones.
func RunAll(ctx context.Context, checks []Check) []CheckResult {
	results := make([]CheckResult, len(checks))
	for i, c := range checks {
		results[i] = run(ctx, c)
	}
	return results
}

// RunAllParallel runs checks concurrently, at most limit at a time when
// limit is positive. Results keep the order of checks.
func RunAllParallel(ctx context.Context, checks []Check, limit int) []CheckResult {
	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, c := range checks {
		g.Go(func() error {
			results[i] = run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func run(ctx context.Context, c Check) CheckResult {
	start := time.Now()
	var res CheckResult
	if err := ctx.Err(); err != nil {
		res = CheckResult{Status: StatusSkip, Message: "cancelled"}
	} else {
		res = c.Run(ctx)
	}
	res.Name = c.Name()
	res.Category = c.Category()
	res.Duration = time.Since(start)
	return res
}

// GroupByCategory groups results by category, keeping first-seen order.
func GroupByCategory(results []CheckResult) (categories []string, grouped map[string][]CheckResult) {
	grouped = make(map[string][]CheckResult)
	for _, r := range results {
		if _, ok := grouped[r.Category]; !ok {
			categories = append(categories, r.Category)
		}
		grouped[r.Category] = append(grouped[r.Category], r)
	}
	return categories, grouped
}

// CountByStatus counts results by status.
func CountByStatus(results []CheckResult) (pass, warn, fail, skip int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		case StatusSkip:
			skip++
		}
	}
	return
}

// HasFailures reports whether any check failed.
func HasFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

// Summary returns a one-line summary such as "5 passed, 1 warning".
func Summary(results []CheckResult) string {
	pass, warn, fail, skip := CountByStatus(results)
	if warn == 0 && fail == 0 {
		return "All checks passed"
	}

	var parts []string
	if pass > 0 {
		parts = append(parts, fmt.Sprintf("%d passed", pass))
	}
	if warn > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", warn, util.Pluralize(warn, "warning", "warnings")))
	}
	if fail > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", fail, util.Pluralize(fail, "failure", "failures")))
	}
	if skip > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", skip))
	}

	return strings.Join(parts, ", ")
}
