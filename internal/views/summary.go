// Package views derives read-only aggregates from collected data. All
// functions are pure: no I/O and no mutation of their inputs.
package views

import (
	"math"
	"strings"

	"github.com/rileyhilliard/fleetwatch/internal/model"
)

const unknown = "UNKNOWN"

// FleetStats summarizes the status feed.
type FleetStats struct {
	TotalSystems    int            `json:"total_systems"`
	StatusCounts    map[string]int `json:"status_counts"`
	DSRCCounts      map[string]int `json:"dsrc_counts"`
	SchedulerCounts map[string]int `json:"scheduler_counts"`
	UptimeRatio     float64        `json:"uptime_ratio"`
}

// FleetSummary counts systems by upper-cased status, DSRC and scheduler
// (missing values count as UNKNOWN) and computes the share that is UP,
// rounded to three decimals.
func FleetSummary(rows []model.SystemRow) FleetStats {
	stats := FleetStats{
		TotalSystems:    len(rows),
		StatusCounts:    make(map[string]int),
		DSRCCounts:      make(map[string]int),
		SchedulerCounts: make(map[string]int),
	}
	if len(rows) == 0 {
		return stats
	}

	up := 0
	for _, r := range rows {
		stats.StatusCounts[bucket(r.Status)]++
		stats.DSRCCounts[bucket(r.DSRC)]++
		stats.SchedulerCounts[bucket(r.Scheduler)]++
		if strings.ToUpper(r.Status) == "UP" {
			up++
		}
	}
	stats.UptimeRatio = round(float64(up)/float64(len(rows)), 3)
	return stats
}

func bucket(v string) string {
	if v == "" {
		return unknown
	}
	return strings.ToUpper(v)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
