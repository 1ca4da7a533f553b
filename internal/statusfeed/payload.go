package statusfeed

import (
	"github.com/rileyhilliard/fleetwatch/internal/model"
	"github.com/rileyhilliard/fleetwatch/internal/views"
)

// Meta describes where a payload came from.
type Meta struct {
	SourceURL string `json:"source_url"`
	// GeneratedAt is the first row's observed_at, nil for an empty feed.
	GeneratedAt *string `json:"generated_at"`
}

// Payload is what /api/status serves and what is written to disk.
type Payload struct {
	Meta    Meta              `json:"meta"`
	Summary views.FleetStats  `json:"summary"`
	Systems []model.SystemRow `json:"systems"`
}

// BuildPayload wraps rows with their summary.
func BuildPayload(rows []model.SystemRow, sourceURL string) *Payload {
	if rows == nil {
		rows = []model.SystemRow{}
	}
	p := &Payload{
		Meta:    Meta{SourceURL: sourceURL},
		Summary: views.FleetSummary(rows),
		Systems: rows,
	}
	if len(rows) > 0 && rows[0].ObservedAt != "" {
		at := rows[0].ObservedAt
		p.Meta.GeneratedAt = &at
	}
	return p
}
