package doctor

import (
	"context"
	"fmt"

	"github.com/rileyhilliard/fleetwatch/internal/statusfeed"
	"github.com/rileyhilliard/fleetwatch/internal/store"
	"github.com/rileyhilliard/fleetwatch/internal/util"
)

// FeedCheck fetches the status page once. Err is set instead of Source
// when the fetcher couldn't be built.
type FeedCheck struct {
	Source statusfeed.Source
	Err    error
}

func (c *FeedCheck) Name() string     { return "status_feed" }
func (c *FeedCheck) Category() string { return "STATUS FEED" }

func (c *FeedCheck) Run(ctx context.Context) CheckResult {
	if c.Err != nil {
		return failure(c.Err, "Check feed.ca_bundle")
	}
	rows, err := c.Source.Fetch(ctx)
	if err != nil {
		return failure(err, "Check feed.url and feed.ca_bundle")
	}
	if len(rows) == 0 {
		return CheckResult{
			Status:     StatusWarn,
			Message:    fmt.Sprintf("%s returned no systems", c.Source.URL()),
			Suggestion: "The page may have changed layout",
		}
	}
	return CheckResult{
		Status: StatusPass,
		Message: fmt.Sprintf("%d %s from %s", len(rows),
			util.Pluralize(len(rows), "system", "systems"), c.Source.URL()),
	}
}

// HistoryOpener connects to the history database.
type HistoryOpener func(ctx context.Context) (*store.HistoryStore, error)

// HistoryCheck connects to the history database and makes sure the
// table can be created.
type HistoryCheck struct {
	Open HistoryOpener
}

func (c *HistoryCheck) Name() string     { return "history_db" }
func (c *HistoryCheck) Category() string { return "HISTORY" }

func (c *HistoryCheck) Run(ctx context.Context) CheckResult {
	h, err := c.Open(ctx)
	if err != nil {
		return failure(err, "Check history.dsn")
	}
	defer h.Close()

	if err := h.EnsureSchema(ctx); err != nil {
		return failure(err, "The history user needs CREATE on the target schema")
	}
	return CheckResult{
		Status:  StatusPass,
		Message: "History database reachable",
	}
}
