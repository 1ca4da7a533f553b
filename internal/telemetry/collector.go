// Package telemetry collects the usage and queue reports from one
// cluster and assembles them into a ClusterDocument.
package telemetry

import (
	"context"
	"time"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/logger"
	"github.com/rileyhilliard/fleetwatch/internal/metrics"
	"github.com/rileyhilliard/fleetwatch/internal/model"
	"github.com/rileyhilliard/fleetwatch/internal/parsers"
	"github.com/rileyhilliard/fleetwatch/internal/remote"
)

// Collector runs the two report queries for a cluster.
type Collector struct {
	runner  remote.Runner
	timeout time.Duration
	log     logger.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// NewCollector creates a Collector. Each query gets its own timeout;
// zero means the caller's context alone bounds it.
func NewCollector(runner remote.Runner, timeout time.Duration, log logger.Logger, m *metrics.Recorder) *Collector {
	if log == nil {
		log = logger.Noop()
	}
	return &Collector{
		runner:  runner,
		timeout: timeout,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// Collect runs the usage query, then the queue query. A failed query
// leaves its section empty and the other still runs; a document is
// always returned. The timestamp is taken once both calls are done.
func (c *Collector) Collect(ctx context.Context, ep model.ClusterEndpoint) model.ClusterDocument {
	var usage model.UsageSection
	if text, ok := c.query(ctx, ep, remote.QueryUsage); ok {
		rows := parsers.ParseUsageRows(text)
		c.recordSkips("usage", parsers.CountSkips(rows))
		usage = model.UsageSection{
			Header:         parsers.UsageHeader(text),
			FiscalYearInfo: parsers.FiscalYearInfo(text),
			Systems:        parsers.Records(rows),
		}
	}

	var queue model.QueueSection
	if text, ok := c.query(ctx, ep, remote.QueryQueue); ok {
		queueRows := parsers.ParseQueueRows(text)
		nodeRows := parsers.ParseNodeRows(text)
		c.recordSkips("queue", parsers.CountSkips(queueRows))
		c.recordSkips("node", parsers.CountSkips(nodeRows))
		queue = model.QueueSection{
			Queues: parsers.Records(queueRows),
			Nodes:  parsers.Records(nodeRows),
		}
	}

	doc := model.NewClusterDocument(ep, usage, queue, c.now())
	c.log.Debug("collected %s: %d usage, %d queues, %d node classes",
		doc.Metadata.Name, len(doc.Usage.Systems), len(doc.Queue.Queues), len(doc.Queue.Nodes))
	return doc
}

func (c *Collector) query(ctx context.Context, ep model.ClusterEndpoint, kind remote.QueryKind) (string, bool) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := c.runner.Query(callCtx, ep, kind)
	c.metrics.ObserveCollect(string(kind), time.Since(start), err)
	if err != nil {
		c.log.Warn("%s query on %s failed: %s", kind, ep.Name(), errors.Summarize(err))
		return "", false
	}
	return text, true
}

func (c *Collector) recordSkips(table string, counts map[parsers.SkipReason]int) {
	for reason, n := range counts {
		// Layout lines are expected; only surface the interesting ones.
		switch reason {
		case parsers.SkipBlank, parsers.SkipSeparator, parsers.SkipHeader, parsers.SkipOutsideTable:
			continue
		}
		c.log.Debug("%s table: skipped %d line(s): %s", table, n, reason)
		c.metrics.AddSkipped(table, string(reason), n)
	}
}
