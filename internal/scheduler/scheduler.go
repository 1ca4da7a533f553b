// Package scheduler drives cluster polling: a slow full scan of the
// fleet, followed by a short fast-watch window that picks up clusters
// connected since the scan started.
package scheduler

import (
	"context"
	"time"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/logger"
	"github.com/rileyhilliard/fleetwatch/internal/metrics"
	"github.com/rileyhilliard/fleetwatch/internal/model"
	"github.com/rileyhilliard/fleetwatch/internal/state"
	"github.com/rileyhilliard/fleetwatch/internal/util"
)

// Refresh keys. A fast-watch merge must never collapse into a full
// cycle that is already running, so each gets its own key.
const (
	KeyFull  = "full"
	KeyMerge = "merge"
)

// Endpoints lists clusters. *directory.Directory implements it.
type Endpoints interface {
	Enumerate(ctx context.Context) ([]model.ClusterEndpoint, error)
	ListActiveEndpoints(ctx context.Context) []model.ClusterEndpoint
}

// Collector gathers one cluster's document. *telemetry.Collector
// implements it.
type Collector interface {
	Collect(ctx context.Context, ep model.ClusterEndpoint) model.ClusterDocument
}

// Sink persists a committed snapshot.
type Sink interface {
	Name() string
	Save(ctx context.Context, snap *model.FleetSnapshot) error
}

// Options configures a Scheduler.
type Options struct {
	Endpoints Endpoints
	Collector Collector
	Cache     *state.Cache[model.FleetSnapshot]
	Sinks     []Sink

	// Interval is the wait between the end of one round and the start
	// of the next full cycle.
	Interval time.Duration
	// Pace is the pause between clusters within a full cycle.
	Pace time.Duration

	// Fast watch runs only when both are positive.
	FastWatchInterval time.Duration
	FastWatchDuration time.Duration

	Logger  logger.Logger
	Metrics *metrics.Recorder
}

// Scheduler owns the polling loop. All polling state lives in the cache.
type Scheduler struct {
	endpoints Endpoints
	collector Collector
	cache     *state.Cache[model.FleetSnapshot]
	sinks     []Sink

	interval          time.Duration
	pace              time.Duration
	fastWatchInterval time.Duration
	fastWatchDuration time.Duration

	log     logger.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = logger.Noop()
	}
	return &Scheduler{
		endpoints:         opts.Endpoints,
		collector:         opts.Collector,
		cache:             opts.Cache,
		sinks:             opts.Sinks,
		interval:          opts.Interval,
		pace:              opts.Pace,
		fastWatchInterval: opts.FastWatchInterval,
		fastWatchDuration: opts.FastWatchDuration,
		log:               log,
		metrics:           opts.Metrics,
		now:               time.Now,
	}
}

// Cache returns the snapshot cache the scheduler writes to.
func (s *Scheduler) Cache() *state.Cache[model.FleetSnapshot] {
	return s.cache
}

// FastWatchEnabled reports whether FastWatch does anything.
func (s *Scheduler) FastWatchEnabled() bool {
	return s.fastWatchInterval > 0 && s.fastWatchDuration > 0
}

// Run alternates full cycles and fast-watch windows, sleeping Interval
// between rounds, until ctx is cancelled. It always returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("cluster polling every %s", s.interval)
	for {
		s.RunOnce(ctx, true)
		if !sleepWithContext(ctx, s.interval) {
			s.log.Info("cluster polling stopped")
			return nil
		}
	}
}

// RunOnce runs one full cycle, then the fast-watch window when
// fastWatch is set and the cycle didn't get cancelled.
func (s *Scheduler) RunOnce(ctx context.Context, fastWatch bool) state.Result {
	res := s.RunFullCycle(ctx)
	if fastWatch && ctx.Err() == nil {
		s.FastWatch(ctx)
	}
	return res
}

// RunFullCycle enumerates the fleet and collects every cluster inside a
// blocking refresh, then persists the new snapshot. Enumeration failure,
// an empty fleet or cancellation fail the refresh and keep the previous
// snapshot. Concurrent callers share one cycle.
func (s *Scheduler) RunFullCycle(ctx context.Context) state.Result {
	return s.TriggerRefresh(ctx, true)
}

// TriggerRefresh runs a full cycle on demand. When blocking is false and
// a refresh is already running it returns at once with
// state.MsgInProgress.
func (s *Scheduler) TriggerRefresh(ctx context.Context, blocking bool) state.Result {
	start := s.now()
	var produced *model.FleetSnapshot

	res := s.cache.RefreshKeyed(ctx, KeyFull, func(ctx context.Context, _ *model.FleetSnapshot) (*model.FleetSnapshot, error) {
		snap, err := s.fullCycle(ctx)
		produced = snap
		return snap, err
	}, blocking)
	if res.Message == state.MsgInProgress {
		return res
	}

	s.metrics.ObserveCycle("full", s.now().Sub(start), res.OK)
	if produced != nil && res.OK {
		s.metrics.SetKnownClusters(len(produced.KnownURIs()))
		s.log.Info("full cycle done: %d %s in %s",
			produced.Len(), util.Pluralize(produced.Len(), "cluster", "clusters"),
			s.now().Sub(start).Round(time.Millisecond))
		s.persist(ctx, produced)
	}
	return res
}

func (s *Scheduler) fullCycle(ctx context.Context) (*model.FleetSnapshot, error) {
	eps, err := s.endpoints.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		return nil, errors.New(errors.ErrEnumerate, "No active clusters found",
			"Connect a cluster, or check cluster.include")
	}

	s.log.Info("found %d active %s", len(eps), util.Pluralize(len(eps), "cluster", "clusters"))
	docs := make([]model.ClusterDocument, 0, len(eps))
	for i, ep := range eps {
		if i > 0 && !sleepWithContext(ctx, s.pace) {
			return nil, errors.WrapWithCode(ctx.Err(), errors.ErrRefresh, "Full cycle cancelled", "")
		}
		s.log.Debug("collecting %d/%d: %s", i+1, len(eps), ep.Name())
		docs = append(docs, s.collector.Collect(ctx, ep))
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrRefresh, "Full cycle cancelled", "")
	}
	return model.NewFleetSnapshot(docs), nil
}

// FastWatch polls for unknown clusters every FastWatchInterval until
// FastWatchDuration has elapsed or ctx is cancelled. It returns how many
// new clusters were merged.
func (s *Scheduler) FastWatch(ctx context.Context) int {
	if !s.FastWatchEnabled() {
		return 0
	}

	s.log.Debug("fast watch for %s", s.fastWatchDuration)
	deadline := s.now().Add(s.fastWatchDuration)
	total := 0
	for s.now().Before(deadline) {
		if !sleepWithContext(ctx, s.fastWatchInterval) {
			break
		}
		total += s.WatchOnce(ctx)
	}
	return total
}

// WatchOnce lists active endpoints and merges any not yet known into
// the snapshot. With nothing new it neither refreshes nor persists.
func (s *Scheduler) WatchOnce(ctx context.Context) int {
	start := s.now()
	current := s.cache.Snapshot().Data

	var fresh []model.ClusterEndpoint
	for _, ep := range s.endpoints.ListActiveEndpoints(ctx) {
		if !current.IsKnown(ep.URI) {
			fresh = append(fresh, ep)
		}
	}
	if len(fresh) == 0 || ctx.Err() != nil {
		return 0
	}

	s.log.Info("detected %d new %s", len(fresh), util.Pluralize(len(fresh), "cluster", "clusters"))
	docs := make([]model.ClusterDocument, 0, len(fresh))
	for _, ep := range fresh {
		docs = append(docs, s.collector.Collect(ctx, ep))
	}

	var merged *model.FleetSnapshot
	res := s.cache.RefreshKeyed(ctx, KeyMerge, func(_ context.Context, prev *model.FleetSnapshot) (*model.FleetSnapshot, error) {
		next := prev
		for _, d := range docs {
			next = next.WithDocument(d)
		}
		merged = next
		return next, nil
	}, true)

	s.metrics.ObserveCycle("fast_watch", s.now().Sub(start), res.OK)
	if !res.OK || merged == nil {
		return 0
	}
	s.metrics.AddDiscovered(len(docs))
	s.metrics.SetKnownClusters(len(merged.KnownURIs()))
	s.persist(ctx, merged)
	return len(docs)
}

// persist saves to every sink. Failures are logged and counted; the
// in-memory snapshot stays committed.
func (s *Scheduler) persist(ctx context.Context, snap *model.FleetSnapshot) {
	for _, sink := range s.sinks {
		if err := sink.Save(ctx, snap); err != nil {
			s.metrics.PersistFailure(sink.Name())
			s.log.Error("saving snapshot to %s: %s", sink.Name(), errors.Summarize(err))
		}
	}
}

// sleepWithContext waits d and reports whether the full time elapsed.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
