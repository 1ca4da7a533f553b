package statusfeed

import (
	"context"
	"time"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/logger"
	"github.com/rileyhilliard/fleetwatch/internal/metrics"
	"github.com/rileyhilliard/fleetwatch/internal/model"
	"github.com/rileyhilliard/fleetwatch/internal/state"
	"github.com/rileyhilliard/fleetwatch/internal/store"
)

// Source produces status rows. *Fetcher is the production implementation.
type Source interface {
	Fetch(ctx context.Context) ([]model.SystemRow, error)
	URL() string
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Source Source
	// Interval between background refreshes.
	Interval time.Duration
	// OutputPath receives the payload after every successful refresh and
	// seeds the cache at startup. Empty disables both.
	OutputPath string
	Logger     logger.Logger
	Metrics    *metrics.Recorder
}

// Worker owns the status payload cache and refreshes it.
type Worker struct {
	source     Source
	interval   time.Duration
	outputPath string
	log        logger.Logger
	metrics    *metrics.Recorder
	cache      *state.Cache[Payload]
}

// NewWorker creates a worker with an empty cache.
func NewWorker(opts WorkerOptions) *Worker {
	log := opts.Logger
	if log == nil {
		log = logger.Noop()
	}
	return &Worker{
		source:     opts.Source,
		interval:   opts.Interval,
		outputPath: opts.OutputPath,
		log:        log,
		metrics:    opts.Metrics,
		cache:      state.New[Payload]("status", log, opts.Metrics),
	}
}

// Cache exposes the payload cache to readers.
func (w *Worker) Cache() *state.Cache[Payload] {
	return w.cache
}

// Load seeds the cache from the payload written by a previous run. A
// missing or unreadable file leaves the cache empty.
func (w *Worker) Load() bool {
	if w.outputPath == "" {
		return false
	}
	var p Payload
	ok, err := store.ReadJSON(w.outputPath, &p)
	if err != nil {
		w.log.Warn("ignoring saved status payload: %s", errors.Summarize(err))
		return false
	}
	if !ok {
		return false
	}
	w.cache.Seed(&p)
	w.metrics.SetFeedSystems(len(p.Systems))
	w.log.Info("loaded %d systems from %s", len(p.Systems), w.outputPath)
	return true
}

// Refresh fetches the page, rebuilds the payload and commits it. The
// payload is written to OutputPath before the commit; a failed write is
// logged but doesn't fail the refresh.
func (w *Worker) Refresh(ctx context.Context, blocking bool) state.Result {
	return w.cache.Refresh(ctx, w.produce, blocking)
}

func (w *Worker) produce(ctx context.Context, _ *Payload) (*Payload, error) {
	rows, err := w.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	p := BuildPayload(rows, w.source.URL())

	if w.outputPath != "" {
		if err := store.WriteJSON(w.outputPath, p); err != nil {
			w.metrics.PersistFailure("status")
			w.log.Error("writing status payload: %s", errors.Summarize(err))
		}
	}
	w.metrics.SetFeedSystems(len(rows))
	w.log.Debug("status feed refreshed: %d systems", len(rows))
	return p, nil
}

// Run refreshes every interval until ctx is cancelled. The first
// refresh happens one interval after Run starts; callers refresh once
// up front themselves.
func (w *Worker) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			// Failures are logged and recorded by the cache.
			w.Refresh(ctx, true)
		}
	}
}
