// Package directory lists the clusters that are currently connected and
// eligible for polling.
package directory

import (
	"context"
	"path"
	"time"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/logger"
	"github.com/rileyhilliard/fleetwatch/internal/metrics"
	"github.com/rileyhilliard/fleetwatch/internal/model"
	"github.com/rileyhilliard/fleetwatch/internal/parsers"
	"github.com/rileyhilliard/fleetwatch/internal/remote"
)

// Directory wraps the enumeration command with parsing and filtering.
type Directory struct {
	enumerator remote.Enumerator
	timeout    time.Duration
	include    []string
	log        logger.Logger
	metrics    *metrics.Recorder
}

// Option configures a Directory.
type Option func(*Directory)

// WithTimeout bounds each enumeration call.
func WithTimeout(d time.Duration) Option {
	return func(dir *Directory) { dir.timeout = d }
}

// WithInclude restricts results to clusters whose name or URI matches one
// of the glob patterns.
func WithInclude(patterns []string) Option {
	return func(dir *Directory) { dir.include = patterns }
}

// WithLogger sets the logger. A nil logger keeps the default no-op one.
func WithLogger(l logger.Logger) Option {
	return func(dir *Directory) {
		if l != nil {
			dir.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(dir *Directory) { dir.metrics = m }
}

// New creates a Directory over enumerator.
func New(enumerator remote.Enumerator, opts ...Option) *Directory {
	d := &Directory{
		enumerator: enumerator,
		log:        logger.Noop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enumerate returns the active endpoints in table order. Unlike
// ListActiveEndpoints it reports enumeration failures.
func (d *Directory) Enumerate(ctx context.Context) ([]model.ClusterEndpoint, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	text, err := d.enumerator.Enumerate(ctx)
	if err != nil {
		d.metrics.RemoteFailure("enumerate")
		return nil, errors.WrapWithCode(err, errors.ErrEnumerate, "Cluster enumeration failed", "")
	}

	rows := parsers.ParseEnumerationRows(text)
	for reason, n := range parsers.CountSkips(rows) {
		d.metrics.AddSkipped("enumeration", string(reason), n)
	}

	endpoints := make([]model.ClusterEndpoint, 0, len(rows))
	for _, ep := range parsers.Records(rows) {
		if d.included(ep) {
			endpoints = append(endpoints, ep)
		}
	}
	return endpoints, nil
}

// ListActiveEndpoints returns the active endpoints, or an empty slice if
// enumeration fails. The failure is logged, never returned.
func (d *Directory) ListActiveEndpoints(ctx context.Context) []model.ClusterEndpoint {
	endpoints, err := d.Enumerate(ctx)
	if err != nil {
		d.log.Warn("listing clusters: %s", errors.Summarize(err))
		return []model.ClusterEndpoint{}
	}
	return endpoints
}

func (d *Directory) included(ep model.ClusterEndpoint) bool {
	if len(d.include) == 0 {
		return true
	}
	name := ep.Name()
	for _, pattern := range d.include {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
		if ok, _ := path.Match(pattern, ep.URI); ok {
			return true
		}
	}
	return false
}
