// Package metrics exposes fleetwatch's Prometheus metrics. Every Recorder
// owns a private registry so tests and multiple servers don't collide.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fleetwatch"

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeBusy  = "busy"
)

// Recorder records fleetwatch metrics. A nil *Recorder discards
// everything, so components can take one optionally.
type Recorder struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec
	collectDuration *prometheus.HistogramVec
	remoteFailures  *prometheus.CounterVec
	skippedRows     *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	knownClusters   prometheus.Gauge
	discovered      prometheus.Counter
	persistFailures *prometheus.CounterVec
	feedRows        prometheus.Gauge
	httpRequests    *prometheus.CounterVec
}

// NewRecorder creates a Recorder with its own registry, including the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by kind (full, fast) and outcome.",
		}, []string{"kind", "outcome"}),
		cycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Wall time of poll cycles.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"kind"}),
		collectDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collect_duration_seconds",
			Help:      "Duration of one remote report query.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"section"}),
		remoteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_failures_total",
			Help:      "Failed remote calls by section (enumerate, usage, queue).",
		}, []string{"section"}),
		skippedRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parser_skipped_rows_total",
			Help:      "Lines that produced no record, by table and reason.",
		}, []string{"table", "reason"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_refreshes_total",
			Help:      "Live state refresh attempts by cache and outcome.",
		}, []string{"cache", "outcome"}),
		knownClusters: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "known_clusters",
			Help:      "Clusters in the committed snapshot.",
		}),
		discovered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fast_watch_discovered_total",
			Help:      "Clusters picked up by fast watch between full cycles.",
		}),
		persistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Snapshot sink write failures by sink.",
		}, []string{"sink"}),
		feedRows: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status_feed_systems",
			Help:      "Systems in the last status feed payload.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveCycle records one full or fast poll cycle.
func (r *Recorder) ObserveCycle(kind string, d time.Duration, ok bool) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(kind, outcome(ok)).Inc()
	r.cycleDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveCollect records one report query.
func (r *Recorder) ObserveCollect(section string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.collectDuration.WithLabelValues(section).Observe(d.Seconds())
	if err != nil {
		r.remoteFailures.WithLabelValues(section).Inc()
	}
}

// RemoteFailure counts a failed remote call outside of collection.
func (r *Recorder) RemoteFailure(section string) {
	if r == nil {
		return
	}
	r.remoteFailures.WithLabelValues(section).Inc()
}

// AddSkipped adds n skipped lines for table and reason.
func (r *Recorder) AddSkipped(table, reason string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.skippedRows.WithLabelValues(table, reason).Add(float64(n))
}

// ObserveRefresh records a cache refresh attempt. Outcome is one of
// OutcomeOK, OutcomeError or OutcomeBusy.
func (r *Recorder) ObserveRefresh(cache, outcome string) {
	if r == nil {
		return
	}
	r.refreshes.WithLabelValues(cache, outcome).Inc()
}

// SetKnownClusters sets the snapshot size gauge.
func (r *Recorder) SetKnownClusters(n int) {
	if r == nil {
		return
	}
	r.knownClusters.Set(float64(n))
}

// AddDiscovered counts clusters found by fast watch.
func (r *Recorder) AddDiscovered(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.discovered.Add(float64(n))
}

// PersistFailure counts a failed sink write.
func (r *Recorder) PersistFailure(sink string) {
	if r == nil {
		return
	}
	r.persistFailures.WithLabelValues(sink).Inc()
}

// SetFeedSystems sets the number of systems in the status feed.
func (r *Recorder) SetFeedSystems(n int) {
	if r == nil {
		return
	}
	r.feedRows.Set(float64(n))
}

// ObserveRequest counts one HTTP request.
func (r *Recorder) ObserveRequest(method, route string, code int) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return OutcomeOK
	}
	return OutcomeError
}
