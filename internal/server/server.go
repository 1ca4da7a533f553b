// Package server is the HTTP surface: the JSON API read by the dashboard
// and its static files.
package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rileyhilliard/fleetwatch/internal/logger"
	"github.com/rileyhilliard/fleetwatch/internal/metrics"
	"github.com/rileyhilliard/fleetwatch/internal/model"
	"github.com/rileyhilliard/fleetwatch/internal/state"
	"github.com/rileyhilliard/fleetwatch/internal/statusfeed"
	"github.com/rileyhilliard/fleetwatch/internal/store"
)

// Refresher triggers a refresh of one data source.
type Refresher func(ctx context.Context, blocking bool) state.Result

// HistoryReader returns recent usage history for a cluster.
// *store.HistoryStore implements it.
type HistoryReader interface {
	Recent(ctx context.Context, cluster string, limit int) ([]store.HistoryRow, error)
}

// AppConfig is handed to the front end through /app-config.js.
type AppConfig struct {
	DefaultTheme        string `json:"defaultTheme"`
	ClusterPagesEnabled bool   `json:"clusterPagesEnabled"`
	// ClusterMonitorInterval is in seconds, 0 when monitoring is off.
	ClusterMonitorInterval int `json:"clusterMonitorInterval"`
}

// Options configures a Server. Nil caches and refreshers disable the
// routes that need them.
type Options struct {
	Status        *state.Cache[statusfeed.Payload]
	RefreshStatus Refresher

	Clusters        *state.Cache[model.FleetSnapshot]
	RefreshClusters Refresher
	History         HistoryReader

	// Prefix is stripped from every request path, e.g. /session/user/status.
	Prefix    string
	PublicDir string
	App       AppConfig

	// MetricsPath serves Metrics when both are set.
	MetricsPath string
	Metrics     *metrics.Recorder
	Logger      logger.Logger
}

// Server routes API requests and serves the dashboard.
type Server struct {
	opts Options
	mux  *http.ServeMux
	log  logger.Logger
}

// New builds a Server with all routes registered.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.Noop()
	}
	opts.Prefix = strings.TrimRight(opts.Prefix, "/")
	if opts.Prefix != "" && !strings.HasPrefix(opts.Prefix, "/") {
		opts.Prefix = "/" + opts.Prefix
	}
	s := &Server{opts: opts, mux: http.NewServeMux(), log: log}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /app-config.js", s.handleAppConfig)

	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("OPTIONS /api/status", s.handlePreflight)
	s.mux.HandleFunc("OPTIONS /api/refresh", s.handlePreflight)
	s.mux.HandleFunc("GET /api/fleet/summary", s.handleFleetSummary)

	s.mux.HandleFunc("GET /api/snapshot", s.clusterRoute(s.handleSnapshot))
	s.mux.HandleFunc("GET /api/cluster-usage", s.clusterRoute(s.handleClusterProfiles))
	s.mux.HandleFunc("GET /api/cluster-usage/{slug}", s.clusterRoute(s.handleClusterProfile))
	s.mux.HandleFunc("GET /api/cluster-usage/{slug}/history", s.clusterRoute(s.handleClusterHistory))

	if s.opts.MetricsPath != "" && s.opts.Metrics != nil {
		s.mux.Handle("GET "+s.opts.MetricsPath, s.opts.Metrics.Handler())
	}

	s.mux.Handle("/", s.staticHandler())
}

// ServeHTTP strips the URL prefix, routes the request, then records it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

	routed, ok := s.stripPrefix(sw, r)
	if ok {
		s.mux.ServeHTTP(sw, routed)
	}

	route := routed.Pattern
	if route == "" {
		route = "unmatched"
	}
	s.opts.Metrics.ObserveRequest(r.Method, route, sw.status)
	s.log.Debug("%s %s %d (%s)", r.Method, r.URL.Path, sw.status, time.Since(start).Round(time.Microsecond))
}

// stripPrefix returns a request whose path has the prefix removed. It
// answers the request itself, and returns false, when the path is the
// bare prefix (redirect) or lies outside it (404).
func (s *Server) stripPrefix(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	prefix := s.opts.Prefix
	if prefix == "" {
		return r, true
	}

	p := r.URL.Path
	if p == prefix {
		http.Redirect(w, r, withQuery(prefix+"/", r.URL.RawQuery), http.StatusMovedPermanently)
		return r, false
	}
	if !strings.HasPrefix(p, prefix+"/") {
		http.Error(w, "Invalid prefix", http.StatusNotFound)
		return r, false
	}

	r2 := new(http.Request)
	*r2 = *r
	r2.URL = new(url.URL)
	*r2.URL = *r.URL
	r2.URL.Path = strings.TrimPrefix(p, prefix)
	r2.URL.RawPath = ""
	return r2, true
}

func withQuery(p, rawQuery string) string {
	if rawQuery == "" {
		return p
	}
	return p + "?" + rawQuery
}

// statusWriter captures the response status for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
