package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/model"
	"github.com/rileyhilliard/fleetwatch/internal/state"
	"github.com/rileyhilliard/fleetwatch/internal/util"
	"github.com/rileyhilliard/fleetwatch/internal/views"
)

const (
	msgNotReady         = "Data not ready yet."
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// notReady is the body of a 503 served before any data exists.
type notReady struct {
	Error            string   `json:"error"`
	LastRefreshEpoch *float64 `json:"last_refresh_epoch"`
}

func notReadyBody[T any](v state.View[T]) notReady {
	body := notReady{Error: v.LastError}
	if body.Error == "" {
		body.Error = msgNotReady
	}
	if !v.LastRefresh.IsZero() {
		epoch := float64(v.LastRefresh.UnixNano()) / 1e9
		body.LastRefreshEpoch = &epoch
	}
	return body
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleAppConfig(w http.ResponseWriter, _ *http.Request) {
	cfg, err := json.Marshal(s.opts.App)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	body := []byte("window.APP_CONFIG=Object.assign({},window.APP_CONFIG||{}," + string(cfg) + ");")

	h := w.Header()
	h.Set("Content-Type", "application/javascript; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	setNoStore(h)
	_, _ = w.Write(body)
}

func (s *Server) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Status == nil {
		writeJSON(w, http.StatusServiceUnavailable, notReady{Error: "Status feed is disabled."})
		return
	}
	view := s.opts.Status.Snapshot()
	if !view.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, notReadyBody(view))
		return
	}
	writeJSON(w, http.StatusOK, view.Data)
}

type fleetSummary struct {
	GeneratedAt *string           `json:"generated_at"`
	SourceURL   string            `json:"source_url"`
	FleetStats  views.FleetStats  `json:"fleet_stats"`
	Systems     []model.SystemRow `json:"systems"`
}

func (s *Server) handleFleetSummary(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Status == nil {
		writeJSON(w, http.StatusServiceUnavailable, notReady{Error: "Status feed is disabled."})
		return
	}
	view := s.opts.Status.Snapshot()
	if !view.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, notReadyBody(view))
		return
	}
	p := view.Data
	writeJSON(w, http.StatusOK, fleetSummary{
		GeneratedAt: p.Meta.GeneratedAt,
		SourceURL:   p.Meta.SourceURL,
		FleetStats:  p.Summary,
		Systems:     p.Systems,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	blocking := true
	if raw := q.Get("blocking"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, state.Result{Message: fmt.Sprintf("invalid blocking value %q", raw)})
			return
		}
		blocking = b
	}

	var refresh Refresher
	switch target := q.Get("target"); target {
	case "", "status":
		refresh = s.opts.RefreshStatus
	case "clusters":
		refresh = s.opts.RefreshClusters
	default:
		writeJSON(w, http.StatusBadRequest, state.Result{Message: fmt.Sprintf("unknown target %q (want status or clusters)", target)})
		return
	}
	if refresh == nil {
		writeJSON(w, http.StatusServiceUnavailable, state.Result{Message: "refresh target is disabled"})
		return
	}

	// A dropped client must not abort a refresh other callers may share.
	res := refresh(context.WithoutCancel(r.Context()), blocking)
	code := http.StatusOK
	if !res.OK {
		code = http.StatusServiceUnavailable
	}
	s.log.Info("refresh target=%q blocking=%t ok=%t: %s", q.Get("target"), blocking, res.OK, res.Message)
	writeJSON(w, code, res)
}

// clusterRoute 404s when cluster pages are disabled.
func (s *Server) clusterRoute(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.opts.App.ClusterPagesEnabled || s.opts.Clusters == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Cluster pages are disabled."})
			return
		}
		h(w, r)
	}
}

// clusterView returns the committed snapshot, or answers 503 itself.
func (s *Server) clusterView(w http.ResponseWriter) (state.View[model.FleetSnapshot], bool) {
	view := s.opts.Clusters.Snapshot()
	if !view.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, notReadyBody(view))
		return view, false
	}
	return view, true
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	view, ok := s.clusterView(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, view.Data.Documents())
}

type clusterUsage struct {
	GeneratedAt *time.Time             `json:"generated_at"`
	LastError   *string                `json:"last_error"`
	Clusters    []views.ClusterProfile `json:"clusters"`
}

func (s *Server) handleClusterProfiles(w http.ResponseWriter, _ *http.Request) {
	view, ok := s.clusterView(w)
	if !ok {
		return
	}
	body := clusterUsage{Clusters: views.ClusterProfiles(view.Data)}
	if !view.LastRefresh.IsZero() {
		at := view.LastRefresh.UTC()
		body.GeneratedAt = &at
	}
	if view.LastError != "" {
		msg := view.LastError
		body.LastError = &msg
	}
	writeJSON(w, http.StatusOK, body)
}

type unknownCluster struct {
	Error       string   `json:"error"`
	Suggestions []string `json:"suggestions"`
}

// findProfile resolves the {slug} path value, answering 404 with
// near-miss suggestions when nothing matches.
func (s *Server) findProfile(w http.ResponseWriter, r *http.Request) (views.ClusterProfile, bool) {
	view, ok := s.clusterView(w)
	if !ok {
		return views.ClusterProfile{}, false
	}
	slug := r.PathValue("slug")
	profile, found := views.FindProfile(view.Data, slug)
	if !found {
		suggestions := util.SuggestSimilar(views.Slug(slug), views.Slugs(view.Data), 3)
		if suggestions == nil {
			suggestions = []string{}
		}
		writeJSON(w, http.StatusNotFound, unknownCluster{
			Error:       fmt.Sprintf("Unknown cluster %q", slug),
			Suggestions: suggestions,
		})
		return views.ClusterProfile{}, false
	}
	return profile, true
}

func (s *Server) handleClusterProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := s.findProfile(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleClusterHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Usage history is not enabled."})
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid limit %q", raw)})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	profile, ok := s.findProfile(w, r)
	if !ok {
		return
	}
	rows, err := s.opts.History.Recent(r.Context(), profile.Cluster, limit)
	if err != nil {
		s.log.Error("reading history for %s: %s", profile.Cluster, errors.Summarize(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Couldn't read usage history."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cluster": profile.Cluster,
		"history": rows,
	})
}

func setNoStore(h http.Header) {
	h.Set("Cache-Control", "no-store, max-age=0")
	h.Set("Access-Control-Allow-Origin", "*")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	setNoStore(h)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
