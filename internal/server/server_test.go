package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/fleetwatch/internal/metrics"
	"github.com/rileyhilliard/fleetwatch/internal/model"
	"github.com/rileyhilliard/fleetwatch/internal/state"
	"github.com/rileyhilliard/fleetwatch/internal/statusfeed"
	"github.com/rileyhilliard/fleetwatch/internal/store"
)

func statusCache(t *testing.T, rows ...model.SystemRow) *state.Cache[statusfeed.Payload] {
	t.Helper()
	c := state.New[statusfeed.Payload]("status", nil, nil)
	if rows != nil {
		res := c.Refresh(context.Background(), func(context.Context, *statusfeed.Payload) (*statusfeed.Payload, error) {
			return statusfeed.BuildPayload(rows, "https://status.example.test"), nil
		}, true)
		require.True(t, res.OK)
	}
	return c
}

func clusterDoc(name string, allocated, remaining int64) model.ClusterDocument {
	return model.ClusterDocument{
		Metadata: model.ClusterMetadata{Name: name, URI: "pw://alice/" + name, Status: "on", Type: "existing"},
		Usage: model.UsageSection{Systems: []model.UsageRecord{
			{System: name, Subproject: "ABC123", HoursAllocated: allocated, HoursRemaining: remaining},
		}},
		Queue: model.QueueSection{Queues: []model.QueueRecord{
			{QueueName: "standard", QueueType: "Batch", JobsPending: 40},
			{QueueName: "debug", QueueType: "Batch", JobsPending: 0},
		}},
	}
}

func clusterCache(t *testing.T, docs ...model.ClusterDocument) *state.Cache[model.FleetSnapshot] {
	t.Helper()
	c := state.New[model.FleetSnapshot]("clusters", nil, nil)
	if docs != nil {
		res := c.Refresh(context.Background(), func(context.Context, *model.FleetSnapshot) (*model.FleetSnapshot, error) {
			return model.NewFleetSnapshot(docs), nil
		}, true)
		require.True(t, res.OK)
	}
	return c
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Status == nil {
		opts.Status = statusCache(t, model.SystemRow{System: "Jean", Status: "UP", DSRC: "AFRL", ObservedAt: "2026-03-14T14:30:00Z"})
	}
	if opts.Clusters == nil {
		opts.Clusters = clusterCache(t, clusterDoc("jean", 1000, 750), clusterDoc("gaffney", 1000, 20))
	}
	opts.App.ClusterPagesEnabled = true
	return New(opts)
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestStatus(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := do(t, srv, http.MethodGet, "/api/status")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store, max-age=0", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	body := decode(t, rec)
	assert.Equal(t, "https://status.example.test", body["meta"].(map[string]interface{})["source_url"])
	systems := body["systems"].([]interface{})
	require.Len(t, systems, 1)
	assert.Equal(t, "Jean", systems[0].(map[string]interface{})["system"])
}

func TestStatus_NotReady(t *testing.T) {
	empty := state.New[statusfeed.Payload]("status", nil, nil)
	srv := newTestServer(t, Options{Status: empty})

	rec := do(t, srv, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Data not ready yet.", body["error"])
	assert.Nil(t, body["last_refresh_epoch"])

	empty.Refresh(context.Background(), func(context.Context, *statusfeed.Payload) (*statusfeed.Payload, error) {
		return nil, stderrors.New("status page returned 503")
	}, true)
	body = decode(t, do(t, srv, http.MethodGet, "/api/status"))
	assert.Equal(t, "status page returned 503", body["error"])
}

func TestFleetSummary(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := do(t, srv, http.MethodGet, "/api/fleet/summary")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "2026-03-14T14:30:00Z", body["generated_at"])
	stats := body["fleet_stats"].(map[string]interface{})
	assert.Equal(t, 1.0, stats["total_systems"])
	assert.Equal(t, 1.0, stats["uptime_ratio"])
	assert.Len(t, body["systems"], 1)
}

func TestPreflight(t *testing.T) {
	srv := newTestServer(t, Options{})
	for _, target := range []string{"/api/status", "/api/refresh"} {
		t.Run(target, func(t *testing.T) {
			rec := do(t, srv, http.MethodOptions, target)
			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Equal(t, "GET,POST,OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

type refreshCall struct {
	target   string
	blocking bool
}

type refreshRecorder struct {
	mu    sync.Mutex
	calls []refreshCall
}

func (r *refreshRecorder) refresher(target string, res state.Result) Refresher {
	return func(ctx context.Context, blocking bool) state.Result {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, refreshCall{target: target, blocking: blocking})
		return res
	}
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		wantCode int
		wantCall *refreshCall
		wantOK   bool
	}{
		{"default target is status", "/api/refresh", http.StatusOK, &refreshCall{"status", true}, true},
		{"status non-blocking", "/api/refresh?target=status&blocking=false", http.StatusOK, &refreshCall{"status", false}, true},
		{"clusters failure is 503", "/api/refresh?target=clusters", http.StatusServiceUnavailable, &refreshCall{"clusters", true}, false},
		{"unknown target", "/api/refresh?target=bogus", http.StatusBadRequest, nil, false},
		{"bad blocking", "/api/refresh?blocking=maybe", http.StatusBadRequest, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := &refreshRecorder{}
			srv := newTestServer(t, Options{
				RefreshStatus:   rr.refresher("status", state.Result{OK: true, Message: "refreshed"}),
				RefreshClusters: rr.refresher("clusters", state.Result{OK: false, Message: "refresh failed: No active clusters found"}),
			})

			rec := do(t, srv, http.MethodPost, tt.target)
			assert.Equal(t, tt.wantCode, rec.Code)

			body := decode(t, rec)
			assert.Equal(t, tt.wantOK, body["ok"])
			assert.NotEmpty(t, body["detail"])

			if tt.wantCall == nil {
				assert.Empty(t, rr.calls)
			} else {
				assert.Equal(t, []refreshCall{*tt.wantCall}, rr.calls)
			}
		})
	}
}

func TestRefresh_Disabled(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := do(t, srv, http.MethodPost, "/api/refresh?target=clusters")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, decode(t, rec)["ok"])
}

func TestRefresh_SurvivesClientCancel(t *testing.T) {
	var sawCancel bool
	srv := newTestServer(t, Options{
		RefreshStatus: func(ctx context.Context, _ bool) state.Result {
			sawCancel = ctx.Err() != nil
			return state.Result{OK: true, Message: "refreshed"}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, sawCancel)
}

func TestClusterProfiles(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := do(t, srv, http.MethodGet, "/api/cluster-usage")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.NotNil(t, body["generated_at"])
	assert.Nil(t, body["last_error"])

	clusters := body["clusters"].([]interface{})
	require.Len(t, clusters, 2)
	jean := clusters[0].(map[string]interface{})
	assert.Equal(t, "jean", jean["cluster"])
	usage := jean["usage"].(map[string]interface{})
	assert.Equal(t, 75.0, usage["percent_remaining"])
	assert.Equal(t, 750.0, usage["total_remaining_hours"])
	hint := jean["placement_hint"].(map[string]interface{})
	assert.Equal(t, true, hint["has_capacity"])
	assert.Equal(t, "debug", hint["least_backlogged_queue"].(map[string]interface{})["name"])

	gaffney := clusters[1].(map[string]interface{})
	assert.Equal(t, false, gaffney["placement_hint"].(map[string]interface{})["has_capacity"])
}

func TestClusterProfiles_StaleAfterFailure(t *testing.T) {
	cache := clusterCache(t, clusterDoc("jean", 10, 5))
	cache.Refresh(context.Background(), func(context.Context, *model.FleetSnapshot) (*model.FleetSnapshot, error) {
		return nil, stderrors.New("enumeration timed out")
	}, true)
	srv := newTestServer(t, Options{Clusters: cache})

	rec := do(t, srv, http.MethodGet, "/api/cluster-usage")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "enumeration timed out", body["last_error"])
	assert.Len(t, body["clusters"], 1)
}

func TestClusterRoutes_NotReady(t *testing.T) {
	empty := state.New[model.FleetSnapshot]("clusters", nil, nil)
	srv := newTestServer(t, Options{Clusters: empty})

	for _, target := range []string{"/api/snapshot", "/api/cluster-usage", "/api/cluster-usage/jean"} {
		t.Run(target, func(t *testing.T) {
			rec := do(t, srv, http.MethodGet, target)
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			assert.Equal(t, "Data not ready yet.", decode(t, rec)["error"])
		})
	}
}

func TestClusterRoutes_Disabled(t *testing.T) {
	srv := New(Options{Clusters: clusterCache(t, clusterDoc("jean", 10, 5))})
	rec := do(t, srv, http.MethodGet, "/api/cluster-usage")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSnapshot(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := do(t, srv, http.MethodGet, "/api/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)

	var docs []model.ClusterDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 2)
	assert.Equal(t, "jean", docs[0].Metadata.Name)
	assert.Equal(t, "gaffney", docs[1].Metadata.Name)
}

func TestClusterProfile(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := do(t, srv, http.MethodGet, "/api/cluster-usage/JEAN")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jean", decode(t, rec)["cluster"])

	rec = do(t, srv, http.MethodGet, "/api/cluster-usage/jaen")
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body["error"], "jaen")
	assert.Equal(t, []interface{}{"jean"}, body["suggestions"])
}

type fakeHistory struct {
	cluster string
	limit   int
	err     error
}

func (f *fakeHistory) Recent(_ context.Context, cluster string, limit int) ([]store.HistoryRow, error) {
	f.cluster, f.limit = cluster, limit
	if f.err != nil {
		return nil, f.err
	}
	return []store.HistoryRow{{Cluster: cluster, System: cluster, HoursRemaining: 750, CollectedAt: time.Unix(0, 0).UTC()}}, nil
}

func TestClusterHistory(t *testing.T) {
	hist := &fakeHistory{}
	srv := newTestServer(t, Options{History: hist})

	rec := do(t, srv, http.MethodGet, "/api/cluster-usage/jean/history?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jean", hist.cluster)
	assert.Equal(t, 5, hist.limit)
	assert.Len(t, decode(t, rec)["history"], 1)

	do(t, srv, http.MethodGet, "/api/cluster-usage/jean/history?limit=999999")
	assert.Equal(t, maxHistoryLimit, hist.limit)

	do(t, srv, http.MethodGet, "/api/cluster-usage/jean/history")
	assert.Equal(t, defaultHistoryLimit, hist.limit)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/cluster-usage/jean/history?limit=-1").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/cluster-usage/nope/history").Code)

	hist.err = stderrors.New("connection reset")
	assert.Equal(t, http.StatusInternalServerError, do(t, srv, http.MethodGet, "/api/cluster-usage/jean/history").Code)
}

func TestClusterHistory_Disabled(t *testing.T) {
	srv := newTestServer(t, Options{})
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/cluster-usage/jean/history").Code)
}

func TestAppConfig(t *testing.T) {
	srv := New(Options{App: AppConfig{DefaultTheme: "light", ClusterPagesEnabled: true, ClusterMonitorInterval: 120}})
	rec := do(t, srv, http.MethodGet, "/app-config.js")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/javascript; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store, max-age=0", rec.Header().Get("Cache-Control"))
	assert.Equal(t,
		`window.APP_CONFIG=Object.assign({},window.APP_CONFIG||{},{"defaultTheme":"light","clusterPagesEnabled":true,"clusterMonitorInterval":120});`,
		rec.Body.String())
}

func TestHealthzAndMetrics(t *testing.T) {
	m := metrics.NewRecorder()
	srv := newTestServer(t, Options{Metrics: m, MetricsPath: "/metrics"})

	rec := do(t, srv, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fleetwatch_http_requests_total{code="200",method="GET",route="GET /healthz"} 1`)
}

func writePublic(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>fleet</h1>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "clusters"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clusters", "index.html"), []byte("<h1>clusters</h1>"), 0o644))
	return dir
}

func TestStaticFiles(t *testing.T) {
	srv := newTestServer(t, Options{PublicDir: writePublic(t)})

	rec := do(t, srv, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fleet")

	rec = do(t, srv, http.MethodGet, "/clusters?tab=usage")
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/clusters/?tab=usage", rec.Header().Get("Location"))

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/missing.js").Code)
}

func TestPrefix(t *testing.T) {
	srv := newTestServer(t, Options{Prefix: "/session/alice/status/", PublicDir: writePublic(t)})

	tests := []struct {
		name         string
		target       string
		wantCode     int
		wantLocation string
		wantBody     string
	}{
		{"api under prefix", "/session/alice/status/api/status", http.StatusOK, "", "Jean"},
		{"index under prefix", "/session/alice/status/", http.StatusOK, "", "fleet"},
		{"bare prefix redirects", "/session/alice/status?x=1", http.StatusMovedPermanently, "/session/alice/status/?x=1", ""},
		{"directory redirect keeps prefix", "/session/alice/status/clusters", http.StatusMovedPermanently, "/session/alice/status/clusters/", ""},
		{"outside prefix", "/api/status", http.StatusNotFound, "", "Invalid prefix"},
		{"prefix lookalike", "/session/alice/statusx/api/status", http.StatusNotFound, "", "Invalid prefix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodGet, tt.target)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantLocation != "" {
				assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))
			}
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServer_OverHTTP(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, Options{}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/fleet/summary")
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(data), "{"))
}
