package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func family(t *testing.T, r *Recorder, name string) *dto.MetricFamily {
	t.Helper()
	families, err := r.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return nil
}

// value returns the counter or gauge value of the series of name whose
// labels match the given name/value pairs.
func value(t *testing.T, r *Recorder, name string, labels ...string) float64 {
	t.Helper()
	f := family(t, r, name)
	for _, m := range f.GetMetric() {
		if !hasLabels(m, labels) {
			continue
		}
		if c := m.GetCounter(); c != nil {
			return c.GetValue()
		}
		return m.GetGauge().GetValue()
	}
	return 0
}

func hasLabels(m *dto.Metric, labels []string) bool {
	want := make(map[string]string)
	for i := 0; i+1 < len(labels); i += 2 {
		want[labels[i]] = labels[i+1]
	}
	for _, lp := range m.GetLabel() {
		if v, ok := want[lp.GetName()]; ok && v != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.ObserveCycle("full", time.Second, true)
	r.ObserveCollect("usage", time.Second, errors.New("x"))
	r.RemoteFailure("enumerate")
	r.AddSkipped("usage", "blank", 3)
	r.ObserveRefresh("clusters", OutcomeOK)
	r.SetKnownClusters(2)
	r.AddDiscovered(1)
	r.PersistFailure("json")
	r.SetFeedSystems(4)
	r.ObserveRequest("GET", "/api/status", 200)
	assert.Nil(t, r.Registry())

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()

	r.ObserveCycle("full", 3*time.Second, true)
	r.ObserveCycle("full", time.Second, false)
	r.ObserveCollect("usage", 500*time.Millisecond, nil)
	r.ObserveCollect("queue", time.Second, errors.New("timeout"))
	r.RemoteFailure("enumerate")
	r.AddSkipped("usage", "blank", 3)
	r.AddSkipped("usage", "blank", 0)
	r.ObserveRefresh("clusters", OutcomeBusy)
	r.SetKnownClusters(5)
	r.AddDiscovered(2)
	r.PersistFailure("history")
	r.SetFeedSystems(9)
	r.ObserveRequest("GET", "/api/status", 503)

	assert.Equal(t, 1.0, value(t, r, "fleetwatch_poll_cycles_total", "kind", "full", "outcome", OutcomeOK))
	assert.Equal(t, 1.0, value(t, r, "fleetwatch_poll_cycles_total", "kind", "full", "outcome", OutcomeError))
	assert.Equal(t, 1.0, value(t, r, "fleetwatch_remote_failures_total", "section", "queue"))
	assert.Equal(t, 0.0, value(t, r, "fleetwatch_remote_failures_total", "section", "usage"))
	assert.Equal(t, 1.0, value(t, r, "fleetwatch_remote_failures_total", "section", "enumerate"))
	assert.Equal(t, 3.0, value(t, r, "fleetwatch_parser_skipped_rows_total", "table", "usage", "reason", "blank"))
	assert.Equal(t, 1.0, value(t, r, "fleetwatch_cache_refreshes_total", "cache", "clusters", "outcome", OutcomeBusy))
	assert.Equal(t, 5.0, value(t, r, "fleetwatch_known_clusters"))
	assert.Equal(t, 2.0, value(t, r, "fleetwatch_fast_watch_discovered_total"))
	assert.Equal(t, 1.0, value(t, r, "fleetwatch_persist_failures_total", "sink", "history"))
	assert.Equal(t, 9.0, value(t, r, "fleetwatch_status_feed_systems"))
	assert.Equal(t, 1.0, value(t, r, "fleetwatch_http_requests_total", "method", "GET", "route", "/api/status", "code", "503"))

	hist := family(t, r, "fleetwatch_collect_duration_seconds")
	assert.Len(t, hist.GetMetric(), 2)
}

func TestRecorder_PrivateRegistries(t *testing.T) {
	a := NewRecorder()
	b := NewRecorder()
	a.SetKnownClusters(1)
	b.SetKnownClusters(7)
	assert.Equal(t, 1.0, value(t, a, "fleetwatch_known_clusters"))
	assert.Equal(t, 7.0, value(t, b, "fleetwatch_known_clusters"))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.SetKnownClusters(3)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "fleetwatch_known_clusters 3")
	assert.Contains(t, string(body), "go_goroutines")
}
