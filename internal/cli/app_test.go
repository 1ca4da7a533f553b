package cli

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/fleetwatch/internal/config"
	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/logger"
	"github.com/rileyhilliard/fleetwatch/internal/metrics"
	"github.com/rileyhilliard/fleetwatch/internal/model"
	"github.com/rileyhilliard/fleetwatch/internal/remote"
	remotetest "github.com/rileyhilliard/fleetwatch/internal/remote/testing"
	"github.com/rileyhilliard/fleetwatch/internal/store"
)

const twoClusters = `+----------------------+--------+----------+
| URI                  | STATUS | TYPE     |
+----------------------+--------+----------+
| pw://alice/jean      | on     | existing |
| pw://alice/gaffney   | on     | existing |
+----------------------+--------+----------+
`

const usageText = `System   Subproject   Allocated   Used   Remaining   %Remaining   Background
======   ==========   =========   ====   =========   ==========   ==========
jean     ABC123       100000      25000  75000       75.00%       0
`

// testConfig returns defaults with every file path under a temp dir and
// no pacing.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.PublicDir = filepath.Join(dir, "public")
	cfg.Cluster.SnapshotPath = filepath.Join(dir, "cluster_usage.json")
	cfg.Cluster.Pace = 0
	cfg.Cluster.FastWatchInterval = 0
	cfg.Feed.Enabled = false
	cfg.Feed.OutputPath = filepath.Join(dir, "status.json")
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

func fakes() appOverrides {
	return appOverrides{
		enumerator: remotetest.NewFakeEnumerator(remotetest.Response{Output: twoClusters}),
		runner:     remotetest.NewFakeRunner().Set("pw://alice/jean", remote.QueryUsage, usageText, nil),
	}
}

type fakeSource struct {
	mu    sync.Mutex
	rows  []model.SystemRow
	calls int
}

func (f *fakeSource) Fetch(context.Context) ([]model.SystemRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.rows, nil
}

func (f *fakeSource) URL() string { return "https://status.example.test/systems.html" }

func TestRunPoll(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer

	err := runPoll(context.Background(), cfg, logger.NewBufferLogger(), &out, fakes(), false, 3)
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "✓ refreshed")
	assert.Contains(t, got, "2 clusters polled")
	assert.Contains(t, got, "jean")
	assert.Contains(t, got, "75.0%")
	assert.Contains(t, got, "gaffney")
	assert.Contains(t, got, "N/A", "a cluster with no usage output has no percent")

	var docs []model.ClusterDocument
	found, err := store.ReadJSON(cfg.Cluster.SnapshotPath, &docs)
	require.NoError(t, err)
	require.True(t, found, "poll persists the snapshot")
	assert.Len(t, docs, 2)
}

func TestRunPoll_EnumerationFails(t *testing.T) {
	cfg := testConfig(t)
	ov := fakes()
	ov.enumerator = remotetest.NewFakeEnumerator(remotetest.Response{Err: fmt.Errorf("pw: not logged in")})
	var out bytes.Buffer

	err := runPoll(context.Background(), cfg, logger.NewBufferLogger(), &out, ov, false, 3)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRefresh))
	assert.Contains(t, out.String(), "✗ refresh failed")
	assert.NotContains(t, out.String(), "polled", "nothing to show without a snapshot")
}

func TestRunClusters(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cluster.Include = []string{"jean"}
	var out bytes.Buffer

	enum := remotetest.NewFakeEnumerator(remotetest.Response{Output: twoClusters})
	require.NoError(t, runClusters(context.Background(), cfg, logger.Noop(), &out, enum))
	assert.Contains(t, out.String(), "pw://alice/jean")
	assert.NotContains(t, out.String(), "gaffney")

	failing := remotetest.NewFakeEnumerator(remotetest.Response{Err: fmt.Errorf("no cli")})
	err := runClusters(context.Background(), cfg, logger.Noop(), &out, failing)
	require.Error(t, err)
}

func TestNewApp_SeedsFromSnapshotFile(t *testing.T) {
	cfg := testConfig(t)
	seed := model.NewClusterDocument(
		model.ClusterEndpoint{URI: "pw://alice/jean", Status: "on"},
		model.UsageSection{}, model.QueueSection{}, time.Now())
	require.NoError(t, store.WriteJSON(cfg.Cluster.SnapshotPath, []model.ClusterDocument{seed}))

	log := logger.NewBufferLogger()
	app, err := newApp(context.Background(), cfg, log, nil, fakes())
	require.NoError(t, err)
	defer app.Close()

	view := app.scheduler.Cache().Snapshot()
	require.True(t, view.Ready())
	assert.Equal(t, []string{"jean"}, view.Data.Names())
	assert.False(t, view.Data.IsKnown("pw://alice/jean"))
	assert.True(t, view.LastRefresh.IsZero(), "a seed is not a refresh")
	assert.True(t, log.Contains("info", "loaded 1 clusters"))
}

func TestNewApp_CorruptSnapshotIsIgnored(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, store.WriteJSON(cfg.Cluster.SnapshotPath, map[string]int{"not": 1}))

	log := logger.NewBufferLogger()
	app, err := newApp(context.Background(), cfg, log, nil, fakes())
	require.NoError(t, err)
	defer app.Close()

	assert.False(t, app.scheduler.Cache().Snapshot().Ready())
	assert.True(t, log.HasLevel("warn"))
}

func TestNewApp_BadCABundle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Feed.Enabled = true
	cfg.Feed.Insecure = false
	cfg.Feed.CABundle = filepath.Join(t.TempDir(), "missing.pem")

	_, err := newApp(context.Background(), cfg, logger.Noop(), nil, fakes())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestNewApp_HistoryUnreachableIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.DSN = "postgres://nobody@127.0.0.1:1/none?connect_timeout=1"

	log := logger.NewBufferLogger()
	app, err := newApp(context.Background(), cfg, log, nil, fakes())
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.history)
	assert.True(t, log.Contains("error", "usage history disabled"))
	assert.Nil(t, app.serverOptions().History)
}

func TestBuildRemote(t *testing.T) {
	tests := []struct {
		mode       string
		wantRunner interface{}
	}{
		{mode: "cli", wantRunner: &remote.CommandRunner{}},
		{mode: "ssh", wantRunner: &remote.SSHRunner{}},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Remote.Mode = tt.mode

			enum, runner, closeFn := buildRemote(cfg, logger.Noop())
			defer closeFn()

			assert.IsType(t, &remote.CommandEnumerator{}, enum)
			assert.IsType(t, tt.wantRunner, runner)
		})
	}
}

func TestServerOptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Feed.Enabled = true
	cfg.Server.URLPrefix = "/session/alice/status"

	app, err := newApp(context.Background(), cfg, logger.Noop(), metrics.NewRecorder(),
		appOverrides{enumerator: fakes().enumerator, runner: fakes().runner, feed: &fakeSource{}})
	require.NoError(t, err)
	defer app.Close()

	opts := app.serverOptions()
	assert.Equal(t, "/session/alice/status", opts.Prefix)
	assert.Equal(t, 120, opts.App.ClusterMonitorInterval)
	assert.True(t, opts.App.ClusterPagesEnabled)
	assert.Equal(t, "/metrics", opts.MetricsPath)
	assert.NotNil(t, opts.Status)
	assert.NotNil(t, opts.RefreshStatus)
	assert.NotNil(t, opts.RefreshClusters)

	cfg.Cluster.Monitor = false
	assert.Equal(t, 0, app.serverOptions().App.ClusterMonitorInterval)
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		return 0, ""
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestApp_ServeUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Feed.Enabled = true
	source := &fakeSource{rows: []model.SystemRow{{System: "Narwhal", Status: "UP"}}}

	ov := fakes()
	ov.feed = source
	app, err := newApp(context.Background(), cfg, logger.NewBufferLogger(), metrics.NewRecorder(), ov)
	require.NoError(t, err)
	defer app.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		code, _ := get(t, base+"/api/cluster-usage")
		return code == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond, "scheduler runs a cycle at startup")

	require.Eventually(t, func() bool {
		code, body := get(t, base+"/api/status")
		return code == http.StatusOK && bytes.Contains([]byte(body), []byte("Narwhal"))
	}, 5*time.Second, 20*time.Millisecond, "feed refreshes at startup")

	code, body := get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "fleetwatch_http_requests_total")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve didn't return after cancel")
	}

	code, _ = get(t, base+"/healthz")
	assert.Zero(t, code, "listener is closed")
}

func TestApp_ServeMonitorOff(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cluster.Monitor = false
	ov := fakes()
	enum := ov.enumerator.(*remotetest.FakeEnumerator)

	log := logger.NewBufferLogger()
	app, err := newApp(context.Background(), cfg, log, nil, ov)
	require.NoError(t, err)
	defer app.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		code, _ := get(t, base+"/healthz")
		return code == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	code, _ := get(t, base+"/api/cluster-usage")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Zero(t, enum.Calls(), "no polling when monitoring is off")

	code, _ = get(t, base+"/api/status")
	assert.Equal(t, http.StatusServiceUnavailable, code, "feed is disabled")

	cancel()
	require.NoError(t, <-done)
	assert.True(t, log.Contains("info", "cluster monitoring is off"))
}

func TestApp_ServeListenerError(t *testing.T) {
	cfg := testConfig(t)
	app, err := newApp(context.Background(), cfg, logger.Noop(), nil, fakes())
	require.NoError(t, err)
	defer app.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	err = app.Serve(context.Background(), ln)
	require.Error(t, err)
	assert.False(t, stderrors.Is(err, context.Canceled))
}
