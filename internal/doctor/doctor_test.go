package doctor

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/fleetwatch/internal/directory"
	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/model"
	"github.com/rileyhilliard/fleetwatch/internal/remote"
	remotetest "github.com/rileyhilliard/fleetwatch/internal/remote/testing"
	"github.com/rileyhilliard/fleetwatch/internal/store"
	"github.com/rileyhilliard/fleetwatch/pkg/sshutil"
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

type staticCheck struct {
	name     string
	category string
	result   CheckResult
	runs     atomic.Int32
}

func (c *staticCheck) Name() string     { return c.name }
func (c *staticCheck) Category() string { return c.category }
func (c *staticCheck) Run(context.Context) CheckResult {
	c.runs.Add(1)
	return c.result
}

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
		{StatusSkip, "SKIP"},
		{CheckStatus(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestRunAll_FillsNameAndCategory(t *testing.T) {
	checks := []Check{
		&staticCheck{name: "a", category: "ONE", result: CheckResult{Status: StatusPass}},
		&staticCheck{name: "b", category: "TWO", result: CheckResult{Status: StatusFail, Message: "broken"}},
	}

	results := RunAll(context.Background(), checks)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Name)
	assert.Equal(t, "ONE", results[0].Category)
	assert.Equal(t, "b", results[1].Name)
	assert.Equal(t, "broken", results[1].Message)
}

func TestRunAll_CancelledContextSkips(t *testing.T) {
	check := &staticCheck{name: "a", category: "ONE", result: CheckResult{Status: StatusPass}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := RunAll(ctx, []Check{check})
	assert.Equal(t, StatusSkip, results[0].Status)
	assert.Zero(t, check.runs.Load())
}

func TestRunAllParallel_KeepsOrder(t *testing.T) {
	var checks []Check
	for i, status := range []CheckStatus{StatusPass, StatusWarn, StatusFail, StatusPass} {
		checks = append(checks, &staticCheck{
			name:   string(rune('a' + i)),
			result: CheckResult{Status: status},
		})
	}

	results := RunAllParallel(context.Background(), checks, 2)
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, checks[i].Name(), r.Name)
	}
	assert.Equal(t, StatusFail, results[2].Status)
}

func TestGroupByCategory(t *testing.T) {
	results := []CheckResult{
		{Name: "a", Category: "CONFIG"},
		{Name: "b", Category: "CLUSTERS"},
		{Name: "c", Category: "CONFIG"},
	}
	cats, grouped := GroupByCategory(results)
	assert.Equal(t, []string{"CONFIG", "CLUSTERS"}, cats)
	assert.Len(t, grouped["CONFIG"], 2)
	assert.Len(t, grouped["CLUSTERS"], 1)
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name     string
		statuses []CheckStatus
		want     string
	}{
		{"all pass", []CheckStatus{StatusPass, StatusPass}, "All checks passed"},
		{"skips only", []CheckStatus{StatusPass, StatusSkip}, "All checks passed"},
		{"one warning", []CheckStatus{StatusPass, StatusWarn}, "1 passed, 1 warning"},
		{"mixed", []CheckStatus{StatusWarn, StatusWarn, StatusFail, StatusSkip}, "2 warnings, 1 failure, 1 skipped"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var results []CheckResult
			for _, s := range tt.statuses {
				results = append(results, CheckResult{Status: s})
			}
			assert.Equal(t, tt.want, Summary(results))
		})
	}
}

func TestHasFailures(t *testing.T) {
	assert.False(t, HasFailures([]CheckResult{{Status: StatusPass}, {Status: StatusWarn}}))
	assert.True(t, HasFailures([]CheckResult{{Status: StatusPass}, {Status: StatusFail}}))
}

func TestConfigCheck(t *testing.T) {
	ctx := context.Background()

	res := (&ConfigCheck{Path: "/etc/fleetwatch.yaml"}).Run(ctx)
	assert.Equal(t, StatusPass, res.Status)
	assert.Contains(t, res.Message, "/etc/fleetwatch.yaml")

	res = (&ConfigCheck{}).Run(ctx)
	assert.Equal(t, StatusWarn, res.Status)

	res = (&ConfigCheck{Err: errors.New(errors.ErrConfig, "Invalid remote.mode", "Use cli or ssh")}).Run(ctx)
	assert.Equal(t, StatusFail, res.Status)
	assert.Equal(t, "Invalid remote.mode", res.Message)
	assert.Equal(t, "Use cli or ssh", res.Suggestion)

	res = (&ConfigCheck{Err: stderrors.New("boom")}).Run(ctx)
	assert.Equal(t, "boom", res.Message)
	assert.Contains(t, res.Suggestion, "fleetwatch doctor")
}

func TestWritablePathCheck(t *testing.T) {
	dir := t.TempDir()

	check := &WritablePathCheck{ID: "snapshot", Label: "Cluster snapshot", Path: filepath.Join(dir, "data", "clusters.json")}
	res := check.Run(context.Background())
	assert.Equal(t, StatusPass, res.Status, res.Message)
	assert.DirExists(t, filepath.Join(dir, "data"))

	entries, err := os.ReadDir(filepath.Join(dir, "data"))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file is removed")

	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	check = &WritablePathCheck{ID: "snapshot", Label: "Cluster snapshot", Path: filepath.Join(blocker, "clusters.json")}
	res = check.Run(context.Background())
	assert.Equal(t, StatusFail, res.Status)
}

func TestDirExistsCheck(t *testing.T) {
	dir := t.TempDir()

	res := (&DirExistsCheck{ID: "public", Label: "Dashboard", Path: dir}).Run(context.Background())
	assert.Equal(t, StatusPass, res.Status)

	res = (&DirExistsCheck{ID: "public", Label: "Dashboard", Path: filepath.Join(dir, "missing"), Suggestion: "copy it"}).Run(context.Background())
	assert.Equal(t, StatusWarn, res.Status)
	assert.Equal(t, "copy it", res.Suggestion)
}

func TestEnumerationCheck(t *testing.T) {
	tests := []struct {
		name   string
		resp   remotetest.Response
		status CheckStatus
		found  int
	}{
		{"clusters found", remotetest.Response{Output: twoClusters}, StatusPass, 2},
		{"none active", remotetest.Response{Output: ""}, StatusWarn, 0},
		{"command fails", remotetest.Response{Err: stderrors.New("not logged in")}, StatusFail, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := &EnumerationCheck{Lister: directory.New(remotetest.NewFakeEnumerator(tt.resp))}
			res := check.Run(context.Background())
			assert.Equal(t, tt.status, res.Status, res.Message)
			assert.Len(t, check.Found, tt.found)
		})
	}
}

func TestQueryCheck(t *testing.T) {
	jean := model.ClusterEndpoint{URI: "pw://alice/jean", Status: "on", Type: "existing"}
	runner := remotetest.NewFakeRunner().
		Set(jean.URI, remote.QueryUsage, usageText, nil).
		Set(jean.URI, remote.QueryQueue, "nothing useful\n", nil)

	usage := &QueryCheck{Runner: runner, Endpoint: jean, Kind: remote.QueryUsage, Timeout: time.Second}
	assert.Equal(t, "usage_jean", usage.Name())
	res := usage.Run(context.Background())
	assert.Equal(t, StatusPass, res.Status, res.Message)
	assert.Equal(t, "jean usage: 1 usage rows", res.Message)

	res = (&QueryCheck{Runner: runner, Endpoint: jean, Kind: remote.QueryQueue}).Run(context.Background())
	assert.Equal(t, StatusWarn, res.Status)
	assert.Contains(t, res.Message, "no queues were recognized")

	other := model.ClusterEndpoint{URI: "pw://alice/gaffney"}
	res = (&QueryCheck{Runner: runner, Endpoint: other, Kind: remote.QueryUsage}).Run(context.Background())
	assert.Equal(t, StatusFail, res.Status)
	assert.Contains(t, res.Message, "gaffney usage:")
}

func TestSSHCheck(t *testing.T) {
	live := remotetest.NewFakeExecutor("jean-login")
	dial := func(_ context.Context, host string) (sshutil.Executor, error) {
		if host == "jean-login" {
			return live, nil
		}
		return nil, errors.New(errors.ErrSSH, "Couldn't reach "+host, "Check the host")
	}

	res := (&SSHCheck{Host: "jean-login", Dial: dial}).Run(context.Background())
	assert.Equal(t, StatusPass, res.Status, res.Message)
	assert.True(t, live.Closed())

	res = (&SSHCheck{Host: "nowhere", Dial: dial}).Run(context.Background())
	assert.Equal(t, StatusFail, res.Status)
	assert.Equal(t, "nowhere: Couldn't reach nowhere", res.Message)
	assert.Equal(t, "Check the host", res.Suggestion)

	dead := remotetest.NewFakeExecutor("dead")
	dead.SetAlive(false)
	res = (&SSHCheck{Host: "dead", Dial: func(context.Context, string) (sshutil.Executor, error) { return dead, nil }}).Run(context.Background())
	assert.Equal(t, StatusFail, res.Status)
}

type feedSource struct {
	rows []model.SystemRow
	err  error
}

func (s *feedSource) Fetch(context.Context) ([]model.SystemRow, error) { return s.rows, s.err }
func (s *feedSource) URL() string                                       { return "https://status.example.test" }

func TestFeedCheck(t *testing.T) {
	res := (&FeedCheck{Source: &feedSource{rows: []model.SystemRow{{System: "Narwhal"}, {System: "Nautilus"}}}}).Run(context.Background())
	assert.Equal(t, StatusPass, res.Status)
	assert.Equal(t, "2 systems from https://status.example.test", res.Message)

	res = (&FeedCheck{Source: &feedSource{}}).Run(context.Background())
	assert.Equal(t, StatusWarn, res.Status)

	res = (&FeedCheck{Source: &feedSource{err: stderrors.New("tls: unknown authority")}}).Run(context.Background())
	assert.Equal(t, StatusFail, res.Status)
	assert.Contains(t, res.Suggestion, "feed.ca_bundle")

	res = (&FeedCheck{Err: errors.New(errors.ErrFeed, "No certificates in bundle", "")}).Run(context.Background())
	assert.Equal(t, StatusFail, res.Status)
	assert.Equal(t, "No certificates in bundle", res.Message)
}

func TestHistoryCheck(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS cluster_usage_history")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectClose()

		check := &HistoryCheck{Open: func(context.Context) (*store.HistoryStore, error) {
			return store.NewHistoryStore(db, "cluster_usage_history"), nil
		}}
		res := check.Run(context.Background())
		assert.Equal(t, StatusPass, res.Status, res.Message)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("schema denied", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		mock.ExpectExec("CREATE TABLE").WillReturnError(stderrors.New("permission denied"))
		mock.ExpectClose()

		check := &HistoryCheck{Open: func(context.Context) (*store.HistoryStore, error) {
			return store.NewHistoryStore(db, "cluster_usage_history"), nil
		}}
		res := check.Run(context.Background())
		assert.Equal(t, StatusFail, res.Status)
		assert.Contains(t, res.Message, "permission denied")
	})

	t.Run("unreachable", func(t *testing.T) {
		check := &HistoryCheck{Open: func(ctx context.Context) (*store.HistoryStore, error) {
			return store.OpenHistory(ctx, "postgres://fleetwatch@127.0.0.1:1/fleetwatch?connect_timeout=1", "cluster_usage_history")
		}}
		res := check.Run(context.Background())
		assert.Equal(t, StatusFail, res.Status)
		assert.Contains(t, res.Message, "Couldn't reach the history database")
	})
}
