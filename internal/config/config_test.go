package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleetwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Normalize()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, 120*time.Second, cfg.Cluster.Interval)
	assert.Equal(t, 180*time.Second, cfg.Feed.Interval)
	assert.Equal(t, 60*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 20*time.Second, cfg.Feed.Timeout)
	assert.True(t, cfg.Cluster.FastWatchEnabled())
	assert.True(t, cfg.Cluster.MonitorActive())
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, path, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr)
	assert.Equal(t, "pw clusters ls --status=on -o table --owned", cfg.Remote.EnumerateCommand)
}

func TestLoad_FindsLocalFile(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile(ConfigFileName, []byte("server:\n  addr: 127.0.0.1:9000\n"), 0o644))

	cfg, path, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, ConfigFileName, filepath.Base(path))
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:9090
  url_prefix: session/alice/status/
cluster:
  interval: 5m
  pace: 2
  include: ["jean", "nautilus*"]
remote:
  timeout: 45s
`)

	cfg, used, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, "/session/alice/status", cfg.Server.URLPrefix)
	assert.Equal(t, 5*time.Minute, cfg.Cluster.Interval)
	assert.Equal(t, 2*time.Second, cfg.Cluster.Pace, "bare numbers are seconds")
	assert.Equal(t, []string{"jean", "nautilus*"}, cfg.Cluster.Include)
	assert.Equal(t, 45*time.Second, cfg.Remote.Timeout)
	// untouched keys keep defaults
	assert.Equal(t, 12*time.Second, cfg.Cluster.FastWatchInterval)
}

func TestLoad_ClampsIntervals(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "cluster:\n  interval: 10s\nfeed:\n  interval: 30\n")

	cfg, _, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, MinInterval, cfg.Cluster.Interval)
	assert.Equal(t, MinInterval, cfg.Feed.Interval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "server:\n  addr: 127.0.0.1:9090\n")
	t.Setenv("FLEETWATCH_SERVER_ADDR", "127.0.0.1:7070")
	t.Setenv("FLEETWATCH_CLUSTER_INCLUDE", "jean,carpenter")
	t.Setenv("FLEETWATCH_FEED_INSECURE", "false")

	cfg, _, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7070", cfg.Server.Addr)
	assert.Equal(t, []string{"jean", "carpenter"}, cfg.Cluster.Include)
	assert.False(t, cfg.Feed.Insecure)
}

func TestLoad_ChangedFlagsWin(t *testing.T) {
	isolate(t)
	t.Setenv("FLEETWATCH_SERVER_DEFAULT_THEME", "light")

	cmd := &cobra.Command{Use: "serve"}
	cmd.Flags().String("default-theme", "dark", "")
	cmd.Flags().Duration("cluster-monitor-interval", 120*time.Second, "")
	cmd.Flags().String("url-prefix", "", "")
	require.NoError(t, cmd.Flags().Parse([]string{"--cluster-monitor-interval", "3m"}))

	cfg, _, err := Load(LoadOptions{
		Command: cmd,
		FlagKeys: map[string]string{
			"default-theme":            "server.default_theme",
			"cluster-monitor-interval": "cluster.interval",
			"url-prefix":               "server.url_prefix",
			"not-a-flag":               "server.addr",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, cfg.Cluster.Interval)
	assert.Equal(t, "light", cfg.Server.DefaultTheme, "unchanged flag doesn't beat env")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "bad addr",
			content: "server:\n  addr: nope\n",
			wantMsg: "server.addr",
		},
		{
			name:    "bad theme",
			content: "server:\n  default_theme: purple\n",
			wantMsg: "server.default_theme",
		},
		{
			name:    "bad remote mode",
			content: "remote:\n  mode: carrier-pigeon\n",
			wantMsg: "remote.mode",
		},
		{
			name:    "bad duration",
			content: "remote:\n  timeout: soon\n",
			wantMsg: "Invalid config format",
		},
		{
			name:    "bad table",
			content: "history:\n  table: \"drop table;\"\n",
			wantMsg: "history.table",
		},
		{
			name:    "usage command without cluster",
			content: "remote:\n  usage_command: show_usage\n",
			wantMsg: "remote.usage_command",
		},
		{
			name:    "metrics path",
			content: "metrics:\n  path: metrics\n",
			wantMsg: "metrics.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			path := writeConfig(t, tt.content)
			_, _, err := Load(LoadOptions{Path: path})
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrConfig))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, _, err := Load(LoadOptions{Path: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
	assert.Contains(t, err.Error(), "not found")
}

func TestValidate_CABundleMustExist(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Feed.Insecure = false
	cfg.Feed.CABundle = filepath.Join(t.TempDir(), "missing.pem")
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed.ca_bundle")

	cfg.Feed.Insecure = true
	assert.NoError(t, Validate(cfg))
}

func TestNormalizePrefix(t *testing.T) {
	tests := map[string]string{
		"":                   "",
		"/":                  "",
		"status":             "/status",
		"/status/":           "/status",
		" /session/u/app// ": "/session/u/app",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizePrefix(in), "input %q", in)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	isolate(t)
	cfg := DefaultConfig()
	cfg.Cluster.Include = []string{"jean"}
	cfg.Remote.Mode = "ssh"
	cfg.Normalize()

	data, err := Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "interval: 2m0s")
	assert.Contains(t, string(data), "addr: 0.0.0.0:8080")

	path := filepath.Join(t.TempDir(), "nested", "out.yaml")
	require.NoError(t, Write(cfg, path))

	loaded, _, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, "data"), ExpandPath("~/data"))
	assert.Equal(t, "/abs/path", ExpandPath("/abs/path"))
	assert.Equal(t, "~other/x", ExpandPath("~other/x"))

	t.Setenv("FLEETWATCH_DATA", "/srv/fleetwatch")
	assert.Equal(t, "/srv/fleetwatch/clusters.json", ExpandPath("${FLEETWATCH_DATA}/clusters.json"))
	assert.Equal(t, filepath.Join(home, "logs"), ExpandPath("$HOME/logs"))
}
