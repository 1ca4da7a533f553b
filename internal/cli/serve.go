package cli

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/metrics"
	"github.com/rileyhilliard/fleetwatch/internal/ui"
)

// serveFlagKeys maps serve flags onto config keys.
var serveFlagKeys = map[string]string{
	"addr":        "server.addr",
	"prefix":      "server.url_prefix",
	"public-dir":  "server.public_dir",
	"monitor":     "cluster.monitor",
	"feed":        "feed.enabled",
	"remote-mode": "remote.mode",
	"history-dsn": "history.dsn",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the poller and the dashboard API",
	Long: `Start the status feed worker, the cluster poll scheduler and the HTTP server.

The server exposes the JSON API read by the dashboard, Prometheus metrics and
the static files under server.public_dir. SIGINT or SIGTERM shuts everything
down gracefully.

Examples:
  fleetwatch serve
  fleetwatch serve --addr 127.0.0.1:9090 --prefix /session/alice/status
  fleetwatch serve --monitor=false`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCommand(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	f := serveCmd.Flags()
	f.String("addr", "", "listen address (host:port)")
	f.String("prefix", "", "URL prefix stripped from every request")
	f.String("public-dir", "", "directory with the dashboard's static files")
	f.Bool("monitor", true, "poll clusters in the background")
	f.Bool("feed", true, "refresh the upstream systems status page")
	f.String("remote-mode", "", "how to reach clusters: cli or ssh")
	f.String("history-dsn", "", "PostgreSQL DSN for the usage history sink")
}

func serveCommand(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, path, err := loadConfig(cmd, serveFlagKeys)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	log, flush, err := setupLogger(cfg, out)
	if err != nil {
		return err
	}
	defer func() { _ = flush() }()

	fmt.Fprint(out, ui.RenderBanner("fleetwatch", formatVersion(version)))
	if path != "" {
		log.Info("using config %s", path)
	} else {
		log.Info("no config file found, using defaults")
	}

	var m *metrics.Recorder
	if cfg.Metrics.Enabled {
		m = metrics.NewRecorder()
	}

	app, err := newApp(ctx, cfg, log, m, appOverrides{})
	if err != nil {
		return err
	}
	defer app.Close()

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Couldn't listen on %s", cfg.Server.Addr),
			"Pick a free port with --addr or server.addr")
	}
	return app.Serve(ctx, ln)
}
