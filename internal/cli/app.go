package cli

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/rileyhilliard/fleetwatch/internal/config"
	"github.com/rileyhilliard/fleetwatch/internal/directory"
	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/logger"
	"github.com/rileyhilliard/fleetwatch/internal/metrics"
	"github.com/rileyhilliard/fleetwatch/internal/model"
	"github.com/rileyhilliard/fleetwatch/internal/remote"
	"github.com/rileyhilliard/fleetwatch/internal/scheduler"
	"github.com/rileyhilliard/fleetwatch/internal/server"
	"github.com/rileyhilliard/fleetwatch/internal/state"
	"github.com/rileyhilliard/fleetwatch/internal/statusfeed"
	"github.com/rileyhilliard/fleetwatch/internal/store"
	"github.com/rileyhilliard/fleetwatch/internal/telemetry"
	"github.com/rileyhilliard/fleetwatch/pkg/sshutil"
)

// App holds the long-lived components built from one Config.
type App struct {
	cfg     *config.Config
	log     logger.Logger
	metrics *metrics.Recorder

	directory *directory.Directory
	scheduler *scheduler.Scheduler
	feed      *statusfeed.Worker  // nil when the feed is disabled
	history   *store.HistoryStore // nil without history.dsn

	closers []func()
}

// appOverrides replaces remote collaborators. Zero values build the real
// ones from config.
type appOverrides struct {
	enumerator remote.Enumerator
	runner     remote.Runner
	feed       statusfeed.Source
}

// newApp wires every component. Only configuration mistakes are errors;
// an unreachable history database or unreadable snapshot file is logged
// and the app runs without it.
func newApp(ctx context.Context, cfg *config.Config, log logger.Logger, m *metrics.Recorder, ov appOverrides) (*App, error) {
	a := &App{cfg: cfg, log: log, metrics: m}

	enumerator, runner := ov.enumerator, ov.runner
	if enumerator == nil || runner == nil {
		e, r, closeRemote := buildRemote(cfg, log.Named("remote"))
		a.closers = append(a.closers, closeRemote)
		if enumerator == nil {
			enumerator = e
		}
		if runner == nil {
			runner = r
		}
	}

	a.directory = directory.New(enumerator,
		directory.WithTimeout(cfg.Remote.Timeout),
		directory.WithInclude(cfg.Cluster.Include),
		directory.WithLogger(log.Named("directory")),
		directory.WithMetrics(m),
	)
	collector := telemetry.NewCollector(runner, cfg.Remote.Timeout, log.Named("telemetry"), m)

	snapshotFile := &store.SnapshotFile{Path: config.ExpandPath(cfg.Cluster.SnapshotPath)}
	cache := state.New[model.FleetSnapshot]("clusters", log.Named("clusters"), m)
	a.seedClusters(cache, snapshotFile)

	sinks := []scheduler.Sink{snapshotFile}
	if cfg.History.DSN != "" {
		if h := a.openHistory(ctx); h != nil {
			a.history = h
			sinks = append(sinks, h)
		}
	}

	a.scheduler = scheduler.New(scheduler.Options{
		Endpoints:         a.directory,
		Collector:         collector,
		Cache:             cache,
		Sinks:             sinks,
		Interval:          cfg.Cluster.Interval,
		Pace:              cfg.Cluster.Pace,
		FastWatchInterval: cfg.Cluster.FastWatchInterval,
		FastWatchDuration: cfg.Cluster.FastWatchDuration,
		Logger:            log.Named("scheduler"),
		Metrics:           m,
	})

	if cfg.Feed.Enabled {
		source := ov.feed
		if source == nil {
			fetcher, err := newFetcher(cfg)
			if err != nil {
				a.Close()
				return nil, err
			}
			source = fetcher
		}
		a.feed = statusfeed.NewWorker(statusfeed.WorkerOptions{
			Source:     source,
			Interval:   cfg.Feed.Interval,
			OutputPath: config.ExpandPath(cfg.Feed.OutputPath),
			Logger:     log.Named("feed"),
			Metrics:    m,
		})
	}

	return a, nil
}

// buildRemote returns the enumerator and runner for cfg.Remote.Mode and a
// func releasing their connections.
func buildRemote(cfg *config.Config, log logger.Logger) (remote.Enumerator, remote.Runner, func()) {
	enumerator := &remote.CommandEnumerator{
		Command: cfg.Remote.EnumerateCommand,
		Shell:   cfg.Remote.Shell,
	}

	if cfg.Remote.Mode == "ssh" {
		ssh := cfg.Remote.SSH
		pool := remote.NewPool(sshDialer(cfg, log), ssh.IdleTimeout)
		runner := &remote.SSHRunner{
			Pool:         pool,
			HostTemplate: ssh.HostTemplate,
			UsageCommand: ssh.UsageCommand,
			QueueCommand: ssh.QueueCommand,
		}
		return enumerator, runner, func() {
			pool.Close()
			sshutil.CloseAgent()
		}
	}

	runner := &remote.CommandRunner{
		UsageCommand: cfg.Remote.UsageCommand,
		QueueCommand: cfg.Remote.QueueCommand,
		Shell:        cfg.Remote.Shell,
	}
	return enumerator, runner, func() {}
}

func newFetcher(cfg *config.Config) (*statusfeed.Fetcher, error) {
	return statusfeed.NewFetcher(statusfeed.FetchOptions{
		URL:       cfg.Feed.URL,
		Timeout:   cfg.Feed.Timeout,
		UserAgent: cfg.Feed.UserAgent,
		Insecure:  cfg.Feed.Insecure,
		CABundle:  config.ExpandPath(cfg.Feed.CABundle),
	})
}

func sshDialer(cfg *config.Config, log logger.Logger) remote.DialFunc {
	return remote.SSHDialer(sshutil.DialOptions{
		Timeout:       cfg.Remote.SSH.DialTimeout,
		StrictHostKey: cfg.Remote.SSH.StrictHostKey,
		Warn:          func(msg string) { log.Warn("%s", msg) },
	})
}

// seedClusters loads the persisted snapshot so readers get data before
// the first cycle finishes. Seeded clusters aren't marked known, so fast
// watch still collects them if they show up before the first full cycle.
func (a *App) seedClusters(cache *state.Cache[model.FleetSnapshot], file *store.SnapshotFile) {
	docs, err := file.Load()
	if err != nil {
		a.log.Warn("ignoring cluster snapshot: %s", errors.Summarize(err))
		return
	}
	if len(docs) == 0 {
		return
	}
	cache.Seed(model.SeedSnapshot(docs))
	a.log.Info("loaded %d clusters from %s", len(docs), file.Path)
}

func (a *App) openHistory(ctx context.Context) *store.HistoryStore {
	h, err := store.OpenHistory(ctx, a.cfg.History.DSN, a.cfg.History.Table)
	if err != nil {
		a.log.Error("usage history disabled: %s", errors.Summarize(err))
		return nil
	}
	if err := h.EnsureSchema(ctx); err != nil {
		a.log.Error("usage history disabled: %s", errors.Summarize(err))
		h.Close()
		return nil
	}
	a.closers = append(a.closers, func() { h.Close() })
	return h
}

// Close releases connections. Safe to call more than once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// serverOptions maps config and components onto the HTTP surface.
func (a *App) serverOptions() server.Options {
	cfg := a.cfg
	opts := server.Options{
		Clusters:        a.scheduler.Cache(),
		RefreshClusters: a.scheduler.TriggerRefresh,
		Prefix:          cfg.Server.URLPrefix,
		PublicDir:       config.ExpandPath(cfg.Server.PublicDir),
		App: server.AppConfig{
			DefaultTheme:        cfg.Server.DefaultTheme,
			ClusterPagesEnabled: cfg.Cluster.PagesEnabled,
		},
		Metrics: a.metrics,
		Logger:  a.log.Named("http"),
	}
	if cfg.Cluster.MonitorActive() {
		opts.App.ClusterMonitorInterval = int(cfg.Cluster.Interval.Seconds())
	}
	if a.metrics != nil {
		opts.MetricsPath = cfg.Metrics.Path
	}
	if a.feed != nil {
		opts.Status = a.feed.Cache()
		opts.RefreshStatus = a.feed.Refresh
	}
	if a.history != nil {
		opts.History = a.history
	}
	return opts
}

// Serve runs the feed worker, the cluster scheduler and the HTTP server
// on ln until ctx is cancelled, then shuts the server down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	cfg := a.cfg
	httpSrv := &http.Server{
		Handler:      server.New(a.serverOptions()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.feed != nil {
		a.feed.Load()
		g.Go(func() error {
			a.feed.Refresh(gctx, true)
			return a.feed.Run(gctx)
		})
	}

	if cfg.Cluster.MonitorActive() {
		g.Go(func() error {
			return a.scheduler.Run(gctx)
		})
	} else {
		a.log.Info("cluster monitoring is off")
	}

	g.Go(func() error {
		a.log.Info("listening on http://%s%s/", ln.Addr(), config.NormalizePrefix(cfg.Server.URLPrefix))
		if err := httpSrv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"HTTP server stopped",
				"Check server.addr is free")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("HTTP shutdown: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info("shut down")
	return nil
}
