package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/fleetwatch/internal/config"
	"github.com/rileyhilliard/fleetwatch/internal/directory"
	"github.com/rileyhilliard/fleetwatch/internal/doctor"
	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/logger"
	"github.com/rileyhilliard/fleetwatch/internal/remote"
	"github.com/rileyhilliard/fleetwatch/internal/statusfeed"
	"github.com/rileyhilliard/fleetwatch/internal/store"
	"github.com/rileyhilliard/fleetwatch/internal/ui"
)

// doctorParallelism bounds concurrent per-cluster checks.
const doctorParallelism = 4

var doctorSkipClusters bool

var doctorFlagKeys = map[string]string{
	"remote-mode": "remote.mode",
	"history-dsn": "history.dsn",
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the configuration and everything fleetwatch talks to",
	Long: `Run diagnostics: the config file, the snapshot and feed paths, the
enumeration command, one usage and queue query per active cluster, SSH
reachability in ssh mode, the status feed and the history database.

Exits non-zero when any check fails.

Examples:
  fleetwatch doctor
  fleetwatch doctor --skip-clusters   # local checks only`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		cfg, path, err := loadConfig(cmd, doctorFlagKeys)
		if err != nil {
			results := doctor.RunAll(cmd.Context(), []doctor.Check{&doctor.ConfigCheck{Err: err}})
			fmt.Fprint(out, ui.RenderDoctorTable(doctorRows(results)))
			return errors.New(errors.ErrConfig, "Configuration is invalid", "")
		}
		log, flush, err := setupLogger(cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer func() { _ = flush() }()
		return runDoctor(cmd.Context(), cfg, path, log, out, appOverrides{}, doctorSkipClusters)
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorSkipClusters, "skip-clusters", false, "skip enumeration and per-cluster checks")
	doctorCmd.Flags().String("remote-mode", "", "how to reach clusters: cli or ssh")
	doctorCmd.Flags().String("history-dsn", "", "PostgreSQL DSN for the usage history sink")
}

// runDoctor runs the local checks in order, then the network checks in
// parallel once the active clusters are known.
func runDoctor(ctx context.Context, cfg *config.Config, path string, log logger.Logger, out io.Writer, ov appOverrides, skipClusters bool) error {
	local := []doctor.Check{
		&doctor.ConfigCheck{Path: path},
		&doctor.WritablePathCheck{
			ID:    "snapshot_path",
			Label: "Cluster snapshot",
			Path:  config.ExpandPath(cfg.Cluster.SnapshotPath),
		},
		&doctor.DirExistsCheck{
			ID:         "public_dir",
			Label:      "Dashboard files",
			Path:       config.ExpandPath(cfg.Server.PublicDir),
			Suggestion: "Set server.public_dir to the directory holding index.html",
		},
	}
	if cfg.Feed.Enabled {
		local = append(local, &doctor.WritablePathCheck{
			ID:    "feed_output",
			Label: "Status feed output",
			Path:  config.ExpandPath(cfg.Feed.OutputPath),
		})
	}

	enumerator, runner := ov.enumerator, ov.runner
	var dial remote.DialFunc
	if !skipClusters && (enumerator == nil || runner == nil) {
		e, r, closeRemote := buildRemote(cfg, log.Named("remote"))
		defer closeRemote()
		if enumerator == nil {
			enumerator = e
		}
		if runner == nil {
			runner = r
		}
		if cfg.Remote.Mode == "ssh" {
			dial = sshDialer(cfg, log.Named("remote"))
		}
	}

	var enumeration *doctor.EnumerationCheck
	if !skipClusters {
		enumeration = &doctor.EnumerationCheck{Lister: directory.New(enumerator,
			directory.WithTimeout(cfg.Remote.Timeout),
			directory.WithInclude(cfg.Cluster.Include),
			directory.WithLogger(log.Named("directory")),
		)}
		local = append(local, enumeration)
	}
	results := doctor.RunAll(ctx, local)

	var network []doctor.Check
	if enumeration != nil {
		ssh, _ := runner.(*remote.SSHRunner)
		for _, ep := range enumeration.Found {
			if ssh != nil && dial != nil {
				network = append(network, &doctor.SSHCheck{Host: ssh.Host(ep), Dial: dial})
			}
			for _, kind := range []remote.QueryKind{remote.QueryUsage, remote.QueryQueue} {
				network = append(network, &doctor.QueryCheck{
					Runner:   runner,
					Endpoint: ep,
					Kind:     kind,
					Timeout:  cfg.Remote.Timeout,
				})
			}
		}
	}
	if cfg.Feed.Enabled {
		network = append(network, feedCheck(cfg, ov.feed))
	}
	if cfg.History.DSN != "" {
		network = append(network, &doctor.HistoryCheck{Open: func(ctx context.Context) (*store.HistoryStore, error) {
			return store.OpenHistory(ctx, cfg.History.DSN, cfg.History.Table)
		}})
	}
	results = append(results, doctor.RunAllParallel(ctx, network, doctorParallelism)...)

	fmt.Fprint(out, ui.RenderDoctorTable(doctorRows(results)))
	summary := doctor.Summary(results)
	if doctor.HasFailures(results) {
		return errors.New(errors.ErrConfig, summary, "Fix the failures above, then run fleetwatch doctor again")
	}
	fmt.Fprintf(out, "%s %s\n", ui.ResultSymbol(true), summary)
	return nil
}

func feedCheck(cfg *config.Config, source statusfeed.Source) *doctor.FeedCheck {
	if source != nil {
		return &doctor.FeedCheck{Source: source}
	}
	fetcher, err := newFetcher(cfg)
	if err != nil {
		return &doctor.FeedCheck{Err: err}
	}
	return &doctor.FeedCheck{Source: fetcher}
}

func doctorRows(results []doctor.CheckResult) []ui.DoctorRow {
	rows := make([]ui.DoctorRow, len(results))
	for i, r := range results {
		rows[i] = ui.DoctorRow{
			Category:   r.Category,
			Status:     doctorStatus(r.Status),
			Message:    r.Message,
			Suggestion: r.Suggestion,
		}
	}
	return rows
}

func doctorStatus(s doctor.CheckStatus) string {
	switch s {
	case doctor.StatusPass:
		return "pass"
	case doctor.StatusWarn:
		return "warn"
	case doctor.StatusFail:
		return "fail"
	default:
		return "skip"
	}
}
