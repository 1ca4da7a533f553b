package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/fleetwatch/internal/config"
	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/logger"
	"github.com/rileyhilliard/fleetwatch/internal/ui"
	"github.com/rileyhilliard/fleetwatch/internal/util"
	"github.com/rileyhilliard/fleetwatch/internal/views"
)

var (
	pollFastWatch bool
	pollTop       int
)

var pollFlagKeys = map[string]string{
	"remote-mode": "remote.mode",
	"history-dsn": "history.dsn",
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll every cluster once and print allocation usage",
	Long: `Run one full polling cycle, persist the snapshot like the background
scheduler does, and print the clusters with the most allocation remaining.

Examples:
  fleetwatch poll
  fleetwatch poll --top 0          # every cluster
  fleetwatch poll --fast-watch     # also wait for newly connected clusters`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd, pollFlagKeys)
		if err != nil {
			return err
		}
		// Logs go to stderr so stdout stays a clean table.
		log, flush, err := setupLogger(cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer func() { _ = flush() }()
		return runPoll(cmd.Context(), cfg, log, cmd.OutOrStdout(), appOverrides{}, pollFastWatch, pollTop)
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
	pollCmd.Flags().BoolVar(&pollFastWatch, "fast-watch", false, "run the fast-watch window after the cycle")
	pollCmd.Flags().IntVar(&pollTop, "top", 3, "clusters to show, 0 for all")
	pollCmd.Flags().String("remote-mode", "", "how to reach clusters: cli or ssh")
	pollCmd.Flags().String("history-dsn", "", "PostgreSQL DSN for the usage history sink")
}

func runPoll(ctx context.Context, cfg *config.Config, log logger.Logger, out io.Writer, ov appOverrides, fastWatch bool, top int) error {
	app, err := newApp(ctx, cfg, log, nil, ov)
	if err != nil {
		return err
	}
	defer app.Close()

	res := app.scheduler.RunOnce(ctx, fastWatch)
	fmt.Fprintf(out, "%s %s\n", ui.ResultSymbol(res.OK), res.Message)

	view := app.scheduler.Cache().Snapshot()
	if view.Data != nil {
		n := view.Data.Len()
		fmt.Fprintf(out, "%d %s polled\n\n", n, util.Pluralize(n, "cluster", "clusters"))
		fmt.Fprint(out, ui.RenderUsage(views.ClusterProfiles(view.Data), top))
	}

	if !res.OK {
		return errors.New(errors.ErrRefresh, "Poll failed: "+res.Message,
			"Check the enumeration command works from this shell: "+cfg.Remote.EnumerateCommand)
	}
	return nil
}
