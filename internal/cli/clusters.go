package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/fleetwatch/internal/config"
	"github.com/rileyhilliard/fleetwatch/internal/directory"
	"github.com/rileyhilliard/fleetwatch/internal/logger"
	"github.com/rileyhilliard/fleetwatch/internal/remote"
	"github.com/rileyhilliard/fleetwatch/internal/ui"
)

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "List the active clusters",
	Long: `Run the enumeration command and list the clusters fleetwatch would poll,
after cluster.include filtering.

Examples:
  fleetwatch clusters`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}
		log, flush, err := setupLogger(cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer func() { _ = flush() }()

		enumerator := &remote.CommandEnumerator{
			Command: cfg.Remote.EnumerateCommand,
			Shell:   cfg.Remote.Shell,
		}
		return runClusters(cmd.Context(), cfg, log, cmd.OutOrStdout(), enumerator)
	},
}

func init() {
	rootCmd.AddCommand(clustersCmd)
}

func runClusters(ctx context.Context, cfg *config.Config, log logger.Logger, out io.Writer, enumerator remote.Enumerator) error {
	dir := directory.New(enumerator,
		directory.WithTimeout(cfg.Remote.Timeout),
		directory.WithInclude(cfg.Cluster.Include),
		directory.WithLogger(log.Named("directory")),
	)
	endpoints, err := dir.Enumerate(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(out, ui.RenderClusters(endpoints))
	return nil
}
