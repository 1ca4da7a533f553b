package cli

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/fleetwatch/internal/config"
	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/logger"
	"github.com/rileyhilliard/fleetwatch/internal/ui"
)

// Global flags
var (
	cfgFile   string
	logLevel  string
	logFormat string
	noColor   bool
)

// globalFlagKeys maps persistent flags onto config keys.
var globalFlagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
}

var rootCmd = &cobra.Command{
	Use:   "fleetwatch",
	Short: "Monitor HPC cluster health, allocation usage and queue backlog",
	Long: `fleetwatch polls a fleet of HPC clusters through their CLI or SSH, keeps a
live snapshot of allocation usage and queue backlog, and serves it together
with the upstream systems status page to a dashboard.

Examples:
  fleetwatch doctor
  fleetwatch serve
  fleetwatch poll --top 5
  fleetwatch usage --base-url http://localhost:8080`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.ConfigureColors(cmd.OutOrStdout(), noColor)
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&cfgFile, "config", "c", "", "config file (default ./fleetwatch.yaml or ~/.config/fleetwatch/config.yaml)")
	f.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&logFormat, "log-format", "", "console log format: console or json")
	f.BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		os.Exit(1)
	}
}

// formatError renders structured errors with their suggestion, and
// anything else as a single failure line.
func formatError(err error) string {
	var fwErr *errors.Error
	if stderrors.As(err, &fwErr) {
		return strings.TrimRight(fwErr.Error(), "\n")
	}
	return ui.ErrorStyle().Render(ui.SymbolFail) + " " + err.Error()
}

// loadConfig resolves the configuration for cmd. keys maps the command's
// own flags onto config keys, on top of the global ones.
func loadConfig(cmd *cobra.Command, keys map[string]string) (*config.Config, string, error) {
	all := make(map[string]string, len(globalFlagKeys)+len(keys))
	for k, v := range globalFlagKeys {
		all[k] = v
	}
	for k, v := range keys {
		all[k] = v
	}
	return config.Load(config.LoadOptions{
		Path:     cfgFile,
		Command:  cmd,
		FlagKeys: all,
	})
}

// setupLogger builds the process logger and installs it as the default.
func setupLogger(cfg *config.Config, console io.Writer) (logger.Logger, func() error, error) {
	log, flush, err := logger.NewZap(logger.Options{
		Level:        cfg.Log.Level,
		Format:       cfg.Log.Format,
		Dir:          config.ExpandPath(cfg.Log.Dir),
		MaxAge:       cfg.Log.MaxAge,
		RotationTime: cfg.Log.Rotation,
		Console:      console,
		NoColor:      noColor || !ui.ColorEnabled(console),
	})
	if err != nil {
		return nil, nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't set up logging",
			"Check log.dir is writable")
	}
	logger.SetDefault(log)
	return log, flush, nil
}
