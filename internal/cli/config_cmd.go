package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/fleetwatch/internal/config"
	"github.com/rileyhilliard/fleetwatch/internal/errors"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Long: `Print the configuration fleetwatch would run with, after merging defaults,
the config file, FLEETWATCH_* environment variables and flags.

The output is valid YAML and can be saved as a starting config file.

Examples:
  fleetwatch config
  fleetwatch config > fleetwatch.yaml
  FLEETWATCH_REMOTE_MODE=ssh fleetwatch config`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}
		data, err := config.Marshal(cfg)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Couldn't render the configuration",
				"This is a bug in fleetwatch, please report it")
		}

		out := cmd.OutOrStdout()
		if path != "" {
			fmt.Fprintf(out, "# source: %s\n", path)
		} else {
			fmt.Fprintln(out, "# source: defaults")
		}
		_, err = out.Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
