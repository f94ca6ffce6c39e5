package cmd

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/PolarWolf314/sett/internal/configs"
	kerrors "github.com/PolarWolf314/sett/internal/errors"
	"github.com/PolarWolf314/sett/internal/ui"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create the configuration file",
	Long: `Provides commands for inspecting and creating the sett configuration.

Examples:
  # Write a configuration file with the default values
  sett config init

  # Show the effective configuration
  sett config show`,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing configuration file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile()
		Logger.Debugf("Showing configuration loaded from %s", path)

		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Println(ui.Muted.Sprint("# " + path + " does not exist, showing defaults"))
		} else {
			fmt.Println(ui.Muted.Sprint("# " + path))
		}
		return toml.NewEncoder(os.Stdout).Encode(config)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile()
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%w: %s already exists (use --force to overwrite)", kerrors.ErrValidation, path)
		}

		if err := configs.SaveConfig(path, configs.DefaultConfig()); err != nil {
			return err
		}
		fmt.Println(ui.Success.Sprint("✓") + " Configuration written to " + ui.Path.Sprint(path))
		fmt.Println(ui.Info.Sprint("→") + " Set " + ui.Code.Sprint("keys.authority_fingerprint") + " and " +
			ui.Code.Sprint("transfer.host") + " before your first transfer")
		return nil
	},
}

func configFile() string {
	if configPath != "" {
		return configPath
	}
	return configs.ConfigPath()
}
