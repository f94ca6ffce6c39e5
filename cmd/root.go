package cmd

import (
	"fmt"

	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/PolarWolf314/sett/internal/configs"
	logger "github.com/PolarWolf314/sett/internal/logging"
	"github.com/PolarWolf314/sett/internal/ui"
)

var (
	verbose    bool
	debug      bool
	offline    bool
	configPath string

	Logger logger.Logger
	config *configs.Config

	RootCmd = &cobra.Command{
		Use:   "sett",
		Short: "sett - encrypt, sign and transfer data packages",
		Long: `sett packages files into signed, encrypted and checksummed archives,
uploads them over SFTP and verifies and unpacks them on the receiving side.

Usage:
  sett <command> [flags]

Available Commands:
  encrypt    Package files for one or more recipients
  decrypt    Verify and unpack a package
  transfer   Upload packages to an SFTP server
  keys       Manage the local OpenPGP key store
  log        Show the audit log
  config     Show or create the configuration file

Run 'sett help <command>' for more details on a specific command.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			Logger = logger.Logger{
				Verbose: verbose,
				Debug:   debug,
			}
			Logger.Debugf("Initializing %s with verbose=%t, debug=%t", cmd.Name(), verbose, debug)

			loaded, err := configs.LoadConfig(configPath)
			if err != nil {
				return err
			}
			config = loaded
			if config.Offline && !cmd.Flags().Changed("offline") {
				offline = true
			}
			Logger.Debugf("Loaded configuration (offline=%t, keys=%s)", offline, config.KeysDirectory())
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println()
			figure.NewColorFigure("sett", "alligator2", "green", true).Print()
			fmt.Println()
			fmt.Println(ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("sett --help") + " to see available commands.")
		},
	}
)

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	RootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")
	RootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "never contact the keyserver or the portal")
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the configuration file")

	RootCmd.AddCommand(encryptCmd)
	RootCmd.AddCommand(decryptCmd)
	RootCmd.AddCommand(transferCmd)
	RootCmd.AddCommand(keysCmd)
	RootCmd.AddCommand(logCmd)
	RootCmd.AddCommand(configCmd)
}

// ResetGlobalState resets all global variables to their default values for testing.
func ResetGlobalState() {
	verbose = false
	debug = false
	offline = false
	configPath = ""
	config = nil
	resetEncryptCommandState()
	resetDecryptCommandState()
	resetTransferCommandState()
	resetLogCommandState()
	resetFlagState(RootCmd)
}

// resetFlagState clears the Changed marks cobra keeps between executions.
func resetFlagState(c *cobra.Command) {
	reset := func(flag *pflag.Flag) {
		flag.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlagState(sub)
	}
}
