package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/sett/internal/ui"
	"github.com/PolarWolf314/sett/internal/workflows"
)

var (
	decryptOutputDir       string
	decryptOnly            bool
	decryptPassphraseStdin bool
)

func init() {
	decryptCmd.Flags().StringVar(&decryptOutputDir, "output-dir", "", "directory to unpack the package into")
	decryptCmd.Flags().BoolVar(&decryptOnly, "decrypt-only", false, "write the decrypted archive without unpacking it")
	decryptCmd.Flags().BoolVar(&decryptPassphraseStdin, "passphrase-stdin", false, "read the key passphrase from stdin")
}

func resetDecryptCommandState() {
	decryptOutputDir = ""
	decryptOnly = false
	decryptPassphraseStdin = false
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <package>",
	Short: "Verify and unpack a package",
	Long: `Verifies the signature and checksum of a package, decrypts it with one of
your private keys and unpacks it into a new directory named after the package.

Nothing in the package is trusted before its metadata signature has been
verified, and every unpacked file is checked against the signed manifest.

Examples:
  sett decrypt 20240301T120000.tar
  sett decrypt --output-dir received/ 42_20240301T120000.tar
  sett decrypt --decrypt-only 20240301T120000.tar`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting decrypt command")

		gw, err := openGateway()
		if err != nil {
			return err
		}

		opts := workflows.DecryptOptions{
			KeyOptions:  keyOptions(gw),
			Package:     args[0],
			OutputDir:   decryptOutputDir,
			DecryptOnly: decryptOnly,
			Logger:      Logger,
		}
		if opts.OutputDir == "" {
			opts.OutputDir = config.Decrypt.OutputDir
		}

		spinner, reporter, cleanup := startSpinner("Decrypting package...")
		defer cleanup()

		pass := &passphrase{prompt: "Passphrase for your private key: ", stdin: decryptPassphraseStdin, spin: spinner}
		defer pass.destroy()
		opts.Passphrase = pass.provider()
		opts.Progress = reporter

		result, err := workflows.Decrypt(context.Background(), opts)
		if err != nil {
			spinner.FinalMSG = ui.Error.Sprint("✗") + " Decryption failed"
			return err
		}

		if result.DecryptOnly {
			spinner.FinalMSG = ui.Success.Sprint("✓") + " Package decrypted to " + ui.Path.Sprint(result.Output) + "\n" +
				ui.Info.Sprint("→") + " Signed by " + ui.Fingerprint.Sprint(ui.GroupFingerprint(result.Sender))
			return nil
		}

		spinner.FinalMSG = ui.Success.Sprint("✓") + " Package verified and unpacked to " + ui.Path.Sprint(result.Output) + "\n" +
			"The following files were restored: " + ui.FormatPaths(result.Files) +
			ui.Info.Sprint("→") + " Signed by " + ui.Fingerprint.Sprint(ui.GroupFingerprint(result.Sender))
		return nil
	},
}
