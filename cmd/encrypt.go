package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/sett/internal/ui"
	"github.com/PolarWolf314/sett/internal/workflows"
)

var (
	encryptRecipients      []string
	encryptSender          string
	encryptOutput          string
	encryptOutputDir       string
	encryptLevel           int
	encryptAlgorithm       string
	encryptTransferID      string
	encryptPurpose         string
	encryptDryRun          bool
	encryptTrustOverride   bool
	encryptPassphraseStdin bool
)

func init() {
	encryptCmd.Flags().StringArrayVarP(&encryptRecipients, "recipient", "r", nil, "fingerprint of a recipient (repeatable)")
	encryptCmd.Flags().StringVarP(&encryptSender, "sender", "s", "", "fingerprint of the signing key")
	encryptCmd.Flags().StringVarP(&encryptOutput, "output", "o", "", "path of the package to write")
	encryptCmd.Flags().StringVar(&encryptOutputDir, "output-dir", "", "directory for the generated package name")
	encryptCmd.Flags().IntVar(&encryptLevel, "compression-level", 5, "compression level, 0 (none) to 9")
	encryptCmd.Flags().StringVar(&encryptAlgorithm, "compression-algorithm", "gzip", "compression algorithm (gzip, zstd)")
	encryptCmd.Flags().StringVar(&encryptTransferID, "transfer-id", "", "data transfer id registered with the portal")
	encryptCmd.Flags().StringVar(&encryptPurpose, "purpose", "", "purpose of the transfer (PRODUCTION, TEST)")
	encryptCmd.Flags().BoolVar(&encryptDryRun, "dry-run", false, "check inputs and keys without writing the package")
	encryptCmd.Flags().BoolVar(&encryptTrustOverride, "trust-override", false, "skip the authority check on recipient keys")
	encryptCmd.Flags().BoolVar(&encryptPassphraseStdin, "passphrase-stdin", false, "read the key passphrase from stdin")
}

func resetEncryptCommandState() {
	encryptRecipients = nil
	encryptSender = ""
	encryptOutput = ""
	encryptOutputDir = ""
	encryptLevel = 5
	encryptAlgorithm = "gzip"
	encryptTransferID = ""
	encryptPurpose = ""
	encryptDryRun = false
	encryptTrustOverride = false
	encryptPassphraseStdin = false
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt [files...]",
	Short: "Package files for one or more recipients",
	Long: `Checksums, compresses, encrypts and signs files into a single package.

Files can be paths, directories or glob patterns such as "data/**/*.csv".
Every recipient must be in the local key store, and the sender's private key
is needed to sign the package.

Examples:
  sett encrypt -s <FPR> -r <FPR> results/
  sett encrypt -s <FPR> -r <FPR> -r <FPR> --compression-level 9 "*.csv"
  sett encrypt -s <FPR> -r <FPR> --transfer-id 42 --purpose PRODUCTION data/
  sett encrypt -s <FPR> -r <FPR> --dry-run data/`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting encrypt command")

		gw, err := openGateway()
		if err != nil {
			return err
		}

		opts := workflows.EncryptOptions{
			KeyOptions:           keyOptions(gw),
			Files:                args,
			Recipients:           encryptRecipients,
			Sender:               encryptSender,
			CompressionLevel:     encryptLevel,
			CompressionAlgorithm: encryptAlgorithm,
			TransferID:           encryptTransferID,
			Purpose:              encryptPurpose,
			OutputPath:           encryptOutput,
			OutputDir:            encryptOutputDir,
			TrustOverride:        encryptTrustOverride,
			DryRun:               encryptDryRun,
			Portal:               portalClient(),
			Logger:               Logger,
		}
		if opts.Sender == "" {
			opts.Sender = config.Encrypt.DefaultSender
		}
		if opts.OutputDir == "" {
			opts.OutputDir = config.Encrypt.OutputDir
		}
		if !cmd.Flags().Changed("compression-level") {
			opts.CompressionLevel = config.Encrypt.CompressionLevel
		}
		if !cmd.Flags().Changed("compression-algorithm") && config.Encrypt.CompressionAlgorithm != "" {
			opts.CompressionAlgorithm = config.Encrypt.CompressionAlgorithm
		}
		Logger.Debugf("Encrypting %v for %v (level %d, %s)", opts.Files, opts.Recipients, opts.CompressionLevel, opts.CompressionAlgorithm)

		spinner, reporter, cleanup := startSpinner("Encrypting files...")
		defer cleanup()

		pass := &passphrase{prompt: "Passphrase for the sender key: ", stdin: encryptPassphraseStdin, spin: spinner}
		defer pass.destroy()
		opts.Passphrase = pass.provider()
		opts.Progress = reporter

		result, err := workflows.Encrypt(context.Background(), opts)
		if err != nil {
			spinner.FinalMSG = ui.Error.Sprint("✗") + " Encryption failed"
			return err
		}

		if result.DryRun {
			spinner.FinalMSG = ui.Success.Sprint("✓") + " Dry run passed, nothing was written\n" +
				"The following files would be packaged: " + ui.FormatPaths(result.Files) +
				ui.Info.Sprint("→") + " Package: " + ui.Path.Sprint(result.OutputPath)
			return nil
		}

		message := ui.Success.Sprint("✓") + " Package created: " + ui.Path.Sprint(result.OutputPath) + "\n" +
			"The following files were packaged: " + ui.FormatPaths(result.Files) +
			ui.Info.Sprint("→") + " Signed by " + ui.Fingerprint.Sprint(ui.GroupFingerprint(result.Sender))
		if result.ProjectCode != "" {
			message += "\n" + ui.Info.Sprint("→") + " Accepted for project " + ui.Highlight.Sprint(result.ProjectCode)
		}
		spinner.FinalMSG = message
		return nil
	},
}
