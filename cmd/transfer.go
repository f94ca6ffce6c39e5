package cmd

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
	"github.com/PolarWolf314/sett/internal/transfer"
	"github.com/PolarWolf314/sett/internal/ui"
	"github.com/PolarWolf314/sett/internal/utils"
	"github.com/PolarWolf314/sett/internal/workflows"
)

var (
	transferDestination string
	transferHost        string
	transferUser        string
	transferPort        int
	transferKey         string
	transferLocal       string
)

func init() {
	transferCmd.Flags().StringVar(&transferDestination, "destination", "", "remote directory to upload into")
	transferCmd.Flags().StringVar(&transferHost, "host", "", "SFTP server host")
	transferCmd.Flags().StringVar(&transferUser, "user", "", "SFTP user name")
	transferCmd.Flags().IntVar(&transferPort, "port", 22, "SFTP server port")
	transferCmd.Flags().StringVar(&transferKey, "key", "", "SSH private key used to log in")
	transferCmd.Flags().StringVar(&transferLocal, "local", "", "copy into a local or mounted directory instead of SFTP")
}

func resetTransferCommandState() {
	transferDestination = ""
	transferHost = ""
	transferUser = ""
	transferPort = 22
	transferKey = ""
	transferLocal = ""
}

var transferCmd = &cobra.Command{
	Use:   "transfer <package...>",
	Short: "Upload packages to an SFTP server",
	Long: `Checks the signed metadata of every package and uploads them into a new
timestamped directory on the server. Files are written under a temporary name
and renamed once complete; a done.txt marker is written last.

Examples:
  sett transfer --host sftp.example.org --user alice 20240301T120000.tar
  sett transfer --destination inbox/ --key ~/.ssh/id_ed25519 *.tar
  sett transfer --local /mnt/share 20240301T120000.tar`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting transfer command")

		gw, err := openGateway()
		if err != nil {
			return err
		}

		spinner, reporter, cleanup := startSpinner("Uploading packages...")
		defer cleanup()

		sftpConfig := transfer.SFTPConfig{
			Host:                  firstNonEmpty(transferHost, config.Transfer.Host),
			Port:                  config.Transfer.Port,
			Username:              firstNonEmpty(transferUser, config.Transfer.Username),
			PrivateKeyPath:        firstNonEmpty(transferKey, config.Transfer.PrivateKeyPath),
			KnownHostsPath:        config.Transfer.KnownHostsPath,
			InsecureIgnoreHostKey: config.Transfer.InsecureIgnoreHostKey,
			TwoFactorTimeout:      config.Transfer.TwoFactorTimeout.Duration,
			TwoFactor: func(ctx context.Context) (string, error) {
				if spinner.Active() {
					spinner.Stop()
					defer spinner.Start()
				}
				code, err := utils.ReadPassphrase("Verification code: ")
				return strings.TrimSpace(string(code)), err
			},
		}
		if cmd.Flags().Changed("port") {
			sftpConfig.Port = transferPort
		}
		if sftpConfig.InsecureIgnoreHostKey {
			Logger.WarnfAlways("Host key checking is disabled")
		}

		pass := &passphrase{prompt: "Passphrase for the SSH key: ", spin: spinner}
		defer pass.destroy()

		connect := func(ctx context.Context) (transfer.Transport, error) {
			if transferLocal != "" {
				return transfer.NewLocalTransport(transferLocal), nil
			}
			t, err := transfer.DialSFTP(ctx, sftpConfig)
			if err == nil {
				return t, nil
			}
			if !errors.Is(err, kerrors.ErrPassphraseRequired) {
				return nil, err
			}
			p, err := pass.get()
			if err != nil {
				return nil, err
			}
			sftpConfig.Passphrase = p
			t, err = transfer.DialSFTP(ctx, sftpConfig)
			if err != nil {
				return nil, err
			}
			return t, nil
		}

		result, err := workflows.Transfer(context.Background(), workflows.TransferOptions{
			KeyOptions:  keyOptions(gw),
			Packages:    args,
			Destination: firstNonEmpty(transferDestination, config.Transfer.DestinationDir),
			Connect:     connect,
			Portal:      portalClient(),
			ChunkSize:   config.Transfer.ChunkSize,
			Progress:    reporter,
			Logger:      Logger,
		})
		if err != nil {
			spinner.FinalMSG = ui.Error.Sprint("✗") + " Transfer failed"
			return err
		}

		spinner.FinalMSG = ui.Success.Sprint("✓") + " Uploaded " + ui.FormatSize(result.Bytes) +
			" to " + ui.Path.Sprint(result.Envelope) + ui.FormatPaths(result.Packages)
		return nil
	},
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
