package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/sett/internal/audit"
	kerrors "github.com/PolarWolf314/sett/internal/errors"
	"github.com/PolarWolf314/sett/internal/secrets"
	"github.com/PolarWolf314/sett/internal/ui"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the local OpenPGP key store",
	Long: `Lists, imports and refreshes the OpenPGP keys used to encrypt, sign and
verify packages. Keys are stored as armored files in the keys directory.`,
}

func init() {
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysImportCmd)
	keysCmd.AddCommand(keysRefreshCmd)
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keys in the local key store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := openGateway()
		if err != nil {
			return err
		}

		records := gw.Store.Records()
		if len(records) == 0 {
			fmt.Println(ui.Warning.Sprint("⚠") + " No keys found in " + ui.Path.Sprint(config.KeysDirectory()))
			fmt.Println(ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("sett keys import <file>") + " to add one")
			return nil
		}

		for _, r := range records {
			var flags []string
			if r.HasPrivate {
				flags = append(flags, "private")
			}
			if r.Expired {
				flags = append(flags, ui.Error.Sprint("expired"))
			}
			if r.Revoked {
				flags = append(flags, ui.Error.Sprint("revoked"))
			}
			if config.Keys.AuthorityFingerprint != "" && certifiedBy(r, config.Keys.AuthorityFingerprint) {
				flags = append(flags, ui.Success.Sprint("certified"))
			}

			fmt.Println(ui.Fingerprint.Sprint(ui.GroupFingerprint(r.Fingerprint)))
			for _, uid := range r.UserIDs {
				fmt.Println("    " + uid)
			}
			if len(flags) > 0 {
				fmt.Println("    " + ui.Muted.Sprint(strings.Join(flags, ", ")))
			}
			if !r.RefreshedAt.IsZero() {
				fmt.Println("    refreshed " + r.RefreshedAt.Local().Format(time.DateTime))
			}
		}
		return nil
	},
}

func certifiedBy(r secrets.KeyRecord, authority string) bool {
	authority, err := secrets.NormalizeFingerprint(authority)
	if err != nil {
		return false
	}
	for _, fpr := range r.SignaturesBy {
		if fpr == authority || strings.HasSuffix(authority, fpr) {
			return true
		}
	}
	return false
}

var keysImportCmd = &cobra.Command{
	Use:   "import <file...>",
	Short: "Import armored or binary OpenPGP keys",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := openGateway()
		if err != nil {
			return err
		}

		var imported []string
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("%w: %s", kerrors.ErrFileNotFound, path)
			}
			fpr, err := gw.Store.Import(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if err := gw.Store.Save(fpr); err != nil {
				return Logger.ErrorfAndReturn("failed to save key %s: %v", fpr, err)
			}
			Logger.Infof("Imported %s from %s", fpr, path)
			imported = append(imported, fpr)
		}

		audit.Log(audit.Entry{Operation: audit.OpImport, Keys: imported})

		fmt.Println(ui.Success.Sprint("✓") + fmt.Sprintf(" Imported %d key(s)", len(imported)))
		for _, fpr := range imported {
			fmt.Println("    - " + ui.Fingerprint.Sprint(ui.GroupFingerprint(fpr)))
		}
		return nil
	},
}

var keysRefreshCmd = &cobra.Command{
	Use:   "refresh [fingerprint...]",
	Short: "Fetch fresh copies of keys from the keyserver",
	Long: `Downloads the current version of each key from the configured keyserver,
picking up new certifications, revocations and expiry changes. Without
arguments every key in the store is refreshed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if offline {
			return fmt.Errorf("%w: cannot refresh keys while offline", kerrors.ErrValidation)
		}
		if config.Keys.KeyserverURL == "" {
			return fmt.Errorf("%w: no keyserver_url configured", kerrors.ErrValidation)
		}

		gw, err := openGateway()
		if err != nil {
			return err
		}
		ks := secrets.NewKeyserver(config.Keys.KeyserverURL, config.Keys.Timeout.Duration)

		fprs := args
		if len(fprs) == 0 {
			for _, r := range gw.Store.Records() {
				fprs = append(fprs, r.Fingerprint)
			}
		}

		spinner, reporter, cleanup := startSpinner("Refreshing keys...")
		defer cleanup()

		var refreshed []string
		var failures []string
		for i, fpr := range fprs {
			record, err := gw.Refresh(context.Background(), ks, fpr)
			reporter.Update(float64(i+1) / float64(len(fprs)))
			if err != nil {
				Logger.Warnf("Could not refresh %s: %v", fpr, err)
				failures = append(failures, fpr)
				continue
			}
			refreshed = append(refreshed, record.Fingerprint)
		}

		audit.Log(audit.Entry{Operation: audit.OpRefresh, Keys: refreshed})

		message := ui.Success.Sprint("✓") + fmt.Sprintf(" Refreshed %d key(s)", len(refreshed))
		if len(failures) > 0 {
			message += "\n" + ui.Warning.Sprint("⚠") + " Could not refresh:" + ui.FormatPaths(failures)
		}
		spinner.FinalMSG = message

		if len(refreshed) == 0 && len(failures) > 0 {
			return fmt.Errorf("%w: no key could be refreshed", kerrors.ErrKeyResolution)
		}
		return nil
	},
}
