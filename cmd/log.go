package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/sett/internal/audit"
	kerrors "github.com/PolarWolf314/sett/internal/errors"
	"github.com/PolarWolf314/sett/internal/ui"
)

var (
	logLimit     int
	logReverse   bool
	logOperation string
	logSince     string
	logJSON      bool
)

func init() {
	logCmd.Flags().IntVarP(&logLimit, "number", "n", 0, "limit number of entries shown")
	logCmd.Flags().BoolVar(&logReverse, "reverse", false, "show most recent entries first")
	logCmd.Flags().StringVar(&logOperation, "operation", "", "filter by operation type (comma-separated)")
	logCmd.Flags().StringVar(&logSince, "since", "", "show entries after date (YYYY-MM-DD)")
	logCmd.Flags().BoolVar(&logJSON, "json", false, "output as JSON array")
}

func resetLogCommandState() {
	logLimit = 0
	logReverse = false
	logOperation = ""
	logSince = ""
	logJSON = false
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the audit log",
	Long: `Displays the local audit log of encrypt, decrypt, transfer and key operations.

Examples:
  sett log                             # View full log
  sett log -n 10                       # Last 10 entries
  sett log --reverse                   # Most recent first
  sett log --operation encrypt,decrypt # Filter by operation
  sett log --since 2024-01-01          # Filter by date
  sett log --json                      # JSON output`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Reading audit log from %s", audit.LogPath())

		entries, err := audit.ReadEntries()
		if err != nil {
			return Logger.ErrorfAndReturn("Failed to read audit log: %v", err)
		}

		entries, err = filterEntries(entries, logOperation, logSince)
		if err != nil {
			return err
		}
		if logReverse {
			for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
		if logLimit > 0 && len(entries) > logLimit {
			if logReverse {
				entries = entries[:logLimit]
			} else {
				entries = entries[len(entries)-logLimit:]
			}
		}

		if len(entries) == 0 {
			fmt.Println(ui.Info.Sprint("ℹ") + " No audit log entries found. Operations are logged once you encrypt, decrypt or transfer a package.")
			return nil
		}

		if logJSON {
			data, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal entries to JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%-19s  %-12s  %s\n", formatTimestamp(e.Timestamp), e.Operation, describeEntry(e))
		}
		return nil
	},
}

func filterEntries(entries []audit.Entry, operations, since string) ([]audit.Entry, error) {
	var ops map[string]bool
	if operations != "" {
		ops = make(map[string]bool)
		for _, op := range strings.Split(operations, ",") {
			ops[strings.TrimSpace(op)] = true
		}
	}

	var after time.Time
	if since != "" {
		t, err := time.Parse(time.DateOnly, since)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid --since date %q, expected YYYY-MM-DD", kerrors.ErrValidation, since)
		}
		after = t
	}

	filtered := entries[:0]
	for _, e := range entries {
		if ops != nil && !ops[e.Operation] {
			continue
		}
		if !after.IsZero() {
			ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
			if err != nil || ts.Before(after) {
				continue
			}
		}
		filtered = append(filtered, e)
	}
	return filtered, nil
}

func formatTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format(time.DateTime)
}

func describeEntry(e audit.Entry) string {
	switch e.Operation {
	case audit.OpEncrypt:
		return fmt.Sprintf("%s (%d files, %d recipients)", e.Output, len(e.Files), len(e.Recipients))
	case audit.OpDecrypt:
		return fmt.Sprintf("%s (from %s)", e.Output, e.Sender)
	case audit.OpTransfer:
		return fmt.Sprintf("%s -> %s", strings.Join(e.Files, ", "), e.Destination)
	default:
		return strings.Join(e.Keys, ", ")
	}
}
