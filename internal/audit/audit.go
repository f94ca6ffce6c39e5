package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/PolarWolf314/sett/internal/configs"
)

// Operation names recorded in the log.
const (
	OpEncrypt  = "encrypt"
	OpDecrypt  = "decrypt"
	OpTransfer = "transfer"
	OpImport   = "keys-import"
	OpRefresh  = "keys-refresh"
)

// Entry represents a single audit log entry.
type Entry struct {
	ID        string `json:"id"` // Random UUID.
	Timestamp string `json:"ts"` // RFC3339 with microseconds.
	Operation string `json:"op"`

	// Optional fields depending on operation.
	Files       []string `json:"files,omitempty"`       // Inputs or unpacked files.
	Output      string   `json:"output,omitempty"`      // Package or output directory.
	Sender      string   `json:"sender,omitempty"`      // Sender fingerprint.
	Recipients  []string `json:"recipients,omitempty"`  // Recipient fingerprints.
	TransferID  string   `json:"transfer_id,omitempty"` // For packages registered with the portal.
	Destination string   `json:"destination,omitempty"` // Remote envelope for transfers.
	Keys        []string `json:"keys,omitempty"`        // For keys-import/refresh.
}

// Log appends an entry to the audit log.
// Operations should not fail just because audit logging failed, so
// errors are swallowed.
func Log(entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
	}

	logPath := LogPath()
	if logPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	_, _ = f.Write(append(data, '\n'))
}

// LogPath returns the path to the audit log file, or "" when no data
// directory is configured.
func LogPath() string {
	if configs.SettSettings == nil {
		return ""
	}
	return configs.SettSettings.AuditPath
}

// ReadEntries reads all entries from the audit log.
// Returns an empty slice if the log doesn't exist.
func ReadEntries() ([]Entry, error) {
	logPath := LogPath()
	if logPath == "" {
		return nil, nil
	}

	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return ParseEntries(data)
}

// ParseEntries parses JSON Lines data into audit entries.
// Malformed lines are silently skipped.
func ParseEntries(data []byte) ([]Entry, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var entries []Entry
	start := 0

	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			line := data[start:i]
			start = i + 1

			if len(line) == 0 {
				continue
			}

			var entry Entry
			if err := json.Unmarshal(line, &entry); err != nil {
				continue
			}
			entries = append(entries, entry)
		}
	}

	return entries, nil
}
