// Package audit keeps a local trail of the packages sett has produced,
// opened and shipped.
//
// # Log Format
//
// The audit log is stored as JSON Lines (one JSON object per line) in the
// sett data directory:
//
//	~/.local/share/sett/audit.jsonl
//
// Each entry contains:
//   - A random id and a timestamp (RFC3339 with microseconds, UTC)
//   - The operation (encrypt, decrypt, transfer, keys-import, keys-refresh)
//   - Operation details: files, output, sender, recipients, transfer id
//     and remote destination
//
// # Failure Handling
//
// Audit logging is best-effort. A package that was written, unpacked or
// uploaded is never reported as failed because its audit entry could not
// be recorded.
//
// # Reading Logs
//
// ReadEntries parses the log for display or analysis. Malformed lines are
// skipped so a partially written entry does not hide the rest.
package audit
