// Package utils provides shared helpers for the sett CLI and workflows.
//
// # Input Expansion
//
//   - ExpandInputs: resolves files, directories and doublestar patterns into
//     readable regular files with archive paths relative to their common root
//   - CommonRoot: deepest directory shared by a set of paths
//   - UniqueDir: creates name, name_1, name_2, ... without overwriting
//
// # Terminal Utilities
//
//   - ReadPassphrase: prompts without echo on stdin or the controlling TTY
//   - ReadPassphraseFromStdin: reads a piped passphrase
//   - IsTerminal / IsTTYAvailable: terminal detection
package utils
