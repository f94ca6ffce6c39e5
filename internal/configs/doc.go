// Package configs manages sett's user configuration and resolved paths.
//
// Configuration is stored in TOML at <user config dir>/sett/config.toml (or
// the file named by SETT_CONFIG). A missing file is not an error; the
// defaults from DefaultConfig apply.
//
// # Sections
//
//   - keys: key directory, authority fingerprint, keyserver and refresh policy
//   - encrypt: default output directory, compression level and algorithm
//   - decrypt: default output directory
//   - portal: URL of the data transfer portal used to check transfer ids
//   - transfer: SFTP host, credentials, destination and chunk size
//
// The top-level offline flag disables every network call made while
// resolving keys and checking transfer ids.
//
// # Settings
//
// SettSettings is populated at startup with the config directory and the
// data directory (XDG_DATA_HOME or ~/.local/share), which holds the key
// store and the audit log.
package configs
