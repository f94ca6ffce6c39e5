package configs

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
)

// Config is the user configuration stored at <config dir>/sett/config.toml.
type Config struct {
	Offline  bool           `toml:"offline"`
	Keys     KeysConfig     `toml:"keys"`
	Encrypt  EncryptConfig  `toml:"encrypt"`
	Decrypt  DecryptConfig  `toml:"decrypt"`
	Portal   PortalConfig   `toml:"portal"`
	Transfer TransferConfig `toml:"transfer"`
}

type KeysConfig struct {
	Directory            string   `toml:"directory"`
	AuthorityFingerprint string   `toml:"authority_fingerprint"`
	KeyserverURL         string   `toml:"keyserver_url"`
	RefreshKeys          bool     `toml:"refresh_keys"`
	MaxAge               Duration `toml:"max_age"`
	Timeout              Duration `toml:"timeout"`
}

type EncryptConfig struct {
	OutputDir            string `toml:"output_dir"`
	CompressionLevel     int    `toml:"compression_level"`
	CompressionAlgorithm string `toml:"compression_algorithm"`
	DefaultSender        string `toml:"default_sender"`
}

type DecryptConfig struct {
	OutputDir string `toml:"output_dir"`
}

type PortalConfig struct {
	URL     string   `toml:"url"`
	Timeout Duration `toml:"timeout"`
}

type TransferConfig struct {
	Host                  string   `toml:"host"`
	Port                  int      `toml:"port"`
	Username              string   `toml:"username"`
	DestinationDir        string   `toml:"destination_dir"`
	PrivateKeyPath        string   `toml:"private_key_path"`
	KnownHostsPath        string   `toml:"known_hosts_path"`
	InsecureIgnoreHostKey bool     `toml:"insecure_ignore_host_key"`
	ChunkSize             int      `toml:"chunk_size"`
	TwoFactorTimeout      Duration `toml:"two_factor_timeout"`
}

// Duration is a time.Duration stored as a Go duration string ("120s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Keys: KeysConfig{
			Directory: SettSettings.KeysPath,
			MaxAge:    Duration{24 * time.Hour},
			Timeout:   Duration{10 * time.Second},
		},
		Encrypt: EncryptConfig{
			CompressionLevel:     5,
			CompressionAlgorithm: "gzip",
		},
		Portal: PortalConfig{
			Timeout: Duration{10 * time.Second},
		},
		Transfer: TransferConfig{
			Port:             22,
			ChunkSize:        1 << 20,
			TwoFactorTimeout: Duration{120 * time.Second},
		},
	}
}

// ConfigPath returns the config file location, honouring SETT_CONFIG.
func ConfigPath() string {
	if p := os.Getenv("SETT_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(SettSettings.ConfigPath, "config.toml")
}

// LoadConfig loads the configuration from path, or from ConfigPath() when
// path is empty. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	config := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	if err := LoadTOML(path, config); err != nil {
		return nil, fmt.Errorf("%w: failed to load config %s: %w", kerrors.ErrValidation, path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// SaveConfig writes the configuration to path, or to ConfigPath() when empty.
func SaveConfig(path string, config *Config) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := SaveTOML(path, config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// Validate checks value ranges that cannot be expressed in TOML.
func (c *Config) Validate() error {
	if c.Encrypt.CompressionLevel < 0 || c.Encrypt.CompressionLevel > 9 {
		return fmt.Errorf("%w: compression_level must be between 0 and 9, got %d",
			kerrors.ErrValidation, c.Encrypt.CompressionLevel)
	}
	switch c.Encrypt.CompressionAlgorithm {
	case "", "gzip", "zstd":
	default:
		return fmt.Errorf("%w: unknown compression_algorithm %q", kerrors.ErrValidation, c.Encrypt.CompressionAlgorithm)
	}
	if c.Transfer.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive", kerrors.ErrValidation)
	}
	if c.Transfer.Port <= 0 || c.Transfer.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", kerrors.ErrValidation, c.Transfer.Port)
	}
	return nil
}

// KeysDirectory returns the configured key directory or the default one.
func (c *Config) KeysDirectory() string {
	if c.Keys.Directory != "" {
		return c.Keys.Directory
	}
	return SettSettings.KeysPath
}
