package configs

import (
	"log"
	"os"
	"path/filepath"
)

type Settings struct {
	ConfigPath string
	DataPath   string
	KeysPath   string
	AuditPath  string
}

var SettSettings *Settings

func init() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("error getting home directory: %s", err)
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatalf("error getting config directory: %s", err)
	}

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	SettSettings = NewSettings(filepath.Join(configDir, "sett"), filepath.Join(dataDir, "sett"))
}

// NewSettings derives every path from a config and a data directory.
func NewSettings(configPath, dataPath string) *Settings {
	return &Settings{
		ConfigPath: configPath,
		DataPath:   dataPath,
		KeysPath:   filepath.Join(dataPath, "keys"),
		AuditPath:  filepath.Join(dataPath, "audit.jsonl"),
	}
}
