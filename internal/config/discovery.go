package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfig names the environment variable that points at the config file or directory.
const EnvConfig = "TGRELAY_CONFIG"

// DiscoverConfig finds the configuration by checking standard locations.
// Priority order: $TGRELAY_CONFIG, ~/.config/tgrelay, /etc/tgrelay, ./config.yaml.
// An explicit --config flag bypasses discovery entirely.
func DiscoverConfig() (string, error) {
	return discoverConfig(os.Getenv(EnvConfig), userConfigDir(), "/etc/tgrelay", "./config.yaml")
}

func discoverConfig(candidates ...string) (string, error) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if exists(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/tgrelay, /etc/tgrelay, ./config.yaml)", EnvConfig)
}

func userConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tgrelay")
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
