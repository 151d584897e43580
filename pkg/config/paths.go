package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	EnvMP3RelayConfig = "MP3RELAY_CONFIG"
	EnvMP3RelayHome   = "MP3RELAY_HOME"
)

type RuntimePaths struct {
	HomeDir    string
	ConfigPath string
}

// ResolveRuntimePaths picks the config location: MP3RELAY_CONFIG wins,
// then MP3RELAY_HOME/config.json, then ~/.mp3relay/config.json.
func ResolveRuntimePaths() RuntimePaths {
	if configPath := expandHome(strings.TrimSpace(os.Getenv(EnvMP3RelayConfig))); configPath != "" {
		return RuntimePaths{HomeDir: filepath.Dir(configPath), ConfigPath: configPath}
	}

	homeDir := expandHome(strings.TrimSpace(os.Getenv(EnvMP3RelayHome)))
	if homeDir == "" {
		homeDir = defaultHome()
	}

	return RuntimePaths{HomeDir: homeDir, ConfigPath: filepath.Join(homeDir, "config.json")}
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".mp3relay"
	}
	return filepath.Join(home, ".mp3relay")
}
