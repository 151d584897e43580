package internal

import (
	"fmt"
	"runtime"

	"github.com/sipeed/mp3relay/pkg/config"
)

const Logo = "🎵"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

// ConfigPathOverride is set by the --config flag.
var ConfigPathOverride string

// GetConfigPath returns --config when given, else the resolved default.
func GetConfigPath() string {
	if ConfigPathOverride != "" {
		return ConfigPathOverride
	}
	return config.ResolveRuntimePaths().ConfigPath
}

func LoadConfig() (*config.Config, error) {
	return config.LoadConfig(GetConfigPath())
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}
