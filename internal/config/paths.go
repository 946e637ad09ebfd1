package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/scanwedge/
//   - Linux:   $XDG_DATA_HOME/scanwedge/ (~/.local/share/scanwedge/)
//   - Windows: %APPDATA%\scanwedge\
//
// Falls back to ~/.scanwedge.
func PlatformDataDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "scanwedge")
	case "linux":
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "scanwedge")
		}
		return filepath.Join(home, ".local", "share", "scanwedge")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "scanwedge")
		}
	}
	return filepath.Join(home, ".scanwedge")
}

// PlatformConfigDir returns the platform-specific config directory.
func PlatformConfigDir() string {
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "scanwedge")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "scanwedge")
	}
	return PlatformDataDir()
}

// SupportedConfigFormats returns the config file extensions Load understands.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile looks for config.<ext> in the working directory and then
// the config directory. It returns "" when nothing is found.
func FindConfigFile() string {
	for _, dir := range []string{".", PlatformConfigDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
