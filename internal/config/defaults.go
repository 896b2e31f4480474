package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/browser"
	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/driver"
	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/lock"
	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/platform"
)

const appDirName = "stealthdriver"

// Default returns the configuration used when no file exists.
func Default(info *platform.Info) *Config {
	goos, lambda := "", false
	if info != nil {
		goos, lambda = info.OS, info.Lambda
	}
	home, _ := os.UserHomeDir()

	return &Config{
		CacheRoot:      DefaultCacheRoot(goos, home, lambda),
		VersionSource:  string(driver.SourceAuto),
		Caching:        string(driver.CachingCached),
		RequirePatched: true,
		LockTimeout:    lock.DefaultTimeout,
		ReleaseTimeout: driver.DefaultReleaseTimeout,
		LogLevel:       LogInfo,
		Browser:        BrowserConfig{Commands: DefaultBrowserCommands(goos)},
	}
}

// DefaultCacheRoot returns the per-user data directory for goos. AWS Lambda
// only allows writes under /tmp.
func DefaultCacheRoot(goos, home string, lambda bool) string {
	if lambda {
		return filepath.Join("/tmp", appDirName)
	}
	switch goos {
	case "windows":
		return filepath.Join(home, "appdata", "roaming", appDirName)
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appDirName)
	default:
		return filepath.Join(home, ".local", "share", appDirName)
	}
}

// DefaultBrowserCommands lists the browser executables probed on goos.
func DefaultBrowserCommands(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome", "/Applications/Chromium.app/Contents/MacOS/Chromium"}
	case "windows":
		return []string{"chrome.exe", `C:\Program Files\Google\Chrome\Application\chrome.exe`}
	default:
		return append([]string(nil), browser.DefaultCommands...)
	}
}

// ResolvePath picks the config file: the explicit flag, then
// STEALTHDRIVER_CONFIG, then stealthdriver.lua in the user config directory.
func ResolvePath(flag string) (string, error) {
	if flag != "" {
		return ExpandHome(flag)
	}
	if env := os.Getenv(EnvConfig); env != "" {
		return ExpandHome(env)
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(dir, appDirName, FileName), nil
}

// ApplyEnv overrides cfg from the environment.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if dir := getenv(EnvCacheDir); dir != "" {
		cfg.CacheRoot = dir
	}
	if raw := getenv(EnvShared); raw != "" {
		shared, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvShared, err)
		}
		cfg.Shared = shared
	}
	return nil
}

// ExpandHome expands a leading ~/ to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
