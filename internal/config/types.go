package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/driver"
)

// Config is the user configuration for provisioning.
// It mirrors the global stealthdriver table of stealthdriver.lua.
type Config struct {
	// Root directory for the base binary, instances and locks (supports ~)
	CacheRoot string `yaml:"cache_root"`

	// Requested version: "" resolves it, "120" pins a milestone
	Version string `yaml:"version,omitempty"`

	// Where an unrequested version comes from: auto, browser or feed
	VersionSource string `yaml:"version_source"`

	// cached or uncached
	Caching string `yaml:"caching"`

	Shared         bool `yaml:"shared"`
	Force          bool `yaml:"force"`
	RequirePatched bool `yaml:"require_patched"`
	InstallBrowser bool `yaml:"install_browser"`

	LockTimeout    time.Duration `yaml:"lock_timeout"`
	ReleaseTimeout time.Duration `yaml:"release_timeout"`
	FetchRetries   int           `yaml:"fetch_retries"`

	LogLevel string `yaml:"log_level"`

	Browser   BrowserConfig   `yaml:"browser"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
}

// BrowserConfig describes how the installed browser is found and installed.
type BrowserConfig struct {
	// Executables probed with --version, first answer wins
	Commands []string `yaml:"commands,omitempty"`

	// Install argv; "{version}" is replaced by the wanted version
	Install []string `yaml:"install,omitempty"`
}

// EndpointsConfig overrides the remote release endpoints.
type EndpointsConfig struct {
	Feed      string `yaml:"feed,omitempty"`
	Legacy    string `yaml:"legacy,omitempty"`
	Downloads string `yaml:"downloads,omitempty"`
}

// DriverEndpoints converts the endpoint overrides; empty fields fall back to
// the public endpoints.
func (e EndpointsConfig) DriverEndpoints() driver.Endpoints {
	return driver.Endpoints{Feed: e.Feed, Legacy: e.Legacy, Downloads: e.Downloads}
}

// Validate performs basic validation on a Config.
func (c *Config) Validate() error {
	if c.CacheRoot == "" {
		return &ValidationError{Field: luaFieldCacheRoot, Message: "cannot be empty"}
	}

	if c.Version != "" {
		if _, err := driver.ParseRequestedVersion(c.Version); err != nil {
			return &ValidationError{Field: luaFieldVersion, Message: err.Error()}
		}
	}

	switch driver.SourceMode(c.VersionSource) {
	case "", driver.SourceAuto, driver.SourceBrowser, driver.SourceFeed:
	default:
		return &ValidationError{
			Field:   luaFieldVersionSource,
			Message: fmt.Sprintf("unknown source %q (expected auto, browser or feed)", c.VersionSource),
		}
	}

	switch driver.CachingMode(c.Caching) {
	case "", driver.CachingCached, driver.CachingUncached:
	default:
		return &ValidationError{
			Field:   luaFieldCaching,
			Message: fmt.Sprintf("unknown caching mode %q (expected cached or uncached)", c.Caching),
		}
	}

	if err := validateTimeout(luaFieldLockTimeout, c.LockTimeout); err != nil {
		return err
	}
	if err := validateTimeout(luaFieldReleaseTimeout, c.ReleaseTimeout); err != nil {
		return err
	}

	if c.FetchRetries < 0 || c.FetchRetries > MaxFetchRetries {
		return &ValidationError{
			Field:   luaFieldFetchRetries,
			Message: fmt.Sprintf("must be between 0 and %d (got %d)", MaxFetchRetries, c.FetchRetries),
		}
	}

	switch c.LogLevel {
	case "", LogDebug, LogInfo, LogWarn, LogError:
	default:
		return &ValidationError{Field: luaFieldLogLevel, Message: fmt.Sprintf("unknown level %q", c.LogLevel)}
	}

	if len(c.Browser.Commands) > MaxBrowserCommands {
		return &ValidationError{
			Field:   "browser.commands",
			Message: fmt.Sprintf("too many commands (%d), maximum is %d", len(c.Browser.Commands), MaxBrowserCommands),
		}
	}
	for i, cmd := range c.Browser.Commands {
		if strings.TrimSpace(cmd) == "" {
			return &ValidationError{Field: fmt.Sprintf("browser.commands[%d]", i), Message: "command cannot be empty"}
		}
	}
	if len(c.Browser.Install) > 0 && strings.TrimSpace(c.Browser.Install[0]) == "" {
		return &ValidationError{Field: "browser.install[0]", Message: "program cannot be empty"}
	}
	if c.InstallBrowser && len(c.Browser.Install) == 0 {
		return &ValidationError{Field: luaFieldInstallBrowser, Message: "requires browser.install"}
	}

	endpoints := []struct{ field, value string }{
		{"endpoints.feed", c.Endpoints.Feed},
		{"endpoints.legacy", c.Endpoints.Legacy},
		{"endpoints.downloads", c.Endpoints.Downloads},
	}
	for _, ep := range endpoints {
		if ep.value == "" {
			continue
		}
		if err := validateEndpoint(ep.value); err != nil {
			return &ValidationError{Field: ep.field, Message: err.Error()}
		}
	}

	return nil
}

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "config validation failed for " + e.Field + ": " + e.Message
	}
	return "config validation failed: " + e.Message
}

func validateTimeout(field string, d time.Duration) error {
	if d < 0 {
		return &ValidationError{Field: field, Message: "cannot be negative"}
	}
	if d > MaxTimeoutSeconds*time.Second {
		return &ValidationError{Field: field, Message: fmt.Sprintf("too long (%s, max %ds)", d, MaxTimeoutSeconds)}
	}
	return nil
}

// validateEndpoint validates an endpoint base URL.
func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL must use https:// or http:// scheme (got: %s)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host: %s", raw)
	}
	return nil
}
