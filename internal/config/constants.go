package config

// Lua schema field names and globals
const (
	luaGlobalStealthdriver = "stealthdriver"
	luaFieldCacheRoot      = "cache_root"
	luaFieldVersion        = "version"
	luaFieldVersionSource  = "version_source"
	luaFieldCaching        = "caching"
	luaFieldShared         = "shared"
	luaFieldForce          = "force"
	luaFieldRequirePatched = "require_patched"
	luaFieldInstallBrowser = "install_browser"
	luaFieldLockTimeout    = "lock_timeout"
	luaFieldReleaseTimeout = "release_timeout"
	luaFieldFetchRetries   = "fetch_retries"
	luaFieldLogLevel       = "log_level"
	luaFieldBrowser        = "browser"
	luaFieldCommands       = "commands"
	luaFieldInstall        = "install"
	luaFieldEndpoints      = "endpoints"
	luaFieldFeed           = "feed"
	luaFieldLegacy         = "legacy"
	luaFieldDownloads      = "downloads"
)

// Limits applied to user configuration.
const (
	// MaxConfigSize is the largest config file ParseFile accepts.
	MaxConfigSize = 1 << 20
	// MaxBrowserCommands bounds browser.commands.
	MaxBrowserCommands = 32
	// MaxFetchRetries bounds fetch_retries.
	MaxFetchRetries = 10
	// MaxTimeoutSeconds bounds lock_timeout and release_timeout.
	MaxTimeoutSeconds = 3600
	// DefaultParseTimeout applies when the caller's context has no deadline.
	DefaultParseTimeout = 5 // seconds
)

// Environment variables read by ApplyEnv and ResolvePath.
const (
	EnvCacheDir = "STEALTHDRIVER_CACHE_DIR"
	EnvConfig   = "STEALTHDRIVER_CONFIG"
	EnvShared   = "STEALTHDRIVER_SHARED"
)

// FileName is the configuration file name inside the config directory.
const FileName = "stealthdriver.lua"

// Log levels accepted by log_level.
const (
	LogDebug = "debug"
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
)
