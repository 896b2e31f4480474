package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/platform"
	lua "github.com/yuin/gopher-lua"
)

// Parser represents a Lua config parser with platform detection.
type Parser struct {
	detector platform.Detector
	logger   Logger
}

// NewParser creates a new config parser with the given platform detector.
// A nil detector skips the platform table and per-OS defaults.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector, logger: defaultLogger()}
}

// WithLogger sets the logger used for parse diagnostics.
func (p *Parser) WithLogger(logger Logger) *Parser {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// ParseString parses a Lua config from a string. Fields the file leaves out
// keep their defaults.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Config, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultParseTimeout*time.Second)
		defer cancel()
	}

	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	var info *platform.Info
	if p.detector != nil {
		detected, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		info = detected
		if err := platform.InjectPlatformTable(L, info); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	if err := L.DoString(luaCode); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &ParseError{Message: "config evaluation timed out", Detail: ctxErr.Error()}
		}
		return nil, &ParseError{
			Message: "Lua syntax error",
			Detail:  err.Error(),
		}
	}

	cfg, err := extractConfig(L, Default(info))
	if err != nil {
		return nil, err
	}
	p.logger.Debug("config parsed", "cache_root", cfg.CacheRoot, "caching", cfg.Caching, "version", cfg.Version)
	return cfg, nil
}

// ParseFile parses the config file at path.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigSize+1))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > MaxConfigSize {
		return nil, &ParseError{
			Message: "config file too large",
			Detail:  fmt.Sprintf("%s exceeds %d bytes", path, MaxConfigSize),
		}
	}
	return p.ParseString(ctx, string(data))
}

// Load reads the config at path, falling back to defaults when the file does
// not exist, then applies environment overrides and validates the result.
func (p *Parser) Load(ctx context.Context, path string) (*Config, error) {
	cfg, err := p.ParseFile(ctx, path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		p.logger.Debug("no config file, using defaults", "path", path)
		var info *platform.Info
		if p.detector != nil {
			if info, err = p.detector.Detect(ctx); err != nil {
				return nil, fmt.Errorf("platform detection failed: %w", err)
			}
		}
		cfg = Default(info)
	case err != nil:
		return nil, err
	}

	if err := ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}
	if cfg.CacheRoot, err = ExpandHome(cfg.CacheRoot); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseError represents a config parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// extractConfig overlays the global stealthdriver table onto cfg.
func extractConfig(L *lua.LState, cfg *Config) (*Config, error) {
	global := L.GetGlobal(luaGlobalStealthdriver)
	if global.Type() != lua.LTTable {
		return nil, &ParseError{
			Message: "missing or invalid 'stealthdriver' table",
			Detail:  fmt.Sprintf("expected table, got %s", global.Type()),
		}
	}
	table := global.(*lua.LTable)

	strs := []struct {
		field string
		dst   *string
	}{
		{luaFieldCacheRoot, &cfg.CacheRoot},
		{luaFieldVersionSource, &cfg.VersionSource},
		{luaFieldCaching, &cfg.Caching},
		{luaFieldLogLevel, &cfg.LogLevel},
	}
	for _, s := range strs {
		if err := stringField(table, s.field, s.dst); err != nil {
			return nil, err
		}
	}

	if err := versionField(table, &cfg.Version); err != nil {
		return nil, err
	}

	bools := []struct {
		field string
		dst   *bool
	}{
		{luaFieldShared, &cfg.Shared},
		{luaFieldForce, &cfg.Force},
		{luaFieldRequirePatched, &cfg.RequirePatched},
		{luaFieldInstallBrowser, &cfg.InstallBrowser},
	}
	for _, b := range bools {
		if err := boolField(table, b.field, b.dst); err != nil {
			return nil, err
		}
	}

	if err := secondsField(table, luaFieldLockTimeout, &cfg.LockTimeout); err != nil {
		return nil, err
	}
	if err := secondsField(table, luaFieldReleaseTimeout, &cfg.ReleaseTimeout); err != nil {
		return nil, err
	}

	if v := table.RawGetString(luaFieldFetchRetries); v != lua.LNil {
		n, ok := v.(lua.LNumber)
		if !ok {
			return nil, typeError(luaFieldFetchRetries, "number", v)
		}
		cfg.FetchRetries = int(n)
	}

	if v := table.RawGetString(luaFieldBrowser); v != lua.LNil {
		bt, ok := v.(*lua.LTable)
		if !ok {
			return nil, typeError(luaFieldBrowser, "table", v)
		}
		if err := extractBrowser(bt, &cfg.Browser); err != nil {
			return nil, err
		}
	}

	if v := table.RawGetString(luaFieldEndpoints); v != lua.LNil {
		et, ok := v.(*lua.LTable)
		if !ok {
			return nil, typeError(luaFieldEndpoints, "table", v)
		}
		for _, s := range []struct {
			field string
			dst   *string
		}{
			{luaFieldFeed, &cfg.Endpoints.Feed},
			{luaFieldLegacy, &cfg.Endpoints.Legacy},
			{luaFieldDownloads, &cfg.Endpoints.Downloads},
		} {
			if err := stringField(et, s.field, s.dst); err != nil {
				return nil, err
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ParseError{
			Message: "config validation failed",
			Detail:  err.Error(),
		}
	}

	return cfg, nil
}

// extractBrowser reads the browser sub-table. A list that is present
// replaces the default.
func extractBrowser(table *lua.LTable, dst *BrowserConfig) error {
	if v := table.RawGetString(luaFieldCommands); v != lua.LNil {
		list, err := stringList("browser."+luaFieldCommands, v)
		if err != nil {
			return err
		}
		dst.Commands = list
	}
	if v := table.RawGetString(luaFieldInstall); v != lua.LNil {
		list, err := stringList("browser."+luaFieldInstall, v)
		if err != nil {
			return err
		}
		dst.Install = list
	}
	return nil
}

func stringField(table *lua.LTable, field string, dst *string) error {
	v := table.RawGetString(field)
	if v == lua.LNil {
		return nil
	}
	s, ok := v.(lua.LString)
	if !ok {
		return typeError(field, "string", v)
	}
	*dst = string(s)
	return nil
}

// versionField accepts version = "120.0.6099.109" as well as version = 120.
func versionField(table *lua.LTable, dst *string) error {
	switch v := table.RawGetString(luaFieldVersion).(type) {
	case *lua.LNilType:
	case lua.LString:
		*dst = string(v)
	case lua.LNumber:
		if float64(v) != float64(int64(v)) {
			return &ParseError{
				Message: "invalid field '" + luaFieldVersion + "'",
				Detail:  fmt.Sprintf("numeric version must be a whole milestone, got %v", v),
			}
		}
		*dst = strconv.FormatInt(int64(v), 10)
	default:
		return typeError(luaFieldVersion, "string", v)
	}
	return nil
}

func boolField(table *lua.LTable, field string, dst *bool) error {
	v := table.RawGetString(field)
	if v == lua.LNil {
		return nil
	}
	b, ok := v.(lua.LBool)
	if !ok {
		return typeError(field, "boolean", v)
	}
	*dst = bool(b)
	return nil
}

// secondsField reads a duration given in (possibly fractional) seconds.
func secondsField(table *lua.LTable, field string, dst *time.Duration) error {
	v := table.RawGetString(field)
	if v == lua.LNil {
		return nil
	}
	n, ok := v.(lua.LNumber)
	if !ok {
		return typeError(field, "number", v)
	}
	*dst = time.Duration(float64(n) * float64(time.Second))
	return nil
}

// stringList reads an array of strings in index order. Holes left by
// platform conditionals (platform.is_linux and "x" or nil) are skipped.
func stringList(field string, v lua.LValue) ([]string, error) {
	table, ok := v.(*lua.LTable)
	if !ok {
		return nil, typeError(field, "table", v)
	}

	type entry struct {
		index int
		value string
	}
	var entries []entry
	var bad error
	table.ForEach(func(key, value lua.LValue) {
		if bad != nil {
			return
		}
		idx, ok := key.(lua.LNumber)
		if !ok {
			bad = &ParseError{Message: "invalid field '" + field + "'", Detail: fmt.Sprintf("unexpected key %s", key.String())}
			return
		}
		s, ok := value.(lua.LString)
		if !ok {
			bad = typeError(fmt.Sprintf("%s[%d]", field, int(idx)), "string", value)
			return
		}
		entries = append(entries, entry{index: int(idx), value: string(s)})
	})
	if bad != nil {
		return nil, bad
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].index < entries[j].index })
	list := make([]string, 0, len(entries))
	for _, e := range entries {
		list = append(list, e.value)
	}
	return list, nil
}

func typeError(field, want string, got lua.LValue) error {
	return &ParseError{
		Message: "invalid field '" + field + "'",
		Detail:  fmt.Sprintf("expected %s, got %s", want, got.Type()),
	}
}

// FormatError formats a ParseError for user display.
// In verbose mode, show the raw Lua error. Otherwise, show friendly message.
func FormatError(err error, verbose bool) string {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		// Extract the most relevant part of the error
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}
	return err.Error()
}
