package config

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Generator generates Lua configuration code from Go structs.
type Generator struct {
	indent string // Indentation string (default: two spaces)
	now    func() time.Time
}

// NewGenerator creates a new Lua config generator.
func NewGenerator() *Generator {
	return &Generator{
		indent: "  ",
		now:    time.Now,
	}
}

// Generate renders config as a stealthdriver.lua file. Parsing the result
// yields an equal Config.
func (g *Generator) Generate(config *Config) (string, error) {
	if config == nil {
		return "", fmt.Errorf("generate config: nil config")
	}

	var buf bytes.Buffer

	buf.WriteString("-- stealthdriver configuration\n")
	buf.WriteString("-- Generated: ")
	buf.WriteString(g.now().UTC().Format(time.RFC3339))
	buf.WriteString("\n--\n")
	buf.WriteString("-- The read-only `platform` table (platform.os, platform.is_linux, ...)\n")
	buf.WriteString("-- is available for conditional values.\n\n")

	buf.WriteString(luaGlobalStealthdriver + " = {\n")

	g.writeField(&buf, 1, luaFieldCacheRoot, g.quoteLuaString(config.CacheRoot), "")
	g.writeField(&buf, 1, luaFieldVersion, g.quoteLuaString(config.Version), `"" resolves automatically, "120" pins a milestone`)
	g.writeField(&buf, 1, luaFieldVersionSource, g.quoteLuaString(config.VersionSource), "auto | browser | feed")
	g.writeField(&buf, 1, luaFieldCaching, g.quoteLuaString(config.Caching), "cached | uncached")
	g.writeField(&buf, 1, luaFieldShared, strconv.FormatBool(config.Shared), "")
	g.writeField(&buf, 1, luaFieldForce, strconv.FormatBool(config.Force), "")
	g.writeField(&buf, 1, luaFieldRequirePatched, strconv.FormatBool(config.RequirePatched), "")
	g.writeField(&buf, 1, luaFieldInstallBrowser, strconv.FormatBool(config.InstallBrowser), "")
	g.writeField(&buf, 1, luaFieldLockTimeout, formatSeconds(config.LockTimeout), "seconds")
	g.writeField(&buf, 1, luaFieldReleaseTimeout, formatSeconds(config.ReleaseTimeout), "seconds")
	g.writeField(&buf, 1, luaFieldFetchRetries, strconv.Itoa(config.FetchRetries), "")
	g.writeField(&buf, 1, luaFieldLogLevel, g.quoteLuaString(config.LogLevel), "debug | info | warn | error")

	if len(config.Browser.Commands) > 0 || len(config.Browser.Install) > 0 {
		g.writeBrowser(&buf, config.Browser)
	}

	ep := config.Endpoints
	if ep.Feed != "" || ep.Legacy != "" || ep.Downloads != "" {
		g.writeEndpoints(&buf, ep)
	}

	buf.WriteString("}\n")

	return buf.String(), nil
}

// writeBrowser writes the browser section to the buffer.
func (g *Generator) writeBrowser(buf *bytes.Buffer, b BrowserConfig) {
	buf.WriteString(g.indent)
	buf.WriteString(luaFieldBrowser + " = {\n")

	if len(b.Commands) > 0 {
		g.writeField(buf, 2, luaFieldCommands, g.luaList(b.Commands), "")
	}
	if len(b.Install) > 0 {
		g.writeField(buf, 2, luaFieldInstall, g.luaList(b.Install), `"{version}" is replaced`)
	}

	buf.WriteString(g.indent)
	buf.WriteString("},\n")
}

// writeEndpoints writes the endpoints section to the buffer.
func (g *Generator) writeEndpoints(buf *bytes.Buffer, ep EndpointsConfig) {
	buf.WriteString(g.indent)
	buf.WriteString(luaFieldEndpoints + " = {\n")

	if ep.Feed != "" {
		g.writeField(buf, 2, luaFieldFeed, g.quoteLuaString(ep.Feed), "")
	}
	if ep.Legacy != "" {
		g.writeField(buf, 2, luaFieldLegacy, g.quoteLuaString(ep.Legacy), "")
	}
	if ep.Downloads != "" {
		g.writeField(buf, 2, luaFieldDownloads, g.quoteLuaString(ep.Downloads), "")
	}

	buf.WriteString(g.indent)
	buf.WriteString("},\n")
}

func (g *Generator) writeField(buf *bytes.Buffer, depth int, name, value, comment string) {
	buf.WriteString(strings.Repeat(g.indent, depth))
	buf.WriteString(name)
	buf.WriteString(" = ")
	buf.WriteString(value)
	buf.WriteString(",")
	if comment != "" {
		buf.WriteString(" -- ")
		buf.WriteString(comment)
	}
	buf.WriteString("\n")
}

func (g *Generator) luaList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = g.quoteLuaString(item)
	}
	return "{ " + strings.Join(quoted, ", ") + " }"
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// quoteLuaString quotes a string for Lua, handling special characters.
func (g *Generator) quoteLuaString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\") // Escape backslashes first
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	s = strings.ReplaceAll(s, "\x00", "\\0")
	return "\"" + s + "\""
}
