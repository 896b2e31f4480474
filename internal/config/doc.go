// Package config loads, validates and generates the stealthdriver Lua
// configuration file.
//
// # Overview
//
// A configuration file is plain Lua that assigns a global stealthdriver table.
// It runs in a sandboxed gopher-lua VM with the read-only platform table from
// the platform package injected, so values can depend on the host:
//
//	stealthdriver = {
//	  cache_root = platform.is_lambda and "/tmp/stealthdriver" or "~/.cache/stealthdriver",
//	  version = "",              -- "" resolves, "120" pins a milestone
//	  version_source = "auto",   -- auto | browser | feed
//	  caching = "cached",        -- cached | uncached
//	  shared = false,
//	  force = false,
//	  require_patched = true,
//	  install_browser = false,
//	  lock_timeout = 120,        -- seconds
//	  release_timeout = 3,       -- seconds
//	  fetch_retries = 0,
//	  log_level = "info",
//	  browser = {
//	    commands = { "google-chrome", platform.is_linux and "chromium" or nil },
//	    install = { "apt-get", "install", "-y", "google-chrome-stable" },
//	  },
//	  endpoints = {
//	    feed = "https://googlechromelabs.github.io/chrome-for-testing",
//	  },
//	}
//
// Fields left out keep the values from Default. Environment variables
// STEALTHDRIVER_CACHE_DIR and STEALTHDRIVER_SHARED override the file;
// STEALTHDRIVER_CONFIG names the file itself.
//
// # Sandbox
//
// The VM has no os, io, debug or package libraries and cannot load other
// code. string, table and math remain. Evaluation is bounded by the caller's
// context, or DefaultParseTimeout when it has no deadline.
//
// # Usage
//
//	parser := config.NewParser(platform.NewDetector())
//	cfg, err := parser.Load(ctx, path)
//	if err != nil {
//	    fmt.Fprintln(os.Stderr, config.FormatError(err, verbose))
//	}
//
//	lua, err := config.NewGenerator().Generate(cfg)
//
// Parser and Generator are safe for concurrent use; every parse gets its own
// Lua state.
package config
