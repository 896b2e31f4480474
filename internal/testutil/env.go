// Package testutil provides utilities for testing stealthdriver in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Env holds the isolated directories created by SetupTestEnv.
type Env struct {
	Home       string
	ConfigFile string
	CacheDir   string
}

// SetupTestEnv points every path stealthdriver reads from the environment at
// a fresh temp directory, so tests never touch the user's real cache, config
// or browser install state.
//
// The directories are removed by t.TempDir().
func SetupTestEnv(t *testing.T) Env {
	t.Helper()

	tmpDir := t.TempDir()
	env := Env{
		Home:       filepath.Join(tmpDir, "home"),
		ConfigFile: filepath.Join(tmpDir, "config", "stealthdriver", "stealthdriver.lua"),
		CacheDir:   filepath.Join(tmpDir, "cache"),
	}

	t.Setenv("HOME", env.Home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "config"))
	t.Setenv("STEALTHDRIVER_CONFIG", env.ConfigFile)
	t.Setenv("STEALTHDRIVER_CACHE_DIR", env.CacheDir)
	t.Setenv("STEALTHDRIVER_SHARED", "")
	// A stray Lambda marker would move the default cache to /tmp.
	t.Setenv("LAMBDA_TASK_ROOT", "")

	dirs := []string{
		env.Home,
		filepath.Dir(env.ConfigFile),
		env.CacheDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	return env
}
