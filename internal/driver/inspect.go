package driver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"time"
)

const inspectTimeout = 10 * time.Second

var (
	versionOutput  = regexp.MustCompile(`ChromeDriver (\d+(?:\.\d+)+)`)
	embeddedString = regexp.MustCompile(`platform_handle\x00content\x00([0-9.]+)`)
)

// InspectVersion determines the version of the driver binary at path by
// running it with --version, falling back to the version string embedded
// in the binary when it cannot be executed.
func InspectVersion(ctx context.Context, path string) (Version, error) {
	if v, err := runVersion(ctx, path); err == nil {
		return v, nil
	}
	return embeddedVersion(path)
}

func runVersion(ctx context.Context, path string) (Version, error) {
	ctx, cancel := context.WithTimeout(ctx, inspectTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return Version{}, fmt.Errorf("run %s --version: %w", path, err)
	}

	m := versionOutput.FindSubmatch(out)
	if m == nil {
		return Version{}, fmt.Errorf("unrecognized version output %q", bytes.TrimSpace(out))
	}
	return ParseVersion(string(m[1]))
}

func embeddedVersion(path string) (Version, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Version{}, fmt.Errorf("read driver: %w", err)
	}

	m := embeddedString.FindSubmatch(data)
	if m == nil {
		return Version{}, fmt.Errorf("no version string in %s", path)
	}
	return ParseVersion(string(m[1]))
}
