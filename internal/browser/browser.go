// Package browser talks to the locally installed browser: it probes which
// version is installed and carries out "install browser version V" requests
// through a configured package-manager command.
package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// ErrNotInstalled is returned when no probe command reports a version.
var ErrNotInstalled = errors.New("browser not installed")

// DefaultCommands are probed in order when no commands are configured.
var DefaultCommands = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"}

// LatestVersion is passed to an Installer when no specific version is wanted.
const LatestVersion = "latest"

var versionPattern = regexp.MustCompile(`\d+(?:\.\d+)+`)

//go:generate mockgen -source=browser.go -destination=mocks/mock_browser.go -package=mocks

// Prober reports the installed browser version.
type Prober interface {
	InstalledVersion(ctx context.Context) (string, error)
}

// Installer installs a browser version and blocks until it is done.
type Installer interface {
	Install(ctx context.Context, version string) error
}

// RunFunc executes a command and returns its standard output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// CommandProber runs "<command> --version" for each configured command and
// returns the first version it can parse.
type CommandProber struct {
	commands []string
	lookPath func(string) (string, error)
	run      RunFunc
}

// NewCommandProber creates a prober for the given commands, or DefaultCommands.
func NewCommandProber(commands ...string) *CommandProber {
	if len(commands) == 0 {
		commands = DefaultCommands
	}
	return &CommandProber{
		commands: commands,
		lookPath: exec.LookPath,
		run:      runCommand,
	}
}

// InstalledVersion returns the installed browser version, e.g. "120.0.6099.109".
func (p *CommandProber) InstalledVersion(ctx context.Context) (string, error) {
	for _, command := range p.commands {
		path, err := p.lookPath(command)
		if err != nil {
			continue
		}

		out, err := p.run(ctx, path, "--version")
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}

		if version := ParseVersionOutput(string(out)); version != "" {
			return version, nil
		}
	}

	return "", ErrNotInstalled
}

// ParseVersionOutput extracts the last dotted version from "--version"
// output such as "Google Chrome 120.0.6099.109 unknown".
func ParseVersionOutput(out string) string {
	matches := versionPattern.FindAllString(out, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1]
}

// CommandInstaller runs a package-manager command line in which every
// "{version}" placeholder is replaced by the requested version.
type CommandInstaller struct {
	argv []string
	run  RunFunc
}

// NewCommandInstaller creates an installer for argv.
func NewCommandInstaller(argv []string) *CommandInstaller {
	return &CommandInstaller{argv: argv, run: runCommand}
}

// Install runs the install command for version ("" means LatestVersion).
func (i *CommandInstaller) Install(ctx context.Context, version string) error {
	if len(i.argv) == 0 {
		return fmt.Errorf("no browser install command configured")
	}
	if version == "" {
		version = LatestVersion
	}

	args := make([]string, len(i.argv))
	for n, arg := range i.argv {
		args[n] = strings.ReplaceAll(arg, "{version}", version)
	}

	if _, err := i.run(ctx, args[0], args[1:]...); err != nil {
		return fmt.Errorf("install browser %s: %w", version, err)
	}
	return nil
}

// runCommand executes name and returns stdout, folding stderr into the error.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
