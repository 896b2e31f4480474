// Package procutil lists, matches and terminates OS processes through
// gopsutil. It backs forced recovery of driver files held by crashed sessions,
// in-use detection for instance reaping, and the runtime snapshot.
package procutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// commLen is the length Linux truncates process names (comm) to.
const commLen = 15

// System implements process operations against the running host.
type System struct{}

// NewSystem returns a System.
func NewSystem() *System {
	return &System{}
}

// KillByName terminates every process (other than the current one) whose
// name or executable basename matches name. It returns the number of
// processes killed. Processes that vanish or refuse are skipped; an error is
// only returned when the process table cannot be listed.
func (s *System) KillByName(ctx context.Context, name string) (int, error) {
	name = filepath.Base(name)

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}

	self := int32(os.Getpid())
	killed := 0
	for _, p := range procs {
		if p.Pid == self || !matches(ctx, p, name) {
			continue
		}
		if err := p.KillWithContext(ctx); err != nil {
			continue
		}
		killed++
	}

	return killed, nil
}

// RunningExecutables returns the set of executable paths of running
// processes. Processes whose executable cannot be read are skipped.
func (s *System) RunningExecutables(ctx context.Context) (map[string]bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	exes := make(map[string]bool, len(procs))
	for _, p := range procs {
		exe, err := p.ExeWithContext(ctx)
		if err != nil || exe == "" {
			continue
		}
		exes[filepath.Clean(exe)] = true
	}

	return exes, nil
}

// ProcessAlive reports whether a process with pid exists.
func (s *System) ProcessAlive(ctx context.Context, pid int32) (bool, error) {
	return process.PidExistsWithContext(ctx, pid)
}

// CountByName counts running processes whose name matches any of names.
func (s *System) CountByName(ctx context.Context, names ...string) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}

	count := 0
	for _, p := range procs {
		for _, name := range names {
			if matches(ctx, p, name) {
				count++
				break
			}
		}
	}

	return count, nil
}

// matches reports whether p is running an executable called name.
func matches(ctx context.Context, p *process.Process, name string) bool {
	if procName, err := p.NameWithContext(ctx); err == nil {
		if MatchName(procName, name) {
			return true
		}
	}
	if exe, err := p.ExeWithContext(ctx); err == nil && exe != "" {
		return filepath.Base(exe) == name
	}
	return false
}

// MatchName compares a process name against an executable name, accounting
// for the ".exe" suffix on Windows and comm truncation on Linux.
func MatchName(procName, exeName string) bool {
	if procName == "" || exeName == "" {
		return false
	}
	if procName == exeName || strings.TrimSuffix(procName, ".exe") == strings.TrimSuffix(exeName, ".exe") {
		return true
	}
	return len(procName) == commLen && len(exeName) > commLen && strings.HasPrefix(exeName, procName)
}
