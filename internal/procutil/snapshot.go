package procutil

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Snapshot is a point-in-time view of driver-related host load.
type Snapshot struct {
	Taken            time.Time `json:"taken" yaml:"taken"`
	DriverProcesses  int       `json:"driver_processes" yaml:"driver_processes"`
	BrowserProcesses int       `json:"browser_processes" yaml:"browser_processes"`
	TotalProcesses   int       `json:"total_processes" yaml:"total_processes"`
	MemoryUsedGB     float64   `json:"memory_used_gb" yaml:"memory_used_gb"`
	MemoryTotalGB    float64   `json:"memory_total_gb" yaml:"memory_total_gb"`
}

// BrowserProcessNames are the process names counted as browser processes.
var BrowserProcessNames = []string{"chrome", "google-chrome", "chromium", "chromium-browser", "chrome.exe"}

// Snapshot collects process counts and memory usage. driverNames are the
// executable names to count as driver processes (instances use random names).
func (s *System) Snapshot(ctx context.Context, driverNames ...string) (*Snapshot, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	snap := &Snapshot{
		Taken:          time.Now().UTC(),
		TotalProcesses: len(procs),
	}

	for _, p := range procs {
		switch {
		case matchesAny(ctx, p, driverNames):
			snap.DriverProcesses++
		case matchesAny(ctx, p, BrowserProcessNames):
			snap.BrowserProcesses++
		}
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read memory usage: %w", err)
	}
	snap.MemoryUsedGB = toGB(vm.Used)
	snap.MemoryTotalGB = toGB(vm.Total)

	return snap, nil
}

// String renders the snapshot as a single log line.
func (s *Snapshot) String() string {
	return fmt.Sprintf("driver processes: %d | browser processes: %d | processes: %d | %.2fGB out of %.2fGB used",
		s.DriverProcesses, s.BrowserProcesses, s.TotalProcesses, s.MemoryUsedGB, s.MemoryTotalGB)
}

func matchesAny(ctx context.Context, p *process.Process, names []string) bool {
	for _, name := range names {
		if matches(ctx, p, name) {
			return true
		}
	}
	return false
}

func toGB(bytes uint64) float64 {
	return math.Round(float64(bytes)/(1<<30)*100) / 100
}
