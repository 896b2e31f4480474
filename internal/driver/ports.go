package driver

import "context"

//go:generate mockgen -source=ports.go -destination=mocks/mock_ports.go -package=mocks

// ProcessKiller is the process table as seen by the provisioner.
// procutil.System implements it.
type ProcessKiller interface {
	// KillByName terminates processes running the named executable.
	KillByName(ctx context.Context, name string) (int, error)
	// RunningExecutables returns the executable paths of running processes.
	RunningExecutables(ctx context.Context) (map[string]bool, error)
	// ProcessAlive reports whether the process with pid still exists.
	ProcessAlive(ctx context.Context, pid int32) (bool, error)
}
