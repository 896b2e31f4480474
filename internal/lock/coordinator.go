package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	// DefaultTimeout bounds how long Acquire waits for another holder.
	DefaultTimeout = 2 * time.Minute
	// DefaultPollInterval is the retry interval when no filesystem event arrives.
	DefaultPollInterval = 250 * time.Millisecond
)

// Coordinator hands out named locks stored under a single directory.
// Locks are exclusive across processes and across goroutines of one process.
type Coordinator struct {
	dir          string
	timeout      time.Duration
	pollInterval time.Duration
	clock        Clock
	alive        func(pid int32) bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the maximum wait for a held lock.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPollInterval sets the retry interval used between filesystem events.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithClock replaces the clock used for lock timestamps and staleness.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithLiveness replaces the holder liveness check.
func WithLiveness(alive func(pid int32) bool) Option {
	return func(c *Coordinator) {
		c.alive = alive
	}
}

// NewCoordinator creates a coordinator storing lock files in dir.
func NewCoordinator(dir string, opts ...Option) *Coordinator {
	c := &Coordinator{
		dir:          dir,
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
		clock:        RealClock{},
		alive:        pidAlive,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the lock directory.
func (c *Coordinator) Dir() string {
	return c.dir
}

// TryAcquire makes a single attempt to take the lock for scope.
// It returns ErrLockExists if another live holder has it.
func (c *Coordinator) TryAcquire(scope string) (*Lock, error) {
	return tryAcquire(c.dir, scope, c.clock.Now(), c.isStale)
}

// Acquire takes the lock for scope, waiting up to the configured timeout.
// It returns ErrLockTimeout if the lock is still held when the wait ends.
func (c *Coordinator) Acquire(ctx context.Context, scope string) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l, err := c.TryAcquire(scope)
	if !errors.Is(err, ErrLockExists) {
		return l, err
	}

	// Wake up on removal of the lock file; fall back to polling if the
	// watcher cannot be created (e.g. inotify limits).
	var events <-chan fsnotify.Event
	if watcher, werr := fsnotify.NewWatcher(); werr == nil {
		defer watcher.Close()
		if watcher.Add(c.dir) == nil {
			events = watcher.Events
		}
	}

	target := lockPath(c.dir, scope)
	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, scope, c.timeout)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
		case <-ticker.C:
		}

		l, err := c.TryAcquire(scope)
		if !errors.Is(err, ErrLockExists) {
			return l, err
		}
	}
}

// WithLock runs fn while holding the lock for scope. The lock is released on
// every exit path, including a panic in fn.
func (c *Coordinator) WithLock(ctx context.Context, scope string, fn func() error) error {
	l, err := c.Acquire(ctx, scope)
	if err != nil {
		return err
	}
	defer l.Release()

	return fn()
}

// isStale reports whether the lock at path was abandoned: its recorded holder
// process no longer exists. A lock without a readable pid is abandoned once it
// is older than StaleLockThreshold. Age alone never breaks the lock of a live
// holder, however long it is held.
func (c *Coordinator) isStale(path string) bool {
	if pid := readHolderPID(path); pid > 0 {
		return !c.alive(pid)
	}

	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return c.clock.Now().Sub(info.ModTime()) > StaleLockThreshold
}

func pidAlive(pid int32) bool {
	exists, err := process.PidExists(pid)
	if err != nil {
		return true
	}
	return exists
}
