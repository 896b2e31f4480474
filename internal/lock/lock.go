// Package lock provides a host-wide named mutex backed by lock files, used to
// serialize mutation of the shared driver cache across independent processes.
package lock

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// StaleLockThreshold is the age after which a lock that records no holder
	// pid is considered abandoned. Locks with a pid are judged by liveness only.
	StaleLockThreshold = 10 * time.Minute
)

var (
	ErrLockExists  = errors.New("lock exists: another process may be provisioning")
	ErrLockTimeout = errors.New("timed out waiting for lock")
)

// Lock is a held lock file.
type Lock struct {
	path string
	file *os.File
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release releases the lock. The lock file is only removed while it is still
// the file this Lock created; a lock broken and retaken by another holder is
// left alone. Calling Release more than once is a no-op.
func (l *Lock) Release() error {
	path := l.path
	l.path = ""

	var held os.FileInfo
	if l.file != nil {
		held, _ = l.file.Stat()
		l.file.Close()
		l.file = nil
	}

	if path == "" {
		return nil
	}

	if held != nil {
		current, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("stat lock file: %w", err)
		}
		if !os.SameFile(held, current) {
			return nil
		}
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// lockPath returns the lock file for scope inside dir.
func lockPath(dir, scope string) string {
	return filepath.Join(dir, scope+".lock")
}

// tryAcquire makes a single attempt at creating the lock file for scope.
// Uses O_CREATE|O_EXCL for atomic lock creation. A lock that isStale reports
// as abandoned is removed and creation is retried once.
func tryAcquire(dir, scope string, now time.Time, isStale func(path string) bool) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	path := lockPath(dir, scope)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		inspected, serr := os.Stat(path)
		if serr != nil || !isStale(path) {
			return nil, ErrLockExists
		}
		// Only break the lock that was judged stale, not a successor.
		if current, serr := os.Stat(path); serr == nil && os.SameFile(inspected, current) {
			os.Remove(path)
		}
		file, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err != nil {
			return nil, ErrLockExists
		}
	}

	lockData := fmt.Sprintf("pid=%d\ntimestamp=%s\n", os.Getpid(), now.UTC().Format(time.RFC3339))
	if _, err := file.WriteString(lockData); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write lock data: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("sync lock file: %w", err)
	}

	return &Lock{path: path, file: file}, nil
}

// readHolderPID returns the pid recorded in a lock file, or 0 if the file
// cannot be read or has not been written yet.
func readHolderPID(path string) int32 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		value, ok := strings.CutPrefix(scanner.Text(), "pid=")
		if !ok {
			continue
		}
		pid, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
		if err != nil {
			return 0
		}
		return int32(pid)
	}
	return 0
}
