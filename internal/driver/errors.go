package driver

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
)

// Kind classifies provisioning failures.
type Kind string

const (
	KindResolution Kind = "resolution"
	KindFetch      Kind = "fetch"
	KindPatch      Kind = "patch"
	KindLock       Kind = "lock"
	KindPermission Kind = "permission"
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrResolution = errors.New("version resolution failed")
	ErrFetch      = errors.New("driver fetch failed")
	ErrPatch      = errors.New("driver patch failed")
	ErrLock       = errors.New("driver lock failed")
	ErrPermission = errors.New("driver file permission denied")
)

var kindSentinels = map[Kind]error{
	KindResolution: ErrResolution,
	KindFetch:      ErrFetch,
	KindPatch:      ErrPatch,
	KindLock:       ErrLock,
	KindPermission: ErrPermission,
}

// Error is returned by every provisioning operation.
type Error struct {
	Kind   Kind
	Op     string
	Path   string
	URL    string
	Status int
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.URL != "" {
		fmt.Fprintf(&b, " %s", e.URL)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

func resolutionError(op string, err error) error {
	return &Error{Kind: KindResolution, Op: op, Err: err}
}

func fetchError(op, url string, status int, err error) error {
	return &Error{Kind: KindFetch, Op: op, URL: url, Status: status, Err: err}
}

func lockError(op string, err error) error {
	return &Error{Kind: KindLock, Op: op, Err: err}
}

// fileError classifies a filesystem failure on path as a permission error
// when the OS refused access, and as kind otherwise.
func fileError(kind Kind, op, path string, err error) error {
	if isPermission(err) {
		kind = KindPermission
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func isPermission(err error) bool {
	return errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) ||
		errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ETXTBSY)
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
