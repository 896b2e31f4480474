package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultReleaseTimeout bounds how long Release retries a busy file.
	DefaultReleaseTimeout = 3 * time.Second

	// OrphanGracePeriod is the minimum age of an instance without an owner
	// record before single-mode reaping may remove it.
	OrphanGracePeriod = 10 * time.Minute

	releaseRetryInterval = 10 * time.Millisecond

	// ownerSuffix names the file next to an instance that records the pid
	// of the process that issued it.
	ownerSuffix = ".owner"
)

// Instance is a driver binary handed to one session.
type Instance struct {
	Path string
	// External instances point at a caller-supplied binary.
	External bool
	// Shared instances are used by every process on the host.
	Shared bool

	issuer *Issuer
	once   sync.Once
}

// Release deletes the instance file unless it is external or shared.
// Removal of a busy file is retried until the release timeout; failures are
// logged, never returned. Release is safe to call more than once.
func (in *Instance) Release() {
	in.once.Do(func() {
		if in.issuer == nil {
			return
		}
		in.issuer.forget(in.Path)
		if in.External || in.Shared {
			return
		}
		in.issuer.remove(in.Path)
		in.issuer.dropOwner(in.Path)
	})
}

// Issuer copies the base binary into per-session instance files.
type Issuer struct {
	layout         Layout
	procs          ProcessKiller
	releaseTimeout time.Duration
	log            Logger
	unlink         func(string) error
	now            func() time.Time
	pid            int32

	mu   sync.Mutex
	live map[string]*Instance
}

// NewIssuer creates an issuer. procs may be nil; single-mode reaping then
// keeps every instance it cannot prove abandoned.
func NewIssuer(layout Layout, procs ProcessKiller, releaseTimeout time.Duration, log Logger) *Issuer {
	if releaseTimeout <= 0 {
		releaseTimeout = DefaultReleaseTimeout
	}
	return &Issuer{
		layout:         layout,
		procs:          procs,
		releaseTimeout: releaseTimeout,
		log:            loggerOrNoop(log),
		unlink:         os.Remove,
		now:            time.Now,
		pid:            int32(os.Getpid()),
		live:           make(map[string]*Instance),
	}
}

// NewPath returns a fresh, unused instance path.
func (i *Issuer) NewPath() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return filepath.Join(i.layout.InstancesDir(), id+i.layout.Target.ExecutableSuffix())
}

// Issue copies the base binary to a new instance path.
func (i *Issuer) Issue() (*Instance, error) {
	if err := os.MkdirAll(i.layout.InstancesDir(), 0755); err != nil {
		return nil, fileError(KindPatch, "create instances dir", i.layout.InstancesDir(), err)
	}

	path := i.NewPath()
	if err := i.claim(path); err != nil {
		return nil, err
	}
	if err := copyExecutable(i.layout.BasePath(), path); err != nil {
		os.Remove(path)
		i.dropOwner(path)
		return nil, fileError(KindPatch, "issue instance", path, err)
	}

	recordInstanceIssued()
	i.log.Debug("instance issued", "path", path)
	return i.Track(path, false, false), nil
}

// Track registers path as a live instance of this process.
func (i *Issuer) Track(path string, external, shared bool) *Instance {
	in := &Instance{Path: path, External: external, Shared: shared, issuer: i}
	i.mu.Lock()
	i.live[path] = in
	i.mu.Unlock()
	return in
}

// Live returns the instances of this process that were not released.
func (i *Issuer) Live() []*Instance {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]*Instance, 0, len(i.live))
	for _, in := range i.live {
		out = append(out, in)
	}
	return out
}

// Lookup returns the live instance at path.
func (i *Issuer) Lookup(path string) (*Instance, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	in, ok := i.live[path]
	return in, ok
}

func (i *Issuer) forget(path string) {
	i.mu.Lock()
	delete(i.live, path)
	i.mu.Unlock()
}

func (i *Issuer) isLive(path string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.live[path]
	return ok
}

// claim records this process as the owner of the instance at path. It runs
// before the instance file exists so that no other process can observe an
// instance without an owner.
func (i *Issuer) claim(path string) error {
	if err := os.WriteFile(path+ownerSuffix, []byte(strconv.Itoa(int(i.pid))+"\n"), 0644); err != nil {
		return fileError(KindPatch, "record instance owner", path+ownerSuffix, err)
	}
	return nil
}

func (i *Issuer) dropOwner(path string) {
	if err := os.Remove(path + ownerSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		i.log.Debug("remove instance owner failed", "path", path, "error", err)
	}
}

// readOwner returns the pid recorded for the instance at path, or 0.
func readOwner(path string) int32 {
	data, err := os.ReadFile(path + ownerSuffix)
	if err != nil {
		return 0
	}
	pid, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil || pid <= 0 {
		return 0
	}
	return int32(pid)
}

// remove deletes path, retrying while the OS reports it busy.
func (i *Issuer) remove(path string) {
	deadline := time.Now().Add(i.releaseTimeout)
	for {
		err := i.unlink(path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return
		}
		if !isPermission(err) {
			i.log.Warn("remove instance failed", "path", path, "error", err)
			return
		}
		if time.Now().After(deadline) {
			i.log.Warn("instance still in use, leaving it", "path", path, "error", err)
			return
		}
		time.Sleep(releaseRetryInterval)
	}
}

// ReapResult describes a ReapStale pass.
type ReapResult struct {
	// Survivor is the newest instance kept in shared mode.
	Survivor string
	Removed  int
}

// ReapStale removes instance files no session needs.
//
// In shared mode only the newest instance survives. In single mode an
// instance is removed only when its session has provably ended: it is not
// held by this issuer, no running process executes it, and its recorded
// owner process is gone. Instances without an owner record are removed once
// they are older than OrphanGracePeriod. When running processes cannot be
// listed, single mode removes nothing.
//
// Individual removals are best effort; only listing failures are errors.
func (i *Issuer) ReapStale(ctx context.Context, shared bool) (ReapResult, error) {
	var result ReapResult

	files, err := i.listInstances()
	if err != nil {
		return result, err
	}
	if len(files) == 0 {
		return result, nil
	}

	running, known := i.runningExecutables(ctx)
	if !shared && !known {
		i.log.Debug("process table unavailable, keeping instances", "count", len(files))
		return result, nil
	}

	if shared {
		sort.Slice(files, func(a, b int) bool {
			return files[a].modTime.After(files[b].modTime)
		})
		result.Survivor = files[0].path
		files = files[1:]
	}

	for _, f := range files {
		if running[f.path] {
			continue
		}
		if !shared && !i.ended(ctx, f) {
			continue
		}
		if err := i.unlink(f.path); err != nil {
			i.log.Debug("reap instance failed", "path", f.path, "error", err)
			continue
		}
		i.dropOwner(f.path)
		result.Removed++
	}

	recordInstancesReaped(result.Removed)
	if result.Removed > 0 {
		i.log.Debug("stale instances reaped", "removed", result.Removed, "shared", shared)
	}
	return result, nil
}

// ended reports whether the session that owns f has ended.
func (i *Issuer) ended(ctx context.Context, f instanceFile) bool {
	if i.isLive(f.path) {
		return false
	}

	owner := readOwner(f.path)
	switch {
	case owner == 0:
		return i.now().Sub(f.modTime) >= OrphanGracePeriod
	case owner == i.pid:
		// Another issuer of this process may still hold it.
		return false
	}

	alive, err := i.procs.ProcessAlive(ctx, owner)
	if err != nil {
		i.log.Debug("owner liveness unknown, keeping instance", "path", f.path, "owner", owner, "error", err)
		return false
	}
	return !alive
}

// runningExecutables lists running executables. The second result is false
// when the process table is unavailable.
func (i *Issuer) runningExecutables(ctx context.Context) (map[string]bool, bool) {
	if i.procs == nil {
		return map[string]bool{}, false
	}
	running, err := i.procs.RunningExecutables(ctx)
	if err != nil {
		i.log.Debug("list running executables failed", "error", err)
		return map[string]bool{}, false
	}
	return running, true
}

type instanceFile struct {
	path    string
	size    int64
	modTime time.Time
}

// InstanceInfo describes an instance file on disk.
type InstanceInfo struct {
	Path     string    `yaml:"path"`
	Size     int64     `yaml:"size"`
	Modified time.Time `yaml:"modified"`
	// Running is set when a process executes the file.
	Running bool `yaml:"running"`
	// Live is set when this process issued the instance and still holds it.
	Live bool `yaml:"live"`
	// Owner is the pid of the issuing process, 0 if unrecorded.
	Owner int32 `yaml:"owner,omitempty"`
}

// List reports every instance file under the instances directory, newest
// first.
func (i *Issuer) List(ctx context.Context) ([]InstanceInfo, error) {
	files, err := i.listInstances()
	if err != nil {
		return nil, err
	}

	running := map[string]bool{}
	if len(files) > 0 {
		running, _ = i.runningExecutables(ctx)
	}

	sort.Slice(files, func(a, b int) bool {
		return files[a].modTime.After(files[b].modTime)
	})

	infos := make([]InstanceInfo, 0, len(files))
	for _, f := range files {
		infos = append(infos, InstanceInfo{
			Path:     f.path,
			Size:     f.size,
			Modified: f.modTime,
			Running:  running[f.path],
			Live:     i.isLive(f.path),
			Owner:    readOwner(f.path),
		})
	}
	return infos, nil
}

func (i *Issuer) listInstances() ([]instanceFile, error) {
	entries, err := os.ReadDir(i.layout.InstancesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list instances: %w", err)
	}

	files := make([]instanceFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") || strings.HasSuffix(e.Name(), ownerSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, instanceFile{
			path:    filepath.Join(i.layout.InstancesDir(), e.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return files, nil
}

// copyExecutable copies src to a new file dst with mode 0755.
func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0755)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, 0755)
}
