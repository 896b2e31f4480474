package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/lock"
	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/platform"
)

const (
	baseName         = "base_driver"
	recordName       = "version"
	instancesDirName = "instances"
	locksDirName     = "locks"
	baseLockScope    = "base"

	// staleTempAge is how old a leftover archive or temp file must be
	// before CleanupTemp removes it.
	staleTempAge = 10 * time.Minute
)

// Layout names the files under a cache root.
type Layout struct {
	Root   string
	Target platform.Target
}

// BasePath is the canonical patched binary.
func (l Layout) BasePath() string {
	return filepath.Join(l.Root, baseName+l.Target.ExecutableSuffix())
}

// RecordPath is the version record of the base binary.
func (l Layout) RecordPath() string {
	return filepath.Join(l.Root, recordName)
}

// InstancesDir holds per-session copies.
func (l Layout) InstancesDir() string {
	return filepath.Join(l.Root, instancesDirName)
}

// LocksDir holds lock files.
func (l Layout) LocksDir() string {
	return filepath.Join(l.Root, locksDirName)
}

func (l Layout) ensureDirs() error {
	for _, dir := range []string{l.Root, l.InstancesDir(), l.LocksDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fileError(KindFetch, "create cache dir", dir, err)
		}
	}
	return nil
}

// Cache owns the patched base binary and its version record.
type Cache struct {
	layout    Layout
	fetcher   *Fetcher
	extractor *Extractor
	patcher   *Patcher
	locks     *lock.Coordinator
	group     singleflight.Group
	inspect   func(ctx context.Context, path string) (Version, error)
	log       Logger

	allowUnpatched bool
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithUnpatchedBase lets the cache publish a driver without a detection
// block. By default such a driver is rejected and never becomes the base.
func WithUnpatchedBase(allow bool) CacheOption {
	return func(c *Cache) {
		c.allowUnpatched = allow
	}
}

// NewCache creates a cache over layout. Archives are fetched with fetcher
// and the base binary is published under locks.
func NewCache(layout Layout, fetcher *Fetcher, locks *lock.Coordinator, log Logger, opts ...CacheOption) *Cache {
	c := &Cache{
		layout:    layout,
		fetcher:   fetcher,
		extractor: NewExtractor(),
		patcher:   NewPatcher(),
		locks:     locks,
		inspect:   InspectVersion,
		log:       loggerOrNoop(log),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Layout returns the cache layout.
func (c *Cache) Layout() Layout {
	return c.layout
}

// BasePath returns the canonical base binary path.
func (c *Cache) BasePath() string {
	return c.layout.BasePath()
}

// RecordedVersion returns the version in the version record.
func (c *Cache) RecordedVersion() (Version, bool) {
	data, err := os.ReadFile(c.layout.RecordPath())
	if err != nil {
		return Version{}, false
	}
	v, err := ParseVersion(string(data))
	if err != nil {
		return Version{}, false
	}
	return v, true
}

// CurrentVersion returns the version of the base binary: the record if
// present, otherwise the version inspected from the binary. A zero Version
// means there is no usable base binary.
func (c *Cache) CurrentVersion(ctx context.Context) Version {
	if !fileExists(c.layout.BasePath()) {
		return Version{}
	}
	if v, ok := c.RecordedVersion(); ok {
		return v
	}
	v, err := c.inspect(ctx, c.layout.BasePath())
	if err != nil {
		c.log.Debug("base driver version unknown", "path", c.layout.BasePath(), "error", err)
		return Version{}
	}
	return v
}

// Ensure makes sure a patched base binary satisfying res is published and
// returns its path. Concurrent callers in this process share one pass;
// other processes are serialized by the base lock.
func (c *Cache) Ensure(ctx context.Context, res *Resolution) (string, error) {
	key := res.Requirement.String()
	if !res.Target.IsZero() {
		key = res.Target.String()
	}

	_, err, _ := c.group.Do(key, func() (any, error) {
		return nil, c.ensure(ctx, res)
	})
	if err != nil {
		return "", err
	}
	return c.layout.BasePath(), nil
}

func (c *Cache) ensure(ctx context.Context, res *Resolution) error {
	if err := c.layout.ensureDirs(); err != nil {
		return err
	}

	return c.withLock(ctx, func() error {
		if current, ok := c.hit(ctx, res); ok {
			c.log.Debug("base driver cache hit", "version", current)
			recordCacheHit()
			return nil
		}

		if res.Target.IsZero() {
			return resolutionError("ensure base driver", fmt.Errorf("no pinned version for requirement %s", res.Requirement))
		}
		return c.install(ctx, res.Target)
	})
}

// hit reports whether the published base satisfies res, backfilling a
// missing version record.
func (c *Cache) hit(ctx context.Context, res *Resolution) (Version, bool) {
	current := c.CurrentVersion(ctx)
	if current.IsZero() || !res.Requirement.SatisfiedBy(current) {
		return current, false
	}
	if !res.Target.IsZero() && res.Requirement.Exact && !current.Equal(res.Target) {
		return current, false
	}
	if !c.allowUnpatched && !c.patcher.IsPatched(c.layout.BasePath()) {
		c.log.Warn("cached base driver is not patched, replacing it", "path", c.layout.BasePath())
		return current, false
	}

	if _, ok := c.RecordedVersion(); !ok {
		if err := c.writeRecord(current); err != nil {
			c.log.Warn("backfill version record failed", "error", err)
		}
	}
	return current, true
}

// install fetches, extracts, patches and publishes version as the base.
func (c *Cache) install(ctx context.Context, version Version) error {
	c.log.Info("fetching driver", "version", version, "target", c.layout.Target)

	pkg, err := c.fetcher.Fetch(ctx, version, c.layout.Target)
	if err != nil {
		return err
	}
	defer pkg.Remove()

	tmp := filepath.Join(c.layout.Root, fmt.Sprintf("%s.%s.tmp", baseName, uuid.NewString()[:8]))
	defer os.Remove(tmp)

	if err := c.extractor.ExtractBinary(pkg.Path, tmp, c.layout.Target.ExecutableName()); err != nil {
		return err
	}

	patched, err := c.patcher.Patch(tmp)
	if err != nil {
		return err
	}
	if !patched && !c.patcher.IsPatched(tmp) {
		if !c.allowUnpatched {
			return &Error{Kind: KindPatch, Op: "patch driver", Path: c.layout.BasePath(), Err: errors.New("detection block not found")}
		}
		c.log.Warn("no detection block found in driver", "version", version)
	}

	if err := os.Chmod(tmp, 0755); err != nil {
		return fileError(KindPatch, "chmod driver", tmp, err)
	}

	if err := os.Rename(tmp, c.layout.BasePath()); err != nil {
		return fileError(KindPatch, "publish base driver", c.layout.BasePath(), err)
	}

	if err := c.writeRecord(version); err != nil {
		return err
	}

	c.log.Info("base driver published", "version", version, "path", c.layout.BasePath())
	return nil
}

// writeRecord replaces the version record atomically.
func (c *Cache) writeRecord(version Version) error {
	path := c.layout.RecordPath()
	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString()[:8])

	if err := os.WriteFile(tmp, []byte(version.String()+"\n"), 0644); err != nil {
		return fileError(KindPatch, "write version record", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fileError(KindPatch, "write version record", path, err)
	}
	return nil
}

// Digest returns the xxhash of the base binary as 16 hex digits.
func (c *Cache) Digest() (string, error) {
	f, err := os.Open(c.layout.BasePath())
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash base driver: %w", err)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// Purge removes the base binary and its record under the base lock.
func (c *Cache) Purge(ctx context.Context) error {
	if err := c.layout.ensureDirs(); err != nil {
		return err
	}
	return c.withLock(ctx, func() error {
		for _, path := range []string{c.layout.BasePath(), c.layout.RecordPath()} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fileError(KindPatch, "purge", path, err)
			}
		}
		return nil
	})
}

// CleanupTemp removes archives and temp files left in the cache root by
// interrupted passes. It returns the number of files removed.
func (c *Cache) CleanupTemp(now time.Time) (int, error) {
	entries, err := os.ReadDir(c.layout.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read cache root: %w", err)
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".zip")) {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < staleTempAge {
			continue
		}
		if err := os.Remove(filepath.Join(c.layout.Root, name)); err == nil {
			removed++
		}
	}
	return removed, nil
}

// withLock runs fn under the base lock, classifying lock failures.
func (c *Cache) withLock(ctx context.Context, fn func() error) error {
	err := c.locks.WithLock(ctx, baseLockScope, fn)
	if err == nil || KindOf(err) != "" {
		return err
	}
	return lockError("acquire base lock", err)
}

// fileExists checks if a regular, non-empty file exists.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}
