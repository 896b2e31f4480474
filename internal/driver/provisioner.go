package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/browser"
	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/lock"
	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/platform"
)

// State is a step of a provisioning pass.
type State string

const (
	StateStart                 State = "start"
	StateCustomPath            State = "custom_path"
	StateMultiProcLeaderCheck  State = "multi_proc_leader_check"
	StateRemoveStaleExecutable State = "remove_stale_executable"
	StateVersionResolve        State = "version_resolve"
	StateFetchOrCacheHit       State = "fetch_or_cache_hit"
	StatePatch                 State = "patch"
	StateVerify                State = "verify"
	StateReady                 State = "ready"
	StateReadyCustom           State = "ready_custom"
	StateFailed                State = "failed"
)

// Config configures a Provisioner.
type Config struct {
	// CacheRoot holds the base binary, instances and locks.
	CacheRoot string
	// Target is the platform drivers are fetched for.
	Target platform.Target

	Caching    CachingMode
	SourceMode SourceMode
	Endpoints  Endpoints

	// Prober reports the installed browser; nil disables the browser source.
	Prober    browser.Prober
	Installer browser.Installer
	// InstallBrowser lets the resolver ask Installer for a missing or
	// mismatched browser.
	InstallBrowser bool

	// Processes backs in-use detection and forced recovery; nil disables both.
	Processes ProcessKiller

	// Downloader overrides the HTTP client; FetchRetries is ignored then.
	Downloader   *Downloader
	FetchRetries int

	LockTimeout    time.Duration
	ReleaseTimeout time.Duration

	// AllowUnpatched accepts binaries without a detection block.
	AllowUnpatched bool

	Logger Logger
}

// Options are per-call provisioning options.
type Options struct {
	// Version requests a milestone ("120") or exact version; "" resolves it.
	Version string
	// Force kills processes holding a stale executable.
	Force bool
	// Shared reuses one instance across all processes on the host.
	Shared bool
	// ExecutablePath uses a caller-supplied driver binary.
	ExecutablePath string
}

// Provisioner runs provisioning passes against one cache root.
type Provisioner struct {
	cfg      Config
	layout   Layout
	cache    *Cache
	issuer   *Issuer
	resolver *Resolver
	policy   CachingPolicy
	patcher  *Patcher
	log      Logger

	mu   sync.Mutex
	last string
}

// NewProvisioner wires a provisioner from cfg.
func NewProvisioner(cfg Config) (*Provisioner, error) {
	if cfg.CacheRoot == "" {
		return nil, fmt.Errorf("CacheRoot is required")
	}
	if cfg.Target.OS == "" {
		return nil, fmt.Errorf("Target is required")
	}
	if cfg.Caching == "" {
		cfg.Caching = CachingCached
	}

	log := loggerOrNoop(cfg.Logger)
	layout := Layout{Root: cfg.CacheRoot, Target: cfg.Target}

	downloader := cfg.Downloader
	if downloader == nil {
		downloader = NewDownloader(WithRetries(cfg.FetchRetries))
	}

	fetcher := NewFetcher(layout.Root, cfg.Endpoints, downloader)
	locks := lock.NewCoordinator(layout.LocksDir(), lock.WithTimeout(cfg.LockTimeout))
	cache := NewCache(layout, fetcher, locks, log, WithUnpatchedBase(cfg.AllowUnpatched))
	issuer := NewIssuer(layout, cfg.Processes, cfg.ReleaseTimeout, log)
	patcher := NewPatcher()

	p := &Provisioner{
		cfg:     cfg,
		layout:  layout,
		cache:   cache,
		issuer:  issuer,
		patcher: patcher,
		log:     log,
	}

	current := cache.CurrentVersion
	switch cfg.Caching {
	case CachingCached:
		p.policy = &CachedPolicy{Cache: cache, Issuer: issuer}
	case CachingUncached:
		p.policy = &UncachedPolicy{Fetcher: fetcher, Extractor: NewExtractor(), Patcher: patcher, Issuer: issuer, Layout: layout}
		current = nil
	default:
		return nil, fmt.Errorf("unknown caching mode %q", cfg.Caching)
	}

	p.resolver = NewResolver(ResolverConfig{
		Mode:           cfg.SourceMode,
		Prober:         cfg.Prober,
		Installer:      cfg.Installer,
		InstallBrowser: cfg.InstallBrowser,
		Feed:           NewFeed(cfg.Endpoints, downloader),
		Current:        current,
		Logger:         log,
	})

	return p, nil
}

// Layout returns the cache layout.
func (p *Provisioner) Layout() Layout { return p.layout }

// Cache returns the base cache.
func (p *Provisioner) Cache() *Cache { return p.cache }

// Issuer returns the instance issuer.
func (p *Provisioner) Issuer() *Issuer { return p.issuer }

// Resolver returns the version resolver.
func (p *Provisioner) Resolver() *Resolver { return p.resolver }

// Acquire runs a provisioning pass and returns a patched instance that the
// caller must Release.
func (p *Provisioner) Acquire(ctx context.Context, opts Options) (*Instance, error) {
	inst, err := p.acquire(ctx, opts)
	if err != nil {
		recordFailure(err)
		p.enter(StateFailed, "error", err)
		return nil, err
	}
	return inst, nil
}

// Provision is Acquire returning only the executable path. The instance
// stays live until ReleaseInstance or Close.
func (p *Provisioner) Provision(ctx context.Context, opts Options) (string, error) {
	inst, err := p.Acquire(ctx, opts)
	if err != nil {
		return "", err
	}
	return inst.Path, nil
}

// IsPatched reports whether the binary at path is patched.
func (p *Provisioner) IsPatched(path string) bool {
	return p.patcher.IsPatched(path)
}

// ReleaseInstance releases the live instance at path, if any.
func (p *Provisioner) ReleaseInstance(path string) {
	if in, ok := p.issuer.Lookup(path); ok {
		in.Release()
	}
}

// Close releases every instance this provisioner issued.
func (p *Provisioner) Close() error {
	for _, in := range p.issuer.Live() {
		in.Release()
	}
	return nil
}

func (p *Provisioner) acquire(ctx context.Context, opts Options) (*Instance, error) {
	p.enter(StateStart, "shared", opts.Shared, "force", opts.Force)

	if opts.ExecutablePath != "" {
		return p.custom(opts.ExecutablePath)
	}

	if opts.Shared {
		p.enter(StateMultiProcLeaderCheck)
		res, err := p.issuer.ReapStale(ctx, true)
		if err != nil {
			p.log.Warn("reap shared instances failed", "error", err)
		} else if res.Survivor != "" && p.patcher.IsPatched(res.Survivor) {
			p.enter(StateReadyCustom, "path", res.Survivor)
			return p.issuer.Track(res.Survivor, false, true), nil
		}
	} else if _, err := p.issuer.ReapStale(ctx, false); err != nil {
		p.log.Warn("reap stale instances failed", "error", err)
	}

	p.enter(StateRemoveStaleExecutable)
	if stale, err := p.removeStale(); err != nil {
		if KindOf(err) != KindPermission {
			return nil, err
		}
		if opts.Force && p.cfg.Processes != nil {
			name := filepath.Base(stale)
			killed, kerr := p.cfg.Processes.KillByName(ctx, name)
			p.log.Info("killed processes holding stale driver", "name", name, "killed", killed, "error", kerr)
			opts.Force = false
			return p.acquire(ctx, opts)
		}
		if p.patcher.IsPatched(stale) {
			p.enter(StateReadyCustom, "path", stale)
			return p.issuer.Track(stale, true, false), nil
		}
		return nil, err
	}

	p.enter(StateVersionResolve, "requested", opts.Version)
	res, err := p.resolver.Resolve(ctx, opts.Version)
	if err != nil {
		return nil, err
	}

	p.enter(StateFetchOrCacheHit, "policy", p.policy.Mode(), "current", res.Current, "target", res.Target, "needs_provisioning", res.NeedsProvisioning)
	inst, err := p.policy.Provide(ctx, res)
	if err != nil {
		return nil, err
	}
	inst.Shared = opts.Shared

	p.enter(StatePatch, "path", inst.Path)
	if !p.patcher.IsPatched(inst.Path) {
		if _, err := p.patcher.Patch(inst.Path); err != nil {
			inst.Release()
			return nil, err
		}
	}

	p.enter(StateVerify, "path", inst.Path)
	if !p.patcher.IsPatched(inst.Path) && !p.cfg.AllowUnpatched {
		inst.Release()
		return nil, &Error{Kind: KindPatch, Op: "verify driver", Path: inst.Path, Err: errors.New("detection block not found")}
	}

	p.mu.Lock()
	p.last = inst.Path
	p.mu.Unlock()

	p.enter(StateReady, "path", inst.Path, "version", res.Target)
	return inst, nil
}

// custom prepares a caller-supplied binary without touching the cache.
func (p *Provisioner) custom(path string) (*Instance, error) {
	p.enter(StateCustomPath, "path", path)

	if !p.patcher.IsPatched(path) {
		if _, err := p.patcher.Patch(path); err != nil {
			return nil, err
		}
		if !p.patcher.IsPatched(path) && !p.cfg.AllowUnpatched {
			return nil, &Error{Kind: KindPatch, Op: "verify driver", Path: path, Err: errors.New("detection block not found")}
		}
	}

	p.enter(StateReadyCustom, "path", path)
	return p.issuer.Track(path, true, false), nil
}

// removeStale unlinks the executable of the previous pass once no session
// holds it. It returns the stale path alongside any error.
func (p *Provisioner) removeStale() (string, error) {
	p.mu.Lock()
	stale := p.last
	p.mu.Unlock()

	if stale == "" {
		return "", nil
	}
	if _, live := p.issuer.Lookup(stale); live {
		return stale, nil
	}

	if err := p.issuer.unlink(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
		return stale, fileError(KindPatch, "remove stale executable", stale, err)
	}
	p.issuer.dropOwner(stale)

	p.mu.Lock()
	if p.last == stale {
		p.last = ""
	}
	p.mu.Unlock()
	return stale, nil
}

func (p *Provisioner) enter(state State, keysAndValues ...any) {
	p.log.Debug("provision state", append([]any{"state", state}, keysAndValues...)...)
}
