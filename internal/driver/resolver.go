package driver

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/browser"
)

// SourceMode selects where a version requirement comes from when the caller
// does not request one.
type SourceMode string

const (
	// SourceAuto tries the installed browser, then the remote feed.
	SourceAuto SourceMode = "auto"
	// SourceBrowser only asks the installed browser.
	SourceBrowser SourceMode = "browser"
	// SourceFeed only asks the remote feed.
	SourceFeed SourceMode = "feed"
)

const (
	sourceExplicit = "explicit"
	sourceBrowser  = "browser"
	sourceFeed     = "feed"
)

// Requirement is what the resolver decided the driver must satisfy.
type Requirement struct {
	// Version is an exact version, or a one-component milestone.
	Version Version
	// Exact requires an equal version instead of the same major.
	Exact bool
	// Source names the VersionSource that produced the requirement.
	Source string
	// Hint is a full version known to be published for the milestone,
	// such as the installed browser's build.
	Hint Version
}

// SatisfiedBy reports whether v meets the requirement.
func (r Requirement) SatisfiedBy(v Version) bool {
	if v.IsZero() || r.Version.IsZero() {
		return false
	}
	if r.Exact {
		return v.Equal(r.Version)
	}
	return v.Major() == r.Version.Major()
}

func (r Requirement) String() string {
	if r.Exact {
		return r.Version.String()
	}
	return strconv.Itoa(r.Version.Major()) + ".*"
}

// Resolution is the outcome of version resolution.
type Resolution struct {
	Requirement Requirement
	// Current is the cached base version, zero when there is none.
	Current Version
	// Target is the full version to provision, or Current when nothing
	// needs provisioning.
	Target            Version
	NeedsProvisioning bool
}

// VersionSource produces a version requirement.
type VersionSource interface {
	Name() string
	Requirement(ctx context.Context) (Requirement, error)
}

// ExplicitSource is a caller-requested version: a milestone ("120") or an
// exact four-component version.
type ExplicitSource struct {
	Version string
}

func (s ExplicitSource) Name() string { return sourceExplicit }

func (s ExplicitSource) Requirement(ctx context.Context) (Requirement, error) {
	v, err := ParseRequestedVersion(s.Version)
	if err != nil {
		return Requirement{}, fmt.Errorf("requested version: %w", err)
	}
	return Requirement{Version: v, Exact: v.Components() > 1, Source: s.Name()}, nil
}

// BrowserSource requires the major of the installed browser.
type BrowserSource struct {
	Prober browser.Prober
}

func (s BrowserSource) Name() string { return sourceBrowser }

func (s BrowserSource) Requirement(ctx context.Context) (Requirement, error) {
	raw, err := s.Prober.InstalledVersion(ctx)
	if err != nil {
		return Requirement{}, err
	}
	v, err := ParseVersion(raw)
	if err != nil {
		return Requirement{}, fmt.Errorf("browser version: %w", err)
	}
	return Requirement{Version: majorOnly(v), Source: s.Name(), Hint: v}, nil
}

// FeedSource requires the last known good stable release.
type FeedSource struct {
	Feed *Feed
}

func (s FeedSource) Name() string { return sourceFeed }

func (s FeedSource) Requirement(ctx context.Context) (Requirement, error) {
	v, err := s.Feed.StableVersion(ctx)
	if err != nil {
		return Requirement{}, err
	}
	return Requirement{Version: majorOnly(v), Source: s.Name(), Hint: v}, nil
}

func majorOnly(v Version) Version {
	return MustParseVersion(strconv.Itoa(v.Major()))
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Mode SourceMode
	// Prober is required for the browser source and install intent.
	Prober browser.Prober
	// Installer runs when InstallBrowser is set.
	Installer      browser.Installer
	InstallBrowser bool
	Feed           *Feed
	// Current returns the cached base version, zero when there is none.
	Current func(ctx context.Context) Version
	Logger  Logger
}

// Resolver decides which driver version to provision.
type Resolver struct {
	cfg ResolverConfig
	log Logger
}

// NewResolver creates a resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Mode == "" {
		cfg.Mode = SourceAuto
	}
	if cfg.Current == nil {
		cfg.Current = func(context.Context) Version { return Version{} }
	}
	return &Resolver{cfg: cfg, log: loggerOrNoop(cfg.Logger)}
}

// Resolve determines the requirement for requested ("" lets the configured
// sources decide) and whether the cache must be provisioned to meet it.
// Network access only happens when the cached version does not satisfy the
// requirement or when the feed is the requirement's source.
func (r *Resolver) Resolve(ctx context.Context, requested string) (*Resolution, error) {
	req, err := r.requirement(ctx, requested)
	if err != nil {
		return nil, resolutionError("resolve version", err)
	}

	res := &Resolution{Requirement: req, Current: r.cfg.Current(ctx)}
	if req.SatisfiedBy(res.Current) {
		res.Target = res.Current
		r.log.Debug("cached driver satisfies requirement", "requirement", req, "current", res.Current)
		return res, nil
	}

	target, err := r.pin(ctx, req)
	if err != nil {
		return nil, resolutionError("pin driver version", err)
	}
	res.Target = target
	res.NeedsProvisioning = true

	r.log.Debug("driver version resolved", "requirement", req, "source", req.Source, "current", res.Current, "target", target)
	return res, nil
}

func (r *Resolver) requirement(ctx context.Context, requested string) (Requirement, error) {
	if requested != "" {
		req, err := ExplicitSource{Version: requested}.Requirement(ctx)
		if err != nil {
			return Requirement{}, err
		}
		if err := r.installIntent(ctx, req); err != nil {
			return Requirement{}, err
		}
		return req, nil
	}

	var sources []VersionSource
	switch r.cfg.Mode {
	case SourceBrowser:
		sources = append(sources, r.browserSource())
	case SourceFeed:
		sources = append(sources, r.feedSource())
	default:
		sources = append(sources, r.browserSource(), r.feedSource())
	}

	var errs []error
	for _, src := range sources {
		if src == nil {
			continue
		}
		req, err := src.Requirement(ctx)
		if err == nil {
			return req, nil
		}
		if ctx.Err() != nil {
			return Requirement{}, ctx.Err()
		}
		r.log.Debug("version source unavailable", "source", src.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
	}

	if len(errs) == 0 {
		return Requirement{}, fmt.Errorf("no version source configured for mode %q", r.cfg.Mode)
	}
	return Requirement{}, errors.Join(errs...)
}

func (r *Resolver) browserSource() VersionSource {
	if r.cfg.Prober == nil {
		return nil
	}
	return installingSource{r: r, src: BrowserSource{Prober: r.cfg.Prober}}
}

func (r *Resolver) feedSource() VersionSource {
	if r.cfg.Feed == nil {
		return nil
	}
	return FeedSource{Feed: r.cfg.Feed}
}

// installingSource installs the latest browser when none is found and
// install intent is enabled, then probes again.
type installingSource struct {
	r   *Resolver
	src BrowserSource
}

func (s installingSource) Name() string { return s.src.Name() }

func (s installingSource) Requirement(ctx context.Context) (Requirement, error) {
	req, err := s.src.Requirement(ctx)
	if err == nil || !errors.Is(err, browser.ErrNotInstalled) || !s.r.installEnabled() {
		return req, err
	}
	if err := s.r.install(ctx, browser.LatestVersion); err != nil {
		return Requirement{}, err
	}
	return s.src.Requirement(ctx)
}

func (r *Resolver) installEnabled() bool {
	return r.cfg.InstallBrowser && r.cfg.Installer != nil
}

// installIntent asks the installer for the requested browser when the
// installed one is missing or of a different major.
func (r *Resolver) installIntent(ctx context.Context, req Requirement) error {
	if !r.installEnabled() || r.cfg.Prober == nil {
		return nil
	}

	raw, err := r.cfg.Prober.InstalledVersion(ctx)
	if err == nil {
		if v, perr := ParseVersion(raw); perr == nil && v.Major() == req.Version.Major() {
			return nil
		}
	} else if !errors.Is(err, browser.ErrNotInstalled) {
		return err
	}

	return r.install(ctx, req.Version.String())
}

func (r *Resolver) install(ctx context.Context, version string) error {
	r.log.Info("installing browser", "version", version)
	if err := r.cfg.Installer.Install(ctx, version); err != nil {
		return fmt.Errorf("install browser: %w", err)
	}
	return nil
}

// pin turns a requirement into a full, downloadable version. A known full
// build is used as-is; Chrome for Testing publishes a driver for every
// browser build. Bare milestones are looked up in the feed.
func (r *Resolver) pin(ctx context.Context, req Requirement) (Version, error) {
	if req.Exact {
		return req.Version, nil
	}
	if !req.Hint.IsZero() && !req.Hint.IsLegacy() {
		return req.Hint, nil
	}
	if r.cfg.Feed == nil {
		return Version{}, fmt.Errorf("no feed configured to pin milestone %d", req.Version.Major())
	}
	return r.cfg.Feed.MilestoneVersion(ctx, req.Version.Major())
}
