package driver

import (
	"context"
	"fmt"
	"os"
)

// CachingMode names a CachingPolicy.
type CachingMode string

const (
	// CachingCached keeps one patched base binary and copies it per session.
	CachingCached CachingMode = "cached"
	// CachingUncached fetches and patches straight into every instance.
	CachingUncached CachingMode = "uncached"
)

// CachingPolicy turns a resolution into a patched instance.
type CachingPolicy interface {
	Mode() CachingMode
	Provide(ctx context.Context, res *Resolution) (*Instance, error)
}

// CachedPolicy serves instances from the base cache.
type CachedPolicy struct {
	Cache  *Cache
	Issuer *Issuer
}

func (p *CachedPolicy) Mode() CachingMode { return CachingCached }

// Provide ensures the base binary and issues a copy of it.
func (p *CachedPolicy) Provide(ctx context.Context, res *Resolution) (*Instance, error) {
	if _, err := p.Cache.Ensure(ctx, res); err != nil {
		return nil, err
	}
	return p.Issuer.Issue()
}

// UncachedPolicy downloads a fresh archive for every instance. It never
// touches the base binary and takes no lock.
type UncachedPolicy struct {
	Fetcher   *Fetcher
	Extractor *Extractor
	Patcher   *Patcher
	Issuer    *Issuer
	Layout    Layout
}

func (p *UncachedPolicy) Mode() CachingMode { return CachingUncached }

// Provide fetches res.Target and extracts and patches it into a new
// instance path.
func (p *UncachedPolicy) Provide(ctx context.Context, res *Resolution) (*Instance, error) {
	if res.Target.IsZero() {
		return nil, resolutionError("provide instance", fmt.Errorf("no pinned version for requirement %s", res.Requirement))
	}
	if err := p.Layout.ensureDirs(); err != nil {
		return nil, err
	}

	pkg, err := p.Fetcher.Fetch(ctx, res.Target, p.Layout.Target)
	if err != nil {
		return nil, err
	}
	defer pkg.Remove()

	path := p.Issuer.NewPath()
	if err := p.Issuer.claim(path); err != nil {
		return nil, err
	}
	discard := func() {
		os.Remove(path)
		p.Issuer.dropOwner(path)
	}

	if err := p.Extractor.ExtractBinary(pkg.Path, path, p.Layout.Target.ExecutableName()); err != nil {
		discard()
		return nil, err
	}

	if _, err := p.Patcher.Patch(path); err != nil {
		discard()
		return nil, err
	}
	if err := os.Chmod(path, 0755); err != nil {
		discard()
		return nil, fileError(KindPatch, "chmod driver", path, err)
	}

	recordInstanceIssued()
	return p.Issuer.Track(path, false, false), nil
}
