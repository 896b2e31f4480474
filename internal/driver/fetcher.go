package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/platform"
)

// Endpoints are the remote locations driver versions and archives come from.
type Endpoints struct {
	// Feed serves the Chrome for Testing JSON version feeds.
	Feed string
	// Legacy is the storage bucket for majors up to LegacyMaxMajor.
	Legacy string
	// Downloads serves Chrome for Testing archives.
	Downloads string
}

// DefaultEndpoints are the public Google endpoints.
var DefaultEndpoints = Endpoints{
	Feed:      "https://googlechromelabs.github.io/chrome-for-testing",
	Legacy:    "https://chromedriver.storage.googleapis.com",
	Downloads: "https://storage.googleapis.com/chrome-for-testing-public",
}

func (e Endpoints) withDefaults() Endpoints {
	if e.Feed == "" {
		e.Feed = DefaultEndpoints.Feed
	}
	if e.Legacy == "" {
		e.Legacy = DefaultEndpoints.Legacy
	}
	if e.Downloads == "" {
		e.Downloads = DefaultEndpoints.Downloads
	}
	e.Feed = strings.TrimRight(e.Feed, "/")
	e.Legacy = strings.TrimRight(e.Legacy, "/")
	e.Downloads = strings.TrimRight(e.Downloads, "/")
	return e
}

// Package is a downloaded driver archive waiting to be extracted.
type Package struct {
	URL     string
	Path    string
	Version Version
	Target  platform.Target
}

// Remove deletes the archive.
func (p *Package) Remove() error {
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Fetcher downloads driver archives into a scratch directory.
type Fetcher struct {
	dir        string
	endpoints  Endpoints
	downloader *Downloader
}

// NewFetcher creates a fetcher writing archives into dir.
func NewFetcher(dir string, endpoints Endpoints, downloader *Downloader) *Fetcher {
	if downloader == nil {
		downloader = NewDownloader()
	}
	return &Fetcher{
		dir:        dir,
		endpoints:  endpoints.withDefaults(),
		downloader: downloader,
	}
}

// DownloadURL returns the archive URL of version for target.
func (f *Fetcher) DownloadURL(version Version, target platform.Target) (string, error) {
	plat, err := target.DriverPlatform(version.IsLegacy())
	if err != nil {
		return "", err
	}

	if version.IsLegacy() {
		return fmt.Sprintf("%s/%s/chromedriver_%s.zip", f.endpoints.Legacy, version, plat), nil
	}
	return fmt.Sprintf("%s/%s/%s/chromedriver-%s.zip", f.endpoints.Downloads, version, plat, plat), nil
}

// Fetch downloads the archive of version for target. The caller owns the
// returned package and must Remove it.
func (f *Fetcher) Fetch(ctx context.Context, version Version, target platform.Target) (*Package, error) {
	url, err := f.DownloadURL(version, target)
	if err != nil {
		return nil, fetchError("build download url", "", 0, err)
	}

	name := fmt.Sprintf("%s.%s.zip", strings.TrimSuffix(filepath.Base(url), ".zip"), uuid.NewString()[:8])
	dest := filepath.Join(f.dir, name)

	if err := f.downloader.DownloadToFile(ctx, url, dest); err != nil {
		os.Remove(dest)
		return nil, fetchError("download driver", url, statusOf(err), err)
	}
	recordFetch()

	return &Package{URL: url, Path: dest, Version: version, Target: target}, nil
}
