package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	stableFeedFile    = "last-known-good-versions-with-downloads.json"
	milestoneFeedFile = "latest-versions-per-milestone-with-downloads.json"
	stableChannel     = "Stable"
)

type channelsDocument struct {
	Channels map[string]struct {
		Version string `json:"version"`
	} `json:"channels"`
}

type milestonesDocument struct {
	Milestones map[string]struct {
		Version string `json:"version"`
	} `json:"milestones"`
}

// Feed queries the remote version feeds.
type Feed struct {
	endpoints  Endpoints
	downloader *Downloader
}

// NewFeed creates a feed client.
func NewFeed(endpoints Endpoints, downloader *Downloader) *Feed {
	if downloader == nil {
		downloader = NewDownloader()
	}
	return &Feed{endpoints: endpoints.withDefaults(), downloader: downloader}
}

// StableVersion returns the last known good stable driver version.
func (f *Feed) StableVersion(ctx context.Context) (Version, error) {
	url := f.endpoints.Feed + "/" + stableFeedFile

	var doc channelsDocument
	if err := f.getJSON(ctx, url, &doc); err != nil {
		return Version{}, err
	}

	ch, ok := doc.Channels[stableChannel]
	if !ok {
		return Version{}, fetchError("read stable feed", url, 0, fmt.Errorf("no %s channel", stableChannel))
	}
	return parseFeedVersion(url, ch.Version)
}

// MilestoneVersion returns the newest driver version published for major.
func (f *Feed) MilestoneVersion(ctx context.Context, major int) (Version, error) {
	if major <= LegacyMaxMajor {
		return f.legacyLatestRelease(ctx, major)
	}

	url := f.endpoints.Feed + "/" + milestoneFeedFile

	var doc milestonesDocument
	if err := f.getJSON(ctx, url, &doc); err != nil {
		return Version{}, err
	}

	m, ok := doc.Milestones[strconv.Itoa(major)]
	if !ok {
		return Version{}, fetchError("read milestone feed", url, 0, fmt.Errorf("milestone %d not published", major))
	}
	return parseFeedVersion(url, m.Version)
}

// legacyLatestRelease reads LATEST_RELEASE_<major> from the legacy bucket.
func (f *Feed) legacyLatestRelease(ctx context.Context, major int) (Version, error) {
	url := fmt.Sprintf("%s/LATEST_RELEASE_%d", f.endpoints.Legacy, major)

	body, err := f.downloader.Get(ctx, url)
	if err != nil {
		return Version{}, fetchError("read latest release", url, statusOf(err), err)
	}
	return parseFeedVersion(url, string(body))
}

func (f *Feed) getJSON(ctx context.Context, url string, v any) error {
	body, err := f.downloader.Get(ctx, url)
	if err != nil {
		return fetchError("read version feed", url, statusOf(err), err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fetchError("decode version feed", url, 0, err)
	}
	return nil
}

func parseFeedVersion(url, s string) (Version, error) {
	v, err := ParseVersion(s)
	if err != nil {
		return Version{}, fetchError("parse feed version", url, 0, err)
	}
	return v, nil
}
