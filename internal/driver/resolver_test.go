package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/browser"
	browsermocks "github.com/ZebulonRouseFrantzich/stealthdriver/internal/browser/mocks"
)

func currentIs(v string) func(context.Context) Version {
	return func(context.Context) Version {
		if v == "" {
			return Version{}
		}
		return MustParseVersion(v)
	}
}

func TestRequirementSatisfiedBy(t *testing.T) {
	milestone := Requirement{Version: MustParseVersion("120")}
	exact := Requirement{Version: MustParseVersion("120.0.6099.109"), Exact: true}

	assert.True(t, milestone.SatisfiedBy(MustParseVersion("120.0.6099.0")))
	assert.False(t, milestone.SatisfiedBy(MustParseVersion("119.0.6045.105")))
	assert.False(t, milestone.SatisfiedBy(Version{}))
	assert.True(t, exact.SatisfiedBy(MustParseVersion("120.0.6099.109")))
	assert.False(t, exact.SatisfiedBy(MustParseVersion("120.0.6099.71")))
	assert.Equal(t, "120.*", milestone.String())
	assert.Equal(t, "120.0.6099.109", exact.String())
}

func TestResolveCachedSatisfiesWithoutNetwork(t *testing.T) {
	repo := newFakeRepo(t)

	tests := []struct {
		name      string
		requested string
	}{
		{name: "exact", requested: "120.0.6099.109"},
		{name: "milestone", requested: "120"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(ResolverConfig{
				Feed:    NewFeed(repo.endpoints(), nil),
				Current: currentIs("120.0.6099.109"),
			})

			res, err := r.Resolve(context.Background(), tt.requested)
			require.NoError(t, err)
			assert.False(t, res.NeedsProvisioning)
			assert.Equal(t, "120.0.6099.109", res.Target.String())
		})
	}
	assert.Zero(t, repo.requests.Load())
}

func TestResolveFromBrowser(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := newFakeRepo(t)
	repo.legacy["114"] = "114.0.5735.90"

	tests := []struct {
		name    string
		browser string
		current string
		target  string
		needs   bool
	}{
		{name: "empty cache pins browser build", browser: "120.0.6099.0", target: "120.0.6099.0", needs: true},
		{name: "same major is satisfied", browser: "120.0.6099.0", current: "120.0.6099.109", target: "120.0.6099.109"},
		{name: "major mismatch reprovisions", browser: "120.0.6099.0", current: "119.0.6045.105", target: "120.0.6099.0", needs: true},
		{name: "legacy browser uses latest release", browser: "114.0.5735.199", target: "114.0.5735.90", needs: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := browsermocks.NewMockProber(ctrl)
			prober.EXPECT().InstalledVersion(gomock.Any()).Return(tt.browser, nil)

			r := NewResolver(ResolverConfig{
				Prober:  prober,
				Feed:    NewFeed(repo.endpoints(), nil),
				Current: currentIs(tt.current),
			})

			res, err := r.Resolve(context.Background(), "")
			require.NoError(t, err)
			assert.Equal(t, tt.needs, res.NeedsProvisioning)
			assert.Equal(t, tt.target, res.Target.String())
			assert.Equal(t, "browser", res.Requirement.Source)
		})
	}
}

func TestResolveExplicitMilestoneUsesFeed(t *testing.T) {
	repo := newFakeRepo(t)
	repo.milestones["121"] = "121.0.6167.85"

	r := NewResolver(ResolverConfig{Feed: NewFeed(repo.endpoints(), nil)})

	res, err := r.Resolve(context.Background(), "121")
	require.NoError(t, err)
	assert.True(t, res.NeedsProvisioning)
	assert.Equal(t, "121.0.6167.85", res.Target.String())
	assert.False(t, res.Requirement.Exact)

	_, err = r.Resolve(context.Background(), "125")
	assert.ErrorIs(t, err, ErrResolution)
}

func TestResolveRejectsPartialVersion(t *testing.T) {
	repo := newFakeRepo(t)
	r := NewResolver(ResolverConfig{Feed: NewFeed(repo.endpoints(), nil)})

	for _, requested := range []string{"114.0", "120.0.6099"} {
		t.Run(requested, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), requested)
			require.ErrorIs(t, err, ErrResolution)
			assert.Contains(t, err.Error(), "must be a milestone")
		})
	}
	assert.Zero(t, repo.requests.Load())
}

func TestResolveFallsBackToFeed(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := newFakeRepo(t)
	repo.stable = "120.0.6099.109"

	prober := browsermocks.NewMockProber(ctrl)
	prober.EXPECT().InstalledVersion(gomock.Any()).Return("", browser.ErrNotInstalled)

	r := NewResolver(ResolverConfig{Prober: prober, Feed: NewFeed(repo.endpoints(), nil)})

	res, err := r.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "feed", res.Requirement.Source)
	assert.Equal(t, "120.0.6099.109", res.Target.String())
}

func TestResolveFeedModeSkipsBrowser(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := newFakeRepo(t)
	repo.stable = "121.0.6167.85"

	// No expectations: any probe fails the test.
	prober := browsermocks.NewMockProber(ctrl)

	r := NewResolver(ResolverConfig{Mode: SourceFeed, Prober: prober, Feed: NewFeed(repo.endpoints(), nil)})

	res, err := r.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "121.0.6167.85", res.Target.String())
}

func TestResolveNoSource(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := newFakeRepo(t)
	repo.feedDown.Store(true)

	prober := browsermocks.NewMockProber(ctrl)
	prober.EXPECT().InstalledVersion(gomock.Any()).Return("", browser.ErrNotInstalled)

	r := NewResolver(ResolverConfig{Prober: prober, Feed: NewFeed(repo.endpoints(), nil)})

	_, err := r.Resolve(context.Background(), "")
	require.ErrorIs(t, err, ErrResolution)
	assert.ErrorIs(t, err, browser.ErrNotInstalled)
	assert.Zero(t, repo.downloads.Load())
}

func TestResolveBrowserModeWithoutBrowser(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := newFakeRepo(t)
	repo.stable = "120.0.6099.109"

	prober := browsermocks.NewMockProber(ctrl)
	prober.EXPECT().InstalledVersion(gomock.Any()).Return("", browser.ErrNotInstalled)

	r := NewResolver(ResolverConfig{Mode: SourceBrowser, Prober: prober, Feed: NewFeed(repo.endpoints(), nil)})

	_, err := r.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrResolution)
}

func TestResolveInvalidRequest(t *testing.T) {
	_, err := NewResolver(ResolverConfig{}).Resolve(context.Background(), "latest")
	assert.ErrorIs(t, err, ErrResolution)
}

func TestResolveInstallIntent(t *testing.T) {
	t.Run("explicit version with mismatched browser", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		prober := browsermocks.NewMockProber(ctrl)
		installer := browsermocks.NewMockInstaller(ctrl)

		prober.EXPECT().InstalledVersion(gomock.Any()).Return("119.0.6045.105", nil)
		installer.EXPECT().Install(gomock.Any(), "120.0.6099.109").Return(nil)

		r := NewResolver(ResolverConfig{Prober: prober, Installer: installer, InstallBrowser: true})

		res, err := r.Resolve(context.Background(), "120.0.6099.109")
		require.NoError(t, err)
		assert.Equal(t, "120.0.6099.109", res.Target.String())
	})

	t.Run("matching browser is left alone", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		prober := browsermocks.NewMockProber(ctrl)
		installer := browsermocks.NewMockInstaller(ctrl)

		prober.EXPECT().InstalledVersion(gomock.Any()).Return("120.0.6099.0", nil)

		r := NewResolver(ResolverConfig{Prober: prober, Installer: installer, InstallBrowser: true})

		_, err := r.Resolve(context.Background(), "120.0.6099.109")
		require.NoError(t, err)
	})

	t.Run("missing browser installs latest then probes", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		prober := browsermocks.NewMockProber(ctrl)
		installer := browsermocks.NewMockInstaller(ctrl)

		gomock.InOrder(
			prober.EXPECT().InstalledVersion(gomock.Any()).Return("", browser.ErrNotInstalled),
			installer.EXPECT().Install(gomock.Any(), browser.LatestVersion).Return(nil),
			prober.EXPECT().InstalledVersion(gomock.Any()).Return("120.0.6099.0", nil),
		)

		r := NewResolver(ResolverConfig{Mode: SourceBrowser, Prober: prober, Installer: installer, InstallBrowser: true})

		res, err := r.Resolve(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, "120.0.6099.0", res.Target.String())
	})

	t.Run("installer failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		prober := browsermocks.NewMockProber(ctrl)
		installer := browsermocks.NewMockInstaller(ctrl)
		boom := errors.New("dpkg failed")

		prober.EXPECT().InstalledVersion(gomock.Any()).Return("", browser.ErrNotInstalled)
		installer.EXPECT().Install(gomock.Any(), "120").Return(boom)

		r := NewResolver(ResolverConfig{Prober: prober, Installer: installer, InstallBrowser: true})

		_, err := r.Resolve(context.Background(), "120")
		assert.ErrorIs(t, err, ErrResolution)
		assert.ErrorIs(t, err, boom)
	})
}
