package driver

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	browsermocks "github.com/ZebulonRouseFrantzich/stealthdriver/internal/browser/mocks"
	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/driver/mocks"
)

type provisionerFixture struct {
	p      *Provisioner
	repo   *fakeRepo
	prober *browsermocks.MockProber
	procs  *mocks.MockProcessKiller
	root   string
}

func newProvisionerFixture(t *testing.T, mutate func(*Config)) *provisionerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	f := &provisionerFixture{
		repo:   newFakeRepo(t),
		prober: browsermocks.NewMockProber(ctrl),
		procs:  mocks.NewMockProcessKiller(ctrl),
		root:   t.TempDir(),
	}
	f.procs.EXPECT().RunningExecutables(gomock.Any()).Return(map[string]bool{}, nil).AnyTimes()

	cfg := Config{
		CacheRoot:      f.root,
		Target:         linuxTarget,
		Endpoints:      f.repo.endpoints(),
		Prober:         f.prober,
		Processes:      f.procs,
		LockTimeout:    10 * time.Second,
		ReleaseTimeout: 50 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	p, err := NewProvisioner(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	f.p = p
	return f
}

func TestNewProvisionerValidation(t *testing.T) {
	_, err := NewProvisioner(Config{Target: linuxTarget})
	assert.Error(t, err)

	_, err = NewProvisioner(Config{CacheRoot: t.TempDir()})
	assert.Error(t, err)

	_, err = NewProvisioner(Config{CacheRoot: t.TempDir(), Target: linuxTarget, Caching: "sometimes"})
	assert.Error(t, err)
}

func TestProvisionEndToEnd(t *testing.T) {
	f := newProvisionerFixture(t, nil)
	f.repo.publish(t, "120.0.6099.0")
	f.prober.EXPECT().InstalledVersion(gomock.Any()).Return("120.0.6099.0", nil)

	path, err := f.p.Provision(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(f.root, "instances"), filepath.Dir(path))
	assert.True(t, f.p.IsPatched(path))
	assert.True(t, f.p.IsPatched(filepath.Join(f.root, "base_driver")))

	record, err := os.ReadFile(filepath.Join(f.root, "version"))
	require.NoError(t, err)
	assert.Equal(t, "120.0.6099.0\n", string(record))
	assert.Equal(t, int32(1), f.repo.downloads.Load())

	f.p.ReleaseInstance(path)
	assert.NoFileExists(t, path)
}

func TestProvisionCachedSecondPass(t *testing.T) {
	f := newProvisionerFixture(t, nil)
	f.repo.publish(t, "120.0.6099.0")
	f.prober.EXPECT().InstalledVersion(gomock.Any()).Return("120.0.6099.0", nil).Times(2)

	a, err := f.p.Acquire(context.Background(), Options{})
	require.NoError(t, err)
	b, err := f.p.Acquire(context.Background(), Options{})
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path)
	assert.Equal(t, int32(1), f.repo.downloads.Load())

	require.NoError(t, f.p.Close())
	assert.NoFileExists(t, a.Path)
	assert.NoFileExists(t, b.Path)
}

func TestProvisionVersionMismatch(t *testing.T) {
	f := newProvisionerFixture(t, nil)
	f.repo.publish(t, "119.0.6045.105")
	f.repo.publish(t, "120.0.6099.0")

	_, err := f.p.Provision(context.Background(), Options{Version: "119.0.6045.105"})
	require.NoError(t, err)

	path, err := f.p.Provision(context.Background(), Options{Version: "120.0.6099.0"})
	require.NoError(t, err)

	v, ok := f.p.Cache().RecordedVersion()
	require.True(t, ok)
	assert.Equal(t, "120.0.6099.0", v.String())

	got, err := embeddedVersion(path)
	require.NoError(t, err)
	assert.Equal(t, "120.0.6099.0", got.String())
}

func TestProvisionersShareRootWithoutReapingEachOther(t *testing.T) {
	f := newProvisionerFixture(t, nil)
	f.repo.publish(t, "120.0.6099.0")

	other, err := NewProvisioner(Config{
		CacheRoot:      f.root,
		Target:         linuxTarget,
		Endpoints:      f.repo.endpoints(),
		Processes:      f.procs,
		LockTimeout:    10 * time.Second,
		ReleaseTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })

	opts := Options{Version: "120.0.6099.0"}
	mine, err := f.p.Acquire(context.Background(), opts)
	require.NoError(t, err)

	theirs, err := other.Acquire(context.Background(), opts)
	require.NoError(t, err)
	assert.FileExists(t, mine.Path)

	require.NoError(t, other.Close())
	assert.NoFileExists(t, theirs.Path)
	assert.FileExists(t, mine.Path)

	t.Run("instances of exited processes are reaped", func(t *testing.T) {
		writeOwner(t, mine.Path, 4242)
		f.procs.EXPECT().ProcessAlive(gomock.Any(), int32(4242)).Return(false, nil)

		again, err := other.Acquire(context.Background(), opts)
		require.NoError(t, err)
		assert.FileExists(t, again.Path)
		assert.NoFileExists(t, mine.Path)
		assert.NoFileExists(t, mine.Path+ownerSuffix)
	})
}

func TestProvisionCustomPatchedPath(t *testing.T) {
	f := newProvisionerFixture(t, nil)

	custom := filepath.Join(t.TempDir(), "chromedriver")
	content := []byte("\x7fELF {console.log(\"undetected chromedriver 1337!\")} tail")
	require.NoError(t, os.WriteFile(custom, content, 0755))

	path, err := f.p.Provision(context.Background(), Options{ExecutablePath: custom})
	require.NoError(t, err)
	assert.Equal(t, custom, path)

	got, err := os.ReadFile(custom)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Zero(t, f.repo.requests.Load())

	f.p.ReleaseInstance(path)
	assert.FileExists(t, custom)
}

func TestProvisionCustomUnpatchedPath(t *testing.T) {
	f := newProvisionerFixture(t, nil)

	custom := filepath.Join(t.TempDir(), "chromedriver")
	require.NoError(t, os.WriteFile(custom, driverBinary("120.0.6099.0"), 0755))

	path, err := f.p.Provision(context.Background(), Options{ExecutablePath: custom})
	require.NoError(t, err)
	assert.True(t, f.p.IsPatched(path))
	assert.Zero(t, f.repo.requests.Load())
}

func TestProvisionShared(t *testing.T) {
	f := newProvisionerFixture(t, nil)
	f.repo.publish(t, "120.0.6099.0")
	f.prober.EXPECT().InstalledVersion(gomock.Any()).Return("120.0.6099.0", nil)

	first, err := f.p.Acquire(context.Background(), Options{Shared: true})
	require.NoError(t, err)
	assert.True(t, first.Shared)

	second, err := f.p.Acquire(context.Background(), Options{Shared: true})
	require.NoError(t, err)
	assert.Equal(t, first.Path, second.Path)
	assert.True(t, second.Shared)

	first.Release()
	second.Release()
	assert.FileExists(t, first.Path)
}

func TestProvisionUncached(t *testing.T) {
	f := newProvisionerFixture(t, func(c *Config) { c.Caching = CachingUncached })
	f.repo.publish(t, "120.0.6099.0")

	a, err := f.p.Acquire(context.Background(), Options{Version: "120.0.6099.0"})
	require.NoError(t, err)
	b, err := f.p.Acquire(context.Background(), Options{Version: "120.0.6099.0"})
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path)
	assert.True(t, f.p.IsPatched(a.Path))
	assert.True(t, f.p.IsPatched(b.Path))
	assert.Equal(t, int32(2), f.repo.downloads.Load())
	assert.NoFileExists(t, filepath.Join(f.root, "base_driver"))
}

func TestProvisionVerifyFailure(t *testing.T) {
	unpatchable := buildZip(t, map[string][]byte{
		"chromedriver-linux64/chromedriver": []byte("\x7fELF no detection block here"),
	})

	t.Run("required", func(t *testing.T) {
		f := newProvisionerFixture(t, nil)
		f.repo.publishArchive("120.0.6099.0", unpatchable)

		failures := testutil.ToFloat64(metricFailures.WithLabelValues(string(KindPatch)))

		_, err := f.p.Acquire(context.Background(), Options{Version: "120.0.6099.0"})
		require.ErrorIs(t, err, ErrPatch)
		assert.Equal(t, failures+1, testutil.ToFloat64(metricFailures.WithLabelValues(string(KindPatch))))

		entries, err := os.ReadDir(filepath.Join(f.root, "instances"))
		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.NoFileExists(t, filepath.Join(f.root, "base_driver"))
		assert.NoFileExists(t, filepath.Join(f.root, "version"))

		_, err = f.p.Acquire(context.Background(), Options{Version: "120.0.6099.0"})
		require.ErrorIs(t, err, ErrPatch)
		assert.Equal(t, int32(2), f.repo.downloads.Load())
	})

	t.Run("allowed", func(t *testing.T) {
		f := newProvisionerFixture(t, func(c *Config) { c.AllowUnpatched = true })
		f.repo.publishArchive("120.0.6099.0", unpatchable)

		inst, err := f.p.Acquire(context.Background(), Options{Version: "120.0.6099.0"})
		require.NoError(t, err)
		assert.False(t, f.p.IsPatched(inst.Path))
		assert.FileExists(t, filepath.Join(f.root, "base_driver"))
	})
}

func TestProvisionResolutionFailure(t *testing.T) {
	f := newProvisionerFixture(t, func(c *Config) { c.SourceMode = SourceBrowser })
	f.prober.EXPECT().InstalledVersion(gomock.Any()).Return("", os.ErrNotExist)

	_, err := f.p.Provision(context.Background(), Options{})
	require.ErrorIs(t, err, ErrResolution)
	assert.Zero(t, f.repo.downloads.Load())
}

// denyRemoval makes the next n instance removals fail with EACCES.
func denyRemoval(p *Provisioner, n int) {
	p.issuer.unlink = func(path string) error {
		if n > 0 {
			n--
			return &fs.PathError{Op: "remove", Path: path, Err: syscall.EACCES}
		}
		return os.Remove(path)
	}
}

func TestProvisionStaleExecutable(t *testing.T) {
	t.Run("force kills holders and retries", func(t *testing.T) {
		f := newProvisionerFixture(t, nil)
		f.repo.publish(t, "120.0.6099.0")

		first, err := f.p.Acquire(context.Background(), Options{Version: "120.0.6099.0"})
		require.NoError(t, err)
		first.Shared = true
		first.Release()

		denyRemoval(f.p, 1)
		f.procs.EXPECT().KillByName(gomock.Any(), filepath.Base(first.Path)).Return(1, nil)

		second, err := f.p.Acquire(context.Background(), Options{Version: "120.0.6099.0", Force: true})
		require.NoError(t, err)
		assert.NotEqual(t, first.Path, second.Path)
		assert.NoFileExists(t, first.Path)
	})

	t.Run("patched leftover is reused", func(t *testing.T) {
		f := newProvisionerFixture(t, nil)
		f.repo.publish(t, "120.0.6099.0")

		first, err := f.p.Acquire(context.Background(), Options{Version: "120.0.6099.0"})
		require.NoError(t, err)
		first.Shared = true
		first.Release()

		denyRemoval(f.p, 10)
		again, err := f.p.Acquire(context.Background(), Options{Version: "120.0.6099.0"})
		require.NoError(t, err)
		assert.Equal(t, first.Path, again.Path)
		assert.True(t, again.External)
	})

	t.Run("unpatched leftover is a permission error", func(t *testing.T) {
		f := newProvisionerFixture(t, nil)
		f.repo.publish(t, "120.0.6099.0")

		first, err := f.p.Acquire(context.Background(), Options{Version: "120.0.6099.0"})
		require.NoError(t, err)
		first.Shared = true
		first.Release()
		require.NoError(t, os.WriteFile(first.Path, driverBinary("120.0.6099.0"), 0755))

		denyRemoval(f.p, 10)
		_, err = f.p.Acquire(context.Background(), Options{Version: "120.0.6099.0"})
		assert.ErrorIs(t, err, ErrPermission)
	})
}
