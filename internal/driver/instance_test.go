package driver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/driver/mocks"
)

func newTestIssuer(t *testing.T, procs ProcessKiller) (*Issuer, Layout) {
	t.Helper()
	layout := Layout{Root: t.TempDir(), Target: linuxTarget}
	require.NoError(t, layout.ensureDirs())
	require.NoError(t, os.WriteFile(layout.BasePath(), driverBinary("120.0.6099.0"), 0755))
	return NewIssuer(layout, procs, 50*time.Millisecond, nil), layout
}

func TestIssueIsolation(t *testing.T) {
	issuer, layout := newTestIssuer(t, nil)

	a, err := issuer.Issue()
	require.NoError(t, err)
	b, err := issuer.Issue()
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path)
	assert.Equal(t, layout.InstancesDir(), filepath.Dir(a.Path))
	assert.Len(t, filepath.Base(a.Path), 32)

	for _, in := range []*Instance{a, b} {
		data, err := os.ReadFile(in.Path)
		require.NoError(t, err)
		assert.Equal(t, driverBinary("120.0.6099.0"), data)

		info, err := os.Stat(in.Path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	}

	a.Release()
	assert.NoFileExists(t, a.Path)
	assert.FileExists(t, b.Path)
	assert.FileExists(t, layout.BasePath())

	a.Release()
	b.Release()
	assert.NoFileExists(t, b.Path)
	assert.Empty(t, issuer.Live())
}

func TestIssueWithoutBase(t *testing.T) {
	layout := Layout{Root: t.TempDir(), Target: linuxTarget}
	issuer := NewIssuer(layout, nil, 0, nil)

	_, err := issuer.Issue()
	assert.ErrorIs(t, err, ErrPatch)

	entries, err := os.ReadDir(layout.InstancesDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReleaseKeepsExternalAndShared(t *testing.T) {
	issuer, layout := newTestIssuer(t, nil)

	external := issuer.Track(layout.BasePath(), true, false)
	external.Release()
	assert.FileExists(t, layout.BasePath())

	in, err := issuer.Issue()
	require.NoError(t, err)
	in.Shared = true
	in.Release()
	assert.FileExists(t, in.Path)

	_, live := issuer.Lookup(in.Path)
	assert.False(t, live)
}

func TestReleaseMissingFile(t *testing.T) {
	issuer, _ := newTestIssuer(t, nil)

	in, err := issuer.Issue()
	require.NoError(t, err)
	require.NoError(t, os.Remove(in.Path))

	start := time.Now()
	in.Release()
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

// writeInstance creates an instance file aged by age.
func writeInstance(t *testing.T, layout Layout, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(layout.InstancesDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("driver"), 0755))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestReapStaleShared(t *testing.T) {
	issuer, layout := newTestIssuer(t, nil)

	oldest := writeInstance(t, layout, "aaaa", 3*time.Hour)
	older := writeInstance(t, layout, "bbbb", 2*time.Hour)
	newest := writeInstance(t, layout, "cccc", time.Minute)

	res, err := issuer.ReapStale(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, newest, res.Survivor)
	assert.Equal(t, 2, res.Removed)
	assert.NoFileExists(t, oldest)
	assert.NoFileExists(t, older)
	assert.FileExists(t, newest)
}

// writeOwner records pid as the issuer of the instance at path.
func writeOwner(t *testing.T, path string, pid int32) {
	t.Helper()
	require.NoError(t, os.WriteFile(path+ownerSuffix, []byte(strconv.Itoa(int(pid))+"\n"), 0644))
}

func TestIssueRecordsOwner(t *testing.T) {
	issuer, _ := newTestIssuer(t, nil)

	in, err := issuer.Issue()
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), readOwner(in.Path))

	in.Release()
	assert.NoFileExists(t, in.Path+ownerSuffix)
}

func TestReapStaleSingle(t *testing.T) {
	ctrl := gomock.NewController(t)
	procs := mocks.NewMockProcessKiller(ctrl)
	issuer, layout := newTestIssuer(t, procs)

	live, err := issuer.Issue()
	require.NoError(t, err)
	running := writeInstance(t, layout, "running", time.Hour)
	orphan := writeInstance(t, layout, "orphan", time.Hour)
	fresh := writeInstance(t, layout, "fresh", time.Minute)

	sibling := writeInstance(t, layout, "sibling", time.Hour)
	writeOwner(t, sibling, int32(os.Getpid()))
	foreignAlive := writeInstance(t, layout, "foreign-alive", time.Hour)
	writeOwner(t, foreignAlive, 4242)
	foreignDead := writeInstance(t, layout, "foreign-dead", time.Hour)
	writeOwner(t, foreignDead, 4243)
	foreignUnknown := writeInstance(t, layout, "foreign-unknown", time.Hour)
	writeOwner(t, foreignUnknown, 4244)

	procs.EXPECT().RunningExecutables(gomock.Any()).Return(map[string]bool{running: true}, nil)
	procs.EXPECT().ProcessAlive(gomock.Any(), int32(4242)).Return(true, nil)
	procs.EXPECT().ProcessAlive(gomock.Any(), int32(4243)).Return(false, nil)
	procs.EXPECT().ProcessAlive(gomock.Any(), int32(4244)).Return(false, errors.New("permission denied"))

	res, err := issuer.ReapStale(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Removed)
	assert.Empty(t, res.Survivor)

	assert.NoFileExists(t, orphan)
	assert.NoFileExists(t, foreignDead)
	assert.NoFileExists(t, foreignDead+ownerSuffix)

	for _, kept := range []string{live.Path, running, fresh, sibling, foreignAlive, foreignUnknown} {
		assert.FileExists(t, kept)
	}
}

func TestReapStaleSingleWithoutProcessTable(t *testing.T) {
	t.Run("listing fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		procs := mocks.NewMockProcessKiller(ctrl)
		issuer, layout := newTestIssuer(t, procs)

		orphan := writeInstance(t, layout, "orphan", time.Hour)
		foreign := writeInstance(t, layout, "foreign", time.Hour)
		writeOwner(t, foreign, 4243)
		procs.EXPECT().RunningExecutables(gomock.Any()).Return(nil, errors.New("permission denied"))

		res, err := issuer.ReapStale(context.Background(), false)
		require.NoError(t, err)
		assert.Zero(t, res.Removed)
		assert.FileExists(t, orphan)
		assert.FileExists(t, foreign)
	})

	t.Run("no process access", func(t *testing.T) {
		issuer, layout := newTestIssuer(t, nil)

		orphan := writeInstance(t, layout, "orphan", time.Hour)

		res, err := issuer.ReapStale(context.Background(), false)
		require.NoError(t, err)
		assert.Zero(t, res.Removed)
		assert.FileExists(t, orphan)
	})
}

func TestReapStaleEmpty(t *testing.T) {
	issuer := NewIssuer(Layout{Root: t.TempDir(), Target: linuxTarget}, nil, 0, nil)

	res, err := issuer.ReapStale(context.Background(), true)
	require.NoError(t, err)
	assert.Zero(t, res.Removed)
}

func TestListInstances(t *testing.T) {
	ctrl := gomock.NewController(t)
	procs := mocks.NewMockProcessKiller(ctrl)
	issuer, layout := newTestIssuer(t, procs)

	live, err := issuer.Issue()
	require.NoError(t, err)
	running := writeInstance(t, layout, "running", time.Hour)
	writeInstance(t, layout, "partial.tmp", time.Minute)
	writeOwner(t, running, 4242)

	procs.EXPECT().RunningExecutables(gomock.Any()).Return(map[string]bool{running: true}, nil)

	infos, err := issuer.List(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, live.Path, infos[0].Path)
	assert.True(t, infos[0].Live)
	assert.False(t, infos[0].Running)
	assert.Equal(t, int32(os.Getpid()), infos[0].Owner)
	assert.Equal(t, int64(len(driverBinary("120.0.6099.0"))), infos[0].Size)

	assert.Equal(t, running, infos[1].Path)
	assert.True(t, infos[1].Running)
	assert.False(t, infos[1].Live)
	assert.Equal(t, int32(4242), infos[1].Owner)
}
