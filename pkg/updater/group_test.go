package updater

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func needUpdate(group, name, hash string, size int64) *CheckInfo {
	b := bundle(group, name, hash, size)
	c := &CheckInfo{Name: b.Identity(), Remote: b}
	c.RefreshState()
	return c
}

func TestRegistry_SyncCreatesUpdaters(t *testing.T) {
	r := NewRegistry()
	got := r.Sync([]*CheckInfo{
		needUpdate("ui", "a", "h1", 10),
		needUpdate("ui", "b", "h1", 10),
		needUpdate("maps", "m", "h1", 5),
	})
	require.Len(t, got, 2)
	assert.Equal(t, "maps", got[0].Group)
	assert.Equal(t, "ui", got[1].Group)
	assert.Equal(t, 2, got[1].Pending())
	assert.Equal(t, int64(20), got[1].TotalBytes())
	assert.Len(t, r.UpdateInfos(), 3)
}

func TestRegistry_SyncIsIdempotent(t *testing.T) {
	r := NewRegistry()
	infos := []*CheckInfo{needUpdate("ui", "a", "h1", 10)}
	r.Sync(infos)
	r.Sync(infos)
	u, ok := r.Get("ui")
	require.True(t, ok)
	assert.Equal(t, 1, u.Pending())
}

func TestRegistry_SyncReplacesVersionAndDropsCurrent(t *testing.T) {
	r := NewRegistry()
	r.Sync([]*CheckInfo{
		needUpdate("ui", "a", "h1", 10),
		needUpdate("ui", "b", "h1", 10),
	})
	current := &CheckInfo{Name: "ui/b", ReadOnly: bundle("ui", "b", "h2", 10), Remote: bundle("ui", "b", "h2", 10)}
	current.RefreshState()
	r.Sync([]*CheckInfo{needUpdate("ui", "a", "h9", 10), current})

	u, _ := r.Get("ui")
	infos := u.Infos()
	require.Len(t, infos, 1)
	assert.Equal(t, "h9", infos[0].Manifest.Hash)
	assert.Equal(t, 1, u.Pending())
}

func TestRegistry_SyncReturnsOnlyCheckedGroups(t *testing.T) {
	r := NewRegistry()
	r.Sync([]*CheckInfo{
		needUpdate("ui", "a", "h1", 10),
		needUpdate("maps", "m", "h1", 5),
	})

	got := r.Sync([]*CheckInfo{needUpdate("ui", "a", "h1", 10)})
	require.Len(t, got, 1)
	assert.Equal(t, "ui", got[0].Group)

	maps, ok := r.Get("maps")
	require.True(t, ok)
	assert.Equal(t, 1, maps.Pending(), "unchecked group keeps its queue")
}

func TestGroupUpdater_Lifecycle(t *testing.T) {
	r := NewRegistry()
	r.Sync([]*CheckInfo{
		needUpdate("ui", "a", "h1", 10),
		needUpdate("ui", "b", "h1", 30),
	})
	u, _ := r.Get("ui")
	assert.Equal(t, UpdaterFree, u.State())

	require.NoError(t, u.start())
	assert.Equal(t, UpdaterRunning, u.State())

	a := u.next()
	require.NotNil(t, a)
	assert.Equal(t, UpdateDownloading, a.State)
	a.DownloadedBytesLength = 5
	assert.InDelta(t, 0.125, u.Progress(), 1e-9)
	u.succeed(a)
	assert.Equal(t, UpdateSuccess, a.State)
	assert.Equal(t, 1.0, a.Progress())

	b := u.next()
	boom := errors.New("boom")
	u.fail(b, boom)
	assert.Equal(t, UpdaterPaused, u.State())
	assert.ErrorIs(t, u.start(), ErrPaused)
	assert.Equal(t, []*UpdateInfo{b}, u.Failed())
	assert.Equal(t, 1, u.Pending())

	require.NoError(t, u.Resume())
	assert.Equal(t, UpdaterRunning, u.State())
	assert.Equal(t, UpdateWaiting, b.State)
	assert.Nil(t, b.Err)
	assert.ErrorIs(t, u.Resume(), ErrNotPaused)

	assert.Same(t, b, u.next())
	u.succeed(b)
	assert.Nil(t, u.next())
	u.settle()
	assert.Equal(t, UpdaterFree, u.State())
	assert.Equal(t, 1.0, u.Progress())
}

func TestRegistry_ClearKeepsRunning(t *testing.T) {
	r := NewRegistry()
	r.Sync([]*CheckInfo{
		needUpdate("ui", "a", "h1", 10),
		needUpdate("maps", "m", "h1", 10),
	})
	u, _ := r.Get("ui")
	require.NoError(t, u.start())

	assert.Equal(t, []string{"ui"}, r.Clear())
	_, ok := r.Get("maps")
	assert.False(t, ok)
	_, ok = r.Get("ui")
	assert.True(t, ok)
}
