package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warpdl/warpstream/pkg/manifest"
	"github.com/warpdl/warpstream/pkg/region"
	"github.com/warpdl/warpstream/pkg/task"
)

const (
	remoteManifestURI = "mem://remote/manifest.yaml"
	remoteBundleURI   = "mem://remote/bundles"
)

// memRemote serves fixed payloads by URI. fail holds one-shot errors.
type memRemote struct {
	mu    sync.Mutex
	files map[string][]byte
	fail  map[string]error
	block map[string]chan struct{}
	hits  map[string]int
}

func newMemRemote() *memRemote {
	return &memRemote{
		files: make(map[string][]byte),
		fail:  make(map[string]error),
		block: make(map[string]chan struct{}),
		hits:  make(map[string]int),
	}
}

func (r *memRemote) Fetch(ctx context.Context, uri string, w io.Writer, progress ProgressFunc) error {
	r.mu.Lock()
	r.hits[uri]++
	data, ok := r.files[uri]
	err := r.fail[uri]
	delete(r.fail, uri)
	gate := r.block[uri]
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	if !ok {
		return NewPermanentError("mem", "open", fmt.Errorf("%s not found", uri))
	}
	pw := newProgressWriter(w, int64(len(data)), progress)
	_, werr := pw.Write(data)
	return werr
}

func (r *memRemote) publish(t *testing.T, m *manifest.Manifest, payloads map[string]string) {
	t.Helper()
	var sb strings.Builder
	require.NoError(t, manifest.YAML.Encode(&sb, m))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[remoteManifestURI] = []byte(sb.String())
	for id, body := range payloads {
		r.files[remoteBundleURI+"/"+id] = []byte(body)
	}
}

func hashed(group, name, body string) *manifest.BundleManifestInfo {
	return bundle(group, name, manifest.HashBytes([]byte(body)), int64(len(body)))
}

type fixture struct {
	sched   *task.Scheduler
	regions *region.Regions
	rwFs    afero.Fs
	remote  *memRemote
	mgr     *Manager

	updated []string
	removed []string
	inUse   map[string]bool
}

func newFixture(t *testing.T, ro, rw *manifest.Manifest, mutate func(*Config)) *fixture {
	t.Helper()
	roFs, rwFs := afero.NewMemMapFs(), afero.NewMemMapFs()
	if ro != nil {
		require.NoError(t, manifest.Write(roFs, "/"+region.DefaultManifestName, ro))
	}
	f := &fixture{
		sched:   task.New(task.Config{}),
		regions: region.New(roFs, rwFs, region.DefaultManifestName),
		rwFs:    rwFs,
		remote:  newMemRemote(),
		inUse:   make(map[string]bool),
	}
	if rw != nil {
		require.NoError(t, f.regions.WriteManifest(rw))
		for _, b := range rw.Bundles {
			require.NoError(t, afero.WriteFile(rwFs, region.Path(b.Identity(), region.ReadWrite), []byte("old"), 0o644))
		}
	}
	cfg := Config{
		Scheduler:     f.sched,
		Regions:       f.regions,
		Fetcher:       f.remote,
		ManifestURI:   remoteManifestURI,
		BundleBaseURI: remoteBundleURI,
		Verify:        true,
		InUse:         func(id string) bool { return f.inUse[id] },
		Hooks: Hooks{
			BundleUpdated: func(b *manifest.BundleManifestInfo) { f.updated = append(f.updated, b.Identity()) },
			BundleRemoved: func(id string) { f.removed = append(f.removed, id) },
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.mgr = NewManager(cfg)
	t.Cleanup(func() { _ = f.mgr.Close() })
	return f
}

// drive ticks the scheduler until done reports true.
func (f *fixture) drive(t *testing.T, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !done() {
		require.NoError(t, f.sched.Tick())
		if time.Now().After(deadline) {
			t.Fatal("timed out driving the scheduler")
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fixture) check(t *testing.T, groups ...string) *VersionCheckResult {
	t.Helper()
	var res *VersionCheckResult
	f.mgr.CheckVersion(groups, func(r *VersionCheckResult) { res = r })
	f.drive(t, func() bool { return res != nil })
	return res
}

func (f *fixture) update(t *testing.T, group string) []*UpdateInfo {
	t.Helper()
	var done []*UpdateInfo
	_, err := f.mgr.Update(group, false, func(i *UpdateInfo) { done = append(done, i) })
	require.NoError(t, err)
	f.drive(t, func() bool { return f.sched.Len() == 0 })
	return done
}

func TestManager_CheckAndUpdate(t *testing.T) {
	ro := &manifest.Manifest{Version: "1", Bundles: []*manifest.BundleManifestInfo{hashed("ui", "a", "A1")}}
	rw := &manifest.Manifest{Version: "1", Bundles: []*manifest.BundleManifestInfo{hashed("maps", "m", "M1")}}
	f := newFixture(t, ro, rw, nil)
	f.remote.publish(t, &manifest.Manifest{Version: "2", Bundles: []*manifest.BundleManifestInfo{
		hashed("ui", "a", "A1"),
		hashed("ui", "b", "B22"),
		hashed("maps", "m", "M333"),
	}}, map[string]string{"ui/b": "B22", "maps/m": "M333"})

	res := f.check(t)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.UpdateCount)
	assert.Equal(t, int64(7), res.UpdateBytes)
	require.Len(t, res.Updaters, 2)
	assert.Equal(t, []string{"maps/m"}, f.removed)
	ok, err := afero.Exists(f.rwFs, region.Path("maps/m", region.ReadWrite))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, f.mgr.CheckInfos(), 3)
	assert.Equal(t, "2", f.mgr.Remote().Version)

	done := f.update(t, "ui")
	require.Len(t, done, 1)
	assert.Equal(t, UpdateSuccess, done[0].State)
	assert.Equal(t, []string{"ui/b"}, f.updated)

	data, err := afero.ReadFile(f.rwFs, region.Path("ui/b", region.ReadWrite))
	require.NoError(t, err)
	assert.Equal(t, "B22", string(data))
	stored, err := f.regions.ReadManifest(region.ReadWrite)
	require.NoError(t, err)
	_, ok = stored.Bundle("ui/b")
	assert.True(t, ok)
	_, ok = stored.Bundle("maps/m")
	assert.False(t, ok)

	u, _ := f.mgr.Updater("ui")
	assert.Equal(t, UpdaterFree, u.State())
	assert.Equal(t, 1.0, u.Progress())

	// A second check sees the downloaded copy as current.
	res = f.check(t, "ui")
	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.UpdateCount)
}

func TestManager_ConcurrentChecksMerge(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	f.remote.publish(t, &manifest.Manifest{Bundles: []*manifest.BundleManifestInfo{hashed("ui", "a", "A")}}, nil)

	var results []*VersionCheckResult
	cb := func(r *VersionCheckResult) { results = append(results, r) }
	first := f.mgr.CheckVersion([]string{"ui", "ui"}, cb)
	second := f.mgr.CheckVersion([]string{"ui"}, cb)
	assert.Same(t, first, second)
	assert.Equal(t, 1, second.MergeCount)
	assert.Equal(t, []string{"ui"}, first.Groups())

	f.drive(t, func() bool { return len(results) == 2 })
	assert.Same(t, results[0], results[1])
	assert.Equal(t, 1, f.remote.hits[remoteManifestURI])
}

func TestManager_CheckErrors(t *testing.T) {
	f := newFixture(t, nil, nil, func(c *Config) { c.ManifestURI = "" })
	res := f.check(t)
	assert.ErrorIs(t, res.Err, ErrNoRemote)

	f = newFixture(t, nil, nil, nil)
	res = f.check(t)
	var de *DownloadError
	assert.ErrorAs(t, res.Err, &de)
	assert.Empty(t, f.mgr.CheckInfos())
}

func TestManager_UpdateUnknownGroup(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	_, err := f.mgr.Update("nope", false, nil)
	assert.ErrorIs(t, err, ErrNoUpdater)
	_, err = f.mgr.Resume("nope", false, nil)
	assert.ErrorIs(t, err, ErrNoUpdater)
}

func TestManager_FailurePausesThenResume(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	f.remote.publish(t, &manifest.Manifest{Bundles: []*manifest.BundleManifestInfo{
		hashed("ui", "a", "AAAA"),
		hashed("ui", "b", "BB"),
	}}, map[string]string{"ui/a": "AAAA", "ui/b": "BB"})
	f.remote.fail[remoteBundleURI+"/ui/a"] = NewTransientError("mem", "copy", errors.New("reset"))

	require.NoError(t, f.check(t).Err)
	done := f.update(t, "ui")
	require.Len(t, done, 1)
	assert.Equal(t, UpdateFailed, done[0].State)
	var de *DownloadError
	require.ErrorAs(t, done[0].Err, &de)
	assert.True(t, de.IsTransient())

	u, _ := f.mgr.Updater("ui")
	assert.Equal(t, UpdaterPaused, u.State())
	assert.Equal(t, 2, u.Pending())
	_, err := f.mgr.Update("ui", false, nil)
	assert.ErrorIs(t, err, ErrPaused)

	var resumed []*UpdateInfo
	_, err = f.mgr.Resume("ui", true, func(i *UpdateInfo) { resumed = append(resumed, i) })
	require.NoError(t, err)
	f.drive(t, func() bool { return f.sched.Len() == 0 })
	require.Len(t, resumed, 2)
	assert.Equal(t, "ui/a", resumed[0].Identity())
	for _, i := range resumed {
		assert.Equal(t, UpdateSuccess, i.State)
	}
	assert.Equal(t, UpdaterFree, u.State())
	assert.ElementsMatch(t, []string{"ui/a", "ui/b"}, f.updated)
}

func TestManager_VerifyRejectsCorruptPayload(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	f.remote.publish(t, &manifest.Manifest{Bundles: []*manifest.BundleManifestInfo{hashed("ui", "a", "good")}},
		map[string]string{"ui/a": "evil"})

	require.NoError(t, f.check(t).Err)
	done := f.update(t, "ui")
	require.Len(t, done, 1)
	assert.ErrorIs(t, done[0].Err, manifest.ErrHashMismatch)
	ok, err := afero.Exists(f.rwFs, region.Path("ui/a", region.ReadWrite))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.updated)
}

func TestManager_KeepsStaleCopyInUse(t *testing.T) {
	rw := &manifest.Manifest{Bundles: []*manifest.BundleManifestInfo{hashed("ui", "a", "old")}}
	f := newFixture(t, nil, rw, nil)
	f.inUse["ui/a"] = true
	f.remote.publish(t, &manifest.Manifest{}, nil)

	res := f.check(t)
	require.NoError(t, res.Err)
	require.Len(t, res.Infos, 1)
	assert.Equal(t, Disuse, res.Infos[0].State)
	assert.True(t, res.Infos[0].NeedRemove)
	assert.Empty(t, f.removed)

	f.inUse["ui/a"] = false
	f.check(t)
	assert.Equal(t, []string{"ui/a"}, f.removed)
}

func TestManager_KeepStale(t *testing.T) {
	rw := &manifest.Manifest{Bundles: []*manifest.BundleManifestInfo{hashed("ui", "a", "old")}}
	f := newFixture(t, nil, rw, func(c *Config) { c.KeepStale = true })
	f.remote.publish(t, &manifest.Manifest{}, nil)
	f.check(t)
	assert.Empty(t, f.removed)
}

func TestManager_CancelDownload(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	f.remote.publish(t, &manifest.Manifest{Bundles: []*manifest.BundleManifestInfo{hashed("ui", "a", "A")}},
		map[string]string{"ui/a": "A"})
	f.remote.block[remoteBundleURI+"/ui/a"] = make(chan struct{})

	require.NoError(t, f.check(t).Err)
	var done []*UpdateInfo
	dt, err := f.mgr.Update("ui", false, func(i *UpdateInfo) { done = append(done, i) })
	require.NoError(t, err)
	require.NoError(t, f.sched.Tick())
	assert.Equal(t, task.StateWaiting, dt.State())

	f.sched.Cancel(dt)
	require.Len(t, done, 1)
	assert.ErrorIs(t, done[0].Err, task.ErrCanceled)
	u, _ := f.mgr.Updater("ui")
	assert.Equal(t, UpdaterPaused, u.State())

	require.NoError(t, f.mgr.Close())
	parts, err := afero.Glob(f.rwFs, "/bundles/ui/.a.part-*")
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestManager_CheckOverlappingDownloadKeepsCommits(t *testing.T) {
	rw := &manifest.Manifest{Version: "1", Bundles: []*manifest.BundleManifestInfo{hashed("ui", "x", "old")}}
	f := newFixture(t, nil, rw, nil)
	f.inUse["ui/x"] = true
	f.remote.publish(t, &manifest.Manifest{Version: "2", Bundles: []*manifest.BundleManifestInfo{
		hashed("ui", "x", "X2"),
		hashed("ui", "y", "Y2"),
	}}, map[string]string{"ui/x": "X2", "ui/y": "Y2"})
	gateX, gateY := make(chan struct{}), make(chan struct{})
	f.remote.block[remoteBundleURI+"/ui/x"] = gateX
	f.remote.block[remoteBundleURI+"/ui/y"] = gateY

	res := f.check(t)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.UpdateCount)
	assert.Empty(t, f.removed)
	f.inUse["ui/x"] = false

	_, err := f.mgr.Update("ui", false, nil)
	require.NoError(t, err)
	require.NoError(t, f.sched.Tick())

	// The second check reads its snapshot while ui/x is still in flight.
	var second *VersionCheckResult
	ct := f.mgr.CheckVersion(nil, func(r *VersionCheckResult) { second = r })
	require.NoError(t, f.sched.Tick())
	require.Eventually(t, func() bool {
		return second != nil || (ct.load != nil && ct.load.done.Load())
	}, 5*time.Second, time.Millisecond)

	close(gateX)
	f.drive(t, func() bool { return second != nil && len(f.updated) == 1 })
	require.NoError(t, second.Err)
	close(gateY)
	f.drive(t, func() bool { return f.sched.Len() == 0 })

	assert.Equal(t, []string{"ui/x", "ui/y"}, f.updated)
	assert.Empty(t, f.removed)
	stored, err := f.regions.ReadManifest(region.ReadWrite)
	require.NoError(t, err)
	for id, body := range map[string]string{"ui/x": "X2", "ui/y": "Y2"} {
		b, ok := stored.Bundle(id)
		require.True(t, ok, id)
		assert.Equal(t, manifest.HashBytes([]byte(body)), b.Hash)
		data, err := afero.ReadFile(f.rwFs, region.Path(id, region.ReadWrite))
		require.NoError(t, err)
		assert.Equal(t, body, string(data))
	}

	res = f.check(t)
	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.UpdateCount)
}
