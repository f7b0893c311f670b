// Package updater compares the local bundle manifests against the remote
// one and downloads stale bundles group by group into the read-write
// region.
//
// Version checks and downloads run as scheduler tasks. Network and disk I/O
// happens on background goroutines; the tasks poll them once per tick.
package updater

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/warpdl/warpstream/pkg/logger"
	"github.com/warpdl/warpstream/pkg/manifest"
	"github.com/warpdl/warpstream/pkg/region"
	"github.com/warpdl/warpstream/pkg/task"
)

// Owner is the task owner used for updater tasks.
const Owner = "updater"

var ErrNoRemote = errors.New("no remote manifest configured")

// Hooks observe updater events. Nil hooks are skipped.
type Hooks struct {
	// BundleUpdated fires after a downloaded bundle was committed to the
	// read-write region.
	BundleUpdated func(b *manifest.BundleManifestInfo)
	// BundleRemoved fires after a stale read-write copy was deleted.
	BundleRemoved func(identity string)
	// DownloadDone fires for every finished download, failed or not.
	DownloadDone func(group string, info *UpdateInfo)
}

// Config configures a Manager.
type Config struct {
	Scheduler *task.Scheduler
	Regions   *region.Regions
	Fetcher   Fetcher
	// ManifestURI locates the remote manifest. Its extension selects the codec.
	ManifestURI string
	// BundleBaseURI is joined with a bundle identity to locate its bytes.
	BundleBaseURI string
	// Verify checks downloaded bytes against the manifest hash and size.
	Verify bool
	// KeepStale disables deleting stale read-write copies during checks.
	KeepStale bool
	// InUse reports whether a bundle is live; its stale copy is kept.
	InUse  func(identity string) bool
	Logger logger.Logger
	Hooks  Hooks
}

// Manager runs version checks and group downloads.
type Manager struct {
	cfg      Config
	log      logger.Logger
	sched    *task.Scheduler
	registry *Registry

	checks []*CheckInfo
	rw     *manifest.Manifest
	remote *manifest.Manifest

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager. Scheduler, Regions and Fetcher are required.
func NewManager(cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		log:      logger.OrNop(cfg.Logger),
		sched:    cfg.Scheduler,
		registry: NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry returns the updater registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Updater returns the updater of group.
func (m *Manager) Updater(group string) (*GroupUpdater, bool) {
	return m.registry.Get(group)
}

// CheckInfos returns the records of the last completed check.
func (m *Manager) CheckInfos() []*CheckInfo {
	out := make([]*CheckInfo, len(m.checks))
	copy(out, m.checks)
	return out
}

// UpdateInfos returns the download records of every updater.
func (m *Manager) UpdateInfos() []*UpdateInfo {
	return m.registry.UpdateInfos()
}

// Remote returns the remote manifest read by the last successful check.
func (m *Manager) Remote() *manifest.Manifest { return m.remote }

// CheckVersion submits a version check over groups, or over every group
// when groups is empty. Concurrent requests for the same groups share one
// check and all callbacks receive its result.
func (m *Manager) CheckVersion(groups []string, cb func(*VersionCheckResult)) *CheckTask {
	groups = normalizeGroups(groups)
	name := "check:" + strings.Join(groups, ",")
	t, _ := task.Submit[CheckTask](m.sched, Owner, name, task.PriorityVeryLow, func(t *CheckTask) {
		t.m = m
		t.groups = groups
	})
	if cb != nil {
		t.callbacks = append(t.callbacks, cb)
	}
	return t
}

func normalizeGroups(groups []string) []string {
	if len(groups) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Update starts downloading the outstanding bundles of group. blocking
// raises the download to the highest priority; a download already running
// for the group keeps its priority. cb fires once per finished bundle.
func (m *Manager) Update(group string, blocking bool, cb func(*UpdateInfo)) (*DownloadTask, error) {
	u, ok := m.registry.Get(group)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoUpdater, group)
	}
	if err := u.start(); err != nil {
		return nil, err
	}
	prio := task.PriorityMiddle
	if blocking {
		prio = task.PriorityVeryHigh
	}
	t, _ := task.Submit[DownloadTask](m.sched, Owner, "download:"+group, prio, func(t *DownloadTask) {
		t.m = m
		t.updater = u
	})
	if cb != nil {
		t.callbacks = append(t.callbacks, cb)
	}
	return t, nil
}

// Resume requeues the failed downloads of a paused group and restarts it.
func (m *Manager) Resume(group string, blocking bool, cb func(*UpdateInfo)) (*DownloadTask, error) {
	u, ok := m.registry.Get(group)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoUpdater, group)
	}
	if err := u.Resume(); err != nil {
		return nil, err
	}
	return m.Update(group, blocking, cb)
}

// Close cancels background transfers and waits for them to return.
func (m *Manager) Close() error {
	m.cancel()
	m.wg.Wait()
	return nil
}

func (m *Manager) bundleURI(b *manifest.BundleManifestInfo) (string, error) {
	if m.cfg.BundleBaseURI == "" {
		return "", fmt.Errorf("no bundle base URI configured")
	}
	return url.JoinPath(m.cfg.BundleBaseURI, b.Identity())
}

// fetchManifest downloads and parses the remote manifest.
func (m *Manager) fetchManifest(ctx context.Context) (*manifest.Manifest, error) {
	uri := m.cfg.ManifestURI
	if uri == "" {
		return nil, ErrNoRemote
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := m.cfg.Fetcher.Fetch(ctx, uri, &buf, nil); err != nil {
		return nil, fmt.Errorf("fetch remote manifest: %w", err)
	}
	return manifest.Parse(path.Base(parsed.Path), buf.Bytes())
}

// readWriteManifest returns the cached read-write manifest, reading it from
// the region on first use.
func (m *Manager) readWriteManifest() (*manifest.Manifest, error) {
	if m.rw != nil {
		return m.rw, nil
	}
	rw, err := m.cfg.Regions.ReadManifest(region.ReadWrite)
	if err != nil {
		return nil, err
	}
	if rw == nil {
		rw = &manifest.Manifest{}
		if m.remote != nil {
			rw.Version = m.remote.Version
		}
	}
	m.rw = rw
	return rw, nil
}

// commit records a downloaded bundle in the read-write manifest.
func (m *Manager) commit(b *manifest.BundleManifestInfo) error {
	rw, err := m.readWriteManifest()
	if err != nil {
		return err
	}
	rw.Put(b)
	if err := m.cfg.Regions.WriteManifest(rw); err != nil {
		return fmt.Errorf("write read-write manifest: %w", err)
	}
	if m.cfg.Hooks.BundleUpdated != nil {
		m.cfg.Hooks.BundleUpdated(b)
	}
	return nil
}

// apply turns loaded snapshots into a check result and syncs the registry.
// Once cached, the read-write manifest holds every commit made since it was
// read and replaces the snapshot, which may predate downloads finished
// while the check was loading.
func (m *Manager) apply(ro, rw, remote *manifest.Manifest, groups []string) *VersionCheckResult {
	switch {
	case m.rw != nil:
		rw = m.rw
	case rw == nil:
		rw = &manifest.Manifest{Version: remote.Version}
	}
	m.rw = rw
	m.remote = remote
	infos := Plan(ro, rw, remote, groups)
	if !m.cfg.KeepStale {
		m.removeStale(infos)
	}
	m.checks = infos

	count, size := Totals(infos)
	return &VersionCheckResult{
		UpdateCount: count,
		UpdateBytes: size,
		Updaters:    m.registry.Sync(infos),
		Infos:       infos,
	}
}

// removeStale deletes the read-write copies flagged NeedRemove that are not
// in use or being downloaded, then rewrites the read-write manifest.
func (m *Manager) removeStale(infos []*CheckInfo) {
	removed := 0
	for _, c := range infos {
		if !c.NeedRemove {
			continue
		}
		if m.registry.downloading(c.Group(), c.Name) {
			m.log.Debug("updater: keeping stale %s, download in progress", c.Name)
			continue
		}
		if m.cfg.InUse != nil && m.cfg.InUse(c.Name) {
			m.log.Debug("updater: keeping stale %s, bundle in use", c.Name)
			continue
		}
		if err := m.cfg.Regions.Remove(c.Name, region.ReadWrite); err != nil {
			m.log.Warning("updater: remove stale %s: %v", c.Name, err)
			continue
		}
		m.rw.Remove(c.Name)
		c.ReadWrite = nil
		c.RefreshState()
		removed++
		m.log.Info("updater: removed stale %s", c.Name)
		if m.cfg.Hooks.BundleRemoved != nil {
			m.cfg.Hooks.BundleRemoved(c.Name)
		}
	}
	if removed == 0 {
		return
	}
	if err := m.cfg.Regions.WriteManifest(m.rw); err != nil {
		m.log.Warning("updater: write read-write manifest: %v", err)
	}
}
