package updater

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/warpdl/warpstream/pkg/manifest"
	"github.com/warpdl/warpstream/pkg/region"
	"github.com/warpdl/warpstream/pkg/task"
	"golang.org/x/sync/errgroup"
)

// snapshotLoad reads the three manifests off the tick thread. It outlives
// the task that started it if the task is cancelled.
type snapshotLoad struct {
	done   atomic.Bool
	cancel context.CancelFunc

	ro, rw, remote *manifest.Manifest
	err            error
}

func (l *snapshotLoad) run(ctx context.Context, m *Manager) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		l.ro, err = m.cfg.Regions.ReadManifest(region.ReadOnly)
		if err != nil {
			return fmt.Errorf("read-only manifest: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		l.rw, err = m.cfg.Regions.ReadManifest(region.ReadWrite)
		if err != nil {
			return fmt.Errorf("read-write manifest: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		l.remote, err = m.fetchManifest(gctx)
		return err
	})
	l.finish(g.Wait())
}

func (l *snapshotLoad) finish(err error) {
	if l.done.Load() {
		return
	}
	l.err = err
	l.cancel()
	l.done.Store(true)
}

// CheckTask runs one version check.
type CheckTask struct {
	task.Base
	m         *Manager
	groups    []string
	callbacks []func(*VersionCheckResult)
	load      *snapshotLoad
	result    *VersionCheckResult
}

func (t *CheckTask) Clear() { *t = CheckTask{} }

// Groups returns the groups the check is restricted to.
func (t *CheckTask) Groups() []string { return t.groups }

// Run starts loading the read-only, read-write and remote manifests
// concurrently.
func (t *CheckTask) Run() error {
	ctx, cancel := context.WithCancel(t.m.ctx)
	load := &snapshotLoad{cancel: cancel}
	t.load = load
	t.m.wg.Add(1)
	safeGo(t.m.log, &t.m.wg, "version check", func(r any) {
		load.finish(fmt.Errorf("version check panic: %v", r))
	}, func() {
		load.run(ctx, t.m)
	})
	return nil
}

// Update waits for the snapshots, then plans the result. A manifest that
// cannot be read is reported through the result, not as a task fault.
func (t *CheckTask) Update() (task.State, error) {
	if !t.load.done.Load() {
		return task.StateWaiting, nil
	}
	var res *VersionCheckResult
	if err := t.load.err; err != nil {
		t.m.log.Warning("updater: version check failed: %v", err)
		res = &VersionCheckResult{Err: err}
	} else {
		res = t.m.apply(t.load.ro, t.load.rw, t.load.remote, t.groups)
		t.m.log.Info("updater: version check found %d bundle(s) to update", res.UpdateCount)
	}
	t.result = res
	t.SetProgress(1)
	t.notify(res)
	return task.StateFinished, nil
}

func (t *CheckTask) notify(res *VersionCheckResult) {
	for _, cb := range t.callbacks {
		cb(res)
	}
}

// Abort reports err to the callbacks of a check that will not complete.
func (t *CheckTask) Abort(err error) {
	if t.load != nil {
		t.load.cancel()
	}
	t.notify(&VersionCheckResult{Err: err})
}

// DownloadTask drives the GroupUpdater of one group, one bundle at a time.
type DownloadTask struct {
	task.Base
	m         *Manager
	updater   *GroupUpdater
	callbacks []func(*UpdateInfo)

	current *UpdateInfo
	staging *region.Staging
	xfer    *transfer
}

func (t *DownloadTask) Clear() { *t = DownloadTask{} }

// Updater returns the updater the task drives.
func (t *DownloadTask) Updater() *GroupUpdater { return t.updater }

func (t *DownloadTask) Run() error {
	t.m.log.Info("updater: downloading group %q (%d bundle(s))", t.updater.Group, t.updater.Pending())
	return nil
}

// Update starts the next transfer or polls the running one.
func (t *DownloadTask) Update() (task.State, error) {
	if t.xfer == nil {
		if t.updater.State() != UpdaterRunning {
			return task.StateFinished, nil
		}
		info := t.updater.next()
		if info == nil {
			t.updater.settle()
			t.SetProgress(1)
			return task.StateFinished, nil
		}
		if err := t.begin(info); err != nil {
			t.fail(info, err)
			return task.StateFinished, nil
		}
		return task.StateWaiting, nil
	}

	t.current.DownloadedBytesLength = t.xfer.Received()
	t.SetProgress(t.updater.Progress())
	if !t.xfer.Done() {
		return task.StateWaiting, nil
	}

	info, st, err := t.current, t.staging, t.xfer.Err()
	t.current, t.staging, t.xfer = nil, nil, nil
	if err != nil {
		_ = st.Discard()
	} else if err = st.Commit(info.Manifest, t.m.cfg.Verify); err == nil {
		err = t.m.commit(info.Manifest)
	}
	if err != nil {
		t.fail(info, err)
		return task.StateFinished, nil
	}
	t.updater.succeed(info)
	t.SetProgress(t.updater.Progress())
	t.m.log.Info("updater: updated %s", info.Manifest)
	t.notify(info)
	return task.StateWaiting, nil
}

func (t *DownloadTask) begin(info *UpdateInfo) error {
	uri, err := t.m.bundleURI(info.Manifest)
	if err != nil {
		return err
	}
	st, err := t.m.cfg.Regions.Create(info.Identity())
	if err != nil {
		return err
	}
	t.current = info
	t.staging = st
	t.xfer = startTransfer(t.m.ctx, &t.m.wg, t.m.cfg.Fetcher, uri, st, t.m.log)
	return nil
}

func (t *DownloadTask) fail(info *UpdateInfo, err error) {
	t.updater.fail(info, err)
	t.m.log.Warning("updater: group %q paused, %s failed: %v", t.updater.Group, info.Identity(), err)
	t.notify(info)
}

func (t *DownloadTask) notify(info *UpdateInfo) {
	for _, cb := range t.callbacks {
		cb(info)
	}
	if t.m.cfg.Hooks.DownloadDone != nil {
		t.m.cfg.Hooks.DownloadDone(t.updater.Group, info)
	}
}

// Abort stops the running transfer and records it as failed, pausing the
// updater.
func (t *DownloadTask) Abort(err error) {
	if t.xfer == nil {
		if t.updater != nil && t.updater.State() == UpdaterRunning {
			t.updater.state = UpdaterPaused
		}
		return
	}
	st := t.staging
	t.xfer.Abandon(func() { _ = st.Discard() })
	info := t.current
	t.current, t.staging, t.xfer = nil, nil, nil
	t.fail(info, err)
}
