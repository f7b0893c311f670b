// Package stream ties the scheduler, the resource graph and the updater
// into one runtime. A Runtime is not safe for concurrent use: every entry
// point, Tick included, must be called from the same logical thread.
package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/warpdl/warpstream/pkg/graph"
	"github.com/warpdl/warpstream/pkg/logger"
	"github.com/warpdl/warpstream/pkg/manifest"
	"github.com/warpdl/warpstream/pkg/refpool"
	"github.com/warpdl/warpstream/pkg/region"
	"github.com/warpdl/warpstream/pkg/task"
	"github.com/warpdl/warpstream/pkg/updater"
	"go.uber.org/multierr"
)

var (
	ErrNoRegions = errors.New("stream: regions are required")
	ErrClosed    = errors.New("stream: runtime is closed")
)

// Options wires a Runtime. Only Regions is required.
type Options struct {
	Regions  *region.Regions
	Provider graph.Provider
	Fetcher  updater.Fetcher

	ManifestURI   string
	BundleBaseURI string
	Verify        bool
	KeepStale     bool

	UnloadDelay time.Duration
	Budget      time.Duration
	Policy      task.FaultPolicy

	Pool       *refpool.Pool
	Clock      clock.Clock
	Logger     logger.Logger
	Registerer prometheus.Registerer
}

// Runtime is the explicit context shared by every streaming component.
type Runtime struct {
	opts     Options
	log      logger.Logger
	regions  *region.Regions
	readOnly *manifest.Manifest

	sched   *task.Scheduler
	graph   *graph.Graph
	updater *updater.Manager
	metrics *Metrics
	closed  bool
}

// New creates a Runtime and seeds its catalog from the manifests of both
// regions. Bundles present in the read-write region shadow their read-only
// counterparts.
func New(opts Options) (*Runtime, error) {
	if opts.Regions == nil {
		return nil, ErrNoRegions
	}
	r := &Runtime{
		opts:    opts,
		log:     logger.OrNop(opts.Logger),
		regions: opts.Regions,
		metrics: newMetrics(),
	}
	if opts.Registerer != nil {
		if err := r.metrics.register(opts.Registerer); err != nil {
			return nil, err
		}
	}

	catalog, err := r.seedCatalog()
	if err != nil {
		r.unregister()
		return nil, err
	}

	r.sched = task.New(task.Config{
		Pool:    opts.Pool,
		Policy:  opts.Policy,
		Budget:  opts.Budget,
		Clock:   opts.Clock,
		Logger:  r.log,
		OnStep:  r.onStep,
		OnFault: r.onFault,
	})
	r.graph = graph.New(graph.Config{
		Catalog:     catalog,
		Provider:    opts.Provider,
		UnloadDelay: opts.UnloadDelay,
		Clock:       opts.Clock,
		Logger:      r.log,
		Hooks: graph.Hooks{
			BundleLoaded:   r.onBundleLoaded,
			BundleUnloaded: func(string) { r.metrics.BundleUnloads.Inc() },
			UnloadCanceled: func(string) { r.metrics.UnloadsCanceled.Inc() },
		},
	})

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = updater.NewRouter(updater.RouterOptions{})
	}
	r.updater = updater.NewManager(updater.Config{
		Scheduler:     r.sched,
		Regions:       r.regions,
		Fetcher:       fetcher,
		ManifestURI:   opts.ManifestURI,
		BundleBaseURI: opts.BundleBaseURI,
		Verify:        opts.Verify,
		KeepStale:     opts.KeepStale,
		InUse:         r.inUse,
		Logger:        r.log,
		Hooks: updater.Hooks{
			BundleUpdated: r.onBundleUpdated,
			BundleRemoved: r.onBundleRemoved,
			DownloadDone:  r.onDownloadDone,
		},
	})
	return r, nil
}

func (r *Runtime) seedCatalog() (*graph.Catalog, error) {
	catalog := graph.NewCatalog()
	ro, err := r.regions.ReadManifest(region.ReadOnly)
	if err != nil {
		return nil, fmt.Errorf("read-only manifest: %w", err)
	}
	rw, err := r.regions.ReadManifest(region.ReadWrite)
	if err != nil {
		return nil, fmt.Errorf("read-write manifest: %w", err)
	}
	r.readOnly = ro
	catalog.Load(ro, region.ReadOnly)
	catalog.Load(rw, region.ReadWrite)
	r.log.Debug("stream: catalog seeded with %d bundle(s)", catalog.Len())
	return catalog, nil
}

// Scheduler returns the runtime's scheduler.
func (r *Runtime) Scheduler() *task.Scheduler { return r.sched }

// Graph returns the runtime's resource graph.
func (r *Runtime) Graph() *graph.Graph { return r.graph }

// Regions returns the runtime's storage regions.
func (r *Runtime) Regions() *region.Regions { return r.regions }

// Metrics returns the runtime's collectors.
func (r *Runtime) Metrics() *Metrics { return r.metrics }

// Manager returns the updater manager.
func (r *Runtime) Manager() *updater.Manager { return r.updater }

// AcquireAsset requests the instance of an asset. cb may be nil.
func (r *Runtime) AcquireAsset(name string, cb LoadCallback) (*LoadTask, error) {
	if r.closed {
		return nil, ErrClosed
	}
	t, _ := task.Submit[LoadTask](r.sched, Owner, name, task.PriorityLow, func(t *LoadTask) {
		t.rt = r
	})
	t.requests++
	if cb != nil {
		t.callbacks = append(t.callbacks, cb)
	}
	return t, nil
}

// ReleaseAsset drops one reference taken by AcquireAsset. cb may be nil.
func (r *Runtime) ReleaseAsset(name string, cb ReleaseCallback) (*ReleaseTask, error) {
	if r.closed {
		return nil, ErrClosed
	}
	t, _ := task.Submit[ReleaseTask](r.sched, Owner, name, task.PriorityLow, func(t *ReleaseTask) {
		t.rt = r
	})
	t.requests++
	if cb != nil {
		t.callbacks = append(t.callbacks, cb)
	}
	return t, nil
}

// ImportManifest reads a manifest from a region and adds its bundles to the
// catalog, replacing entries with the same identity.
func (r *Runtime) ImportManifest(path string, kind region.Kind, cb ImportCallback) (*ImportTask, error) {
	if r.closed {
		return nil, ErrClosed
	}
	name := kind.String() + ":" + path
	t, _ := task.Submit[ImportTask](r.sched, Owner, name, task.PriorityHigh, func(t *ImportTask) {
		t.rt = r
		t.kind = kind
		t.path = path
	})
	if cb != nil {
		t.callbacks = append(t.callbacks, cb)
	}
	return t, nil
}

// CheckVersion submits a version check over groups, or every group when
// groups is empty.
func (r *Runtime) CheckVersion(groups []string, cb func(*updater.VersionCheckResult)) (*updater.CheckTask, error) {
	if r.closed {
		return nil, ErrClosed
	}
	return r.updater.CheckVersion(groups, cb), nil
}

// Update downloads the outstanding bundles of group.
func (r *Runtime) Update(group string, blocking bool, cb func(*updater.UpdateInfo)) (*updater.DownloadTask, error) {
	if r.closed {
		return nil, ErrClosed
	}
	return r.updater.Update(group, blocking, cb)
}

// Resume restarts a paused group.
func (r *Runtime) Resume(group string, blocking bool, cb func(*updater.UpdateInfo)) (*updater.DownloadTask, error) {
	if r.closed {
		return nil, ErrClosed
	}
	return r.updater.Resume(group, blocking, cb)
}

// Updater returns the updater of group.
func (r *Runtime) Updater(group string) (*updater.GroupUpdater, bool) {
	return r.updater.Updater(group)
}

// CheckInfos returns the records of the last completed version check.
func (r *Runtime) CheckInfos() []*updater.CheckInfo { return r.updater.CheckInfos() }

// UpdateInfos returns the download records of every group.
func (r *Runtime) UpdateInfos() []*updater.UpdateInfo { return r.updater.UpdateInfos() }

// Tick runs the due deferred unloads, then one scheduler pass.
func (r *Runtime) Tick() error {
	if r.closed {
		return ErrClosed
	}
	err := multierr.Append(r.graph.Pump(), r.sched.Tick())
	r.metrics.LiveAssets.Set(float64(len(r.graph.Assets())))
	return err
}

// Busy reports whether tasks or deferred unloads are outstanding.
func (r *Runtime) Busy() bool {
	return r.sched.Busy() || len(r.graph.PendingUnloads()) > 0
}

// Close cancels outstanding tasks, stops background transfers and unloads
// every bundle. The runtime cannot be used afterwards.
func (r *Runtime) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	for _, owner := range []string{Owner, updater.Owner} {
		for _, t := range r.sched.Tasks(owner) {
			r.sched.Cancel(t)
		}
	}
	err := multierr.Combine(r.updater.Close(), r.graph.Shutdown())
	r.unregister()
	return err
}

func (r *Runtime) unregister() {
	if r.opts.Registerer != nil {
		r.metrics.unregister(r.opts.Registerer)
	}
}

// bundleClosure lists the bundles an acquired asset needs, dependencies
// first.
func (r *Runtime) bundleClosure(name string) []string {
	seenAsset := make(map[string]struct{})
	seenBundle := make(map[string]struct{})
	var out []string
	var walk func(string)
	walk = func(a string) {
		if _, ok := seenAsset[a]; ok {
			return
		}
		seenAsset[a] = struct{}{}
		rec, ok := r.graph.Asset(a)
		if !ok {
			return
		}
		for _, d := range rec.Manifest.Deps {
			walk(d)
		}
		if _, ok := seenBundle[rec.Bundle()]; !ok {
			seenBundle[rec.Bundle()] = struct{}{}
			out = append(out, rec.Bundle())
		}
	}
	walk(name)
	return out
}

func (r *Runtime) inUse(identity string) bool {
	_, ok := r.graph.Bundle(identity)
	return ok
}

func (r *Runtime) onStep(info task.StepInfo) {
	r.metrics.TaskSteps.WithLabelValues(info.Owner, info.State.String()).Inc()
}

func (r *Runtime) onFault(f *task.Fault) {
	r.metrics.Faults.WithLabelValues(f.Kind.String()).Inc()
}

func (r *Runtime) onBundleLoaded(_ string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.metrics.BundleLoads.WithLabelValues(result).Inc()
}

func (r *Runtime) onBundleUpdated(b *manifest.BundleManifestInfo) {
	r.graph.Catalog().Put(b, region.ReadWrite)
}

// onBundleRemoved falls back to the shipped copy of a bundle whose
// downloaded copy was deleted.
func (r *Runtime) onBundleRemoved(identity string) {
	if b, ok := r.readOnly.Bundle(identity); ok {
		r.graph.Catalog().Put(b, region.ReadOnly)
		return
	}
	r.graph.Catalog().Remove(identity)
}

func (r *Runtime) onDownloadDone(group string, info *updater.UpdateInfo) {
	switch info.State {
	case updater.UpdateSuccess:
		r.metrics.DownloadedBytes.WithLabelValues(group).Add(float64(info.Manifest.Size))
	case updater.UpdateFailed:
		r.metrics.DownloadFailed.WithLabelValues(group).Inc()
	}
}
