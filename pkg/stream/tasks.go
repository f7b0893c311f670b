package stream

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/warpdl/warpstream/pkg/manifest"
	"github.com/warpdl/warpstream/pkg/region"
	"github.com/warpdl/warpstream/pkg/task"
	"go.uber.org/multierr"
)

// Owner is the task owner used for runtime tasks.
const Owner = "stream"

// LoadCallback receives the loaded instance of an asset, or the reason it
// could not be loaded. A failed load holds no reference.
type LoadCallback func(asset string, instance any, err error)

// ReleaseCallback receives the result of a release request.
type ReleaseCallback func(asset string, err error)

// ImportCallback receives an imported manifest.
type ImportCallback func(m *manifest.Manifest, err error)

// LoadTask acquires an asset, loads every bundle it depends on and resolves
// its instance. Requests for the same asset merge; each one takes its own
// reference.
type LoadTask struct {
	task.Base
	rt        *Runtime
	requests  int
	acquired  int
	bundles   []string
	callbacks []LoadCallback
}

func (t *LoadTask) Clear() { *t = LoadTask{} }

func (t *LoadTask) Run() error {
	return t.acquire()
}

// acquire takes the references of requests merged since the last step.
func (t *LoadTask) acquire() error {
	for t.acquired < t.requests {
		if _, _, err := t.rt.graph.Acquire(t.Name); err != nil {
			if errors.Is(err, task.ErrInvariant) {
				return err
			}
			t.fail(err)
			return nil
		}
		t.acquired++
	}
	if t.bundles == nil && t.acquired > 0 {
		t.bundles = t.rt.bundleClosure(t.Name)
		for _, id := range t.bundles {
			if err := t.rt.graph.EnsureLoading(id); err != nil {
				t.fail(err)
				return nil
			}
		}
	}
	return nil
}

func (t *LoadTask) Update() (task.State, error) {
	if t.acquired == 0 {
		// Failed in Run; callbacks already have the error.
		return task.StateFinished, nil
	}
	if err := t.acquire(); err != nil {
		return task.StateFinished, err
	}
	if t.acquired == 0 {
		return task.StateFinished, nil
	}

	ready := 0
	for _, id := range t.bundles {
		done, err := t.rt.graph.BundleReady(id)
		if err != nil {
			t.fail(fmt.Errorf("load %s: %w", t.Name, err))
			return task.StateFinished, nil
		}
		if done {
			ready++
		}
	}
	t.SetProgress(float64(ready) / float64(len(t.bundles)+1))
	if ready < len(t.bundles) {
		return task.StateWaiting, nil
	}

	inst, err := t.rt.graph.LoadAsset(t.Name)
	if err != nil {
		t.fail(fmt.Errorf("load %s: %w", t.Name, err))
		return task.StateFinished, nil
	}
	t.SetProgress(1)
	for _, cb := range t.callbacks {
		cb(t.Name, inst, nil)
	}
	return task.StateFinished, nil
}

// fail drops the references this task took and reports err.
func (t *LoadTask) fail(err error) {
	for ; t.acquired > 0; t.acquired-- {
		if rerr := t.rt.graph.Release(t.Name); rerr != nil {
			t.rt.log.Error("stream: release %s after failed load: %v", t.Name, rerr)
		}
	}
	t.requests = 0
	t.rt.log.Warning("stream: %v", err)
	for _, cb := range t.callbacks {
		cb(t.Name, nil, err)
	}
	t.callbacks = nil
}

func (t *LoadTask) Abort(err error) {
	t.fail(err)
}

// ReleaseTask drops references on an asset. The bundle itself is unloaded
// later by the graph's deferred unload.
type ReleaseTask struct {
	task.Base
	rt        *Runtime
	requests  int
	callbacks []ReleaseCallback
}

func (t *ReleaseTask) Clear() { *t = ReleaseTask{} }

// Run releases one reference per merged request. Releasing more often than
// acquiring is an invariant violation and faults the task.
func (t *ReleaseTask) Run() error {
	var errs error
	for i := 0; i < t.requests; i++ {
		errs = multierr.Append(errs, t.rt.graph.Release(t.Name))
	}
	return errs
}

func (t *ReleaseTask) Update() (task.State, error) {
	t.SetProgress(1)
	for _, cb := range t.callbacks {
		cb(t.Name, nil)
	}
	return task.StateFinished, nil
}

func (t *ReleaseTask) Abort(err error) {
	for _, cb := range t.callbacks {
		cb(t.Name, err)
	}
}

// manifestRead is a manifest being read off the tick thread.
type manifestRead struct {
	done atomic.Bool
	m    *manifest.Manifest
	err  error
}

// ImportTask reads a manifest out of a region and merges its bundles into
// the catalog.
type ImportTask struct {
	task.Base
	rt        *Runtime
	kind      region.Kind
	path      string
	read      *manifestRead
	callbacks []ImportCallback
}

func (t *ImportTask) Clear() { *t = ImportTask{} }

func (t *ImportTask) Run() error {
	read := &manifestRead{}
	t.read = read
	fs := t.rt.regions.FS(t.kind)
	name := t.path
	go func() {
		defer read.done.Store(true)
		defer func() {
			if r := recover(); r != nil {
				read.err = fmt.Errorf("import %s: panic: %v", name, r)
			}
		}()
		read.m, read.err = manifest.Read(fs, name)
	}()
	return nil
}

func (t *ImportTask) Update() (task.State, error) {
	if !t.read.done.Load() {
		return task.StateWaiting, nil
	}
	m, err := t.read.m, t.read.err
	if err != nil {
		t.rt.log.Warning("stream: import %s: %v", t.path, err)
		m = nil
	} else {
		t.rt.graph.Catalog().Load(m, t.kind)
		t.rt.log.Info("stream: imported %d bundle(s) from %s (%s)", len(m.Bundles), t.path, t.kind)
	}
	t.SetProgress(1)
	for _, cb := range t.callbacks {
		cb(m, err)
	}
	return task.StateFinished, nil
}

func (t *ImportTask) Abort(err error) {
	for _, cb := range t.callbacks {
		cb(nil, err)
	}
}
