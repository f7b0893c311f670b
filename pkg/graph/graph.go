// Package graph tracks which assets are in use, the dependency edges between
// them and the bundles that hold them. It decides when a bundle must be
// loaded and when it may be unloaded.
//
// All records live in an arena keyed by identity; edges are stored as
// identities in both directions. A Graph is driven from a single goroutine,
// the one ticking the task scheduler.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/warpdl/warpstream/pkg/logger"
	"github.com/warpdl/warpstream/pkg/task"
	"go.uber.org/multierr"
)

// DefaultUnloadDelay is the debounce applied before an unused bundle is
// unloaded.
const DefaultUnloadDelay = 2 * time.Second

var (
	ErrUnknownAsset  = errors.New("asset is not declared by any known bundle")
	ErrUnknownBundle = errors.New("bundle is not known")
	ErrNotLoaded     = errors.New("bundle is not loaded")

	// ErrNotAcquired is returned when releasing an asset whose RefCount is
	// already zero.
	ErrNotAcquired = fmt.Errorf("%w: asset released more often than acquired", task.ErrInvariant)
	// ErrCycle is returned when catalog updates introduced a dependency cycle.
	ErrCycle = fmt.Errorf("%w: dependency cycle", task.ErrInvariant)
)

// Hooks observe bundle lifecycle events. Nil hooks are skipped.
type Hooks struct {
	BundleLoaded   func(identity string, err error)
	BundleUnloaded func(identity string)
	// UnloadCanceled fires when a deferred unload finds its bundle in use again.
	UnloadCanceled func(identity string)
}

// Config configures a Graph.
type Config struct {
	Catalog  *Catalog
	Provider Provider
	// UnloadDelay defaults to DefaultUnloadDelay. A negative value unloads on
	// the next Pump.
	UnloadDelay time.Duration
	Clock       clock.Clock
	Logger      logger.Logger
	Hooks       Hooks
}

// Graph owns every AssetRuntimeInfo and BundleRuntimeInfo.
type Graph struct {
	catalog  *Catalog
	provider Provider
	delay    time.Duration
	clock    clock.Clock
	log      logger.Logger
	hooks    Hooks

	assets    map[string]*AssetRuntimeInfo
	bundles   map[string]*BundleRuntimeInfo
	unloads   *unloadHeap
	acquiring map[string]struct{}
}

// New creates a Graph.
func New(cfg Config) *Graph {
	g := &Graph{
		catalog:   cfg.Catalog,
		provider:  cfg.Provider,
		delay:     cfg.UnloadDelay,
		clock:     cfg.Clock,
		log:       logger.OrNop(cfg.Logger),
		hooks:     cfg.Hooks,
		assets:    make(map[string]*AssetRuntimeInfo),
		bundles:   make(map[string]*BundleRuntimeInfo),
		unloads:   newUnloadHeap(),
		acquiring: make(map[string]struct{}),
	}
	if g.catalog == nil {
		g.catalog = NewCatalog()
	}
	if g.delay == 0 {
		g.delay = DefaultUnloadDelay
	}
	if g.delay < 0 {
		g.delay = 0
	}
	if g.clock == nil {
		g.clock = clock.New()
	}
	return g
}

// Catalog returns the catalog assets are resolved against.
func (g *Graph) Catalog() *Catalog { return g.catalog }

// Acquire takes one reference on the named asset. The first reference
// registers the asset in its bundle's used set and acquires each
// dependency, recording this asset as their dependent.
func (g *Graph) Acquire(name string) (*AssetRuntimeInfo, *BundleRuntimeInfo, error) {
	if rec, ok := g.assets[name]; ok {
		rec.RefCount++
		return rec, g.bundles[rec.Bundle()], nil
	}
	if _, busy := g.acquiring[name]; busy {
		return nil, nil, fmt.Errorf("%w: %s", ErrCycle, name)
	}
	entry, am, ok := g.catalog.Asset(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownAsset, name)
	}

	bundle := g.bundleFor(entry)
	// A live bundle answers from the manifest it was loaded with.
	if bundle.Manifest != entry.Bundle {
		if am, ok = bundle.Manifest.Asset(name); !ok {
			return nil, nil, fmt.Errorf("%w: %s not in live %s", ErrUnknownAsset, name, bundle.Manifest)
		}
	}

	g.acquiring[name] = struct{}{}
	defer delete(g.acquiring, name)

	var acquired []string
	for _, dep := range am.Deps {
		d, db, err := g.Acquire(dep)
		if err != nil {
			for i := len(acquired) - 1; i >= 0; i-- {
				_ = g.unlink(name, bundle, acquired[i])
			}
			g.maybeScheduleUnload(bundle)
			return nil, nil, fmt.Errorf("acquire %s: %w", name, err)
		}
		d.Dependents[name] = struct{}{}
		if db != bundle {
			db.ReferencedBy[bundle.Identity()]++
		}
		acquired = append(acquired, dep)
	}

	rec := &AssetRuntimeInfo{
		BundleManifest: bundle.Manifest,
		Manifest:       am,
		RefCount:       1,
		Dependents:     make(map[string]struct{}),
	}
	g.assets[name] = rec
	bundle.UsedAssets[name] = struct{}{}
	return rec, bundle, nil
}

// bundleFor returns the live record for the catalog entry, creating it if
// needed. A bundle that is still live keeps its original manifest and region
// even when the catalog has since been updated.
func (g *Graph) bundleFor(e CatalogEntry) *BundleRuntimeInfo {
	id := e.Bundle.Identity()
	if b, ok := g.bundles[id]; ok {
		return b
	}
	b := newBundleRuntimeInfo(e)
	g.bundles[id] = b
	return b
}

// Release drops one reference on the named asset. When the last reference
// goes the asset leaves its bundle's used set and releases its dependencies.
// Bundles are never unloaded synchronously; an emptied bundle is queued for
// a deferred unload.
func (g *Graph) Release(name string) error {
	rec, ok := g.assets[name]
	if !ok || rec.RefCount <= 0 {
		return fmt.Errorf("%w: %s", ErrNotAcquired, name)
	}
	if rec.RefCount == 1 && len(rec.Dependents) > 0 {
		return fmt.Errorf("%w: %s would reach zero with dependents %v", task.ErrInvariant, name, rec.DependentNames())
	}
	rec.RefCount--
	if rec.RefCount > 0 {
		return nil
	}

	bundle := g.bundles[rec.Bundle()]
	delete(g.assets, name)
	delete(bundle.UsedAssets, name)

	var errs error
	for i := len(rec.Manifest.Deps) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, g.unlink(name, bundle, rec.Manifest.Deps[i]))
	}
	g.maybeScheduleUnload(bundle)
	return errs
}

// unlink removes the edge from dependent (in bundle) to dep and releases dep.
func (g *Graph) unlink(dependent string, bundle *BundleRuntimeInfo, dep string) error {
	d, ok := g.assets[dep]
	if !ok {
		return fmt.Errorf("%w: dependency %s of %s", ErrNotAcquired, dep, dependent)
	}
	delete(d.Dependents, dependent)
	if db := g.bundles[d.Bundle()]; db != nil && db != bundle {
		from := bundle.Identity()
		db.ReferencedBy[from]--
		if db.ReferencedBy[from] <= 0 {
			delete(db.ReferencedBy, from)
		}
	}
	return g.Release(dep)
}

func (g *Graph) maybeScheduleUnload(b *BundleRuntimeInfo) {
	if len(b.UsedAssets) > 0 {
		return
	}
	g.unloads.schedule(b.Identity(), g.clock.Now().Add(g.delay))
}

// Unloadable reports whether the bundle has no used asset and no live
// dependency edge from another bundle. Unknown bundles are unloadable.
func (g *Graph) Unloadable(identity string) bool {
	b, ok := g.bundles[identity]
	if !ok {
		return true
	}
	return len(b.UsedAssets) == 0 && !b.Referenced()
}

// EnsureLoading starts loading the bundle through the provider unless it is
// loading or loaded already. A bundle whose previous load failed is retried.
func (g *Graph) EnsureLoading(identity string) error {
	b, ok := g.bundles[identity]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBundle, identity)
	}
	switch b.state {
	case bundleLoading, bundleLoaded:
		return nil
	}
	if g.provider == nil {
		return fmt.Errorf("load %s: no bundle provider", identity)
	}
	req, err := g.provider.LoadAsync(b.Path(), b.Region)
	if err != nil {
		b.state = bundleFailed
		b.loadErr = err
		g.loaded(b, err)
		return err
	}
	b.req = req
	b.state = bundleLoading
	b.loadErr = nil
	g.log.Debug("graph: loading %s from %s", identity, b.Region)
	return nil
}

// BundleReady polls the bundle's load. It returns true once the bundle is
// loaded, or true with the error if the load failed.
func (g *Graph) BundleReady(identity string) (bool, error) {
	b, ok := g.bundles[identity]
	if !ok {
		return true, fmt.Errorf("%w: %s", ErrUnknownBundle, identity)
	}
	switch b.state {
	case bundleLoaded:
		return true, nil
	case bundleFailed:
		return true, b.loadErr
	case bundleIdle:
		return false, nil
	}
	if !b.req.Done() {
		return false, nil
	}
	handle, err := b.req.Result()
	b.req = nil
	if err != nil {
		b.state = bundleFailed
		b.loadErr = err
	} else {
		b.state = bundleLoaded
		b.Handle = handle
	}
	g.loaded(b, err)
	return true, err
}

func (g *Graph) loaded(b *BundleRuntimeInfo, err error) {
	if err != nil {
		g.log.Warning("graph: load %s failed: %v", b.Identity(), err)
	} else {
		g.log.Debug("graph: loaded %s", b.Identity())
	}
	if g.hooks.BundleLoaded != nil {
		g.hooks.BundleLoaded(b.Identity(), err)
	}
}

// LoadAsset resolves the instance of an acquired asset from its loaded
// bundle. It is a no-op when the instance is already present.
func (g *Graph) LoadAsset(name string) (any, error) {
	rec, ok := g.assets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, name)
	}
	if rec.Instance != nil {
		return rec.Instance, nil
	}
	b := g.bundles[rec.Bundle()]
	if b == nil || !b.Loaded() {
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, rec.Bundle())
	}
	inst, err := g.provider.LoadAssetFromBundle(b.Handle, name)
	if err != nil {
		return nil, err
	}
	rec.Instance = inst
	return inst, nil
}

// Pump runs every deferred unload whose deadline has passed. Each entry
// re-checks the bundle at fire time: a bundle in use again is left alone, a
// bundle still loading is postponed by another delay.
func (g *Graph) Pump() error {
	now := g.clock.Now()
	var errs error
	var postponed []string
	for {
		e, ok := g.unloads.popDue(now)
		if !ok {
			break
		}
		b, ok := g.bundles[e.Bundle]
		if !ok {
			continue
		}
		if !g.Unloadable(e.Bundle) {
			g.log.Debug("graph: unload of %s canceled, bundle in use", e.Bundle)
			if g.hooks.UnloadCanceled != nil {
				g.hooks.UnloadCanceled(e.Bundle)
			}
			continue
		}
		if b.Loading() {
			postponed = append(postponed, e.Bundle)
			continue
		}
		errs = multierr.Append(errs, g.unload(b))
	}
	for _, id := range postponed {
		g.unloads.schedule(id, now.Add(g.delay))
	}
	return errs
}

func (g *Graph) unload(b *BundleRuntimeInfo) error {
	id := b.Identity()
	delete(g.bundles, id)
	wasLoaded := b.state == bundleLoaded
	b.state = bundleIdle
	if !wasLoaded {
		return nil
	}
	var err error
	if g.provider != nil {
		if err = g.provider.Unload(b.Handle); err != nil {
			err = fmt.Errorf("unload %s: %w", id, err)
			g.log.Warning("graph: %v", err)
		}
	}
	b.Handle = nil
	g.log.Debug("graph: unloaded %s", id)
	if g.hooks.BundleUnloaded != nil {
		g.hooks.BundleUnloaded(id)
	}
	return err
}

// Shutdown unloads every bundle that is loaded and drops all records,
// regardless of outstanding references.
func (g *Graph) Shutdown() error {
	var errs error
	for _, id := range g.bundleIDs() {
		b := g.bundles[id]
		if b.Loading() {
			// A late result is discarded; its handle is never unloaded.
			g.log.Warning("graph: %s still loading at shutdown", id)
		}
		errs = multierr.Append(errs, g.unload(b))
	}
	g.assets = make(map[string]*AssetRuntimeInfo)
	g.unloads = newUnloadHeap()
	return errs
}

// Asset returns the live record for name.
func (g *Graph) Asset(name string) (*AssetRuntimeInfo, bool) {
	a, ok := g.assets[name]
	return a, ok
}

// Bundle returns the live record for identity.
func (g *Graph) Bundle(identity string) (*BundleRuntimeInfo, bool) {
	b, ok := g.bundles[identity]
	return b, ok
}

// RefCount returns the current reference count of an asset, zero when it
// has no live record.
func (g *Graph) RefCount(name string) int {
	if a, ok := g.assets[name]; ok {
		return a.RefCount
	}
	return 0
}

// Assets returns the live asset records ordered by bundle, then name.
func (g *Graph) Assets() []*AssetRuntimeInfo {
	out := make([]*AssetRuntimeInfo, 0, len(g.assets))
	for _, a := range g.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Bundles returns the live bundle records ordered by identity.
func (g *Graph) Bundles() []*BundleRuntimeInfo {
	ids := g.bundleIDs()
	out := make([]*BundleRuntimeInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.bundles[id])
	}
	return out
}

func (g *Graph) bundleIDs() []string {
	ids := make([]string, 0, len(g.bundles))
	for id := range g.bundles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PendingUnloads returns the queued deferred unloads, earliest first.
func (g *Graph) PendingUnloads() []UnloadEntry {
	return g.unloads.snapshot()
}

// UnloadPending reports whether a deferred unload is queued for identity.
func (g *Graph) UnloadPending(identity string) bool {
	return g.unloads.has(identity)
}

func sortEntries(es []UnloadEntry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Deadline.Equal(es[j].Deadline) {
			return es[i].Bundle < es[j].Bundle
		}
		return es[i].Deadline.Before(es[j].Deadline)
	})
}
