package graph

import (
	"sort"

	"github.com/warpdl/warpstream/pkg/manifest"
	"github.com/warpdl/warpstream/pkg/region"
)

// AssetRuntimeInfo is the live record of an acquired asset. Records are
// owned by the Graph and dropped when RefCount returns to zero.
type AssetRuntimeInfo struct {
	BundleManifest *manifest.BundleManifestInfo
	Manifest       *manifest.AssetManifestInfo
	// Instance is the loaded asset, nil until the owning bundle is loaded.
	Instance any
	RefCount int
	// Dependents holds the names of acquired assets depending on this one.
	Dependents map[string]struct{}
}

// Name returns the asset name.
func (a *AssetRuntimeInfo) Name() string { return a.Manifest.Name }

// Bundle returns the identity of the owning bundle.
func (a *AssetRuntimeInfo) Bundle() string { return a.BundleManifest.Identity() }

// Loaded reports whether the instance is available.
func (a *AssetRuntimeInfo) Loaded() bool { return a.Instance != nil }

// Less orders records by bundle identity, then asset name.
func (a *AssetRuntimeInfo) Less(o *AssetRuntimeInfo) bool {
	if ab, ob := a.Bundle(), o.Bundle(); ab != ob {
		return ab < ob
	}
	return a.Name() < o.Name()
}

// DependentNames returns Dependents sorted.
func (a *AssetRuntimeInfo) DependentNames() []string {
	return sortedKeys(a.Dependents)
}

type bundleState int

const (
	bundleIdle bundleState = iota
	bundleLoading
	bundleLoaded
	bundleFailed
)

func (s bundleState) String() string {
	switch s {
	case bundleIdle:
		return "idle"
	case bundleLoading:
		return "loading"
	case bundleLoaded:
		return "loaded"
	case bundleFailed:
		return "failed"
	}
	return "unknown"
}

// BundleRuntimeInfo is the live record of a bundle with at least one
// acquired asset, or one waiting for its deferred unload.
type BundleRuntimeInfo struct {
	Manifest *manifest.BundleManifestInfo
	Region   region.Kind
	// Handle is the provider's loaded-bundle handle, nil until loaded.
	Handle any
	// UsedAssets holds the names of this bundle's assets with RefCount > 0.
	UsedAssets map[string]struct{}
	// ReferencedBy counts live dependency edges from assets of other bundles
	// into this one, keyed by the depending bundle's identity.
	ReferencedBy map[string]int

	path    string
	state   bundleState
	req     Request
	loadErr error
}

func newBundleRuntimeInfo(e CatalogEntry) *BundleRuntimeInfo {
	return &BundleRuntimeInfo{
		Manifest:     e.Bundle,
		Region:       e.Region,
		UsedAssets:   make(map[string]struct{}),
		ReferencedBy: make(map[string]int),
	}
}

// Identity returns the bundle identity.
func (b *BundleRuntimeInfo) Identity() string { return b.Manifest.Identity() }

// Path returns the load path inside the bundle's region.
func (b *BundleRuntimeInfo) Path() string {
	if b.path == "" {
		b.path = region.Path(b.Identity(), b.Region)
	}
	return b.path
}

// Loaded reports whether the bundle handle is available.
func (b *BundleRuntimeInfo) Loaded() bool { return b.state == bundleLoaded }

// Loading reports whether a provider load is in flight.
func (b *BundleRuntimeInfo) Loading() bool { return b.state == bundleLoading }

// State returns a short description of the load state.
func (b *BundleRuntimeInfo) State() string { return b.state.String() }

// Err returns the error of the last failed load.
func (b *BundleRuntimeInfo) Err() error { return b.loadErr }

// Referenced reports whether another bundle holds a live dependency edge.
func (b *BundleRuntimeInfo) Referenced() bool {
	for _, n := range b.ReferencedBy {
		if n > 0 {
			return true
		}
	}
	return false
}

// UsedAssetNames returns UsedAssets sorted.
func (b *BundleRuntimeInfo) UsedAssetNames() []string {
	return sortedKeys(b.UsedAssets)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
