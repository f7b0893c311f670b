// Package manifest describes bundles and assets as produced by the build
// side: identities, dependencies, content hashes and sizes.
package manifest

import (
	"errors"
	"fmt"
	"path"
	"sort"
)

var (
	ErrDuplicateBundle   = errors.New("duplicate bundle identity")
	ErrDuplicateAsset    = errors.New("duplicate asset name")
	ErrUnknownDependency = errors.New("dependency is not declared by any bundle")
	ErrDependencyCycle   = errors.New("asset dependency cycle")
	ErrEmptyName         = errors.New("empty name")
)

// AssetManifestInfo is the static descriptor of one asset.
type AssetManifestInfo struct {
	Name string   `json:"name" yaml:"name" toml:"name"`
	Deps []string `json:"deps,omitempty" yaml:"deps,omitempty" toml:"deps,omitempty"`
}

// BundleManifestInfo is the static descriptor of one bundle.
type BundleManifestInfo struct {
	Dir    string              `json:"dir,omitempty" yaml:"dir,omitempty" toml:"dir,omitempty"`
	Name   string              `json:"name" yaml:"name" toml:"name"`
	Group  string              `json:"group,omitempty" yaml:"group,omitempty" toml:"group,omitempty"`
	Hash   string              `json:"hash" yaml:"hash" toml:"hash"`
	Size   int64               `json:"size" yaml:"size" toml:"size"`
	Assets []AssetManifestInfo `json:"assets,omitempty" yaml:"assets,omitempty" toml:"assets,omitempty"`
}

// Identity returns the bundle's relative path, directory plus name.
func (b *BundleManifestInfo) Identity() string {
	return path.Join(b.Dir, b.Name)
}

// Equal reports whether b and o describe the same version of the same
// bundle. A nil descriptor equals nothing.
func (b *BundleManifestInfo) Equal(o *BundleManifestInfo) bool {
	if b == nil || o == nil {
		return false
	}
	return b.Identity() == o.Identity() && b.Hash == o.Hash
}

// Asset returns the asset declared under name.
func (b *BundleManifestInfo) Asset(name string) (*AssetManifestInfo, bool) {
	for i := range b.Assets {
		if b.Assets[i].Name == name {
			return &b.Assets[i], true
		}
	}
	return nil, false
}

func (b *BundleManifestInfo) String() string {
	return fmt.Sprintf("%s@%s", b.Identity(), shortHash(b.Hash))
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

// Manifest is a versioned set of bundle descriptors. Call Index (or
// Validate) after mutating Bundles directly.
type Manifest struct {
	Version string                `json:"version" yaml:"version" toml:"version"`
	Bundles []*BundleManifestInfo `json:"bundles" yaml:"bundles" toml:"bundles"`

	byID    map[string]*BundleManifestInfo
	byAsset map[string]*BundleManifestInfo
}

// Index rebuilds the lookup tables. It fails on duplicate bundle identities
// and on asset names declared more than once.
func (m *Manifest) Index() error {
	m.byID = make(map[string]*BundleManifestInfo, len(m.Bundles))
	m.byAsset = make(map[string]*BundleManifestInfo)
	for _, b := range m.Bundles {
		if b.Name == "" {
			return fmt.Errorf("bundle in %q: %w", b.Dir, ErrEmptyName)
		}
		id := b.Identity()
		if _, ok := m.byID[id]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateBundle, id)
		}
		m.byID[id] = b
		for _, a := range b.Assets {
			if a.Name == "" {
				return fmt.Errorf("asset in %s: %w", id, ErrEmptyName)
			}
			if prev, ok := m.byAsset[a.Name]; ok {
				return fmt.Errorf("%w: %s in %s and %s", ErrDuplicateAsset, a.Name, prev.Identity(), id)
			}
			m.byAsset[a.Name] = b
		}
	}
	return nil
}

func (m *Manifest) ensureIndex() {
	if m.byID == nil {
		_ = m.Index()
	}
}

// Validate indexes m and checks that every dependency resolves to a declared
// asset and that the dependency graph is acyclic.
func (m *Manifest) Validate() error {
	if err := m.Index(); err != nil {
		return err
	}
	deps := make(map[string][]string, len(m.byAsset))
	for _, b := range m.Bundles {
		for _, a := range b.Assets {
			for _, d := range a.Deps {
				if _, ok := m.byAsset[d]; !ok {
					return fmt.Errorf("%w: %s (required by %s)", ErrUnknownDependency, d, a.Name)
				}
			}
			deps[a.Name] = a.Deps
		}
	}
	return checkCycles(deps)
}

// checkCycles runs a three-colour depth first search over deps.
func checkCycles(deps map[string][]string) error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(deps))
	names := make([]string, 0, len(deps))
	for n := range deps {
		names = append(names, n)
	}
	sort.Strings(names)

	var stack []string
	var visit func(n string) error
	visit = func(n string) error {
		switch color[n] {
		case grey:
			i := len(stack) - 1
			for i > 0 && stack[i] != n {
				i--
			}
			cycle := append(append([]string{}, stack[i:]...), n)
			return fmt.Errorf("%w: %v", ErrDependencyCycle, cycle)
		case black:
			return nil
		}
		color[n] = grey
		stack = append(stack, n)
		for _, d := range deps[n] {
			if err := visit(d); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return nil
	}
	for _, n := range names {
		if err := visit(n); err != nil {
			return err
		}
	}
	return nil
}

// Bundle returns the descriptor with the given identity. A nil manifest
// has no bundles.
func (m *Manifest) Bundle(identity string) (*BundleManifestInfo, bool) {
	if m == nil {
		return nil, false
	}
	m.ensureIndex()
	b, ok := m.byID[identity]
	return b, ok
}

// Asset returns the asset descriptor for name and the bundle declaring it.
func (m *Manifest) Asset(name string) (*BundleManifestInfo, *AssetManifestInfo, bool) {
	m.ensureIndex()
	b, ok := m.byAsset[name]
	if !ok {
		return nil, nil, false
	}
	a, ok := b.Asset(name)
	return b, a, ok
}

// Put adds b, replacing any descriptor with the same identity.
func (m *Manifest) Put(b *BundleManifestInfo) {
	id := b.Identity()
	for i, old := range m.Bundles {
		if old.Identity() == id {
			m.Bundles[i] = b
			_ = m.Index()
			return
		}
	}
	m.Bundles = append(m.Bundles, b)
	_ = m.Index()
}

// Remove drops the descriptor with the given identity.
func (m *Manifest) Remove(identity string) bool {
	for i, b := range m.Bundles {
		if b.Identity() == identity {
			m.Bundles = append(m.Bundles[:i], m.Bundles[i+1:]...)
			_ = m.Index()
			return true
		}
	}
	return false
}

// Groups returns the distinct group names, sorted.
func (m *Manifest) Groups() []string {
	seen := make(map[string]struct{})
	for _, b := range m.Bundles {
		seen[b.Group] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns the descriptors keyed by identity. A nil manifest yields
// an empty snapshot.
func (m *Manifest) Snapshot() map[string]*BundleManifestInfo {
	out := make(map[string]*BundleManifestInfo)
	if m == nil {
		return out
	}
	for _, b := range m.Bundles {
		out[b.Identity()] = b
	}
	return out
}

// TotalSize returns the sum of all bundle sizes.
func (m *Manifest) TotalSize() int64 {
	var n int64
	for _, b := range m.Bundles {
		n += b.Size
	}
	return n
}
