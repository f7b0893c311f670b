package graph

import (
	"sort"

	"github.com/warpdl/warpstream/pkg/manifest"
	"github.com/warpdl/warpstream/pkg/region"
)

// CatalogEntry locates one bundle descriptor.
type CatalogEntry struct {
	Bundle *manifest.BundleManifestInfo
	Region region.Kind
}

// Catalog maps asset names to the bundle currently declaring them and the
// region the bundle is loaded from.
type Catalog struct {
	bundles map[string]CatalogEntry
	assets  map[string]string
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		bundles: make(map[string]CatalogEntry),
		assets:  make(map[string]string),
	}
}

// Put registers b in kind, replacing any earlier descriptor with the same
// identity along with the asset names it declared.
func (c *Catalog) Put(b *manifest.BundleManifestInfo, kind region.Kind) {
	id := b.Identity()
	c.Remove(id)
	c.bundles[id] = CatalogEntry{Bundle: b, Region: kind}
	for _, a := range b.Assets {
		c.assets[a.Name] = id
	}
}

// Remove forgets the bundle with the given identity.
func (c *Catalog) Remove(identity string) {
	old, ok := c.bundles[identity]
	if !ok {
		return
	}
	for _, a := range old.Bundle.Assets {
		if c.assets[a.Name] == identity {
			delete(c.assets, a.Name)
		}
	}
	delete(c.bundles, identity)
}

// Load registers every bundle of m in kind.
func (c *Catalog) Load(m *manifest.Manifest, kind region.Kind) {
	if m == nil {
		return
	}
	for _, b := range m.Bundles {
		c.Put(b, kind)
	}
}

// Asset resolves an asset name.
func (c *Catalog) Asset(name string) (CatalogEntry, *manifest.AssetManifestInfo, bool) {
	id, ok := c.assets[name]
	if !ok {
		return CatalogEntry{}, nil, false
	}
	e := c.bundles[id]
	a, ok := e.Bundle.Asset(name)
	return e, a, ok
}

// Bundle returns the entry for a bundle identity.
func (c *Catalog) Bundle(identity string) (CatalogEntry, bool) {
	e, ok := c.bundles[identity]
	return e, ok
}

// Len returns the number of bundles.
func (c *Catalog) Len() int { return len(c.bundles) }

// Identities returns every registered bundle identity, sorted.
func (c *Catalog) Identities() []string {
	out := make([]string, 0, len(c.bundles))
	for id := range c.bundles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
