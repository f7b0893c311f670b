package updater

import (
	"fmt"
	"sort"

	"github.com/warpdl/warpstream/pkg/manifest"
)

// CheckState is the outcome of comparing the local copies of a bundle with
// the remote manifest.
type CheckState int

const (
	// Disuse means the remote manifest no longer lists the bundle.
	Disuse CheckState = iota
	// InReadOnly means the shipped copy is current.
	InReadOnly
	// InReadWrite means the downloaded copy is current.
	InReadWrite
	// NeedUpdate means neither local copy matches the remote one.
	NeedUpdate
)

func (s CheckState) String() string {
	switch s {
	case Disuse:
		return "disuse"
	case InReadOnly:
		return "in-read-only"
	case InReadWrite:
		return "in-read-write"
	case NeedUpdate:
		return "need-update"
	default:
		return fmt.Sprintf("check-state(%d)", int(s))
	}
}

// CheckInfo is the per-bundle scratch record of a version check.
type CheckInfo struct {
	Name      string
	ReadOnly  *manifest.BundleManifestInfo
	ReadWrite *manifest.BundleManifestInfo
	Remote    *manifest.BundleManifestInfo

	State CheckState
	// NeedRemove is set when the read-write copy is stale and can be deleted.
	NeedRemove bool
}

// RefreshState derives State and NeedRemove from the three snapshots.
func (c *CheckInfo) RefreshState() {
	switch {
	case c.Remote == nil:
		c.State = Disuse
		c.NeedRemove = c.ReadWrite != nil
	case c.ReadOnly.Equal(c.Remote):
		c.State = InReadOnly
		c.NeedRemove = c.ReadWrite != nil
	case c.ReadWrite.Equal(c.Remote):
		c.State = InReadWrite
		c.NeedRemove = false
	default:
		c.State = NeedUpdate
		c.NeedRemove = c.ReadWrite != nil
	}
}

// Group returns the bundle's group, preferring the remote descriptor.
func (c *CheckInfo) Group() string {
	for _, b := range []*manifest.BundleManifestInfo{c.Remote, c.ReadWrite, c.ReadOnly} {
		if b != nil {
			return b.Group
		}
	}
	return ""
}

// Plan builds one CheckInfo per bundle identity listed by any of the three
// manifests, sorted by identity. When groups is non-empty only bundles of
// those groups are planned. Nil manifests are treated as empty.
func Plan(ro, rw, remote *manifest.Manifest, groups []string) []*CheckInfo {
	roSnap, rwSnap, remoteSnap := ro.Snapshot(), rw.Snapshot(), remote.Snapshot()
	ids := make(map[string]struct{}, len(remoteSnap))
	for _, snap := range []map[string]*manifest.BundleManifestInfo{roSnap, rwSnap, remoteSnap} {
		for id := range snap {
			ids[id] = struct{}{}
		}
	}

	var filter map[string]struct{}
	if len(groups) > 0 {
		filter = make(map[string]struct{}, len(groups))
		for _, g := range groups {
			filter[g] = struct{}{}
		}
	}

	out := make([]*CheckInfo, 0, len(ids))
	for id := range ids {
		c := &CheckInfo{
			Name:      id,
			ReadOnly:  roSnap[id],
			ReadWrite: rwSnap[id],
			Remote:    remoteSnap[id],
		}
		if filter != nil {
			if _, ok := filter[c.Group()]; !ok {
				continue
			}
		}
		c.RefreshState()
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Totals sums the pending updates of infos.
func Totals(infos []*CheckInfo) (count int, size int64) {
	for _, c := range infos {
		if c.State == NeedUpdate {
			count++
			size += c.Remote.Size
		}
	}
	return count, size
}
