package updater

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warpdl/warpstream/pkg/manifest"
)

func bundle(group, name, hash string, size int64) *manifest.BundleManifestInfo {
	return &manifest.BundleManifestInfo{Dir: group, Name: name, Group: group, Hash: hash, Size: size}
}

func TestRefreshState(t *testing.T) {
	tests := []struct {
		name           string
		ro, rw, remote *manifest.BundleManifestInfo
		state          CheckState
		needRemove     bool
	}{
		{"shipped copy current", bundle("ui", "a", "h1", 1), nil, bundle("ui", "a", "h1", 1), InReadOnly, false},
		{"shipped current stale download", bundle("ui", "a", "h1", 1), bundle("ui", "a", "h0", 1), bundle("ui", "a", "h1", 1), InReadOnly, true},
		{"download current", bundle("ui", "a", "h1", 1), bundle("ui", "a", "h2", 1), bundle("ui", "a", "h2", 1), InReadWrite, false},
		{"both stale", bundle("ui", "a", "h1", 1), bundle("ui", "a", "h2", 1), bundle("ui", "a", "h3", 1), NeedUpdate, true},
		{"new bundle", nil, nil, bundle("ui", "a", "h3", 1), NeedUpdate, false},
		{"dropped remotely", bundle("ui", "a", "h1", 1), bundle("ui", "a", "h2", 1), nil, Disuse, true},
		{"dropped, nothing downloaded", bundle("ui", "a", "h1", 1), nil, nil, Disuse, false},
		{"size ignored", bundle("ui", "a", "h1", 1), nil, bundle("ui", "a", "h1", 99), InReadOnly, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &CheckInfo{Name: "ui/a", ReadOnly: tc.ro, ReadWrite: tc.rw, Remote: tc.remote}
			c.RefreshState()
			assert.Equal(t, tc.state, c.State)
			assert.Equal(t, tc.needRemove, c.NeedRemove)
		})
	}
}

func TestPlan(t *testing.T) {
	ro := &manifest.Manifest{Bundles: []*manifest.BundleManifestInfo{
		bundle("ui", "a", "h1", 10),
		bundle("maps", "m", "h1", 10),
	}}
	rw := &manifest.Manifest{Bundles: []*manifest.BundleManifestInfo{
		bundle("maps", "m", "h2", 10),
	}}
	remote := &manifest.Manifest{Bundles: []*manifest.BundleManifestInfo{
		bundle("ui", "a", "h1", 10),
		bundle("ui", "b", "h1", 20),
		bundle("maps", "m", "h3", 30),
	}}

	infos := Plan(ro, rw, remote, nil)
	require.Len(t, infos, 3)
	assert.Equal(t, "maps/m", infos[0].Name)
	assert.Equal(t, NeedUpdate, infos[0].State)
	assert.True(t, infos[0].NeedRemove)
	assert.Equal(t, "ui/a", infos[1].Name)
	assert.Equal(t, InReadOnly, infos[1].State)
	assert.Equal(t, "ui/b", infos[2].Name)
	assert.Equal(t, NeedUpdate, infos[2].State)

	count, size := Totals(infos)
	assert.Equal(t, 2, count)
	assert.Equal(t, int64(50), size)

	infos = Plan(ro, rw, remote, []string{"ui"})
	require.Len(t, infos, 2)
	for _, c := range infos {
		assert.Equal(t, "ui", c.Group())
	}
}

func TestPlan_NilManifests(t *testing.T) {
	remote := &manifest.Manifest{Bundles: []*manifest.BundleManifestInfo{bundle("ui", "a", "h1", 10)}}
	infos := Plan(nil, nil, remote, nil)
	require.Len(t, infos, 1)
	assert.Equal(t, NeedUpdate, infos[0].State)
	assert.Empty(t, Plan(nil, nil, nil, nil))
}
