package provider

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warpdl/warpstream/pkg/graph"
	"github.com/warpdl/warpstream/pkg/region"
)

func newRegions(t *testing.T) *region.Regions {
	t.Helper()
	ro, rw := afero.NewMemMapFs(), afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(ro, region.Path("ui/hud", region.ReadOnly), []byte("shipped"), 0o644))
	require.NoError(t, afero.WriteFile(rw, region.Path("ui/hud", region.ReadWrite), []byte("patched!"), 0o644))
	return region.New(ro, rw, region.DefaultManifestName)
}

func wait(t *testing.T, p *FS, req graph.Request) (any, error) {
	t.Helper()
	p.Wait()
	require.True(t, req.Done())
	return req.Result()
}

func TestLoadAsync_ReadsFromRegion(t *testing.T) {
	p := New(newRegions(t), nil)
	for kind, want := range map[region.Kind]string{region.ReadOnly: "shipped", region.ReadWrite: "patched!"} {
		req, err := p.LoadAsync(region.Path("ui/hud", kind), kind)
		require.NoError(t, err)
		h, err := wait(t, p, req)
		require.NoError(t, err)
		b := h.(*Bundle)
		assert.Equal(t, want, string(b.Data))
		assert.Equal(t, kind, b.Region)
		assert.Equal(t, len(want), b.Size())
	}
	assert.Equal(t, 2, p.Loaded())
}

func TestLoadAsync_MissingFile(t *testing.T) {
	p := New(newRegions(t), nil)
	req, err := p.LoadAsync("/nope", region.ReadOnly)
	require.NoError(t, err)
	h, err := wait(t, p, req)
	assert.Error(t, err)
	assert.Nil(t, h)
	assert.Equal(t, 0, p.Loaded())
}

func TestLoadAssetFromBundle(t *testing.T) {
	p := New(newRegions(t), nil)
	req, err := p.LoadAsync(region.Path("ui/hud", region.ReadOnly), region.ReadOnly)
	require.NoError(t, err)
	h, err := wait(t, p, req)
	require.NoError(t, err)

	inst, err := p.LoadAssetFromBundle(h, "hud")
	require.NoError(t, err)
	a := inst.(*Asset)
	assert.Equal(t, "hud", a.Name)
	assert.Equal(t, "/ui/hud#hud", a.String())

	_, err = p.LoadAssetFromBundle(h, "")
	assert.ErrorIs(t, err, ErrEmptyName)
	_, err = p.LoadAssetFromBundle("handle", "hud")
	assert.ErrorIs(t, err, ErrBadHandle)
}

func TestUnload(t *testing.T) {
	p := New(newRegions(t), nil)
	req, err := p.LoadAsync(region.Path("ui/hud", region.ReadOnly), region.ReadOnly)
	require.NoError(t, err)
	h, err := wait(t, p, req)
	require.NoError(t, err)

	require.NoError(t, p.Unload(h))
	assert.Equal(t, 0, p.Loaded())
	assert.Nil(t, h.(*Bundle).Data)

	_, err = p.LoadAssetFromBundle(h, "hud")
	assert.ErrorIs(t, err, ErrUnloaded)
	assert.ErrorIs(t, p.Unload(h), ErrUnloaded)
	assert.ErrorIs(t, p.Unload(42), ErrBadHandle)
}
