package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warpdl/warpstream/common"
)

func TestLoad_ByExtension(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/c.yaml": "read_only_dir: ro\nunload_delay: 5s\nrate_limit: 1024\nchecks:\n  - groups: [ui]\n    cron: \"*/5 * * * *\"\n",
		"/c.yml":  "read_only_dir: ro\nunload_delay: 5s\nrate_limit: 1024\nchecks:\n  - groups: [ui]\n    cron: \"*/5 * * * *\"\n",
		"/c.json": `{"read_only_dir":"ro","unload_delay":"5s","rate_limit":1024,"checks":[{"groups":["ui"],"cron":"*/5 * * * *"}]}`,
		"/c.toml": "read_only_dir = \"ro\"\nunload_delay = \"5s\"\nrate_limit = 1024\n[[checks]]\ngroups = [\"ui\"]\ncron = \"*/5 * * * *\"\n",
	}
	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, afero.WriteFile(fs, name, []byte(body), 0o644))
			cfg, err := Load(fs, name)
			require.NoError(t, err)
			assert.Equal(t, "ro", cfg.ReadOnlyDir)
			assert.Equal(t, "cache", cfg.ReadWriteDir, "defaults survive")
			assert.Equal(t, 5*time.Second, cfg.UnloadDelay.Std())
			assert.Equal(t, int64(1024), cfg.RateLimit)
			require.Len(t, cfg.Checks, 1)
			assert.Equal(t, "ui", cfg.Checks[0].Key())
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := Load(fs, "")
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, err = Load(fs, "/missing.yaml")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/c.ini", []byte("x=1"), 0o644))
	_, err = Load(fs, "/c.ini")
	assert.ErrorIs(t, err, ErrUnsupportedExtension)

	require.NoError(t, afero.WriteFile(fs, "/bad.yaml", []byte("unload_delay: soon\n"), 0o644))
	_, err = Load(fs, "/bad.yaml")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/unknown.json", []byte(`{"nope":1}`), 0o644))
	_, err = Load(fs, "/unknown.json")
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		common.ReadWriteDirEnv: "/var/cache/ws",
		common.ManifestURIEnv:  "https://cdn.example.com/manifest.yaml",
		common.RateLimitEnv:    "2048",
		common.DebugEnv:        "true",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "/var/cache/ws", cfg.ReadWriteDir)
	assert.Equal(t, "assets", cfg.ReadOnlyDir)
	assert.Equal(t, "https://cdn.example.com/manifest.yaml", cfg.ManifestURI)
	assert.Equal(t, int64(2048), cfg.RateLimit)
	assert.True(t, cfg.Debug)

	env[common.RateLimitEnv] = "fast"
	assert.Error(t, cfg.ApplyEnv(lookup))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.ReadOnlyDir = ""
	cfg.FaultPolicy = "sometimes"
	cfg.PoolMaxIdle = -1
	cfg.Checks = []Check{
		{Groups: []string{"ui"}, Cron: "not a cron"},
		{Name: "ui", Cron: "0 * * * *"},
	}
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "read_only_dir")
	assert.Contains(t, err.Error(), "sometimes")
	assert.Contains(t, err.Error(), "invalid cron")
	assert.Contains(t, err.Error(), "duplicate")
	assert.Contains(t, err.Error(), "pool_max_idle")
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))
	assert.Error(t, d.UnmarshalText([]byte("later")))
}

func TestCheckKey(t *testing.T) {
	assert.Equal(t, "all", Check{}.Key())
	assert.Equal(t, "maps,ui", Check{Groups: []string{"maps", "ui"}}.Key())
	assert.Equal(t, "nightly", Check{Name: "nightly", Groups: []string{"ui"}}.Key())
}
