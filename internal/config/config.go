// Package config loads the warpstream runtime configuration.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"github.com/warpdl/warpstream/common"
	"github.com/warpdl/warpstream/pkg/region"
	"github.com/warpdl/warpstream/pkg/task"
	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyPath            = errors.New("empty config path")
	ErrUnsupportedExtension = errors.New("unsupported config extension")
	ErrInvalid              = errors.New("invalid config")
)

// Duration is a time.Duration that reads and writes as "1m30s".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Check schedules a recurring version check.
type Check struct {
	// Name identifies the schedule. Defaults to the joined group list.
	Name   string   `json:"name" yaml:"name" toml:"name"`
	Groups []string `json:"groups" yaml:"groups" toml:"groups"`
	// Cron is a five-field cron expression.
	Cron string `json:"cron" yaml:"cron" toml:"cron"`
	// Update downloads every group with outstanding bundles after the check.
	Update bool `json:"update" yaml:"update" toml:"update"`
}

// Key returns the schedule key of the check.
func (c Check) Key() string {
	if c.Name != "" {
		return c.Name
	}
	if len(c.Groups) == 0 {
		return "all"
	}
	return strings.Join(c.Groups, ",")
}

// Config holds runtime parameters. Zero values are replaced by Default.
type Config struct {
	ReadOnlyDir   string `json:"read_only_dir" yaml:"read_only_dir" toml:"read_only_dir"`
	ReadWriteDir  string `json:"read_write_dir" yaml:"read_write_dir" toml:"read_write_dir"`
	ManifestName  string `json:"manifest_name" yaml:"manifest_name" toml:"manifest_name"`
	ManifestURI   string `json:"manifest_uri" yaml:"manifest_uri" toml:"manifest_uri"`
	BundleBaseURI string `json:"bundle_base_uri" yaml:"bundle_base_uri" toml:"bundle_base_uri"`

	Verify    bool `json:"verify" yaml:"verify" toml:"verify"`
	KeepStale bool `json:"keep_stale" yaml:"keep_stale" toml:"keep_stale"`
	// RateLimit caps download bytes per second. Zero is unlimited.
	RateLimit  int64    `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit"`
	FTPTimeout Duration `json:"ftp_timeout" yaml:"ftp_timeout" toml:"ftp_timeout"`

	// SSHKeyPath authenticates sftp URIs that carry no password.
	SSHKeyPath     string `json:"ssh_key_path" yaml:"ssh_key_path" toml:"ssh_key_path"`
	KnownHostsPath string `json:"known_hosts_path" yaml:"known_hosts_path" toml:"known_hosts_path"`

	UnloadDelay  Duration `json:"unload_delay" yaml:"unload_delay" toml:"unload_delay"`
	FrameBudget  Duration `json:"frame_budget" yaml:"frame_budget" toml:"frame_budget"`
	TickInterval Duration `json:"tick_interval" yaml:"tick_interval" toml:"tick_interval"`
	// FaultPolicy is one of abort, continue or continue-unless-invariant.
	FaultPolicy string `json:"fault_policy" yaml:"fault_policy" toml:"fault_policy"`
	// PoolMaxIdle caps the idle tasks kept per type. Zero is unlimited.
	PoolMaxIdle int `json:"pool_max_idle" yaml:"pool_max_idle" toml:"pool_max_idle"`

	Debug   bool   `json:"debug" yaml:"debug" toml:"debug"`
	LogFile string `json:"log_file" yaml:"log_file" toml:"log_file"`

	Checks []Check `json:"checks" yaml:"checks" toml:"checks"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ReadOnlyDir:  "assets",
		ReadWriteDir: "cache",
		ManifestName: region.DefaultManifestName,
		Verify:       true,
		FTPTimeout:   Duration(30 * time.Second),
		UnloadDelay:  Duration(2 * time.Second),
		TickInterval: Duration(16 * time.Millisecond),
		FaultPolicy:  "abort",
	}
}

// Load reads a configuration file based on its extension over Default.
// Supports: .yaml/.yml, .json, .toml
func Load(fs afero.Fs, path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, ErrEmptyPath
	}
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the WARPSTREAM_* environment variables.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		common.ReadOnlyDirEnv:   &c.ReadOnlyDir,
		common.ReadWriteDirEnv:  &c.ReadWriteDir,
		common.ManifestURIEnv:   &c.ManifestURI,
		common.BundleBaseURIEnv: &c.BundleBaseURI,
	}
	for env, dst := range str {
		if v, ok := lookup(env); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup(common.RateLimitEnv); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", common.RateLimitEnv, err)
		}
		c.RateLimit = n
	}
	if v, ok := lookup(common.DebugEnv); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", common.DebugEnv, err)
		}
		c.Debug = b
	}
	return nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var problems []string
	if c.ReadOnlyDir == "" {
		problems = append(problems, "read_only_dir is required")
	}
	if c.ReadWriteDir == "" {
		problems = append(problems, "read_write_dir is required")
	}
	if c.RateLimit < 0 {
		problems = append(problems, "rate_limit must not be negative")
	}
	if _, err := task.ParsePolicy(c.FaultPolicy); err != nil {
		problems = append(problems, err.Error())
	}
	if c.PoolMaxIdle < 0 {
		problems = append(problems, "pool_max_idle must not be negative")
	}
	if c.TickInterval <= 0 {
		problems = append(problems, "tick_interval must be positive")
	}
	cron := gronx.New()
	seen := make(map[string]struct{}, len(c.Checks))
	for _, ch := range c.Checks {
		if !cron.IsValid(ch.Cron) {
			problems = append(problems, fmt.Sprintf("check %q: invalid cron expression %q", ch.Key(), ch.Cron))
		}
		if _, dup := seen[ch.Key()]; dup {
			problems = append(problems, fmt.Sprintf("check %q: duplicate name", ch.Key()))
		}
		seen[ch.Key()] = struct{}{}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Policy returns the parsed fault policy.
func (c *Config) Policy() task.FaultPolicy {
	p, err := task.ParsePolicy(c.FaultPolicy)
	if err != nil {
		return task.AbortOnFault
	}
	return p
}
