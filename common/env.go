// Package common provides constants shared by the warpstream command line
// and its runtime configuration.
package common

// Environment variable names for configuration overrides.
const (
	// ConfigPathEnv points at the configuration file to load.
	ConfigPathEnv = "WARPSTREAM_CONFIG"

	// ReadOnlyDirEnv overrides the read-only region directory.
	ReadOnlyDirEnv = "WARPSTREAM_READ_ONLY_DIR"

	// ReadWriteDirEnv overrides the read-write region directory.
	ReadWriteDirEnv = "WARPSTREAM_READ_WRITE_DIR"

	// ManifestURIEnv overrides the remote manifest location.
	ManifestURIEnv = "WARPSTREAM_MANIFEST_URI"

	// BundleBaseURIEnv overrides the remote bundle base location.
	BundleBaseURIEnv = "WARPSTREAM_BUNDLE_BASE_URI"

	// RateLimitEnv overrides the download rate limit in bytes per second.
	RateLimitEnv = "WARPSTREAM_RATE_LIMIT"

	// DebugEnv is the environment variable to enable debug logging.
	DebugEnv = "WARPSTREAM_DEBUG"
)
