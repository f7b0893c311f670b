package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/warpdl/warpstream/common"
	"github.com/warpdl/warpstream/internal/config"
	"github.com/warpdl/warpstream/internal/driver"
	"github.com/warpdl/warpstream/internal/provider"
	"github.com/warpdl/warpstream/pkg/logger"
	"github.com/warpdl/warpstream/pkg/refpool"
	"github.com/warpdl/warpstream/pkg/region"
	"github.com/warpdl/warpstream/pkg/stream"
	"github.com/warpdl/warpstream/pkg/updater"
)

var (
	configPath    string
	readOnlyDir   string
	readWriteDir  string
	manifestURI   string
	bundleBaseURI string
	debug         bool
	waitTimeout   time.Duration

	globalFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "config, c",
			Usage:       "configuration file (.yaml, .json or .toml)",
			EnvVar:      common.ConfigPathEnv,
			Destination: &configPath,
		},
		cli.StringFlag{
			Name:        "read-only, r",
			Usage:       "directory of the shipped bundles",
			Destination: &readOnlyDir,
		},
		cli.StringFlag{
			Name:        "read-write, w",
			Usage:       "directory of the downloaded bundles",
			Destination: &readWriteDir,
		},
		cli.StringFlag{
			Name:        "manifest-uri, m",
			Usage:       "location of the remote manifest",
			Destination: &manifestURI,
		},
		cli.StringFlag{
			Name:        "bundle-uri, b",
			Usage:       "base location of the remote bundles",
			Destination: &bundleBaseURI,
		},
		cli.BoolFlag{
			Name:        "debug, d",
			Usage:       "enable debug logging",
			Destination: &debug,
		},
		cli.DurationFlag{
			Name:        "timeout, t",
			Usage:       "give up waiting after this long",
			Value:       10 * time.Minute,
			Destination: &waitTimeout,
		},
	}
)

// loadConfig resolves the configuration from file, environment and flags,
// in that order of increasing precedence.
func loadConfig(fs afero.Fs, lookup func(string) (string, bool)) (config.Config, error) {
	cfg := config.Default()
	path := configPath
	if path == "" {
		if ok, _ := afero.Exists(fs, common.DefaultConfigName); ok {
			path = common.DefaultConfigName
		}
	}
	if path != "" {
		var err error
		cfg, err = config.Load(fs, path)
		if err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}
	for dst, v := range map[*string]string{
		&cfg.ReadOnlyDir:   readOnlyDir,
		&cfg.ReadWriteDir:  readWriteDir,
		&cfg.ManifestURI:   manifestURI,
		&cfg.BundleBaseURI: bundleBaseURI,
	} {
		if v != "" {
			*dst = v
		}
	}
	if debug {
		cfg.Debug = true
	}
	return cfg, cfg.Validate()
}

// newLogger logs to stderr, and also to a zap file sink when log_file is set.
func newLogger(cfg config.Config) (logger.Logger, error) {
	console := logger.NewStandardLogger(log.New(os.Stderr, "", log.LstdFlags), cfg.Debug)
	if cfg.LogFile == "" {
		return console, nil
	}
	file, err := logger.NewProductionZapLogger(cfg.Debug, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	return logger.NewMultiLogger(console, file), nil
}

// session is one CLI invocation's runtime and the runner that drives it.
type session struct {
	cfg      config.Config
	log      logger.Logger
	registry *prometheus.Registry
	provider *provider.FS
	rt       *stream.Runtime
	runner   *driver.Runner[*stream.Runtime]
}

func newSession(cfg config.Config, l logger.Logger) (*session, error) {
	regions, err := region.NewOS(cfg.ReadOnlyDir, cfg.ReadWriteDir, cfg.ManifestName)
	if err != nil {
		return nil, err
	}
	s := &session{
		cfg:      cfg,
		log:      l,
		registry: prometheus.NewRegistry(),
		provider: provider.New(regions, logger.Named(l, "provider")),
	}
	s.rt, err = stream.New(stream.Options{
		Regions:  regions,
		Provider: s.provider,
		Pool:     refpool.New(refpool.WithMaxIdle(cfg.PoolMaxIdle)),
		Fetcher: updater.NewRouter(updater.RouterOptions{
			HTTPClient:     &http.Client{},
			FS:             afero.NewOsFs(),
			FTPTimeout:     cfg.FTPTimeout.Std(),
			SSHKeyPath:     cfg.SSHKeyPath,
			KnownHostsPath: cfg.KnownHostsPath,
			RateLimit:      cfg.RateLimit,
		}),
		ManifestURI:   cfg.ManifestURI,
		BundleBaseURI: cfg.BundleBaseURI,
		Verify:        cfg.Verify,
		KeepStale:     cfg.KeepStale,
		UnloadDelay:   cfg.UnloadDelay.Std(),
		Budget:        cfg.FrameBudget.Std(),
		Policy:        cfg.Policy(),
		Logger:        logger.Named(l, "runtime"),
		Registerer:    s.registry,
	})
	if err != nil {
		return nil, err
	}
	s.runner = driver.New(s.rt, &driver.Config{Interval: cfg.TickInterval.Std()}, &driver.Dependencies{
		Logger:       logger.Named(l, "driver"),
		ShutdownFunc: s.rt.Close,
	})
	return s, nil
}

// openSession builds a session from the global flags.
func openSession() (*session, error) {
	cfg, err := loadConfig(afero.NewOsFs(), os.LookupEnv)
	if err != nil {
		return nil, err
	}
	l, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return newSession(cfg, l)
}

// start runs the tick loop in the background.
func (s *session) start(ctx context.Context) {
	go func() {
		if err := s.runner.Start(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("tick loop stopped: %v", err)
		}
	}()
	for !s.runner.IsRunning() {
		time.Sleep(time.Millisecond)
	}
}

// wait blocks until done is closed or the timeout elapses.
func (s *session) wait(done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-time.After(waitTimeout):
		return fmt.Errorf("gave up after %s", waitTimeout)
	}
}

// idle waits for the scheduler to drain.
func (s *session) idle() error {
	deadline := time.Now().Add(waitTimeout)
	for {
		var busy bool
		_ = s.runner.Do(func(rt *stream.Runtime) error {
			busy = rt.Busy()
			return nil
		})
		if !busy {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("gave up after %s", waitTimeout)
		}
		time.Sleep(s.runner.Config().Interval)
	}
}

// close stops the tick loop and releases the runtime.
func (s *session) close() error {
	var err error
	if s.runner.IsRunning() {
		err = s.runner.Shutdown()
	} else {
		err = s.rt.Close()
	}
	s.provider.Wait()
	_ = s.log.Close()
	return err
}
