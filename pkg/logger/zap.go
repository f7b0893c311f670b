package logger

import (
	"errors"
	"os"
	"syscall"

	"go.uber.org/zap"
)

// ZapLogger adapts a zap sugared logger to the Logger interface.
type ZapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{s: l.Sugar()}
}

// NewProductionZapLogger builds a JSON zap logger writing to the given paths
// (stderr when none are given). Debug level is enabled when verbose.
func NewProductionZapLogger(verbose bool, paths ...string) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	if len(paths) > 0 {
		cfg.OutputPaths = paths
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(l), nil
}

// Named returns a child logger scoped to a component.
func (z *ZapLogger) Named(component string) *ZapLogger {
	return &ZapLogger{s: z.s.Named(component)}
}

func (z *ZapLogger) Debug(format string, args ...interface{})   { z.s.Debugf(format, args...) }
func (z *ZapLogger) Info(format string, args ...interface{})    { z.s.Infof(format, args...) }
func (z *ZapLogger) Warning(format string, args ...interface{}) { z.s.Warnf(format, args...) }
func (z *ZapLogger) Error(format string, args ...interface{})   { z.s.Errorf(format, args...) }

// Close flushes buffered entries. Sync errors from terminals are ignored.
func (z *ZapLogger) Close() error {
	err := z.s.Sync()
	if err != nil && (errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, os.ErrInvalid)) {
		return nil
	}
	return err
}

var _ Logger = (*ZapLogger)(nil)
