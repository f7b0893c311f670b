package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/warpdl/warpstream/internal/config"
	"github.com/warpdl/warpstream/internal/scheduler"
	"github.com/warpdl/warpstream/pkg/logger"
	"github.com/warpdl/warpstream/pkg/updater"
)

// CheckTarget is a Target that can run version checks and downloads.
type CheckTarget interface {
	Target
	CheckVersion(groups []string, cb func(*updater.VersionCheckResult)) (*updater.CheckTask, error)
	Update(group string, blocking bool, cb func(*updater.UpdateInfo)) (*updater.DownloadTask, error)
}

// CheckResultFunc receives the outcome of a scheduled check. It runs inside
// the exclusive section.
type CheckResultFunc func(key string, res *updater.VersionCheckResult)

// Checks submits the configured version checks when their cron schedule
// fires. Triggers arrive on the scheduler goroutine and are forwarded through
// the runner's exclusive section.
type Checks[T CheckTarget] struct {
	runner *Runner[T]
	// checks is only touched inside the exclusive section.
	checks   map[string]config.Check
	sched    *scheduler.Scheduler
	log      logger.Logger
	onResult CheckResultFunc
}

// StartChecks schedules checks until ctx is canceled. Checks whose key is in
// runNow are submitted right away.
func StartChecks[T CheckTarget](ctx context.Context, runner *Runner[T], checks []config.Check, runNow map[string]bool, l logger.Logger, onResult CheckResultFunc) (*Checks[T], error) {
	due, events, err := scheduler.LoadSchedules(checks, runNow, time.Now())
	if err != nil {
		return nil, err
	}
	c := &Checks[T]{
		runner:   runner,
		checks:   make(map[string]config.Check, len(checks)),
		log:      logger.OrNop(l),
		onResult: onResult,
	}
	for _, ch := range checks {
		c.checks[ch.Key()] = ch
	}
	for _, ch := range due {
		if err := c.Fire(ch.Key()); err != nil {
			return nil, err
		}
	}
	c.sched = scheduler.New(ctx, c.trigger)
	for _, e := range events {
		c.sched.Add(e)
	}
	return c, nil
}

func (c *Checks[T]) trigger(key string) {
	if err := c.Fire(key); err != nil {
		c.log.Error("driver: check %s: %v", key, err)
	}
}

// Fire submits the check registered under key.
func (c *Checks[T]) Fire(key string) error {
	return c.runner.Do(func(t T) error {
		ch, ok := c.checks[key]
		if !ok {
			return fmt.Errorf("unknown check %q", key)
		}
		_, err := t.CheckVersion(ch.Groups, func(res *updater.VersionCheckResult) {
			c.done(t, ch, res)
		})
		return err
	})
}

func (c *Checks[T]) done(t T, ch config.Check, res *updater.VersionCheckResult) {
	switch {
	case res.Err != nil:
		c.log.Warning("driver: check %s failed: %v", ch.Key(), res.Err)
	case res.UpdateCount > 0:
		c.log.Info("driver: check %s: %d bundles (%d bytes) outdated", ch.Key(), res.UpdateCount, res.UpdateBytes)
	}
	if ch.Update && res.Err == nil {
		for _, u := range res.Updaters {
			if _, err := t.Update(u.Group, false, nil); err != nil {
				c.log.Error("driver: update %s: %v", u.Group, err)
			}
		}
	}
	if c.onResult != nil {
		c.onResult(ch.Key(), res)
	}
}

// Remove stops the schedule registered under key.
func (c *Checks[T]) Remove(key string) {
	c.sched.Remove(key)
	_ = c.runner.Do(func(T) error {
		delete(c.checks, key)
		return nil
	})
}
