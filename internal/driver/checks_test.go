package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/warpdl/warpstream/internal/config"
	"github.com/warpdl/warpstream/pkg/updater"
)

// checkTarget answers every check with a canned result on its next tick.
type checkTarget struct {
	result  *updater.VersionCheckResult
	pending []func(*updater.VersionCheckResult)
	checked [][]string
	updated []string
}

func (c *checkTarget) Tick() error {
	pending := c.pending
	c.pending = nil
	for _, cb := range pending {
		cb(c.result)
	}
	return nil
}

func (c *checkTarget) CheckVersion(groups []string, cb func(*updater.VersionCheckResult)) (*updater.CheckTask, error) {
	c.checked = append(c.checked, groups)
	c.pending = append(c.pending, cb)
	return nil, nil
}

func (c *checkTarget) Update(group string, _ bool, _ func(*updater.UpdateInfo)) (*updater.DownloadTask, error) {
	c.updated = append(c.updated, group)
	return nil, nil
}

func TestChecks_RunNowAndUpdate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	target := &checkTarget{result: &updater.VersionCheckResult{
		UpdateCount: 2,
		Updaters:    []*updater.GroupUpdater{{Group: "ui"}, {Group: "maps"}},
	}}
	r := New(target, nil, nil)

	var keys []string
	checks := []config.Check{
		{Name: "nightly", Cron: "0 2 * * *", Update: true},
		{Groups: []string{"ui"}, Cron: "0 3 * * *"},
	}
	c, err := StartChecks(ctx, r, checks, map[string]bool{"nightly": true}, nil, func(key string, _ *updater.VersionCheckResult) {
		keys = append(keys, key)
	})
	if err != nil {
		t.Fatalf("StartChecks() error = %v", err)
	}
	if len(target.checked) != 1 {
		t.Fatalf("expected 1 immediate check, got %d", len(target.checked))
	}
	if err := r.TickOnce(); err != nil {
		t.Fatalf("TickOnce() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "nightly" {
		t.Errorf("results = %v, want [nightly]", keys)
	}
	if len(target.updated) != 2 || target.updated[0] != "ui" || target.updated[1] != "maps" {
		t.Errorf("updated = %v, want [ui maps]", target.updated)
	}

	// A check without Update only reports.
	if err := c.Fire("ui"); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}
	_ = r.TickOnce()
	if got := target.checked[1]; len(got) != 1 || got[0] != "ui" {
		t.Errorf("checked groups = %v, want [ui]", got)
	}
	if len(target.updated) != 2 {
		t.Errorf("check without update started downloads: %v", target.updated)
	}

	c.Remove("ui")
	if err := c.Fire("ui"); err == nil {
		t.Error("expected error firing a removed check")
	}
}

func TestChecks_FailedCheckSkipsUpdate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	target := &checkTarget{result: &updater.VersionCheckResult{
		Err:      errors.New("remote down"),
		Updaters: []*updater.GroupUpdater{{Group: "ui"}},
	}}
	r := New(target, nil, nil)
	_, err := StartChecks(ctx, r, []config.Check{{Name: "all", Cron: "* * * * *", Update: true}}, map[string]bool{"all": true}, nil, nil)
	if err != nil {
		t.Fatalf("StartChecks() error = %v", err)
	}
	_ = r.TickOnce()
	if len(target.updated) != 0 {
		t.Errorf("updated = %v, want none", target.updated)
	}
}

func TestStartChecks_InvalidCron(t *testing.T) {
	r := New(&checkTarget{}, nil, nil)
	if _, err := StartChecks(context.Background(), r, []config.Check{{Name: "bad", Cron: "never"}}, nil, nil, nil); err == nil {
		t.Fatal("expected error for invalid cron")
	}
}
