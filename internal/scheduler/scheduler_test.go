package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/warpdl/warpstream/internal/config"
)

// recorder collects fired keys.
type recorder struct {
	mu    sync.Mutex
	fired []string
}

func (r *recorder) trigger(key string) {
	r.mu.Lock()
	r.fired = append(r.fired, key)
	r.mu.Unlock()
}

func (r *recorder) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.fired...)
}

func TestScheduler_AddAndFire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	s := New(ctx, rec.trigger)
	s.Add(ScheduleEvent{Key: "ui", TriggerAt: time.Now().Add(100 * time.Millisecond)})

	time.Sleep(300 * time.Millisecond)

	if got := rec.keys(); len(got) != 1 || got[0] != "ui" {
		t.Fatalf("expected ui to fire once, got %v", got)
	}
}

func TestScheduler_CancelBeforeFire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	s := New(ctx, rec.trigger)
	s.Add(ScheduleEvent{Key: "maps", TriggerAt: time.Now().Add(500 * time.Millisecond)})

	time.Sleep(100 * time.Millisecond)
	s.Remove("maps")
	time.Sleep(700 * time.Millisecond)

	if got := rec.keys(); len(got) != 0 {
		t.Fatalf("expected maps NOT to fire after remove, got %v", got)
	}
}

func TestScheduler_ShutdownViaContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	rec := &recorder{}
	s := New(ctx, rec.trigger)
	s.Add(ScheduleEvent{Key: "ui", TriggerAt: time.Now().Add(300 * time.Millisecond)})
	cancel()

	time.Sleep(500 * time.Millisecond)

	if got := rec.keys(); len(got) != 0 {
		t.Fatalf("expected nothing to fire after context cancel, got %v", got)
	}
	// Calls after shutdown must not block.
	s.Add(ScheduleEvent{Key: "late", TriggerAt: time.Now()})
	s.Remove("late")
}

func TestScheduler_EmptyDoesNotFire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	_ = New(ctx, rec.trigger)
	time.Sleep(200 * time.Millisecond)

	if got := rec.keys(); len(got) != 0 {
		t.Fatalf("expected no triggers on empty scheduler, got %v", got)
	}
}

func TestScheduler_MultipleEventsFireInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	s := New(ctx, rec.trigger)
	s.Add(ScheduleEvent{Key: "second", TriggerAt: time.Now().Add(200 * time.Millisecond)})
	s.Add(ScheduleEvent{Key: "first", TriggerAt: time.Now().Add(100 * time.Millisecond)})

	time.Sleep(400 * time.Millisecond)

	got := rec.keys()
	if len(got) != 2 {
		t.Fatalf("expected 2 triggers, got %v", got)
	}
	if got[0] != "first" || got[1] != "second" {
		t.Errorf("expected [first second], got %v", got)
	}
}

func TestScheduler_RecurringFiresAtLeastOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	s := New(ctx, rec.trigger)
	// The first trigger is explicit; the next one lands on the following minute.
	s.Add(ScheduleEvent{Key: "all", TriggerAt: time.Now().Add(100 * time.Millisecond), CronExpr: "* * * * *"})

	time.Sleep(300 * time.Millisecond)

	if got := rec.keys(); len(got) < 1 {
		t.Fatal("expected recurring event to fire at least once")
	}
}

func TestNextCronOccurrence(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	next, err := nextCronOccurrence("0 2 * * *", now)
	if err != nil {
		t.Fatalf("expected no error: %v", err)
	}
	if next.Hour() != 2 || next.Minute() != 0 {
		t.Errorf("expected 02:00, got %v", next)
	}
	if _, err := nextCronOccurrence("bad-expr", now); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestHasOccurrenceWithinYear(t *testing.T) {
	now := time.Now()
	if !hasOccurrenceWithinYear("0 2 * * *", now) {
		t.Error("expected daily cron to have occurrence in next year")
	}
	if hasOccurrenceWithinYear("bad-cron", now) {
		t.Error("invalid cron should return false")
	}
}

func TestLoadSchedules(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	checks := []config.Check{
		{Groups: []string{"ui"}, Cron: "*/30 * * * *"},
		{Name: "nightly", Cron: "0 2 * * *", Update: true},
	}

	due, events, err := LoadSchedules(checks, map[string]bool{"nightly": true}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 1 || due[0].Key() != "nightly" {
		t.Fatalf("expected nightly to be due now, got %v", due)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Key != "ui" || !events[0].TriggerAt.Equal(now.Add(30*time.Minute)) {
		t.Errorf("unexpected ui event %+v", events[0])
	}
	if events[1].CronExpr != "0 2 * * *" {
		t.Errorf("expected CronExpr preserved, got %q", events[1].CronExpr)
	}
	for _, e := range events {
		if !e.TriggerAt.After(now) {
			t.Errorf("expected %s to trigger after now, got %v", e.Key, e.TriggerAt)
		}
	}
}

func TestLoadSchedules_InvalidCron(t *testing.T) {
	_, _, err := LoadSchedules([]config.Check{{Name: "broken", Cron: "nope"}}, nil, time.Now())
	if !errors.Is(err, ErrNoOccurrence) {
		t.Fatalf("expected ErrNoOccurrence, got %v", err)
	}
}

func TestLoadSchedules_Empty(t *testing.T) {
	due, events, err := LoadSchedules(nil, nil, time.Now())
	if err != nil || len(due) != 0 || len(events) != 0 {
		t.Errorf("expected empty results, got due=%d events=%d err=%v", len(due), len(events), err)
	}
}
