package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/warpdl/warpstream/internal/config"
)

const maxSleepCap = 60 * time.Second

// ErrNoOccurrence is returned for cron expressions that never fire within a
// year.
var ErrNoOccurrence = errors.New("cron expression has no occurrence within a year")

// Scheduler manages recurring check events using a min-heap.
// It runs a background goroutine that sleeps until the next event's
// trigger time, then calls the onTrigger callback with the event key.
type Scheduler struct {
	addChan    chan ScheduleEvent
	removeChan chan string
	ctx        context.Context
}

// New creates and starts a new Scheduler.
// The onTrigger callback is invoked on the scheduler goroutine when an
// event fires. The goroutine exits when ctx is cancelled.
func New(ctx context.Context, onTrigger func(string)) *Scheduler {
	s := &Scheduler{
		addChan:    make(chan ScheduleEvent, 64),
		removeChan: make(chan string, 64),
		ctx:        ctx,
	}
	go s.run(onTrigger)
	return s
}

// Add enqueues a new schedule event.
func (s *Scheduler) Add(event ScheduleEvent) {
	select {
	case s.addChan <- event:
	case <-s.ctx.Done():
	}
}

// Remove cancels every scheduled event with the given key.
func (s *Scheduler) Remove(key string) {
	select {
	case s.removeChan <- key:
	case <-s.ctx.Done():
	}
}

// run is the scheduler goroutine. It maintains a min-heap of events and
// sleeps with a 60s max-sleep-cap. Recurring events are re-added at their
// next cron occurrence after firing.
func (s *Scheduler) run(onTrigger func(string)) {
	h := &scheduleHeap{}
	heap.Init(h)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	resetTimer := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		if h.Len() == 0 {
			return nil
		}
		dur := time.Until((*h)[0].TriggerAt)
		if dur > maxSleepCap {
			dur = maxSleepCap
		}
		if dur < 0 {
			dur = 0
		}
		timer = time.NewTimer(dur)
		return timer.C
	}

	timerCh := resetTimer()

	for {
		select {
		case <-s.ctx.Done():
			return

		case event := <-s.addChan:
			heapPush(h, event)
			timerCh = resetTimer()

		case key := <-s.removeChan:
			heapRemoveByKey(h, key)
			timerCh = resetTimer()

		case <-timerCh:
			now := time.Now()
			for h.Len() > 0 && !(*h)[0].TriggerAt.After(now) {
				event := heapPop(h)
				onTrigger(event.Key)
				if event.CronExpr == "" {
					continue
				}
				if next, err := nextCronOccurrence(event.CronExpr, time.Now()); err == nil {
					heapPush(h, ScheduleEvent{Key: event.Key, TriggerAt: next, CronExpr: event.CronExpr})
				}
			}
			timerCh = resetTimer()
		}
	}
}

// nextCronOccurrence returns the next time the cron expression fires strictly
// after start.
func nextCronOccurrence(expr string, start time.Time) (time.Time, error) {
	return gronx.NextTickAfter(expr, start, false)
}

// hasOccurrenceWithinYear reports whether expr fires within a year of from.
// Invalid expressions report false.
func hasOccurrenceWithinYear(expr string, from time.Time) bool {
	next, err := gronx.NextTickAfter(expr, from, false)
	if err != nil {
		return false
	}
	return next.Before(from.Add(365 * 24 * time.Hour))
}

// LoadSchedules turns configured checks into the first event of each
// schedule. Checks whose key is in runNow are also returned in due, for an
// immediate run at startup.
func LoadSchedules(checks []config.Check, runNow map[string]bool, now time.Time) (due []config.Check, events []ScheduleEvent, err error) {
	for _, c := range checks {
		if !hasOccurrenceWithinYear(c.Cron, now) {
			return nil, nil, fmt.Errorf("check %q: %w: %q", c.Key(), ErrNoOccurrence, c.Cron)
		}
		next, err := nextCronOccurrence(c.Cron, now)
		if err != nil {
			return nil, nil, fmt.Errorf("check %q: %w", c.Key(), err)
		}
		if runNow[c.Key()] {
			due = append(due, c)
		}
		events = append(events, ScheduleEvent{Key: c.Key(), TriggerAt: next, CronExpr: c.Cron})
	}
	return due, events, nil
}
