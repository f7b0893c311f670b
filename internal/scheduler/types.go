package scheduler

import "time"

// ScheduleEvent is a pending version check in the scheduler heap.
type ScheduleEvent struct {
	// Key identifies the check schedule to run when TriggerAt is reached.
	Key string
	// TriggerAt is the wall-clock time when the check is due.
	TriggerAt time.Time
	// CronExpr is the cron expression of recurring checks.
	// Empty string means one-shot: no re-scheduling after firing.
	CronExpr string
}
