// Package scheduler fires recurring version checks. It runs a single
// goroutine over a min-heap of ScheduleEvents sorted by trigger time, with a
// 60-second max-sleep-cap to handle NTP steps, DST transitions and system
// sleep.
//
// The scheduler only reports that a check is due through its OnTrigger
// callback. Submitting the check to the runtime is up to the caller, which
// must do so from the runtime's own thread.
package scheduler
