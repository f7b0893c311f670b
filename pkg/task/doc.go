// Package task implements the cooperative, priority-ordered task scheduler.
//
// Work is expressed as pooled Task values that move through a small state
// machine (Free, Running, Waiting, Finished). Tasks are grouped by Priority;
// each call to Scheduler.Tick snapshots every group's registered tasks and
// drains the snapshots from the highest priority group to the lowest. Tasks
// registered while a tick is in progress only become eligible on the next
// tick, so self-spawning work cannot stretch a single tick indefinitely.
//
// A task never blocks. Asynchronous work (downloads, manifest reads, bundle
// loads) is started in Run and polled from Update until it completes.
//
// The scheduler is single threaded. Hosts that tick from several goroutines
// must serialise Tick and every Submit/Cancel call themselves.
package task
