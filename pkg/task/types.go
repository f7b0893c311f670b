package task

import (
	"fmt"
	"reflect"

	"github.com/warpdl/warpstream/pkg/refpool"
)

// State is the lifecycle state of a task.
type State int

const (
	// StateFree is the state of a task that has not executed yet.
	StateFree State = iota
	// StateRunning is the state of a task currently executing or ready to poll.
	StateRunning
	// StateWaiting is the state of a task waiting on external work.
	StateWaiting
	// StateFinished is terminal. Finished tasks are returned to the pool.
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Priority orders task groups. Higher priorities run first within a tick.
type Priority int

const (
	// PriorityVeryLow is used for version-manifest checks.
	PriorityVeryLow Priority = iota
	// PriorityLow is used for gameplay load/unload requests.
	PriorityLow
	// PriorityMiddle is used for mid-session group downloads.
	PriorityMiddle
	// PriorityHigh is used for reads of externally imported manifests.
	PriorityHigh
	// PriorityVeryHigh is used for downloads that block loading.
	PriorityVeryHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityVeryLow:
		return "very_low"
	case PriorityLow:
		return "low"
	case PriorityMiddle:
		return "middle"
	case PriorityHigh:
		return "high"
	case PriorityVeryHigh:
		return "very_high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Key identifies a live task. Submitting a task whose key is already live
// merges into the existing task instead of creating a new one.
type Key struct {
	Owner string
	Type  reflect.Type
	Name  string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s:%s", k.Owner, k.Type, k.Name)
}

// Task is the lifecycle contract the scheduler drives.
//
// Run is called exactly once, on the first execution. Update is called after
// Run and on every later execution; it returns the next state. Clear resets
// the task for reuse and is invoked when the task is returned to the pool.
type Task interface {
	refpool.Clearable
	// TaskBase exposes the scheduler bookkeeping embedded in every task.
	TaskBase() *Base
	Run() error
	Update() (State, error)
	// Progress reports completion in [0,1].
	Progress() float64
}

// Aborter is implemented by tasks that must release external resources or
// notify callers when they are cancelled or force-finished after a fault.
type Aborter interface {
	Abort(err error)
}

// Base carries the fields every task shares. Concrete tasks embed it.
type Base struct {
	// Name is the target the task works on (asset name, group, bundle).
	Name string
	// Owner is the component that submitted the task.
	Owner string
	// Priority selects the task group.
	Priority Priority
	// MergeCount counts requests merged into this task after creation.
	MergeCount int

	state     State
	canceled  bool
	progress  float64
	key       Key
	scheduler *Scheduler
}

// TaskBase returns b. It lets any struct embedding Base satisfy Task.
func (b *Base) TaskBase() *Base { return b }

// State returns the current lifecycle state.
func (b *Base) State() State { return b.state }

// Key returns the identity the task is indexed under.
func (b *Base) Key() Key { return b.key }

// Scheduler returns the scheduler that owns the task, or nil once released.
func (b *Base) Scheduler() *Scheduler { return b.scheduler }

// Progress reports completion in [0,1].
func (b *Base) Progress() float64 {
	if b.state == StateFinished {
		return 1
	}
	return b.progress
}

// SetProgress records completion, clamped to [0,1].
func (b *Base) SetProgress(p float64) {
	switch {
	case p < 0:
		p = 0
	case p > 1:
		p = 1
	}
	b.progress = p
}

func (b *Base) String() string {
	return fmt.Sprintf("%s:%s", b.Owner, b.Name)
}
