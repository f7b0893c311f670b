package task

import (
	"errors"
	"fmt"
)

var (
	// ErrInvariant marks programming errors (negative refcounts, releasing an
	// asset that was never acquired, illegal state transitions). Faults
	// wrapping it are never recoverable by retrying.
	ErrInvariant = errors.New("invariant violation")

	// ErrCanceled is passed to Aborter.Abort when a task is cancelled.
	ErrCanceled = errors.New("task canceled")

	// ErrReentrantTick is returned when Tick is called from inside a task.
	ErrReentrantTick = fmt.Errorf("%w: tick called while ticking", ErrInvariant)
)

// FaultKind classifies a task step failure.
type FaultKind int

const (
	// FaultError is an error returned from Run or Update.
	FaultError FaultKind = iota
	// FaultInvariant is an error wrapping ErrInvariant.
	FaultInvariant
	// FaultPanic is a recovered panic.
	FaultPanic
)

func (k FaultKind) String() string {
	switch k {
	case FaultError:
		return "error"
	case FaultInvariant:
		return "invariant"
	case FaultPanic:
		return "panic"
	default:
		return fmt.Sprintf("fault(%d)", int(k))
	}
}

// Fault describes a failed task step. The task has already been
// force-finished and returned to the pool when a Fault is reported.
type Fault struct {
	// Task is the "owner:name" label of the failed task.
	Task     string
	Priority Priority
	Kind     FaultKind
	Err      error
	// Stack is set for recovered panics.
	Stack []byte
}

func (f *Fault) Error() string {
	return fmt.Sprintf("task %s (%s) %s fault: %v", f.Task, f.Priority, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func newFault(b *Base, err error) *Fault {
	kind := FaultError
	if errors.Is(err, ErrInvariant) {
		kind = FaultInvariant
	}
	return &Fault{Task: b.String(), Priority: b.Priority, Kind: kind, Err: err}
}

// Decision is a FaultPolicy verdict.
type Decision int

const (
	// Abort stops the current tick and returns the fault to the caller.
	// Tasks still pending in this tick run on the next one.
	Abort Decision = iota
	// Continue keeps draining; faults are combined and returned when the tick ends.
	Continue
)

// FaultPolicy decides how a tick proceeds after a fault.
type FaultPolicy func(*Fault) Decision

// AbortOnFault stops the tick at the first fault. It is the default policy.
func AbortOnFault(*Fault) Decision { return Abort }

// ContinueOnFault keeps draining after any fault.
func ContinueOnFault(*Fault) Decision { return Continue }

// ContinueUnlessInvariant keeps draining after ordinary errors and panics
// but aborts on invariant violations.
func ContinueUnlessInvariant(f *Fault) Decision {
	if f.Kind == FaultInvariant {
		return Abort
	}
	return Continue
}

// ParsePolicy maps a configuration value to a FaultPolicy.
// Accepted values: "abort" (or empty), "continue", "continue-unless-invariant".
func ParsePolicy(s string) (FaultPolicy, error) {
	switch s {
	case "", "abort":
		return AbortOnFault, nil
	case "continue":
		return ContinueOnFault, nil
	case "continue-unless-invariant":
		return ContinueUnlessInvariant, nil
	default:
		return nil, fmt.Errorf("unknown fault policy %q", s)
	}
}
