package task

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/warpdl/warpstream/pkg/logger"
	"github.com/warpdl/warpstream/pkg/refpool"
	"go.uber.org/multierr"
)

// Config holds the scheduler tunables. Zero values select defaults.
type Config struct {
	// Pool recycles finished tasks. A private pool is created when nil.
	Pool *refpool.Pool
	// Policy decides whether a tick continues after a fault. Defaults to AbortOnFault.
	Policy FaultPolicy
	// Budget bounds the time one tick may spend running tasks. Zero means unlimited.
	// At least one task runs per tick regardless of the budget.
	Budget time.Duration
	// Clock measures the budget and step durations. Defaults to the wall clock.
	Clock clock.Clock
	// Logger receives fault reports. Defaults to a NopLogger.
	Logger logger.Logger
	// OnStep is called after every task execution.
	OnStep func(info StepInfo)
	// OnFault is called for every fault before the policy is consulted.
	OnFault func(f *Fault)
}

// StepInfo describes one task execution. The task itself may already be
// back in the pool when OnStep runs, so only copied fields are exposed.
type StepInfo struct {
	Task     string
	Owner    string
	Priority Priority
	State    State
	Duration time.Duration
	Fault    *Fault
}

// Scheduler runs pooled tasks grouped by priority.
type Scheduler struct {
	pool    *refpool.Pool
	policy  FaultPolicy
	budget  time.Duration
	clock   clock.Clock
	log     logger.Logger
	onStep  func(StepInfo)
	onFault func(*Fault)

	groups  []*Group // descending priority
	scratch []*Group
	byPrio  map[Priority]*Group
	index   map[Key]Task
	running Task
	ticking bool
	ticks   uint64
}

// New creates a Scheduler from cfg.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		pool:    cfg.Pool,
		policy:  cfg.Policy,
		budget:  cfg.Budget,
		clock:   cfg.Clock,
		log:     logger.OrNop(cfg.Logger),
		onStep:  cfg.OnStep,
		onFault: cfg.OnFault,
		byPrio:  make(map[Priority]*Group),
		index:   make(map[Key]Task),
	}
	if s.pool == nil {
		s.pool = refpool.New()
	}
	if s.policy == nil {
		s.policy = AbortOnFault
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	return s
}

// Submit registers a pooled task of type T for (owner, name), or merges into
// the live task with the same owner, concrete type and name. init runs only
// for newly created tasks. The returned bool reports whether a merge happened.
//
// The new task joins its priority group immediately but is not executed
// until the next tick snapshot.
func Submit[T any, PT interface {
	*T
	Task
}](s *Scheduler, owner, name string, prio Priority, init func(PT)) (PT, bool) {
	key := Key{Owner: owner, Type: reflect.TypeFor[PT](), Name: name}
	if live, ok := s.index[key]; ok {
		live.TaskBase().MergeCount++
		return live.(PT), true
	}
	t := refpool.Get[T, PT](s.pool)
	b := t.TaskBase()
	b.Name = name
	b.Owner = owner
	b.Priority = prio
	b.state = StateFree
	b.canceled = false
	b.key = key
	b.scheduler = s
	if init != nil {
		init(t)
	}
	s.index[key] = t
	s.group(prio).add(t)
	return t, false
}

// Find returns the live task of type PT registered for (owner, name).
func Find[PT Task](s *Scheduler, owner, name string) (PT, bool) {
	key := Key{Owner: owner, Type: reflect.TypeFor[PT](), Name: name}
	t, ok := s.index[key]
	if !ok {
		var zero PT
		return zero, false
	}
	return t.(PT), true
}

// Cancel removes a live task before it finishes. The task is aborted with
// ErrCanceled and returned to the pool. Cancelling a task that is not owned
// by s is a no-op.
//
// A task cancelled from inside its own Run or Update is unregistered at
// once, but it is aborted and released only after the step returns. A step
// that reports StateFinished completes normally and is not aborted.
func (s *Scheduler) Cancel(t Task) {
	b := t.TaskBase()
	if b.scheduler != s || b.state == StateFinished || b.canceled {
		return
	}
	if t == s.running {
		b.canceled = true
		if live, ok := s.index[b.key]; ok && live == t {
			delete(s.index, b.key)
		}
		return
	}
	b.state = StateFinished
	if a, ok := t.(Aborter); ok {
		a.Abort(ErrCanceled)
	}
	s.finish(t)
}

// Tick runs one scheduling pass. Every group is snapshotted first, then the
// snapshots are drained from the highest priority to the lowest.
func (s *Scheduler) Tick() error {
	if s.ticking {
		return ErrReentrantTick
	}
	s.ticking = true
	defer func() { s.ticking = false }()
	s.ticks++

	// Tasks may create new groups mid-tick; iterate a stable copy.
	s.scratch = append(s.scratch[:0], s.groups...)
	for _, g := range s.scratch {
		g.PreRun()
	}

	start := s.clock.Now()
	ran := 0
	var errs error
	for _, g := range s.scratch {
		for g.CanRun() {
			if s.budget > 0 && ran > 0 && s.clock.Since(start) >= s.budget {
				return errs
			}
			t := g.next()
			ran++
			f := s.execute(t)
			if f == nil {
				continue
			}
			if s.onFault != nil {
				s.onFault(f)
			}
			if s.policy(f) == Abort {
				s.dropSnapshots()
				return multierr.Append(errs, f)
			}
			errs = multierr.Append(errs, f)
		}
	}
	return errs
}

// execute runs one step of t and converts errors and panics into a Fault.
// A faulting task is force-finished and cleaned up before returning.
func (s *Scheduler) execute(t Task) (fault *Fault) {
	var next State
	b := t.TaskBase()
	info := StepInfo{Task: b.String(), Owner: b.Owner, Priority: b.Priority}
	began := s.clock.Now()
	s.running = t
	defer func() {
		s.running = nil
		if r := recover(); r != nil {
			fault = &Fault{
				Task:     info.Task,
				Priority: info.Priority,
				Kind:     FaultPanic,
				Err:      fmt.Errorf("panic: %v", r),
				Stack:    debug.Stack(),
			}
		}
		info.Duration = s.clock.Since(began)
		info.Fault = fault
		if fault == nil {
			info.State = next
		} else {
			info.State = StateFinished
		}
		if s.onStep != nil {
			s.onStep(info)
		}
		if fault != nil {
			s.log.Error("%s", fault.Error())
			if fault.Stack != nil {
				s.log.Debug("%s", fault.Stack)
			}
			if b.scheduler == s && b.state != StateFinished {
				b.state = StateFinished
				if a, ok := t.(Aborter); ok {
					a.Abort(fault)
				}
				s.finish(t)
			}
		}
	}()

	switch b.state {
	case StateFree:
		b.state = StateRunning
		if err := t.Run(); err != nil {
			return newFault(b, err)
		}
	case StateWaiting:
		b.state = StateRunning
	case StateFinished:
		return newFault(b, fmt.Errorf("%w: finished task %s scheduled again", ErrInvariant, b))
	}

	next = StateWaiting
	if !b.canceled {
		var err error
		next, err = t.Update()
		if err != nil {
			return newFault(b, err)
		}
		if next == StateFree {
			return newFault(b, fmt.Errorf("%w: task %s returned to free state", ErrInvariant, b))
		}
	}
	if b.canceled && next != StateFinished {
		b.state = StateFinished
		if a, ok := t.(Aborter); ok {
			a.Abort(ErrCanceled)
		}
		next = StateFinished
	}
	b.state = next
	if next == StateFinished {
		s.finish(t)
	}
	return nil
}

// finish unregisters t and returns it to the pool.
func (s *Scheduler) finish(t Task) {
	b := t.TaskBase()
	if g := s.byPrio[b.Priority]; g != nil {
		g.remove(t)
	}
	if live, ok := s.index[b.key]; ok && live == t {
		delete(s.index, b.key)
	}
	s.pool.Release(t)
}

func (s *Scheduler) dropSnapshots() {
	for _, g := range s.scratch {
		g.resetPending()
	}
}

func (s *Scheduler) group(p Priority) *Group {
	if g, ok := s.byPrio[p]; ok {
		return g
	}
	g := newGroup(p)
	s.byPrio[p] = g
	s.groups = append(s.groups, g)
	sort.SliceStable(s.groups, func(i, j int) bool {
		return s.groups[i].priority > s.groups[j].priority
	})
	return g
}

// Len returns the number of live tasks.
func (s *Scheduler) Len() int { return len(s.index) }

// Ticks returns the number of Tick calls so far.
func (s *Scheduler) Ticks() uint64 { return s.ticks }

// Busy reports whether any task is registered.
func (s *Scheduler) Busy() bool { return len(s.index) > 0 }

// Tasks returns the live tasks submitted by owner, highest priority first and
// in registration order within a priority. An empty owner matches every task.
func (s *Scheduler) Tasks(owner string) []Task {
	var out []Task
	for _, g := range s.groups {
		for _, t := range g.main {
			if owner == "" || t.TaskBase().Owner == owner {
				out = append(out, t)
			}
		}
	}
	return out
}

// GroupStats describes one priority group.
type GroupStats struct {
	Priority   Priority
	Registered int
	Pending    int
}

// Groups returns per-group counts, highest priority first.
func (s *Scheduler) Groups() []GroupStats {
	out := make([]GroupStats, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, GroupStats{Priority: g.priority, Registered: g.Len(), Pending: g.Pending()})
	}
	return out
}

// Pool returns the pool tasks are recycled through.
func (s *Scheduler) Pool() *refpool.Pool { return s.pool }
