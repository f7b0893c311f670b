package task

// Group is one priority bucket. main holds every registered task in
// registration order; pending is the per-tick snapshot drained one task at a
// time.
type Group struct {
	priority Priority
	main     []Task
	pending  []Task
	head     int
}

func newGroup(p Priority) *Group {
	return &Group{priority: p}
}

// Priority returns the group's priority.
func (g *Group) Priority() Priority { return g.priority }

// Len returns the number of registered tasks.
func (g *Group) Len() int { return len(g.main) }

// Pending returns the number of tasks left in the current snapshot.
func (g *Group) Pending() int { return len(g.pending) - g.head }

// CanRun reports whether the current snapshot still has tasks.
func (g *Group) CanRun() bool { return g.Pending() > 0 }

// PreRun snapshots the registered tasks into the pending queue. A snapshot
// left over from a tick cut short by the frame budget is kept as is.
func (g *Group) PreRun() {
	if g.CanRun() {
		return
	}
	g.resetPending()
	g.pending = append(g.pending, g.main...)
}

// Tasks returns a copy of the registered tasks in registration order.
func (g *Group) Tasks() []Task {
	out := make([]Task, len(g.main))
	copy(out, g.main)
	return out
}

func (g *Group) add(t Task) {
	g.main = append(g.main, t)
}

func (g *Group) next() Task {
	t := g.pending[g.head]
	g.pending[g.head] = nil
	g.head++
	if g.head == len(g.pending) {
		g.resetPending()
	}
	return t
}

func (g *Group) remove(t Task) {
	g.main = removeTask(g.main, t)
	for i := g.head; i < len(g.pending); i++ {
		if g.pending[i] == t {
			copy(g.pending[i:], g.pending[i+1:])
			g.pending[len(g.pending)-1] = nil
			g.pending = g.pending[:len(g.pending)-1]
			break
		}
	}
	if g.head >= len(g.pending) {
		g.resetPending()
	}
}

func (g *Group) resetPending() {
	for i := range g.pending {
		g.pending[i] = nil
	}
	g.pending = g.pending[:0]
	g.head = 0
}

func removeTask(list []Task, t Task) []Task {
	for i, x := range list {
		if x == t {
			copy(list[i:], list[i+1:])
			list[len(list)-1] = nil
			return list[:len(list)-1]
		}
	}
	return list
}
