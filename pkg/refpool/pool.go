// Package refpool provides a type-keyed object reuse pool for short-lived
// objects such as scheduler tasks.
//
// Instances are filed under their exact dynamic type and handed back in
// last-released-first order. Every pooled type implements Clearable; the pool
// clears an instance on Release so the next Get observes zero state.
//
// A Pool is not safe for concurrent use. It is owned by the single logical
// thread that drives the scheduler.
package refpool

import (
	"reflect"
	"sort"
)

// Clearable is the reset contract for pooled objects. Clear must return the
// receiver to the state of a freshly constructed value.
type Clearable interface {
	Clear()
}

// Option configures a Pool.
type Option func(*Pool)

// WithMaxIdle caps the number of idle instances kept per type. Instances
// released above the cap are cleared and dropped. Zero means unlimited.
func WithMaxIdle(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxIdle = n
		}
	}
}

// Pool reuses released instances per concrete type.
// The zero value is not usable; use New.
type Pool struct {
	free    map[reflect.Type][]Clearable
	created map[reflect.Type]int
	reused  map[reflect.Type]int
	maxIdle int
}

// New creates an empty Pool.
func New(opts ...Option) *Pool {
	p := &Pool{
		free:    make(map[reflect.Type][]Clearable),
		created: make(map[reflect.Type]int),
		reused:  make(map[reflect.Type]int),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Get returns the most recently released *T, or a new one if none is idle.
func Get[T any, PT interface {
	*T
	Clearable
}](p *Pool) PT {
	typ := reflect.TypeFor[PT]()
	if list := p.free[typ]; len(list) > 0 {
		n := len(list) - 1
		x := list[n]
		list[n] = nil
		p.free[typ] = list[:n]
		p.reused[typ]++
		return x.(PT)
	}
	p.created[typ]++
	return PT(new(T))
}

// Release clears x and returns it to the pool for its dynamic type.
// Callers must not keep references to x afterwards.
func (p *Pool) Release(x Clearable) {
	if x == nil {
		return
	}
	x.Clear()
	typ := reflect.TypeOf(x)
	if p.maxIdle > 0 && len(p.free[typ]) >= p.maxIdle {
		return
	}
	p.free[typ] = append(p.free[typ], x)
}

// Idle returns the number of idle instances held for the dynamic type of x.
func (p *Pool) Idle(x Clearable) int {
	return len(p.free[reflect.TypeOf(x)])
}

// TypeStats describes pool usage for one concrete type.
type TypeStats struct {
	Type    string
	Created int
	Reused  int
	Idle    int
}

// Stats returns usage per type, sorted by type name.
func (p *Pool) Stats() []TypeStats {
	seen := make(map[reflect.Type]struct{})
	for t := range p.created {
		seen[t] = struct{}{}
	}
	for t := range p.free {
		seen[t] = struct{}{}
	}
	out := make([]TypeStats, 0, len(seen))
	for t := range seen {
		out = append(out, TypeStats{
			Type:    t.String(),
			Created: p.created[t],
			Reused:  p.reused[t],
			Idle:    len(p.free[t]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
