package graph

import (
	"container/heap"
	"time"
)

// UnloadEntry is a pending deferred unload.
type UnloadEntry struct {
	Bundle   string
	Deadline time.Time

	index int
}

// unloadHeap implements container/heap.Interface for UnloadEntry,
// sorted by Deadline, earliest first. byBundle keeps at most one
// entry per bundle identity.
type unloadHeap struct {
	items    []*UnloadEntry
	byBundle map[string]*UnloadEntry
}

func newUnloadHeap() *unloadHeap {
	return &unloadHeap{byBundle: make(map[string]*UnloadEntry)}
}

func (h *unloadHeap) Len() int { return len(h.items) }
func (h *unloadHeap) Less(i, j int) bool {
	if h.items[i].Deadline.Equal(h.items[j].Deadline) {
		return h.items[i].Bundle < h.items[j].Bundle
	}
	return h.items[i].Deadline.Before(h.items[j].Deadline)
}
func (h *unloadHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *unloadHeap) Push(x any) {
	e := x.(*UnloadEntry)
	e.index = len(h.items)
	h.items = append(h.items, e)
	h.byBundle[e.Bundle] = e
}

func (h *unloadHeap) Pop() any {
	old := h.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	e.index = -1
	delete(h.byBundle, e.Bundle)
	return e
}

// schedule adds an entry for bundle, or moves the existing one to deadline.
func (h *unloadHeap) schedule(bundle string, deadline time.Time) {
	if e, ok := h.byBundle[bundle]; ok {
		e.Deadline = deadline
		heap.Fix(h, e.index)
		return
	}
	heap.Push(h, &UnloadEntry{Bundle: bundle, Deadline: deadline})
}

// popDue removes and returns the earliest entry if its deadline is not
// after now.
func (h *unloadHeap) popDue(now time.Time) (*UnloadEntry, bool) {
	if len(h.items) == 0 || h.items[0].Deadline.After(now) {
		return nil, false
	}
	return heap.Pop(h).(*UnloadEntry), true
}

func (h *unloadHeap) has(bundle string) bool {
	_, ok := h.byBundle[bundle]
	return ok
}

// snapshot returns copies of the queued entries, earliest first.
func (h *unloadHeap) snapshot() []UnloadEntry {
	out := make([]UnloadEntry, 0, len(h.items))
	for _, e := range h.items {
		out = append(out, UnloadEntry{Bundle: e.Bundle, Deadline: e.Deadline})
	}
	sortEntries(out)
	return out
}
