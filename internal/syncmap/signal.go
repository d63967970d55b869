package syncmap

import "slices"

type observer[T any] struct {
	fn      func(T)
	removed bool
}

// observers is a callback list. notify iterates a snapshot, and callbacks
// removed during a notification are skipped even if still in the snapshot.
type observers[T any] struct {
	list []*observer[T]
}

func (o *observers[T]) add(fn func(T)) (remove func()) {
	ob := &observer[T]{fn: fn}
	o.list = append(o.list, ob)
	return func() {
		if ob.removed {
			return
		}
		ob.removed = true
		o.list = slices.DeleteFunc(o.list, func(x *observer[T]) bool { return x == ob })
	}
}

func (o *observers[T]) notify(v T) {
	snapshot := slices.Clone(o.list)
	for _, ob := range snapshot {
		if !ob.removed {
			ob.fn(v)
		}
	}
}

func (o *observers[T]) len() int {
	return len(o.list)
}

// Signal is a minimal reactive value. Filter predicates can be bound to a
// Signal so that setting it triggers a rescan, and Auth exposes its state
// as Signals.
//
// Like the rest of the package, a Signal must only be used on the loop.
type Signal[T any] struct {
	v         T
	listeners observers[T]
}

// NewSignal creates a signal holding v.
func NewSignal[T any](v T) *Signal[T] {
	return &Signal[T]{v: v}
}

// Get returns the current value.
func (s *Signal[T]) Get() T {
	return s.v
}

// Set stores v and notifies every listener.
func (s *Signal[T]) Set(v T) {
	s.v = v
	s.listeners.notify(v)
}

// Listen registers fn for future changes.
func (s *Signal[T]) Listen(fn func(T)) (cancel func()) {
	return s.listeners.add(fn)
}
