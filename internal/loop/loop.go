// Package loop provides the single execution context of the store engine.
//
// Every registry, store, filter and subscription mutation happens inside a
// task running on the loop, one task at a time. Work that has to block (cache
// I/O) runs on a separate goroutine via Async and posts its continuation back,
// so observers never see a store in a torn intermediate state.
//
// The loop can be driven two ways:
//   - Run(ctx) from exactly one goroutine, with other goroutines using Post
//     or Do to get work onto it.
//   - Drain() from the owning goroutine, which runs tasks until the queue is
//     empty and no Async work is in flight. Tests, the harness and the CLI
//     use this for deterministic scheduling.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrStopped is returned by Do when the loop no longer accepts tasks.
var ErrStopped = errors.New("loop stopped")

// Loop is a single-writer task loop.
//
// Thread-safety model:
//   - Post, Do, Async, AfterFunc, Stop: safe from any goroutine
//   - Run, Drain: from exactly one goroutine, never both at once
type Loop struct {
	queue *taskQueue
	clock *Clock

	mu       sync.Mutex
	inflight int
	inline   bool
	idle     *sync.Cond
}

// New creates a loop with a fresh logical clock.
func New() *Loop {
	return NewWithClock(NewClock())
}

// NewWithClock creates a loop using an existing clock.
func NewWithClock(c *Clock) *Loop {
	l := &Loop{
		queue: newTaskQueue(),
		clock: c,
	}
	l.idle = sync.NewCond(&l.mu)
	return l
}

// Clock returns the loop's logical clock.
func (l *Loop) Clock() *Clock {
	return l.clock
}

// Post enqueues a task. Returns false if the loop has been stopped.
func (l *Loop) Post(t Task) bool {
	return l.queue.push(t)
}

// Len returns the number of queued tasks.
func (l *Loop) Len() int {
	return l.queue.len()
}

// Run executes tasks until ctx is cancelled or Stop is called.
// A task that panics is logged and the loop continues with the next one.
func (l *Loop) Run(ctx context.Context) error {
	slog.Debug("loop starting")

	for {
		if t, ok := l.queue.pop(); ok {
			l.exec(t)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Debug("loop stopping: context cancelled")
			l.queue.close()
			return ctx.Err()
		case <-l.queue.wait():
			// A closed signal channel fires immediately; exit once drained.
			if l.queue.isClosed() && l.queue.len() == 0 {
				slog.Debug("loop stopping: closed")
				return nil
			}
		}
	}
}

// Drain runs queued tasks on the calling goroutine until the queue is empty
// and no Async work is outstanding. Returns the number of tasks executed.
func (l *Loop) Drain() int {
	n := 0
	for {
		if t, ok := l.queue.pop(); ok {
			l.exec(t)
			n++
			continue
		}

		l.mu.Lock()
		for l.inflight > 0 && l.queue.len() == 0 {
			l.idle.Wait()
		}
		done := l.inflight == 0 && l.queue.len() == 0
		l.mu.Unlock()
		if done {
			return n
		}
	}
}

// Do posts fn and blocks until it has run on the loop or ctx is done.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetInlineAsync makes Async run work on the calling goroutine. Continuations
// are still posted, but in call order, so Drain-driven runs that issue
// several Async calls stay reproducible.
func (l *Loop) SetInlineAsync(inline bool) {
	l.mu.Lock()
	l.inline = inline
	l.mu.Unlock()
}

// Async runs work on a new goroutine and posts the continuation it returns
// (if non-nil) back onto the loop. Drain waits for outstanding Async work.
func (l *Loop) Async(work func() Task) {
	l.mu.Lock()
	if l.inline {
		l.mu.Unlock()
		if cont := work(); cont != nil && !l.Post(cont) {
			slog.Warn("loop stopped; dropping async continuation")
		}
		return
	}
	l.inflight++
	l.mu.Unlock()

	go func() {
		cont := work()
		if cont != nil && !l.Post(cont) {
			slog.Warn("loop stopped; dropping async continuation")
		}

		l.mu.Lock()
		l.inflight--
		l.mu.Unlock()
		l.idle.Broadcast()
	}()
}

// AfterFunc posts t onto the loop once d has elapsed.
// The returned stop function prevents the post if the timer has not fired yet.
func (l *Loop) AfterFunc(d time.Duration, t Task) (stop func() bool) {
	timer := time.AfterFunc(d, func() {
		l.Post(t)
	})
	return timer.Stop
}

// Stop closes the loop. Queued tasks still run; new posts are rejected.
func (l *Loop) Stop() {
	l.queue.close()
}

func (l *Loop) exec(t Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("loop task panicked", "panic", r)
		}
	}()
	t()
}
