package loop

import "sync"

// Task is a unit of work executed on the loop.
type Task func()

// taskQueue is a thread-safe unbounded FIFO of tasks.
//
// Unbounded so that a task may post follow-up tasks (continuations, fan-out
// to observers) without ever blocking the loop on itself.
//
// A buffered signal channel of size 1 coalesces wakeups for Run.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []Task
	closed bool
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]Task, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// push appends a task. Returns false if the queue is closed.
func (q *taskQueue) push(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, t)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// pop removes the front task without blocking.
func (q *taskQueue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	// Release the closure so the backing array does not pin it.
	q.tasks[0] = nil
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return t, true
}

func (q *taskQueue) wait() <-chan struct{} {
	return q.signal
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *taskQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// close stops accepting tasks and wakes waiters. Queued tasks remain poppable.
func (q *taskQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
