package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_DrainRunsInOrderIncludingFollowUps(t *testing.T) {
	l := New()
	var got []string

	l.Post(func() {
		got = append(got, "a")
		l.Post(func() { got = append(got, "c") })
	})
	l.Post(func() { got = append(got, "b") })

	n := l.Drain()

	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 0, l.Len())
}

func TestLoop_DrainWaitsForAsync(t *testing.T) {
	l := New()
	var got []string

	l.Post(func() {
		l.Async(func() Task {
			time.Sleep(10 * time.Millisecond)
			return func() { got = append(got, "continued") }
		})
	})

	l.Drain()

	assert.Equal(t, []string{"continued"}, got)
}

func TestLoop_AsyncNilContinuation(t *testing.T) {
	l := New()
	ran := false

	l.Async(func() Task {
		ran = true
		return nil
	})
	l.Drain()

	assert.True(t, ran)
}

func TestLoop_InlineAsyncKeepsCallOrder(t *testing.T) {
	l := New()
	l.SetInlineAsync(true)
	var got []string

	l.Post(func() {
		l.Async(func() Task {
			time.Sleep(5 * time.Millisecond)
			return func() { got = append(got, "slow") }
		})
		l.Async(func() Task {
			return func() { got = append(got, "fast") }
		})
		got = append(got, "posted")
	})
	l.Drain()

	assert.Equal(t, []string{"posted", "slow", "fast"}, got)
}

func TestLoop_PostAfterStop(t *testing.T) {
	l := New()
	l.Stop()

	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Do(context.Background(), func() {}), ErrStopped)
}

func TestLoop_RunStopsOnCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	var mu sync.Mutex
	ran := false
	require.NoError(t, l.Do(context.Background(), func() {
		mu.Lock()
		ran = true
		mu.Unlock()
	}))
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	mu.Lock()
	assert.True(t, ran)
	mu.Unlock()
}

func TestLoop_RunReturnsNilAfterStop(t *testing.T) {
	l := New()
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(context.Background()) }()

	l.Stop()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoop_PanickingTaskDoesNotStopDrain(t *testing.T) {
	l := New()
	ran := false

	l.Post(func() { panic("boom") })
	l.Post(func() { ran = true })
	l.Drain()

	assert.True(t, ran)
}

func TestLoop_AfterFunc(t *testing.T) {
	l := New()
	fired := make(chan struct{})

	l.AfterFunc(5*time.Millisecond, func() { close(fired) })

	require.Eventually(t, func() bool {
		return l.Len() == 1
	}, time.Second, time.Millisecond)
	l.Drain()

	select {
	case <-fired:
	default:
		t.Fatal("timer task did not run")
	}
}

func TestLoop_AfterFuncStop(t *testing.T) {
	l := New()
	stop := l.AfterFunc(50*time.Millisecond, func() {})

	assert.True(t, stop())
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, l.Len())
}

func TestClock(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())

	c.Observe(10)
	assert.Equal(t, int64(10), c.Current())
	assert.Equal(t, int64(11), c.Next())

	c.Observe(3)
	assert.Equal(t, int64(11), c.Current(), "observing an older seq must not move the clock back")

	at := NewClockAt(41)
	assert.Equal(t, int64(42), at.Next())
}
