package syncmap_test

import (
	"testing"
	"time"

	"github.com/roach88/syncmap/internal/action"
	"github.com/roach88/syncmap/internal/loop"
	"github.com/roach88/syncmap/internal/syncmap"
	"github.com/roach88/syncmap/internal/testserver"
	"github.com/roach88/syncmap/internal/value"
)

type env struct {
	loop   *loop.Loop
	srv    *testserver.Server
	client *testserver.Client
	reg    *syncmap.Registry
}

// newEnv wires a registry to an in-process server. The clock starts at 100
// so tests can place remote seqs on either side of local ones.
func newEnv(t *testing.T, opts ...syncmap.Option) *env {
	t.Helper()
	l := loop.NewWithClock(loop.NewClockAt(100))
	srv := testserver.New(l)
	c := srv.Client("10")
	base := []syncmap.Option{
		syncmap.WithGraceDelay(time.Hour),
		syncmap.WithIDGenerator(action.NewFixedGenerator("a")),
	}
	reg := syncmap.New(l, c, append(base, opts...)...)
	t.Cleanup(func() {
		reg.Close()
		l.Stop()
	})
	return &env{loop: l, srv: srv, client: c, reg: reg}
}

func (e *env) drain() {
	e.loop.Drain()
}

func str(s string) value.String { return value.String(s) }

func num(n int64) value.Int { return value.Int(n) }

func fieldOf(t *testing.T, s *syncmap.Store, name string) value.Value {
	t.Helper()
	v, ok := s.Get(name)
	if !ok {
		t.Fatalf("field %q not set", name)
	}
	return v
}
