package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/syncmap/internal/action"
	"github.com/roach88/syncmap/internal/cache"
	"github.com/roach88/syncmap/internal/loop"
	"github.com/roach88/syncmap/internal/store"
	"github.com/roach88/syncmap/internal/syncmap"
	"github.com/roach88/syncmap/internal/template"
	"github.com/roach88/syncmap/internal/testserver"
	"github.com/roach88/syncmap/internal/value"
)

// Options configures a run.
type Options struct {
	// DBPath is the SQLite file backing the cache and journal.
	// Defaults to a fresh in-memory database.
	DBPath string

	// Metrics receives registry metrics, if set.
	Metrics syncmap.Metrics

	// GraceDelay is how long unreferenced stores live. Timers are not
	// drained, so any positive delay keeps released stores for the run.
	GraceDelay time.Duration

	// MemoryCache, if positive, keeps the offline cache in a bounded
	// in-memory LRU of that many entities. The journal stays in SQLite.
	MemoryCache int
}

// Harness executes the steps of one scenario.
type Harness struct {
	loop      *loop.Loop
	server    *testserver.Server
	client    *testserver.Client
	reg       *syncmap.Registry
	store     *store.Store
	templates map[string]*syncmap.Template
	handles   map[string]*syncmap.Handle
	filters   map[string]filterRef
	result    *Result
}

type filterRef struct {
	tpl *syncmap.Template
	f   *syncmap.FilterStore
}

// Run executes a scenario against a fresh in-memory database.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithOptions(scenario, Options{})
}

// RunWithOptions executes a scenario and returns its trace.
//
// Execution flow:
//  1. Load the CUE templates named by the scenario
//  2. Open the SQLite store used as cache and journal
//  3. Seed the test server
//  4. Run each step, drain the loop, record the trace event and check
//     expectations
//
// A malformed step is returned as an error; failed expectations are
// collected in Result.Errors.
func RunWithOptions(scenario *Scenario, opts Options) (*Result, error) {
	templates, err := loadTemplates(scenario.Specs)
	if err != nil {
		return nil, err
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = ":memory:"
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	l := loop.New()
	l.SetInlineAsync(true)
	srv := testserver.New(l)
	client := srv.Client(scenario.User)

	var entityCache syncmap.Cache = st
	if opts.MemoryCache > 0 {
		lru, err := cache.NewLRU(opts.MemoryCache)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}
		entityCache = lru
	}

	regOpts := []syncmap.Option{
		syncmap.WithCache(entityCache),
		syncmap.WithJournal(st),
		syncmap.WithGraceDelay(opts.GraceDelay),
		syncmap.WithIDGenerator(action.NewFixedGenerator("a")),
	}
	if opts.Metrics != nil {
		regOpts = append(regOpts, syncmap.WithMetrics(opts.Metrics))
	}
	reg := syncmap.New(l, client, regOpts...)
	defer reg.Close()

	for i, e := range scenario.Seed {
		if _, ok := templates[e.Template]; !ok {
			return nil, fmt.Errorf("seed[%d]: unknown template %q", i, e.Template)
		}
		fields, err := value.MapFromAny(e.Fields)
		if err != nil {
			return nil, fmt.Errorf("seed[%d]: %w", i, err)
		}
		srv.Seed(e.Template, e.ID, fields, e.Seq)
	}

	h := &Harness{
		loop:      l,
		server:    srv,
		client:    client,
		reg:       reg,
		store:     st,
		templates: templates,
		handles:   make(map[string]*syncmap.Handle),
		filters:   make(map[string]filterRef),
		result:    NewResult(),
	}

	for i := range scenario.Steps {
		step := &scenario.Steps[i]
		ev, err := h.execute(i+1, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
		h.result.Trace = append(h.result.Trace, ev)
	}

	journal, err := st.ReadJournal(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	h.result.Journal = journal

	slog.Debug("scenario finished", "scenario", scenario.Name, "steps", len(scenario.Steps), "pass", h.result.Pass)
	return h.result, nil
}

func loadTemplates(paths []string) (map[string]*syncmap.Template, error) {
	out := make(map[string]*syncmap.Template)
	for _, path := range paths {
		res, err := template.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load templates: %w", err)
		}
		for _, tpl := range res.Templates {
			if _, dup := out[tpl.Plural()]; dup {
				return nil, fmt.Errorf("template %q declared more than once", tpl.Plural())
			}
			out[tpl.Plural()] = tpl
		}
	}
	return out, nil
}

// execute runs one step, drains the loop and records what it observed.
func (h *Harness) execute(n int, step *Step) (TraceEvent, error) {
	ev := TraceEvent{Step: n, Op: step.Op, Name: step.Name}

	switch step.Op {
	case OpCreate, OpChange, OpDelete:
		tpl, err := h.template(step.Template)
		if err != nil {
			return ev, err
		}
		m, err := h.mutate(tpl, step)
		if err != nil {
			return ev, err
		}
		h.loop.Drain()
		ev.Target = tpl.Plural() + "/" + step.ID
		ev.Action, ev.ActionID, ev.Seq = m.Type, m.ActionID, m.Seq
		ev.State = m.State().String()
		if e := m.Err(); e != nil {
			ev.Reason = e.Reason
		}
		if s, ok := h.reg.Lookup(tpl, step.ID); ok {
			ev.Fields = s.Fields()
		}

	case OpPush:
		if _, err := h.template(step.Template); err != nil {
			return ev, err
		}
		a, err := pushAction(step)
		if err != nil {
			return ev, err
		}
		h.server.Push(a, step.Seq)
		h.loop.Drain()
		ev.Target = step.Template + "/" + step.ID
		ev.Action, ev.Seq = a.Type, step.Seq

	case OpOpen:
		tpl, err := h.template(step.Template)
		if err != nil {
			return ev, err
		}
		if _, ok := h.handles[step.Name]; ok {
			return ev, fmt.Errorf("store %q is already open", step.Name)
		}
		h.handles[step.Name] = h.reg.Get(tpl, step.ID)
		h.loop.Drain()
		observeStore(&ev, h.handles[step.Name].Store())

	case OpRelease:
		hd, ok := h.handles[step.Name]
		if !ok {
			return ev, fmt.Errorf("no open store %q", step.Name)
		}
		delete(h.handles, step.Name)
		s := hd.Store()
		hd.Release()
		h.loop.Drain()
		ev.Target = s.Template().Plural() + "/" + s.ID()

	case OpFilter:
		tpl, err := h.template(step.Template)
		if err != nil {
			return ev, err
		}
		if _, ok := h.filters[step.Name]; ok {
			return ev, fmt.Errorf("filter %q already exists", step.Name)
		}
		where, err := value.MapFromAny(step.Where)
		if err != nil {
			return ev, fmt.Errorf("where: %w", err)
		}
		opts := syncmap.FilterOptions{Descending: step.Descending}
		if step.SortBy != "" {
			opts.SortBy = syncmap.SortBy(step.SortBy)
		}
		ref := filterRef{tpl: tpl, f: h.reg.Filter(tpl, syncmap.Where(where), opts)}
		h.filters[step.Name] = ref
		h.loop.Drain()
		observeFilter(&ev, ref)

	case OpSetFilter:
		ref, ok := h.filters[step.Name]
		if !ok {
			return ev, fmt.Errorf("no filter %q", step.Name)
		}
		where, err := value.MapFromAny(step.Where)
		if err != nil {
			return ev, fmt.Errorf("where: %w", err)
		}
		ref.f.SetPredicate(syncmap.Where(where))
		h.loop.Drain()
		observeFilter(&ev, ref)

	case OpCloseFilter:
		ref, ok := h.filters[step.Name]
		if !ok {
			return ev, fmt.Errorf("no filter %q", step.Name)
		}
		delete(h.filters, step.Name)
		ref.f.Close()
		h.loop.Drain()
		ev.Target = ref.tpl.Plural()

	case OpUndoNext:
		h.server.UndoNext(step.Reason)
		ev.Reason = step.Reason
	case OpFreeze:
		h.server.Freeze()
	case OpResume:
		h.server.Resume()
		h.loop.Drain()
	case OpDisconnect:
		h.client.Disconnect()
		h.loop.Drain()
	case OpConnect:
		h.client.Connect()
		h.loop.Drain()

	case OpExpectStore:
		hd, ok := h.handles[step.Name]
		if !ok {
			return ev, fmt.Errorf("no open store %q", step.Name)
		}
		h.loop.Drain()
		s := hd.Store()
		observeStore(&ev, s)
		for _, err := range checkStore(s, step.Expect) {
			h.result.AddError(fmt.Sprintf("step %d: %v", n, err))
		}

	case OpExpectFilter:
		ref, ok := h.filters[step.Name]
		if !ok {
			return ev, fmt.Errorf("no filter %q", step.Name)
		}
		h.loop.Drain()
		observeFilter(&ev, ref)
		for _, err := range checkFilter(ref.f, step.Expect) {
			h.result.AddError(fmt.Sprintf("step %d: %v", n, err))
		}

	default:
		return ev, fmt.Errorf("unknown op %q", step.Op)
	}
	return ev, nil
}

func (h *Harness) template(plural string) (*syncmap.Template, error) {
	tpl, ok := h.templates[plural]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", plural)
	}
	return tpl, nil
}

func (h *Harness) mutate(tpl *syncmap.Template, step *Step) (*syncmap.Mutation, error) {
	fields, err := value.MapFromAny(step.Fields)
	if err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}

	switch step.Op {
	case OpCreate:
		return h.reg.Create(tpl, step.ID, fields), nil
	case OpDelete:
		return h.reg.Delete(tpl, step.ID), nil
	}

	if s, ok := h.reg.Lookup(tpl, step.ID); ok {
		return s.MutateFields(fields), nil
	}
	if len(fields) != 1 {
		return nil, fmt.Errorf("change without an open store takes exactly one field, got %d", len(fields))
	}
	name := fields.SortedKeys()[0]
	return h.reg.ChangeByID(tpl, step.ID, name, fields[name]), nil
}

func pushAction(step *Step) (action.Action, error) {
	fields, err := value.MapFromAny(step.Fields)
	if err != nil {
		return action.Action{}, fmt.Errorf("fields: %w", err)
	}
	switch step.Verb {
	case string(action.VerbCreated):
		return action.Created(step.Template, step.ID, fields), nil
	case string(action.VerbChanged):
		return action.Changed(step.Template, step.ID, fields), nil
	case string(action.VerbDeleted):
		return action.Deleted(step.Template, step.ID), nil
	}
	return action.Action{}, fmt.Errorf("unknown push verb %q", step.Verb)
}

func observeStore(ev *TraceEvent, s *syncmap.Store) {
	ev.Target = s.Template().Plural() + "/" + s.ID()
	ev.Status = s.Status().String()
	if e := s.Err(); e != nil {
		ev.Error = e.Kind.String()
	}
	if e := s.LastUndo(); e != nil {
		ev.Undo = e.Reason
	}
	ev.Fields = s.Fields()
}

func observeFilter(ev *TraceEvent, ref filterRef) {
	ev.Target = ref.tpl.Plural()
	ev.IDs = ref.f.IDs()
	loading := ref.f.IsLoading()
	ev.Loading = &loading
	if e := ref.f.Err(); e != nil {
		ev.Error = e.Kind.String()
	}
}
