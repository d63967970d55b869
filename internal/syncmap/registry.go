package syncmap

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/syncmap/internal/action"
	"github.com/roach88/syncmap/internal/loop"
	"github.com/roach88/syncmap/internal/value"
)

// DefaultGraceDelay is how long a store with no handles survives before
// teardown.
const DefaultGraceDelay = 2 * time.Second

// Option configures a Registry.
type Option func(*Registry)

// WithGraceDelay sets the teardown grace delay. Zero tears down on the next
// loop turn.
func WithGraceDelay(d time.Duration) Option {
	return func(r *Registry) { r.grace = d }
}

// WithCache sets the local cache used by offline templates.
func WithCache(c Cache) Option {
	return func(r *Registry) { r.cache = c }
}

// WithJournal records every local action and its outcome.
func WithJournal(j Journal) Option {
	return func(r *Registry) { r.journal = j }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithIDGenerator sets the action ID generator.
// Tests use action.FixedGenerator for deterministic IDs.
func WithIDGenerator(g action.IDGenerator) Option {
	return func(r *Registry) { r.ids = g }
}

type storeKey struct {
	plural string
	id     string
}

// EntityEvent announces an entity to filters: a new store in the registry,
// or a server/local action about an entity that has no store.
type EntityEvent struct {
	ID     string
	Verb   action.Verb
	Fields value.Map
	Seq    int64

	// Store is set when the entity has a live store.
	Store *Store
}

// Handle is one reference to a Store. Release it when done.
type Handle struct {
	store    *Store
	released bool
}

// Store returns the referenced store.
func (h *Handle) Store() *Store { return h.store }

// Release drops the reference. Releasing twice is a no-op.
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	h.store.reg.release(h.store)
}

// Registry guarantees at most one Store per (template, id) and routes
// server actions to stores and filters.
type Registry struct {
	loop    *loop.Loop
	client  Client
	cache   Cache
	journal Journal
	metrics Metrics
	ids     action.IDGenerator
	grace   time.Duration

	stores     map[storeKey]*Store
	templates  map[string]*Template
	entities   map[string]*observers[EntityEvent]
	filters    map[*FilterStore]struct{}
	nextOrder  int64
	channels   *Channels
	reconciler *reconciler
	unlisten   func()
}

// New creates a registry on l that talks to the server through c.
func New(l *loop.Loop, c Client, opts ...Option) *Registry {
	r := &Registry{
		loop:      l,
		client:    c,
		metrics:   noopMetrics{},
		ids:       action.UUIDv7Generator{},
		grace:     DefaultGraceDelay,
		stores:    make(map[storeKey]*Store),
		templates: make(map[string]*Template),
		entities:  make(map[string]*observers[EntityEvent]),
		filters:   make(map[*FilterStore]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.channels = newChannels(r)
	r.reconciler = newReconciler(r)
	r.unlisten = c.OnAction(r.onAction)
	return r
}

// Channels returns the subscription adapter.
func (r *Registry) Channels() *Channels { return r.channels }

// Len returns the number of live stores.
func (r *Registry) Len() int { return len(r.stores) }

// PendingChanges returns the number of unresolved local actions.
func (r *Registry) PendingChanges() int { return len(r.reconciler.pending) }

// Lookup returns the live store for (tpl, id) without taking a reference.
func (r *Registry) Lookup(tpl *Template, id string) (*Store, bool) {
	s := r.lookup(tpl.plural, id)
	return s, s != nil
}

func (r *Registry) lookup(plural, id string) *Store {
	return r.stores[storeKey{plural, id}]
}

func (r *Registry) register(tpl *Template) {
	if _, ok := r.templates[tpl.plural]; !ok {
		r.templates[tpl.plural] = tpl
	}
}

// Get returns a handle to the store for (tpl, id), creating and loading the
// store if it does not exist.
func (r *Registry) Get(tpl *Template, id string) *Handle {
	s := r.lookup(tpl.plural, id)
	if s == nil {
		s = r.open(tpl, id)
		if tpl.init != nil {
			if err := tpl.init(id); err != nil {
				s.status, s.err = StatusError, InitError(err)
				r.metrics.LoadFailed(tpl.plural, KindInit)
			}
		}
		r.announce(s, action.VerbCreated)
		s.load()
	}
	return r.retain(s)
}

// Release drops a handle obtained from Get.
func (r *Registry) Release(h *Handle) {
	h.Release()
}

// Create creates an entity optimistically. Existing stores and filters see
// it immediately; a rejection rolls it back.
func (r *Registry) Create(tpl *Template, id string, fields value.Map) *Mutation {
	s := r.lookup(tpl.plural, id)
	fresh := s == nil
	if fresh {
		s = r.open(tpl, id)
		r.scheduleTeardown(s)
	}
	m := r.reconciler.create(s, fields)
	if fresh {
		r.announce(s, action.VerbCreate)
	}
	return m
}

// ChangeByID changes one field without holding a store. The live store,
// if any, is updated optimistically.
func (r *Registry) ChangeByID(tpl *Template, id, name string, v value.Value) *Mutation {
	r.register(tpl)
	if s := r.lookup(tpl.plural, id); s != nil {
		return s.Mutate(name, v)
	}
	fields := value.Map{name: v}
	m := r.reconciler.detached(tpl, id, fields)
	r.emitEntity(tpl.plural, EntityEvent{ID: id, Verb: action.VerbChange, Fields: fields, Seq: m.Seq})
	return m
}

// Delete deletes an entity, through its live store if there is one.
func (r *Registry) Delete(tpl *Template, id string) *Mutation {
	r.register(tpl)
	if s := r.lookup(tpl.plural, id); s != nil {
		return s.Delete()
	}
	m := r.reconciler.newMutation(tpl, id, action.VerbDelete)
	r.reconciler.submit(tpl, m, action.Delete(tpl.plural, id))
	return m
}

// Filter creates a live filtered view over the stores of tpl.
func (r *Registry) Filter(tpl *Template, pred Predicate, opts FilterOptions) *FilterStore {
	r.register(tpl)
	f := newFilterStore(r, tpl, pred, opts)
	r.filters[f] = struct{}{}
	f.scan()
	return f
}

// Reset destroys every store and filter and forgets pending changes
// without resolving them.
func (r *Registry) Reset() {
	for f := range r.filters {
		f.Close()
	}
	for _, s := range r.ordered("") {
		r.destroy(s)
	}
	r.reconciler.discard()
	r.channels.reset()
	clear(r.entities)
	slog.Debug("registry reset")
}

// Close resets the registry and stops listening to the client.
func (r *Registry) Close() {
	r.Reset()
	if r.unlisten != nil {
		r.unlisten()
		r.unlisten = nil
	}
}

func (r *Registry) open(tpl *Template, id string) *Store {
	r.register(tpl)
	r.nextOrder++
	s := newStore(r, tpl, id, r.nextOrder)
	r.stores[storeKey{tpl.plural, id}] = s
	r.metrics.StoreOpened(tpl.plural)
	slog.Debug("store created", "plural", tpl.plural, "id", id)
	return s
}

// adopt returns the store for an entity whose full data is known, creating
// a loaded store when none exists.
func (r *Registry) adopt(tpl *Template, id string, fields value.Map, seq int64) *Store {
	if s := r.lookup(tpl.plural, id); s != nil {
		return s
	}
	s := r.open(tpl, id)
	s.applyRemote(fields, seq)
	r.scheduleTeardown(s)
	return s
}

func (r *Registry) retain(s *Store) *Handle {
	s.handles++
	s.teardownGen++
	if s.stopTeardown != nil {
		s.stopTeardown()
		s.stopTeardown = nil
	}
	return &Handle{store: s}
}

func (r *Registry) release(s *Store) {
	s.handles--
	if s.handles > 0 || s.destroyed {
		return
	}
	r.scheduleTeardown(s)
}

func (r *Registry) scheduleTeardown(s *Store) {
	s.teardownGen++
	gen := s.teardownGen
	task := func() {
		if s.destroyed || s.handles > 0 || s.teardownGen != gen {
			return
		}
		s.stopTeardown = nil
		r.maybeTeardown(s)
	}
	if r.grace <= 0 {
		r.loop.Post(task)
		return
	}
	s.stopTeardown = r.loop.AfterFunc(r.grace, task)
}

// maybeTeardown destroys an unreferenced store whose grace delay has
// elapsed, unless it still has pending changes.
func (r *Registry) maybeTeardown(s *Store) {
	if s.destroyed || s.handles > 0 || s.stopTeardown != nil || s.pending > 0 {
		return
	}
	r.destroy(s)
}

func (r *Registry) destroy(s *Store) {
	if s.destroyed {
		return
	}
	s.destroyed = true
	if s.stopTeardown != nil {
		s.stopTeardown()
		s.stopTeardown = nil
	}
	s.cancelLoad()
	delete(r.stores, storeKey{s.tpl.plural, s.id})
	r.metrics.StoreClosed(s.tpl.plural)
	slog.Debug("store destroyed", "plural", s.tpl.plural, "id", s.id)
}

// ordered returns live stores of plural (all plurals if empty) in creation order.
func (r *Registry) ordered(plural string) []*Store {
	out := make([]*Store, 0, len(r.stores))
	for k, s := range r.stores {
		if plural == "" || k.plural == plural {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b *Store) int { return cmp.Compare(a.order, b.order) })
	return out
}

func (r *Registry) onEntity(plural string, fn func(EntityEvent)) (remove func()) {
	obs, ok := r.entities[plural]
	if !ok {
		obs = &observers[EntityEvent]{}
		r.entities[plural] = obs
	}
	return obs.add(fn)
}

func (r *Registry) emitEntity(plural string, ev EntityEvent) {
	if obs, ok := r.entities[plural]; ok {
		obs.notify(ev)
	}
}

func (r *Registry) announce(s *Store, verb action.Verb) {
	r.emitEntity(s.tpl.plural, EntityEvent{ID: s.id, Verb: verb, Store: s})
}

// onAction routes a server action to the live store and to filters.
func (r *Registry) onAction(a action.Action, meta action.Meta) {
	r.loop.Clock().Observe(meta.Seq)

	plural, verb, ok := action.Split(a.Type)
	if !ok {
		return
	}
	tpl, ok := r.templates[plural]
	if !ok {
		return
	}
	s := r.lookup(plural, a.ID)

	switch verb {
	case action.VerbCreated, action.VerbChanged, action.VerbCreate, action.VerbChange:
		if s != nil {
			s.applyRemote(a.Fields, meta.Seq)
		} else if tpl.offline && r.cache != nil {
			r.mergeCache(plural, a.ID, a.Fields, meta.Seq)
		}
	case action.VerbDeleted, action.VerbDelete:
		if s != nil {
			s.markDeleted()
		}
		if tpl.offline && r.cache != nil {
			r.reconciler.cacheDelete(context.Background(), plural, a.ID)
		}
	default:
		return
	}
	r.emitEntity(plural, EntityEvent{ID: a.ID, Verb: verb, Fields: a.Fields, Seq: meta.Seq, Store: s})
}

func (r *Registry) mergeCache(plural, id string, fields value.Map, seq int64) {
	ctx := context.Background()
	entry, ok, err := r.cache.Load(ctx, plural, id)
	if err != nil {
		slog.Warn("cache probe failed", "plural", plural, "id", id, "error", err)
		return
	}
	if ok && entry.Seq > seq {
		return
	}
	r.reconciler.cacheSave(ctx, plural, CacheEntry{ID: id, Fields: entry.Fields.Merge(fields), Seq: seq})
}
