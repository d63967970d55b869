package syncmap

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/syncmap/internal/action"
	"github.com/roach88/syncmap/internal/loop"
	"github.com/roach88/syncmap/internal/value"
)

// Status is the lifecycle state of a Store.
type Status int

const (
	StatusLoading Status = iota
	StatusLoaded
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Event describes one observable change of a Store.
type Event struct {
	Store *Store

	// Changed lists the fields whose visible value changed, in key order.
	Changed []string

	// Status is true when status or error changed.
	Status bool

	// Undo is set when a local change was rolled back.
	Undo *Error
}

// Snapshot is an immutable view of a Store.
type Snapshot struct {
	ID        string
	Fields    value.Map
	Status    Status
	Err       *Error
	LastUndo  *Error
	IsLoading bool
}

// field holds the confirmed baseline of one field plus the pending local
// changes layered over it, in ascending seq order.
type field struct {
	confirmed value.Value
	seq       int64
	has       bool
	pending   []*Change
}

// visible returns the value with the greatest seq among the baseline and
// the pending changes.
func (f *field) visible() (value.Value, bool) {
	v, seq, ok := f.confirmed, f.seq, f.has
	for _, c := range f.pending {
		if !ok || c.m.Seq > seq {
			v, seq, ok = c.Value, c.m.Seq, true
		}
	}
	return v, ok
}

// stagedValue is server data received before the entity subscription was
// processed.
type stagedValue struct {
	v   value.Value
	seq int64
}

// Store is the in-memory representation of one entity.
//
// Obtain stores through Registry.Get; never construct them directly.
type Store struct {
	reg   *Registry
	tpl   *Template
	id    string
	order int64

	status   Status
	err      *Error
	lastUndo *Error
	deleted  bool
	synced   bool
	fields   map[string]*field
	obs      observers[Event]

	handles int
	pending int

	loading  bool
	awaiting bool
	loadGen  int
	sub      *SubscriptionHandle
	staged   map[string]stagedValue

	teardownGen  int
	stopTeardown func() bool
	destroyed    bool
}

func newStore(reg *Registry, tpl *Template, id string, order int64) *Store {
	s := &Store{
		reg:    reg,
		tpl:    tpl,
		id:     id,
		order:  order,
		status: StatusLoading,
		fields: make(map[string]*field),
	}
	s.resetFields()
	return s
}

// ID returns the entity ID.
func (s *Store) ID() string { return s.id }

// Template returns the store's template.
func (s *Store) Template() *Template { return s.tpl }

// Status returns the lifecycle status.
func (s *Store) Status() Status { return s.status }

// IsLoading reports whether the store has not resolved yet.
func (s *Store) IsLoading() bool { return s.status == StatusLoading }

// Err returns the error set when status is StatusError.
func (s *Store) Err() *Error { return s.err }

// LastUndo returns the error of the most recent rolled-back local change.
func (s *Store) LastUndo() *Error { return s.lastUndo }

// Deleted reports whether the entity was deleted, locally or remotely.
func (s *Store) Deleted() bool { return s.deleted }

// Pending returns the number of unresolved local actions touching the store.
func (s *Store) Pending() int { return s.pending }

// Handles returns the number of live handles.
func (s *Store) Handles() int { return s.handles }

// Get returns the visible value of one field.
func (s *Store) Get(name string) (value.Value, bool) {
	f, ok := s.fields[name]
	if !ok {
		return nil, false
	}
	return f.visible()
}

// Fields returns a copy of all visible field values.
func (s *Store) Fields() value.Map {
	out := make(value.Map, len(s.fields))
	for k, f := range s.fields {
		if v, ok := f.visible(); ok {
			out[k] = v
		}
	}
	return out.Clone()
}

// Snapshot returns an immutable view of the store.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		ID:        s.id,
		Fields:    s.Fields(),
		Status:    s.status,
		Err:       s.err,
		LastUndo:  s.lastUndo,
		IsLoading: s.status == StatusLoading,
	}
}

// Listen registers fn for every future Event of the store.
func (s *Store) Listen(fn func(Event)) (cancel func()) {
	return s.obs.add(fn)
}

// Mutate changes one field optimistically and sends the change.
func (s *Store) Mutate(name string, v value.Value) *Mutation {
	return s.MutateFields(value.Map{name: v})
}

// MutateFields changes several fields in one action.
func (s *Store) MutateFields(fields value.Map) *Mutation {
	return s.reg.reconciler.change(s, fields)
}

// Delete deletes the entity optimistically.
func (s *Store) Delete() *Mutation {
	return s.reg.reconciler.remove(s)
}

// Retry reloads a store that failed with a retryable error.
// It reports whether a reload was started.
func (s *Store) Retry() bool {
	if s.destroyed || s.deleted || s.status != StatusError || s.err == nil || !s.err.Retryable() {
		return false
	}
	slog.Debug("retrying store load", "plural", s.tpl.plural, "id", s.id, "error", s.err.Kind.String())

	s.cancelLoad()
	before := s.visible()
	s.resetFields()
	s.setStatus(StatusLoading, nil)
	s.emit(diffKeys(before, s.visible()), true, nil)
	s.load()
	return true
}

func (s *Store) channel() string {
	return action.EntityChannel(s.tpl.plural, s.id)
}

func (s *Store) field(name string) *field {
	f, ok := s.fields[name]
	if !ok {
		f = &field{}
		s.fields[name] = f
	}
	return f
}

// resetFields drops the confirmed baseline back to the template defaults.
// Pending changes survive.
func (s *Store) resetFields() {
	for name, f := range s.fields {
		if len(f.pending) == 0 {
			delete(s.fields, name)
			continue
		}
		f.confirmed, f.seq, f.has = nil, 0, false
	}
	for name, v := range s.tpl.defaults {
		f := s.field(name)
		f.confirmed, f.seq, f.has = v, 0, true
	}
	s.synced = false
	s.staged = nil
}

func (s *Store) visible() value.Map {
	out := make(value.Map, len(s.fields))
	for k, f := range s.fields {
		if v, ok := f.visible(); ok {
			out[k] = v
		}
	}
	return out
}

func (s *Store) confirmedFields() (value.Map, int64) {
	out := make(value.Map, len(s.fields))
	var maxSeq int64
	for k, f := range s.fields {
		if !f.has {
			continue
		}
		out[k] = f.confirmed
		maxSeq = max(maxSeq, f.seq)
	}
	return out.Clone(), maxSeq
}

func diffKeys(before, after value.Map) []string {
	var changed []string
	for k, v := range after {
		if old, ok := before[k]; !ok || !value.Equal(old, v) {
			changed = append(changed, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			changed = append(changed, k)
		}
	}
	slices.Sort(changed)
	return changed
}

func (s *Store) setStatus(status Status, err *Error) bool {
	if s.status == status && s.err == err {
		return false
	}
	s.status, s.err = status, err
	return true
}

func (s *Store) emit(changed []string, status bool, undo *Error) {
	if len(changed) == 0 && !status && undo == nil {
		return
	}
	s.obs.notify(Event{Store: s, Changed: changed, Status: status, Undo: undo})
}

func (s *Store) fail(err *Error) {
	s.reg.metrics.LoadFailed(s.tpl.plural, err.Kind)
	slog.Debug("store failed", "plural", s.tpl.plural, "id", s.id, "error", err.Error())
	if s.setStatus(StatusError, err) {
		s.emit(nil, true, nil)
	}
}

// load probes the cache for offline templates, then opens the entity
// channel for remote ones. It is a no-op unless the store is loading and
// no load is already in flight.
func (s *Store) load() {
	if s.destroyed || s.status != StatusLoading || s.loading {
		return
	}
	s.loading = true
	gen := s.loadGen

	if s.tpl.offline && s.reg.cache != nil {
		cache, plural, id := s.reg.cache, s.tpl.plural, s.id
		s.reg.loop.Async(func() loop.Task {
			entry, ok, err := cache.Load(context.Background(), plural, id)
			return func() { s.cacheLoaded(gen, entry, ok, err) }
		})
		return
	}
	s.loadRemote(gen)
}

func (s *Store) cacheLoaded(gen int, entry CacheEntry, ok bool, err error) {
	if s.destroyed || gen != s.loadGen {
		return
	}
	if err != nil {
		slog.Warn("cache probe failed", "plural", s.tpl.plural, "id", s.id, "error", err)
	}
	if ok && s.status == StatusLoading {
		s.applyRemote(entry.Fields, entry.Seq)
	}
	s.loadRemote(gen)
}

func (s *Store) loadRemote(gen int) {
	if !s.tpl.remote {
		s.loading = false
		if s.status == StatusLoading {
			s.fail(NotFoundError(s.channel()))
		}
		return
	}
	s.awaiting = true
	s.sub = s.reg.channels.Open(s.channel(), nil,
		func() { s.subscribed(gen) },
		func(err *Error) { s.subscriptionFailed(gen, err) },
	)
}

func (s *Store) subscribed(gen int) {
	if s.destroyed || gen != s.loadGen {
		return
	}
	s.loading, s.awaiting = false, false
	if s.staged != nil {
		s.promote()
		return
	}
	if s.status == StatusLoading {
		s.fail(NotFoundError(s.channel()))
	}
}

func (s *Store) subscriptionFailed(gen int, err *Error) {
	if s.destroyed || gen != s.loadGen {
		return
	}
	s.loading, s.awaiting = false, false
	s.staged = nil
	if s.deleted {
		return
	}
	s.fail(err)
}

// cancelLoad invalidates in-flight load continuations and closes the
// entity subscription.
func (s *Store) cancelLoad() {
	s.loadGen++
	s.loading, s.awaiting = false, false
	s.staged = nil
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
}

// applyRemote merges server (or cached) field values stamped with seq.
// A field's baseline only moves forward; a newer pending change keeps the
// visible value unchanged.
//
// While the entity subscription is being processed the server may send a
// record in several parts, so data is staged and becomes visible in one
// step once the subscription is ready.
func (s *Store) applyRemote(fields value.Map, seq int64) {
	if s.deleted {
		return
	}
	if s.awaiting && s.status == StatusLoading {
		if s.staged == nil {
			s.staged = make(map[string]stagedValue, len(fields))
		}
		for name, v := range fields {
			if old, ok := s.staged[name]; !ok || seq > old.seq {
				s.staged[name] = stagedValue{v: v, seq: seq}
			}
		}
		return
	}
	before := s.visible()
	s.merge(fields, seq)
	status := false
	if s.status == StatusLoading {
		status = s.setStatus(StatusLoaded, nil)
	}
	s.emit(diffKeys(before, s.visible()), status, nil)
}

// promote makes staged data visible and marks the store loaded.
func (s *Store) promote() {
	before := s.visible()
	for _, name := range slices.Sorted(maps.Keys(s.staged)) {
		sv := s.staged[name]
		s.merge(value.Map{name: sv.v}, sv.seq)
	}
	s.staged = nil
	status := s.status == StatusLoading && s.setStatus(StatusLoaded, nil)
	s.emit(diffKeys(before, s.visible()), status, nil)
}

func (s *Store) merge(fields value.Map, seq int64) {
	for _, name := range fields.SortedKeys() {
		f := s.field(name)
		if !f.has || f.seq == 0 || seq > f.seq {
			f.confirmed, f.seq, f.has = fields[name], seq, true
		}
	}
	s.synced = true
}

// markDeleted handles a deletion confirmed by the server or pushed by
// another client.
func (s *Store) markDeleted() {
	if s.deleted && s.status == StatusError {
		return
	}
	s.deleted = true
	s.staged = nil
	if s.setStatus(StatusError, NotFoundError(s.channel())) {
		s.emit(nil, true, nil)
	}
}

// resolve folds a resolved mutation into the store.
func (s *Store) resolve(m *Mutation) {
	before := s.visible()
	for _, c := range m.Changes {
		f, ok := s.fields[c.Field]
		if !ok {
			continue
		}
		f.pending = slices.DeleteFunc(f.pending, func(x *Change) bool { return x == c })
		if m.state == ChangeConfirmed && (!f.has || m.Seq > f.seq) {
			f.confirmed, f.seq, f.has = c.Value, m.Seq, true
		}
	}
	if m.state == ChangeConfirmed && m.Verb == action.VerbCreate {
		s.synced = true
	}

	// A confirmed deletion changes no field but still has to reach observers.
	status := m.state == ChangeConfirmed && m.Verb == action.VerbDelete
	var undo *Error
	if m.state == ChangeRejected {
		s.lastUndo = m.err
		undo = m.err
		switch m.Verb {
		case action.VerbDelete:
			s.deleted = m.prevDeleted
			status = s.setStatus(m.prevStatus, m.prevErr)
		case action.VerbCreate:
			if !s.synced {
				s.deleted = true
				status = s.setStatus(StatusError, m.err)
			}
		}
	}
	s.emit(diffKeys(before, s.visible()), status, undo)
}
