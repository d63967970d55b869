package syncmap

import (
	"context"
	"log/slog"

	"github.com/roach88/syncmap/internal/action"
	"github.com/roach88/syncmap/internal/value"
)

// ChangeState is the resolution state of a local change.
type ChangeState int

const (
	ChangePending ChangeState = iota
	ChangeConfirmed
	ChangeRejected
)

func (s ChangeState) String() string {
	switch s {
	case ChangePending:
		return "pending"
	case ChangeConfirmed:
		return "confirmed"
	case ChangeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Change is the record of one field written by a local action.
type Change struct {
	Field string
	Value value.Value
	m     *Mutation
}

// Seq returns the Lamport seq the change was submitted at.
func (c *Change) Seq() int64 { return c.m.Seq }

// Mutation returns the action the change belongs to.
func (c *Change) Mutation() *Mutation { return c.m }

// Mutation is one local action and the change records it produced.
// All of its changes share the action's ID and seq and resolve together.
type Mutation struct {
	ActionID string
	Type     string
	Plural   string
	EntityID string
	Verb     action.Verb
	Seq      int64
	Changes  []*Change

	state   ChangeState
	err     *Error
	waiters []func(*Mutation)
	store   *Store

	prevStatus  Status
	prevErr     *Error
	prevDeleted bool
}

// State returns the resolution state.
func (m *Mutation) State() ChangeState { return m.state }

// Err returns the rejection error of a rejected mutation.
func (m *Mutation) Err() *Error { return m.err }

// OnResolve calls fn once the mutation is confirmed or rejected, or
// immediately if it already is.
func (m *Mutation) OnResolve(fn func(*Mutation)) {
	if m.state != ChangePending {
		fn(m)
		return
	}
	m.waiters = append(m.waiters, fn)
}

// reconciler owns the set of unresolved local actions.
type reconciler struct {
	reg     *Registry
	pending map[string]*Mutation
}

func newReconciler(reg *Registry) *reconciler {
	return &reconciler{reg: reg, pending: make(map[string]*Mutation)}
}

func (r *reconciler) newMutation(tpl *Template, id string, verb action.Verb) *Mutation {
	return &Mutation{
		ActionID: r.reg.ids.Generate(),
		Type:     action.Type(tpl.plural, verb),
		Plural:   tpl.plural,
		EntityID: id,
		Verb:     verb,
		Seq:      r.reg.loop.Clock().Next(),
	}
}

// stage layers the mutation's changes over the store's fields.
func (r *reconciler) stage(s *Store, m *Mutation, fields value.Map) {
	for _, name := range fields.SortedKeys() {
		c := &Change{Field: name, Value: fields[name], m: m}
		m.Changes = append(m.Changes, c)
		if s != nil {
			f := s.field(name)
			f.pending = append(f.pending, c)
		}
	}
	if s != nil {
		s.pending++
		m.store = s
	}
}

func (r *reconciler) change(s *Store, fields value.Map) *Mutation {
	m := r.newMutation(s.tpl, s.id, action.VerbChange)
	before := s.visible()
	r.stage(s, m, fields)
	s.emit(diffKeys(before, s.visible()), false, nil)
	r.submit(s.tpl, m, action.Change(s.tpl.plural, s.id, fields))
	return m
}

func (r *reconciler) create(s *Store, fields value.Map) *Mutation {
	m := r.newMutation(s.tpl, s.id, action.VerbCreate)
	before := s.visible()
	r.stage(s, m, fields)
	s.deleted = false
	status := s.setStatus(StatusLoaded, nil)
	s.emit(diffKeys(before, s.visible()), status, nil)
	r.submit(s.tpl, m, action.Create(s.tpl.plural, s.id, fields))
	return m
}

func (r *reconciler) remove(s *Store) *Mutation {
	m := r.newMutation(s.tpl, s.id, action.VerbDelete)
	m.prevStatus, m.prevErr, m.prevDeleted = s.status, s.err, s.deleted
	r.stage(s, m, nil)
	s.deleted = true
	if s.setStatus(StatusError, NotFoundError(s.channel())) {
		s.emit(nil, true, nil)
	}
	r.submit(s.tpl, m, action.Delete(s.tpl.plural, s.id))
	return m
}

// detached submits a change for an entity that has no live store.
func (r *reconciler) detached(tpl *Template, id string, fields value.Map) *Mutation {
	m := r.newMutation(tpl, id, action.VerbChange)
	r.stage(nil, m, fields)
	r.submit(tpl, m, action.Change(tpl.plural, id, fields))
	return m
}

func (r *reconciler) submit(tpl *Template, m *Mutation, a action.Action) {
	r.pending[m.ActionID] = m
	if r.reg.journal != nil {
		entry := JournalEntry{ActionID: m.ActionID, Seq: m.Seq, Type: m.Type, EntityID: m.EntityID, Fields: a.Fields}
		if err := r.reg.journal.Append(context.Background(), entry); err != nil {
			slog.Warn("journal append failed", "action_id", m.ActionID, "error", err)
		}
	}
	slog.Debug("submitting change", "type", m.Type, "id", m.EntityID, "seq", m.Seq, "action_id", m.ActionID)

	if !tpl.remote {
		r.reg.loop.Post(func() { r.resolve(m, nil) })
		return
	}
	r.reg.client.Sync(a, action.Meta{ID: m.ActionID, Seq: m.Seq}, func(err error) {
		r.resolve(m, err)
	})
}

// resolve confirms (err == nil) or rejects a pending mutation. Answers for
// unknown or already resolved actions are ignored.
func (r *reconciler) resolve(m *Mutation, err error) {
	if _, ok := r.pending[m.ActionID]; !ok || m.state != ChangePending {
		return
	}
	delete(r.pending, m.ActionID)

	reason := ""
	if e := Classify(err); e != nil {
		rejected := *e
		if rejected.Action == "" {
			rejected.Action = m.Type
		}
		m.state, m.err = ChangeRejected, &rejected
		reason = rejected.Reason
		if reason == "" {
			reason = rejected.Kind.String()
		}
		slog.Debug("change rejected", "type", m.Type, "id", m.EntityID, "seq", m.Seq, "error", rejected.Error())
	} else {
		m.state = ChangeConfirmed
		slog.Debug("change confirmed", "type", m.Type, "id", m.EntityID, "seq", m.Seq)
	}

	s := m.store
	if s != nil {
		s.pending--
		s.resolve(m)
	} else if live := r.reg.lookup(m.Plural, m.EntityID); live != nil && m.state == ChangeConfirmed {
		// The store appeared after the change was sent.
		s = live
		s.resolve(m)
	}
	r.persist(m, s)

	if r.reg.journal != nil {
		if err := r.reg.journal.Resolve(context.Background(), m.ActionID, m.state, reason); err != nil {
			slog.Warn("journal resolve failed", "action_id", m.ActionID, "error", err)
		}
	}
	r.reg.metrics.ChangeResolved(m.Plural, m.state)

	for _, fn := range m.waiters {
		fn(m)
	}
	m.waiters = nil

	if m.store != nil {
		r.reg.maybeTeardown(m.store)
	}
}

// persist mirrors confirmed state of offline templates into the cache.
func (r *reconciler) persist(m *Mutation, s *Store) {
	tpl := r.reg.templates[m.Plural]
	if r.reg.cache == nil || tpl == nil || !tpl.offline {
		return
	}
	ctx := context.Background()

	switch {
	case m.state == ChangeRejected && m.Verb == action.VerbCreate && s != nil && s.deleted:
		r.cacheDelete(ctx, m.Plural, m.EntityID)
	case m.state != ChangeConfirmed:
	case m.Verb == action.VerbDelete:
		r.cacheDelete(ctx, m.Plural, m.EntityID)
	case s != nil && !s.deleted:
		fields, seq := s.confirmedFields()
		r.cacheSave(ctx, m.Plural, CacheEntry{ID: m.EntityID, Fields: fields, Seq: seq})
	default:
		entry, _, err := r.reg.cache.Load(ctx, m.Plural, m.EntityID)
		if err != nil {
			slog.Warn("cache probe failed", "plural", m.Plural, "id", m.EntityID, "error", err)
			return
		}
		fields := entry.Fields.Clone()
		for _, c := range m.Changes {
			fields[c.Field] = c.Value
		}
		r.cacheSave(ctx, m.Plural, CacheEntry{ID: m.EntityID, Fields: fields, Seq: max(entry.Seq, m.Seq)})
	}
}

func (r *reconciler) cacheSave(ctx context.Context, plural string, entry CacheEntry) {
	if err := r.reg.cache.Save(ctx, plural, entry); err != nil {
		slog.Warn("cache save failed", "plural", plural, "id", entry.ID, "error", err)
	}
}

func (r *reconciler) cacheDelete(ctx context.Context, plural, id string) {
	if err := r.reg.cache.Delete(ctx, plural, id); err != nil {
		slog.Warn("cache delete failed", "plural", plural, "id", id, "error", err)
	}
}

// discard drops every unresolved mutation without resolving it.
func (r *reconciler) discard() {
	clear(r.pending)
}
