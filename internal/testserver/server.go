// Package testserver is an in-process sync server and client pair for
// tests, scenarios and the CLI.
//
// The Server keeps an authoritative entity table per plural and resolves
// concurrent writes per field by seq (last writer wins). Clients implement
// syncmap.Client and deliver every callback as a task on the shared loop,
// so runs are deterministic under loop.Drain.
//
// Channels:
//
//	<plural>/<id>   one entity; replays its fields, then processed
//	<plural>        every entity matching the subscription filter
package testserver

import (
	"cmp"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/syncmap/internal/action"
	"github.com/roach88/syncmap/internal/loop"
	"github.com/roach88/syncmap/internal/syncmap"
	"github.com/roach88/syncmap/internal/value"
)

// ErrNoResponse is the failure injected by FailNext.
var ErrNoResponse = errors.New("testserver: no response")

type entity struct {
	id      string
	order   int64
	fields  value.Map
	seqs    map[string]int64
	deleted bool
}

func (e *entity) maxSeq() int64 {
	var m int64
	for _, s := range e.seqs {
		m = max(m, s)
	}
	return m
}

// apply merges fields with last-writer-wins per field and returns the
// fields that actually changed.
func (e *entity) apply(fields value.Map, seq int64) value.Map {
	applied := make(value.Map)
	for k, v := range fields {
		if prev, ok := e.seqs[k]; ok && prev > seq {
			continue
		}
		e.fields[k] = v
		e.seqs[k] = seq
		applied[k] = v
	}
	return applied
}

// Responder answers a subscription to a channel registered with OnChannel.
type Responder struct {
	srv *Server
	c   *Client
	sub *subscription
}

// Filter returns the subscription filter.
func (r *Responder) Filter() value.Map { return r.sub.filter }

// Send delivers an action to the subscribing client.
func (r *Responder) Send(a action.Action, seq int64) {
	r.c.emit(a, action.Meta{ID: r.srv.nextID(), Seq: seq})
}

// Done marks the subscription processed.
func (r *Responder) Done() {
	r.sub.notify(nil)
}

// Undo rejects the subscription with reason.
func (r *Responder) Undo(reason string) {
	r.sub.active = false
	r.sub.notify(syncmap.UndoError(reason, r.sub.channel, action.TypeSubscribe))
}

// Server is the authoritative side.
type Server struct {
	loop     *loop.Loop
	entities map[string]map[string]*entity
	order    int64
	ids      int
	clients  []*Client

	responders map[string]func(*Responder)
	denied     map[string]string
	rejects    map[string]string
	undo       []string
	fail       int

	frozen bool
	held   []func()
	log    []action.Action
}

// New creates a server delivering on l.
func New(l *loop.Loop) *Server {
	return &Server{
		loop:       l,
		entities:   make(map[string]map[string]*entity),
		responders: make(map[string]func(*Responder)),
		denied:     make(map[string]string),
		rejects:    make(map[string]string),
	}
}

func (s *Server) nextID() string {
	s.ids++
	return "server:" + strconv.Itoa(s.ids)
}

// Client returns a new connected client for userID.
func (s *Server) Client(userID string) *Client {
	c := newClient(s, userID)
	c.state = syncmap.StateSynchronized
	s.clients = append(s.clients, c)
	return c
}

// OnChannel installs a custom responder for subscriptions to channel.
func (s *Server) OnChannel(channel string, fn func(*Responder)) {
	s.responders[channel] = fn
}

// DenyChannel makes every later subscription to channel fail with reason.
func (s *Server) DenyChannel(channel, reason string) {
	s.denied[channel] = reason
}

// AllowChannel lifts a DenyChannel.
func (s *Server) AllowChannel(channel string) {
	delete(s.denied, channel)
}

// Reject rejects the action with the given meta ID when it arrives.
func (s *Server) Reject(actionID, reason string) {
	s.rejects[actionID] = reason
}

// UndoNext rejects the next synced action with reason.
func (s *Server) UndoNext(reason string) {
	s.undo = append(s.undo, reason)
}

// FailNext makes the next synced action fail without a server answer.
func (s *Server) FailNext() {
	s.fail++
}

// Freeze holds back all processing until Resume.
func (s *Server) Freeze() {
	s.frozen = true
}

// Resume processes everything held back by Freeze, in order.
func (s *Server) Resume() {
	s.frozen = false
	held := s.held
	s.held = nil
	for _, fn := range held {
		s.loop.Post(fn)
	}
}

// Log returns every action the server processed, in order.
func (s *Server) Log() []action.Action {
	return slices.Clone(s.log)
}

// Entity returns the server's view of an entity.
func (s *Server) Entity(plural, id string) (value.Map, bool) {
	e, ok := s.entities[plural][id]
	if !ok || e.deleted {
		return nil, false
	}
	return e.fields.Clone(), true
}

// Seed stores an entity without notifying anyone.
func (s *Server) Seed(plural, id string, fields value.Map, seq int64) {
	e := s.entity(plural, id, true)
	e.deleted = false
	e.apply(fields, seq)
}

// Push applies a change made by another writer and broadcasts it to every
// subscribed client.
func (s *Server) Push(a action.Action, seq int64) {
	s.deliver(func() {
		s.process(nil, a, seq)
	})
}

// FailChannel fails every active subscription to channel with reason.
func (s *Server) FailChannel(channel, reason string) {
	s.deliver(func() {
		for _, c := range s.clients {
			for _, sub := range c.activeSubs() {
				if sub.channel == channel {
					sub.active = false
					sub.notify(syncmap.UndoError(reason, channel, action.TypeSubscribe))
				}
			}
		}
	})
}

func (s *Server) deliver(fn func()) {
	if s.frozen {
		s.held = append(s.held, fn)
		return
	}
	s.loop.Post(fn)
}

func (s *Server) entity(plural, id string, create bool) *entity {
	byID, ok := s.entities[plural]
	if !ok {
		if !create {
			return nil
		}
		byID = make(map[string]*entity)
		s.entities[plural] = byID
	}
	e, ok := byID[id]
	if !ok && create {
		s.order++
		e = &entity{id: id, order: s.order, fields: make(value.Map), seqs: make(map[string]int64)}
		byID[id] = e
	}
	return e
}

func (s *Server) sorted(plural string) []*entity {
	out := slices.Collect(maps.Values(s.entities[plural]))
	slices.SortFunc(out, func(a, b *entity) int { return cmp.Compare(a.order, b.order) })
	return out
}

// sync handles an action sent by a client.
func (s *Server) sync(from *Client, a action.Action, meta action.Meta, done func(error)) {
	if s.fail > 0 {
		s.fail--
		done(ErrNoResponse)
		return
	}
	if reason, ok := s.rejects[meta.ID]; ok {
		delete(s.rejects, meta.ID)
		done(syncmap.UndoError(reason, "", a.Type))
		return
	}
	if len(s.undo) > 0 {
		reason := s.undo[0]
		s.undo = s.undo[1:]
		done(syncmap.UndoError(reason, "", a.Type))
		return
	}
	if err := s.process(from, a, meta.Seq); err != nil {
		done(err)
		return
	}
	done(nil)
}

// process applies an entity action and fans it out to subscribers other
// than from.
func (s *Server) process(from *Client, a action.Action, seq int64) error {
	plural, verb, ok := action.Split(a.Type)
	if !ok {
		return syncmap.UndoError(action.ReasonError, "", a.Type)
	}
	s.log = append(s.log, a)

	switch verb {
	case action.VerbCreate, action.VerbCreated:
		e := s.entity(plural, a.ID, true)
		before := e.fields.Clone()
		wasLive := !e.deleted && len(before) > 0
		e.deleted = false
		e.apply(a.Fields, seq)
		s.fanout(from, plural, e, before, wasLive, action.Changed(plural, a.ID, a.Fields), seq)
	case action.VerbChange, action.VerbChanged:
		e := s.entity(plural, a.ID, false)
		if e == nil || e.deleted {
			return syncmap.UndoError(action.ReasonNotFound, "", a.Type)
		}
		before := e.fields.Clone()
		applied := e.apply(a.Fields, seq)
		if len(applied) == 0 {
			return nil
		}
		s.fanout(from, plural, e, before, true, action.Changed(plural, a.ID, applied), seq)
	case action.VerbDelete, action.VerbDeleted:
		e := s.entity(plural, a.ID, false)
		if e == nil || e.deleted {
			return syncmap.UndoError(action.ReasonNotFound, "", a.Type)
		}
		before := e.fields.Clone()
		e.deleted = true
		s.fanout(from, plural, e, before, true, action.Deleted(plural, a.ID), seq)
	}
	slog.Debug("server processed", "type", a.Type, "id", a.ID, "seq", seq)
	return nil
}

// fanout sends a to every subscription interested in e. Filtered plural
// subscriptions get created when e starts matching and the action itself
// when it matched before.
func (s *Server) fanout(from *Client, plural string, e *entity, before value.Map, wasLive bool, a action.Action, seq int64) {
	entityChannel := action.EntityChannel(plural, e.id)
	for _, c := range s.clients {
		if c == from || c.state != syncmap.StateSynchronized {
			continue
		}
		sent := false
		for _, sub := range c.activeSubs() {
			if sent {
				break
			}
			switch sub.channel {
			case entityChannel:
				c.emit(a, action.Meta{ID: s.nextID(), Seq: seq})
				sent = true
			case plural:
				matchedBefore := wasLive && before.Matches(sub.filter)
				matchesNow := !e.deleted && e.fields.Matches(sub.filter)
				switch {
				case matchedBefore:
					c.emit(a, action.Meta{ID: s.nextID(), Seq: seq})
					sent = true
				case matchesNow:
					c.emit(action.Created(plural, e.id, e.fields.Clone()), action.Meta{ID: s.nextID(), Seq: e.maxSeq()})
					sent = true
				}
			}
		}
	}
}

// subscribe answers a new subscription.
func (s *Server) subscribe(c *Client, sub *subscription) {
	if !sub.active {
		return
	}
	s.log = append(s.log, action.Subscribe(sub.channel, sub.filter))

	if reason, ok := s.denied[sub.channel]; ok {
		sub.active = false
		sub.notify(syncmap.UndoError(reason, sub.channel, action.TypeSubscribe))
		return
	}
	if fn, ok := s.responders[sub.channel]; ok {
		fn(&Responder{srv: s, c: c, sub: sub})
		return
	}

	plural, id, isEntity := strings.Cut(sub.channel, "/")
	if isEntity {
		if e := s.entity(plural, id, false); e != nil && !e.deleted {
			s.replay(c, plural, e)
		}
		sub.notify(nil)
		return
	}
	for _, e := range s.sorted(plural) {
		if !e.deleted && e.fields.Matches(sub.filter) {
			c.emit(action.Created(plural, e.id, e.fields.Clone()), action.Meta{ID: s.nextID(), Seq: e.maxSeq()})
		}
	}
	sub.notify(nil)
}

// replay sends an entity's fields grouped by the seq they were written at.
func (s *Server) replay(c *Client, plural string, e *entity) {
	bySeq := make(map[int64]value.Map)
	for k, v := range e.fields {
		seq := e.seqs[k]
		if bySeq[seq] == nil {
			bySeq[seq] = make(value.Map)
		}
		bySeq[seq][k] = v
	}
	for _, seq := range slices.Sorted(maps.Keys(bySeq)) {
		c.emit(action.Changed(plural, e.id, bySeq[seq]), action.Meta{ID: s.nextID(), Seq: seq})
	}
}

func (s *Server) unsubscribe(sub *subscription) {
	s.log = append(s.log, action.Unsubscribe(sub.channel, sub.filter))
}
