package testserver

import (
	"slices"

	"github.com/roach88/syncmap/internal/action"
	"github.com/roach88/syncmap/internal/syncmap"
	"github.com/roach88/syncmap/internal/value"
)

type listener[T any] struct {
	fn      T
	removed bool
}

type listeners[T any] struct {
	list []*listener[T]
}

func (l *listeners[T]) add(fn T) func() {
	ln := &listener[T]{fn: fn}
	l.list = append(l.list, ln)
	return func() {
		ln.removed = true
		l.list = slices.DeleteFunc(l.list, func(x *listener[T]) bool { return x == ln })
	}
}

func (l *listeners[T]) each(call func(T)) {
	for _, ln := range slices.Clone(l.list) {
		if !ln.removed {
			call(ln.fn)
		}
	}
}

type subscription struct {
	channel string
	filter  value.Map
	active  bool
	notify  func(error)
}

// Client is one connection to the Server. It implements syncmap.Client.
type Client struct {
	srv    *Server
	userID string
	state  syncmap.ConnState

	subs    []*subscription
	outbox  []func()
	actions listeners[func(action.Action, action.Meta)]
	users   listeners[func(string)]
	states  listeners[func(syncmap.ConnState)]
	errs    listeners[func(string)]

	received []action.Action
}

var _ syncmap.Client = (*Client)(nil)

func newClient(srv *Server, userID string) *Client {
	return &Client{srv: srv, userID: userID, state: syncmap.StateDisconnected}
}

// Sync sends a to the server. While disconnected, actions wait in an
// outbox and are sent on Connect.
func (c *Client) Sync(a action.Action, meta action.Meta, done func(error)) {
	send := func() {
		c.srv.deliver(func() { c.srv.sync(c, a, meta, done) })
	}
	if c.state != syncmap.StateSynchronized {
		c.outbox = append(c.outbox, send)
		return
	}
	send()
}

// Subscribe opens a subscription on the server.
func (c *Client) Subscribe(channel string, filter value.Map, notify func(error)) func() {
	sub := &subscription{channel: channel, filter: filter.Clone(), active: true, notify: notify}
	c.subs = append(c.subs, sub)
	c.srv.deliver(func() { c.srv.subscribe(c, sub) })
	return func() {
		if !sub.active {
			return
		}
		sub.active = false
		c.subs = slices.DeleteFunc(c.subs, func(x *subscription) bool { return x == sub })
		c.srv.unsubscribe(sub)
	}
}

// OnAction registers a listener for server actions.
func (c *Client) OnAction(fn func(action.Action, action.Meta)) func() {
	return c.actions.add(fn)
}

// UserID returns the current user.
func (c *Client) UserID() string { return c.userID }

// OnUser registers a listener for user changes.
func (c *Client) OnUser(fn func(string)) func() { return c.users.add(fn) }

// State returns the connection state.
func (c *Client) State() syncmap.ConnState { return c.state }

// OnState registers a listener for connection state changes.
func (c *Client) OnState(fn func(syncmap.ConnState)) func() { return c.states.add(fn) }

// OnError registers a listener for connection errors.
func (c *Client) OnError(fn func(string)) func() { return c.errs.add(fn) }

// Received returns every action delivered to this client, in order.
func (c *Client) Received() []action.Action {
	return slices.Clone(c.received)
}

// Subscriptions returns the channels of active subscriptions.
func (c *Client) Subscriptions() []string {
	var out []string
	for _, sub := range c.activeSubs() {
		out = append(out, sub.channel)
	}
	return out
}

// Receive delivers a server action to this client only. It bypasses the
// entity table and Freeze.
func (c *Client) Receive(a action.Action, seq int64) {
	c.srv.loop.Post(func() {
		c.emit(a, action.Meta{ID: c.srv.nextID(), Seq: seq})
	})
}

// Disconnect drops the connection.
func (c *Client) Disconnect() {
	c.setState(syncmap.StateDisconnected)
}

// Connect reconnects and flushes actions queued while disconnected.
func (c *Client) Connect() {
	if c.state == syncmap.StateSynchronized {
		return
	}
	c.setState(syncmap.StateConnecting)
	c.srv.loop.Post(func() {
		if c.state != syncmap.StateConnecting {
			return
		}
		c.state = syncmap.StateSynchronized
		c.states.each(func(fn func(syncmap.ConnState)) { fn(syncmap.StateSynchronized) })
		outbox := c.outbox
		c.outbox = nil
		for _, send := range outbox {
			send()
		}
	})
}

// ChangeUser switches the user and disconnects, as a client does after
// logging in as someone else.
func (c *Client) ChangeUser(userID string) {
	c.userID = userID
	c.setState(syncmap.StateDisconnected)
	c.srv.loop.Post(func() {
		c.users.each(func(fn func(string)) { fn(userID) })
	})
}

// SendError reports a connection error. Wrong credentials also disconnect.
func (c *Client) SendError(reason string) {
	if reason == syncmap.ReasonWrongCredentials {
		c.setState(syncmap.StateDisconnected)
	}
	c.srv.loop.Post(func() {
		c.errs.each(func(fn func(string)) { fn(reason) })
	})
}

func (c *Client) setState(state syncmap.ConnState) {
	if c.state == state {
		return
	}
	c.state = state
	c.srv.loop.Post(func() {
		c.states.each(func(fn func(syncmap.ConnState)) { fn(state) })
	})
}

func (c *Client) activeSubs() []*subscription {
	out := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.active {
			out = append(out, sub)
		}
	}
	return out
}

// emit delivers a server action to this client's listeners.
// It runs inside a loop task.
func (c *Client) emit(a action.Action, meta action.Meta) {
	c.received = append(c.received, a)
	c.actions.each(func(fn func(action.Action, action.Meta)) { fn(a, meta) })
}
