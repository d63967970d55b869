package syncmap

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/syncmap/internal/value"
)

type subState int

const (
	subOpening subState = iota
	subOpen
	subFailed
)

// subscription is one server-side subscription shared by every owner that
// asked for the same (channel, filter).
type subscription struct {
	key     string
	channel string
	filter  value.Map
	gen     int
	state   subState
	err     *Error
	owners  []*SubscriptionHandle
	cancel  func()
}

// SubscriptionHandle is one owner's reference to a shared subscription.
type SubscriptionHandle struct {
	c       *Channels
	sub     *subscription
	onReady func()
	onError func(*Error)
	closed  bool
}

// Channel returns the subscribed channel name.
func (h *SubscriptionHandle) Channel() string { return h.sub.channel }

// Close releases this owner's reference.
func (h *SubscriptionHandle) Close() {
	h.c.close(h)
}

// Channels multiplexes subscriptions over the Client. Opening the same
// (channel, filter) twice shares one underlying subscription; it is closed
// on the server once its last owner closes.
type Channels struct {
	reg  *Registry
	subs map[string]*subscription
}

func newChannels(reg *Registry) *Channels {
	return &Channels{reg: reg, subs: make(map[string]*subscription)}
}

func subscriptionKey(channel string, filter value.Map) string {
	args := value.Map{"channel": value.String(channel)}
	if len(filter) > 0 {
		args["filter"] = filter
	}
	key, err := value.Key(value.DomainSubscription, args)
	if err == nil {
		return key
	}
	// Canonical keys reject null; a filter on a null field is keyed by its
	// plain JSON form instead.
	data, err := value.Marshal(args)
	if err != nil {
		slog.Error("subscription filter cannot be keyed", "channel", channel, "error", err)
		return "raw:" + channel + ":" + fmt.Sprint(filter)
	}
	return "raw:" + string(data)
}

// Open subscribes to channel with an optional filter. onReady runs once the
// server has processed the subscription and all initial data has been
// delivered; onError runs on rejection or later failure. Neither runs
// synchronously from Open.
func (c *Channels) Open(channel string, filter value.Map, onReady func(), onError func(*Error)) *SubscriptionHandle {
	key := subscriptionKey(channel, filter)
	sub, ok := c.subs[key]
	if !ok {
		sub = &subscription{key: key, channel: channel, filter: filter.Clone()}
		c.subs[key] = sub
	}
	h := &SubscriptionHandle{c: c, sub: sub, onReady: onReady, onError: onError}
	sub.owners = append(sub.owners, h)

	switch {
	case !ok || sub.state == subFailed:
		c.subscribe(sub)
	case sub.state == subOpen:
		c.reg.loop.Post(func() {
			if !h.closed && sub.state == subOpen && h.onReady != nil {
				h.onReady()
			}
		})
	}
	return h
}

// Len returns the number of live shared subscriptions.
func (c *Channels) Len() int {
	return len(c.subs)
}

// Owners returns the number of owners of (channel, filter).
func (c *Channels) Owners(channel string, filter value.Map) int {
	sub, ok := c.subs[subscriptionKey(channel, filter)]
	if !ok {
		return 0
	}
	return len(sub.owners)
}

func (c *Channels) subscribe(sub *subscription) {
	sub.gen++
	gen := sub.gen
	sub.state, sub.err = subOpening, nil
	slog.Debug("opening subscription", "channel", sub.channel, "filter", sub.filter)
	c.reg.metrics.SubscriptionOpened(sub.channel)
	sub.cancel = c.reg.client.Subscribe(sub.channel, sub.filter, func(err error) {
		c.notify(sub, gen, err)
	})
}

func (c *Channels) notify(sub *subscription, gen int, err error) {
	if c.subs[sub.key] != sub || sub.gen != gen || sub.state == subFailed {
		return
	}
	owners := slices.Clone(sub.owners)

	if err == nil {
		if sub.state == subOpen {
			return
		}
		sub.state = subOpen
		for _, h := range owners {
			if !h.closed && h.onReady != nil {
				h.onReady()
			}
		}
		return
	}

	e := Classify(err)
	if e.Channel == "" {
		withChannel := *e
		withChannel.Channel = sub.channel
		e = &withChannel
	}
	slog.Debug("subscription failed", "channel", sub.channel, "error", e.Error())
	sub.state, sub.err = subFailed, e
	sub.cancel = nil
	c.reg.metrics.SubscriptionClosed(sub.channel)
	for _, h := range owners {
		if !h.closed && h.onError != nil {
			h.onError(e)
		}
	}
}

func (c *Channels) close(h *SubscriptionHandle) {
	if h.closed {
		return
	}
	h.closed = true
	sub := h.sub
	sub.owners = slices.DeleteFunc(sub.owners, func(x *SubscriptionHandle) bool { return x == h })
	if len(sub.owners) > 0 {
		return
	}

	delete(c.subs, sub.key)
	if sub.state == subFailed {
		return
	}
	slog.Debug("closing subscription", "channel", sub.channel)
	c.reg.metrics.SubscriptionClosed(sub.channel)
	if sub.cancel != nil {
		sub.cancel()
		sub.cancel = nil
	}
}

// reset forgets every subscription, cancelling live ones.
func (c *Channels) reset() {
	for _, sub := range c.subs {
		for _, h := range sub.owners {
			h.closed = true
		}
		if sub.state != subFailed {
			c.reg.metrics.SubscriptionClosed(sub.channel)
			if sub.cancel != nil {
				sub.cancel()
			}
		}
	}
	clear(c.subs)
}
