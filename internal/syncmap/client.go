package syncmap

import (
	"context"

	"github.com/roach88/syncmap/internal/action"
	"github.com/roach88/syncmap/internal/value"
)

// ConnState is the connection state reported by a Client.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateSynchronized
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSynchronized:
		return "synchronized"
	default:
		return "unknown"
	}
}

// Client is the sync layer the engine consumes.
//
// Implementations must deliver every callback as a task on the engine's
// loop, and never synchronously from inside the call that registered it.
type Client interface {
	// Sync sends a local action. done is called exactly once: with nil when
	// the server confirmed it, with an *Error otherwise. An error that is
	// not an *Error is treated as a transport failure.
	Sync(a action.Action, meta action.Meta, done func(error))

	// Subscribe opens a server-side subscription. Initial data arrives through
	// OnAction listeners; notify(nil) follows once the server has processed
	// the subscription. notify(err) reports rejection or a later failure,
	// after which the subscription is dead. cancel unsubscribes.
	Subscribe(channel string, filter value.Map, notify func(error)) (cancel func())

	// OnAction registers a listener for actions arriving from the server.
	OnAction(fn func(action.Action, action.Meta)) (remove func())

	// UserID returns the current user.
	UserID() string
	OnUser(fn func(userID string)) (remove func())

	// State returns the current connection state.
	State() ConnState
	OnState(fn func(ConnState)) (remove func())

	// OnError reports connection-level errors such as "wrong-credentials".
	OnError(fn func(reason string)) (remove func())
}

// CacheEntry is a persisted entity snapshot.
type CacheEntry struct {
	ID     string
	Fields value.Map
	Seq    int64
}

// Cache is the best-effort local persisted state consulted on load.
// It is never a source of truth once the server has answered.
type Cache interface {
	Load(ctx context.Context, plural, id string) (CacheEntry, bool, error)
	List(ctx context.Context, plural string) ([]CacheEntry, error)
	Save(ctx context.Context, plural string, entry CacheEntry) error
	Delete(ctx context.Context, plural, id string) error
}

// JournalEntry records one submitted local action.
type JournalEntry struct {
	ActionID string
	Seq      int64
	Type     string
	EntityID string
	Fields   value.Map
}

// Journal is an append-only record of local actions and their outcomes.
type Journal interface {
	Append(ctx context.Context, entry JournalEntry) error
	Resolve(ctx context.Context, actionID string, state ChangeState, reason string) error
}

// Metrics receives engine lifecycle events.
type Metrics interface {
	StoreOpened(plural string)
	StoreClosed(plural string)
	SubscriptionOpened(channel string)
	SubscriptionClosed(channel string)
	ChangeResolved(plural string, state ChangeState)
	LoadFailed(plural string, kind Kind)
	FilterMembers(plural string, delta int)
}

type noopMetrics struct{}

func (noopMetrics) StoreOpened(string) {}
func (noopMetrics) StoreClosed(string) {}
func (noopMetrics) SubscriptionOpened(string) {}
func (noopMetrics) SubscriptionClosed(string) {}
func (noopMetrics) ChangeResolved(string, ChangeState) {}
func (noopMetrics) LoadFailed(string, Kind) {}
func (noopMetrics) FilterMembers(string, int) {}
