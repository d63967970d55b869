package syncmap

import (
	"errors"
	"fmt"

	"github.com/roach88/syncmap/internal/action"
	"github.com/roach88/syncmap/internal/value"
)

// Kind classifies store errors.
type Kind int

const (
	// KindNotFound: the entity or channel does not exist, or was deleted.
	KindNotFound Kind = iota + 1

	// KindAccessDenied: the server rejected a subscription for authorization.
	KindAccessDenied

	// KindServer: generic server-side rejection with a reason.
	KindServer

	// KindTransport: no response was received. Retry-eligible.
	KindTransport

	// KindInit: the template's setup failed. The store must be recreated.
	KindInit
)

// String returns the error class name exposed to presentation layers.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFoundError"
	case KindAccessDenied:
		return "AccessDeniedError"
	case KindServer:
		return "ServerError"
	case KindTransport:
		return "TransportError"
	case KindInit:
		return "InitError"
	default:
		return "UnknownError"
	}
}

// HTTPStatus maps a kind to the status code error pages are keyed by.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return 404
	case KindAccessDenied:
		return 403
	case KindTransport:
		return 503
	case KindInit:
		return 400
	default:
		return 500
	}
}

// Error is the error value carried by stores, filters and rejected changes.
// It is never thrown at the caller; it is observed through Store.Err,
// Store.LastUndo, FilterStore.Err and Mutation.Err.
type Error struct {
	Kind Kind

	// Reason is the server's undo reason ("notFound", "denied", "error", or
	// an application-specific string).
	Reason string

	// Channel is set for subscription errors.
	Channel string

	// Action is the type of the rejected action, if any.
	Action string

	// Payload carries optional server-supplied data.
	Payload value.Map

	// Err is the underlying cause for transport and init errors.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	switch {
	case e.Channel != "":
		msg += fmt.Sprintf(" (channel=%s)", e.Channel)
	case e.Action != "":
		msg += fmt.Sprintf(" (action=%s)", e.Action)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code for the error kind.
func (e *Error) HTTPStatus() int {
	return e.Kind.HTTPStatus()
}

// Retryable reports whether the store may recover through Retry.
// Init errors are fatal for the store instance.
func (e *Error) Retryable() bool {
	return e.Kind != KindInit
}

// UndoError builds the error for a server undo with the given reason.
func UndoError(reason, channel, actionType string) *Error {
	kind := KindServer
	switch reason {
	case action.ReasonNotFound:
		kind = KindNotFound
	case action.ReasonDenied:
		kind = KindAccessDenied
	}
	return &Error{Kind: kind, Reason: reason, Channel: channel, Action: actionType}
}

// NotFoundError builds a not-found error for a channel with no data.
func NotFoundError(channel string) *Error {
	return &Error{Kind: KindNotFound, Reason: action.ReasonNotFound, Channel: channel}
}

// TransportError wraps a failure to reach the server.
func TransportError(err error) *Error {
	return &Error{Kind: KindTransport, Err: err}
}

// InitError wraps a template setup failure.
func InitError(err error) *Error {
	return &Error{Kind: KindInit, Err: err}
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Classify converts any error returned by a Client into an *Error.
// Unclassified errors are transport failures.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return TransportError(err)
}

func isKind(err error, k Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == k
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsAccessDenied reports whether err is an access-denied error.
func IsAccessDenied(err error) bool { return isKind(err, KindAccessDenied) }

// IsServer reports whether err is a generic server rejection.
func IsServer(err error) bool { return isKind(err, KindServer) }

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool { return isKind(err, KindTransport) }

// IsInit reports whether err is a store initialization failure.
func IsInit(err error) bool { return isKind(err, KindInit) }
