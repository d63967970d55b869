// Package action defines the actions exchanged between the store engine and
// the sync layer.
//
// Entity actions are namespaced by the template's plural name:
//
//	posts/create   local request to create an entity
//	posts/created  server notification that an entity exists
//	posts/change   local request to change fields
//	posts/changed  server notification of changed fields
//	posts/delete   local request to delete an entity
//	posts/deleted  server notification of deletion
//
// Channel actions (logux/subscribe, logux/unsubscribe) open and close
// server-side subscriptions; logux/processed and logux/undo are the server's
// confirmation and rejection of a previously sent action.
package action

import (
	"fmt"
	"strings"

	"github.com/roach88/syncmap/internal/value"
)

// Channel action types.
const (
	TypeSubscribe   = "logux/subscribe"
	TypeUnsubscribe = "logux/unsubscribe"
	TypeProcessed   = "logux/processed"
	TypeUndo        = "logux/undo"
)

// Verb is the entity operation encoded in the second half of an action type.
type Verb string

const (
	VerbCreate  Verb = "create"
	VerbCreated Verb = "created"
	VerbChange  Verb = "change"
	VerbChanged Verb = "changed"
	VerbDelete  Verb = "delete"
	VerbDeleted Verb = "deleted"
)

// Undo reasons sent by the server when it rejects a subscription or action.
const (
	ReasonNotFound = "notFound"
	ReasonDenied   = "denied"
	ReasonError    = "error"
)

// Action is a single entry of the sync log.
type Action struct {
	Type string `json:"type"`

	// ID is the entity ID for entity actions.
	ID string `json:"id,omitempty"`

	// Fields carries created/changed field values.
	Fields value.Map `json:"fields,omitempty"`

	// Channel and Filter identify a subscription for channel actions.
	Channel string    `json:"channel,omitempty"`
	Filter  value.Map `json:"filter,omitempty"`

	// Reason is set on logux/undo.
	Reason string `json:"reason,omitempty"`
}

// Meta is the log metadata attached to every action.
type Meta struct {
	// ID uniquely identifies the action in the log.
	ID string `json:"id"`

	// Seq is the Lamport timestamp the action was stamped with.
	Seq int64 `json:"seq"`
}

// Type builds an entity action type such as "posts/changed".
func Type(plural string, verb Verb) string {
	return plural + "/" + string(verb)
}

// Split returns the plural and verb of an entity action type.
// ok is false for channel actions and malformed types.
func Split(actionType string) (plural string, verb Verb, ok bool) {
	if strings.HasPrefix(actionType, "logux/") {
		return "", "", false
	}
	i := strings.LastIndexByte(actionType, '/')
	if i <= 0 || i == len(actionType)-1 {
		return "", "", false
	}
	return actionType[:i], Verb(actionType[i+1:]), true
}

// Plural returns the plural part of an entity action type, or "".
func (a Action) Plural() string {
	p, _, _ := Split(a.Type)
	return p
}

// Verb returns the verb part of an entity action type, or "".
func (a Action) Verb() Verb {
	_, v, _ := Split(a.Type)
	return v
}

// Create builds a create action for an entity.
func Create(plural, id string, fields value.Map) Action {
	return Action{Type: Type(plural, VerbCreate), ID: id, Fields: fields}
}

// Created builds a created notification.
func Created(plural, id string, fields value.Map) Action {
	return Action{Type: Type(plural, VerbCreated), ID: id, Fields: fields}
}

// Change builds a change action for an entity.
func Change(plural, id string, fields value.Map) Action {
	return Action{Type: Type(plural, VerbChange), ID: id, Fields: fields}
}

// Changed builds a changed notification.
func Changed(plural, id string, fields value.Map) Action {
	return Action{Type: Type(plural, VerbChanged), ID: id, Fields: fields}
}

// Delete builds a delete action for an entity.
func Delete(plural, id string) Action {
	return Action{Type: Type(plural, VerbDelete), ID: id}
}

// Deleted builds a deleted notification.
func Deleted(plural, id string) Action {
	return Action{Type: Type(plural, VerbDeleted), ID: id}
}

// Subscribe builds a logux/subscribe action.
func Subscribe(channel string, filter value.Map) Action {
	return Action{Type: TypeSubscribe, Channel: channel, Filter: filter}
}

// Unsubscribe builds a logux/unsubscribe action.
func Unsubscribe(channel string, filter value.Map) Action {
	return Action{Type: TypeUnsubscribe, Channel: channel, Filter: filter}
}

// EntityChannel is the channel name of a single entity.
func EntityChannel(plural, id string) string {
	return plural + "/" + id
}

// ChannelPlural returns the plural a channel belongs to: the channel itself
// for plural channels, the part before "/" for entity channels.
func ChannelPlural(channel string) string {
	plural, _, _ := strings.Cut(channel, "/")
	return plural
}

// String implements fmt.Stringer for logs.
func (a Action) String() string {
	switch {
	case a.Channel != "":
		return fmt.Sprintf("%s %s", a.Type, a.Channel)
	case a.ID != "":
		return fmt.Sprintf("%s %s", a.Type, a.ID)
	default:
		return a.Type
	}
}
