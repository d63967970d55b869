package syncmap

import "github.com/roach88/syncmap/internal/value"

// Template describes one kind of entity: its plural name (action and
// channel namespace), where it loads from, and its local defaults.
type Template struct {
	plural   string
	offline  bool
	remote   bool
	defaults value.Map
	init     func(id string) error
}

// TemplateOption configures a Template.
type TemplateOption func(*Template)

// WithOffline makes stores read from and write to the local Cache.
func WithOffline() TemplateOption {
	return func(t *Template) { t.offline = true }
}

// WithoutRemote keeps actions local: nothing is sent to the server and no
// channels are subscribed. Local changes confirm immediately.
func WithoutRemote() TemplateOption {
	return func(t *Template) { t.remote = false }
}

// WithDefaults sets the field values a store shows while loading.
func WithDefaults(defaults value.Map) TemplateOption {
	return func(t *Template) { t.defaults = defaults.Clone() }
}

// WithInit sets setup logic run when a store is constructed.
// A returned error puts the store in a fatal InitError state.
func WithInit(fn func(id string) error) TemplateOption {
	return func(t *Template) { t.init = fn }
}

// NewTemplate creates a remote, non-offline template unless options say otherwise.
func NewTemplate(plural string, opts ...TemplateOption) *Template {
	t := &Template{plural: plural, remote: true}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Plural returns the template's namespace, e.g. "posts".
func (t *Template) Plural() string { return t.plural }

// Offline reports whether the template uses the local cache.
func (t *Template) Offline() bool { return t.offline }

// Remote reports whether the template syncs with the server.
func (t *Template) Remote() bool { return t.remote }

// Defaults returns a copy of the loading-state defaults.
func (t *Template) Defaults() value.Map { return t.defaults.Clone() }
