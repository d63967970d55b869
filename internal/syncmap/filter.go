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

// Predicate selects the entities of a filter.
type Predicate interface {
	Match(fields value.Map) bool
}

// Where matches entities whose fields equal every key/value pair. It is
// also sent to the server as the channel filter.
type Where value.Map

// Match implements Predicate.
func (w Where) Match(fields value.Map) bool {
	return fields.Matches(value.Map(w))
}

// PredicateFunc is a local-only predicate. Filters with a PredicateFunc
// subscribe to the whole plural channel.
type PredicateFunc func(fields value.Map) bool

// Match implements Predicate.
func (p PredicateFunc) Match(fields value.Map) bool {
	return p(fields)
}

// Comparator orders filter members by their visible fields.
type Comparator func(a, b value.Map) int

// SortBy orders by one field. Entities missing the field sort first.
func SortBy(name string) Comparator {
	return func(a, b value.Map) int {
		av, ok := a[name]
		if !ok {
			av = value.Null{}
		}
		bv, ok := b[name]
		if !ok {
			bv = value.Null{}
		}
		return value.Compare(av, bv)
	}
}

// FilterOptions configures member ordering. Without SortBy, members keep
// the order in which they were found.
type FilterOptions struct {
	SortBy     Comparator
	Descending bool
}

// FilterEventKind identifies a FilterEvent.
type FilterEventKind int

const (
	FilterAdded FilterEventKind = iota
	FilterRemoved
	FilterUpdated
	FilterErrored
	FilterStatus
	FilterReset
)

func (k FilterEventKind) String() string {
	switch k {
	case FilterAdded:
		return "added"
	case FilterRemoved:
		return "removed"
	case FilterUpdated:
		return "updated"
	case FilterErrored:
		return "errored"
	case FilterStatus:
		return "status"
	case FilterReset:
		return "reset"
	default:
		return "unknown"
	}
}

// FilterEvent describes one change of a FilterStore.
// Index is the member position after the change (before it, for removals).
type FilterEvent struct {
	Kind  FilterEventKind
	ID    string
	Index int
}

type tracked struct {
	h      *Handle
	cancel func()
	member bool
}

// FilterStore is a live, ordered view over the loaded stores of one
// template that satisfy a Predicate. It holds a handle on every candidate
// store, loaded or not, so they stay alive while the filter is open.
type FilterStore struct {
	reg  *Registry
	tpl  *Template
	pred Predicate
	opts FilterOptions

	tracked map[string]*tracked
	members []*Store
	errs    map[string]*Error

	loading bool
	err     *Error
	gen     int
	waiting int
	sub     *SubscriptionHandle

	obs      observers[FilterEvent]
	unlisten func()
	unbind   func()
	closed   bool
}

func newFilterStore(reg *Registry, tpl *Template, pred Predicate, opts FilterOptions) *FilterStore {
	return &FilterStore{
		reg:     reg,
		tpl:     tpl,
		pred:    pred,
		opts:    opts,
		tracked: make(map[string]*tracked),
		errs:    make(map[string]*Error),
	}
}

// Predicate returns the current predicate.
func (f *FilterStore) Predicate() Predicate { return f.pred }

// IsLoading reports whether the cache probe or the channel subscription of
// the current scan has not finished yet.
func (f *FilterStore) IsLoading() bool { return f.loading }

// IsEmpty reports whether the filter finished loading with no members.
func (f *FilterStore) IsEmpty() bool { return !f.loading && len(f.members) == 0 }

// Err returns the filter-level subscription error, if any.
func (f *FilterStore) Err() *Error { return f.err }

// Len returns the number of members.
func (f *FilterStore) Len() int { return len(f.members) }

// IDs returns member IDs in order.
func (f *FilterStore) IDs() []string {
	ids := make([]string, len(f.members))
	for i, s := range f.members {
		ids[i] = s.id
	}
	return ids
}

// Stores returns the member stores in order.
func (f *FilterStore) Stores() []*Store {
	return slices.Clone(f.members)
}

// List returns member snapshots in order.
func (f *FilterStore) List() []Snapshot {
	out := make([]Snapshot, len(f.members))
	for i, s := range f.members {
		out[i] = s.Snapshot()
	}
	return out
}

// Errors returns the errors of candidate stores that failed to load,
// keyed by entity ID. They are never members.
func (f *FilterStore) Errors() map[string]*Error {
	return maps.Clone(f.errs)
}

// Listen registers fn for every future FilterEvent.
func (f *FilterStore) Listen(fn func(FilterEvent)) (cancel func()) {
	return f.obs.add(fn)
}

// SetPredicate replaces the predicate and rescans from scratch: tracking
// is discarded, members are rebuilt from the registry in creation order,
// then from the cache and the server.
func (f *FilterStore) SetPredicate(p Predicate) {
	if f.closed {
		return
	}
	f.teardown()
	f.pred = p
	f.notify(FilterEvent{Kind: FilterReset, Index: -1})
	f.scan()
}

// BindPredicate rescans whenever sig changes.
func (f *FilterStore) BindPredicate(sig *Signal[Predicate]) {
	if f.unbind != nil {
		f.unbind()
	}
	f.unbind = sig.Listen(f.SetPredicate)
}

// Close releases every tracked store and the channel subscription.
func (f *FilterStore) Close() {
	if f.closed {
		return
	}
	f.teardown()
	f.closed = true
	if f.unlisten != nil {
		f.unlisten()
		f.unlisten = nil
	}
	if f.unbind != nil {
		f.unbind()
		f.unbind = nil
	}
	delete(f.reg.filters, f)
}

func (f *FilterStore) notify(ev FilterEvent) {
	f.obs.notify(ev)
}

func (f *FilterStore) serverFilter() value.Map {
	if w, ok := f.pred.(Where); ok && len(w) > 0 {
		return value.Map(w)
	}
	return nil
}

func (f *FilterStore) scan() {
	f.gen++
	gen := f.gen
	f.loading, f.err, f.waiting = true, nil, 0
	if f.unlisten == nil {
		f.unlisten = f.reg.onEntity(f.tpl.plural, f.onEntity)
	}

	for _, s := range f.reg.ordered(f.tpl.plural) {
		f.track(s)
	}

	if f.tpl.offline && f.reg.cache != nil {
		f.waiting++
		cache, plural := f.reg.cache, f.tpl.plural
		f.reg.loop.Async(func() loop.Task {
			entries, err := cache.List(context.Background(), plural)
			return func() { f.cacheListed(gen, entries, err) }
		})
	}
	if f.tpl.remote {
		f.waiting++
		f.sub = f.reg.channels.Open(f.tpl.plural, f.serverFilter(),
			func() { f.sourceDone(gen) },
			func(err *Error) { f.failed(gen, err) },
		)
	}
	if f.waiting == 0 {
		f.loading = false
		f.notify(FilterEvent{Kind: FilterStatus, Index: -1})
	}
}

func (f *FilterStore) cacheListed(gen int, entries []CacheEntry, err error) {
	if f.closed || gen != f.gen {
		return
	}
	if err != nil {
		slog.Warn("cache list failed", "plural", f.tpl.plural, "error", err)
	}
	for _, e := range entries {
		if _, ok := f.tracked[e.ID]; ok {
			continue
		}
		f.track(f.reg.adopt(f.tpl, e.ID, e.Fields, e.Seq))
	}
	f.sourceDone(gen)
}

func (f *FilterStore) sourceDone(gen int) {
	if f.closed || gen != f.gen || !f.loading {
		return
	}
	f.waiting--
	if f.waiting > 0 {
		return
	}
	f.loading = false
	f.notify(FilterEvent{Kind: FilterStatus, Index: -1})
}

func (f *FilterStore) failed(gen int, err *Error) {
	if f.closed || gen != f.gen {
		return
	}
	slog.Debug("filter subscription failed", "plural", f.tpl.plural, "error", err.Error())
	f.err, f.loading = err, false
	f.notify(FilterEvent{Kind: FilterStatus, Index: -1})
}

func (f *FilterStore) teardown() {
	for _, id := range slices.Sorted(maps.Keys(f.tracked)) {
		t := f.tracked[id]
		t.cancel()
		t.h.Release()
	}
	if n := len(f.members); n > 0 {
		f.reg.metrics.FilterMembers(f.tpl.plural, -n)
	}
	clear(f.tracked)
	clear(f.errs)
	f.members = nil
	if f.sub != nil {
		f.sub.Close()
		f.sub = nil
	}
	f.gen++
}

// onEntity picks up entities that appeared after the scan started.
func (f *FilterStore) onEntity(ev EntityEvent) {
	if f.closed {
		return
	}
	if _, ok := f.tracked[ev.ID]; ok {
		return
	}
	switch {
	case ev.Store != nil:
		if !ev.Store.deleted && !ev.Store.destroyed {
			f.track(ev.Store)
		}
	case ev.Verb == action.VerbCreated || ev.Verb == action.VerbCreate:
		f.track(f.reg.adopt(f.tpl, ev.ID, ev.Fields, ev.Seq))
	case ev.Verb == action.VerbChanged || ev.Verb == action.VerbChange:
		if f.mightMatch(ev.Fields) {
			f.trackHandle(f.reg.Get(f.tpl, ev.ID))
		}
	}
}

// mightMatch reports whether a partial field set could make an untracked
// entity a member.
func (f *FilterStore) mightMatch(fields value.Map) bool {
	if w, ok := f.pred.(Where); ok {
		for k, want := range w {
			got, ok := fields[k]
			if !ok || !value.Equal(got, want) {
				return false
			}
		}
		return true
	}
	return f.pred.Match(fields)
}

func (f *FilterStore) track(s *Store) {
	if _, ok := f.tracked[s.id]; ok || s.destroyed {
		return
	}
	f.trackHandle(f.reg.retain(s))
}

func (f *FilterStore) trackHandle(h *Handle) {
	s := h.store
	if _, ok := f.tracked[s.id]; ok {
		h.Release()
		return
	}
	t := &tracked{h: h}
	t.cancel = s.Listen(func(ev Event) { f.evaluate(s, ev.Changed) })
	f.tracked[s.id] = t
	f.evaluate(s, nil)
}

func (f *FilterStore) untrack(id string) {
	t, ok := f.tracked[id]
	if !ok {
		return
	}
	if t.member {
		f.removeMember(t)
	}
	delete(f.errs, id)
	delete(f.tracked, id)
	t.cancel()
	t.h.Release()
}

// evaluate brings the membership of one tracked store up to date.
// A member whose fields changed but still matches produces one
// FilterUpdated event.
func (f *FilterStore) evaluate(s *Store, changed []string) {
	t, ok := f.tracked[s.id]
	if !ok || f.closed {
		return
	}

	if s.deleted {
		// A pending local deletion may still be rolled back.
		if s.pending == 0 {
			f.untrack(s.id)
		} else if t.member {
			f.removeMember(t)
		}
		return
	}

	switch s.status {
	case StatusError:
		if t.member {
			f.removeMember(t)
		}
		if f.errs[s.id] != s.err {
			f.errs[s.id] = s.err
			f.notify(FilterEvent{Kind: FilterErrored, ID: s.id, Index: -1})
		}
		return
	case StatusLoading:
		if t.member {
			f.removeMember(t)
		}
		return
	}

	delete(f.errs, s.id)
	match := f.pred.Match(s.Fields())
	switch {
	case match && !t.member:
		f.insertMember(t)
	case !match && t.member:
		f.removeMember(t)
	case match && len(changed) > 0:
		f.updateMember(t)
	}
}

func (f *FilterStore) compare(a, b *Store) int {
	c := f.opts.SortBy(a.Fields(), b.Fields())
	if f.opts.Descending {
		c = -c
	}
	return c
}

// position returns where s belongs among the members. Equal elements keep
// their relative order.
func (f *FilterStore) position(s *Store) int {
	if f.opts.SortBy == nil {
		return len(f.members)
	}
	i, _ := slices.BinarySearchFunc(f.members, s, func(m, target *Store) int {
		if f.compare(m, target) <= 0 {
			return -1
		}
		return 1
	})
	return i
}

func (f *FilterStore) insertMember(t *tracked) {
	s := t.h.store
	i := f.position(s)
	f.members = slices.Insert(f.members, i, s)
	t.member = true
	f.reg.metrics.FilterMembers(f.tpl.plural, 1)
	f.notify(FilterEvent{Kind: FilterAdded, ID: s.id, Index: i})
}

func (f *FilterStore) removeMember(t *tracked) {
	s := t.h.store
	i := slices.Index(f.members, s)
	if i >= 0 {
		f.members = slices.Delete(f.members, i, i+1)
	}
	t.member = false
	f.reg.metrics.FilterMembers(f.tpl.plural, -1)
	f.notify(FilterEvent{Kind: FilterRemoved, ID: s.id, Index: i})
}

func (f *FilterStore) updateMember(t *tracked) {
	s := t.h.store
	i := slices.Index(f.members, s)
	if f.opts.SortBy != nil && i >= 0 {
		f.members = slices.Delete(f.members, i, i+1)
		i = f.position(s)
		f.members = slices.Insert(f.members, i, s)
	}
	f.notify(FilterEvent{Kind: FilterUpdated, ID: s.id, Index: i})
}
