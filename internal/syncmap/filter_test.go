package syncmap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncmap/internal/action"
	"github.com/roach88/syncmap/internal/syncmap"
	"github.com/roach88/syncmap/internal/value"
)

func createPosts(e *env, tpl *syncmap.Template) {
	e.reg.Create(tpl, "1", value.Map{"projectId": num(1), "title": str("Y")})
	e.reg.Create(tpl, "2", value.Map{"projectId": num(2), "title": str("Y")})
	e.reg.Create(tpl, "3", value.Map{"projectId": num(1), "title": str("A")})
}

func byProject(id int64) syncmap.Where {
	return syncmap.Where{"projectId": num(id)}
}

func TestFilter_MembershipAndPredicateSwitch(t *testing.T) {
	e := newEnv(t)
	posts := syncmap.NewTemplate("posts", syncmap.WithoutRemote())
	createPosts(e, posts)

	f := e.reg.Filter(posts, byProject(1), syncmap.FilterOptions{})
	e.drain()
	assert.False(t, f.IsLoading())
	assert.Equal(t, []string{"1", "3"}, f.IDs())

	var events []syncmap.FilterEvent
	f.Listen(func(ev syncmap.FilterEvent) { events = append(events, ev) })

	e.reg.ChangeByID(posts, "3", "title", str("B"))
	e.drain()
	assert.Equal(t, []syncmap.FilterEvent{{Kind: syncmap.FilterUpdated, ID: "3", Index: 1}}, events,
		"a field change of a member is one update, not a remove and re-add")
	assert.Equal(t, str("B"), f.List()[1].Fields["title"])

	f.SetPredicate(byProject(2))
	e.drain()
	assert.Equal(t, []string{"2"}, f.IDs())

	f.SetPredicate(byProject(1))
	e.drain()
	assert.Equal(t, []string{"1", "3"}, f.IDs())
}

func TestFilter_BindPredicateRescans(t *testing.T) {
	e := newEnv(t)
	posts := syncmap.NewTemplate("posts", syncmap.WithoutRemote())
	createPosts(e, posts)

	var pred syncmap.Predicate = byProject(1)
	sig := syncmap.NewSignal(pred)
	f := e.reg.Filter(posts, sig.Get(), syncmap.FilterOptions{})
	f.BindPredicate(sig)

	sig.Set(byProject(2))
	assert.Equal(t, []string{"2"}, f.IDs())

	sig.Set(syncmap.PredicateFunc(func(fields value.Map) bool {
		return value.Equal(fields["title"], str("Y"))
	}))
	assert.Equal(t, []string{"1", "2"}, f.IDs())
}

func TestFilter_EntityLeavesAndJoins(t *testing.T) {
	e := newEnv(t)
	posts := syncmap.NewTemplate("posts", syncmap.WithoutRemote())
	createPosts(e, posts)
	f := e.reg.Filter(posts, byProject(1), syncmap.FilterOptions{})

	e.reg.ChangeByID(posts, "1", "projectId", num(2))
	assert.Equal(t, []string{"3"}, f.IDs())

	e.reg.ChangeByID(posts, "2", "projectId", num(1))
	assert.Equal(t, []string{"3", "2"}, f.IDs())

	e.reg.Create(posts, "4", value.Map{"projectId": num(1)})
	assert.Equal(t, []string{"3", "2", "4"}, f.IDs())
}

func TestFilter_SortedMembers(t *testing.T) {
	e := newEnv(t)
	posts := syncmap.NewTemplate("posts", syncmap.WithoutRemote())
	e.reg.Create(posts, "1", value.Map{"title": str("b")})
	e.reg.Create(posts, "2", value.Map{"title": str("a")})
	e.reg.Create(posts, "3", value.Map{"title": str("c")})

	asc := e.reg.Filter(posts, syncmap.Where{}, syncmap.FilterOptions{SortBy: syncmap.SortBy("title")})
	desc := e.reg.Filter(posts, syncmap.Where{}, syncmap.FilterOptions{SortBy: syncmap.SortBy("title"), Descending: true})
	assert.Equal(t, []string{"2", "1", "3"}, asc.IDs())
	assert.Equal(t, []string{"3", "1", "2"}, desc.IDs())

	var events []syncmap.FilterEvent
	asc.Listen(func(ev syncmap.FilterEvent) { events = append(events, ev) })

	e.reg.ChangeByID(posts, "3", "title", str("0"))
	assert.Equal(t, []string{"3", "2", "1"}, asc.IDs())
	assert.Equal(t, []syncmap.FilterEvent{{Kind: syncmap.FilterUpdated, ID: "3", Index: 0}}, events)
	assert.Equal(t, []string{"1", "2", "3"}, desc.IDs())
}

func TestFilter_RemoteChannel(t *testing.T) {
	e := newEnv(t)
	posts := syncmap.NewTemplate("posts")
	e.srv.Seed("posts", "1", value.Map{"projectId": num(1), "title": str("Y")}, 1)
	e.srv.Seed("posts", "2", value.Map{"projectId": num(2), "title": str("Y")}, 2)
	e.srv.Seed("posts", "3", value.Map{"projectId": num(1), "title": str("A")}, 3)

	f := e.reg.Filter(posts, byProject(1), syncmap.FilterOptions{})
	assert.True(t, f.IsLoading())
	assert.False(t, f.IsEmpty())

	e.drain()
	assert.False(t, f.IsLoading())
	assert.Equal(t, []string{"1", "3"}, f.IDs())
	assert.Equal(t, 1, e.reg.Channels().Owners("posts", value.Map{"projectId": num(1)}))

	e.srv.Push(action.Changed("posts", "2", value.Map{"projectId": num(1)}), 10)
	e.drain()
	assert.Equal(t, []string{"1", "3", "2"}, f.IDs())

	e.srv.Push(action.Deleted("posts", "1"), 11)
	e.drain()
	assert.Equal(t, []string{"3", "2"}, f.IDs())
	assert.Empty(t, f.Errors(), "deleted entities leave the filter entirely")
}

func TestFilter_EmptyAfterLoad(t *testing.T) {
	e := newEnv(t)
	posts := syncmap.NewTemplate("posts")

	f := e.reg.Filter(posts, byProject(7), syncmap.FilterOptions{})
	assert.False(t, f.IsEmpty())
	e.drain()
	assert.True(t, f.IsEmpty())
}

func TestFilter_FailedCandidatesGoToErrors(t *testing.T) {
	e := newEnv(t)
	posts := syncmap.NewTemplate("posts")

	e.reg.Get(posts, "9")
	f := e.reg.Filter(posts, syncmap.Where{}, syncmap.FilterOptions{})
	e.drain()

	assert.Empty(t, f.IDs())
	require.Contains(t, f.Errors(), "9")
	assert.True(t, syncmap.IsNotFound(f.Errors()["9"]))
}

func TestFilter_ChannelErrorReachesFilter(t *testing.T) {
	e := newEnv(t)
	posts := syncmap.NewTemplate("posts")
	e.srv.DenyChannel("posts", action.ReasonDenied)

	f := e.reg.Filter(posts, byProject(1), syncmap.FilterOptions{})
	e.drain()

	assert.False(t, f.IsLoading())
	require.NotNil(t, f.Err())
	assert.True(t, syncmap.IsAccessDenied(f.Err()))
	assert.Equal(t, "posts", f.Err().Channel)
}

func TestFilter_ChangeOfUntrackedEntityPullsItIn(t *testing.T) {
	e := newEnv(t)
	posts := syncmap.NewTemplate("posts")
	e.srv.Seed("posts", "5", value.Map{"title": str("A")}, 5)

	f := e.reg.Filter(posts, syncmap.Where{"title": str("X")}, syncmap.FilterOptions{})
	e.drain()
	require.True(t, f.IsEmpty())

	e.reg.ChangeByID(posts, "5", "title", str("X"))
	e.drain()

	assert.Equal(t, []string{"5"}, f.IDs())
}

func TestFilter_DeletedMemberLeaves(t *testing.T) {
	e := newEnv(t)
	posts := syncmap.NewTemplate("posts", syncmap.WithoutRemote())
	createPosts(e, posts)
	f := e.reg.Filter(posts, byProject(1), syncmap.FilterOptions{})
	e.drain()

	e.reg.Delete(posts, "1")
	assert.Equal(t, []string{"3"}, f.IDs())
	e.drain()
	assert.Equal(t, []string{"3"}, f.IDs())
	assert.Empty(t, f.Errors())

	s, _ := e.reg.Lookup(posts, "1")
	assert.Equal(t, 0, s.Handles(), "the filter stops tracking a confirmed deletion")
}

func TestFilter_RejectedDeleteRejoins(t *testing.T) {
	e := newEnv(t)
	posts := syncmap.NewTemplate("posts")
	e.srv.Seed("posts", "1", value.Map{"projectId": num(1)}, 1)
	e.srv.Seed("posts", "3", value.Map{"projectId": num(1)}, 3)
	f := e.reg.Filter(posts, byProject(1), syncmap.FilterOptions{})
	e.drain()
	require.Equal(t, []string{"1", "3"}, f.IDs())

	e.srv.UndoNext(action.ReasonDenied)
	e.reg.Delete(posts, "1")
	assert.Equal(t, []string{"3"}, f.IDs())

	e.drain()
	assert.Equal(t, []string{"3", "1"}, f.IDs())
}

func TestFilter_CloseReleasesStores(t *testing.T) {
	e := newEnv(t)
	posts := syncmap.NewTemplate("posts", syncmap.WithoutRemote())
	createPosts(e, posts)
	e.drain()

	f := e.reg.Filter(posts, byProject(1), syncmap.FilterOptions{})
	s, _ := e.reg.Lookup(posts, "2")
	assert.Equal(t, 1, s.Handles(), "non-matching candidates are held too")

	f.Close()
	assert.Equal(t, 0, s.Handles())
	assert.Equal(t, 0, f.Len())

	f.SetPredicate(byProject(2))
	assert.Equal(t, 0, f.Len(), "a closed filter ignores predicate changes")
}
