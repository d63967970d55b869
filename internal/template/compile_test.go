package template

import (
	"errors"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncmap/internal/loop"
	"github.com/roach88/syncmap/internal/syncmap"
	"github.com/roach88/syncmap/internal/testserver"
	"github.com/roach88/syncmap/internal/value"
)

func compileString(t *testing.T, src string) cue.Value {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return v
}

func TestCompileTemplates_Basic(t *testing.T) {
	v := compileString(t, `
		template: posts: {
			offline: true
			defaults: { title: "", views: 0, meta: { pinned: false }, tags: ["a"], owner: null }
		}
		template: notes: remote: false
	`)

	templates, err := CompileTemplates(v)
	require.NoError(t, err)
	require.Len(t, templates, 2)

	posts := templates[0]
	assert.Equal(t, "posts", posts.Plural())
	assert.True(t, posts.Offline())
	assert.True(t, posts.Remote())
	assert.Equal(t, value.Map{
		"title": value.String(""),
		"views": value.Int(0),
		"meta":  value.Map{"pinned": value.Bool(false)},
		"tags":  value.List{value.String("a")},
		"owner": value.Null{},
	}, posts.Defaults())

	notes := templates[1]
	assert.Equal(t, "notes", notes.Plural())
	assert.False(t, notes.Offline())
	assert.False(t, notes.Remote())
}

func TestCompileTemplates_None(t *testing.T) {
	templates, err := CompileTemplates(compileString(t, `other: 1`))
	require.NoError(t, err)
	assert.Empty(t, templates)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"float default", `template: posts: defaults: rating: 4.5`, "type"},
		{"unknown field", `template: posts: colour: "red"`, "colour"},
		{"non-bool offline", `template: posts: offline: "yes"`, "offline"},
		{"non-struct defaults", `template: posts: defaults: 3`, "defaults"},
		{"incomplete default", `template: posts: defaults: title: string`, "defaults"},
		{"bad pattern", `template: posts: idPattern: "("`, "idPattern"},
		{"slash in plural", `template: "a/b": {}`, "plural"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileTemplates(compileString(t, tt.src))
			require.Error(t, err)

			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %T: %v", err, err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompile_IDPatternBecomesInit(t *testing.T) {
	v := compileString(t, `template: notes: { remote: false, idPattern: "^[a-z]+$" }`)
	templates, err := CompileTemplates(v)
	require.NoError(t, err)
	require.Len(t, templates, 1)

	l := loop.New()
	reg := syncmap.New(l, testserver.New(l).Client("10"))
	defer reg.Close()

	bad := reg.Get(templates[0], "Not-Valid").Store()
	assert.True(t, syncmap.IsInit(bad.Err()))
	assert.False(t, bad.Err().Retryable())

	good := reg.Create(templates[0], "ok", value.Map{"text": value.String("hi")})
	l.Drain()
	assert.Equal(t, syncmap.ChangeConfirmed, good.State())
}
