// Package template compiles syncmap templates declared in CUE.
//
// A template file declares one struct per plural under "template":
//
//	template: posts: {
//		offline: true
//		defaults: { title: "", views: 0 }
//	}
//
//	template: notes: {
//		remote: false
//		idPattern: "^[a-z0-9-]+$"
//	}
//
// remote defaults to true and offline to false. idPattern, when set,
// rejects stores whose ID does not match with an InitError.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/syncmap/internal/syncmap"
	"github.com/roach88/syncmap/internal/value"
)

var knownFields = map[string]bool{
	"offline":   true,
	"remote":    true,
	"defaults":  true,
	"idPattern": true,
}

// CompileTemplates compiles every template under the "template" field of v,
// in declaration order.
func CompileTemplates(v cue.Value) ([]*syncmap.Template, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	root := v.LookupPath(cue.ParsePath("template"))
	if !root.Exists() {
		return nil, nil
	}

	iter, err := root.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []*syncmap.Template
	for iter.Next() {
		tpl, err := Compile(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, nil
}

// Compile builds the template for plural from its CUE struct.
func Compile(plural string, v cue.Value) (*syncmap.Template, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if plural == "" || strings.Contains(plural, "/") {
		return nil, &CompileError{
			Field:   "plural",
			Message: fmt.Sprintf("invalid plural %q: must be non-empty and contain no '/'", plural),
			Pos:     v.Pos(),
		}
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		if label := iter.Label(); !knownFields[label] {
			return nil, &CompileError{
				Field:   label,
				Message: fmt.Sprintf("unknown template field %q", label),
				Pos:     iter.Value().Pos(),
			}
		}
	}

	var opts []syncmap.TemplateOption

	offline, err := optionalBool(v, "offline", false)
	if err != nil {
		return nil, err
	}
	if offline {
		opts = append(opts, syncmap.WithOffline())
	}

	remote, err := optionalBool(v, "remote", true)
	if err != nil {
		return nil, err
	}
	if !remote {
		opts = append(opts, syncmap.WithoutRemote())
	}

	if d := v.LookupPath(cue.ParsePath("defaults")); d.Exists() {
		if d.IncompleteKind() != cue.StructKind {
			return nil, &CompileError{Field: "defaults", Message: "defaults must be a struct", Pos: d.Pos()}
		}
		conv, err := toValue(d)
		if err != nil {
			return nil, err
		}
		opts = append(opts, syncmap.WithDefaults(conv.(value.Map)))
	}

	if p := v.LookupPath(cue.ParsePath("idPattern")); p.Exists() {
		src, err := p.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, &CompileError{Field: "idPattern", Message: err.Error(), Pos: p.Pos()}
		}
		opts = append(opts, syncmap.WithInit(func(id string) error {
			if !re.MatchString(id) {
				return fmt.Errorf("id %q does not match %s", id, src)
			}
			return nil
		}))
	}

	return syncmap.NewTemplate(plural, opts...), nil
}

func optionalBool(v cue.Value, field string, def bool) (bool, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return def, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, &CompileError{Field: field, Message: field + " must be a bool", Pos: f.Pos()}
	}
	return b, nil
}

// toValue converts a concrete CUE value to a field value.
// Floats are forbidden; field values must compare deterministically.
func toValue(v cue.Value) (value.Value, error) {
	if !v.IsConcrete() {
		return nil, &CompileError{Field: "defaults", Message: "default values must be concrete", Pos: v.Pos()}
	}
	switch v.Kind() {
	case cue.NullKind:
		return value.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.Bool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.Int(n), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.String(s), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out := value.List{}
		for iter.Next() {
			elem, err := toValue(iter.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out := value.Map{}
		for iter.Next() {
			elem, err := toValue(iter.Value())
			if err != nil {
				return nil, err
			}
			out[iter.Label()] = elem
		}
		return out, nil
	case cue.FloatKind:
		return nil, &CompileError{
			Field:   "type",
			Message: "float values are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
