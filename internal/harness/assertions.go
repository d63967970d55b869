package harness

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/syncmap/internal/syncmap"
	"github.com/roach88/syncmap/internal/value"
)

// AssertionError is a failed expectation with what was expected and what
// was observed.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// checkStore compares a store against expect. Only the set fields of
// expect are checked.
func checkStore(s *syncmap.Store, expect *Expect) []error {
	var errs []error
	fail := func(typ, expected, actual string) {
		errs = append(errs, &AssertionError{Type: typ, Expected: expected, Actual: actual})
	}

	if expect.Status != "" && s.Status().String() != expect.Status {
		fail("status", expect.Status, s.Status().String())
	}
	if expect.Error != "" {
		got := "none"
		if e := s.Err(); e != nil {
			got = e.Kind.String()
		}
		if got != expect.Error {
			fail("error", expect.Error, got)
		}
	}

	for _, name := range slices.Sorted(maps.Keys(expect.Fields)) {
		want, err := value.FromAny(expect.Fields[name])
		if err != nil {
			fail("field "+name, "a supported value", err.Error())
			continue
		}
		got, ok := s.Get(name)
		if !ok {
			fail("field "+name, formatValue(want), "missing")
			continue
		}
		if !value.Equal(got, want) {
			fail("field "+name, formatValue(want), formatValue(got))
		}
	}
	for _, name := range expect.Missing {
		if got, ok := s.Get(name); ok {
			fail("field "+name, "missing", formatValue(got))
		}
	}
	return errs
}

// checkFilter compares a filter against expect.
func checkFilter(f *syncmap.FilterStore, expect *Expect) []error {
	var errs []error
	fail := func(typ, expected, actual string) {
		errs = append(errs, &AssertionError{Type: typ, Expected: expected, Actual: actual})
	}

	ids := f.IDs()
	if expect.IDs != nil && !slices.Equal(ids, expect.IDs) {
		fail("ids", formatIDs(expect.IDs), formatIDs(ids))
	}
	if expect.Empty && !f.IsEmpty() {
		fail("empty", "an empty loaded filter", fmt.Sprintf("loading=%t ids=%s", f.IsLoading(), formatIDs(ids)))
	}
	if expect.Loading != nil && f.IsLoading() != *expect.Loading {
		fail("loading", fmt.Sprint(*expect.Loading), fmt.Sprint(f.IsLoading()))
	}
	if expect.Error != "" {
		got := "none"
		if e := f.Err(); e != nil {
			got = e.Kind.String()
		}
		if got != expect.Error {
			fail("error", expect.Error, got)
		}
	}
	if expect.Errors != nil {
		failed := slices.Sorted(maps.Keys(f.Errors()))
		want := slices.Sorted(slices.Values(expect.Errors))
		if !slices.Equal(failed, want) {
			fail("errors", formatIDs(want), formatIDs(failed))
		}
	}
	return errs
}

func formatValue(v value.Value) string {
	data, err := value.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func formatIDs(ids []string) string {
	return "[" + strings.Join(ids, ",") + "]"
}
