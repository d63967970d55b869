package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Value is a sealed interface over the field values a synced entity may hold.
// Only Null, String, Int, Bool, List, and Map implement it.
//
// Floats are deliberately absent: field values take part in last-writer-wins
// comparisons and subscription keys, both of which must be deterministic.
type Value interface {
	value()
}

// Null is an explicit null field value.
type Null struct{}

func (Null) value() {}

// MarshalJSON implements json.Marshaler.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a string field value.
type String string

func (String) value() {}

// Int is an integer field value.
type Int int64

func (Int) value() {}

// Bool is a boolean field value.
type Bool bool

func (Bool) value() {}

// List is an ordered list of values.
type List []Value

func (List) value() {}

// Map maps field names to values. Entity fields, action payloads and
// filter arguments are all Maps.
type Map map[string]Value

func (Map) value() {}

// SortedKeys returns the map keys in canonical (UTF-16 code unit) order.
func (m Map) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}

// Clone returns a deep copy of the map. A nil map clones to an empty map.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge returns a copy of m with every key of other written over it.
func (m Map) Merge(other Map) Map {
	out := m.Clone()
	for k, v := range other {
		out[k] = cloneValue(v)
	}
	return out
}

// Matches reports whether every key of where is present in m with an equal value.
// An empty where matches everything.
func (m Map) Matches(where Map) bool {
	for k, want := range where {
		got, ok := m[k]
		if !ok || !Equal(got, want) {
			return false
		}
	}
	return true
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case List:
		out := make(List, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case Map:
		return val.Clone()
	default:
		return v
	}
}

// Equal reports whether two values are structurally equal.
// A nil Value equals Null.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

// rank orders value kinds: null < bool < int < string < list < map.
func rank(v Value) int {
	switch v.(type) {
	case nil, Null:
		return 0
	case Bool:
		return 1
	case Int:
		return 2
	case String:
		return 3
	case List:
		return 4
	case Map:
		return 5
	default:
		return 6
	}
}

// Compare defines a total order over values, used by filter comparators.
// Values of different kinds order by kind; same kinds compare naturally.
func Compare(a, b Value) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch av := a.(type) {
	case Bool:
		bv := b.(Bool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		default:
			return 1
		}
	case Int:
		bv := b.(Int)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case String:
		return strings.Compare(string(av), string(b.(String)))
	case List:
		bv := b.(List)
		for i := 0; i < len(av) && i < len(bv); i++ {
			if c := Compare(av[i], bv[i]); c != 0 {
				return c
			}
		}
		return compareInts(len(av), len(bv))
	case Map:
		bv := b.(Map)
		ak, bk := av.SortedKeys(), bv.SortedKeys()
		for i := 0; i < len(ak) && i < len(bk); i++ {
			if c := compareKeys(ak[i], bk[i]); c != 0 {
				return c
			}
			if c := Compare(av[ak[i]], bv[bk[i]]); c != 0 {
				return c
			}
		}
		return compareInts(len(ak), len(bk))
	}
	return 0
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// FromAny converts decoded YAML/JSON data into a Value.
// Floats with an integral value are accepted as Int; other floats are rejected.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		return Int(int64(val)), nil
	case float64:
		if val != float64(int64(val)) {
			return nil, fmt.Errorf("floats are not supported: %v", val)
		}
		return Int(int64(val)), nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("floats are not supported: %s", val)
		}
		return Int(n), nil
	case []any:
		out := make(List, len(val))
		for i, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			out[i] = conv
		}
		return out, nil
	case map[string]any:
		return MapFromAny(val)
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// MapFromAny converts a decoded object into a Map.
func MapFromAny(m map[string]any) (Map, error) {
	out := make(Map, len(m))
	for k, elem := range m {
		conv, err := FromAny(elem)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = conv
	}
	return out, nil
}

// ToAny converts a Value back into plain Go data (for YAML/JSON output).
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Map:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	}
	return nil
}

// MarshalJSON implements json.Marshaler with keys in canonical order.
func (m Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := Marshal(m[k])
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", k, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	conv, err := MapFromAny(raw)
	if err != nil {
		return err
	}
	*m = conv
	return nil
}

// Marshal encodes any Value as JSON (not canonical; see MarshalCanonical).
func Marshal(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Bool:
		return json.Marshal(bool(val))
	case List:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := Marshal(elem)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case Map:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown value type: %T", v)
	}
}

// Unmarshal decodes JSON into a Value.
func Unmarshal(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}
