package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare_OrdersKindsThenValues(t *testing.T) {
	ordered := []Value{
		Null{},
		Bool(false),
		Bool(true),
		Int(-3),
		Int(7),
		String("A"),
		String("B"),
		List{Int(1)},
		List{Int(1), Int(2)},
		Map{"a": Int(1)},
	}

	for i := 0; i < len(ordered)-1; i++ {
		assert.Equal(t, -1, Compare(ordered[i], ordered[i+1]), "%v < %v", ordered[i], ordered[i+1])
		assert.Equal(t, 1, Compare(ordered[i+1], ordered[i]), "%v > %v", ordered[i+1], ordered[i])
	}
}

func TestEqual_NilIsNull(t *testing.T) {
	assert.True(t, Equal(nil, Null{}))
	assert.False(t, Equal(nil, String("")))
	assert.True(t, Equal(Map{"x": List{String("y")}}, Map{"x": List{String("y")}}))
	assert.False(t, Equal(Map{"x": Int(1)}, Map{"x": Int(1), "y": Int(2)}))
}

func TestMap_Matches(t *testing.T) {
	fields := Map{"projectId": String("1"), "title": String("Y")}

	assert.True(t, fields.Matches(nil))
	assert.True(t, fields.Matches(Map{"projectId": String("1")}))
	assert.False(t, fields.Matches(Map{"projectId": String("2")}))
	assert.False(t, fields.Matches(Map{"author": String("1")}))
}

func TestMap_CloneIsDeep(t *testing.T) {
	orig := Map{"tags": List{String("a")}, "meta": Map{"n": Int(1)}}
	clone := orig.Clone()

	clone["tags"].(List)[0] = String("b")
	clone["meta"].(Map)["n"] = Int(2)

	assert.Equal(t, String("a"), orig["tags"].(List)[0])
	assert.Equal(t, Int(1), orig["meta"].(Map)["n"])
}

func TestMap_Merge(t *testing.T) {
	base := Map{"a": Int(1), "b": Int(2)}
	merged := base.Merge(Map{"b": Int(3), "c": Int(4)})

	assert.Equal(t, Map{"a": Int(1), "b": Int(3), "c": Int(4)}, merged)
	assert.Equal(t, Int(2), base["b"], "merge must not mutate the receiver")
}

func TestFromAny(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    Value
		wantErr bool
	}{
		{name: "nil", in: nil, want: Null{}},
		{name: "string", in: "x", want: String("x")},
		{name: "int", in: 5, want: Int(5)},
		{name: "integral float", in: float64(2), want: Int(2)},
		{name: "fractional float", in: 2.5, wantErr: true},
		{name: "list", in: []any{"a", true}, want: List{String("a"), Bool(true)}},
		{name: "map", in: map[string]any{"k": 1}, want: Map{"k": Int(1)}},
		{name: "unsupported", in: struct{}{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMap_JSONRoundTripKeepsInts(t *testing.T) {
	in := Map{"big": Int(9007199254740993), "name": String("post")}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"big":9007199254740993,"name":"post"}`, string(data))

	var out Map
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestToAny(t *testing.T) {
	got := ToAny(Map{"a": List{Int(1), Null{}}, "b": Bool(true)})
	assert.Equal(t, map[string]any{"a": []any{int64(1), nil}, "b": true}, got)
}
