package value

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	values := []Value{
		IntOf(0), IntOf(-17), IntOf(math.MaxInt64), IntOf(math.MinInt64),
		FloatOf(0), FloatOf(math.Copysign(0, -1)), FloatOf(2.5), FloatOf(1e21), FloatOf(-3.25e-9),
		FloatOf(math.Inf(1)), FloatOf(math.NaN()), FloatOf(0.1 + 0.2),
		StrOf(""), StrOf("  padded "), StrOf("héllo\nworld"),
		BoolOf(true), BoolOf(false),
	}
	for _, v := range values {
		got := Decode(Encode(v), v.Type())
		assert.Truef(t, got.Equal(v), "round trip of %s (%s) gave %s", Encode(v), v.Type(), Encode(got))
	}
}

func TestDecodeLenient(t *testing.T) {
	tests := []struct {
		in   string
		typ  Type
		want Value
	}{
		{"", Int, IntOf(0)},
		{"  42 ", Int, IntOf(42)},
		{"12abc", Int, IntOf(12)},
		{"3.7", Int, IntOf(3)},
		{"abc", Int, IntOf(0)},
		{"-8", Int, IntOf(-8)},
		{"99999999999999999999", Int, IntOf(0)},
		{"", Float, FloatOf(0)},
		{"2.5kg", Float, FloatOf(2.5)},
		{".5", Float, FloatOf(0.5)},
		{"1e3", Float, FloatOf(1000)},
		{"x", Float, FloatOf(0)},
		{"", Str, StrOf("")},
		{"true", Bool, BoolOf(true)},
		{"True", Bool, BoolOf(false)},
		{"", Bool, BoolOf(false)},
	}
	for _, tt := range tests {
		got := Decode(tt.in, tt.typ)
		assert.Truef(t, got.Equal(tt.want), "Decode(%q, %s) = %s, want %s", tt.in, tt.typ, got, tt.want)
	}
}

func TestDefault(t *testing.T) {
	assert.True(t, Default(Int).Equal(IntOf(0)))
	assert.True(t, Default(Float).Equal(FloatOf(0)))
	assert.True(t, Default(Str).Equal(StrOf("")))
	assert.True(t, Default(Bool).Equal(BoolOf(false)))
	assert.False(t, Default(Int).Equal(Default(Float)))
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"int", "float", "str", "bool"} {
		typ, err := ParseType(s)
		require.NoError(t, err)
		assert.Equal(t, Type(s), typ)
	}
	_, err := ParseType("list")
	assert.Error(t, err)
}

func TestConvert(t *testing.T) {
	assert.True(t, Convert(IntOf(3), Float).Equal(FloatOf(3)))
	assert.True(t, Convert(FloatOf(3.9), Int).Equal(IntOf(3)))
	assert.True(t, Convert(StrOf("17"), Int).Equal(IntOf(17)))
	assert.True(t, Convert(IntOf(0), Bool).Equal(BoolOf(false)))
	assert.True(t, Convert(IntOf(5), Bool).Equal(BoolOf(true)))
	assert.True(t, Convert(BoolOf(true), Str).Equal(StrOf("true")))
	assert.True(t, Convert(FloatOf(2.5), Str).Equal(StrOf("2.5")))
}

func TestJSONInference(t *testing.T) {
	var got []Value
	require.NoError(t, json.Unmarshal([]byte(`[5, 5.0, -1e2, "5", true, null]`), &got))
	require.Len(t, got, 6)
	assert.Equal(t, Int, got[0].Type())
	assert.Equal(t, Float, got[1].Type())
	assert.Equal(t, Float, got[2].Type())
	assert.Equal(t, Str, got[3].Type())
	assert.Equal(t, Bool, got[4].Type())
	assert.True(t, got[5].Equal(IntOf(0)))

	var v Value
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &v))
}

func TestMarshalJSON(t *testing.T) {
	data, err := json.Marshal(map[string]Value{"a": IntOf(2), "b": FloatOf(1.5), "c": StrOf("x"), "d": BoolOf(true)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2,"b":1.5,"c":"x","d":true}`, string(data))

	_, err = json.Marshal(FloatOf(math.NaN()))
	assert.Error(t, err)
}
