// Package value converts scalar test values between their text widget form,
// their JSON form and the typed representation used by the rest of algoprep.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Type is one of the scalar types a task signature may declare.
type Type string

const (
	Int   Type = "int"
	Float Type = "float"
	Str   Type = "str"
	Bool  Type = "bool"
)

// ParseType validates a declared type name.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.TrimSpace(s)); t {
	case Int, Float, Str, Bool:
		return t, nil
	default:
		return "", fmt.Errorf("unknown scalar type %q", s)
	}
}

// Value is a tagged scalar. The zero Value is an int 0.
type Value struct {
	typ Type
	i   int64
	f   float64
	s   string
	b   bool
}

func IntOf(i int64) Value     { return Value{typ: Int, i: i} }
func FloatOf(f float64) Value { return Value{typ: Float, f: f} }
func StrOf(s string) Value    { return Value{typ: Str, s: s} }
func BoolOf(b bool) Value     { return Value{typ: Bool, b: b} }

// Default returns the canonical empty value for t.
func Default(t Type) Value {
	switch t {
	case Float:
		return FloatOf(0)
	case Str:
		return StrOf("")
	case Bool:
		return BoolOf(false)
	default:
		return IntOf(0)
	}
}

func (v Value) Type() Type {
	if v.typ == "" {
		return Int
	}
	return v.typ
}

func (v Value) Int() int64     { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Str() string    { return v.s }
func (v Value) Bool() bool     { return v.b }

// Any returns the Go value carried by v.
func (v Value) Any() any {
	switch v.Type() {
	case Float:
		return v.f
	case Str:
		return v.s
	case Bool:
		return v.b
	default:
		return v.i
	}
}

// Equal reports whether v and o have the same type and value. NaN equals NaN.
func (v Value) Equal(o Value) bool {
	if v.Type() != o.Type() {
		return false
	}
	switch v.Type() {
	case Float:
		if math.IsNaN(v.f) && math.IsNaN(o.f) {
			return true
		}
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case Str:
		return v.s == o.s
	case Bool:
		return v.b == o.b
	default:
		return v.i == o.i
	}
}

func (v Value) String() string {
	data, err := json.Marshal(v)
	if err != nil {
		return Encode(v)
	}
	return string(data)
}

var (
	intPrefix   = regexp.MustCompile(`^[+-]?\d+`)
	floatPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
)

// Decode reads widget text as a value of type t. Malformed or empty numeric
// text never fails: it decodes to the longest valid numeric prefix, or to the
// type default when there is none.
func Decode(widget string, t Type) Value {
	switch t {
	case Str:
		return StrOf(widget)
	case Bool:
		return BoolOf(strings.TrimSpace(widget) == "true")
	case Float:
		s := strings.TrimSpace(widget)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return FloatOf(f)
		}
		if m := floatPrefix.FindString(s); m != "" {
			if f, err := strconv.ParseFloat(m, 64); err == nil {
				return FloatOf(f)
			}
		}
		return Default(Float)
	default:
		m := intPrefix.FindString(strings.TrimSpace(widget))
		if m == "" {
			return Default(Int)
		}
		i, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return Default(Int)
		}
		return IntOf(i)
	}
}

// Encode renders v as widget text.
func Encode(v Value) string {
	switch v.Type() {
	case Float:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case Str:
		return v.s
	case Bool:
		if v.b {
			return "true"
		}
		return "false"
	default:
		return strconv.FormatInt(v.i, 10)
	}
}

// Convert coerces v to type t.
func Convert(v Value, t Type) Value {
	if v.Type() == t {
		return v
	}
	switch t {
	case Int:
		switch v.Type() {
		case Float:
			if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
				return Default(Int)
			}
			return IntOf(int64(v.f))
		case Bool:
			if v.b {
				return IntOf(1)
			}
			return IntOf(0)
		}
	case Float:
		switch v.Type() {
		case Int:
			return FloatOf(float64(v.i))
		case Bool:
			if v.b {
				return FloatOf(1)
			}
			return FloatOf(0)
		}
	case Bool:
		switch v.Type() {
		case Int:
			return BoolOf(v.i != 0)
		case Float:
			return BoolOf(v.f != 0 && !math.IsNaN(v.f))
		case Str:
			return BoolOf(v.s == "true")
		}
	case Str:
		return StrOf(Encode(v))
	}
	return Decode(Encode(v), t)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.Type() == Float && (math.IsNaN(v.f) || math.IsInf(v.f, 0)) {
		return nil, fmt.Errorf("float %v has no JSON form", v.f)
	}
	return json.Marshal(v.Any())
}

// UnmarshalJSON infers the type from the JSON literal: integral number
// literals are ints, other numbers floats. null decodes to int 0.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	switch data[0] {
	case 'n':
		*v = Default(Int)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolOf(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StrOf(s)
		return nil
	case '[', '{':
		return fmt.Errorf("composite value %s is not a scalar", data)
	}
	lit := string(data)
	if !strings.ContainsAny(lit, ".eE") {
		if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
			*v = IntOf(i)
			return nil
		}
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return fmt.Errorf("parsing number %q: %w", lit, err)
	}
	*v = FloatOf(f)
	return nil
}

func (v Value) MarshalYAML() (any, error) {
	return v.Any(), nil
}
