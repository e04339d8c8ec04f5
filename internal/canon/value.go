package canon

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Kind discriminates the canonical value union.
type Kind int

const (
	KindEmpty Kind = iota
	KindText
	KindNum
	KindBool
	KindDate // ISO date string (YYYY-MM-DD)
	KindList
)

// Value is the canonical form of a field value from either system.
// All comparison, hashing, and projection logic operates on this type;
// raw wire shapes never reach the engine core.
type Value struct {
	Kind Kind
	Str  string  // KindText, KindDate
	Num  float64 // KindNum
	Bool bool    // KindBool
	List []Value // KindList, elements canonical and sorted
}

// Empty is the single collapsed form of null, "", undefined, and the
// missing-property case.
var Empty = Value{Kind: KindEmpty}

// TextValue returns a canonical text value; empty strings collapse to Empty.
func TextValue(s string) Value {
	if s == "" {
		return Empty
	}
	return Value{Kind: KindText, Str: s}
}

// NumValue returns a canonical numeric value.
func NumValue(f float64) Value {
	return Value{Kind: KindNum, Num: f}
}

// BoolValue returns a canonical boolean value.
func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// DateValue returns a canonical ISO date value; empty strings collapse to Empty.
func DateValue(iso string) Value {
	if iso == "" {
		return Empty
	}
	return Value{Kind: KindDate, Str: iso}
}

// ListValue canonicalizes the elements, drops empties, and sorts the result
// so element order never matters. Empty lists collapse to Empty and
// single-element lists do not unwrap.
func ListValue(elems []Value) Value {
	out := make([]Value, 0, len(elems))
	for _, e := range elems {
		if e.Kind == KindEmpty {
			continue
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return Empty
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Encode() < out[j].Encode() })
	return Value{Kind: KindList, List: out}
}

// Canonicalize converts a raw decoded value (from either system's wire
// shape) into canonical form. The rules:
//
//   - nil, "", empty arrays and empty objects collapse to Empty
//   - {text: x} and {name: x} objects unwrap to x
//   - arrays unwrap element-wise and are sorted
//   - numbers stay numeric, booleans stay boolean
//   - anything else is JSON-encoded as text
//
// Canonicalize is idempotent: feeding a Value back in returns it unchanged.
func Canonicalize(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Empty
	case Value:
		return v
	case string:
		return TextValue(v)
	case bool:
		return BoolValue(v)
	case float64:
		return NumValue(v)
	case float32:
		return NumValue(float64(v))
	case int:
		return NumValue(float64(v))
	case int64:
		return NumValue(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return TextValue(v.String())
		}
		return NumValue(f)
	case []string:
		elems := make([]Value, 0, len(v))
		for _, s := range v {
			elems = append(elems, TextValue(s))
		}
		return ListValue(elems)
	case []Value:
		return ListValue(v)
	case []any:
		elems := make([]Value, 0, len(v))
		for _, e := range v {
			elems = append(elems, Canonicalize(e))
		}
		return ListValue(elems)
	case map[string]any:
		if inner, ok := v["text"]; ok {
			return Canonicalize(inner)
		}
		if inner, ok := v["name"]; ok {
			return Canonicalize(inner)
		}
		if len(v) == 0 {
			return Empty
		}
		// Opaque object: stable JSON keeps it comparable without guessing.
		b, err := json.Marshal(v)
		if err != nil {
			return Empty
		}
		return TextValue(string(b))
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Empty
		}
		return TextValue(strings.Trim(string(b), `"`))
	}
}

// Equal reports structural equality of two canonical values.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindEmpty:
		return true
	case KindText, KindDate:
		return a.Str == b.Str
	case KindNum:
		return a.Num == b.Num
	case KindBool:
		return a.Bool == b.Bool
	case KindList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !Equal(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Encode renders a stable textual form. Kinds are prefixed so that, for
// example, Text("1") and Num(1) never collide. The fingerprint and list
// ordering both rely on this encoding.
func (v Value) Encode() string {
	switch v.Kind {
	case KindEmpty:
		return "_"
	case KindText:
		return "t:" + strconv.Quote(v.Str)
	case KindDate:
		return "d:" + v.Str
	case KindNum:
		return "n:" + strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return "b:" + strconv.FormatBool(v.Bool)
	case KindList:
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			parts[i] = e.Encode()
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return "_"
}

// String renders the bare string form used when projecting onto text-like
// target properties and when staging writes back to System A.
func (v Value) String() string {
	switch v.Kind {
	case KindEmpty:
		return ""
	case KindText, KindDate:
		return v.Str
	case KindNum:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindList:
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			parts[i] = e.String()
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

// Plain converts back to the bare scalar/array shape used for comparison
// display and for staged System A writes.
func (v Value) Plain() any {
	switch v.Kind {
	case KindEmpty:
		return nil
	case KindText, KindDate:
		return v.Str
	case KindNum:
		return v.Num
	case KindBool:
		return v.Bool
	case KindList:
		out := make([]any, len(v.List))
		for i, e := range v.List {
			out[i] = e.Plain()
		}
		return out
	}
	return nil
}

// IsEmpty reports whether the value is the collapsed empty token.
func (v Value) IsEmpty() bool { return v.Kind == KindEmpty }
