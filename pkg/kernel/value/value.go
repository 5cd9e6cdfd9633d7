// Package value implements the JSON value tree that flows between scenario
// steps: tool outputs, staged arguments and scenario parameters.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is an immutable JSON value. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	num  json.Number
	str  string
	arr  []Value
	obj  map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer.
func Int(i int64) Value {
	return Value{kind: KindNumber, num: json.Number(strconv.FormatInt(i, 10))}
}

// Float wraps a float. NaN and infinities have no JSON form and become Null.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	return Value{kind: KindNumber, num: json.Number(strconv.FormatFloat(f, 'g', -1, 64))}
}

// Number wraps a JSON number literal as-is.
func Number(n json.Number) Value { return Value{kind: KindNumber, num: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Array builds an array value.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// Object builds an object value. The map is not copied.
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, obj: fields}
}

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsObject reports whether v is an object.
func (v Value) IsObject() bool { return v.kind == KindObject }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the number literal held by v.
func (v Value) AsNumber() (json.Number, bool) { return v.num, v.kind == KindNumber }

// Items returns the elements of an array, or nil.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// Fields returns the members of an object, or nil. Callers must not mutate it.
func (v Value) Fields() map[string]Value {
	if v.kind != KindObject {
		return nil
	}
	return v.obj
}

// Field returns one member of an object.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Null(), false
	}
	f, ok := v.obj[name]
	return f, ok
}

// Keys returns the sorted member names of an object.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the element count of an array or object.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	}
	return 0
}

// Text renders v the way a caller would type it: strings verbatim, null as
// the empty string, everything else as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return v.num.String()
	}
	return v.JSON()
}

// JSON renders v as compact JSON with object keys sorted.
func (v Value) JSON() string {
	data, err := json.Marshal(v)
	if err != nil {
		// Only reachable with a malformed number literal.
		return strconv.Quote(v.num.String())
	}
	return string(data)
}

func (v Value) String() string { return v.JSON() }

// Interface converts v back to plain Go values (nil, bool, json.Number,
// string, []any, map[string]any).
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, f := range v.obj {
			out[k] = f.Interface()
		}
		return out
	}
	return nil
}

// Native is like Interface but converts numbers to int64 or float64, which is
// what expression and template engines expect.
func (v Value) Native() any {
	switch v.kind {
	case KindNumber:
		if i, err := v.num.Int64(); err == nil {
			return i
		}
		f, _ := v.num.Float64()
		return f
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Native()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, f := range v.obj {
			out[k] = f.Native()
		}
		return out
	}
	return v.Interface()
}

// Equal reports deep equality. Numbers compare by their numeric value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.str == o.str
	case KindNumber:
		if v.num == o.num {
			return true
		}
		a, errA := v.num.Float64()
		b, errB := o.num.Float64()
		return errA == nil && errB == nil && a == b
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, f := range v.obj {
			g, ok := o.obj[k]
			if !ok || !f.Equal(g) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	case KindArray:
		return json.Marshal(v.arr)
	case KindObject:
		return json.Marshal(v.obj)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalYAML lets values appear in YAML reports and fixtures.
func (v Value) MarshalYAML() (any, error) {
	return v.Native(), nil
}

// UnmarshalYAML decodes any YAML node into a Value.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Parse decodes JSON text. Numbers keep their literal form.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Null(), err
	}
	if dec.More() {
		return Null(), fmt.Errorf("unexpected data after JSON value")
	}
	return FromAny(raw)
}

// ParseString is Parse for strings.
func ParseString(s string) (Value, error) {
	return Parse([]byte(s))
}

// FromAny converts decoded JSON or YAML data into a Value.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return Number(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Number(json.Number(strconv.FormatUint(uint64(t), 10))), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return Number(json.Number(strconv.FormatUint(t, 10))), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			conv, err := FromAny(item)
			if err != nil {
				return Null(), fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = conv
		}
		return Array(items...), nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return Array(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			conv, err := FromAny(item)
			if err != nil {
				return Null(), fmt.Errorf("%s: %w", k, err)
			}
			fields[k] = conv
		}
		return Object(fields), nil
	case map[any]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			conv, err := FromAny(item)
			if err != nil {
				return Null(), fmt.Errorf("%v: %w", k, err)
			}
			fields[fmt.Sprint(k)] = conv
		}
		return Object(fields), nil
	case map[string]string:
		fields := make(map[string]Value, len(t))
		for k, s := range t {
			fields[k] = String(s)
		}
		return Object(fields), nil
	default:
		// Fall back to a JSON round trip for structs and typed slices.
		data, err := json.Marshal(t)
		if err != nil {
			return Null(), fmt.Errorf("unsupported value of type %T: %w", raw, err)
		}
		return Parse(data)
	}
}

// MustFromAny is FromAny for literals known to be valid.
func MustFromAny(raw any) Value {
	v, err := FromAny(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// Map converts a map of plain Go values into a map of Values.
func Map(raw map[string]any) (map[string]Value, error) {
	out := make(map[string]Value, len(raw))
	for k, item := range raw {
		v, err := FromAny(item)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// IsBlank reports whether v is null or renders as an empty string.
func IsBlank(v Value) bool {
	return v.kind == KindNull || v.Text() == ""
}

// IsBlankTrimmed is IsBlank with surrounding whitespace ignored for strings.
func IsBlankTrimmed(v Value) bool {
	if v.kind == KindString {
		return strings.TrimSpace(v.str) == ""
	}
	return IsBlank(v)
}
