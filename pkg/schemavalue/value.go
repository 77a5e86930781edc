// Package schemavalue models arbitrary nested structured data (section form
// schemas and recorded note payloads) as a tagged union whose maps keep the
// order their keys were written in.
package schemavalue

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	List
	Map
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case List:
		return "list"
	case Map:
		return "map"
	}
	return "unknown"
}

// Value is one node of a SchemaValue tree. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	num  json.Number
	str  string
	list []Value
	m    *OrderedMap
}

// NullValue returns the Null variant.
func NullValue() Value { return Value{} }

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{kind: Bool, b: b} }

// NumberValue wraps a number kept in its textual JSON form.
func NumberValue(n json.Number) Value { return Value{kind: Number, num: n} }

// IntValue is a convenience constructor for integral numbers.
func IntValue(i int64) Value { return NumberValue(json.Number(strconv.FormatInt(i, 10))) }

// FloatValue is a convenience constructor for floating point numbers.
func FloatValue(f float64) Value {
	return NumberValue(json.Number(strconv.FormatFloat(f, 'f', -1, 64)))
}

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: String, str: s} }

// ListValue wraps a list of values.
func ListValue(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: List, list: items}
}

// MapValue wraps an ordered map. A nil map becomes an empty one.
func MapValue(m *OrderedMap) Value {
	if m == nil {
		m = NewOrderedMap()
	}
	return Value{kind: Map, m: m}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the Null variant.
func (v Value) IsNull() bool { return v.kind == Null }

// AsBool returns the bool payload and whether v is a Bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == Bool }

// AsNumber returns the number payload and whether v is a Number.
func (v Value) AsNumber() (json.Number, bool) { return v.num, v.kind == Number }

// AsString returns the string payload and whether v is a String.
func (v Value) AsString() (string, bool) { return v.str, v.kind == String }

// AsList returns the list payload and whether v is a List.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == List }

// AsMap returns the map payload and whether v is a Map.
func (v Value) AsMap() (*OrderedMap, bool) {
	if v.kind != Map {
		return nil, false
	}
	return v.m, true
}

// IsEmpty reports whether v carries no data: Null, an empty string, an empty
// list or an empty map. Bools and numbers are never empty.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case Null:
		return true
	case String:
		return v.str == ""
	case List:
		return len(v.list) == 0
	case Map:
		return v.m == nil || v.m.Len() == 0
	}
	return false
}

// Get looks up key when v is a Map. The second result is false when v is not
// a map or the key is absent.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != Map || v.m == nil {
		return Value{}, false
	}
	return v.m.Get(key)
}

// String is the default-to-string conversion used for display: primitives as
// their text, lists joined with ", ", maps as compact JSON in key order.
func (v Value) String() string {
	switch v.kind {
	case Null:
		return ""
	case Bool:
		return strconv.FormatBool(v.b)
	case Number:
		return v.num.String()
	case String:
		return v.str
	case List:
		parts := make([]string, 0, len(v.list))
		for _, item := range v.list {
			parts = append(parts, item.String())
		}
		return strings.Join(parts, ", ")
	case Map:
		raw, err := v.MarshalJSON()
		if err != nil {
			return ""
		}
		return string(raw)
	}
	return ""
}

// Equal reports deep equality, including map key order.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case Null:
		return true
	case Bool:
		return v.b == other.b
	case Number:
		return v.num == other.num
	case String:
		return v.str == other.str
	case List:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case Map:
		return v.m.Equal(other.m)
	}
	return false
}
