// Package wfdata defines the value model for case data and event payloads.
// Values form a small closed set of kinds (string, number, boolean, map,
// list) so that consumers can switch exhaustively instead of probing
// arbitrary dynamic types.
package wfdata

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies a value variant.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindMap
	KindList
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is one element of the closed value set.
// Exactly one concrete type implements each Kind.
type Value interface {
	Kind() Kind
	// Canonical renders a deterministic representation used for hashing.
	Canonical() string
}

// String is a text value.
type String string

// Number is a numeric value.
type Number float64

// Bool is a boolean value.
type Bool bool

// List is an ordered sequence of values.
type List []Value

// Map is a key-ordered collection of named values.
type Map map[string]Value

func (String) Kind() Kind { return KindString }
func (Number) Kind() Kind { return KindNumber }
func (Bool) Kind() Kind   { return KindBool }
func (List) Kind() Kind   { return KindList }
func (Map) Kind() Kind    { return KindMap }

func (v String) Canonical() string { return fmt.Sprintf("s:%q", string(v)) }
func (v Number) Canonical() string { return fmt.Sprintf("n:%g", float64(v)) }
func (v Bool) Canonical() string   { return fmt.Sprintf("b:%t", bool(v)) }

func (v List) Canonical() string {
	parts := make([]string, len(v))
	for i, item := range v {
		parts[i] = item.Canonical()
	}
	return "l:[" + strings.Join(parts, ",") + "]"
}

func (v Map) Canonical() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%q=%s", k, v[k].Canonical())
	}
	return "m:{" + strings.Join(parts, ",") + "}"
}

// Copy returns a deep copy of the map.
func (v Map) Copy() Map {
	if v == nil {
		return nil
	}
	out := make(Map, len(v))
	for k, item := range v {
		out[k] = copyValue(item)
	}
	return out
}

// Merge copies all entries of other into v, overwriting existing keys.
func (v Map) Merge(other Map) {
	for k, item := range other {
		v[k] = copyValue(item)
	}
}

func copyValue(v Value) Value {
	switch t := v.(type) {
	case Map:
		return t.Copy()
	case List:
		out := make(List, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

// GetString returns the string at key, or "" if absent or not a string.
func (v Map) GetString(key string) string {
	if s, ok := v[key].(String); ok {
		return string(s)
	}
	return ""
}

// GetNumber returns the number at key, or 0 if absent or not a number.
func (v Map) GetNumber(key string) float64 {
	if n, ok := v[key].(Number); ok {
		return float64(n)
	}
	return 0
}

// GetBool returns the boolean at key, or false if absent or not a bool.
func (v Map) GetBool(key string) bool {
	if b, ok := v[key].(Bool); ok {
		return bool(b)
	}
	return false
}

// FromAny converts a decoded JSON value (string, float64, bool,
// map[string]any, []any) into a Value. Unsupported types become their
// string rendering.
func FromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return String("")
	case string:
		return String(t)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case bool:
		return Bool(t)
	case map[string]any:
		m := make(Map, len(t))
		for k, item := range t {
			m[k] = FromAny(item)
		}
		return m
	case []any:
		l := make(List, len(t))
		for i, item := range t {
			l[i] = FromAny(item)
		}
		return l
	case Value:
		return t
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// MapFromAny converts a decoded JSON object into a Map.
func MapFromAny(raw map[string]any) Map {
	m := make(Map, len(raw))
	for k, item := range raw {
		m[k] = FromAny(item)
	}
	return m
}

// ToAny converts a Value back into plain Go types suitable for
// encoding/json.
func ToAny(v Value) any {
	switch t := v.(type) {
	case String:
		return string(t)
	case Number:
		return float64(t)
	case Bool:
		return bool(t)
	case Map:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = ToAny(item)
		}
		return out
	case List:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ToAny(item)
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON renders the map as a plain JSON object.
func (v Map) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToAny(v))
}

// UnmarshalJSON decodes a JSON object into the map.
func (v *Map) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = MapFromAny(raw)
	return nil
}
