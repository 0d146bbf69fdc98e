package partdiff

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind is the discriminant of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
)

var kindNames = [...]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
	KindBytes:  "bytes",
	KindList:   "list",
	KindMap:    "map",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// MapEntry is one key/value pair of a map Value. Keys may be of any kind.
type MapEntry struct {
	Key Value
	Val Value
}

// Value is a bin value: a closed tagged union of null, bool, int64, float64,
// string, byte blob, ordered list and unordered map. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	raw  []byte
	list []Value
	m    []MapEntry
}

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Bytes(b []byte) Value { return Value{kind: KindBytes, raw: b} }
func List(items ...Value) Value { return Value{kind: KindList, list: items} }
func Map(es ...MapEntry) Value { return Value{kind: KindMap, m: es} }
func Entry(k, v Value) MapEntry { return MapEntry{Key: k, Val: v} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) AsBool() bool { return v.b }
func (v Value) AsInt() int64 { return v.i }
func (v Value) AsFloat() float64 { return v.f }
func (v Value) AsString() string { return v.s }
func (v Value) AsBytes() []byte { return v.raw }
func (v Value) AsList() []Value { return v.list }
func (v Value) AsMap() []MapEntry { return v.m }

// Len returns the element count of a list or map, the length of a string or
// blob, and 0 for everything else.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	case KindString:
		return len(v.s)
	case KindBytes:
		return len(v.raw)
	}
	return 0
}

// Lookup finds the value stored under key in a map Value.
func (v Value) Lookup(key Value) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	for _, e := range v.m {
		if e.Key.Equal(key) {
			return e.Val, true
		}
	}
	return Value{}, false
}

// Equal reports structural equality. Map entries are compared irrespective of
// their order, lists positionally.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindString:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for _, e := range v.m {
			ov, ok := o.Lookup(e.Key)
			if !ok || !e.Val.Equal(ov) {
				return false
			}
		}
		return true
	default:
		panic("partdiff: unknown value kind " + v.kind.String())
	}
}

// String renders the value for humans; it is also used as the path segment
// of a map key.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindBytes:
		return "0x" + hex.EncodeToString(v.raw)
	case KindList:
		parts := make([]string, len(v.list))
		for i, it := range v.list {
			parts[i] = it.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		parts := make([]string, len(v.m))
		for i, e := range v.m {
			parts[i] = e.Key.String() + ": " + e.Val.String()
		}
		sort.Strings(parts)
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		panic("partdiff: unknown value kind " + v.kind.String())
	}
}

// Any converts the value back into plain Go values. Map keys are rendered
// with String so that blob and list keys survive as Go map keys.
func (v Value) Any() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return append([]byte(nil), v.raw...)
	case KindList:
		out := make([]any, len(v.list))
		for i, it := range v.list {
			out[i] = it.Any()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for _, e := range v.m {
			out[e.Key.String()] = e.Val.Any()
		}
		return out
	default:
		panic("partdiff: unknown value kind " + v.kind.String())
	}
}

// FromAny converts decoded Go values (as produced by YAML, JSON or CBOR
// decoders) into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
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
		return fromUint(uint64(t))
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return fromUint(t)
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case string:
		return String(t), nil
	case []byte:
		return Bytes(append([]byte(nil), t...)), nil
	case []any:
		items := make([]Value, len(t))
		for i, it := range t {
			v, err := FromAny(it)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = v
		}
		return List(items...), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		es := make([]MapEntry, 0, len(t))
		for _, k := range keys {
			v, err := FromAny(t[k])
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			es = append(es, Entry(String(k), v))
		}
		return Map(es...), nil
	case map[any]any:
		es := make([]MapEntry, 0, len(t))
		for k, it := range t {
			kv, err := FromAny(k)
			if err != nil {
				return Value{}, fmt.Errorf("map key %v: %w", k, err)
			}
			v, err := FromAny(it)
			if err != nil {
				return Value{}, fmt.Errorf("key %v: %w", k, err)
			}
			es = append(es, Entry(kv, v))
		}
		return Map(es...), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, x)
	}
}

func fromUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, u)
	}
	return Int(int64(u)), nil
}

// BinsFromAny converts a decoded bin map.
func BinsFromAny(m map[string]any) (map[string]Value, error) {
	out := make(map[string]Value, len(m))
	for name, x := range m {
		v, err := FromAny(x)
		if err != nil {
			return nil, fmt.Errorf("bin %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}
