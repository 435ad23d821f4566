// Package value implements the dynamic JSON-like value universe that every
// expression in the config evaluates to and from (spec.md §3 "Scalar universe").
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind tags the variant carried by a Value.
type Kind int

const (
	Null Kind = iota
	Bool
	Int
	Float
	String
	Array
	Object
)

// Value is the single tagged-union type every expression produces and
// consumes. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	obj  *Obj
}

// Obj is an insertion-ordered string -> Value map. It backs every Value of
// Kind Object; named distinctly from the Kind constant to avoid shadowing it.
type Obj struct {
	keys []string
	idx  map[string]int
	vals []Value
}

// NewObject returns an empty, insertion-ordered object.
func NewObject() *Obj {
	return &Obj{idx: make(map[string]int)}
}

// Set inserts or overwrites key, preserving original insertion position on overwrite.
func (o *Obj) Set(key string, v Value) {
	if i, ok := o.idx[key]; ok {
		o.vals[i] = v
		return
	}
	o.idx[key] = len(o.keys)
	o.keys = append(o.keys, key)
	o.vals = append(o.vals, v)
}

// Get looks up key; ok is false if absent.
func (o *Obj) Get(key string) (Value, bool) {
	if o == nil {
		return Null_, false
	}
	i, ok := o.idx[key]
	if !ok {
		return Null_, false
	}
	return o.vals[i], true
}

// Keys returns keys in insertion order.
func (o *Obj) Keys() []string {
	if o == nil {
		return nil
	}
	return o.keys
}

// Len returns the number of entries.
func (o *Obj) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Clone returns a deep-ish copy (values are copied by the Value struct itself).
func (o *Obj) Clone() *Obj {
	n := NewObject()
	for i, k := range o.keys {
		n.Set(k, o.vals[i])
	}
	return n
}

var Null_ = Value{kind: Null}

func NewNull() Value           { return Value{kind: Null} }
func NewBool(b bool) Value     { return Value{kind: Bool, b: b} }
func NewInt(i int64) Value     { return Value{kind: Int, i: i} }
func NewFloat(f float64) Value { return Value{kind: Float, f: f} }
func NewString(s string) Value { return Value{kind: String, s: s} }
func NewArray(a []Value) Value { return Value{kind: Array, arr: a} }
func NewObjectValue(o *Obj) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: Object, obj: o}
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNull() bool  { return v.kind == Null }
func (v Value) Bool() bool    { return v.b }
func (v Value) Int() int64    { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Str() string   { return v.s }
func (v Value) Array() []Value { return v.arr }
func (v Value) Object() *Obj { return v.obj }

// Truthy applies the coercion rules of spec.md §4.A "Value coercion":
// null, false, 0, "" are false; all objects and arrays are true (including empty).
func (v Value) Truthy() bool {
	switch v.kind {
	case Null:
		return false
	case Bool:
		return v.b
	case Int:
		return v.i != 0
	case Float:
		return v.f != 0
	case String:
		return v.s != ""
	case Array, Object:
		return true
	}
	return false
}

// Numeric coerces v to a float64, returning NaN for values with no sane
// numeric reading (spec.md §4.A).
func (v Value) Numeric() float64 {
	switch v.kind {
	case Int:
		return float64(v.i)
	case Float:
		return v.f
	case Bool:
		if v.b {
			return 1
		}
		return 0
	case String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}

// IsNumber reports whether v is Int or Float.
func (v Value) IsNumber() bool { return v.kind == Int || v.kind == Float }

// String renders v for template interpolation: direct for strings,
// decimal for numbers, JSON for composites (spec.md §4.A template strings).
func (v Value) String() string {
	switch v.kind {
	case Null:
		return ""
	case Bool:
		if v.b {
			return "true"
		}
		return "false"
	case Int:
		return strconv.FormatInt(v.i, 10)
	case Float:
		return formatFloat(v.f)
	case String:
		return v.s
	case Array, Object:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return ""
}

func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Equal implements the == operator's recursive structural equality.
func Equal(a, b Value) bool {
	if a.kind == b.kind {
		switch a.kind {
		case Null:
			return true
		case Bool:
			return a.b == b.b
		case Int:
			return a.i == b.i
		case Float:
			return a.f == b.f
		case String:
			return a.s == b.s
		case Array:
			if len(a.arr) != len(b.arr) {
				return false
			}
			for i := range a.arr {
				if !Equal(a.arr[i], b.arr[i]) {
					return false
				}
			}
			return true
		case Object:
			if a.obj.Len() != b.obj.Len() {
				return false
			}
			for _, k := range a.obj.Keys() {
				av, _ := a.obj.Get(k)
				bv, ok := b.obj.Get(k)
				if !ok || !Equal(av, bv) {
					return false
				}
			}
			return true
		}
	}
	// cross-kind numeric comparison
	if a.IsNumber() && b.IsNumber() {
		return a.Numeric() == b.Numeric()
	}
	return false
}

// ParseJSON decodes data as a single JSON value, preserving object key
// order as written on the wire (spec.md §3 "object … with preserved
// insertion order", §9 "Object preserves insertion order"). Unlike
// json.Unmarshal into interface{} (which lands objects in an unordered
// map[string]interface{}), this walks the decoder's token stream directly.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	v, err := DecodeJSON(dec)
	if err != nil {
		return Null_, err
	}
	if dec.More() {
		return Null_, fmt.Errorf("value: trailing data after JSON value")
	}
	return v, nil
}

// DecodeJSON reads one JSON value from dec (which the caller should have
// put in UseNumber mode), preserving object key order. Used where several
// JSON values are read off one stream in sequence (a JSON-lines provider
// file), so the caller owns the *json.Decoder across calls.
func DecodeJSON(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Null_, err
	}
	return decodeJSONToken(dec, tok)
}

func decodeJSONToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return NewNull(), nil
	case bool:
		return NewBool(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return NewInt(i), nil
		}
		f, _ := t.Float64()
		return NewFloat(f), nil
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) && math.Abs(t) < 1e15 {
			return NewInt(int64(t)), nil
		}
		return NewFloat(t), nil
	case string:
		return NewString(t), nil
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Null_, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Null_, fmt.Errorf("value: unexpected object key token %v", keyTok)
				}
				valTok, err := dec.Token()
				if err != nil {
					return Null_, err
				}
				v, err := decodeJSONToken(dec, valTok)
				if err != nil {
					return Null_, err
				}
				obj.Set(key, v)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return Null_, err
			}
			return NewObjectValue(obj), nil
		case '[':
			var arr []Value
			for dec.More() {
				elemTok, err := dec.Token()
				if err != nil {
					return Null_, err
				}
				v, err := decodeJSONToken(dec, elemTok)
				if err != nil {
					return Null_, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return Null_, err
			}
			return NewArray(arr), nil
		}
	}
	return NewNull(), nil
}

// FromYAMLNode converts a decoded YAML node into a Value, preserving
// mapping key order exactly as written (spec.md §3/§9, same invariant as
// ParseJSON): a yaml.MappingNode's Content alternates key/value nodes in
// document order, so walking it directly (rather than unmarshaling into
// map[string]interface{}) keeps that order instead of losing it.
func FromYAMLNode(n *yaml.Node) (Value, error) {
	if n == nil {
		return NewNull(), nil
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return NewNull(), nil
		}
		return FromYAMLNode(n.Content[0])
	case yaml.AliasNode:
		return FromYAMLNode(n.Alias)
	case yaml.ScalarNode:
		var x interface{}
		if err := n.Decode(&x); err != nil {
			return Null_, err
		}
		switch t := x.(type) {
		case int:
			return NewInt(int64(t)), nil
		case int64:
			return NewInt(t), nil
		case float64:
			return NewFloat(t), nil
		case bool:
			return NewBool(t), nil
		case nil:
			return NewNull(), nil
		default:
			return NewString(n.Value), nil
		}
	case yaml.SequenceNode:
		arr := make([]Value, len(n.Content))
		for i, c := range n.Content {
			v, err := FromYAMLNode(c)
			if err != nil {
				return Null_, err
			}
			arr[i] = v
		}
		return NewArray(arr), nil
	case yaml.MappingNode:
		obj := NewObject()
		for i := 0; i+1 < len(n.Content); i += 2 {
			keyNode, valNode := n.Content[i], n.Content[i+1]
			var key string
			if err := keyNode.Decode(&key); err != nil {
				return Null_, err
			}
			v, err := FromYAMLNode(valNode)
			if err != nil {
				return Null_, err
			}
			obj.Set(key, v)
		}
		return NewObjectValue(obj), nil
	}
	return NewNull(), nil
}

// MarshalJSON implements json.Marshaler so composite values serialize with
// their original key order preserved.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case Null:
		return []byte("null"), nil
	case Bool:
		if v.b {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case Int:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case Float:
		return []byte(strconv.FormatFloat(v.f, 'g', -1, 64)), nil
	case String:
		return json.Marshal(v.s)
	case Array:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				sb.WriteByte(',')
			}
			b, err := e.MarshalJSON()
			if err != nil {
				return nil, err
			}
			sb.Write(b)
		}
		sb.WriteByte(']')
		return []byte(sb.String()), nil
	case Object:
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range v.obj.Keys() {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			sb.Write(kb)
			sb.WriteByte(':')
			vv, _ := v.obj.Get(k)
			b, err := vv.MarshalJSON()
			if err != nil {
				return nil, err
			}
			sb.Write(b)
		}
		sb.WriteByte('}')
		return []byte(sb.String()), nil
	}
	return []byte("null"), nil
}

// Index looks up key (string for object field, int for array index) within
// v. ok is false when v cannot be indexed or the key/index is absent.
func (v Value) Index(key Value) (Value, bool) {
	switch v.kind {
	case Object:
		if key.kind != String {
			return NewNull(), false
		}
		return v.obj.Get(key.s)
	case Array:
		var idx int64
		switch key.kind {
		case Int:
			idx = key.i
		case String:
			n, err := strconv.ParseInt(key.s, 10, 64)
			if err != nil {
				return NewNull(), false
			}
			idx = n
		default:
			return NewNull(), false
		}
		if idx < 0 {
			idx += int64(len(v.arr))
		}
		if idx < 0 || idx >= int64(len(v.arr)) {
			return NewNull(), false
		}
		return v.arr[idx], true
	case String:
		runes := []rune(v.s)
		var idx int64
		switch key.kind {
		case Int:
			idx = key.i
		case String:
			n, err := strconv.ParseInt(key.s, 10, 64)
			if err != nil {
				return NewNull(), false
			}
			idx = n
		default:
			return NewNull(), false
		}
		if idx < 0 || idx >= int64(len(runes)) {
			return NewNull(), false
		}
		return NewString(string(runes[idx])), true
	}
	return NewNull(), false
}

// String returns a short human label for error messages, e.g. "string" or "object".
func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Int:
		return "integer"
	case Float:
		return "float"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}
