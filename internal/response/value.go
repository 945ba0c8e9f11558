// Package response holds materialized response payloads as a tagged
// variant so that every consumer matches kinds explicitly.
package response

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"
)

type Kind int

const (
	Null Kind = iota
	String
	Number
	Boolean
	Object
	Array
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case String:
		return "string"
	case Number:
		return "number"
	case Boolean:
		return "boolean"
	case Object:
		return "object"
	case Array:
		return "array"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is one JSON value. The zero Value is null. Object member order is
// kept as decoded.
type Value struct {
	kind   Kind
	str    string // string content, or number text
	b      bool
	keys   []string
	fields map[string]Value
	items  []Value
}

func Nil() Value               { return Value{} }
func Str(s string) Value       { return Value{kind: String, str: s} }
func Bool(b bool) Value        { return Value{kind: Boolean, b: b} }
func Arr(items ...Value) Value { return Value{kind: Array, items: items} }

// Num takes the literal text of a JSON number.
func Num(text string) Value { return Value{kind: Number, str: text} }

// Obj builds an object whose members appear in keys order. Keys missing
// from fields are skipped.
func Obj(keys []string, fields map[string]Value) Value {
	v := Value{kind: Object, fields: make(map[string]Value, len(keys))}
	for _, k := range keys {
		f, ok := fields[k]
		if !ok {
			continue
		}
		if _, dup := v.fields[k]; !dup {
			v.keys = append(v.keys, k)
		}
		v.fields[k] = f
	}
	return v
}

// FromScalar converts a Go scalar (as produced by Value.Scalar or a JSON
// decoder) back into a Value.
func FromScalar(s any) (Value, error) {
	switch x := s.(type) {
	case nil:
		return Nil(), nil
	case string:
		return Str(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Num(strconv.Itoa(x)), nil
	case int32:
		return Num(strconv.FormatInt(int64(x), 10)), nil
	case int64:
		return Num(strconv.FormatInt(x, 10)), nil
	case float32:
		return Num(strconv.FormatFloat(float64(x), 'g', -1, 32)), nil
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return Value{}, fmt.Errorf("number %v has no JSON form", x)
		}
		return Num(strconv.FormatFloat(x, 'g', -1, 64)), nil
	case json.Number:
		return Num(x.String()), nil
	}
	return Value{}, fmt.Errorf("unsupported scalar %T", s)
}

// FromGo converts decoded Go data (maps, slices, scalars). Map members are
// ordered by key.
func FromGo(v any) (Value, error) {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make(map[string]Value, len(x))
		for _, k := range keys {
			f, err := FromGo(x[k])
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			fields[k] = f
		}
		return Obj(keys, fields), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			iv, err := FromGo(item)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = iv
		}
		return Arr(items...), nil
	}
	return FromScalar(v)
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == Null }

// Field returns the named member of an object.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	f, ok := v.fields[name]
	return f, ok
}

func (v Value) Keys() []string { return v.keys }

func (v Value) Items() []Value { return v.items }

// Scalar returns the Go form of a leaf: nil, string, bool, int64 for
// integral numbers, float64 otherwise. Objects and arrays yield nil.
func (v Value) Scalar() any {
	switch v.kind {
	case String:
		return v.str
	case Boolean:
		return v.b
	case Number:
		if i, err := strconv.ParseInt(v.str, 10, 64); err == nil {
			return i
		}
		f, err := strconv.ParseFloat(v.str, 64)
		if err != nil {
			return v.str
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	}
	return nil
}

// Interface returns plain Go data.
func (v Value) Interface() any {
	switch v.kind {
	case Object:
		m := make(map[string]any, len(v.keys))
		for _, k := range v.keys {
			m[k] = v.fields[k].Interface()
		}
		return m
	case Array:
		s := make([]any, len(v.items))
		for i, item := range v.items {
			s[i] = item.Interface()
		}
		return s
	}
	return v.Scalar()
}

// Equal compares structurally. Object member order is ignored and numbers
// compare by value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case Null:
		return true
	case String:
		return v.str == o.str
	case Boolean:
		return v.b == o.b
	case Number:
		return v.str == o.str || v.Scalar() == o.Scalar()
	case Object:
		if len(v.fields) != len(o.fields) {
			return false
		}
		for k, f := range v.fields {
			g, ok := o.fields[k]
			if !ok || !f.Equal(g) {
				return false
			}
		}
		return true
	case Array:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case Null:
		buf.WriteString("null")
	case Boolean:
		buf.WriteString(strconv.FormatBool(v.b))
	case Number:
		buf.WriteString(v.str)
	case String:
		b, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case Array:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(b)
			buf.WriteByte(':')
			if err := v.fields[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%s: %v>", v.kind, err)
	}
	return string(b)
}

// Parse decodes one JSON document.
func Parse(data []byte) (Value, error) {
	raw, typ, _, err := jsonparser.Get(data)
	if err != nil {
		return Value{}, fmt.Errorf("parse response: %w", err)
	}
	return fromRaw(raw, typ)
}

func fromRaw(raw []byte, typ jsonparser.ValueType) (Value, error) {
	switch typ {
	case jsonparser.Null:
		return Nil(), nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(raw)
		if err != nil {
			return Value{}, err
		}
		return Str(s), nil
	case jsonparser.Number:
		if _, err := strconv.ParseFloat(string(raw), 64); err != nil {
			return Value{}, fmt.Errorf("invalid number %q", raw)
		}
		return Num(string(raw)), nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(raw)
		if err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case jsonparser.Array:
		v := Value{kind: Array, items: []Value{}}
		var inner error
		_, err := jsonparser.ArrayEach(raw, func(item []byte, t jsonparser.ValueType, _ int, err error) {
			if inner != nil {
				return
			}
			if err != nil {
				inner = err
				return
			}
			iv, err := fromRaw(item, t)
			if err != nil {
				inner = fmt.Errorf("[%d]: %w", len(v.items), err)
				return
			}
			v.items = append(v.items, iv)
		})
		if err == nil {
			err = inner
		}
		if err != nil {
			return Value{}, err
		}
		return v, nil
	case jsonparser.Object:
		v := Value{kind: Object, fields: map[string]Value{}}
		err := jsonparser.ObjectEach(raw, func(key, item []byte, t jsonparser.ValueType, _ int) error {
			k, err := jsonparser.ParseString(key)
			if err != nil {
				return err
			}
			iv, err := fromRaw(item, t)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			if _, dup := v.fields[k]; !dup {
				v.keys = append(v.keys, k)
			}
			v.fields[k] = iv
			return nil
		})
		if err != nil {
			return Value{}, err
		}
		return v, nil
	}
	return Value{}, fmt.Errorf("unexpected JSON value %q", raw)
}
