package probez

import (
	"bytes"

	"github.com/goccy/go-json"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	ValueNil ValueKind = iota
	ValueInt
	ValueUint
	ValueText
	ValueStructured
)

// Value is one argument produced for a firing.
// The zero Value is Nil.
//
//nolint:govet // Field order optimized for readability
type Value struct {
	obj  any
	text string
	bits uint64
	kind ValueKind
}

// Nil is the absent value. String slots record it as "undefined".
var Nil = Value{}

// Int wraps a signed integer.
func Int(v int64) Value {
	return Value{kind: ValueInt, bits: uint64(v)}
}

// Uint wraps an unsigned integer.
func Uint(v uint64) Value {
	return Value{kind: ValueUint, bits: v}
}

// Str wraps a string.
func Str(v string) Value {
	return Value{kind: ValueText, text: v}
}

// JSON wraps a structured value that is serialized when it lands in a
// json slot. Use Fields to control key order.
func JSON(v any) Value {
	return Value{kind: ValueStructured, obj: v}
}

// Kind returns the variant tag.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Int64 returns the signed interpretation of an integer value.
func (v Value) Int64() int64 {
	return int64(v.bits)
}

// Uint64 returns the unsigned interpretation of an integer value.
func (v Value) Uint64() uint64 {
	return v.bits
}

// Text returns the string of a text value.
func (v Value) Text() string {
	return v.text
}

// Object returns the payload of a structured value.
func (v Value) Object() any {
	return v.obj
}

// Field is one entry of an ordered object.
type Field struct {
	Value any
	Key   string
}

// Fields is an object whose keys serialize in declaration order.
// Plain maps serialize with sorted keys; both are deterministic.
type Fields []Field

// F builds a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// MarshalJSON writes the fields as a JSON object in order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		raw, err := json.Marshal(field.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
