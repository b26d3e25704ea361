// Package extract locates the generated image inside an inference
// provider's response, whatever shape the model chose to return.
//
// Provider output is first converted into a Value, a small tagged union over
// the JSON shapes (string, array, object with ordered keys, null, other).
// FindURL then walks that tree. Both steps are pure.
package extract

import (
	"fmt"
	"io"
	"reflect"
	"sort"
)

// Kind discriminates a Value
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindArray
	KindObject
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "other"
	}
}

// Field is one key of an Object, kept in insertion order
type Field struct {
	Key   string
	Value Value
}

// Value is an immutable node of a provider response
type Value struct {
	kind   Kind
	str    string
	items  []Value
	fields []Field
}

// Null returns the null value
func Null() Value { return Value{kind: KindNull} }

// String returns a string value
func String(s string) Value { return Value{kind: KindString, str: s} }

// Array returns an array value
func Array(items ...Value) Value { return Value{kind: KindArray, items: items} }

// Object returns an object value with fields in the given order
func Object(fields ...Field) Value { return Value{kind: KindObject, fields: fields} }

// Other returns a value of a shape extraction ignores, such as a number
func Other() Value { return Value{kind: KindOther} }

// Kind returns the discriminator
func (v Value) Kind() Kind { return v.kind }

// Str returns the string payload
func (v Value) Str() string { return v.str }

// Items returns the array elements
func (v Value) Items() []Value { return v.items }

// Fields returns the object fields in order
func (v Value) Fields() []Field { return v.fields }

// Get returns the field named key
func (v Value) Get(key string) (Value, bool) {
	for _, f := range v.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// IsEmpty reports whether the provider returned nothing usable at all
func (v Value) IsEmpty() bool {
	return v.kind == KindNull || (v.kind == KindString && v.str == "")
}

// FromAny converts decoded provider output into a Value. Map keys are sorted
// so the result does not depend on Go's map iteration order.
func FromAny(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return String(t)
	case fmt.Stringer:
		return String(t.String())
	case []interface{}:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			items = append(items, FromAny(item))
		}
		return Array(items...)
	case []string:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			items = append(items, String(item))
		}
		return Array(items...)
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]Field, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, Field{Key: k, Value: FromAny(t[k])})
		}
		return Object(fields...)
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return Null()
		}
		return FromAny(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return Other()
		}
		items := make([]Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items = append(items, FromAny(rv.Index(i).Interface()))
		}
		return Array(items...)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Other()
		}
		m := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return FromAny(m)
	case reflect.String:
		return String(rv.String())
	default:
		return Other()
	}
}

// Stream returns the reader when the output is a byte stream, either directly
// or as the first element of an array.
func Stream(raw interface{}) (io.Reader, bool) {
	if r, ok := raw.(io.Reader); ok {
		return r, true
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.Slice && rv.Len() > 0 {
		if r, ok := rv.Index(0).Interface().(io.Reader); ok {
			return r, true
		}
	}
	return nil, false
}
