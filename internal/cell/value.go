// Package cell defines the typed value carried by every exchanged field.
//
// A Value is a tagged union: exactly one of its payloads is meaningful,
// selected by Kind. Values are immutable once constructed.
package cell

import (
	"reflect"
	"time"
)

// Kind identifies which payload of a Value is set.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindNumber
	KindBool
	KindDate
	KindDateTime
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	case KindDateTime:
		return "datetime"
	case KindJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Value is a single typed cell.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
	j    any
}

// Null returns the empty value.
func Null() Value { return Value{} }

// String wraps a text value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int wraps an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Number wraps a floating point value.
func Number(f float64) Value { return Value{kind: KindNumber, f: f} }

// Bool wraps a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Date wraps a calendar date. The time of day and location are discarded.
func Date(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: KindDate, t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// DateTime wraps an instant, normalized to UTC.
func DateTime(t time.Time) Value { return Value{kind: KindDateTime, t: t.UTC()} }

// JSON wraps a decoded JSON list ([]any) or object (map[string]any).
func JSON(v any) Value {
	if v == nil {
		return Null()
	}
	return Value{kind: KindJSON, j: v}
}

// Optional returns String(s), or Null when s is empty.
func Optional(s string) Value {
	if s == "" {
		return Null()
	}
	return String(s)
}

// OptionalTime returns DateTime(*t), or Null when t is nil or zero.
func OptionalTime(t *time.Time) Value {
	if t == nil || t.IsZero() {
		return Null()
	}
	return DateTime(*t)
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Text returns the string payload, or "" for other kinds.
func (v Value) Text() string { return v.s }

// Int returns the integer payload; numbers are truncated.
func (v Value) Int() int64 {
	if v.kind == KindNumber {
		return int64(v.f)
	}
	return v.i
}

// Float returns the numeric payload; integers are widened.
func (v Value) Float() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

func (v Value) Bool() bool      { return v.b }
func (v Value) Time() time.Time { return v.t }
func (v Value) JSON() any       { return v.j }

// TimePtr returns a pointer to the time payload, or nil for null values.
func (v Value) TimePtr() *time.Time {
	if v.kind != KindDate && v.kind != KindDateTime {
		return nil
	}
	t := v.t
	return &t
}

// Any returns the payload as a plain Go value suitable for database drivers
// and JSON encoding. Null becomes nil.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindNumber:
		return v.f
	case KindBool:
		return v.b
	case KindDate, KindDateTime:
		return v.t
	case KindJSON:
		return v.j
	default:
		return nil
	}
}

// Equal reports whether two values carry the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		// Integral numbers compare equal to ints so a sheet re-read as
		// Number does not look changed.
		if (v.kind == KindInt && o.kind == KindNumber) || (v.kind == KindNumber && o.kind == KindInt) {
			return v.Float() == o.Float()
		}
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindNumber:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindDate, KindDateTime:
		return v.t.Equal(o.t)
	case KindJSON:
		return reflect.DeepEqual(v.j, o.j)
	}
	return false
}

// String renders the value the way it is written to a sheet.
func (v Value) String() string { return Format(v) }
