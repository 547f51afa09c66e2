package engine

import (
	"fmt"
	"strconv"
)

// ValueType discriminates the variants of a Value.
type ValueType uint8

const (
	// TypeNull is the SQL NULL.
	TypeNull ValueType = iota
	// TypeInteger is a 64-bit signed integer.
	TypeInteger
	// TypeReal is a 64-bit float.
	TypeReal
	// TypeText is a string.
	TypeText
	// TypeBlob is a byte slice.
	TypeBlob
)

func (t ValueType) String() string {
	switch t {
	case TypeNull:
		return "NULL"
	case TypeInteger:
		return "INTEGER"
	case TypeReal:
		return "REAL"
	case TypeText:
		return "TEXT"
	case TypeBlob:
		return "BLOB"
	default:
		return "UNKNOWN"
	}
}

// Value is one SQL value: NULL, INTEGER, REAL, TEXT, or BLOB.
// The zero Value is NULL.
type Value struct {
	typ ValueType
	i   int64
	f   float64
	s   string
	b   []byte
}

// Null returns the NULL value.
func Null() Value { return Value{} }

// Integer returns an INTEGER value.
func Integer(i int64) Value { return Value{typ: TypeInteger, i: i} }

// Real returns a REAL value.
func Real(f float64) Value { return Value{typ: TypeReal, f: f} }

// Text returns a TEXT value.
func Text(s string) Value { return Value{typ: TypeText, s: s} }

// Blob returns a BLOB value. The slice is used as-is; use Clone for an
// independent copy.
func Blob(b []byte) Value { return Value{typ: TypeBlob, b: b} }

// Type returns the value's variant.
func (v Value) Type() ValueType { return v.typ }

// IsNull reports whether the value is NULL.
func (v Value) IsNull() bool { return v.typ == TypeNull }

// Int returns the INTEGER payload. It is zero for other variants.
func (v Value) Int() int64 { return v.i }

// Float returns the REAL payload. It is zero for other variants.
func (v Value) Float() float64 { return v.f }

// Text returns the TEXT payload. It is empty for other variants.
func (v Value) Text() string { return v.s }

// Bytes returns the BLOB payload. It is nil for other variants and may
// alias engine-internal storage.
func (v Value) Bytes() []byte { return v.b }

// Clone returns a deep copy of the value, independent of any buffer the
// original may alias.
func (v Value) Clone() Value {
	if v.typ == TypeBlob && v.b != nil {
		b := make([]byte, len(v.b))
		copy(b, v.b)
		return Value{typ: TypeBlob, b: b}
	}
	return v
}

// String renders the value for diagnostics.
func (v Value) String() string {
	switch v.typ {
	case TypeNull:
		return "NULL"
	case TypeInteger:
		return strconv.FormatInt(v.i, 10)
	case TypeReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeText:
		return strconv.Quote(v.s)
	case TypeBlob:
		return fmt.Sprintf("x'%x'", v.b)
	default:
		return "?"
	}
}
