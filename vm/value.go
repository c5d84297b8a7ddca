package vm

import (
	"strconv"
)

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

// Kind tags a Value.
type Kind uint32

const (
	KindUnset Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return "unset"
	}
}

// Value is one environment or stack value: a kind tag plus the payload field
// matching the kind. The zero value is Unset.
//
// Ints are 64-bit at runtime (widened from the bundle's 32-bit slot), floats
// stay 32-bit as stored in the bundle.
type Value struct {
	Kind Kind
	B    bool
	I    int64
	F    float32
	S    string
}

// Unset is the absent value.
var Unset = Value{}

// BoolValue returns a bool Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, B: b} }

// IntValue returns an int Value.
func IntValue(i int64) Value { return Value{Kind: KindInt, I: i} }

// FloatValue returns a float Value.
func FloatValue(f float32) Value { return Value{Kind: KindFloat, F: f} }

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{Kind: KindString, S: s} }

// isNumeric reports whether v is Int or Float.
func (v Value) isNumeric() bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

// float returns the value as a float32. Only valid for numeric kinds; an Int
// is converted.
func (v Value) float() float32 {
	if v.Kind == KindInt {
		return float32(v.I)
	}
	return v.F
}

// truthy coerces v for OR/AND: bools as themselves, numbers by comparison
// with zero. Not defined for strings or Unset (ok = false).
func (v Value) truthy() (b, ok bool) {
	switch v.Kind {
	case KindBool:
		return v.B, true
	case KindInt:
		return v.I != 0, true
	case KindFloat:
		return v.F != 0, true
	default:
		return false, false
	}
}

// Equal compares two values the way EQ does for the operands EQ accepts:
// Int/Float promote, strings compare by content. Mismatched non-numeric
// kinds, which EQ rejects with an error, are simply unequal here.
func (v Value) Equal(o Value) bool {
	if v.isNumeric() && o.isNumeric() {
		if v.Kind == KindInt && o.Kind == KindInt {
			return v.I == o.I
		}
		return v.float() == o.float()
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.B == o.B
	case KindString:
		return v.S == o.S
	default: // both Unset
		return true
	}
}

// appendFormat appends the value's interpolated text form to dst:
// Unset as "", bools as "true"/"false", ints in decimal, floats in the
// shortest decimal form that round-trips a 32-bit float.
func (v Value) appendFormat(dst []byte) []byte {
	switch v.Kind {
	case KindBool:
		if v.B {
			return append(dst, "true"...)
		}
		return append(dst, "false"...)
	case KindInt:
		return strconv.AppendInt(dst, v.I, 10)
	case KindFloat:
		return strconv.AppendFloat(dst, float64(v.F), 'g', -1, 32)
	case KindString:
		return append(dst, v.S...)
	default:
		return dst
	}
}

// String formats the value for host display (logging, env dumps).
func (v Value) String() string {
	if v.Kind == KindUnset {
		return "<unset>"
	}
	return string(v.appendFormat(nil))
}
