package debuggee

import (
	"fmt"
	"math"
	"strconv"
)

// Kind classifies engine values.
type Kind int

const (
	KindUndefined Kind = iota
	KindNull
	KindBoolean
	KindNumber
	KindString
	KindObject
	KindFunction
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindFunction:
		return "function"
	default:
		return "unknown"
	}
}

// IsReference reports whether values of this kind live behind a handle.
func (k Kind) IsReference() bool {
	return k == KindObject || k == KindFunction
}

// Value is an engine value as seen at one point of a pause. Handle is only
// meaningful for reference kinds and only until the next ReleaseHandles.
type Value struct {
	Kind        Kind
	Bool        bool
	Number      float64
	Str         string
	Handle      int
	ClassName   string
	Description string
	// Record carries nested properties, e.g. the "handle" of a return value.
	Record Record
}

func Undefined() Value { return Value{Kind: KindUndefined} }

func Null() Value { return Value{Kind: KindNull} }

func Bool(b bool) Value { return Value{Kind: KindBoolean, Bool: b} }

func Number(f float64) Value { return Value{Kind: KindNumber, Number: f} }

func Int(i int) Value { return Number(float64(i)) }

func String(s string) Value { return Value{Kind: KindString, Str: s} }

func Object(handle int, className, description string) Value {
	return Value{Kind: KindObject, Handle: handle, ClassName: className, Description: description}
}

func Function(handle int, name string) Value {
	return Value{Kind: KindFunction, Handle: handle, ClassName: "Function", Description: "function " + name}
}

// Describe returns a short human readable rendering.
func (v Value) Describe() string {
	switch v.Kind {
	case KindUndefined, KindNull:
		return v.Kind.String()
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindNumber:
		return FormatNumber(v.Number)
	case KindString:
		return v.Str
	default:
		if v.Description != "" {
			return v.Description
		}
		return v.ClassName
	}
}

// FormatNumber renders f the way script engines print numbers: integral
// values without a fraction.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == math.Trunc(f) && math.Abs(f) < 1e21:
		return strconv.FormatFloat(f, 'f', -1, 64)
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

// Unserializable reports the spelling of numbers JSON cannot carry.
func (v Value) Unserializable() (string, bool) {
	if v.Kind != KindNumber {
		return "", false
	}
	switch {
	case math.IsNaN(v.Number), math.IsInf(v.Number, 0):
		return FormatNumber(v.Number), true
	case v.Number == 0 && math.Signbit(v.Number):
		return "-0", true
	}
	return "", false
}

func (v Value) GoString() string {
	return fmt.Sprintf("debuggee.Value{%s %s handle=%d}", v.Kind, v.Describe(), v.Handle)
}

// Exception is returned by Evaluate when the evaluated code raised an error.
// It is a script-level outcome, not an engine failure.
type Exception struct {
	Text   string
	Value  Value
	Line   int
	Column int
}

func (e *Exception) Error() string {
	return "uncaught exception: " + e.Text
}
