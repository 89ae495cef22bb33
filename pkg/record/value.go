package record

import (
	"net"
	"time"
)

// Kind identifies which arm of Value is populated.
type Kind int

const (
	KindDigit Kind = iota
	KindFloat
	KindChars
	KindBool
	KindIP
	KindTime
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindDigit:
		return "digit"
	case KindFloat:
		return "float"
	case KindChars:
		return "chars"
	case KindBool:
		return "bool"
	case KindIP:
		return "ip"
	case KindTime:
		return "time"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a typed field value. Exactly one of the typed members is
// meaningful, selected by Kind.
type Value struct {
	Kind   Kind
	Digit  int64
	Float  float64
	Chars  string
	Bool   bool
	IP     net.IP
	Time   time.Time
	Array  []*Record
	Object map[string]Value
}

func Digit(v int64) Value { return Value{Kind: KindDigit, Digit: v} }
func Float(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func Chars(v string) Value  { return Value{Kind: KindChars, Chars: v} }
func Bool(v bool) Value     { return Value{Kind: KindBool, Bool: v} }
func IP(v net.IP) Value     { return Value{Kind: KindIP, IP: v} }
func Time(v time.Time) Value { return Value{Kind: KindTime, Time: v} }
func Array(v []*Record) Value { return Value{Kind: KindArray, Array: v} }
func Object(v map[string]Value) Value { return Value{Kind: KindObject, Object: v} }

// Clone deep-copies array/object members; scalar kinds are copied by value.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindArray:
		out := make([]*Record, len(v.Array))
		for i, r := range v.Array {
			out[i] = r.Clone()
		}
		return Value{Kind: KindArray, Array: out}
	case KindObject:
		out := make(map[string]Value, len(v.Object))
		for k, sub := range v.Object {
			out[k] = sub.Clone()
		}
		return Value{Kind: KindObject, Object: out}
	default:
		return v
	}
}

// Any returns the value unwrapped as an interface{}, for use by callers
// (e.g. the evaluator's Getter) that only need a generic comparison.
func (v Value) Any() interface{} {
	switch v.Kind {
	case KindDigit:
		return v.Digit
	case KindFloat:
		return v.Float
	case KindChars:
		return v.Chars
	case KindBool:
		return v.Bool
	case KindIP:
		return v.IP.String()
	case KindTime:
		return v.Time
	case KindArray:
		return v.Array
	case KindObject:
		return v.Object
	default:
		return nil
	}
}
