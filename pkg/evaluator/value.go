package evaluator

import (
	"fmt"
	"strconv"
)

// Value is the evaluator's own lightweight comparable value, decoupled
// from pkg/record.Value so this package has no dependency on the record
// model; Getter implementations adapt their native value type into this
// one.
type Value struct {
	str      string
	hasStr   bool
	num      float64
	hasNum   bool
	boolean  bool
	hasBool  bool
}

// Str builds a string-valued Value.
func Str(s string) Value { return Value{str: s, hasStr: true} }

// Num builds a numeric-valued Value.
func Num(f float64) Value { return Value{num: f, hasNum: true} }

// Bool builds a boolean-valued Value.
func Bool(b bool) Value { return Value{boolean: b, hasBool: true} }

// AsString renders the value as a string for string-mode comparisons and
// wildcard matching.
func (v Value) AsString() string {
	if v.hasStr {
		return v.str
	}
	if v.hasNum {
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	}
	if v.hasBool {
		return fmt.Sprintf("%v", v.boolean)
	}
	return ""
}

// AsFloat reports whether the value has (or coerces to) a numeric
// reading, for numeric-mode comparisons.
func (v Value) AsFloat() (float64, bool) {
	if v.hasNum {
		return v.num, true
	}
	if v.hasStr {
		if f, err := strconv.ParseFloat(v.str, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
