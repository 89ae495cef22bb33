package record

import "github.com/user/fluxgate/pkg/evaluator"

// Getter adapts *Record into an evaluator.Getter: looking up "$flag"
// style filter variables (spec.md §4.2's compare var names, e.g.
// "$flag == chars(yes)") strips an optional leading '$' and resolves the
// remaining name as a field lookup. Names containing a '.' or '[' are
// resolved via GetPath, so a filter can address into a nested
// object/array field (e.g. "$meta.region == chars(eu)").
func (r *Record) Getter() evaluator.Getter {
	return evaluator.GetterFunc(func(name string) (evaluator.Value, bool) {
		if len(name) > 0 && name[0] == '$' {
			name = name[1:]
		}
		v, ok := r.GetPath(name)
		if !ok {
			return evaluator.Value{}, false
		}
		return v.EvalValue(), true
	})
}

// EvalValue converts a record Value into the evaluator package's own
// lightweight comparable Value.
func (v Value) EvalValue() evaluator.Value {
	switch v.Kind {
	case KindDigit:
		return evaluator.Num(float64(v.Digit))
	case KindFloat:
		return evaluator.Num(v.Float)
	case KindBool:
		return evaluator.Bool(v.Bool)
	case KindChars:
		return evaluator.Str(v.Chars)
	case KindIP:
		return evaluator.Str(v.IP.String())
	case KindTime:
		return evaluator.Str(v.Time.Format("2006-01-02T15:04:05Z07:00"))
	default:
		return evaluator.Str("")
	}
}
