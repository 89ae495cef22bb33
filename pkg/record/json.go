package record

// ToMap renders the record as a plain map, for JSON marshaling by
// callers that need a self-describing representation (e.g. GetPath and
// SetPath's JSON projection). Arrays of sub-records and nested objects
// are rendered recursively.
func (r *Record) ToMap() map[string]interface{} {
	if r == nil {
		return nil
	}
	out := make(map[string]interface{}, len(r.items))
	for _, f := range r.items {
		out[f.Name] = f.Value.toJSON()
	}
	return out
}

func (v Value) toJSON() interface{} {
	switch v.Kind {
	case KindArray:
		out := make([]map[string]interface{}, len(v.Array))
		for i, sub := range v.Array {
			out[i] = sub.ToMap()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.Object))
		for k, sub := range v.Object {
			out[k] = sub.toJSON()
		}
		return out
	default:
		return v.Any()
	}
}

// FromMap builds a Record from a plain map decoded from JSON (e.g. a
// rescue file entry read back). JSON strings decode as Chars, booleans
// as Bool and numbers as Float (encoding/json's default), so Digit, IP
// and Time values do not come back with their original kind; this is the
// best-effort reverse of ToMap for untyped data.
func FromMap(m map[string]interface{}) *Record {
	r := New(len(m))
	for k, v := range m {
		r.AppendNamed(k, fromJSONValue(v))
	}
	return r
}

func fromJSONValue(v interface{}) Value {
	switch t := v.(type) {
	case float64:
		return Float(t)
	case string:
		return Chars(t)
	case bool:
		return Bool(t)
	case map[string]interface{}:
		obj := make(map[string]Value, len(t))
		for k, sub := range t {
			obj[k] = fromJSONValue(sub)
		}
		return Object(obj)
	case []interface{}:
		arr := make([]*Record, 0, len(t))
		for _, sub := range t {
			if m, ok := sub.(map[string]interface{}); ok {
				arr = append(arr, FromMap(m))
			}
		}
		return Array(arr)
	default:
		return Chars("")
	}
}
