package record

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// GetPath resolves a field name that may address into a nested
// Object/Array value using gjson path syntax (e.g. "meta.region",
// "tags.0"), mirroring the teacher's GetValByPath helper in
// pkg/evaluator/evaluator.go. A plain name with no path separators
// resolves via the fast top-level Get lookup instead of paying for a
// JSON round-trip.
func (r *Record) GetPath(path string) (Value, bool) {
	if !strings.ContainsAny(path, ".[]") {
		return r.Get(path)
	}
	data, err := json.Marshal(r.ToMap())
	if err != nil {
		return Value{}, false
	}
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return Value{}, false
	}
	return fromJSONValue(res.Value()), true
}

// SetPath returns a new Record with path set to v within the record's
// JSON projection, using sjson the way the teacher's SetValByPath does —
// the path-addressed counterpart to GetPath, letting a fieldmap-style
// OML model reach into nested object/array fields instead of only
// top-level ones.
func (r *Record) SetPath(path string, v Value) (*Record, error) {
	data, err := json.Marshal(r.ToMap())
	if err != nil {
		return nil, err
	}
	out, err := sjson.SetBytes(data, path, v.Any())
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(out, &m); err != nil {
		return nil, err
	}
	return FromMap(m), nil
}
