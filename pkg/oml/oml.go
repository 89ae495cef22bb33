// Package oml defines the Model seam the sink dispatcher (C7) applies to
// records before fanout. The OML transform language itself is out of
// scope (spec.md §1: "we only consume compiled models"); this package
// ships the interface plus two concrete, supplemental models —
// Passthrough and FieldMap — enough to exercise the dispatcher's
// transform-present code path without building a language. FieldMap is
// grounded on the teacher's MappingTransformer in
// pkg/transformer/transformer.go, generalized from a full transformer
// chain to a single rename/drop/const-add step.
package oml

import (
	"github.com/google/uuid"

	"github.com/user/fluxgate/pkg/record"
)

// Model transforms one input record into zero or one output records. An
// empty (nil) result with a nil error means the input record was
// deliberately dropped (e.g. it failed a field-presence check); the
// dispatcher routes such inputs to the infra "error" sink per spec.md
// §4.7.
type Model interface {
	Apply(in *record.Record) (*record.Record, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(in *record.Record) (*record.Record, error)

func (f ModelFunc) Apply(in *record.Record) (*record.Record, error) { return f(in) }

// Passthrough returns the input unchanged. It exists so a sink group can
// name an OML model explicitly while still going through the
// per-record-transform path (as opposed to the dispatcher's no-model
// fast path), which matters for groups that also have per-sink filters.
var Passthrough Model = ModelFunc(func(in *record.Record) (*record.Record, error) { return in, nil })

// FieldMap renames, drops, and adds constant fields. Rename maps an
// existing field name to a new name (applied first); Drop removes named
// fields (applied after Rename and matched against the post-rename name,
// so a renamed field is dropped only by its new name); Const appends fixed-value fields; UUIDFields
// appends a freshly generated random UUID under each named field, the
// same per-record field synthesis the teacher's rule evaluator and
// transformer chain offer as a "uuid" generator case.
type FieldMap struct {
	Rename     map[string]string
	Drop       map[string]bool
	Const      []record.Field
	UUIDFields []string
}

// Apply builds a new record: every input field is kept (renamed if
// listed in Rename, dropped if listed in Drop after renaming), then
// Const fields are appended, then a fresh UUID is generated per name in
// UUIDFields. Returns an empty record if every input field was dropped
// and no Const/UUIDFields were configured — callers that want "empty
// means drop the record" rely on Record.Len() == 0.
func (m FieldMap) Apply(in *record.Record) (*record.Record, error) {
	out := record.New(in.Len() + len(m.Const) + len(m.UUIDFields))
	for _, f := range in.Items() {
		name := f.Name
		if renamed, ok := m.Rename[name]; ok {
			name = renamed
		}
		if m.Drop[name] {
			continue
		}
		out.AppendNamed(name, f.Value)
	}
	for _, f := range m.Const {
		out.Append(f)
	}
	for _, name := range m.UUIDFields {
		out.AppendNamed(name, record.Chars(uuid.New().String()))
	}
	return out, nil
}
