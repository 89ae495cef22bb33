// Package record implements the pipeline's universal parsed payload: an
// ordered list of named, typed fields (Record), the pre-parse event
// envelope (Tags, ProcMeta), and the shared units the sink dispatcher
// fans out without copying (SinkRecUnit, SinkPackage).
//
// The design mirrors the teacher's pkg/message.DefaultMessage in being
// sync.Pool-backed (see pool.go), adapted from a fixed CDC shape
// (before/after/payload) to an open, ordered field list. A Record keeps
// no derived representations and no mutex of its own.
package record

import "github.com/user/fluxgate"

// Field is one named, typed value within a Record.
type Field struct {
	Name  string
	Value Value
}

// Record is an ordered list of fields. The zero value is an empty record
// ready to use.
type Record struct {
	items []Field
}

// New returns an empty record with room for n fields.
func New(n int) *Record {
	return &Record{items: make([]Field, 0, n)}
}

// Append adds a field, preserving insertion order. Duplicate names are
// allowed and not deduplicated here; callers that need last-wins
// semantics (e.g. pre-tags) call SetLast instead.
func (r *Record) Append(f Field) {
	r.items = append(r.items, f)
}

// AppendNamed is a convenience wrapper around Append.
func (r *Record) AppendNamed(name string, v Value) {
	r.Append(Field{Name: name, Value: v})
}

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.items) }

// Items returns the underlying field slice. Callers must not mutate it;
// use Clone first if mutation is required (copy-on-write, per the
// dispatcher's sharing invariant).
func (r *Record) Items() []Field { return r.items }

// Fields satisfies fluxgate.Rec.
func (r *Record) Fields() []fluxgate.Field {
	out := make([]fluxgate.Field, len(r.items))
	for i, f := range r.items {
		out[i] = fluxgate.Field{Name: f.Name, Value: f.Value.Any()}
	}
	return out
}

// Get returns the last field with the given name (last-wins lookup,
// matching how pre-tags and overrides are expected to resolve).
func (r *Record) Get(name string) (Value, bool) {
	for i := len(r.items) - 1; i >= 0; i-- {
		if r.items[i].Name == name {
			return r.items[i].Value, true
		}
	}
	return Value{}, false
}

// Clone deep-copies the record. Used whenever the dispatcher must mutate
// a record it does not own exclusively (SinkRecUnit.data is shared).
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{items: make([]Field, len(r.items))}
	for i, f := range r.items {
		out.items[i] = Field{Name: f.Name, Value: f.Value.Clone()}
	}
	return out
}

// Reset clears the record for pool reuse.
func (r *Record) Reset() {
	r.items = r.items[:0]
}
