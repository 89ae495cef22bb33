package record

// ProcMeta identifies which parser rule produced a record, or that none
// did. It is a tagged union of exactly two states, matching the
// Rule(wpl_path) | Null shape from the data model.
type ProcMeta struct {
	rule string
	null bool
}

// Rule constructs a ProcMeta carrying a wildcard-path rule identifier.
func Rule(wplPath string) ProcMeta { return ProcMeta{rule: wplPath} }

// Null constructs the empty ProcMeta.
func Null() ProcMeta { return ProcMeta{null: true} }

// IsRule reports whether this ProcMeta carries a rule, returning it.
func (p ProcMeta) IsRule() (string, bool) {
	if p.null {
		return "", false
	}
	return p.rule, true
}

// PkgID identifies a package/record within a single dispatch round, used
// for consistent-hash replica routing.
type PkgID uint64

// SinkRecUnit pairs a package id and processing metadata with a shared,
// immutable record. Consumers must never mutate Data in place — the
// dispatcher clones before any mutation (e.g. appending pre-tags).
type SinkRecUnit struct {
	PkgID PkgID
	Meta  ProcMeta
	Data  *Record
}

// SinkPackage is an ordered batch of units delivered to a sink in one
// channel send.
type SinkPackage []SinkRecUnit
