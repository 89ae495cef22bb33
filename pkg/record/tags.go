package record

// Tags is a small key/value string map attached to a source event. Two
// bags exist per spec: a source's base tags, and per-event tags that
// typically start as a clone of the base plus access_ip/access_source.
// Clone gives copy-on-write semantics: callers share the base map until
// they need to add an entry, at which point they clone first.
type Tags map[string]string

// Clone returns a shallow copy; string values are immutable so a shallow
// copy is a full copy.
func (t Tags) Clone() Tags {
	if t == nil {
		return Tags{}
	}
	out := make(Tags, len(t)+2)
	for k, v := range t {
		out[k] = v
	}
	return out
}

// With returns a clone of t with k=v set, leaving t unmodified.
func (t Tags) With(k, v string) Tags {
	out := t.Clone()
	out[k] = v
	return out
}
