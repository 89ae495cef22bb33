package oml

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/user/fluxgate/pkg/record"
)

func newRec(fields map[string]string) *record.Record {
	r := record.New(len(fields))
	for k, v := range fields {
		r.AppendNamed(k, record.Chars(v))
	}
	return r
}

func TestPassthroughReturnsInputUnchanged(t *testing.T) {
	in := newRec(map[string]string{"a": "1"})
	out, err := Passthrough.Apply(in)
	require.NoError(t, err)
	require.Same(t, in, out)
}

func TestFieldMapRenameAppliesBeforeDrop(t *testing.T) {
	in := newRec(map[string]string{"old": "v"})
	m := FieldMap{
		Rename: map[string]string{"old": "new"},
		Drop:   map[string]bool{"new": true},
	}
	out, err := m.Apply(in)
	require.NoError(t, err)
	require.Equal(t, 0, out.Len())
}

func TestFieldMapConstFieldsAppended(t *testing.T) {
	in := newRec(map[string]string{"a": "1"})
	m := FieldMap{Const: []record.Field{{Name: "source", Value: record.Chars("fixed")}}}
	out, err := m.Apply(in)
	require.NoError(t, err)

	got := map[string]string{}
	for _, f := range out.Items() {
		got[f.Name] = f.Value.Chars
	}
	require.Equal(t, "1", got["a"])
	require.Equal(t, "fixed", got["source"])
}

func TestFieldMapUUIDFieldsAreDistinctPerCall(t *testing.T) {
	in := newRec(nil)
	m := FieldMap{UUIDFields: []string{"trace_id"}}

	out1, err := m.Apply(in)
	require.NoError(t, err)
	out2, err := m.Apply(in)
	require.NoError(t, err)

	id1 := out1.Items()[0]
	id2 := out2.Items()[0]
	require.Equal(t, "trace_id", id1.Name)
	require.Equal(t, "trace_id", id2.Name)
	require.NotEmpty(t, id1.Value.Chars)
	require.NotEqual(t, id1.Value.Chars, id2.Value.Chars)
}

func TestModelFuncAdaptsPlainFunction(t *testing.T) {
	var m Model = ModelFunc(func(in *record.Record) (*record.Record, error) { return nil, nil })
	out, err := m.Apply(newRec(map[string]string{"a": "1"}))
	require.NoError(t, err)
	require.Nil(t, out)
}
