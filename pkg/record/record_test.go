package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordGetLastWins(t *testing.T) {
	r := New(2)
	r.AppendNamed("k", Chars("v1"))
	r.AppendNamed("k", Chars("v2"))
	v, ok := r.Get("k")
	require.True(t, ok)
	require.Equal(t, "v2", v.Chars)
}

func TestRecordCloneIsDeep(t *testing.T) {
	inner := New(1)
	inner.AppendNamed("x", Digit(1))
	r := New(1)
	r.AppendNamed("arr", Array([]*Record{inner}))

	clone := r.Clone()
	clone.Items()[0].Value.Array[0].AppendNamed("y", Digit(2))

	require.Equal(t, 1, inner.Len(), "mutating the clone must not affect the original")
	require.Equal(t, 2, clone.Items()[0].Value.Array[0].Len())
}

func TestNextEventIDMonotonic(t *testing.T) {
	prev := NextEventID()
	for i := 0; i < 1000; i++ {
		next := NextEventID()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestTagsCloneIndependence(t *testing.T) {
	base := Tags{"a": "1"}
	derived := base.With("b", "2")
	require.Len(t, base, 1)
	require.Equal(t, "2", derived["b"])
}

func TestAcquireReleaseResets(t *testing.T) {
	r := Acquire()
	r.AppendNamed("a", Bool(true))
	Release(r)
	r2 := Acquire()
	require.Equal(t, 0, r2.Len())
}
