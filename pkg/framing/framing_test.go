package framing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractNewlineTrimsTrailingWhitespace(t *testing.T) {
	e := NewExtractor(ModeLine, false)
	e.Feed([]byte("hello\r\n"))
	msg, ok := e.ExtractOne()
	require.True(t, ok)
	require.Equal(t, "hello", string(msg))
}

func TestExtractNewlineCRSpaceAndDoubleNewline(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a\r \n", []string{"a"}},
		{"a\n\n", []string{"a", ""}},
	}
	for _, c := range cases {
		e := NewExtractor(ModeLine, false)
		e.Feed([]byte(c.in))
		var got []string
		for {
			msg, ok := e.ExtractOne()
			if !ok {
				break
			}
			got = append(got, string(msg))
		}
		require.Equal(t, c.want, got)
	}
}

func TestExtractOctetCountedTwoFrames(t *testing.T) {
	e := NewExtractor(ModeLen, false)
	e.Feed([]byte("5 hello6 world!"))
	first, ok := e.ExtractOne()
	require.True(t, ok)
	require.Equal(t, "hello", string(first))
	second, ok := e.ExtractOne()
	require.True(t, ok)
	require.Equal(t, "world!", string(second))
}

func TestExtractOctetCountedZeroLengthFallsThroughToNewline(t *testing.T) {
	e := NewExtractor(ModeAuto, false)
	e.Feed([]byte("0 x\n"))
	msg, ok := e.ExtractOne()
	require.True(t, ok)
	require.Equal(t, "0 x", string(msg))
}

func TestExtractOctetCountedElevenDigitsFallsBackToNewline(t *testing.T) {
	e := NewExtractor(ModeAuto, false)
	e.Feed([]byte("12345678901 rest\n"))
	msg, ok := e.ExtractOne()
	require.True(t, ok)
	require.Equal(t, "12345678901 rest", string(msg))
}

func TestExtractOctetCountedTenDigitsIsValidPrefixShape(t *testing.T) {
	// Ten digits followed by a space is a well-formed prefix; whether the
	// frame completes depends on enough payload bytes being present.
	e := NewExtractor(ModeLen, false)
	e.Feed([]byte("0000000003 abc"))
	msg, ok := e.ExtractOne()
	require.True(t, ok)
	require.Equal(t, "abc", string(msg))
}

func TestAutoPreferNewlineMixedStream(t *testing.T) {
	e := NewExtractor(ModeAuto, true)
	e.Feed([]byte("line1\nabc\n5 wxyz"))
	msgs, err := e.CollectAll(10)
	require.NoError(t, err)
	require.Equal(t, []string{"line1", "abc"}, toStrings(msgs))
	// "5 wxyz" is an in-progress length-prefixed frame (5 bytes promised,
	// only 4 available) with no newline to fall back to; it stays
	// buffered rather than being split or discarded.
	require.Equal(t, 6, e.Len())
}

func TestAutoWaitsOnInProgressLengthPrefixRatherThanFallingBack(t *testing.T) {
	e := NewExtractor(ModeAuto, false)
	e.Feed([]byte("10"))
	_, ok := e.ExtractOne()
	require.False(t, ok, "a partial length prefix must not fall back to newline extraction")
}

func TestAutoDoesNotSplitOnNewlineInsidePendingLengthPayload(t *testing.T) {
	e := NewExtractor(ModeAuto, false)
	// Declares a 10-byte payload but only 5 bytes (with an embedded \n)
	// have arrived so far; must not be misread as a newline frame.
	e.Feed([]byte("10 ab\ncd"))
	_, ok := e.ExtractOne()
	require.False(t, ok)
	require.Equal(t, 8, e.Len())
}

func TestDrainAllReportsOverflow(t *testing.T) {
	e := NewExtractor(ModeLine, false)
	e.Feed(make([]byte, MaxFrameBytes+1))
	err := e.DrainAll(func([]byte) bool { return true })
	require.ErrorIs(t, err, ErrBufferOverflow)
	require.Equal(t, 0, e.Len())
}

func TestDrainAllRespectsBackpressure(t *testing.T) {
	e := NewExtractor(ModeLine, false)
	e.Feed([]byte("a\nb\nc\n"))
	var out []string
	err := e.DrainAll(func(msg []byte) bool {
		out = append(out, string(msg))
		return len(out) < 2
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, out)
	// "c\n" remains unconsumed.
	msg, ok := e.ExtractOne()
	require.True(t, ok)
	require.Equal(t, "c", string(msg))
}

func toStrings(in [][]byte) []string {
	out := make([]string, len(in))
	for i, b := range in {
		out[i] = string(b)
	}
	return out
}
