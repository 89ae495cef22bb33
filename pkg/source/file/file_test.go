package file

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "fluxgate-file-source-*")
	require.NoError(t, err)
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

// TestThreeLinesThenEOF covers spec scenario S1: "a\nb\nc\n" with a
// single instance yields three events in order, then ErrEOF on the
// fourth receive.
func TestThreeLinesThenEOF(t *testing.T) {
	path := writeTemp(t, "a\nb\nc\n")
	info, err := os.Stat(path)
	require.NoError(t, err)

	src, err := New("file-0", path, 0, info.Size(), Text, nil)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	batch, err := src.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	require.Equal(t, "a", string(batch[0].Payload))
	require.Equal(t, "b", string(batch[1].Payload))
	require.Equal(t, "c", string(batch[2].Payload))

	_, err = src.Receive(ctx)
	require.True(t, errors.Is(err, ErrEOF))
}

func TestCRLFIsTrimmed(t *testing.T) {
	path := writeTemp(t, "a\r\nb\r\n")
	info, err := os.Stat(path)
	require.NoError(t, err)

	src, err := New("file-0", path, 0, info.Size(), Text, nil)
	require.NoError(t, err)
	defer src.Close()

	batch, err := src.Receive(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, []string{string(batch[0].Payload), string(batch[1].Payload)})
}

func TestBase64EncodingDecoded(t *testing.T) {
	// "hello" and "world" base64-encoded, one per line.
	path := writeTemp(t, "aGVsbG8=\nd29ybGQ=\n")
	info, err := os.Stat(path)
	require.NoError(t, err)

	src, err := New("file-0", path, 0, info.Size(), Base64, nil)
	require.NoError(t, err)
	defer src.Close()

	batch, err := src.Receive(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"hello", "world"}, []string{string(batch[0].Payload), string(batch[1].Payload)})
}

// TestTruncateOnRangeBoundary covers the intentional truncate-on-boundary
// behavior: a range ending mid-line returns only the bytes within the
// range rather than reading through to the line's terminator.
func TestTruncateOnRangeBoundary(t *testing.T) {
	path := writeTemp(t, "abcdef\n")
	src, err := New("file-0", path, 0, 3, Text, nil)
	require.NoError(t, err)
	defer src.Close()

	batch, err := src.Receive(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, "abc", string(batch[0].Payload))

	_, err = src.Receive(context.Background())
	require.True(t, errors.Is(err, ErrEOF))
}

// TestSplitRangesAlignsToNewlines covers testable property #7: dividing
// a file across multiple instances aligns every interior boundary
// forward to the next newline, and names instances "<key>-<idx>".
func TestSplitRangesAlignsToNewlines(t *testing.T) {
	path := writeTemp(t, "aaaa\nbbbb\ncccc\ndddd\n")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)

	ranges, err := SplitRanges(f, info.Size(), 2, "input")
	require.NoError(t, err)
	require.Len(t, ranges, 2)
	require.Equal(t, "input-0", ranges[0].Name)
	require.Equal(t, "input-1", ranges[1].Name)
	require.Equal(t, int64(0), ranges[0].Start)
	require.Equal(t, ranges[0].End, ranges[1].Start)
	require.Equal(t, info.Size(), ranges[1].End)

	// the boundary must land exactly after a '\n', never mid-line.
	boundaryByte := make([]byte, 1)
	_, err = f.ReadAt(boundaryByte, ranges[0].End-1)
	require.NoError(t, err)
	require.Equal(t, byte('\n'), boundaryByte[0])
}

func TestSplitRangesSingleInstanceKeepsBareKey(t *testing.T) {
	path := writeTemp(t, "a\nb\n")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)

	ranges, err := SplitRanges(f, info.Size(), 1, "input")
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	require.Equal(t, "input", ranges[0].Name)
}

// TestSplitRangesDedupesBoundariesPastEOF covers the dedup rule: when
// dividing a very small file across many instances, boundaries that
// align to or past EOF collapse rather than producing empty ranges.
func TestSplitRangesDedupesBoundariesPastEOF(t *testing.T) {
	path := writeTemp(t, "ab\n")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)

	ranges, err := SplitRanges(f, info.Size(), 8, "input")
	require.NoError(t, err)
	for _, rg := range ranges {
		require.Less(t, rg.Start, rg.End)
		require.LessOrEqual(t, rg.End, info.Size())
	}
}
