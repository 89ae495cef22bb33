package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/user/fluxgate"
	"github.com/user/fluxgate/pkg/record"
)

func newTestRecord(fields ...record.Field) *record.Record {
	r := record.New(len(fields))
	for _, f := range fields {
		r.Append(f)
	}
	return r
}

func TestSinkAppendsNewlineIfAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")
	s, err := New(path, nil)
	require.NoError(t, err)

	require.NoError(t, s.SinkString(context.Background(), "hello"))
	require.NoError(t, s.Stop(context.Background()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(b))
}

func TestSinkLockRenameOnStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.dat.lock")
	s, err := New(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.SinkString(context.Background(), "a"))
	require.NoError(t, s.Stop(context.Background()))

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "out.dat"))
	require.NoError(t, err)
}

func TestSinkRecordsBatchWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")
	s, err := New(path, nil)
	require.NoError(t, err)

	r1 := newTestRecord(record.Field{Name: "k", Value: record.Chars("v1")})
	r2 := newTestRecord(record.Field{Name: "k", Value: record.Chars("v2")})
	require.NoError(t, s.SinkRecords(context.Background(), []fluxgate.Rec{r1, r2}))
	require.NoError(t, s.Stop(context.Background()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), "v1")
	require.Contains(t, string(b), "v2")
}

func TestRescueRoundtrip(t *testing.T) {
	nowUTC = func() time.Time { return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) }
	defer func() { nowUTC = func() time.Time { return time.Now().UTC() } }()

	dir := t.TempDir()
	rs, err := NewRescueSink(dir, "biz/file-0", RotateConfig{})
	require.NoError(t, err)

	rec := newTestRecord(
		record.Field{Name: "k", Value: record.Chars("v")},
		record.Field{Name: "n", Value: record.Digit(42)},
	)
	require.NoError(t, rs.SinkRecord(context.Background(), rec))
	path := rs.Path()
	require.Contains(t, path, ".lock")
	require.NoError(t, rs.Stop(context.Background()))

	unlocked := path[:len(path)-len(".lock")]
	b, err := os.ReadFile(unlocked)
	require.NoError(t, err)

	entry, decoded, err := ParseRescueEntry(b[:len(b)-1])
	require.NoError(t, err)
	require.Equal(t, RescueEntryVersion, entry.Version)
	require.Equal(t, "record", entry.Kind)

	v, ok := decoded.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v.Any())
}

func TestRescueRotatesAndCompressesOnThreshold(t *testing.T) {
	seq := []time.Time{
		time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 7, 31, 12, 0, 1, 0, time.UTC),
	}
	i := 0
	nowUTC = func() time.Time {
		ts := seq[i]
		if i < len(seq)-1 {
			i++
		}
		return ts
	}
	defer func() { nowUTC = func() time.Time { return time.Now().UTC() } }()

	dir := t.TempDir()
	rs, err := NewRescueSink(dir, "biz/file-0", RotateConfig{ThresholdBytes: 1, CompressOnRotate: true})
	require.NoError(t, err)

	firstPath := rs.Path()
	rec := newTestRecord(record.Field{Name: "k", Value: record.Chars("v")})
	require.NoError(t, rs.SinkRecord(context.Background(), rec))
	require.NoError(t, rs.Stop(context.Background()))

	unlockedFirst := firstPath[:len(firstPath)-len(".lock")]
	compressed := unlockedFirst + ".zst"
	_, err = os.Stat(compressed)
	require.NoError(t, err, "rotated rescue file should have been zstd-compressed")
	_, err = os.Stat(unlockedFirst)
	require.True(t, os.IsNotExist(err), "uncompressed rotated-off file should be removed")

	zf, err := os.Open(compressed)
	require.NoError(t, err)
	defer zf.Close()
	dec, err := zstd.NewReader(zf)
	require.NoError(t, err)
	defer dec.Close()
	out, err := io.ReadAll(dec)
	require.NoError(t, err)

	entry, decoded, err := ParseRescueEntry(out[:len(out)-1])
	require.NoError(t, err)
	require.Equal(t, "record", entry.Kind)
	v, ok := decoded.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v.Any())

	require.NoError(t, rs.Stop(context.Background()))
}

func TestRescueRawEntry(t *testing.T) {
	dir := t.TempDir()
	rs, err := NewRescueSink(dir, "infra/error-0", RotateConfig{})
	require.NoError(t, err)
	require.NoError(t, rs.SinkString(context.Background(), "raw payload"))
	require.NoError(t, rs.Stop(context.Background()))

	entries, _ := filepath.Glob(filepath.Join(dir, "infra", "*.dat"))
	require.Len(t, entries, 1)
	b, err := os.ReadFile(entries[0])
	require.NoError(t, err)
	entry, _, err := ParseRescueEntry(b[:len(b)-1])
	require.NoError(t, err)
	require.Equal(t, "raw", entry.Kind)
	require.Equal(t, "raw payload", entry.Raw)
}
