// Package file implements the chunked-line file source from spec.md
// §4.10: one Source per assigned byte range of a file, reading
// newline-delimited lines and batching them into events, plus the
// multi-instance range-split algorithm used to divide one file across
// cooperating instances (SplitRanges puts no upper bound on their
// number). Grounded on
// _examples/original_source/src/sources/file/chunk_reader.rs
// (ChunkedLineReader: ReadBytes('\n')-equivalent, CRLF trim,
// remaining-byte-budget truncation-on-boundary) and factory.rs for the
// range-split algorithm, re-expressed over bufio.Reader and
// io.LimitReader instead of a hand-rolled byte-budget counter.
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/user/fluxgate"
	"github.com/user/fluxgate/pkg/ferr"
)

// DefaultBatchLines bounds the number of events a single Receive call
// returns.
const DefaultBatchLines = 128

// DefaultBatchBytes is the payload-byte budget of a single Receive call:
// Receive stops reading once the batch holds at least this many bytes,
// so the line that crosses the budget is still included.
const DefaultBatchBytes = 400 * 1024

const readChunkBytes = 64 * 1024

// Encoding selects how a line's bytes are decoded into an event payload.
type Encoding int

const (
	Text Encoding = iota
	Base64
	Hex
)

// ErrEOF is returned (never a nil-error empty batch) once a Source's
// assigned range is fully consumed, per spec.md §8 boundary behavior #3.
var ErrEOF = ferr.Sourcef(ferr.ReasonEOF, "file source exhausted")

// Range is one instance's assigned byte span within a file, [Start,
// End), with its instance Name.
type Range struct {
	Start, End int64
	Name       string
}

// SplitRanges divides size across n instances, aligning every interior
// boundary forward to the next newline so no instance ever starts or
// ends mid-line. Boundaries that align to or past EOF are dropped
// (deduped) rather than producing an empty trailing range. Instances are
// named "<key>-<idx>" when n>1; a single instance keeps the bare key.
func SplitRanges(r io.ReaderAt, size int64, n int, key string) ([]Range, error) {
	if n < 1 {
		n = 1
	}
	if n == 1 {
		return []Range{{Start: 0, End: size, Name: key}}, nil
	}

	boundaries := make([]int64, 0, n+1)
	boundaries = append(boundaries, 0)
	for i := 1; i < n; i++ {
		raw := size * int64(i) / int64(n)
		aligned, err := alignForward(r, raw, size)
		if err != nil {
			return nil, err
		}
		boundaries = append(boundaries, aligned)
	}
	boundaries = append(boundaries, size)

	var out []Range
	idx := 0
	for i := 0; i < len(boundaries)-1; i++ {
		start, end := boundaries[i], boundaries[i+1]
		if start >= end || start >= size {
			continue
		}
		name := key
		if n > 1 {
			name = key + "-" + itoa(idx)
		}
		out = append(out, Range{Start: start, End: end, Name: name})
		idx++
	}
	if len(out) == 0 {
		out = append(out, Range{Start: 0, End: size, Name: key})
	}
	return out, nil
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// alignForward finds the offset of the next byte after the first '\n'
// at or after pos, or size if none remains.
func alignForward(r io.ReaderAt, pos, size int64) (int64, error) {
	if pos >= size {
		return size, nil
	}
	buf := make([]byte, readChunkBytes)
	cur := pos
	for cur < size {
		n, err := r.ReadAt(buf, cur)
		if n > 0 {
			if idx := bytes.IndexByte(buf[:n], '\n'); idx >= 0 {
				return cur + int64(idx) + 1, nil
			}
			cur += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return size, nil
			}
			return 0, err
		}
	}
	return size, nil
}

// Source reads newline-delimited lines from [start, end) of path.
type Source struct {
	name   string
	path   string
	encode Encoding
	tags   map[string]string

	mu   sync.Mutex
	f    *os.File
	br   *bufio.Reader
	eof  bool
}

// New opens path and seeks to start, reading no further than end.
func New(name, path string, start, end int64, encode Encoding, tags map[string]string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ferr.Sourcef(ferr.ReasonSystem, "open %s: %v", path, err)
	}
	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			f.Close()
			return nil, ferr.Sourcef(ferr.ReasonSystem, "seek %s: %v", path, err)
		}
	}
	lr := io.LimitReader(f, end-start)
	return &Source{name: name, path: path, encode: encode, tags: tags, f: f, br: bufio.NewReaderSize(lr, readChunkBytes)}, nil
}

// Receive accumulates up to DefaultBatchLines lines or DefaultBatchBytes
// of decoded payload. Once the assigned range is exhausted, returns
// ErrEOF rather than an empty batch with a nil error.
func (s *Source) Receive(ctx context.Context) (fluxgate.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eof {
		return nil, ErrEOF
	}

	var batch fluxgate.Batch
	used := 0
	for len(batch) < DefaultBatchLines && used < DefaultBatchBytes {
		line, readErr := s.br.ReadBytes('\n')
		line = trimCRLF(line)
		if len(line) > 0 {
			payload, decErr := decodePayload(line, s.encode)
			if decErr != nil {
				return nil, ferr.Sourcef(ferr.ReasonData, "decode line from %s: %v", s.path, decErr)
			}
			batch = append(batch, fluxgate.Event{Source: s.name, Payload: payload, Tags: s.tags})
			used += len(payload)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				s.eof = true
				break
			}
			return nil, ferr.Sourcef(ferr.ReasonSystem, "read %s: %v", s.path, readErr)
		}
	}

	if len(batch) == 0 {
		return nil, ErrEOF
	}
	return batch, nil
}

// Close releases the underlying file handle.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

var _ fluxgate.Source = (*Source)(nil)

func trimCRLF(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return line
}

func decodePayload(line []byte, encode Encoding) ([]byte, error) {
	switch encode {
	case Base64:
		out := make([]byte, base64.StdEncoding.DecodedLen(len(line)))
		n, err := base64.StdEncoding.Decode(out, line)
		if err != nil {
			return nil, err
		}
		return out[:n], nil
	case Hex:
		out := make([]byte, hex.DecodedLen(len(line)))
		n, err := hex.Decode(out, line)
		if err != nil {
			return nil, err
		}
		return out[:n], nil
	default:
		return line, nil
	}
}
