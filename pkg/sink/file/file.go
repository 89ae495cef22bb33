// Package file implements the plain file sink and the rescue file sink
// from spec.md §4.5: a buffered-writer-with-flush-every-100 append sink,
// and an NDJSON rescue log used as the sink runtime's failover target.
// Grounded on the teacher's pkg/buffer/file_buffer.go
// buffered-writer-with-explicit-flush idiom (rewritten here for a
// flush-every-100-writes policy instead of size-triggered flushing) and
// _examples/original_source/src/sinks/rescue.rs for the exact
// RescueEntry shape and lock-rename-on-close behavior.
package file

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/user/fluxgate"
	"github.com/user/fluxgate/pkg/ferr"
)

// WriteBufferBytes is the buffered writer's capacity.
const WriteBufferBytes = 100 * 1024

// FlushEveryWrites flushes the buffer after this many SinkRecord/SinkString calls.
const FlushEveryWrites = 100

// Formatter renders one record as an appendable line (without a trailing
// newline; Sink adds one if absent). fmt/json/csv/kv/raw/show/proto-text
// per spec.md §6 are all expressible as a Formatter.
type Formatter func(rec fluxgate.Rec) ([]byte, error)

// DefaultFormatter renders "name=value" pairs space-joined, a minimal
// stand-in used when no formatter is supplied.
func DefaultFormatter(rec fluxgate.Rec) ([]byte, error) {
	var sb strings.Builder
	for i, f := range rec.Fields() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%s=%v", f.Name, f.Value)
	}
	return []byte(sb.String()), nil
}

// Sink is the plain append-only file sink.
type Sink struct {
	path      string
	formatter Formatter

	mu      sync.Mutex
	f       *os.File
	bw      *bufio.Writer
	writes  int
	stopped bool
}

// New opens path (creating parent directories) for append, wrapping it
// in a WriteBufferBytes-sized buffered writer. formatter may be nil
// (DefaultFormatter is used).
func New(path string, formatter Formatter) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ferr.Sinkf(ferr.ReasonSystem, "file sink mkdir %s: %v", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, ferr.Sinkf(ferr.ReasonSystem, "file sink open %s: %v", path, err)
	}
	if formatter == nil {
		formatter = DefaultFormatter
	}
	return &Sink{path: path, formatter: formatter, f: f, bw: bufio.NewWriterSize(f, WriteBufferBytes)}, nil
}

func (s *Sink) appendLine(b []byte) error {
	if _, err := s.bw.Write(b); err != nil {
		return err
	}
	if len(b) == 0 || b[len(b)-1] != '\n' {
		if err := s.bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	s.writes++
	if s.writes%FlushEveryWrites == 0 {
		return s.bw.Flush()
	}
	return nil
}

// SinkRecord formats and appends one record.
func (s *Sink) SinkRecord(ctx context.Context, rec fluxgate.Rec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.formatter(rec)
	if err != nil {
		return ferr.Sinkf(ferr.ReasonData, "format record: %v", err)
	}
	if err := s.appendLine(b); err != nil {
		return ferr.Sinkf(ferr.ReasonSink, "write %s: %v", s.path, err)
	}
	return nil
}

// SinkRecords formats every record and issues a single concatenated
// write, per spec.md §4.5's "batch write by concatenating into one
// buffer before a single write_all".
func (s *Sink) SinkRecords(ctx context.Context, recs []fluxgate.Rec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var joined []byte
	for _, rec := range recs {
		b, err := s.formatter(rec)
		if err != nil {
			return ferr.Sinkf(ferr.ReasonData, "format record: %v", err)
		}
		joined = append(joined, b...)
		if len(b) == 0 || b[len(b)-1] != '\n' {
			joined = append(joined, '\n')
		}
	}
	if _, err := s.bw.Write(joined); err != nil {
		return ferr.Sinkf(ferr.ReasonSink, "write batch %s: %v", s.path, err)
	}
	s.writes += len(recs)
	if s.writes%FlushEveryWrites < len(recs) {
		return s.bw.Flush()
	}
	return nil
}

// SinkString appends a raw pre-serialized line.
func (s *Sink) SinkString(ctx context.Context, str string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLine([]byte(str)); err != nil {
		return ferr.Sinkf(ferr.ReasonSink, "write %s: %v", s.path, err)
	}
	return nil
}

// SinkBytes appends raw pre-serialized bytes.
func (s *Sink) SinkBytes(ctx context.Context, b []byte) error {
	return s.SinkString(ctx, string(b))
}

// Ping reports whether the underlying file is still open.
func (s *Sink) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil || s.stopped {
		return ferr.Sinkf(ferr.ReasonSystem, "file sink %s is closed", s.path)
	}
	return nil
}

// Stop flushes and, if path ends with ".lock", renames it to the same
// path without the suffix, per spec.md §4.5/§3.
func (s *Sink) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Sink) stopLocked() error {
	if s.stopped {
		return nil
	}
	s.stopped = true
	var err error
	if s.bw != nil {
		err = s.bw.Flush()
	}
	if s.f != nil {
		if cerr := s.f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if unlocked, ok := strings.CutSuffix(s.path, ".lock"); ok {
		if rerr := os.Rename(s.path, unlocked); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

// Close is the fluxgate.Sink teardown hook; it is equivalent to Stop —
// Go has no destructors, so unlike the Rust original's rename-on-Drop,
// the unlock-rename only happens via an explicit Stop/Close call.
func (s *Sink) Close() error {
	return s.Stop(context.Background())
}

var (
	_ fluxgate.Sink      = (*Sink)(nil)
	_ fluxgate.BatchSink = (*Sink)(nil)
	_ fluxgate.RawSink   = (*Sink)(nil)
)

// Reconnect is a no-op: a plain append-only file sink has no connection
// to lose, so it always reports itself already connected. Satisfies
// runtime.Backend for use as a sink runtime's primary.
func (s *Sink) Reconnect(ctx context.Context) error { return nil }
