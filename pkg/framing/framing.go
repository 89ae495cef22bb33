// Package framing slices an append-only byte buffer into discrete
// application messages using one of three modes: newline-delimited,
// RFC6587 octet-counted length-prefix, or an auto mode that tries one and
// falls back to the other. Grounded on the original Rust
// sources/tcp/framing.rs implementation, re-expressed over a Go
// []byte buffer.
package framing

import (
	"bytes"
	"errors"
)

const (
	// DefaultRecvBytes is the default per-connection read buffer capacity.
	DefaultRecvBytes = 10 * 1024 * 1024
	// MaxLenDigits bounds the ASCII decimal length prefix in Len/Auto mode.
	MaxLenDigits = 10
	// MaxFrameBytes is the hard ceiling on a buffer with no extractable
	// frame; exceeding it is a fatal, connection-closing error.
	MaxFrameBytes = 10_000_000
)

// Mode selects the framing strategy.
type Mode int

const (
	ModeLine Mode = iota
	ModeLen
	ModeAuto
)

// ErrBufferOverflow is returned by DrainAll/CollectAll when the buffer
// exceeds MaxFrameBytes without producing a complete frame.
var ErrBufferOverflow = errors.New("framing: buffer exceeded max frame bytes with no progress")

// Extractor holds framing configuration and the growable buffer being
// fed from a connection. It consumes exactly one message per ExtractOne
// call and advances the buffer accordingly.
type Extractor struct {
	Mode          Mode
	PreferNewline bool
	buf           []byte
}

// NewExtractor returns an Extractor with the given mode/preference and an
// empty buffer.
func NewExtractor(mode Mode, preferNewline bool) *Extractor {
	return &Extractor{Mode: mode, PreferNewline: preferNewline}
}

// Feed appends newly read bytes to the internal buffer.
func (e *Extractor) Feed(b []byte) {
	e.buf = append(e.buf, b...)
}

// Len reports the number of unconsumed bytes currently buffered.
func (e *Extractor) Len() int { return len(e.buf) }

// Buffer exposes a pointer to the underlying buffer, for callers that
// read directly into it or replace it (pkg/source/tcp presizes a fresh
// extractor's buffer through it).
func (e *Extractor) Buffer() *[]byte { return &e.buf }

// ExtractOne returns the next complete message and true, or (nil, false)
// if the buffer does not yet contain one.
func (e *Extractor) ExtractOne() ([]byte, bool) {
	switch e.Mode {
	case ModeLine:
		return extractNewline(&e.buf)
	case ModeLen:
		return extractOctetCounted(&e.buf)
	default:
		if e.PreferNewline {
			if msg, ok := extractNewline(&e.buf); ok {
				return msg, true
			}
			return extractOctetCounted(&e.buf)
		}
		if msg, ok := extractOctetCounted(&e.buf); ok {
			return msg, true
		}
		if octetInProgress(e.buf) {
			// A length prefix is valid so far but its payload has not
			// fully arrived; do not fall back to newline extraction,
			// which could wrongly split mid-payload on a '\n' byte
			// that belongs to the message content.
			return nil, false
		}
		return extractNewline(&e.buf)
	}
}

// octetInProgress reports whether the buffer currently holds the start
// of a valid-so-far length prefix (all digits, no terminating space yet,
// digit run within MaxLenDigits) — used by Auto mode to avoid a
// newline-fallback extraction while more length-prefix bytes are still
// expected.
func octetInProgress(buf []byte) bool {
	i := 0
	for i < len(buf) && buf[i] >= '0' && buf[i] <= '9' {
		i++
	}
	if i == 0 || i > MaxLenDigits {
		return false
	}
	if i >= len(buf) {
		// Digits so far, no terminating space yet: still could be a
		// valid prefix once more bytes arrive.
		return true
	}
	if buf[i] != ' ' {
		return false
	}
	length := 0
	for _, c := range buf[:i] {
		length = length*10 + int(c-'0')
	}
	if length <= 0 || length >= MaxFrameBytes {
		return false
	}
	// Valid prefix, just waiting for the rest of the payload bytes.
	return i+1+length > len(buf)
}

// extractNewline implements Line mode: bytes up to '\n', trailing '\r',
// space, and tab stripped from the returned message. An empty line
// (after the newline, before stripping) still yields a zero-length
// message, consistent with the spec's line-mode contract; "empty lines
// produce no event" is handled one layer up, at the event-building stage
// that discards zero-length payloads in Line mode.
func extractNewline(buf *[]byte) ([]byte, bool) {
	idx := bytes.IndexByte(*buf, '\n')
	if idx < 0 {
		return nil, false
	}
	line := (*buf)[:idx]
	rest := (*buf)[idx+1:]
	for len(line) > 0 {
		last := line[len(line)-1]
		if last == '\r' || last == ' ' || last == '\t' {
			line = line[:len(line)-1]
			continue
		}
		break
	}
	out := make([]byte, len(line))
	copy(out, line)
	*buf = append([]byte(nil), rest...)
	return out, true
}

// extractOctetCounted implements RFC6587 octet-counted framing: an ASCII
// decimal length (1..=MaxLenDigits digits), a single space, then exactly
// that many payload bytes. Zero length, a non-digit prefix, a digit run
// with no following space, a digit run longer than MaxLenDigits, or a
// length >= MaxFrameBytes are all invalid and fall through (caller tries
// newline framing next in Auto mode).
func extractOctetCounted(buf *[]byte) ([]byte, bool) {
	b := *buf
	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	if i == 0 || i > MaxLenDigits {
		return nil, false
	}
	if i >= len(b) || b[i] != ' ' {
		return nil, false
	}
	length := 0
	for _, c := range b[:i] {
		length = length*10 + int(c-'0')
	}
	if length <= 0 || length >= MaxFrameBytes {
		return nil, false
	}
	start := i + 1
	end := start + length
	if end > len(b) {
		return nil, false
	}
	msg := make([]byte, length)
	copy(msg, b[start:end])
	*buf = append([]byte(nil), b[end:]...)
	return msg, true
}
