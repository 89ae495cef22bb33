// Package tcp implements the "tcp" sink kind: a pkg/netio.Writer bound
// to one outbound connection, formatting records the same way the file
// sink does (shared Formatter type) before writing them over the wire.
// Grounded on pkg/netio's Writer (C4) for the backoff/rate-limit/send
// semantics and pkg/sink/file's buffered-writer sink (C5) for the
// formatter/trailing-newline convention, composed into a
// pkg/sink/runtime.Backend so the sink runtime and maintainer (C6/C11)
// can drive it identically to the file and syslog sinks.
package tcp

import (
	"context"
	"net"
	"sync"

	"github.com/user/fluxgate"
	"github.com/user/fluxgate/pkg/ferr"
	"github.com/user/fluxgate/pkg/netio"
	"github.com/user/fluxgate/pkg/sink/file"
)

// Sink writes formatted records to a single outbound TCP connection.
type Sink struct {
	addr      string
	formatter file.Formatter
	backoff   netio.BackoffPolicy
	rateRPS   float64

	mu   sync.Mutex
	conn net.Conn
	w    *netio.Writer
}

// New dials addr and wraps the connection in a netio.Writer. formatter
// may be nil (file.DefaultFormatter is used).
func New(addr string, formatter file.Formatter, backoff netio.BackoffPolicy, rateLimitRPS float64) (*Sink, error) {
	if formatter == nil {
		formatter = file.DefaultFormatter
	}
	s := &Sink{addr: addr, formatter: formatter, backoff: backoff, rateRPS: rateLimitRPS}
	if err := s.dial(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) dial() error {
	conn, err := net.Dial("tcp", s.addr)
	if err != nil {
		return ferr.Sinkf(ferr.ReasonSystem, "tcp sink dial %s: %v", s.addr, err)
	}
	s.conn = conn
	s.w = netio.New(conn, false, netio.DefaultProbe, s.backoff, s.rateRPS)
	return nil
}

func appendTrailingNewline(b []byte) []byte {
	if len(b) == 0 || b[len(b)-1] != '\n' {
		return append(b, '\n')
	}
	return b
}

// SinkRecord formats and writes a single record.
func (s *Sink) SinkRecord(ctx context.Context, rec fluxgate.Rec) error {
	b, err := s.formatter(rec)
	if err != nil {
		return ferr.Sinkf(ferr.ReasonData, "tcp sink format: %v", err)
	}
	s.mu.Lock()
	w := s.w
	s.mu.Unlock()
	return w.Write(ctx, appendTrailingNewline(b))
}

// SinkRecords formats every record and writes them as one batched send.
func (s *Sink) SinkRecords(ctx context.Context, recs []fluxgate.Rec) error {
	bufs := make([][]byte, 0, len(recs))
	for _, rec := range recs {
		b, err := s.formatter(rec)
		if err != nil {
			return ferr.Sinkf(ferr.ReasonData, "tcp sink format: %v", err)
		}
		bufs = append(bufs, appendTrailingNewline(b))
	}
	s.mu.Lock()
	w := s.w
	s.mu.Unlock()
	return w.WriteBatch(ctx, bufs)
}

// Ping reports whether the current connection is believed healthy;
// this sink has no round-trip probe, so Ping is a presence check only.
func (s *Sink) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ferr.Sinkf(ferr.ReasonDisconnect, "tcp sink %s not connected", s.addr)
	}
	return nil
}

// Reconnect closes the current connection (if any) and dials a fresh one.
func (s *Sink) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
	conn, err := net.Dial("tcp", s.addr)
	if err != nil {
		return ferr.Sinkf(ferr.ReasonDisconnect, "tcp sink reconnect %s: %v", s.addr, err)
	}
	s.conn = conn
	s.w = netio.New(conn, false, netio.DefaultProbe, s.backoff, s.rateRPS)
	return nil
}

// Close shuts down the write side and closes the connection.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		s.w.Shutdown()
	}
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

var _ fluxgate.Sink = (*Sink)(nil)
var _ fluxgate.BatchSink = (*Sink)(nil)
