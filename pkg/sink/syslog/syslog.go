// Package syslog implements the "syslog" sink kind: records are
// formatted (sharing pkg/sink/file's Formatter type) and sent with a
// synthesized "<PRI>" header over UDP or TCP. Grounded on pkg/netio's
// Writer (C4) for transport and pkg/source/syslog's PRI encoding (C9,
// inverted here: facility*8+severity instead of decoded from it).
package syslog

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/user/fluxgate"
	"github.com/user/fluxgate/pkg/ferr"
	"github.com/user/fluxgate/pkg/netio"
	"github.com/user/fluxgate/pkg/sink/file"
)

// Sink forwards formatted records to a remote syslog collector with a
// synthesized PRI header.
type Sink struct {
	addr      string
	udp       bool
	pri       int
	formatter file.Formatter
	backoff   netio.BackoffPolicy

	mu   sync.Mutex
	conn net.Conn
	w    *netio.Writer
}

// New dials addr (udp selects "udp", else "tcp") and wraps the
// connection. facility/severity compose the PRI prefix every line
// carries; formatter may be nil (file.DefaultFormatter is used).
func New(addr string, udp bool, facility, severity int, formatter file.Formatter, backoff netio.BackoffPolicy) (*Sink, error) {
	if formatter == nil {
		formatter = file.DefaultFormatter
	}
	s := &Sink{addr: addr, udp: udp, pri: facility*8 + severity, formatter: formatter, backoff: backoff}
	if err := s.dial(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) network() string {
	if s.udp {
		return "udp"
	}
	return "tcp"
}

func (s *Sink) dial() error {
	conn, err := net.Dial(s.network(), s.addr)
	if err != nil {
		return ferr.Sinkf(ferr.ReasonSystem, "syslog sink dial %s: %v", s.addr, err)
	}
	s.conn = conn
	s.w = netio.New(conn, s.udp, netio.DefaultProbe, s.backoff, 0)
	return nil
}

func (s *Sink) frame(b []byte) []byte {
	return []byte(fmt.Sprintf("<%d>%s\n", s.pri, b))
}

// SinkRecord formats rec, prepends its PRI header, and writes it.
func (s *Sink) SinkRecord(ctx context.Context, rec fluxgate.Rec) error {
	b, err := s.formatter(rec)
	if err != nil {
		return ferr.Sinkf(ferr.ReasonData, "syslog sink format: %v", err)
	}
	s.mu.Lock()
	w := s.w
	s.mu.Unlock()
	return w.Write(ctx, s.frame(b))
}

// Ping reports whether this sink currently holds a live connection.
func (s *Sink) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ferr.Sinkf(ferr.ReasonDisconnect, "syslog sink %s not connected", s.addr)
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
	conn, err := net.Dial(s.network(), s.addr)
	if err != nil {
		return ferr.Sinkf(ferr.ReasonDisconnect, "syslog sink reconnect %s: %v", s.addr, err)
	}
	s.conn = conn
	s.w = netio.New(conn, s.udp, netio.DefaultProbe, s.backoff, 0)
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
