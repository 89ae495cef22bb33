// Package netio wraps a net.Conn (UDP or TCP) with the shared write
// behavior spec.md §4.4 describes: optional send-queue-aware backoff,
// rate limiting, typed write errors, and a drain-on-shutdown contract.
// Grounded on the teacher's adaptive-throttle idiom in
// pkg/engine/engine.go (adaptiveThrottle: sleep-based backoff that grows
// and decays with observed pressure), generalized from message-batch
// throttling to raw byte-stream backoff, plus golang.org/x/time/rate for
// the rate_limit_rps path.
package netio

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/user/fluxgate/pkg/ferr"
)

// SmallBypassBytes is both the size limit for a "small" write and the
// cumulative-bytes stride between probes for such writes: small writes
// are probed once every SmallBypassBytes bytes written, larger writes
// only every LargeProbeStrideBytes bytes written, per spec.md §4.4's
// probe-frequency throttle.
const SmallBypassBytes = 512

// LargeProbeStrideBytes is the cumulative-bytes stride between probes
// once writes exceed SmallBypassBytes.
const LargeProbeStrideBytes = 64 * 1024

// BackoffKind selects the send-queue-aware backoff policy.
type BackoffKind int

const (
	BackoffNone BackoffKind = iota
	BackoffFixed
	BackoffAdaptive
)

// BackoffPolicy configures the optional send-queue-aware sleep applied
// before a write when kernel send-queue occupancy is high.
type BackoffPolicy struct {
	Kind       BackoffKind
	FixedMS    int64 // used when Kind == BackoffFixed
	MaxMS      int64 // adaptive ceiling; defaults to 8 if zero
	HighWaterPercent float64 // occupancy/capacity threshold that triggers a sleep; defaults to 0.8 if zero
}

func (p BackoffPolicy) highWater() float64 {
	if p.HighWaterPercent <= 0 {
		return 0.8
	}
	return p.HighWaterPercent
}

func (p BackoffPolicy) maxMS() int64 {
	if p.MaxMS <= 0 {
		return 8
	}
	return p.MaxMS
}

// SendQueueProbe reports kernel TCP send-queue occupancy as a best-effort
// OS probe: (occupancy, capacity, ok). ok is false when unsupported (any
// non-TCP conn, or a platform without a probe implementation), in which
// case callers treat backoff as a no-op and drain as immediate-return.
type SendQueueProbe func(conn net.Conn) (occupancy, capacity int, ok bool)

// Writer wraps a net.Conn with rate limiting, send-queue-aware backoff,
// and drain/shutdown semantics shared between the UDP and TCP egress
// paths.
type Writer struct {
	conn  net.Conn
	udp   bool
	probe SendQueueProbe

	backoff BackoffPolicy
	limiter *rate.Limiter // nil disables rate limiting

	mu             sync.Mutex
	adaptiveMS     int64
	writtenSinceProbe int64
	avgWriteSize   float64
}

// New wraps conn. isUDP selects send (datagram) vs write_all (stream)
// semantics. probe may be nil (no send-queue awareness). rateLimitRPS<=0
// disables the limiter entirely; rateLimitRPS>0 enables it and, per
// spec.md §4.4, disables the send-queue backoff ("backpressure is
// disabled when explicit rate_limit_rps > 0").
func New(conn net.Conn, isUDP bool, probe SendQueueProbe, backoff BackoffPolicy, rateLimitRPS float64) *Writer {
	w := &Writer{conn: conn, udp: isUDP, probe: probe, backoff: backoff}
	if rateLimitRPS > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(rateLimitRPS), int(rateLimitRPS)+1)
		w.backoff = BackoffPolicy{Kind: BackoffNone}
	}
	return w
}

// Write sends b as one datagram (UDP) or via write_all (TCP), applying
// rate limiting and/or send-queue-aware backoff first.
func (w *Writer) Write(ctx context.Context, b []byte) error {
	if w.limiter != nil {
		if err := w.limiter.WaitN(ctx, max(1, len(b)/512)); err != nil {
			return ferr.Sinkf(ferr.ReasonSink, "rate limiter wait: %v", err)
		}
	} else if w.backoff.Kind != BackoffNone {
		if ms := w.autoSleepMS(len(b)); ms > 0 {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	var err error
	if w.udp {
		_, err = w.conn.Write(b) // net.UDPConn.Write on a connected socket == send
	} else {
		err = writeAll(w.conn, b)
	}
	if err != nil {
		return ferr.Sinkf(ferr.ReasonSink, "sink send failed (udp=%v, %d bytes): %v", w.udp, len(b), err)
	}
	return nil
}

// WriteBatch concatenates bufs into one buffer and issues a single
// underlying write, matching the file sink's batch-write idiom for the
// network path.
func (w *Writer) WriteBatch(ctx context.Context, bufs [][]byte) error {
	total := 0
	for _, b := range bufs {
		total += len(b)
	}
	joined := make([]byte, 0, total)
	for _, b := range bufs {
		joined = append(joined, b...)
	}
	return w.Write(ctx, joined)
}

func writeAll(conn net.Conn, b []byte) error {
	for len(b) > 0 {
		n, err := conn.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// autoSleepMS computes the backoff sleep (in ms) for a write of size n,
// probing the send queue only every SmallBypassBytes (small writes) or
// LargeProbeStrideBytes (large writes) bytes, per spec.md §4.4.
func (w *Writer) autoSleepMS(n int) int64 {
	if w.probe == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	stride := int64(SmallBypassBytes)
	if n > SmallBypassBytes {
		stride = LargeProbeStrideBytes
	}
	w.writtenSinceProbe += int64(n)
	if w.avgWriteSize == 0 {
		w.avgWriteSize = float64(n)
	} else {
		w.avgWriteSize = w.avgWriteSize*0.9 + float64(n)*0.1
	}
	if w.writtenSinceProbe < stride {
		return w.unmeasuredMS()
	}
	w.writtenSinceProbe = 0

	occ, cap, ok := w.probe(w.conn)
	if !ok || cap <= 0 {
		return w.unmeasuredMS()
	}
	pct := float64(occ) / float64(cap)
	above := pct >= w.backoff.highWater()
	return w.currentMS(above)
}

// unmeasuredMS returns the ms to sleep when this call skipped the probe
// (stride not yet reached, or the probe came back unsupported), without
// touching adaptive state: skipping a measurement is not an observation
// and must not be conflated with an observed below-threshold reading, or
// interleaved small writes would erode adaptiveMS that a concurrent
// large write had just raised.
func (w *Writer) unmeasuredMS() int64 {
	switch w.backoff.Kind {
	case BackoffFixed:
		return 0
	case BackoffAdaptive:
		return w.adaptiveMS
	default:
		return 0
	}
}

// currentMS returns the ms to sleep given whether occupancy is currently
// above the high-water mark, updating adaptive state: fixed mode returns
// the configured ms when above threshold, 0 otherwise; adaptive mode
// increases by 1ms per above-threshold observation (capped at MaxMS) and
// decreases by 1ms per below-threshold observation (floored at 0). Only
// called when a probe actually ran.
func (w *Writer) currentMS(above bool) int64 {
	switch w.backoff.Kind {
	case BackoffFixed:
		if above {
			return w.backoff.FixedMS
		}
		return 0
	case BackoffAdaptive:
		if above {
			if w.adaptiveMS < w.backoff.maxMS() {
				w.adaptiveMS++
			}
		} else if w.adaptiveMS > 0 {
			w.adaptiveMS--
		}
		return w.adaptiveMS
	default:
		return 0
	}
}

// Shutdown closes the write half of a TCP connection (UDP has no
// half-close and is a no-op).
func (w *Writer) Shutdown() error {
	if w.udp {
		return nil
	}
	if tc, ok := w.conn.(*net.TCPConn); ok {
		return tc.CloseWrite()
	}
	return nil
}

// DrainUntilEmpty polls the send-queue probe until it reports zero
// occupancy or ctx's deadline elapses; if the probe is unsupported it
// returns immediately, per spec.md §4.4.
func (w *Writer) DrainUntilEmpty(ctx context.Context) error {
	if w.probe == nil || w.udp {
		return nil
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		occ, _, ok := w.probe(w.conn)
		if !ok || occ == 0 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
