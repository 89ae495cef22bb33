// Package tcp implements the TCP source family from spec.md §4.8: an
// Acceptor that owns the listener and round-robins newly accepted
// connections across N reader instances, and a Reader (one per
// instance) that drains its registration channel, reads from one
// connection at a time, frames the bytes via pkg/framing, and emits
// batches of events. Grounded on
// _examples/original_source/src/sources/tcp/{acceptor,factory,source}.rs
// and conn/connection.rs for the registration/drain/batch-build
// algorithm, re-expressed in the teacher's goroutine/channel idiom from
// pkg/engine/engine.go's worker-goroutine supervision and
// pkg/buffer/ring_buffer.go's channel-backed handoff.
package tcp

import (
	"container/list"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/fluxgate"
	"github.com/user/fluxgate/pkg/ferr"
	"github.com/user/fluxgate/pkg/framing"
)

// DefaultBatchCapacity bounds the number of events a single Receive call
// returns.
const DefaultBatchCapacity = 128

// MaxBatchBytes bounds the total payload bytes a single Receive call
// returns.
const MaxBatchBytes = 64 * 1024

// ShrinkHighWaterBytes is the buffered-bytes threshold above which a
// connection's framing buffer is replaced with a fresh, small one once
// it next drains to empty.
const ShrinkHighWaterBytes = 1024 * 1024

// ShrinkTargetBytes is the capacity hint for the replacement buffer.
const ShrinkTargetBytes = 256 * 1024

const readChunkBytes = 32 * 1024

// Connection wraps one accepted net.Conn with its framing state and a
// queue of already-extracted, not-yet-delivered frames.
type Connection struct {
	ID       uint64
	conn     net.Conn
	remoteIP string

	extractor *framing.Extractor
	pending   *list.List // elements are []byte
	peakBytes int
	closed    bool
}

func newConnection(id uint64, conn net.Conn, mode framing.Mode) *Connection {
	remoteIP := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(remoteIP); err == nil {
		remoteIP = host
	}
	return &Connection{ID: id, conn: conn, remoteIP: remoteIP, extractor: framing.NewExtractor(mode, true), pending: list.New()}
}

// fill reads one chunk from the connection (bounded by deadline),
// feeding any bytes read to the extractor and draining every complete
// frame it yields into pending. A read timeout returns nil; any other
// read error (io.EOF from a closed peer included) is returned as a
// ReasonDisconnect source error, so the caller can tell a closed
// connection from a timeout.
func (c *Connection) fill(deadline time.Duration) error {
	buf := make([]byte, readChunkBytes)
	if err := c.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return ferr.Sourcef(ferr.ReasonSystem, "set read deadline: %v", err)
	}
	n, err := c.conn.Read(buf)
	if n > 0 {
		c.extractor.Feed(buf[:n])
		for {
			msg, ok := c.extractor.ExtractOne()
			if !ok {
				break
			}
			c.pending.PushBack(msg)
		}
	}
	if l := c.extractor.Len(); l > c.peakBytes {
		c.peakBytes = l
	}
	if c.extractor.Len() == 0 && c.peakBytes > ShrinkHighWaterBytes {
		c.extractor = framing.NewExtractor(c.extractor.Mode, c.extractor.PreferNewline)
		*c.extractor.Buffer() = make([]byte, 0, ShrinkTargetBytes)
		c.peakBytes = 0
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return ferr.Sourcef(ferr.ReasonDisconnect, "tcp read: %v", err)
	}
	if n == 0 {
		return ferr.Sourcef(ferr.ReasonEOF, "tcp connection %d closed", c.ID)
	}
	return nil
}

// drainBatch pops up to capacity frames from pending into events. A frame
// that would take the batch's payload past bytesLimit stays in pending
// for the next call; the first frame of a batch is always taken, so a
// single frame larger than bytesLimit is delivered on its own.
func (c *Connection) drainBatch(source string, capacity, bytesLimit int) []fluxgate.Event {
	var out []fluxgate.Event
	used := 0
	for len(out) < capacity {
		el := c.pending.Front()
		if el == nil {
			break
		}
		msg := el.Value.([]byte)
		if len(out) > 0 && used+len(msg) > bytesLimit {
			break
		}
		c.pending.Remove(el)
		out = append(out, fluxgate.Event{Payload: msg, Source: source, UpsIP: c.remoteIP})
		used += len(msg)
	}
	return out
}

// ConnectionRegistry tracks live connections by id for diagnostics and
// coordinated shutdown.
type ConnectionRegistry struct {
	mu     sync.Mutex
	nextID uint64
	conns  map[uint64]*Connection
}

func newConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[uint64]*Connection)}
}

func (r *ConnectionRegistry) add(conn net.Conn, mode framing.Mode) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c := newConnection(r.nextID, conn, mode)
	r.conns[c.ID] = c
	return c
}

func (r *ConnectionRegistry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Acceptor owns the listener and round-robins each newly accepted
// connection onto one of N reader registration channels.
type Acceptor struct {
	listener net.Listener
	registry *ConnectionRegistry
	regChans []chan *Connection
	mode     framing.Mode
	log      fluxgate.Logger

	next     uint64
	mu       sync.Mutex
	stopped  bool
}

// NewAcceptor builds an Acceptor serving ln, fanning connections across
// instances reader channels.
func NewAcceptor(ln net.Listener, instances int, mode framing.Mode, log fluxgate.Logger) *Acceptor {
	if instances < 1 {
		instances = 1
	}
	if instances > 16 {
		instances = 16
	}
	chans := make([]chan *Connection, instances)
	for i := range chans {
		chans[i] = make(chan *Connection, 16)
	}
	return &Acceptor{listener: ln, registry: newConnectionRegistry(), regChans: chans, mode: mode, log: log}
}

// RegistrationChannel returns reader instance i's registration channel.
func (a *Acceptor) RegistrationChannel(i int) <-chan *Connection { return a.regChans[i] }

// Registry returns the connection registry backing this acceptor, for
// constructing Readers outside the package (the factory registry wires
// one Reader per declared instance against it).
func (a *Acceptor) Registry() *ConnectionRegistry { return a.registry }

// Instances returns the number of reader instances this acceptor feeds.
func (a *Acceptor) Instances() int { return len(a.regChans) }

// Run accepts connections until ctx is cancelled or the listener is
// closed; any other accept error is logged and accepting continues.
func (a *Acceptor) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		a.mu.Lock()
		a.stopped = true
		a.mu.Unlock()
		a.listener.Close()
	}()
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			a.mu.Lock()
			stopped := a.stopped
			a.mu.Unlock()
			if stopped || errors.Is(err, net.ErrClosed) {
				return
			}
			if a.log != nil {
				a.log.Warn("tcp accept error", "err", err)
			}
			continue
		}
		c := a.registry.add(conn, a.mode)
		idx := atomic.AddUint64(&a.next, 1) % uint64(len(a.regChans))
		a.regChans[idx] <- c
	}
}

// Reader is one registered instance's event source: it owns a subset of
// the acceptor's connections (handed off via its registration channel)
// and round-robins reads across them.
type Reader struct {
	name        string
	baseTags    map[string]string
	registry    *ConnectionRegistry
	regCh       <-chan *Connection
	readTimeout time.Duration

	mu     sync.Mutex
	active []*Connection
}

// NewReader builds a Reader draining regCh for newly assigned
// connections, owned by registry for deregistration on close.
func NewReader(name string, baseTags map[string]string, registry *ConnectionRegistry, regCh <-chan *Connection, readTimeout time.Duration) *Reader {
	if readTimeout <= 0 {
		readTimeout = 200 * time.Millisecond
	}
	return &Reader{name: name, baseTags: baseTags, registry: registry, regCh: regCh, readTimeout: readTimeout}
}

// drainRegistrations moves every connection currently waiting on regCh
// into active, without blocking.
func (r *Reader) drainRegistrations() {
	for {
		select {
		case c := <-r.regCh:
			r.active = append(r.active, c)
		default:
			return
		}
	}
}

// Receive implements fluxgate.Source: drain newly registered
// connections, wait for at least one if none are active yet, pop the
// front connection, attempt a read-and-frame round on it, and requeue it
// at the back (ConnectionGuard) unless it has closed.
func (r *Reader) Receive(ctx context.Context) (fluxgate.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.drainRegistrations()
	for len(r.active) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c := <-r.regCh:
			r.active = append(r.active, c)
		case <-time.After(r.readTimeout):
			return fluxgate.Batch{}, nil
		}
	}

	c := r.active[0]
	r.active = r.active[1:]

	err := c.fill(r.readTimeout)
	if err != nil && isTerminal(err) {
		r.registry.remove(c.ID)
		c.conn.Close()
		return fluxgate.Batch{}, nil
	}

	events := c.drainBatch(r.name, DefaultBatchCapacity, MaxBatchBytes)
	for i := range events {
		tags := make(map[string]string, len(r.baseTags)+1)
		for k, v := range r.baseTags {
			tags[k] = v
		}
		tags["access_ip"] = events[i].UpsIP
		events[i].Tags = tags
	}
	r.active = append(r.active, c)
	return fluxgate.Batch(events), nil
}

func isTerminal(err error) bool {
	fe, ok := err.(*ferr.Error)
	if !ok {
		return false
	}
	return fe.Reason == ferr.ReasonDisconnect || fe.Reason == ferr.ReasonEOF
}

// Close stops accepting reads on every connection currently owned by
// this reader.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.active {
		r.registry.remove(c.ID)
		c.conn.Close()
	}
	r.active = nil
	return nil
}

var _ fluxgate.Source = (*Reader)(nil)
