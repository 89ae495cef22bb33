// Package maintainer implements the reconnect loop from spec.md §4.11:
// one goroutine per sink group drains failed backend handles, attempts
// Reconnect, and routes the result back to the owning dispatcher.
// Grounded on spec.md §4.11 directly and the teacher's
// pkg/engine/engine.go backoff-then-retry goroutine pattern.
package maintainer

import (
	"context"
	"sync"
	"time"

	"github.com/user/fluxgate/pkg/sink/runtime"
)

// ReceiveTimeout bounds how long Run waits on a triplet's BadRx before
// re-checking ctx and the other triplets.
const ReceiveTimeout = 100 * time.Millisecond

// FailureBackoff is the pause after a failed Reconnect attempt before
// the next dequeue for that triplet.
const FailureBackoff = 5 * time.Second

// Triplet is one sink group's maintenance channels: BadRx receives
// failed backend handles (from the group's sink runtimes via
// SwapBackSink), FixTx delivers a successfully reconnected handle back
// to the dispatcher's ProcFix, BadTx re-queues a handle that failed to
// reconnect.
type Triplet struct {
	Name  string
	BadRx <-chan runtime.Handle
	FixTx chan<- runtime.Handle
	BadTx chan<- runtime.Handle
}

// Maintainer runs the reconnect loop across every configured triplet.
type Maintainer struct {
	triplets []Triplet
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a Maintainer over triplets.
func New(triplets []Triplet) *Maintainer {
	return &Maintainer{triplets: triplets, stopCh: make(chan struct{})}
}

// Run drives every triplet concurrently until ctx is done or Stop is
// called.
func (m *Maintainer) Run(ctx context.Context) {
	done := make(chan struct{}, len(m.triplets))
	for _, t := range m.triplets {
		t := t
		go func() {
			m.runTriplet(ctx, t)
			done <- struct{}{}
		}()
	}
	for range m.triplets {
		<-done
	}
}

func (m *Maintainer) runTriplet(ctx context.Context, t Triplet) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case h, ok := <-t.BadRx:
			if !ok {
				return
			}
			if err := h.Backend.Reconnect(ctx); err != nil {
				select {
				case t.BadTx <- h:
				default:
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(FailureBackoff):
				}
				continue
			}
			select {
			case t.FixTx <- h:
			default:
			}
		case <-time.After(ReceiveTimeout):
			// idle tick: re-check ctx.Done() and loop.
		}
	}
}

// IsStop reports whether Stop has already been called, satisfying
// fluxgate.Stoppable for registration with the supervisor.
func (m *Maintainer) IsStop() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

// Stop signals every triplet goroutine in Run to exit.
func (m *Maintainer) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}
