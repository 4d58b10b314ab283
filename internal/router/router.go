// Package router merges per-entity measurement streams into one bounded,
// ordered feed.
package router

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"

	"transformer-telemetry/internal/telemetry"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 64

// Observer receives push outcomes. Implementations must not block.
type Observer interface {
	Accepted(id telemetry.EntityID)
	Dropped(id telemetry.EntityID)
}

// Option customises a Router.
type Option func(*Router)

// WithObserver attaches an outcome observer.
func WithObserver(o Observer) Option {
	return func(r *Router) { r.observer = o }
}

// Router is a bounded multi-producer single-consumer queue. Delivery order is
// acceptance order; a full buffer rejects the newcomer.
type Router struct {
	buf      chan telemetry.Measurement
	observer Observer

	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
}

// New builds a router holding at most capacity measurements.
func New(capacity int, opts ...Option) *Router {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Router{buf: make(chan telemetry.Measurement, capacity)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Push enqueues m without blocking and reports whether it was accepted.
// A rejected measurement is discarded.
func (r *Router) Push(m telemetry.Measurement) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.closed {
		select {
		case r.buf <- m:
			if r.observer != nil {
				r.observer.Accepted(m.EntityID)
			}
			return true
		default:
		}
	}

	r.dropped.Add(1)
	if r.observer != nil {
		r.observer.Dropped(m.EntityID)
	}
	return false
}

// All yields measurements in acceptance order. The sequence ends once the
// router is closed and drained, or when ctx is done. Breaking out of the loop
// leaves undelivered measurements for the next call.
func (r *Router) All(ctx context.Context) iter.Seq[telemetry.Measurement] {
	return func(yield func(telemetry.Measurement) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-r.buf:
				if !ok {
					return
				}
				if !yield(m) {
					return
				}
			}
		}
	}
}

// Close stops accepting measurements. Already buffered ones remain readable.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.buf)
}

// Len returns the number of buffered measurements.
func (r *Router) Len() int { return len(r.buf) }

// Cap returns the buffer capacity.
func (r *Router) Cap() int { return cap(r.buf) }

// Dropped returns how many pushes were rejected.
func (r *Router) Dropped() uint64 { return r.dropped.Load() }
