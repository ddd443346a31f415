package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrExhausted is returned when no handle became available before the
	// acquire context ended.
	ErrExhausted = errors.New("pool: exhausted")
	// ErrClosed is returned by Acquire after Close.
	ErrClosed = errors.New("pool: closed")
	// ErrUnknownHandle is returned when releasing a handle the pool did not
	// hand out, or one that was already released.
	ErrUnknownHandle = errors.New("pool: handle not checked out")
)

// Poolable represents any connection handle that can be pooled and reused.
type Poolable interface {
	Connect(ctx context.Context) error
	Close() error
}

// Handle is the constraint for pooled values. Handles are tracked by
// identity, so they must be comparable (typically pointers).
type Handle interface {
	Poolable
	comparable
}

// Hint tells Release what the caller learned about a handle while using it.
type Hint struct {
	// Close is set when the far end asked for the connection to be closed.
	Close bool
	// Broken is set after timeouts, transport errors or malformed responses.
	Broken bool
}

func (h Hint) discard() bool { return h.Close || h.Broken }

// Stats is a point-in-time view of the pool.
type Stats struct {
	Open      int    `json:"open"`
	Idle      int    `json:"idle"`
	InUse     int    `json:"in_use"`
	Created   uint64 `json:"created"`
	Discarded uint64 `json:"discarded"`
}

// ConnectionPool hands out at most max handles at a time. Idle handles are
// reused last-in first-out; discarded handles free their slot and are
// re-created lazily by the factory on a later Acquire.
type ConnectionPool[T Handle] struct {
	factory func() T
	slots   *semaphore.Weighted
	max     int

	mu        sync.Mutex
	idle      []T
	inUse     map[T]struct{}
	closed    bool
	created   uint64
	discarded uint64
}

// NewConnectionPool creates a pool of at most size handles built by factory.
func NewConnectionPool[T Handle](size int, factory func() T) (*ConnectionPool[T], error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool: size must be > 0, got %d", size)
	}
	if factory == nil {
		return nil, errors.New("pool: factory is required")
	}
	return &ConnectionPool[T]{
		factory: factory,
		slots:   semaphore.NewWeighted(int64(size)),
		max:     size,
		inUse:   make(map[T]struct{}, size),
	}, nil
}

// Acquire returns an idle handle, connects a new one when below capacity, or
// waits for a release while ctx allows. A wait that ends with ctx yields
// ErrExhausted.
func (p *ConnectionPool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T
	if p.isClosed() {
		return zero, ErrClosed
	}
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return zero, fmt.Errorf("%w: %w", ErrExhausted, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.slots.Release(1)
		return zero, ErrClosed
	}
	if n := len(p.idle); n > 0 {
		h := p.idle[n-1]
		p.idle[n-1] = zero
		p.idle = p.idle[:n-1]
		p.inUse[h] = struct{}{}
		p.mu.Unlock()
		return h, nil
	}
	p.mu.Unlock()

	h := p.factory()
	if err := h.Connect(ctx); err != nil {
		_ = h.Close()
		p.slots.Release(1)
		return zero, fmt.Errorf("pool: connect: %w", err)
	}

	p.mu.Lock()
	p.created++
	p.inUse[h] = struct{}{}
	p.mu.Unlock()
	return h, nil
}

// Release returns h to the pool. The handle is closed instead when the hint
// asks for it or the pool has been closed.
func (p *ConnectionPool[T]) Release(h T, hint Hint) error {
	p.mu.Lock()
	if _, ok := p.inUse[h]; !ok {
		p.mu.Unlock()
		return ErrUnknownHandle
	}
	delete(p.inUse, h)

	keep := !hint.discard() && !p.closed
	if keep {
		p.idle = append(p.idle, h)
	} else {
		p.discarded++
	}
	p.mu.Unlock()
	p.slots.Release(1)

	if keep {
		return nil
	}
	return h.Close()
}

// Invalidate discards h immediately.
func (p *ConnectionPool[T]) Invalidate(h T) error {
	return p.Release(h, Hint{Broken: true})
}

// Close closes every idle handle. Handles still checked out are closed when
// they are released.
func (p *ConnectionPool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var errs []string
	for _, h := range idle {
		if err := h.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("pool close errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Stats reports the current pool occupancy.
func (p *ConnectionPool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Open:      len(p.idle) + len(p.inUse),
		Idle:      len(p.idle),
		InUse:     len(p.inUse),
		Created:   p.created,
		Discarded: p.discarded,
	}
}

// Size returns the maximum number of handles.
func (p *ConnectionPool[T]) Size() int { return p.max }

func (p *ConnectionPool[T]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
