package clock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAttached is returned when a component already bound to one clock is
// registered with a different one.
var ErrAttached = errors.New("component is attached to another clock")

// TimeIterator is the contract for anything driven by a Clock: periodic
// pollers, balance trackers, order reconcilers. Attach/Detach come for free
// by embedding IteratorBase; implementations provide the lifecycle hooks.
//
// Start and Stop are idempotent. Tick performs at most one bounded round of
// I/O and must not block indefinitely; slow work belongs behind an internal
// timeout. Ready reports bootstrap synchronization and is monotonic: once
// true it stays true for the component's lifetime.
type TimeIterator interface {
	Attach(c *Clock) error
	Detach(c *Clock)
	Start(ctx context.Context, now time.Time) error
	Stop(ctx context.Context) error
	Tick(ctx context.Context, now time.Time) error
	Ready() bool
}

// Readiness is the monotonic bootstrap latch. Zero value is not ready.
type Readiness struct {
	ready atomic.Bool
}

func (r *Readiness) Ready() bool { return r.ready.Load() }

// MarkReady latches the component ready. There is no way back.
func (r *Readiness) MarkReady() { r.ready.Store(true) }

// IteratorBase carries the clock-attachment bookkeeping every component
// shares. A component belongs to at most one clock at a time.
type IteratorBase struct {
	Readiness

	mu  sync.Mutex
	clk *Clock
}

func (b *IteratorBase) Attach(c *Clock) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clk != nil && b.clk != c {
		return ErrAttached
	}
	b.clk = c
	return nil
}

func (b *IteratorBase) Detach(c *Clock) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clk == c {
		b.clk = nil
	}
}
