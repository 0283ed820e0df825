package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/okamiya/dexrig/pkg/util"
)

// ErrNotStarted is returned by RunUntil outside an active Start/Stop scope.
var ErrNotStarted = errors.New("clock: not started")

type Mode int

const (
	// ModeRealtime paces rounds against wall-clock boundaries.
	ModeRealtime Mode = iota
	// ModeBacktest advances instantaneously, one round per boundary crossed.
	ModeBacktest
)

func (m Mode) String() string {
	if m == ModeBacktest {
		return "backtest"
	}
	return "realtime"
}

type Option func(*Clock)

// WithTickSize sets the boundary size. Default is one second.
func WithTickSize(d time.Duration) Option { return func(c *Clock) { c.tickSize = d } }

// WithStartTime sets the backtest origin; ignored in realtime mode.
func WithStartTime(t time.Time) Option { return func(c *Clock) { c.startAt = t } }

// WithWallClock swaps the wall-time source, for deterministic realtime tests.
func WithWallClock(w util.WallClock) Option { return func(c *Clock) { c.wall = w } }

func WithLogger(log *zap.SugaredLogger) Option { return func(c *Clock) { c.log = log } }

// Clock drives a set of TimeIterators forward in lockstep. One Clock, one
// driving goroutine: Start opens the scope, RunUntil advances logical time
// dispatching one tick round per boundary, Stop closes the scope and
// detaches every component even when ticks errored along the way.
type Clock struct {
	mode     Mode
	tickSize time.Duration
	startAt  time.Time
	wall     util.WallClock
	log      *zap.SugaredLogger

	mu      sync.Mutex
	iters   []TimeIterator // registration order
	current time.Time      // last dispatched boundary
	running bool
	runCtx  context.Context
}

func New(mode Mode, opts ...Option) *Clock {
	c := &Clock{
		mode:     mode,
		tickSize: time.Second,
		wall:     util.SystemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register attaches a component. Idempotent; safe while the clock is
// running, in which case the component is started immediately and receives
// its first tick at the next boundary.
func (c *Clock) Register(it TimeIterator) error {
	c.mu.Lock()
	for _, cur := range c.iters {
		if cur == it {
			c.mu.Unlock()
			return nil
		}
	}
	if err := it.Attach(c); err != nil {
		c.mu.Unlock()
		return err
	}
	c.iters = append(c.iters, it)
	running, ctx, now := c.running, c.runCtx, c.current
	c.mu.Unlock()

	if running {
		if err := it.Start(ctx, now); err != nil {
			c.removeIterator(it)
			it.Detach(c)
			return fmt.Errorf("clock: start %T: %w", it, err)
		}
	}
	return nil
}

// Unregister detaches a component. Idempotent; a running component is
// stopped first.
func (c *Clock) Unregister(it TimeIterator) {
	c.mu.Lock()
	found := false
	for _, cur := range c.iters {
		if cur == it {
			found = true
			break
		}
	}
	running, ctx := c.running, c.runCtx
	c.mu.Unlock()
	if !found {
		return
	}

	c.removeIterator(it)
	if running {
		if err := it.Stop(ctx); err != nil && c.log != nil {
			c.log.Warnw("stop on unregister failed", "component", fmt.Sprintf("%T", it), "err", err)
		}
	}
	it.Detach(c)
}

func (c *Clock) removeIterator(it TimeIterator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cur := range c.iters {
		if cur == it {
			c.iters = append(c.iters[:i], c.iters[i+1:]...)
			return
		}
	}
}

// Start opens the clock scope: fixes the current boundary and starts every
// registered component in registration order. If a component fails to start,
// the ones already started are stopped and the error is returned.
func (c *Clock) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	switch {
	case c.mode == ModeBacktest && !c.startAt.IsZero():
		c.current = c.startAt.Truncate(c.tickSize)
	default:
		c.current = c.wall.Now().Truncate(c.tickSize)
	}
	c.running = true
	c.runCtx = ctx
	iters := make([]TimeIterator, len(c.iters))
	copy(iters, c.iters)
	now := c.current
	c.mu.Unlock()

	for i, it := range iters {
		if err := it.Start(ctx, now); err != nil {
			for j := i - 1; j >= 0; j-- {
				if serr := iters[j].Stop(ctx); serr != nil && c.log != nil {
					c.log.Warnw("stop during start rollback failed", "component", fmt.Sprintf("%T", iters[j]), "err", serr)
				}
			}
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			return fmt.Errorf("clock: start %T: %w", it, err)
		}
	}
	if c.log != nil {
		c.log.Infow("clock started", "mode", c.mode.String(), "tick_size", c.tickSize, "components", len(iters))
	}
	return nil
}

// Stop closes the scope: stops every component (errors joined, every
// component still gets its Stop), detaches them all, and clears the
// registration set. Safe to call more than once.
func (c *Clock) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	iters := c.iters
	c.iters = nil
	c.mu.Unlock()

	var errs []error
	for _, it := range iters {
		if err := it.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %T: %w", it, err))
		}
		it.Detach(c)
	}
	if c.log != nil {
		c.log.Infow("clock stopped", "components", len(iters))
	}
	return errors.Join(errs...)
}

// RunUntil advances logical time to target. Realtime mode sleeps to each
// boundary; backtest mode replays every boundary in (current, target]
// without waiting. Each crossed boundary dispatches exactly one tick to
// every registered component, in registration order; a failing component
// does not rob the rest of the round, but the joined errors end the run
// after that round completes.
func (c *Clock) RunUntil(ctx context.Context, target time.Time) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotStarted
	}
	mode := c.mode
	c.mu.Unlock()

	if mode == ModeBacktest {
		return c.runBacktest(ctx, target)
	}
	return c.runRealtime(ctx, target)
}

func (c *Clock) runRealtime(ctx context.Context, target time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := c.wall.Now()
		if !now.Before(target) {
			return nil
		}
		next := now.Truncate(c.tickSize).Add(c.tickSize)
		if err := c.wall.Sleep(ctx, next.Sub(now)); err != nil {
			return err
		}
		if !c.advanceTo(next) {
			continue
		}
		if err := c.dispatchRound(ctx, next); err != nil {
			return err
		}
	}
}

func (c *Clock) runBacktest(ctx context.Context, target time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.mu.Lock()
		next := c.current.Add(c.tickSize)
		if next.After(target) {
			c.mu.Unlock()
			return nil
		}
		c.current = next
		c.mu.Unlock()
		if err := c.dispatchRound(ctx, next); err != nil {
			return err
		}
	}
}

// advanceTo moves the current boundary forward; false means the boundary was
// already dispatched, keeping per-component timestamps strictly increasing.
func (c *Clock) advanceTo(next time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !next.After(c.current) {
		return false
	}
	c.current = next
	return true
}

func (c *Clock) dispatchRound(ctx context.Context, now time.Time) error {
	c.mu.Lock()
	iters := make([]TimeIterator, len(c.iters))
	copy(iters, c.iters)
	c.mu.Unlock()

	var errs []error
	for _, it := range iters {
		if err := it.Tick(ctx, now); err != nil {
			if c.log != nil {
				c.log.Warnw("tick failed", "component", fmt.Sprintf("%T", it), "ts", now.Unix(), "err", err)
			}
			errs = append(errs, fmt.Errorf("tick %T at %d: %w", it, now.Unix(), err))
		}
	}
	return errors.Join(errs...)
}

// CurrentTime returns the last dispatched boundary.
func (c *Clock) CurrentTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// TickSize returns the boundary size.
func (c *Clock) TickSize() time.Duration { return c.tickSize }
