package clock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okamiya/dexrig/pkg/util"
)

var t0 = time.Unix(1_700_000_000, 0).UTC() // whole-second origin

// dispatchLog records which component ticked, in order.
type dispatchLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *dispatchLog) add(name string) {
	l.mu.Lock()
	l.entries = append(l.entries, name)
	l.mu.Unlock()
}

func (l *dispatchLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// probe is a minimal TimeIterator for driving the clock in tests.
var _ TimeIterator = (*probe)(nil)

type probe struct {
	IteratorBase
	name    string
	journal *dispatchLog

	pmu      sync.Mutex
	ticks    []time.Time
	starts   int
	stops    int
	startErr error
	tickErr  func(now time.Time) error
}

func (p *probe) Start(ctx context.Context, now time.Time) error {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.starts++
	return nil
}

func (p *probe) Stop(ctx context.Context) error {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	p.stops++
	return nil
}

func (p *probe) Tick(ctx context.Context, now time.Time) error {
	p.pmu.Lock()
	p.ticks = append(p.ticks, now)
	p.pmu.Unlock()
	if p.journal != nil {
		p.journal.add(p.name)
	}
	if p.tickErr != nil {
		return p.tickErr(now)
	}
	return nil
}

func (p *probe) tickTimes() []time.Time {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	return append([]time.Time(nil), p.ticks...)
}

func (p *probe) counts() (starts, stops int) {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	return p.starts, p.stops
}

func newBacktestClock(t *testing.T, iters ...TimeIterator) *Clock {
	t.Helper()
	c := New(ModeBacktest, WithStartTime(t0))
	for _, it := range iters {
		if err := c.Register(it); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return c
}

func TestBacktestDispatchesEachBoundary(t *testing.T) {
	p := &probe{name: "p"}
	c := newBacktestClock(t, p)
	defer c.Stop(context.Background())

	if err := c.RunUntil(context.Background(), t0.Add(5*time.Second)); err != nil {
		t.Fatalf("run until: %v", err)
	}

	ticks := p.tickTimes()
	if len(ticks) != 5 {
		t.Fatalf("expected 5 ticks, got %d", len(ticks))
	}
	for i, ts := range ticks {
		want := t0.Add(time.Duration(i+1) * time.Second)
		if !ts.Equal(want) {
			t.Fatalf("tick %d at %v, want %v", i, ts, want)
		}
		if ts != ts.Truncate(time.Second) {
			t.Fatalf("tick %d not on a whole-second boundary: %v", i, ts)
		}
	}
	if got := c.CurrentTime(); !got.Equal(t0.Add(5 * time.Second)) {
		t.Fatalf("current time %v, want %v", got, t0.Add(5*time.Second))
	}
}

func TestDispatchFollowsRegistrationOrder(t *testing.T) {
	journal := &dispatchLog{}
	a := &probe{name: "a", journal: journal}
	b := &probe{name: "b", journal: journal}
	c := newBacktestClock(t, a, b)
	defer c.Stop(context.Background())

	if err := c.RunUntil(context.Background(), t0.Add(3*time.Second)); err != nil {
		t.Fatalf("run until: %v", err)
	}

	want := []string{"a", "b", "a", "b", "a", "b"}
	got := journal.all()
	if len(got) != len(want) {
		t.Fatalf("dispatch log %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch log %v, want %v", got, want)
		}
	}
}

func TestTimestampsStrictlyIncreaseAcrossRuns(t *testing.T) {
	p := &probe{name: "p"}
	c := newBacktestClock(t, p)
	defer c.Stop(context.Background())

	target := t0.Add(2 * time.Second)
	if err := c.RunUntil(context.Background(), target); err != nil {
		t.Fatalf("first run: %v", err)
	}
	// Same target again: no boundary left to cross, no repeat ticks.
	if err := c.RunUntil(context.Background(), target); err != nil {
		t.Fatalf("repeat run: %v", err)
	}
	if err := c.RunUntil(context.Background(), target.Add(time.Second)); err != nil {
		t.Fatalf("third run: %v", err)
	}

	ticks := p.tickTimes()
	if len(ticks) != 3 {
		t.Fatalf("expected 3 ticks total, got %d", len(ticks))
	}
	for i := 1; i < len(ticks); i++ {
		if !ticks[i].After(ticks[i-1]) {
			t.Fatalf("timestamps not strictly increasing: %v then %v", ticks[i-1], ticks[i])
		}
	}
}

func TestTickErrorsAggregatedAfterRound(t *testing.T) {
	sentinelA := errors.New("a blew up")
	sentinelB := errors.New("b blew up")
	a := &probe{name: "a", tickErr: func(time.Time) error { return sentinelA }}
	b := &probe{name: "b", tickErr: func(time.Time) error { return sentinelB }}
	c := newBacktestClock(t, a, b)
	defer c.Stop(context.Background())

	err := c.RunUntil(context.Background(), t0.Add(3*time.Second))
	if err == nil {
		t.Fatal("expected aggregated tick error")
	}
	if !errors.Is(err, sentinelA) || !errors.Is(err, sentinelB) {
		t.Fatalf("aggregated error missing components: %v", err)
	}

	// Both components still received the failing round's tick: an erroring
	// neighbor never robs the rest of the round.
	if len(a.tickTimes()) != 1 || len(b.tickTimes()) != 1 {
		t.Fatalf("expected one tick each, got a=%d b=%d", len(a.tickTimes()), len(b.tickTimes()))
	}

	// The run ended after the failing round; a later run resumes from the
	// next boundary.
	a.tickErr = nil
	b.tickErr = nil
	if err := c.RunUntil(context.Background(), t0.Add(3*time.Second)); err != nil {
		t.Fatalf("resume run: %v", err)
	}
	ticks := a.tickTimes()
	if len(ticks) != 3 {
		t.Fatalf("expected 3 ticks after resume, got %d", len(ticks))
	}
	if !ticks[1].Equal(t0.Add(2 * time.Second)) {
		t.Fatalf("resume did not continue at next boundary: %v", ticks[1])
	}
}

func TestRegisterWhileRunning(t *testing.T) {
	a := &probe{name: "a"}
	c := newBacktestClock(t, a)
	defer c.Stop(context.Background())

	if err := c.RunUntil(context.Background(), t0.Add(2*time.Second)); err != nil {
		t.Fatalf("run until: %v", err)
	}

	b := &probe{name: "b"}
	if err := c.Register(b); err != nil {
		t.Fatalf("register while running: %v", err)
	}
	if starts, _ := b.counts(); starts != 1 {
		t.Fatalf("late component not started, starts=%d", starts)
	}

	if err := c.RunUntil(context.Background(), t0.Add(3*time.Second)); err != nil {
		t.Fatalf("run until: %v", err)
	}
	ticks := b.tickTimes()
	if len(ticks) != 1 || !ticks[0].Equal(t0.Add(3*time.Second)) {
		t.Fatalf("late component ticks %v, want just %v", ticks, t0.Add(3*time.Second))
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	p := &probe{name: "p"}
	c := newBacktestClock(t, p)
	defer c.Stop(context.Background())

	if err := c.Register(p); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if err := c.RunUntil(context.Background(), t0.Add(time.Second)); err != nil {
		t.Fatalf("run until: %v", err)
	}
	if got := len(p.tickTimes()); got != 1 {
		t.Fatalf("double registration produced %d ticks per round", got)
	}
}

func TestUnregisterStopsAndIsIdempotent(t *testing.T) {
	a := &probe{name: "a"}
	b := &probe{name: "b"}
	c := newBacktestClock(t, a, b)
	defer c.Stop(context.Background())

	c.Unregister(a)
	c.Unregister(a) // second call is a no-op

	if _, stops := a.counts(); stops != 1 {
		t.Fatalf("expected exactly one stop, got %d", stops)
	}

	if err := c.RunUntil(context.Background(), t0.Add(time.Second)); err != nil {
		t.Fatalf("run until: %v", err)
	}
	if len(a.tickTimes()) != 0 {
		t.Fatal("unregistered component still ticked")
	}
	if len(b.tickTimes()) != 1 {
		t.Fatal("remaining component missed its tick")
	}
}

func TestStopStopsAndDetachesEverything(t *testing.T) {
	a := &probe{name: "a"}
	b := &probe{name: "b"}
	c := newBacktestClock(t, a, b)

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, stops := a.counts(); stops != 1 {
		t.Fatalf("a stops=%d, want 1", stops)
	}
	if _, stops := b.counts(); stops != 1 {
		t.Fatalf("b stops=%d, want 1", stops)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if err := c.RunUntil(context.Background(), t0.Add(time.Second)); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("run after stop: %v, want ErrNotStarted", err)
	}

	// Detached components are free to join another clock.
	c2 := New(ModeBacktest, WithStartTime(t0))
	if err := c2.Register(a); err != nil {
		t.Fatalf("register with second clock after detach: %v", err)
	}
}

func TestComponentBelongsToOneClock(t *testing.T) {
	p := &probe{name: "p"}
	c1 := New(ModeBacktest, WithStartTime(t0))
	c2 := New(ModeBacktest, WithStartTime(t0))

	if err := c1.Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c2.Register(p); !errors.Is(err, ErrAttached) {
		t.Fatalf("second clock register: %v, want ErrAttached", err)
	}

	c1.Unregister(p)
	if err := c2.Register(p); err != nil {
		t.Fatalf("register after unregister: %v", err)
	}
}

func TestStartRollsBackOnComponentFailure(t *testing.T) {
	boom := errors.New("no venue")
	a := &probe{name: "a"}
	bad := &probe{name: "bad", startErr: boom}

	c := New(ModeBacktest, WithStartTime(t0))
	if err := c.Register(a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := c.Register(bad); err != nil {
		t.Fatalf("register bad: %v", err)
	}

	err := c.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("start error %v, want %v", err, boom)
	}
	if starts, stops := a.counts(); starts != 1 || stops != 1 {
		t.Fatalf("started component not rolled back: starts=%d stops=%d", starts, stops)
	}
	if err := c.RunUntil(context.Background(), t0.Add(time.Second)); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("clock should not be running after failed start, got %v", err)
	}
}

func TestRunUntilRequiresStart(t *testing.T) {
	c := New(ModeBacktest, WithStartTime(t0))
	if err := c.RunUntil(context.Background(), t0.Add(time.Second)); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("got %v, want ErrNotStarted", err)
	}
}

func TestBacktestContextCancelAbortsRun(t *testing.T) {
	p := &probe{name: "p"}
	c := newBacktestClock(t, p)
	defer c.Stop(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.RunUntil(ctx, t0.Add(time.Hour)); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if len(p.tickTimes()) != 0 {
		t.Fatal("cancelled run still dispatched ticks")
	}
}

// ==============================
// Realtime mode with a fake wall
// ==============================

// fakeWall advances instantly on Sleep, making realtime runs deterministic.
type fakeWall struct {
	mu  sync.Mutex
	now time.Time
}

func (w *fakeWall) Now() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now
}

func (w *fakeWall) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	w.now = w.now.Add(d)
	w.mu.Unlock()
	return nil
}

var _ util.WallClock = (*fakeWall)(nil)

func TestRealtimeAlignsToWholeBoundaries(t *testing.T) {
	// Start 300ms past a boundary: the first round must land on the next
	// whole second, not 1s after start.
	wall := &fakeWall{now: t0.Add(300 * time.Millisecond)}
	p := &probe{name: "p"}

	c := New(ModeRealtime, WithWallClock(wall))
	if err := c.Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop(context.Background())

	if err := c.RunUntil(context.Background(), t0.Add(3*time.Second)); err != nil {
		t.Fatalf("run until: %v", err)
	}

	ticks := p.tickTimes()
	want := []time.Time{t0.Add(time.Second), t0.Add(2 * time.Second), t0.Add(3 * time.Second)}
	if len(ticks) != len(want) {
		t.Fatalf("got %d ticks %v, want %v", len(ticks), ticks, want)
	}
	for i := range want {
		if !ticks[i].Equal(want[i]) {
			t.Fatalf("tick %d at %v, want %v", i, ticks[i], want[i])
		}
	}
}

func TestRealtimeCustomTickSize(t *testing.T) {
	wall := &fakeWall{now: t0}
	p := &probe{name: "p"}

	c := New(ModeRealtime, WithWallClock(wall), WithTickSize(250*time.Millisecond))
	if err := c.Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop(context.Background())

	if err := c.RunUntil(context.Background(), t0.Add(time.Second)); err != nil {
		t.Fatalf("run until: %v", err)
	}
	if got := len(p.tickTimes()); got != 4 {
		t.Fatalf("expected 4 rounds at 250ms, got %d", got)
	}
}

func TestReadinessLatchIsMonotonic(t *testing.T) {
	var r Readiness
	if r.Ready() {
		t.Fatal("zero value must not be ready")
	}
	r.MarkReady()
	if !r.Ready() {
		t.Fatal("MarkReady did not latch")
	}
	r.MarkReady() // no way back, repeat calls keep it ready
	if !r.Ready() {
		t.Fatal("readiness regressed")
	}
}

