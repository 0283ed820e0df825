package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Bus is the in-process publish/subscribe hub. Listeners are kept in an
// ordered per-tag table and invoked in subscription order; WaitFor hands out
// one-shot futures resolved by the next matching publish.
type Bus struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[Type][]*Subscription
	waiters map[Type][]chan Event
	log     *zap.SugaredLogger
}

// Subscription is the handle returned by Subscribe; pass it back to
// Unsubscribe to detach the listener.
type Subscription struct {
	id       uint64
	typ      Type
	listener Listener
}

func NewBus(log *zap.SugaredLogger) *Bus {
	return &Bus{
		subs:    make(map[Type][]*Subscription),
		waiters: make(map[Type][]chan Event),
		log:     log,
	}
}

// Subscribe attaches l to events of type t. Safe to call at any time; the
// listener starts receiving with the next publish.
func (b *Bus) Subscribe(t Type, l Listener) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Subscription{id: b.nextID, typ: t, listener: l}
	b.subs[t] = append(b.subs[t], s)
	return s
}

// Unsubscribe detaches a subscription. Unknown or already-removed handles
// are ignored.
func (b *Bus) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[s.typ]
	for i, cur := range list {
		if cur.id == s.id {
			b.subs[s.typ] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every subscriber of ev.Type in subscription order,
// then resolves all pending waiters for that tag.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	listeners := make([]Listener, 0, len(b.subs[ev.Type]))
	for _, s := range b.subs[ev.Type] {
		listeners = append(listeners, s.listener)
	}
	pending := b.waiters[ev.Type]
	delete(b.waiters, ev.Type)
	b.mu.Unlock()

	if b.log != nil {
		b.log.Debugw("publish", "type", ev.Type.String(), "payload", ev.Payload)
	}
	for _, l := range listeners {
		l.OnEvent(ev)
	}
	for _, ch := range pending {
		ch <- ev // buffered, never blocks
	}
}

// WaitFor blocks until the next event of type t is published or ctx ends.
// Each call is a one-shot future: it observes exactly one event and is then
// spent.
func (b *Bus) WaitFor(ctx context.Context, t Type) (Event, error) {
	ch := make(chan Event, 1)
	b.mu.Lock()
	b.waiters[t] = append(b.waiters[t], ch)
	b.mu.Unlock()

	select {
	case ev := <-ch:
		return ev, nil
	case <-ctx.Done():
		b.dropWaiter(t, ch)
		// The publish path may have resolved us right as the deadline hit.
		select {
		case ev := <-ch:
			return ev, nil
		default:
		}
		return Event{}, ctx.Err()
	}
}

func (b *Bus) dropWaiter(t Type, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.waiters[t]
	for i, cur := range list {
		if cur == ch {
			b.waiters[t] = append(list[:i], list[i+1:]...)
			return
		}
	}
}
