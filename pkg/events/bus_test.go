package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPublishReachesSubscribersInOrder(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	var order []string
	sub := func(name string) *Subscription {
		return bus.Subscribe(OrderFilled, ListenerFunc(func(ev Event) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}))
	}
	sub("first")
	sub("second")
	sub("third")

	bus.Publish(Event{Type: OrderFilled, Time: time.Now()})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("delivered to %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("delivery order %v, want %v", order, want)
		}
	}
}

func TestPublishIgnoresOtherTags(t *testing.T) {
	bus := NewBus(nil)
	log := NewEventLog()
	bus.Subscribe(OrderCancelled, log)

	bus.Publish(Event{Type: OrderFilled})
	bus.Publish(Event{Type: BuyOrderCompleted})

	if log.Len() != 0 {
		t.Fatalf("listener for OrderCancelled saw %d foreign events", log.Len())
	}

	bus.Publish(Event{Type: OrderCancelled})
	if log.Len() != 1 {
		t.Fatalf("listener missed its own tag, len=%d", log.Len())
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(nil)
	log := NewEventLog()
	sub := bus.Subscribe(OrderFilled, log)

	bus.Publish(Event{Type: OrderFilled})
	bus.Unsubscribe(sub)
	bus.Publish(Event{Type: OrderFilled})

	if log.Len() != 1 {
		t.Fatalf("expected 1 delivery before unsubscribe, got %d", log.Len())
	}

	// Removing again is harmless, and so is a nil handle.
	bus.Unsubscribe(sub)
	bus.Unsubscribe(nil)
}

func TestSameListenerTwiceGetsDistinctHandles(t *testing.T) {
	bus := NewBus(nil)
	log := NewEventLog()
	sub1 := bus.Subscribe(OrderFilled, log)
	sub2 := bus.Subscribe(OrderFilled, log)

	bus.Publish(Event{Type: OrderFilled})
	if log.Len() != 2 {
		t.Fatalf("double subscription delivered %d times, want 2", log.Len())
	}

	bus.Unsubscribe(sub1)
	bus.Publish(Event{Type: OrderFilled})
	if log.Len() != 3 {
		t.Fatalf("remaining subscription delivered %d total, want 3", log.Len())
	}
	bus.Unsubscribe(sub2)
}

func TestWaitForResolvesOnNextEvent(t *testing.T) {
	bus := NewBus(nil)

	type result struct {
		ev  Event
		err error
	}
	done := make(chan result, 1)
	ready := make(chan struct{})
	go func() {
		close(ready)
		ev, err := bus.WaitFor(context.Background(), BuyOrderCompleted)
		done <- result{ev, err}
	}()
	<-ready
	time.Sleep(10 * time.Millisecond) // let the waiter park

	bus.Publish(Event{Type: BuyOrderCompleted, Payload: "payload"})

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("wait: %v", r.err)
		}
		if r.ev.Payload != "payload" {
			t.Fatalf("wrong event resolved: %+v", r.ev)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never resolved")
	}
}

func TestWaitForTimesOut(t *testing.T) {
	bus := NewBus(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := bus.WaitFor(ctx, OrderFilled)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}

	// The expired waiter is gone: this publish has nobody to resolve and a
	// later wait still works.
	bus.Publish(Event{Type: OrderFilled})

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	go bus.Publish(Event{Type: OrderFilled, Payload: 2})
	ev, err := bus.WaitFor(ctx2, OrderFilled)
	if err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if ev.Payload != 2 {
		t.Fatalf("second wait resolved %+v", ev)
	}
}

func TestWaitForIsOneShot(t *testing.T) {
	bus := NewBus(nil)

	got := make(chan Event, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ev, err := bus.WaitFor(context.Background(), OrderCancelled)
		if err != nil {
			t.Errorf("wait: %v", err)
			return
		}
		got <- ev
	}()
	time.Sleep(10 * time.Millisecond)

	bus.Publish(Event{Type: OrderCancelled, Payload: "first"})
	wg.Wait()

	// The future is spent: a second publish resolves nobody.
	bus.Publish(Event{Type: OrderCancelled, Payload: "second"})

	if len(got) != 1 {
		t.Fatalf("one-shot waiter resolved %d times", len(got))
	}
	if ev := <-got; ev.Payload != "first" {
		t.Fatalf("waiter saw %v, want the first event", ev.Payload)
	}
}

func TestWaitForMultipleWaitersAllResolve(t *testing.T) {
	bus := NewBus(nil)

	const n = 5
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bus.WaitFor(context.Background(), SellOrderCompleted)
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)

	bus.Publish(Event{Type: SellOrderCompleted})
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("waiter failed: %v", err)
		}
	}
}

func TestEventLogRecordsAndFilters(t *testing.T) {
	bus := NewBus(nil)
	log := NewEventLog()
	for _, tag := range AllTypes() {
		bus.Subscribe(tag, log)
	}

	bus.Publish(Event{Type: BuyOrderCreated})
	bus.Publish(Event{Type: OrderFilled})
	bus.Publish(Event{Type: OrderFilled})
	bus.Publish(Event{Type: BuyOrderCompleted})

	if log.Len() != 4 {
		t.Fatalf("recorded %d events, want 4", log.Len())
	}
	if got := len(log.OfType(OrderFilled)); got != 2 {
		t.Fatalf("OfType(OrderFilled)=%d, want 2", got)
	}
	all := log.Events()
	if all[0].Type != BuyOrderCreated || all[3].Type != BuyOrderCompleted {
		t.Fatalf("order not preserved: %v ... %v", all[0].Type, all[3].Type)
	}

	log.Clear()
	if log.Len() != 0 {
		t.Fatal("clear left events behind")
	}
}

func TestTypeStrings(t *testing.T) {
	tests := []struct {
		tag  Type
		want string
	}{
		{BuyOrderCreated, "BuyOrderCreated"},
		{SellOrderCreated, "SellOrderCreated"},
		{OrderFilled, "OrderFilled"},
		{OrderCancelled, "OrderCancelled"},
		{BuyOrderCompleted, "BuyOrderCompleted"},
		{SellOrderCompleted, "SellOrderCompleted"},
		{TypeUnknown, "Unknown"},
		{Type(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.tag.String(); got != tt.want {
			t.Errorf("Type(%d).String()=%q, want %q", tt.tag, got, tt.want)
		}
	}
}
