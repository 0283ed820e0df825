package recorder

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/okamiya/dexrig/pkg/events"
)

type noteBody struct {
	OrderID string `json:"orderId"`
}

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if err := j.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return j
}

func publishNote(bus *events.Bus, tag events.Type, at time.Time, orderID string) {
	bus.Publish(events.Event{Type: tag, Time: at, Payload: noteBody{OrderID: orderID}})
}

func TestJournalRecordsBusEvents(t *testing.T) {
	j := openTestJournal(t)
	bus := events.NewBus(nil)
	j.Attach(bus)
	defer j.Detach(bus)

	t0 := time.UnixMilli(1_700_000_000_000).UTC()
	publishNote(bus, events.BuyOrderCreated, t0, "buy-1")
	publishNote(bus, events.OrderFilled, t0.Add(time.Second), "buy-1")
	publishNote(bus, events.BuyOrderCompleted, t0.Add(2*time.Second), "buy-1")

	entries, err := j.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries %d, want 3", len(entries))
	}

	// Newest first.
	wantTypes := []string{"BuyOrderCompleted", "OrderFilled", "BuyOrderCreated"}
	for i, e := range entries {
		if e.Type != wantTypes[i] {
			t.Fatalf("entry %d type %q, want %q", i, e.Type, wantTypes[i])
		}
	}
	if !entries[0].Time.Equal(t0.Add(2 * time.Second)) {
		t.Fatalf("entry time %v", entries[0].Time)
	}

	var body noteBody
	if err := json.Unmarshal(entries[2].Payload, &body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if body.OrderID != "buy-1" {
		t.Fatalf("payload order id %q", body.OrderID)
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	j := openTestJournal(t)
	bus := events.NewBus(nil)
	j.Attach(bus)
	defer j.Detach(bus)

	t0 := time.UnixMilli(1_700_000_000_000).UTC()
	ids := []string{"a", "b", "c", "d", "e"}
	for i, id := range ids {
		publishNote(bus, events.OrderCancelled, t0.Add(time.Duration(i)*time.Second), id)
	}

	entries, err := j.Recent(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries %d, want 2", len(entries))
	}
	var body noteBody
	if err := json.Unmarshal(entries[0].Payload, &body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if body.OrderID != "e" {
		t.Fatalf("newest entry %q, want e", body.OrderID)
	}
}

func TestSameMillisecondKeepsArrivalOrder(t *testing.T) {
	j := openTestJournal(t)
	bus := events.NewBus(nil)
	j.Attach(bus)
	defer j.Detach(bus)

	at := time.UnixMilli(1_700_000_000_000).UTC()
	for _, id := range []string{"first", "second", "third"} {
		publishNote(bus, events.OrderFilled, at, id)
	}

	entries, err := j.Recent(3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries %d, want 3", len(entries))
	}
	// The sequence suffix breaks the timestamp tie.
	want := []string{"third", "second", "first"}
	for i, e := range entries {
		var body noteBody
		if err := json.Unmarshal(e.Payload, &body); err != nil {
			t.Fatalf("decode payload %d: %v", i, err)
		}
		if body.OrderID != want[i] {
			t.Fatalf("entry %d is %q, want %q", i, body.OrderID, want[i])
		}
	}
}

func TestDetachStopsRecording(t *testing.T) {
	j := openTestJournal(t)
	bus := events.NewBus(nil)
	j.Attach(bus)

	t0 := time.UnixMilli(1_700_000_000_000).UTC()
	publishNote(bus, events.SellOrderCreated, t0, "sell-1")
	j.Detach(bus)
	publishNote(bus, events.SellOrderCompleted, t0.Add(time.Second), "sell-1")

	entries, err := j.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries %d, want 1", len(entries))
	}
	if entries[0].Type != "SellOrderCreated" {
		t.Fatalf("entry type %q", entries[0].Type)
	}
}

func TestRecentOnEmptyJournal(t *testing.T) {
	j := openTestJournal(t)

	entries, err := j.Recent(5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries %d, want 0", len(entries))
	}
}
