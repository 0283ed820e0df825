package events

import "sync"

// EventLog is a listener that records everything it receives, in arrival
// order. Tests and the demo binary use it to assert on event sequences.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

func NewEventLog() *EventLog { return &EventLog{} }

func (l *EventLog) OnEvent(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// OfType filters the recorded events down to one tag, preserving order.
func (l *EventLog) OfType(t Type) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Len reports the number of recorded events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Clear drops everything recorded so far.
func (l *EventLog) Clear() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}
