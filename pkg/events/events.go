package events

import "time"

// Type tags every event published on the Bus. Subscriptions and waiters are
// keyed by tag; payloads are defined by the publishing package.
type Type int

const (
	TypeUnknown Type = iota
	BuyOrderCreated
	SellOrderCreated
	OrderFilled
	OrderCancelled
	BuyOrderCompleted
	SellOrderCompleted
)

// AllTypes lists every concrete event tag, in declaration order.
func AllTypes() []Type {
	return []Type{
		BuyOrderCreated,
		SellOrderCreated,
		OrderFilled,
		OrderCancelled,
		BuyOrderCompleted,
		SellOrderCompleted,
	}
}

func (t Type) String() string {
	switch t {
	case BuyOrderCreated:
		return "BuyOrderCreated"
	case SellOrderCreated:
		return "SellOrderCreated"
	case OrderFilled:
		return "OrderFilled"
	case OrderCancelled:
		return "OrderCancelled"
	case BuyOrderCompleted:
		return "BuyOrderCompleted"
	case SellOrderCompleted:
		return "SellOrderCompleted"
	default:
		return "Unknown"
	}
}

// Event is an immutable record of one state transition. Published once,
// never mutated afterwards.
type Event struct {
	Type    Type
	Time    time.Time
	Payload any
}

// Listener receives events for the tags it subscribed to. OnEvent must not
// block; long work belongs on the listener's own goroutine.
type Listener interface {
	OnEvent(ev Event)
}

// ListenerFunc adapts a plain function to the Listener interface.
type ListenerFunc func(ev Event)

func (f ListenerFunc) OnEvent(ev Event) { f(ev) }
