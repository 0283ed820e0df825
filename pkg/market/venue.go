package market

import (
	"context"

	"github.com/shopspring/decimal"
)

// VenueOrderStatus is the venue's view of one order.
type VenueOrderStatus int8

const (
	VenueOrderOpen VenueOrderStatus = iota + 1
	VenueOrderFilled
	VenueOrderCancelled
)

func (s VenueOrderStatus) String() string {
	switch s {
	case VenueOrderOpen:
		return "open"
	case VenueOrderFilled:
		return "filled"
	case VenueOrderCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// PlaceOrderRequest carries one submission across the venue boundary.
type PlaceOrderRequest struct {
	ClientID string
	Symbol   string
	Side     Side
	Type     OrderType
	Amount   decimal.Decimal
	Price    decimal.Decimal // zero for market orders
}

// PlaceOrderAck is the venue's acknowledgment of a placement.
type PlaceOrderAck struct {
	VenueID string
}

// OrderReport is the venue's cumulative status of one order: total filled
// base quantity, average execution price (zero while unfilled), and total
// fee charged so far.
type OrderReport struct {
	VenueID string
	Status  VenueOrderStatus
	Filled  decimal.Decimal
	Price   decimal.Decimal
	FeePaid decimal.Decimal
}

// Venue is the transport boundary to the external exchange. Latency and
// failure modes are opaque; every call is expected to be bounded by the
// implementation's own timeout. OrderStatus returns ErrVenueOrderUnknown
// (possibly wrapped) when the venue has no such order; all other failures
// are *VenueError.
type Venue interface {
	Name() string
	TradingRules(ctx context.Context) ([]TradingRule, error)
	Balances(ctx context.Context) (map[string]decimal.Decimal, error)
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderAck, error)
	CancelOrder(ctx context.Context, venueID string) error
	OrderStatus(ctx context.Context, venueID string) (OrderReport, error)
}
