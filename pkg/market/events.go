package market

import "github.com/shopspring/decimal"

// Event payloads published on the bus. Created events carry the requested
// amount/price, never venue-adjusted values, so callers can correlate their
// own submissions.

type BuyOrderCreatedEvent struct {
	OrderID string
	Symbol  string
	Type    OrderType
	Amount  decimal.Decimal
	Price   decimal.Decimal
}

type SellOrderCreatedEvent struct {
	OrderID string
	Symbol  string
	Type    OrderType
	Amount  decimal.Decimal
	Price   decimal.Decimal
}

// OrderFilledEvent reports one observed fill increment, not a cumulative
// total. Fee is the incremental fee the venue charged for this slice.
type OrderFilledEvent struct {
	OrderID string
	Symbol  string
	Side    Side
	Amount  decimal.Decimal
	Price   decimal.Decimal
	Fee     decimal.Decimal
}

type BuyOrderCompletedEvent struct {
	OrderID     string
	Symbol      string
	TotalAmount decimal.Decimal // base filled in total
	QuoteAmount decimal.Decimal // quote volume across all fills
	Fee         decimal.Decimal
}

type SellOrderCompletedEvent struct {
	OrderID     string
	Symbol      string
	TotalAmount decimal.Decimal
	QuoteAmount decimal.Decimal
	Fee         decimal.Decimal
}

type OrderCancelledEvent struct {
	OrderID string
}
