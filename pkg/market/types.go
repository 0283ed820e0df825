package market

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side int8

const (
	SideBuy  Side = 1
	SideSell Side = -1
)

func (s Side) String() string {
	if s == SideSell {
		return "sell"
	}
	return "buy"
}

type OrderType int8

const (
	OrderTypeLimit OrderType = iota + 1
	OrderTypeMarket
)

func (t OrderType) String() string {
	if t == OrderTypeMarket {
		return "market"
	}
	return "limit"
}

// Status is the order lifecycle state. Submitted is assigned synchronously at
// submission; Filled and Cancelled are terminal.
type Status int8

const (
	StatusSubmitted Status = iota + 1
	StatusOpen
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSubmitted:
		return "submitted"
	case StatusOpen:
		return "open"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen from s.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// Order is one tracked in-flight order. Owned exclusively by the Market;
// everything handed out is a copy.
//
// Symbol uses the venue's QUOTE_BASE form: "ETH_FXC" trades the FXC base
// asset priced in ETH. Amount/Filled are base quantities; Price is zero for
// market orders.
type Order struct {
	ID          string // caller-visible, assigned locally
	VenueID     string // venue-assigned hash, set on acknowledgment
	Symbol      string
	Side        Side
	Type        OrderType
	Amount      decimal.Decimal // requested base amount
	Price       decimal.Decimal // requested limit price
	Filled      decimal.Decimal // cumulative base filled
	QuoteFilled decimal.Decimal // cumulative quote volume of fills
	FeePaid     decimal.Decimal // cumulative fee as reported by the venue
	Status      Status
	Created     time.Time

	missingPolls int // consecutive venue-unknown replies
}

// Remaining is the base quantity still unfilled.
func (o *Order) Remaining() decimal.Decimal { return o.Amount.Sub(o.Filled) }

func (o *Order) Terminal() bool { return o.Status.Terminal() }

// TradingRule is the venue's static configuration for one symbol. LotSize is
// the minimum base increment and doubles as the completion tolerance: an
// order whose remainder is within one lot counts as fully filled.
type TradingRule struct {
	Symbol       string
	BaseAsset    string
	QuoteAsset   string
	MinOrderSize decimal.Decimal
	LotSize      decimal.Decimal
	PriceTick    decimal.Decimal
	MakerFeeBps  int64
	TakerFeeBps  int64
}

// CancellationResult is one row of a CancelAll report: whether that order's
// cancellation was confirmed within the batch deadline.
type CancellationResult struct {
	OrderID string
	Success bool
}
