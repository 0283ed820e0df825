package meridex

// Wire types for the meridex REST API and WebSocket feed. All quantities
// travel as decimal strings; addresses and order hashes as 0x-prefixed hex.

// ==============================
// REST Response Types
// ==============================

// MarketInfo represents a market's static configuration
type MarketInfo struct {
	Symbol         string `json:"symbol"`     // e.g. "ETH_FXC" (QUOTE_BASE)
	BaseAsset      string `json:"baseAsset"`  // e.g. "FXC"
	QuoteAsset     string `json:"quoteAsset"` // e.g. "ETH"
	MinOrderSize   string `json:"minOrderSize"`
	LotSize        string `json:"lotSize"`   // minimum base increment
	PriceTick      string `json:"priceTick"` // minimum price increment
	MakerFeeBps    int64  `json:"makerFeeBps"`
	TakerFeeBps    int64  `json:"takerFeeBps"`
	ReferencePrice string `json:"referencePrice"` // current quote the venue fills market orders at
}

// OrderStatusResponse is the venue's cumulative view of one order
type OrderStatusResponse struct {
	OrderHash string `json:"orderHash"`
	ClientID  string `json:"clientId,omitempty"`
	Market    string `json:"market"`
	Side      string `json:"side"` // "buy" | "sell"
	Type      string `json:"type"` // "limit" | "market"
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Filled    string `json:"filled"`
	AvgPrice  string `json:"avgPrice"`
	FeePaid   string `json:"feePaid"`
	Status    string `json:"status"` // "open" | "partially_filled" | "filled" | "cancelled"
}

// PlaceOrderResponse is returned from order submission
type PlaceOrderResponse struct {
	OrderHash string `json:"orderHash"`
	Status    string `json:"status"`
}

// CancelOrderResponse acknowledges a cancellation
type CancelOrderResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// REST Request Types
// ==============================

// PlaceOrderRequest is the payload for POST /v1/orders. The signature covers
// the canonical order digest (see OrderDigest) and the venue recovers the
// signer address from it.
type PlaceOrderRequest struct {
	Market    string `json:"market"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	Price     string `json:"price,omitempty"`
	Nonce     int64  `json:"nonce"`
	Address   string `json:"address"`
	Signature string `json:"signature"`
	ClientID  string `json:"clientId,omitempty"`
}

// CancelOrderRequest is the payload for POST /v1/orders/{hash}/cancel
type CancelOrderRequest struct {
	Nonce     int64  `json:"nonce"`
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// ==============================
// WebSocket Message Types
// ==============================

// TradeUpdate is broadcast on the WS feed when a trade executes. TradeID is
// unique per execution so feed consumers can dedupe across reconnects.
type TradeUpdate struct {
	Type      string `json:"type"` // "trade"
	TradeID   string `json:"tradeId"`
	Market    string `json:"market"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}
