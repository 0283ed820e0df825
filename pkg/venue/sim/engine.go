package sim

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/okamiya/dexrig/pkg/crypto"
	"github.com/okamiya/dexrig/pkg/venue/meridex"
)

// Error carries the HTTP status the REST layer responds with.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errf(status int, code, format string, args ...any) *Error {
	return &Error{Status: status, Code: code, Message: fmt.Sprintf(format, args...)}
}

// MarketSpec configures one tradable market.
type MarketSpec struct {
	Symbol         string
	BaseAsset      string
	QuoteAsset     string
	MinOrderSize   decimal.Decimal
	LotSize        decimal.Decimal
	PriceTick      decimal.Decimal
	MakerFeeBps    int64
	TakerFeeBps    int64
	ReferencePrice decimal.Decimal
}

type simMarket struct {
	spec     MarketSpec
	refPrice decimal.Decimal
}

// Order lifecycle states on the wire.
const (
	stateOpen      = "open"
	statePartially = "partially_filled"
	stateFilled    = "filled"
	stateCancelled = "cancelled"
)

type order struct {
	hash     string
	clientID string
	market   string
	address  string // lowercased
	side     string // "buy" | "sell"
	typ      string // "limit" | "market"
	price    decimal.Decimal // zero for market orders
	amount   decimal.Decimal
	filled   decimal.Decimal
	quote    decimal.Decimal // cumulative quote volume of fills
	fee      decimal.Decimal
	status   string
}

func (o *order) remaining() decimal.Decimal { return o.amount.Sub(o.filled) }

func (o *order) terminal() bool {
	return o.status == stateFilled || o.status == stateCancelled
}

func (o *order) avgPrice() decimal.Decimal {
	if o.filled.IsZero() {
		return decimal.Zero
	}
	return o.quote.Div(o.filled)
}

// account tracks one address. available moves to locked while a resting
// order holds it; totals reported to clients are available + locked.
type account struct {
	available map[string]decimal.Decimal
	locked    map[string]decimal.Decimal
}

func newAccount() *account {
	return &account{
		available: make(map[string]decimal.Decimal),
		locked:    make(map[string]decimal.Decimal),
	}
}

func (a *account) credit(asset string, amount decimal.Decimal) {
	a.available[asset] = a.available[asset].Add(amount)
}

func (a *account) lock(asset string, amount decimal.Decimal) bool {
	if a.available[asset].LessThan(amount) {
		return false
	}
	a.available[asset] = a.available[asset].Sub(amount)
	a.locked[asset] = a.locked[asset].Add(amount)
	return true
}

func (a *account) unlock(asset string, amount decimal.Decimal) {
	a.locked[asset] = a.locked[asset].Sub(amount)
	a.available[asset] = a.available[asset].Add(amount)
}

// spendLocked consumes previously locked funds on settlement.
func (a *account) spendLocked(asset string, amount decimal.Decimal) {
	a.locked[asset] = a.locked[asset].Sub(amount)
}

// Engine is an in-memory exchange speaking the meridex protocol. It keeps
// accounts, resting limit orders and a reference price per market; market
// orders and marketable limits fill against the reference price immediately,
// everything else rests until cancelled or force-filled.
//
// Request authentication matches the live venue: signatures are recovered to
// an address and compared against the claimed one.
type Engine struct {
	mu       sync.Mutex
	markets  map[string]*simMarket
	accounts map[string]*account
	orders   map[string]*order
	seq      uint64
	log      *zap.SugaredLogger

	// seed is credited to every account on first touch, so a fresh wallet
	// can trade without an out-of-band deposit.
	seed map[string]decimal.Decimal

	// tradeSink, when set, receives every executed trade. The REST server
	// wires it to the WebSocket hub. Called outside the engine lock.
	tradeSink func(meridex.TradeUpdate)
}

func NewEngine(specs []MarketSpec, log *zap.SugaredLogger) *Engine {
	e := &Engine{
		markets:  make(map[string]*simMarket, len(specs)),
		accounts: make(map[string]*account),
		orders:   make(map[string]*order),
		log:      log,
	}
	for _, spec := range specs {
		e.markets[spec.Symbol] = &simMarket{spec: spec, refPrice: spec.ReferencePrice}
	}
	return e
}

// SetTradeSink registers the callback invoked for every executed trade.
func (e *Engine) SetTradeSink(fn func(meridex.TradeUpdate)) {
	e.mu.Lock()
	e.tradeSink = fn
	e.mu.Unlock()
}

// SetSeed makes every first-touched account start with these balances.
func (e *Engine) SetSeed(balances map[string]decimal.Decimal) {
	e.mu.Lock()
	e.seed = balances
	e.mu.Unlock()
}

// Credit funds an account out of band. Used for seeding test balances.
func (e *Engine) Credit(address, asset string, amount decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accountLocked(address).credit(asset, amount)
}

// SetReferencePrice moves the price market orders execute at.
func (e *Engine) SetReferencePrice(symbol string, price decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	mkt, ok := e.markets[symbol]
	if !ok {
		return errf(http.StatusNotFound, "unknown market", "%s", symbol)
	}
	mkt.refPrice = price
	return nil
}

// Markets lists the market catalog in wire form.
func (e *Engine) Markets() []meridex.MarketInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]meridex.MarketInfo, 0, len(e.markets))
	for _, mkt := range e.markets {
		out = append(out, meridex.MarketInfo{
			Symbol:         mkt.spec.Symbol,
			BaseAsset:      mkt.spec.BaseAsset,
			QuoteAsset:     mkt.spec.QuoteAsset,
			MinOrderSize:   mkt.spec.MinOrderSize.String(),
			LotSize:        mkt.spec.LotSize.String(),
			PriceTick:      mkt.spec.PriceTick.String(),
			MakerFeeBps:    mkt.spec.MakerFeeBps,
			TakerFeeBps:    mkt.spec.TakerFeeBps,
			ReferencePrice: mkt.refPrice.String(),
		})
	}
	return out
}

// Balances returns total balances (available + locked) per asset.
func (e *Engine) Balances(address string) map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	acct := e.accountLocked(address)
	out := make(map[string]string, len(acct.available))
	for asset, avail := range acct.available {
		out[asset] = avail.Add(acct.locked[asset]).String()
	}
	for asset, locked := range acct.locked {
		if _, seen := acct.available[asset]; !seen {
			out[asset] = locked.String()
		}
	}
	return out
}

// PlaceOrder validates, authenticates and executes or rests one order.
func (e *Engine) PlaceOrder(req meridex.PlaceOrderRequest) (meridex.PlaceOrderResponse, error) {
	e.mu.Lock()

	mkt, ok := e.markets[req.Market]
	if !ok {
		e.mu.Unlock()
		return meridex.PlaceOrderResponse{}, errf(http.StatusNotFound, "unknown market", "%s", req.Market)
	}

	if req.Side != "buy" && req.Side != "sell" {
		e.mu.Unlock()
		return meridex.PlaceOrderResponse{}, errf(http.StatusBadRequest, "invalid side", "%s", req.Side)
	}
	if req.Type != "limit" && req.Type != "market" {
		e.mu.Unlock()
		return meridex.PlaceOrderResponse{}, errf(http.StatusBadRequest, "invalid type", "%s", req.Type)
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		e.mu.Unlock()
		return meridex.PlaceOrderResponse{}, errf(http.StatusBadRequest, "invalid amount", "%s", req.Amount)
	}
	if amount.LessThan(mkt.spec.MinOrderSize) {
		e.mu.Unlock()
		return meridex.PlaceOrderResponse{}, errf(http.StatusBadRequest, "below minimum order size",
			"%s < %s", req.Amount, mkt.spec.MinOrderSize)
	}

	var price decimal.Decimal
	if req.Type == "limit" {
		price, err = decimal.NewFromString(req.Price)
		if err != nil || !price.IsPositive() {
			e.mu.Unlock()
			return meridex.PlaceOrderResponse{}, errf(http.StatusBadRequest, "invalid price", "%s", req.Price)
		}
	}

	digest := meridex.OrderDigest(req.Market, req.Side, req.Type, req.Amount, req.Price, req.Nonce, req.Address)
	if err := verifySig(req.Address, digest, req.Signature); err != nil {
		e.mu.Unlock()
		return meridex.PlaceOrderResponse{}, err
	}

	addr := strings.ToLower(req.Address)
	acct := e.accountLocked(addr)

	e.seq++
	o := &order{
		hash:     crypto.Keccak256Hex(digest, seqBytes(e.seq)),
		clientID: req.ClientID,
		market:   req.Market,
		address:  addr,
		side:     req.Side,
		typ:      req.Type,
		price:    price,
		amount:   amount,
		status:   stateOpen,
	}

	var trade *meridex.TradeUpdate
	marketable := req.Type == "market" ||
		(req.Side == "buy" && price.GreaterThanOrEqual(mkt.refPrice)) ||
		(req.Side == "sell" && price.LessThanOrEqual(mkt.refPrice))

	if marketable {
		trade, err = e.takeLocked(acct, mkt, o, amount, mkt.refPrice)
		if err != nil {
			e.mu.Unlock()
			return meridex.PlaceOrderResponse{}, err
		}
	} else {
		// Rest on the book: lock what settlement will need.
		if req.Side == "buy" {
			if !acct.lock(mkt.spec.QuoteAsset, amount.Mul(price)) {
				e.mu.Unlock()
				return meridex.PlaceOrderResponse{}, errf(http.StatusConflict, "insufficient balance",
					"need %s %s", amount.Mul(price), mkt.spec.QuoteAsset)
			}
		} else {
			if !acct.lock(mkt.spec.BaseAsset, amount) {
				e.mu.Unlock()
				return meridex.PlaceOrderResponse{}, errf(http.StatusConflict, "insufficient balance",
					"need %s %s", amount, mkt.spec.BaseAsset)
			}
		}
	}

	e.orders[o.hash] = o
	sink := e.tradeSink
	status := o.status
	e.mu.Unlock()

	if e.log != nil {
		e.log.Infow("order placed",
			"hash", o.hash, "market", o.market, "side", o.side, "type", o.typ,
			"amount", o.amount, "price", o.price, "status", status)
	}
	if trade != nil && sink != nil {
		sink(*trade)
	}
	return meridex.PlaceOrderResponse{OrderHash: o.hash, Status: status}, nil
}

// CancelOrder cancels a resting order and releases its locked funds.
func (e *Engine) CancelOrder(hash string, req meridex.CancelOrderRequest) (meridex.CancelOrderResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[hash]
	if !ok {
		return meridex.CancelOrderResponse{}, errf(http.StatusNotFound, "unknown order", "%s", hash)
	}

	digest := meridex.CancelDigest(hash, req.Nonce, req.Address)
	if err := verifySig(req.Address, digest, req.Signature); err != nil {
		return meridex.CancelOrderResponse{}, err
	}
	if strings.ToLower(req.Address) != o.address {
		return meridex.CancelOrderResponse{}, errf(http.StatusForbidden, "not order owner", "%s", req.Address)
	}

	switch o.status {
	case stateFilled:
		return meridex.CancelOrderResponse{}, errf(http.StatusConflict, "order already filled", "%s", hash)
	case stateCancelled:
		// Repeat cancels are fine.
		return meridex.CancelOrderResponse{Status: stateCancelled}, nil
	}

	mkt := e.markets[o.market]
	acct := e.accountLocked(o.address)
	if o.side == "buy" {
		acct.unlock(mkt.spec.QuoteAsset, o.remaining().Mul(o.price))
	} else {
		acct.unlock(mkt.spec.BaseAsset, o.remaining())
	}
	o.status = stateCancelled

	if e.log != nil {
		e.log.Infow("order cancelled", "hash", hash, "market", o.market)
	}
	return meridex.CancelOrderResponse{Status: stateCancelled}, nil
}

// OrderStatus reports the venue's cumulative view of one order.
func (e *Engine) OrderStatus(hash string) (meridex.OrderStatusResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[hash]
	if !ok {
		return meridex.OrderStatusResponse{}, errf(http.StatusNotFound, "unknown order", "%s", hash)
	}
	return meridex.OrderStatusResponse{
		OrderHash: o.hash,
		ClientID:  o.clientID,
		Market:    o.market,
		Side:      o.side,
		Type:      o.typ,
		Price:     o.price.String(),
		Amount:    o.amount.String(),
		Filled:    o.filled.String(),
		AvgPrice:  o.avgPrice().String(),
		FeePaid:   o.fee.String(),
		Status:    o.status,
	}, nil
}

// Fill force-executes part of a resting order at its limit price, paying
// maker fees. Drives partial-fill scenarios in tests and demos.
func (e *Engine) Fill(hash string, amount decimal.Decimal) error {
	e.mu.Lock()

	o, ok := e.orders[hash]
	if !ok {
		e.mu.Unlock()
		return errf(http.StatusNotFound, "unknown order", "%s", hash)
	}
	if o.terminal() {
		e.mu.Unlock()
		return errf(http.StatusConflict, "order terminal", "%s", o.status)
	}
	if !amount.IsPositive() || amount.GreaterThan(o.remaining()) {
		e.mu.Unlock()
		return errf(http.StatusBadRequest, "invalid fill amount", "%s of %s remaining", amount, o.remaining())
	}

	mkt := e.markets[o.market]
	acct := e.accountLocked(o.address)
	quote := amount.Mul(o.price)
	fee := feeFor(quote, mkt.spec.MakerFeeBps)

	if o.side == "buy" {
		acct.spendLocked(mkt.spec.QuoteAsset, quote)
		acct.credit(mkt.spec.BaseAsset, amount)
		// Fee comes out of available quote; resting locks cover notional only.
		acct.available[mkt.spec.QuoteAsset] = acct.available[mkt.spec.QuoteAsset].Sub(fee)
	} else {
		acct.spendLocked(mkt.spec.BaseAsset, amount)
		acct.credit(mkt.spec.QuoteAsset, quote.Sub(fee))
	}

	o.filled = o.filled.Add(amount)
	o.quote = o.quote.Add(quote)
	o.fee = o.fee.Add(fee)
	if o.remaining().IsZero() {
		o.status = stateFilled
	} else {
		o.status = statePartially
	}

	trade := meridex.TradeUpdate{
		Type:      "trade",
		TradeID:   uuid.NewString(),
		Market:    o.market,
		Side:      o.side,
		Price:     o.price.String(),
		Amount:    amount.String(),
		Timestamp: time.Now().UnixMilli(),
	}
	sink := e.tradeSink
	e.mu.Unlock()

	if sink != nil {
		sink(trade)
	}
	return nil
}

// takeLocked settles an aggressive order in full at px. Caller holds e.mu.
func (e *Engine) takeLocked(acct *account, mkt *simMarket, o *order, amount, px decimal.Decimal) (*meridex.TradeUpdate, error) {
	if !px.IsPositive() {
		return nil, errf(http.StatusConflict, "no reference price", "market %s", o.market)
	}
	quote := amount.Mul(px)
	fee := feeFor(quote, mkt.spec.TakerFeeBps)

	if o.side == "buy" {
		need := quote.Add(fee)
		if acct.available[mkt.spec.QuoteAsset].LessThan(need) {
			return nil, errf(http.StatusConflict, "insufficient balance", "need %s %s", need, mkt.spec.QuoteAsset)
		}
		acct.available[mkt.spec.QuoteAsset] = acct.available[mkt.spec.QuoteAsset].Sub(need)
		acct.credit(mkt.spec.BaseAsset, amount)
	} else {
		if acct.available[mkt.spec.BaseAsset].LessThan(amount) {
			return nil, errf(http.StatusConflict, "insufficient balance", "need %s %s", amount, mkt.spec.BaseAsset)
		}
		acct.available[mkt.spec.BaseAsset] = acct.available[mkt.spec.BaseAsset].Sub(amount)
		acct.credit(mkt.spec.QuoteAsset, quote.Sub(fee))
	}

	o.filled = amount
	o.quote = quote
	o.fee = fee
	o.status = stateFilled

	return &meridex.TradeUpdate{
		Type:      "trade",
		TradeID:   uuid.NewString(),
		Market:    o.market,
		Side:      o.side,
		Price:     px.String(),
		Amount:    amount.String(),
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func (e *Engine) accountLocked(address string) *account {
	key := strings.ToLower(address)
	acct, ok := e.accounts[key]
	if !ok {
		acct = newAccount()
		for asset, amount := range e.seed {
			acct.credit(asset, amount)
		}
		e.accounts[key] = acct
	}
	return acct
}

func feeFor(quote decimal.Decimal, bps int64) decimal.Decimal {
	if bps <= 0 {
		return decimal.Zero
	}
	return quote.Mul(decimal.NewFromInt(bps)).Div(decimal.NewFromInt(10000))
}

func seqBytes(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

// verifySig recovers the signer from a 0x-hex signature and compares it to
// the claimed address.
func verifySig(address string, digest []byte, signature string) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return errf(http.StatusUnauthorized, "malformed signature", "%v", err)
	}
	recovered, err := crypto.RecoverAddress(digest, raw)
	if err != nil {
		return errf(http.StatusUnauthorized, "signature recovery failed", "%v", err)
	}
	if !strings.EqualFold(recovered.Hex(), address) {
		return errf(http.StatusUnauthorized, "signature mismatch", "signed by %s", recovered.Hex())
	}
	return nil
}
