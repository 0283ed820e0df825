package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/okamiya/dexrig/pkg/clock"
	"github.com/okamiya/dexrig/pkg/events"
)

// Config tunes the connector's polling behavior. Zero values fall back to
// defaults.
type Config struct {
	// TickTimeout bounds the I/O one Tick is allowed to perform.
	TickTimeout time.Duration
	// BalancePollInterval is the logical-time cadence of balance refreshes.
	BalancePollInterval time.Duration
	// CancelRequestTimeout bounds each venue cancel issued by CancelAll,
	// independent of the batch deadline, so late confirmations can still
	// land and be applied.
	CancelRequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickTimeout <= 0 {
		c.TickTimeout = 5 * time.Second
	}
	if c.BalancePollInterval <= 0 {
		c.BalancePollInterval = 5 * time.Second
	}
	if c.CancelRequestTimeout <= 0 {
		c.CancelRequestTimeout = 30 * time.Second
	}
	return c
}

// Market is the connector core: it owns the in-flight order set, submits
// orders to the venue, reconciles venue reports into local state on every
// clock tick, and publishes lifecycle events on the bus.
//
// All state lives behind one lock; caller-facing operations serialize with
// tick work through it. A second lock pairs each state transition with the
// publication of its events, so subscribers observe an order's events in
// transition order even when a submission or cancel races the polling tick.
// Nothing here is process-fatal: venue outages keep the market non-ready
// (or stale) and polling just retries.
type Market struct {
	clock.IteratorBase

	cfg   Config
	venue Venue
	bus   *events.Bus
	log   *zap.SugaredLogger

	// emitMu makes a state transition and the publication of its events one
	// step: acquired before mu, held until Publish returns. Bus listeners
	// must not call mutating Market methods synchronously.
	emitMu sync.Mutex

	mu             sync.Mutex
	orders         map[string]*Order
	orderIDs       []string // submission order, for deterministic snapshots
	balances       map[string]decimal.Decimal
	rules          map[string]TradingRule
	rulesLoaded    bool
	balancesLoaded bool
	lastBalances   time.Time
	now            time.Time
	nonce          int64
	started        bool
}

func NewMarket(cfg Config, venue Venue, bus *events.Bus, log *zap.SugaredLogger) *Market {
	return &Market{
		cfg:      cfg.withDefaults(),
		venue:    venue,
		bus:      bus,
		log:      log,
		orders:   make(map[string]*Order),
		balances: make(map[string]decimal.Decimal),
		rules:    make(map[string]TradingRule),
	}
}

// Name reports the venue this connector trades on.
func (m *Market) Name() string { return m.venue.Name() }

// ==============================
// Tickable lifecycle
// ==============================

func (m *Market) Start(ctx context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	m.started = true
	m.now = now
	return nil
}

func (m *Market) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	return nil
}

// Tick performs one bounded polling round: bootstrap trading rules, refresh
// balances on their cadence, and reconcile every open order against the
// venue. Transient venue failures are logged and retried next tick; they
// never abort the loop.
func (m *Market) Tick(ctx context.Context, now time.Time) error {
	tctx, cancel := context.WithTimeout(ctx, m.cfg.TickTimeout)
	defer cancel()

	m.mu.Lock()
	m.now = now
	m.mu.Unlock()

	m.refreshRules(tctx)
	m.refreshBalances(tctx, now)
	m.pollOpenOrders(tctx)

	m.mu.Lock()
	bootstrapped := m.rulesLoaded && m.balancesLoaded
	m.mu.Unlock()
	if bootstrapped && !m.Ready() {
		m.MarkReady()
		if m.log != nil {
			m.log.Infow("market ready", "venue", m.venue.Name(), "ts", now.Unix())
		}
	}
	return nil
}

func (m *Market) refreshRules(ctx context.Context) {
	m.mu.Lock()
	loaded := m.rulesLoaded
	m.mu.Unlock()
	if loaded {
		return
	}

	rules, err := m.venue.TradingRules(ctx)
	if err != nil {
		if m.log != nil {
			m.log.Warnw("trading rules fetch failed", "venue", m.venue.Name(), "err", err)
		}
		return
	}
	m.mu.Lock()
	for _, r := range rules {
		m.rules[r.Symbol] = r
	}
	m.rulesLoaded = true
	m.mu.Unlock()
}

func (m *Market) refreshBalances(ctx context.Context, now time.Time) {
	m.mu.Lock()
	due := !m.balancesLoaded || now.Sub(m.lastBalances) >= m.cfg.BalancePollInterval
	m.mu.Unlock()
	if !due {
		return
	}

	bals, err := m.venue.Balances(ctx)
	if err != nil {
		if m.log != nil {
			m.log.Warnw("balance fetch failed", "venue", m.venue.Name(), "err", err)
		}
		return
	}
	m.mu.Lock()
	m.balances = bals
	m.balancesLoaded = true
	m.lastBalances = now
	m.mu.Unlock()
}

func (m *Market) pollOpenOrders(ctx context.Context) {
	type target struct{ id, venueID string }
	m.mu.Lock()
	var open []target
	for _, id := range m.orderIDs {
		o, ok := m.orders[id]
		if !ok {
			continue
		}
		if o.Status == StatusOpen || o.Status == StatusPartiallyFilled {
			open = append(open, target{id: o.ID, venueID: o.VenueID})
		}
	}
	m.mu.Unlock()

	for _, t := range open {
		report, err := m.venue.OrderStatus(ctx, t.venueID)
		switch {
		case errors.Is(err, ErrVenueOrderUnknown):
			m.noteMissing(t.id)
		case err != nil:
			if m.log != nil {
				m.log.Warnw("order status poll failed", "order_id", t.id, "err", err)
			}
		default:
			m.applyReport(t.id, report)
		}
	}
}

// applyReport folds one venue report into local state, publishing the fill
// delta and at most one terminal event. The venue is authoritative: local
// state is corrected to match it on any disagreement.
func (m *Market) applyReport(id string, rep OrderReport) {
	var evs []events.Event

	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok || o.Terminal() {
		m.mu.Unlock()
		return
	}
	o.missingPolls = 0

	switch {
	case rep.Filled.GreaterThan(o.Filled):
		delta := rep.Filled.Sub(o.Filled)
		feeDelta := decimal.Zero
		if rep.FeePaid.GreaterThan(o.FeePaid) {
			feeDelta = rep.FeePaid.Sub(o.FeePaid)
		}
		price := rep.Price
		if price.IsZero() {
			price = o.Price
		}
		o.Filled = rep.Filled
		o.FeePaid = rep.FeePaid
		o.QuoteFilled = o.QuoteFilled.Add(delta.Mul(price))
		if o.Status == StatusOpen {
			o.Status = StatusPartiallyFilled
		}
		evs = append(evs, m.eventLocked(events.OrderFilled, OrderFilledEvent{
			OrderID: o.ID,
			Symbol:  o.Symbol,
			Side:    o.Side,
			Amount:  delta,
			Price:   price,
			Fee:     feeDelta,
		}))
	case rep.Filled.LessThan(o.Filled):
		if m.log != nil {
			m.log.Warnw("venue reports less filled than tracked; adopting venue value",
				"order_id", o.ID, "local", o.Filled, "venue", rep.Filled)
		}
		o.Filled = rep.Filled
	}

	switch {
	case rep.Status == VenueOrderFilled ||
		(o.Filled.IsPositive() && o.Remaining().LessThanOrEqual(m.lotToleranceLocked(o.Symbol))):
		// A fill that leaves at most one lot counts as fully filled.
		o.Status = StatusFilled
		evs = append(evs, m.completedEventLocked(o))
	case rep.Status == VenueOrderCancelled:
		if m.log != nil {
			m.log.Warnw("venue reports order cancelled; adopting venue state", "order_id", o.ID)
		}
		o.Status = StatusCancelled
		evs = append(evs, m.eventLocked(events.OrderCancelled, OrderCancelledEvent{OrderID: o.ID}))
	}
	m.mu.Unlock()

	for _, ev := range evs {
		m.bus.Publish(ev)
	}
}

// noteMissing counts consecutive venue-unknown replies for a tracked order.
// Two strikes and the venue wins: the order is marked cancelled locally.
func (m *Market) noteMissing(id string) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok || o.Terminal() {
		m.mu.Unlock()
		return
	}
	o.missingPolls++
	dropped := o.missingPolls >= 2
	var ev events.Event
	if dropped {
		o.Status = StatusCancelled
		ev = m.eventLocked(events.OrderCancelled, OrderCancelledEvent{OrderID: o.ID})
	}
	m.mu.Unlock()

	if dropped {
		if m.log != nil {
			m.log.Warnw("venue lost track of order; marking cancelled", "order_id", id)
		}
		m.bus.Publish(ev)
	}
}

// ==============================
// Order submission
// ==============================

// Buy submits a buy order and returns the caller-visible order id. The id is
// allocated before the venue round-trip; a venue failure removes the order
// and returns the error with no event published.
func (m *Market) Buy(ctx context.Context, symbol string, amount decimal.Decimal, typ OrderType, price decimal.Decimal) (string, error) {
	return m.submit(ctx, SideBuy, symbol, typ, amount, price)
}

// Sell is the sell-side counterpart of Buy.
func (m *Market) Sell(ctx context.Context, symbol string, amount decimal.Decimal, typ OrderType, price decimal.Decimal) (string, error) {
	return m.submit(ctx, SideSell, symbol, typ, amount, price)
}

func (m *Market) submit(ctx context.Context, side Side, symbol string, typ OrderType, amount, price decimal.Decimal) (string, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return "", ErrInvalidAmount
	}
	if typ == OrderTypeLimit && price.LessThanOrEqual(decimal.Zero) {
		return "", ErrInvalidPrice
	}
	if typ == OrderTypeMarket {
		price = decimal.Zero
	}

	id := m.nextOrderID(side, symbol)
	m.mu.Lock()
	o := &Order{
		ID:      id,
		Symbol:  symbol,
		Side:    side,
		Type:    typ,
		Amount:  amount,
		Price:   price,
		Status:  StatusSubmitted,
		Created: m.stampLocked(),
	}
	m.orders[id] = o
	m.orderIDs = append(m.orderIDs, id)
	m.mu.Unlock()

	ack, err := m.venue.PlaceOrder(ctx, PlaceOrderRequest{
		ClientID: id,
		Symbol:   symbol,
		Side:     side,
		Type:     typ,
		Amount:   amount,
		Price:    price,
	})
	if err != nil {
		m.mu.Lock()
		delete(m.orders, id)
		for i, cur := range m.orderIDs {
			if cur == id {
				m.orderIDs = append(m.orderIDs[:i], m.orderIDs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		if m.log != nil {
			m.log.Warnw("order submission failed", "order_id", id, "symbol", symbol, "err", err)
		}
		return "", err
	}

	// The order becomes pollable the moment it turns Open; emitMu is held
	// until Created is out so a racing tick's fill events queue behind it.
	var ev events.Event
	m.emitMu.Lock()
	m.mu.Lock()
	o.VenueID = ack.VenueID
	o.Status = StatusOpen
	if side == SideBuy {
		ev = m.eventLocked(events.BuyOrderCreated, BuyOrderCreatedEvent{
			OrderID: id, Symbol: symbol, Type: typ, Amount: amount, Price: price,
		})
	} else {
		ev = m.eventLocked(events.SellOrderCreated, SellOrderCreatedEvent{
			OrderID: id, Symbol: symbol, Type: typ, Amount: amount, Price: price,
		})
	}
	m.mu.Unlock()
	m.bus.Publish(ev)
	m.emitMu.Unlock()

	if m.log != nil {
		m.log.Infow("order placed",
			"order_id", id, "venue_id", ack.VenueID, "symbol", symbol,
			"side", side.String(), "type", typ.String(), "amount", amount, "price", price)
	}
	return id, nil
}

// nextOrderID allocates ids like "buy-ETH_FXC-1724400000123456": side, symbol
// and a strictly increasing microsecond nonce.
func (m *Market) nextOrderID(side Side, symbol string) string {
	m.mu.Lock()
	n := time.Now().UnixMicro()
	if n <= m.nonce {
		n = m.nonce + 1
	}
	m.nonce = n
	m.mu.Unlock()
	return fmt.Sprintf("%s-%s-%d", side, symbol, n)
}

// ==============================
// Cancellation
// ==============================

// Cancel requests venue cancellation of one order. Terminal orders are a
// no-op success; an unknown id is ErrOrderNotFound. On venue confirmation
// the order transitions to Cancelled and publishes OrderCancelled exactly
// once; a communication failure returns the error and synthesizes nothing.
func (m *Market) Cancel(ctx context.Context, orderID string) error {
	_, err := m.cancelOnce(ctx, orderID)
	return err
}

// cancelOnce reports whether this call transitioned the order to Cancelled.
// An order that reached another terminal state while the request was in
// flight reports false with no error: the race resolves as not cancellable.
func (m *Market) cancelOnce(ctx context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return false, ErrOrderNotFound
	}
	if o.Terminal() {
		m.mu.Unlock()
		return false, nil
	}
	venueID := o.VenueID
	m.mu.Unlock()

	if err := m.venue.CancelOrder(ctx, venueID); err != nil {
		if m.log != nil {
			m.log.Warnw("cancel request failed", "order_id", orderID, "err", err)
		}
		return false, err
	}

	var ev events.Event
	cancelled := false
	m.emitMu.Lock()
	m.mu.Lock()
	if !o.Terminal() {
		o.Status = StatusCancelled
		ev = m.eventLocked(events.OrderCancelled, OrderCancelledEvent{OrderID: orderID})
		cancelled = true
	}
	m.mu.Unlock()
	if cancelled {
		m.bus.Publish(ev)
	}
	m.emitMu.Unlock()

	if cancelled && m.log != nil {
		m.log.Infow("order cancelled", "order_id", orderID)
	}
	return cancelled, nil
}

// CancelAll snapshots every non-terminal order, issues the cancellations
// concurrently, and reports per order whether cancellation confirmed within
// timeout. The deadline is wall-clock from call issuance. Confirmations that
// land after it are still applied to local state but stay false in the
// returned snapshot. Individual failures never abort the batch.
func (m *Market) CancelAll(ctx context.Context, timeout time.Duration) []CancellationResult {
	m.mu.Lock()
	var snap []string
	for _, id := range m.orderIDs {
		if o, ok := m.orders[id]; ok && !o.Terminal() {
			snap = append(snap, id)
		}
	}
	m.mu.Unlock()
	if len(snap) == 0 {
		return nil
	}

	results := make(chan CancellationResult, len(snap))
	// Detach the per-order requests from the batch deadline so a late venue
	// confirmation can still be applied locally.
	base := context.WithoutCancel(ctx)
	for _, id := range snap {
		go func(id string) {
			cctx, cancel := context.WithTimeout(base, m.cfg.CancelRequestTimeout)
			defer cancel()
			ok, err := m.cancelOnce(cctx, id)
			if err != nil && m.log != nil {
				m.log.Warnw("cancel all: order failed", "order_id", id, "err", err)
			}
			results <- CancellationResult{OrderID: id, Success: ok && err == nil}
		}(id)
	}

	confirmed := make(map[string]bool, len(snap))
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	remaining := len(snap)
	for remaining > 0 {
		select {
		case r := <-results:
			confirmed[r.OrderID] = r.Success
			remaining--
		case <-deadline.C:
			remaining = 0
		case <-ctx.Done():
			remaining = 0
		}
	}

	out := make([]CancellationResult, 0, len(snap))
	for _, id := range snap {
		out = append(out, CancellationResult{OrderID: id, Success: confirmed[id]})
	}
	return out
}

// ==============================
// Read access
// ==============================

// Order returns a copy of one tracked order.
func (m *Market) Order(orderID string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// TrackedOrders returns copies of every tracked order in submission order.
func (m *Market) TrackedOrders() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.orders))
	for _, id := range m.orderIDs {
		if o, ok := m.orders[id]; ok {
			out = append(out, *o)
		}
	}
	return out
}

// AllBalances returns a copy of the latest venue balance snapshot.
func (m *Market) AllBalances() map[string]decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(m.balances))
	for k, v := range m.balances {
		out[k] = v
	}
	return out
}

// Balance returns the latest venue balance for one asset, zero if unknown.
func (m *Market) Balance(asset string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[asset]
}

// TradingRule returns the venue rule for a symbol, if loaded.
func (m *Market) TradingRule(symbol string) (TradingRule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[symbol]
	return r, ok
}

// ==============================
// Internals
// ==============================

func (m *Market) lotToleranceLocked(symbol string) decimal.Decimal {
	if r, ok := m.rules[symbol]; ok {
		return r.LotSize
	}
	return decimal.Zero
}

func (m *Market) completedEventLocked(o *Order) events.Event {
	if o.Side == SideBuy {
		return m.eventLocked(events.BuyOrderCompleted, BuyOrderCompletedEvent{
			OrderID: o.ID, Symbol: o.Symbol,
			TotalAmount: o.Filled, QuoteAmount: o.QuoteFilled, Fee: o.FeePaid,
		})
	}
	return m.eventLocked(events.SellOrderCompleted, SellOrderCompletedEvent{
		OrderID: o.ID, Symbol: o.Symbol,
		TotalAmount: o.Filled, QuoteAmount: o.QuoteFilled, Fee: o.FeePaid,
	})
}

func (m *Market) eventLocked(t events.Type, payload any) events.Event {
	return events.Event{Type: t, Time: m.stampLocked(), Payload: payload}
}

func (m *Market) stampLocked() time.Time {
	if !m.now.IsZero() {
		return m.now
	}
	return time.Now()
}
