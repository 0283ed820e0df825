package meridex

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/okamiya/dexrig/pkg/market"
)

// Signer is what the client needs to authenticate requests: the wallet
// satisfies it, and so does a bare crypto.Signer.
type Signer interface {
	AddressHex() string
	SignDigest(digest []byte) ([]byte, error)
}

// Client implements market.Venue over the meridex REST API. Every call is
// bounded by the HTTP client's timeout; order placement and cancellation are
// signed with the connector's key.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	signer  Signer
	log     *zap.SugaredLogger
	nonce   atomic.Int64
}

func NewClient(name, baseURL string, signer Signer, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		name:    name,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		signer:  signer,
		log:     log,
	}
}

func (c *Client) Name() string { return c.name }

// TradingRules fetches the venue's market catalog.
func (c *Client) TradingRules(ctx context.Context) ([]market.TradingRule, error) {
	var infos []MarketInfo
	if status, err := c.doJSON(ctx, http.MethodGet, "/v1/markets", nil, &infos); err != nil {
		return nil, c.venueErr("trading rules", status, err)
	}

	rules := make([]market.TradingRule, 0, len(infos))
	for _, mi := range infos {
		minSize, err := parseDec(mi.MinOrderSize)
		if err != nil {
			return nil, c.venueErr("trading rules", 0, fmt.Errorf("market %s: bad minOrderSize: %w", mi.Symbol, err))
		}
		lot, err := parseDec(mi.LotSize)
		if err != nil {
			return nil, c.venueErr("trading rules", 0, fmt.Errorf("market %s: bad lotSize: %w", mi.Symbol, err))
		}
		tick, err := parseDec(mi.PriceTick)
		if err != nil {
			return nil, c.venueErr("trading rules", 0, fmt.Errorf("market %s: bad priceTick: %w", mi.Symbol, err))
		}
		rules = append(rules, market.TradingRule{
			Symbol:       mi.Symbol,
			BaseAsset:    mi.BaseAsset,
			QuoteAsset:   mi.QuoteAsset,
			MinOrderSize: minSize,
			LotSize:      lot,
			PriceTick:    tick,
			MakerFeeBps:  mi.MakerFeeBps,
			TakerFeeBps:  mi.TakerFeeBps,
		})
	}
	return rules, nil
}

// Balances fetches the connector account's venue balances.
func (c *Client) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	path := "/v1/balances?address=" + url.QueryEscape(c.signer.AddressHex())
	var raw map[string]string
	if status, err := c.doJSON(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, c.venueErr("balances", status, err)
	}

	out := make(map[string]decimal.Decimal, len(raw))
	for asset, s := range raw {
		d, err := parseDec(s)
		if err != nil {
			return nil, c.venueErr("balances", 0, fmt.Errorf("asset %s: %w", asset, err))
		}
		out[asset] = d
	}
	return out, nil
}

// PlaceOrder signs and submits one order; the ack carries the venue-assigned
// order hash.
func (c *Client) PlaceOrder(ctx context.Context, req market.PlaceOrderRequest) (market.PlaceOrderAck, error) {
	nonce := c.nextNonce()
	amount := req.Amount.String()
	price := ""
	if req.Type == market.OrderTypeLimit {
		price = req.Price.String()
	}
	addr := c.signer.AddressHex()

	digest := OrderDigest(req.Symbol, req.Side.String(), req.Type.String(), amount, price, nonce, addr)
	sig, err := c.signer.SignDigest(digest)
	if err != nil {
		return market.PlaceOrderAck{}, c.venueErr("place order", 0, fmt.Errorf("sign: %w", err))
	}

	wire := PlaceOrderRequest{
		Market:    req.Symbol,
		Side:      req.Side.String(),
		Type:      req.Type.String(),
		Amount:    amount,
		Price:     price,
		Nonce:     nonce,
		Address:   addr,
		Signature: "0x" + hex.EncodeToString(sig),
		ClientID:  req.ClientID,
	}
	var resp PlaceOrderResponse
	if status, err := c.doJSON(ctx, http.MethodPost, "/v1/orders", wire, &resp); err != nil {
		return market.PlaceOrderAck{}, c.venueErr("place order", status, err)
	}
	if c.log != nil {
		c.log.Debugw("order accepted", "venue", c.name, "order_hash", resp.OrderHash, "client_id", req.ClientID)
	}
	return market.PlaceOrderAck{VenueID: resp.OrderHash}, nil
}

// CancelOrder signs and submits a cancellation for a venue order hash.
func (c *Client) CancelOrder(ctx context.Context, venueID string) error {
	nonce := c.nextNonce()
	addr := c.signer.AddressHex()
	sig, err := c.signer.SignDigest(CancelDigest(venueID, nonce, addr))
	if err != nil {
		return c.venueErr("cancel order", 0, fmt.Errorf("sign: %w", err))
	}

	wire := CancelOrderRequest{
		Nonce:     nonce,
		Address:   addr,
		Signature: "0x" + hex.EncodeToString(sig),
	}
	var resp CancelOrderResponse
	status, err := c.doJSON(ctx, http.MethodPost, "/v1/orders/"+url.PathEscape(venueID)+"/cancel", wire, &resp)
	if err != nil {
		if status == http.StatusNotFound {
			return c.venueErr("cancel order", status, market.ErrVenueOrderUnknown)
		}
		return c.venueErr("cancel order", status, err)
	}
	return nil
}

// OrderStatus fetches the venue's cumulative report for one order.
func (c *Client) OrderStatus(ctx context.Context, venueID string) (market.OrderReport, error) {
	var resp OrderStatusResponse
	status, err := c.doJSON(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(venueID), nil, &resp)
	if err != nil {
		if status == http.StatusNotFound {
			return market.OrderReport{}, c.venueErr("order status", status, market.ErrVenueOrderUnknown)
		}
		return market.OrderReport{}, c.venueErr("order status", status, err)
	}

	filled, err := parseDec(resp.Filled)
	if err != nil {
		return market.OrderReport{}, c.venueErr("order status", 0, fmt.Errorf("bad filled: %w", err))
	}
	avgPrice, err := parseDec(resp.AvgPrice)
	if err != nil {
		return market.OrderReport{}, c.venueErr("order status", 0, fmt.Errorf("bad avgPrice: %w", err))
	}
	feePaid, err := parseDec(resp.FeePaid)
	if err != nil {
		return market.OrderReport{}, c.venueErr("order status", 0, fmt.Errorf("bad feePaid: %w", err))
	}

	return market.OrderReport{
		VenueID: resp.OrderHash,
		Status:  parseOrderStatus(resp.Status),
		Filled:  filled,
		Price:   avgPrice,
		FeePaid: feePaid,
	}, nil
}

// ==============================
// Internals
// ==============================

// doJSON performs one round-trip. It returns the HTTP status (zero on
// transport failure) alongside the error so callers can map 404s.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return resp.StatusCode, errors.New(apiErr.Message)
		}
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) venueErr(op string, status int, err error) error {
	return &market.VenueError{Venue: c.name, Op: op, Status: status, Err: err}
}

// nextNonce yields strictly increasing microsecond nonces.
func (c *Client) nextNonce() int64 {
	for {
		now := time.Now().UnixMicro()
		prev := c.nonce.Load()
		if now <= prev {
			now = prev + 1
		}
		if c.nonce.CompareAndSwap(prev, now) {
			return now
		}
	}
}

func parseDec(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseOrderStatus(s string) market.VenueOrderStatus {
	switch s {
	case "filled":
		return market.VenueOrderFilled
	case "cancelled":
		return market.VenueOrderCancelled
	case "open", "partially_filled":
		return market.VenueOrderOpen
	default:
		return market.VenueOrderOpen
	}
}
