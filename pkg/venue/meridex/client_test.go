package meridex_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okamiya/dexrig/pkg/crypto"
	"github.com/okamiya/dexrig/pkg/market"
	"github.com/okamiya/dexrig/pkg/venue/meridex"
	"github.com/okamiya/dexrig/pkg/venue/sim"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newClient spins up a simulated venue and a client signed by a fresh key.
// Accounts are seeded on first touch.
func newClient(t *testing.T) (*meridex.Client, *sim.Engine) {
	t.Helper()
	baseURL, engine := startVenue(t)
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return meridex.NewClient("meridex", baseURL, signer, 5*time.Second, nil), engine
}

func TestClientTradingRules(t *testing.T) {
	client, _ := newClient(t)

	rules, err := client.TradingRules(context.Background())
	if err != nil {
		t.Fatalf("trading rules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("rule count %d", len(rules))
	}
	r := rules[0]
	if r.Symbol != "ETH_FXC" || r.BaseAsset != "FXC" || r.QuoteAsset != "ETH" {
		t.Fatalf("rule identity %+v", r)
	}
	if !r.LotSize.Equal(dec("1")) || !r.PriceTick.Equal(dec("0.00000001")) {
		t.Fatalf("rule increments %+v", r)
	}
	if r.TakerFeeBps != 20 {
		t.Fatalf("taker fee %d", r.TakerFeeBps)
	}
}

func TestClientBalances(t *testing.T) {
	client, _ := newClient(t)

	bals, err := client.Balances(context.Background())
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if !bals["ETH"].Equal(dec("10")) || !bals["FXC"].Equal(dec("1000000")) {
		t.Fatalf("balances %v", bals)
	}
}

func TestClientOrderRoundTrip(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	ack, err := client.PlaceOrder(ctx, market.PlaceOrderRequest{
		ClientID: "buy-ETH_FXC-1",
		Symbol:   "ETH_FXC",
		Side:     market.SideBuy,
		Type:     market.OrderTypeLimit,
		Amount:   dec("16000000"),
		Price:    dec("0.00000001"),
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if ack.VenueID == "" {
		t.Fatal("no venue id in ack")
	}

	rep, err := client.OrderStatus(ctx, ack.VenueID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rep.Status != market.VenueOrderOpen {
		t.Fatalf("status %v, want open", rep.Status)
	}
	if !rep.Filled.IsZero() {
		t.Fatalf("fresh order filled %v", rep.Filled)
	}

	if err := client.CancelOrder(ctx, ack.VenueID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	rep, err = client.OrderStatus(ctx, ack.VenueID)
	if err != nil {
		t.Fatalf("status after cancel: %v", err)
	}
	if rep.Status != market.VenueOrderCancelled {
		t.Fatalf("status %v, want cancelled", rep.Status)
	}
}

func TestClientMarketOrderReportsFill(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	ack, err := client.PlaceOrder(ctx, market.PlaceOrderRequest{
		ClientID: "buy-ETH_FXC-2",
		Symbol:   "ETH_FXC",
		Side:     market.SideBuy,
		Type:     market.OrderTypeMarket,
		Amount:   dec("4000"),
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	rep, err := client.OrderStatus(ctx, ack.VenueID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rep.Status != market.VenueOrderFilled {
		t.Fatalf("status %v, want filled", rep.Status)
	}
	if !rep.Filled.Equal(dec("4000")) {
		t.Fatalf("filled %v", rep.Filled)
	}
	if !rep.Price.Equal(dec("0.0000025")) {
		t.Fatalf("avg price %v, want reference", rep.Price)
	}
	if !rep.FeePaid.Equal(dec("0.00002")) {
		t.Fatalf("fee %v", rep.FeePaid)
	}
}

func TestClientUnknownOrderMapsToSentinel(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	if _, err := client.OrderStatus(ctx, "0xmissing"); !errors.Is(err, market.ErrVenueOrderUnknown) {
		t.Fatalf("status error %v, want ErrVenueOrderUnknown", err)
	}
	if err := client.CancelOrder(ctx, "0xmissing"); !errors.Is(err, market.ErrVenueOrderUnknown) {
		t.Fatalf("cancel error %v, want ErrVenueOrderUnknown", err)
	}
}

func TestClientRejectionSurfacesVenueError(t *testing.T) {
	client, _ := newClient(t)

	_, err := client.PlaceOrder(context.Background(), market.PlaceOrderRequest{
		ClientID: "buy-ETH_FXC-3",
		Symbol:   "NO_SUCH",
		Side:     market.SideBuy,
		Type:     market.OrderTypeLimit,
		Amount:   dec("10"),
		Price:    dec("1"),
	})
	if err == nil {
		t.Fatal("expected rejection")
	}
	var venueErr *market.VenueError
	if !errors.As(err, &venueErr) {
		t.Fatalf("error %T, want *market.VenueError", err)
	}
	if venueErr.Status != http.StatusNotFound {
		t.Fatalf("status %d, want 404", venueErr.Status)
	}
	if venueErr.Venue != "meridex" || venueErr.Op != "place order" {
		t.Fatalf("error identity %+v", venueErr)
	}
}

func TestClientTransportFailure(t *testing.T) {
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	// Nothing listens here.
	client := meridex.NewClient("meridex", "http://127.0.0.1:1", signer, 500*time.Millisecond, nil)

	if _, err := client.TradingRules(context.Background()); err == nil {
		t.Fatal("expected transport error")
	} else {
		var venueErr *market.VenueError
		if !errors.As(err, &venueErr) {
			t.Fatalf("error %T, want *market.VenueError", err)
		}
	}
}
