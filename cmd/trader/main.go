package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/okamiya/dexrig/params"
	"github.com/okamiya/dexrig/pkg/clock"
	"github.com/okamiya/dexrig/pkg/crypto"
	"github.com/okamiya/dexrig/pkg/events"
	"github.com/okamiya/dexrig/pkg/market"
	"github.com/okamiya/dexrig/pkg/recorder"
	"github.com/okamiya/dexrig/pkg/util"
	"github.com/okamiya/dexrig/pkg/venue/meridex"
	"github.com/okamiya/dexrig/pkg/wallet"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Wallet & signing ----
	signer, err := loadSigner(cfg)
	if err != nil {
		sugar.Fatalw("wallet key", "err", err)
	}
	sugar.Infow("wallet loaded", "address", signer.AddressHex())

	var w *wallet.Wallet
	if cfg.Trader.EthRPCURL != "" {
		backend, err := wallet.DialEth(ctx, cfg.Trader.EthRPCURL)
		if err != nil {
			sugar.Fatalw("eth rpc", "url", cfg.Trader.EthRPCURL, "err", err)
		}
		defer backend.Close()
		w = wallet.New(signer, backend, []string{"ETH"}, sugar)
	}

	// ---- Venue connector ----
	bus := events.NewBus(sugar)

	if cfg.Trader.JournalPath != "" {
		journal, err := recorder.Open(cfg.Trader.JournalPath, sugar)
		if err != nil {
			sugar.Fatalw("journal", "path", cfg.Trader.JournalPath, "err", err)
		}
		journal.Attach(bus)
		defer journal.Close()
		defer journal.Detach(bus)
		sugar.Infow("event journal enabled", "path", cfg.Trader.JournalPath)
	}

	venue := meridex.NewClient(cfg.Venue.Name, cfg.Venue.URL, signer, cfg.Venue.RequestTimeout, sugar)
	mkt := market.NewMarket(market.Config{
		TickTimeout:         cfg.Trader.TickTimeout,
		BalancePollInterval: cfg.Trader.BalancePollInterval,
	}, venue, bus, sugar)

	// ---- Clock ----
	clk := clock.New(clock.ModeRealtime,
		clock.WithTickSize(cfg.Trader.TickInterval),
		clock.WithLogger(sugar),
	)
	if err := clk.Register(mkt); err != nil {
		sugar.Fatalw("register market", "err", err)
	}
	if w != nil {
		if err := clk.Register(w); err != nil {
			sugar.Fatalw("register wallet", "err", err)
		}
	}

	if err := clk.Start(ctx); err != nil {
		sugar.Fatalw("clock start", "err", err)
	}

	go drive(ctx, clk, sugar)

	// ---- Bootstrap ----
	if !waitReady(ctx, mkt, w) {
		sugar.Warnw("interrupted before ready")
		shutdown(mkt, clk, cfg, sugar)
		return
	}
	sugar.Infow("connector ready",
		"venue", mkt.Name(),
		"symbols", cfg.Trader.Symbols,
		"balances", mkt.AllBalances(),
	)

	if cfg.Trader.DemoBuy != "" {
		demoMarketBuy(ctx, cfg, mkt, bus, sugar)
	}

	<-ctx.Done()
	stop()
	shutdown(mkt, clk, cfg, sugar)
}

func newLogger(cfg params.Config) (*zap.Logger, error) {
	if cfg.LogFile != "" {
		return util.NewLoggerWithFile(cfg.LogFile, cfg.LogLevel)
	}
	return util.NewLogger(cfg.LogLevel)
}

func loadSigner(cfg params.Config) (*crypto.Signer, error) {
	if cfg.Trader.WalletKeyHex != "" {
		return crypto.FromPrivateKeyHex(cfg.Trader.WalletKeyHex)
	}
	// No key configured: run with a throwaway identity.
	return crypto.GenerateKey()
}

// drive keeps the clock running until the context is cancelled. Tick round
// errors are logged and the loop continues; a bad round must not stall the
// connector.
func drive(ctx context.Context, clk *clock.Clock, sugar *zap.SugaredLogger) {
	for {
		err := clk.RunUntil(ctx, time.Now().Add(time.Hour))
		if ctx.Err() != nil || errors.Is(err, clock.ErrNotStarted) {
			return
		}
		if err != nil {
			sugar.Errorw("tick round failed", "err", err)
		}
	}
}

// waitReady blocks until the market (and wallet, when enabled) report ready.
// Returns false if interrupted first.
func waitReady(ctx context.Context, mkt *market.Market, w *wallet.Wallet) bool {
	for {
		if mkt.Ready() && (w == nil || w.Ready()) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// demoMarketBuy places one market buy and waits for its completion event.
// Exists so a fresh checkout can watch the full order lifecycle against the
// simulated venue.
func demoMarketBuy(ctx context.Context, cfg params.Config, mkt *market.Market, bus *events.Bus, sugar *zap.SugaredLogger) {
	amount, err := decimal.NewFromString(cfg.Trader.DemoBuy)
	if err != nil {
		sugar.Warnw("bad DEMO_MARKET_BUY amount", "value", cfg.Trader.DemoBuy, "err", err)
		return
	}
	symbol := cfg.Trader.Symbols[0]

	wctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	done := make(chan events.Event, 1)
	go func() {
		ev, err := bus.WaitFor(wctx, events.BuyOrderCompleted)
		if err == nil {
			done <- ev
		}
		close(done)
	}()

	id, err := mkt.Buy(ctx, symbol, amount, market.OrderTypeMarket, decimal.Decimal{})
	if err != nil {
		sugar.Errorw("demo buy rejected", "symbol", symbol, "amount", amount, "err", err)
		return
	}
	sugar.Infow("demo buy submitted", "order_id", id, "symbol", symbol, "amount", amount)

	ev, ok := <-done
	if !ok {
		sugar.Warnw("demo buy did not complete in time", "order_id", id)
		return
	}
	if completed, ok := ev.Payload.(market.BuyOrderCompletedEvent); ok {
		sugar.Infow("demo buy completed",
			"order_id", completed.OrderID,
			"amount", completed.TotalAmount,
			"quote", completed.QuoteAmount,
			"fee", completed.Fee,
		)
	}
}

// shutdown cancels whatever is still open, then stops the clock. Uses a
// fresh context: the signal context is already cancelled by the time we get
// here.
func shutdown(mkt *market.Market, clk *clock.Clock, cfg params.Config, sugar *zap.SugaredLogger) {
	open := len(mkt.TrackedOrders())
	sugar.Infow("shutting down", "tracked_orders", open)

	results := mkt.CancelAll(context.Background(), cfg.Trader.CancelAllTimeout)
	for _, r := range results {
		if !r.Success {
			sugar.Warnw("order not confirmed cancelled", "order_id", r.OrderID)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clk.Stop(ctx); err != nil {
		sugar.Warnw("clock stop", "err", err)
	}
	sugar.Infow("bye")
}
