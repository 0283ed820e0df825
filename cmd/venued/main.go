package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okamiya/dexrig/params"
	"github.com/okamiya/dexrig/pkg/util"
	"github.com/okamiya/dexrig/pkg/venue/sim"
)

// venued runs the simulated venue: the meridex REST API plus a WebSocket
// trade feed, backed by an in-memory engine. Every first-touched account is
// seeded so a fresh trader can start placing orders immediately.
func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	seed, err := decimal.NewFromString(cfg.Sim.SeedBalance)
	if err != nil {
		sugar.Fatalw("bad SIM_SEED_BALANCE", "value", cfg.Sim.SeedBalance, "err", err)
	}

	engine := sim.NewEngine([]sim.MarketSpec{
		{
			Symbol:         "ETH_FXC",
			BaseAsset:      "FXC",
			QuoteAsset:     "ETH",
			MinOrderSize:   decimal.NewFromInt(1),
			LotSize:        decimal.NewFromInt(1),
			PriceTick:      decimal.RequireFromString("0.00000001"),
			MakerFeeBps:    10,
			TakerFeeBps:    20,
			ReferencePrice: decimal.RequireFromString("0.00000250"),
		},
	}, sugar)
	engine.SetSeed(map[string]decimal.Decimal{
		"ETH": seed,
		"FXC": seed,
	})

	srv := sim.NewServer(engine, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Sim.ListenAddr) }()

	select {
	case err := <-errCh:
		if err != nil {
			sugar.Fatalw("venue server failed", "err", err)
		}
	case <-ctx.Done():
		sugar.Infow("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			sugar.Warnw("shutdown", "err", err)
		}
	}
	sugar.Infow("bye")
}
