package wallet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/okamiya/dexrig/pkg/clock"
	"github.com/okamiya/dexrig/pkg/crypto"
)

// ErrUnsupportedAsset is returned by backends asked for an asset they cannot
// price on chain.
var ErrUnsupportedAsset = errors.New("unsupported asset")

// Backend reads on-chain balances for one address. EthBackend is the real
// one; tests plug in fakes.
type Backend interface {
	BalanceAt(ctx context.Context, address common.Address, asset string) (decimal.Decimal, error)
}

// Wallet pairs the signing key with on-chain balance tracking. It is clock
// driven: each tick refreshes the configured assets, and the wallet reports
// ready once the first complete snapshot lands. Signing is available before
// readiness; only balance reads depend on it.
type Wallet struct {
	clock.IteratorBase

	signer  *crypto.Signer
	backend Backend
	assets  []string
	log     *zap.SugaredLogger

	mu       sync.Mutex
	balances map[string]decimal.Decimal
	started  bool
}

func New(signer *crypto.Signer, backend Backend, assets []string, log *zap.SugaredLogger) *Wallet {
	return &Wallet{
		signer:   signer,
		backend:  backend,
		assets:   assets,
		log:      log,
		balances: make(map[string]decimal.Decimal),
	}
}

// Address returns the wallet's Ethereum address.
func (w *Wallet) Address() common.Address { return w.signer.Address() }

// AddressHex returns the EIP-55 checksummed address string.
func (w *Wallet) AddressHex() string { return w.signer.AddressHex() }

// SignDigest signs a 32-byte digest with the wallet key.
func (w *Wallet) SignDigest(digest []byte) ([]byte, error) {
	return w.signer.SignDigest(digest)
}

func (w *Wallet) Start(ctx context.Context, now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = true
	return nil
}

func (w *Wallet) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = false
	return nil
}

// Tick refreshes every configured asset. A failed read leaves the previous
// value in place and is retried next tick; chain hiccups never take the
// process down. A wallet with nothing to track (no backend or no assets)
// latches ready on its first tick.
func (w *Wallet) Tick(ctx context.Context, now time.Time) error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return nil
	}

	complete := true
	if w.backend != nil {
		for _, asset := range w.assets {
			bal, err := w.backend.BalanceAt(ctx, w.signer.Address(), asset)
			if err != nil {
				complete = false
				if w.log != nil {
					w.log.Warnw("balance read failed", "asset", asset, "err", err)
				}
				continue
			}
			w.mu.Lock()
			w.balances[asset] = bal
			w.mu.Unlock()
		}
	}

	if complete {
		w.MarkReady()
	}
	return nil
}

// Balance returns the last observed balance for asset, zero if never read.
func (w *Wallet) Balance(asset string) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[asset]
}

// AllBalances returns a copy of the last observed balances.
func (w *Wallet) AllBalances() map[string]decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(w.balances))
	for asset, bal := range w.balances {
		out[asset] = bal
	}
	return out
}
