package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// EthBackend reads native ETH balances from a JSON-RPC node. ERC-20 lookups
// are out of scope for now; any other asset returns ErrUnsupportedAsset.
type EthBackend struct {
	client *ethclient.Client
}

// DialEth connects to an Ethereum JSON-RPC endpoint.
func DialEth(ctx context.Context, rawURL string) (*EthBackend, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("dial eth rpc: %w", err)
	}
	return &EthBackend{client: client}, nil
}

func (b *EthBackend) BalanceAt(ctx context.Context, address common.Address, asset string) (decimal.Decimal, error) {
	if asset != "ETH" {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	wei, err := b.client.BalanceAt(ctx, address, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance at %s: %w", address.Hex(), err)
	}
	return decimal.NewFromBigInt(wei, -18), nil
}

func (b *EthBackend) Close() {
	b.client.Close()
}
