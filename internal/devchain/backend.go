package devchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// Backend exposes a Chain in-process through the interfaces go-ethereum's
// contract bindings use, so the ledger client can run against the devnet
// without an RPC hop.
type Backend struct {
	chain *Chain
}

// NewBackend wraps chain.
func NewBackend(chain *Chain) *Backend {
	return &Backend{chain: chain}
}

// Chain returns the wrapped chain.
func (b *Backend) Chain() *Chain { return b.chain }

// checkBlock rejects reads against blocks beyond the head. State is always
// read at the head.
func (b *Backend) checkBlock(n *big.Int) error {
	if n == nil || n.Sign() < 0 {
		return nil
	}
	if n.Cmp(b.chain.Head().Number) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, n)
	}
	return nil
}

// CodeAt implements bind.ContractCaller.
func (b *Backend) CodeAt(ctx context.Context, addr common.Address, block *big.Int) ([]byte, error) {
	if err := b.checkBlock(block); err != nil {
		return nil, err
	}
	return b.chain.Code(addr), nil
}

// CallContract implements bind.ContractCaller.
func (b *Backend) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if err := b.checkBlock(block); err != nil {
		return nil, err
	}
	return b.chain.Call(msg)
}

// HeaderByNumber implements bind.ContractTransactor.
func (b *Backend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	h, err := b.chain.HeaderByNumber(number)
	if errors.Is(err, ErrUnknownBlock) {
		return nil, ethereum.NotFound
	}
	return h, err
}

// PendingCodeAt implements bind.ContractTransactor.
func (b *Backend) PendingCodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return b.chain.Code(addr), nil
}

// PendingNonceAt implements bind.ContractTransactor.
func (b *Backend) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	return b.chain.Nonce(addr)
}

// SuggestGasPrice implements bind.ContractTransactor.
func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return b.chain.GasPrice(), nil
}

// SuggestGasTipCap implements bind.ContractTransactor.
func (b *Backend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return b.chain.GasPrice(), nil
}

// EstimateGas implements bind.ContractTransactor.
func (b *Backend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return b.chain.EstimateGas(msg)
}

// SendTransaction implements bind.ContractTransactor.
func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := b.chain.SendTransaction(tx)
	return err
}

// TransactionReceipt implements bind.DeployBackend.
func (b *Backend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return b.chain.Receipt(hash)
}

// FilterLogs implements bind.ContractFilterer.
func (b *Backend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return b.chain.FilterLogs(q)
}

// SubscribeFilterLogs implements bind.ContractFilterer.
func (b *Backend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	blocks := make(chan []*types.Log, 16)
	sub := b.chain.SubscribeLogs(blocks)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case logs := <-blocks:
				for _, l := range logs {
					if !matchLog(l, q.Addresses, q.Topics) {
						continue
					}
					select {
					case ch <- *l:
					case <-quit:
						return nil
					}
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}), nil
}
