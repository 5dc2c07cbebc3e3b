// Package devchain is a single-node, instant-mining ledger that hosts the
// prescription registry for local development and tests. Every accepted
// transaction is executed and sealed in its own block. Transactions,
// headers, receipts and logs use go-ethereum types so standard clients can
// talk to it over JSON-RPC.
package devchain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	klog "github.com/blockmed/blockmed/internal/log"
	"github.com/blockmed/blockmed/internal/storage"
	"github.com/blockmed/blockmed/pkg/contract"
)

// DefaultContractAddress is where the registry lives on a fresh devnet:
// the first contract deployed by the first development account.
var DefaultContractAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// registryCode stands in for deployed bytecode so eth_getCode reports a
// contract at the registry address.
var registryCode = []byte{0x60, 0x80, 0x60, 0x40, 0x52}

var extraData = []byte("blockmed-devnet")

// dbPrefix namespaces all chain keys in the underlying database.
var dbPrefix = []byte("chain/")

// Config parameterizes a Chain.
type Config struct {
	ChainID         *big.Int
	ContractAddress common.Address
	BlockGasLimit   uint64
	GasPrice        *big.Int
	Clock           func() time.Time
}

// DefaultConfig returns the local development settings.
func DefaultConfig() Config {
	return Config{
		ChainID:         big.NewInt(31337),
		ContractAddress: DefaultContractAddress,
		BlockGasLimit:   30_000_000,
		GasPrice:        big.NewInt(1_000_000_000),
		Clock:           time.Now,
	}
}

// Status summarizes the chain head.
type Status struct {
	ChainID   uint64         `json:"chainId"`
	Height    uint64         `json:"height"`
	HeadHash  common.Hash    `json:"headHash"`
	StateRoot common.Hash    `json:"stateRoot"`
	Records   uint64         `json:"records"`
	Contract  common.Address `json:"contract"`
}

// Chain is safe for concurrent use. Block production is serialized.
type Chain struct {
	cfg    Config
	db     *storage.PrefixDB
	abi    abi.ABI
	signer types.Signer
	logger zerolog.Logger

	logsFeed event.Feed // []*types.Log per sealed block

	mu   sync.RWMutex
	head *types.Header
}

// New opens the chain stored in db, writing a genesis block on first use.
func New(db storage.DB, cfg Config) (*Chain, error) {
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("devchain: chain id must be positive")
	}
	if cfg.ContractAddress == (common.Address{}) {
		return nil, fmt.Errorf("devchain: contract address required")
	}
	if cfg.BlockGasLimit == 0 {
		cfg.BlockGasLimit = DefaultConfig().BlockGasLimit
	}
	if cfg.GasPrice == nil {
		cfg.GasPrice = DefaultConfig().GasPrice
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	parsed, err := contract.ABI()
	if err != nil {
		return nil, err
	}

	c := &Chain{
		cfg:    cfg,
		db:     storage.NewPrefixDB(db, dbPrefix),
		abi:    parsed,
		signer: types.LatestSignerForChainID(cfg.ChainID),
		logger: klog.WithComponent("devchain"),
	}

	headNum, err := c.db.Get(keyHead)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if err := c.writeGenesis(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read head: %w", err)
	default:
		n, err := decodeU64(headNum)
		if err != nil {
			return nil, err
		}
		if c.head, err = c.headerByNumber(n); err != nil {
			return nil, fmt.Errorf("load head block %d: %w", n, err)
		}
		c.logger.Info().Uint64("height", n).Str("hash", c.head.Hash().Hex()).Msg("Chain loaded")
	}
	return c, nil
}

// Reset deletes every block, receipt and record stored in db. The next New
// writes a fresh genesis.
func Reset(db storage.DB) error {
	if err := storage.NewPrefixDB(db, dbPrefix).DeleteAll(); err != nil {
		return fmt.Errorf("reset chain: %w", err)
	}
	return nil
}

func (c *Chain) writeGenesis() error {
	genesis := &types.Header{
		UncleHash:   types.EmptyUncleHash,
		TxHash:      types.EmptyTxsHash,
		ReceiptHash: types.EmptyReceiptsHash,
		Difficulty:  new(big.Int),
		Number:      new(big.Int),
		GasLimit:    c.cfg.BlockGasLimit,
		Time:        uint64(c.cfg.Clock().Unix()),
		Extra:       extraData,
	}
	hdr, err := json.Marshal(genesis)
	if err != nil {
		return fmt.Errorf("encode genesis: %w", err)
	}
	txs, _ := json.Marshal([]common.Hash{})

	b := c.db.NewBatch()
	b.Put(u64Key(prefixBlock, 0), hdr)
	b.Put(u64Key(prefixBlockTx, 0), txs)
	b.Put(hashKey(prefixBlockHash, genesis.Hash()), encodeU64(0))
	b.Put(keyHead, encodeU64(0))
	if err := b.Commit(); err != nil {
		return fmt.Errorf("write genesis: %w", err)
	}
	c.head = genesis
	c.logger.Info().Str("hash", genesis.Hash().Hex()).Msg("Genesis block written")
	return nil
}

// ChainID returns the chain id.
func (c *Chain) ChainID() *big.Int { return new(big.Int).Set(c.cfg.ChainID) }

// ContractAddress returns the registry address.
func (c *Chain) ContractAddress() common.Address { return c.cfg.ContractAddress }

// GasPrice returns the suggested gas price.
func (c *Chain) GasPrice() *big.Int { return new(big.Int).Set(c.cfg.GasPrice) }

// Head returns a copy of the head header.
func (c *Chain) Head() *types.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.CopyHeader(c.head)
}

// HeaderByNumber returns header n, or the head when n is nil or negative
// (the "latest"/"pending" tags).
func (c *Chain) HeaderByNumber(n *big.Int) (*types.Header, error) {
	if n == nil || n.Sign() < 0 {
		return c.Head(), nil
	}
	if !n.IsUint64() {
		return nil, ErrUnknownBlock
	}
	h, err := c.headerByNumber(n.Uint64())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnknownBlock
	}
	return h, err
}

// HeaderByHash returns the header with the given hash.
func (c *Chain) HeaderByHash(hash common.Hash) (*types.Header, error) {
	b, err := c.db.Get(hashKey(prefixBlockHash, hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnknownBlock
	}
	if err != nil {
		return nil, err
	}
	n, err := decodeU64(b)
	if err != nil {
		return nil, err
	}
	return c.headerByNumber(n)
}

func (c *Chain) headerByNumber(n uint64) (*types.Header, error) {
	b, err := c.db.Get(u64Key(prefixBlock, n))
	if err != nil {
		return nil, err
	}
	var h types.Header
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("decode header %d: %w", n, err)
	}
	return &h, nil
}

// BlockTransactions returns the hashes of the transactions in block n.
func (c *Chain) BlockTransactions(n uint64) ([]common.Hash, error) {
	b, err := c.db.Get(u64Key(prefixBlockTx, n))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnknownBlock
	}
	if err != nil {
		return nil, err
	}
	var hashes []common.Hash
	if err := json.Unmarshal(b, &hashes); err != nil {
		return nil, fmt.Errorf("decode block %d transactions: %w", n, err)
	}
	return hashes, nil
}

// Code returns the code at addr: stand-in bytecode for the registry,
// nothing elsewhere.
func (c *Chain) Code(addr common.Address) []byte {
	if addr == c.cfg.ContractAddress {
		return append([]byte{}, registryCode...)
	}
	return nil
}

// Nonce returns the next nonce of addr.
func (c *Chain) Nonce(addr common.Address) (uint64, error) {
	b, err := c.db.Get(addrKey(prefixNonce, addr))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeU64(b)
}

// Call executes a message against head state without committing it.
func (c *Chain) Call(msg ethereum.CallMsg) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if msg.To == nil || *msg.To != c.cfg.ContractAddress {
		return []byte{}, nil
	}
	res, err := c.execute(msg.From, msg.Data, c.nextTimestamp())
	if err != nil {
		return nil, err
	}
	if res.ret == nil {
		return []byte{}, nil
	}
	return res.ret, nil
}

// EstimateGas returns the gas msg needs, or the revert it would hit.
func (c *Chain) EstimateGas(msg ethereum.CallMsg) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	gas := intrinsicGas(msg.Data)
	if msg.To == nil || *msg.To != c.cfg.ContractAddress {
		return gas, nil
	}
	res, err := c.execute(msg.From, msg.Data, c.nextTimestamp())
	if err != nil {
		return 0, err
	}
	return gas + res.gas, nil
}

// nextTimestamp is the time the next block will carry. Callers hold c.mu.
func (c *Chain) nextTimestamp() uint64 {
	ts := uint64(c.cfg.Clock().Unix())
	if ts < c.head.Time {
		ts = c.head.Time
	}
	return ts
}

// SendTransaction validates tx, executes it and seals it in a new block.
// Rejected transactions return an error and are not included. A revert
// during execution is included with a failed receipt.
func (c *Chain) SendTransaction(tx *types.Transaction) (*types.Receipt, error) {
	if tx.To() == nil {
		return nil, ErrContractCreation
	}
	if tx.Value().Sign() != 0 {
		return nil, ErrValueTransfer
	}
	if !tx.Protected() {
		return nil, ErrUnprotected
	}
	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}

	c.mu.Lock()
	receipt, logs, err := c.seal(tx, from)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(logs) > 0 {
		c.logsFeed.Send(logs)
	}
	return receipt, nil
}

// seal runs tx and commits block, receipt and state. Callers hold c.mu.
func (c *Chain) seal(tx *types.Transaction, from common.Address) (*types.Receipt, []*types.Log, error) {
	if ok, _ := c.db.Has(hashKey(prefixReceipt, tx.Hash())); ok {
		return nil, nil, ErrAlreadyKnown
	}
	nonce, err := c.Nonce(from)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case tx.Nonce() < nonce:
		return nil, nil, fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooLow, from.Hex(), tx.Nonce(), nonce)
	case tx.Nonce() > nonce:
		return nil, nil, fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooHigh, from.Hex(), tx.Nonce(), nonce)
	}
	intrinsic := intrinsicGas(tx.Data())
	if tx.Gas() < intrinsic {
		return nil, nil, fmt.Errorf("%w: have %d, want %d", ErrGasTooLow, tx.Gas(), intrinsic)
	}
	if tx.Gas() > c.cfg.BlockGasLimit {
		return nil, nil, fmt.Errorf("%w: %d > %d", ErrGasLimit, tx.Gas(), c.cfg.BlockGasLimit)
	}

	parent := c.head
	ts := c.nextTimestamp()
	number := new(big.Int).Add(parent.Number, common.Big1)

	status := types.ReceiptStatusSuccessful
	gasUsed := intrinsic
	var (
		writes []write
		logs   = []*types.Log{}
	)
	if *tx.To() == c.cfg.ContractAddress {
		res, err := c.execute(from, tx.Data(), ts)
		var revert *RevertError
		switch {
		case errors.As(err, &revert):
			status = types.ReceiptStatusFailed
			c.logger.Debug().Str("tx", tx.Hash().Hex()).Str("reason", revert.Reason).Msg("Transaction reverted")
		case err != nil:
			return nil, nil, err
		case intrinsic+res.gas > tx.Gas():
			status = types.ReceiptStatusFailed
			gasUsed = tx.Gas()
		default:
			gasUsed += res.gas
			writes = res.writes
			logs = res.logs
		}
	}
	writes = append(writes, write{key: addrKey(prefixNonce, from), value: encodeU64(nonce + 1)})

	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            status,
		CumulativeGasUsed: gasUsed,
		Logs:              logs,
		TxHash:            tx.Hash(),
		GasUsed:           gasUsed,
		EffectiveGasPrice: tx.GasPrice(),
		BlockNumber:       number,
		TransactionIndex:  0,
	}
	receipt.Bloom = types.CreateBloom(types.Receipts{receipt})

	header := &types.Header{
		ParentHash:  parent.Hash(),
		UncleHash:   types.EmptyUncleHash,
		Root:        stateRoot(parent.Root, tx.Hash(), writes),
		TxHash:      types.DeriveSha(types.Transactions{tx}, trie.NewStackTrie(nil)),
		ReceiptHash: types.DeriveSha(types.Receipts{receipt}, trie.NewStackTrie(nil)),
		Bloom:       receipt.Bloom,
		Difficulty:  new(big.Int),
		Number:      number,
		GasLimit:    c.cfg.BlockGasLimit,
		GasUsed:     gasUsed,
		Time:        ts,
		Extra:       extraData,
	}
	blockHash := header.Hash()
	receipt.BlockHash = blockHash
	for i, l := range logs {
		l.BlockNumber = number.Uint64()
		l.BlockHash = blockHash
		l.TxHash = tx.Hash()
		l.TxIndex = 0
		l.Index = uint(i)
	}

	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, nil, fmt.Errorf("encode header: %w", err)
	}
	rcptJSON, err := json.Marshal(receipt)
	if err != nil {
		return nil, nil, fmt.Errorf("encode receipt: %w", err)
	}
	txsJSON, err := json.Marshal([]common.Hash{tx.Hash()})
	if err != nil {
		return nil, nil, err
	}

	n := number.Uint64()
	b := c.db.NewBatch()
	for _, w := range writes {
		b.Put(w.key, w.value)
	}
	b.Put(hashKey(prefixReceipt, tx.Hash()), rcptJSON)
	b.Put(u64Key(prefixBlock, n), hdrJSON)
	b.Put(u64Key(prefixBlockTx, n), txsJSON)
	b.Put(hashKey(prefixBlockHash, blockHash), encodeU64(n))
	b.Put(keyHead, encodeU64(n))
	if err := b.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit block %d: %w", n, err)
	}
	c.head = header

	c.logger.Info().
		Uint64("number", n).
		Str("tx", tx.Hash().Hex()).
		Str("from", from.Hex()).
		Bool("success", status == types.ReceiptStatusSuccessful).
		Uint64("gas", gasUsed).
		Msg("Block sealed")
	return receipt, logs, nil
}

// stateRoot chains the previous root with the transaction and its writes.
func stateRoot(prev, txHash common.Hash, writes []write) common.Hash {
	h := blake3.New()
	h.Write(prev.Bytes())
	h.Write(txHash.Bytes())
	for _, w := range writes {
		h.Write(w.key)
		h.Write(w.value)
	}
	var root common.Hash
	h.Sum(root[:0])
	return root
}

// Receipt returns the receipt of a mined transaction, or ethereum.NotFound.
func (c *Chain) Receipt(hash common.Hash) (*types.Receipt, error) {
	b, err := c.db.Get(hashKey(prefixReceipt, hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ethereum.NotFound
	}
	if err != nil {
		return nil, err
	}
	var r types.Receipt
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &r, nil
}

// FilterLogs returns the logs matching q, oldest first.
func (c *Chain) FilterLogs(q ethereum.FilterQuery) ([]types.Log, error) {
	var from, to uint64
	if q.BlockHash != nil {
		h, err := c.HeaderByHash(*q.BlockHash)
		if err != nil {
			return nil, err
		}
		from, to = h.Number.Uint64(), h.Number.Uint64()
	} else {
		head := c.Head().Number.Uint64()
		from, to = head, head
		if q.FromBlock != nil && q.FromBlock.Sign() >= 0 {
			from = q.FromBlock.Uint64()
		}
		if q.ToBlock != nil && q.ToBlock.Sign() >= 0 && q.ToBlock.Uint64() < head {
			to = q.ToBlock.Uint64()
		}
	}

	out := []types.Log{}
	for n := from; n <= to; n++ {
		hashes, err := c.BlockTransactions(n)
		if err != nil {
			return nil, err
		}
		for _, h := range hashes {
			r, err := c.Receipt(h)
			if err != nil {
				return nil, err
			}
			for _, l := range r.Logs {
				if matchLog(l, q.Addresses, q.Topics) {
					out = append(out, *l)
				}
			}
		}
	}
	return out, nil
}

func matchLog(l *types.Log, addrs []common.Address, topics [][]common.Hash) bool {
	if len(addrs) > 0 {
		found := false
		for _, a := range addrs {
			if a == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, alts := range topics {
		if len(alts) == 0 {
			continue
		}
		if i >= len(l.Topics) {
			return false
		}
		found := false
		for _, t := range alts {
			if t == l.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SubscribeLogs delivers the logs of every sealed block to ch.
func (c *Chain) SubscribeLogs(ch chan<- []*types.Log) event.Subscription {
	return c.logsFeed.Subscribe(ch)
}

// Status returns a head summary.
func (c *Chain) Status() (*Status, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count, err := c.recordCount()
	if err != nil {
		return nil, err
	}
	return &Status{
		ChainID:   c.cfg.ChainID.Uint64(),
		Height:    c.head.Number.Uint64(),
		HeadHash:  c.head.Hash(),
		StateRoot: c.head.Root,
		Records:   count,
		Contract:  c.cfg.ContractAddress,
	}, nil
}
