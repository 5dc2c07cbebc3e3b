// Package node wires the devnet ledger: storage, the registry chain and
// its JSON-RPC server. It can be embedded in any binary.
package node

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/blockmed/blockmed/config"
	"github.com/blockmed/blockmed/internal/devchain"
	klog "github.com/blockmed/blockmed/internal/log"
	"github.com/blockmed/blockmed/internal/rpc"
	"github.com/blockmed/blockmed/internal/storage"
	"github.com/blockmed/blockmed/pkg/contract"
)

// Node is a fully-initialized devnet node.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	db      storage.DB
	chain   *devchain.Chain
	backend *devchain.Backend

	rpcServer *rpc.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and initializes a Node: logger, storage, chain and RPC
// server. It does not listen or start background goroutines. Call Start()
// for that.
func New(cfg *config.Config) (*Node, error) {
	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(logsDir, "devnet.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, expandHome(logFile)); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithChainID(cfg.Chain.ID).With().Str("component", "node").Logger()

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("storage", cfg.Devnet.Storage).
		Str("contract", cfg.Contract.Address).
		Msg("Starting BlockMed devnet")

	// ── 2. Open storage ─────────────────────────────────────────────
	db, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Devnet.Reset {
		if err := devchain.Reset(db); err != nil {
			db.Close()
			return nil, err
		}
		logger.Warn().Msg("Devnet ledger wiped")
	}

	// ── 3. Chain ────────────────────────────────────────────────────
	chainCfg := devchain.DefaultConfig()
	chainCfg.ChainID = cfg.ChainID()
	if cfg.Devnet.BlockGasLimit != 0 {
		chainCfg.BlockGasLimit = cfg.Devnet.BlockGasLimit
	}
	if cfg.Contract.Address != "" {
		if !common.IsHexAddress(cfg.Contract.Address) {
			db.Close()
			return nil, fmt.Errorf("contract.address %q is not a hex address", cfg.Contract.Address)
		}
		chainCfg.ContractAddress = common.HexToAddress(cfg.Contract.Address)
	}
	ch, err := devchain.New(db, chainCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open chain: %w", err)
	}

	// ── 4. RPC ──────────────────────────────────────────────────────
	var rpcServer *rpc.Server
	if cfg.RPC.Enabled {
		rpcServer = rpc.New(cfg.ListenAddr(), ch, cfg.RPC)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		chain:     ch,
		backend:   devchain.NewBackend(ch),
		rpcServer: rpcServer,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start binds the RPC listener and launches the registry event watcher.
func (n *Node) Start() error {
	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			return err
		}
	}

	logs := make(chan types.Log, 64)
	sub, err := n.backend.SubscribeFilterLogs(n.ctx, ethereum.FilterQuery{
		Addresses: []common.Address{n.chain.ContractAddress()},
	}, logs)
	if err != nil {
		return fmt.Errorf("subscribe registry events: %w", err)
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.watchEvents(sub, logs)
	}()

	head := n.chain.Head()
	n.logger.Info().
		Uint64("height", head.Number.Uint64()).
		Str("head", head.Hash().Hex()).
		Str("rpc", n.RPCAddr()).
		Msg("Devnet started")
	return nil
}

// watchEvents logs registry events as blocks are sealed.
func (n *Node) watchEvents(sub ethereum.Subscription, logs <-chan types.Log) {
	defer sub.Unsubscribe()
	parsed := contract.MustABI()
	for {
		select {
		case l := <-logs:
			n.logEvent(parsed, l)
		case err := <-sub.Err():
			if err != nil {
				n.logger.Error().Err(err).Msg("Registry event subscription failed")
			}
			return
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *Node) logEvent(parsed abi.ABI, l types.Log) {
	if len(l.Topics) < 2 {
		return
	}
	ev, err := parsed.EventByID(l.Topics[0])
	if err != nil {
		return
	}
	n.logger.Info().
		Str("event", ev.Name).
		Uint64("id", new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64()).
		Uint64("block", l.BlockNumber).
		Str("tx", l.TxHash.Hex()).
		Msg("Registry event")
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()

	if n.rpcServer != nil {
		if err := n.rpcServer.Stop(); err != nil {
			n.logger.Warn().Err(err).Msg("RPC shutdown")
		}
	}
	if n.db != nil {
		n.db.Close()
	}

	n.logger.Info().Msg("Goodbye!")
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Chain returns the devnet chain.
func (n *Node) Chain() *devchain.Chain { return n.chain }

// Backend returns an in-process contract backend for the chain.
func (n *Node) Backend() *devchain.Backend { return n.backend }

// Height returns the current chain height.
func (n *Node) Height() uint64 {
	return n.chain.Head().Number.Uint64()
}
