package rpc

import (
	"errors"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/blockmed/blockmed/internal/devchain"
)

// ClientVersion is reported by web3_clientVersion.
const ClientVersion = "blockmed-devnet/v0.1.0"

func (s *Server) registerMethods() {
	s.methods = map[string]handler{
		"web3_clientVersion":        s.handleClientVersion,
		"net_version":               s.handleNetVersion,
		"eth_chainId":               s.handleChainID,
		"eth_blockNumber":           s.handleBlockNumber,
		"eth_getBlockByNumber":      s.handleGetBlockByNumber,
		"eth_getBlockByHash":        s.handleGetBlockByHash,
		"eth_gasPrice":              s.handleGasPrice,
		"eth_maxPriorityFeePerGas":  s.handleGasPrice,
		"eth_getTransactionCount":   s.handleGetTransactionCount,
		"eth_getCode":               s.handleGetCode,
		"eth_estimateGas":           s.handleEstimateGas,
		"eth_call":                  s.handleCall,
		"eth_sendRawTransaction":    s.handleSendRawTransaction,
		"eth_getTransactionReceipt": s.handleGetTransactionReceipt,
		"eth_getLogs":               s.handleGetLogs,
		"eth_accounts":              s.handleAccounts,
		"blockmed_status":           s.handleStatus,
	}
}

// chainError converts a chain error into a JSON-RPC error. Reverts keep
// code 3 and their Error(string) data the way Ethereum nodes report them.
func chainError(err error) *Error {
	var revert *devchain.RevertError
	if errors.As(err, &revert) {
		return &Error{Code: revert.ErrorCode(), Message: revert.Error(), Data: revert.ErrorData()}
	}
	if errors.Is(err, devchain.ErrUnknownBlock) {
		return &Error{Code: CodeServerError, Message: "header not found"}
	}
	return &Error{Code: CodeServerError, Message: err.Error()}
}

// checkBlock rejects state reads against blocks beyond the head. The
// devnet answers every read from head state.
func (s *Server) checkBlock(tag string) *Error {
	n, rpcErr := parseBlockTag(tag)
	if rpcErr != nil {
		return rpcErr
	}
	if _, err := s.chain.HeaderByNumber(n); err != nil {
		return chainError(err)
	}
	return nil
}

// ── Node info ───────────────────────────────────────────────────────────

func (s *Server) handleClientVersion(req *Request) (interface{}, *Error) {
	return ClientVersion, nil
}

func (s *Server) handleNetVersion(req *Request) (interface{}, *Error) {
	return s.chain.ChainID().String(), nil
}

func (s *Server) handleChainID(req *Request) (interface{}, *Error) {
	return (*hexutil.Big)(s.chain.ChainID()), nil
}

func (s *Server) handleGasPrice(req *Request) (interface{}, *Error) {
	return (*hexutil.Big)(s.chain.GasPrice()), nil
}

func (s *Server) handleAccounts(req *Request) (interface{}, *Error) {
	// The devnet holds no keys; accounts live in the user's wallet.
	return []common.Address{}, nil
}

func (s *Server) handleStatus(req *Request) (interface{}, *Error) {
	st, err := s.chain.Status()
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return st, nil
}

// ── Blocks ──────────────────────────────────────────────────────────────

func (s *Server) handleBlockNumber(req *Request) (interface{}, *Error) {
	return hexutil.Uint64(s.chain.Head().Number.Uint64()), nil
}

func (s *Server) blockByHeader(h *types.Header, fullTx bool) (interface{}, *Error) {
	if fullTx {
		return nil, invalidParams("full transaction objects are not supported")
	}
	txs, err := s.chain.BlockTransactions(h.Number.Uint64())
	if err != nil {
		return nil, chainError(err)
	}
	res, err := blockResult(h, txs)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return res, nil
}

func (s *Server) handleGetBlockByNumber(req *Request) (interface{}, *Error) {
	var (
		tag    string
		fullTx bool
	)
	if err := parseParams(req, 1, &tag, &fullTx); err != nil {
		return nil, err
	}
	n, rpcErr := parseBlockTag(tag)
	if rpcErr != nil {
		return nil, rpcErr
	}
	h, err := s.chain.HeaderByNumber(n)
	if errors.Is(err, devchain.ErrUnknownBlock) {
		return nil, nil
	}
	if err != nil {
		return nil, chainError(err)
	}
	return s.blockByHeader(h, fullTx)
}

func (s *Server) handleGetBlockByHash(req *Request) (interface{}, *Error) {
	var (
		hash   common.Hash
		fullTx bool
	)
	if err := parseParams(req, 1, &hash, &fullTx); err != nil {
		return nil, err
	}
	h, err := s.chain.HeaderByHash(hash)
	if errors.Is(err, devchain.ErrUnknownBlock) {
		return nil, nil
	}
	if err != nil {
		return nil, chainError(err)
	}
	return s.blockByHeader(h, fullTx)
}

// ── State ───────────────────────────────────────────────────────────────

func (s *Server) handleGetTransactionCount(req *Request) (interface{}, *Error) {
	var (
		addr common.Address
		tag  string
	)
	if err := parseParams(req, 1, &addr, &tag); err != nil {
		return nil, err
	}
	if err := s.checkBlock(tag); err != nil {
		return nil, err
	}
	nonce, err := s.chain.Nonce(addr)
	if err != nil {
		return nil, chainError(err)
	}
	return hexutil.Uint64(nonce), nil
}

func (s *Server) handleGetCode(req *Request) (interface{}, *Error) {
	var (
		addr common.Address
		tag  string
	)
	if err := parseParams(req, 1, &addr, &tag); err != nil {
		return nil, err
	}
	if err := s.checkBlock(tag); err != nil {
		return nil, err
	}
	return hexutil.Bytes(s.chain.Code(addr)), nil
}

func (s *Server) handleCall(req *Request) (interface{}, *Error) {
	var (
		args CallArgs
		tag  string
	)
	if err := parseParams(req, 1, &args, &tag); err != nil {
		return nil, err
	}
	if err := s.checkBlock(tag); err != nil {
		return nil, err
	}
	out, err := s.chain.Call(args.message())
	if err != nil {
		return nil, chainError(err)
	}
	return hexutil.Bytes(out), nil
}

func (s *Server) handleEstimateGas(req *Request) (interface{}, *Error) {
	var (
		args CallArgs
		tag  string
	)
	if err := parseParams(req, 1, &args, &tag); err != nil {
		return nil, err
	}
	if err := s.checkBlock(tag); err != nil {
		return nil, err
	}
	gas, err := s.chain.EstimateGas(args.message())
	if err != nil {
		return nil, chainError(err)
	}
	return hexutil.Uint64(gas), nil
}

// ── Transactions ────────────────────────────────────────────────────────

func (s *Server) handleSendRawTransaction(req *Request) (interface{}, *Error) {
	var raw hexutil.Bytes
	if err := parseParams(req, 1, &raw); err != nil {
		return nil, err
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, invalidParams("invalid transaction: %v", err)
	}
	if _, err := s.chain.SendTransaction(tx); err != nil {
		return nil, chainError(err)
	}
	return tx.Hash(), nil
}

func (s *Server) handleGetTransactionReceipt(req *Request) (interface{}, *Error) {
	var hash common.Hash
	if err := parseParams(req, 1, &hash); err != nil {
		return nil, err
	}
	r, err := s.chain.Receipt(hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, chainError(err)
	}
	return r, nil
}

// ── Logs ────────────────────────────────────────────────────────────────

// maxLogRange bounds the number of blocks one eth_getLogs call may scan.
const maxLogRange = 10_000

func (s *Server) handleGetLogs(req *Request) (interface{}, *Error) {
	var args FilterArgs
	if err := parseParams(req, 1, &args); err != nil {
		return nil, err
	}
	q, rpcErr := args.query()
	if rpcErr != nil {
		return nil, rpcErr
	}
	if q.BlockHash == nil {
		head := s.chain.Head().Number
		from, to := head, head
		if q.FromBlock != nil {
			from = q.FromBlock
		}
		if q.ToBlock != nil && q.ToBlock.Cmp(head) < 0 {
			to = q.ToBlock
		}
		if from.Cmp(to) > 0 {
			return []types.Log{}, nil
		}
		if span := new(big.Int).Sub(to, from); span.Cmp(big.NewInt(maxLogRange)) > 0 {
			return nil, &Error{Code: CodeLimitExceeded, Message: fmt.Sprintf("block range exceeds %d", maxLogRange)}
		}
	}
	logs, err := s.chain.FilterLogs(q)
	if err != nil {
		return nil, chainError(err)
	}
	return logs, nil
}
