package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// JSON-RPC 2.0 error codes, plus the server-error range used by Ethereum
// nodes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
	CodeLimitExceeded  = -32005
)

// Request is a JSON-RPC 2.0 request. Params are positional, as Ethereum
// clients send them.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Response is a JSON-RPC 2.0 response. A null result is sent as "null".
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func invalidParams(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// parseParams decodes positional params into targets. The first required
// targets must be present; the rest are optional.
func parseParams(req *Request, required int, targets ...interface{}) *Error {
	var raw []json.RawMessage
	if len(req.Params) > 0 && string(req.Params) != "null" {
		if err := json.Unmarshal(req.Params, &raw); err != nil {
			return invalidParams("params must be an array")
		}
	}
	if len(raw) < required {
		return invalidParams("missing value for required argument %d", len(raw))
	}
	if len(raw) > len(targets) {
		return invalidParams("too many arguments, want at most %d", len(targets))
	}
	for i, r := range raw {
		if err := json.Unmarshal(r, targets[i]); err != nil {
			return invalidParams("invalid argument %d: %v", i, err)
		}
	}
	return nil
}

// parseBlockTag maps a block tag onto a block number. Tags that name the
// head return nil.
func parseBlockTag(tag string) (*big.Int, *Error) {
	switch tag {
	case "", "latest", "pending", "safe", "finalized":
		return nil, nil
	case "earliest":
		return new(big.Int), nil
	}
	n, err := hexutil.DecodeBig(tag)
	if err != nil {
		return nil, invalidParams("invalid block tag %q", tag)
	}
	return n, nil
}

// CallArgs are the transaction call arguments of eth_call and
// eth_estimateGas.
type CallArgs struct {
	From     *common.Address `json:"from"`
	To       *common.Address `json:"to"`
	Gas      *hexutil.Uint64 `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Data     *hexutil.Bytes  `json:"data"`
	Input    *hexutil.Bytes  `json:"input"`
}

// message converts the args into a call message. "input" wins over "data".
func (a *CallArgs) message() ethereum.CallMsg {
	msg := ethereum.CallMsg{To: a.To}
	if a.From != nil {
		msg.From = *a.From
	}
	if a.Gas != nil {
		msg.Gas = uint64(*a.Gas)
	}
	if a.GasPrice != nil {
		msg.GasPrice = a.GasPrice.ToInt()
	}
	if a.Value != nil {
		msg.Value = a.Value.ToInt()
	}
	switch {
	case a.Input != nil:
		msg.Data = *a.Input
	case a.Data != nil:
		msg.Data = *a.Data
	}
	return msg
}

// FilterArgs is the eth_getLogs filter object.
type FilterArgs struct {
	BlockHash *common.Hash `json:"blockHash"`
	FromBlock string       `json:"fromBlock"`
	ToBlock   string       `json:"toBlock"`
	Address   addressList  `json:"address"`
	Topics    []topicList  `json:"topics"`
}

// query converts the filter into an ethereum.FilterQuery.
func (f *FilterArgs) query() (ethereum.FilterQuery, *Error) {
	q := ethereum.FilterQuery{BlockHash: f.BlockHash, Addresses: f.Address}
	if f.BlockHash != nil && (f.FromBlock != "" || f.ToBlock != "") {
		return q, invalidParams("cannot specify both blockHash and fromBlock/toBlock")
	}
	if f.BlockHash == nil {
		from, err := parseBlockTag(f.FromBlock)
		if err != nil {
			return q, err
		}
		to, err := parseBlockTag(f.ToBlock)
		if err != nil {
			return q, err
		}
		q.FromBlock, q.ToBlock = from, to
	}
	for _, t := range f.Topics {
		q.Topics = append(q.Topics, []common.Hash(t))
	}
	return q, nil
}

// addressList accepts a single address or an array of addresses.
type addressList []common.Address

func (l *addressList) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*l = nil
		return nil
	case strings.HasPrefix(s, "["):
		var addrs []common.Address
		if err := json.Unmarshal(b, &addrs); err != nil {
			return err
		}
		*l = addrs
		return nil
	}
	var a common.Address
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*l = addressList{a}
	return nil
}

// topicList is one topic position: null (any), a hash, or alternatives.
type topicList []common.Hash

func (l *topicList) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*l = nil
		return nil
	case strings.HasPrefix(s, "["):
		var hashes []*common.Hash
		if err := json.Unmarshal(b, &hashes); err != nil {
			return err
		}
		out := make([]common.Hash, 0, len(hashes))
		for _, h := range hashes {
			if h == nil {
				// A null alternative matches anything.
				*l = nil
				return nil
			}
			out = append(out, *h)
		}
		*l = out
		return nil
	}
	var h common.Hash
	if err := json.Unmarshal(b, &h); err != nil {
		return err
	}
	*l = topicList{h}
	return nil
}

// blockResult renders a header in eth_getBlockBy* form with transaction
// hashes.
func blockResult(h *types.Header, txs []common.Hash) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []common.Hash{}
	}
	txsJSON, err := json.Marshal(txs)
	if err != nil {
		return nil, err
	}
	sizeJSON, err := json.Marshal(hexutil.Uint64(h.Size()))
	if err != nil {
		return nil, err
	}
	out["transactions"] = txsJSON
	out["uncles"] = json.RawMessage("[]")
	out["size"] = sizeJSON
	out["totalDifficulty"] = json.RawMessage(`"0x0"`)
	return out, nil
}
