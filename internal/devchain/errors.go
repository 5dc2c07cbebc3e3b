package devchain

import (
	"errors"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/blockmed/blockmed/pkg/contract"
)

// Transaction rejection errors.
var (
	ErrNonceTooLow      = errors.New("nonce too low")
	ErrNonceTooHigh     = errors.New("nonce too high")
	ErrUnprotected      = errors.New("only replay-protected (EIP-155) transactions allowed over RPC")
	ErrContractCreation = errors.New("contract creation is not supported")
	ErrValueTransfer    = errors.New("value transfers are not supported")
	ErrGasTooLow        = errors.New("intrinsic gas too low")
	ErrGasLimit         = errors.New("exceeds block gas limit")
	ErrUnknownBlock     = errors.New("unknown block")
	ErrAlreadyKnown     = errors.New("already known")
)

// RevertError is a contract execution revert. It carries the JSON-RPC code
// and Error(string) data the way Ethereum nodes report reverts.
type RevertError struct {
	Reason string
	Data   []byte
}

func newRevert(reason string) *RevertError {
	if reason == "" {
		return &RevertError{}
	}
	return &RevertError{Reason: reason, Data: contract.EncodeRevert(reason)}
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

// ErrorCode returns the JSON-RPC code for reverts.
func (e *RevertError) ErrorCode() int { return 3 }

// ErrorData returns the hex-encoded revert data.
func (e *RevertError) ErrorData() interface{} { return hexutil.Encode(e.Data) }
