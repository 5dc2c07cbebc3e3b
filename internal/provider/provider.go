// Package provider defines the boundary to the key-holding wallet that
// authorizes accounts and signs transactions, modeled on the EIP-1193
// browser provider API, and ships a keystore-backed implementation.
package provider

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EIP-1193 error codes.
const (
	CodeUserRejected = 4001
	CodeUnauthorized = 4100
	CodeDisconnected = 4900
)

// Error is a provider RPC error carrying an EIP-1193 code.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s (code %d)", e.Message, e.Code) }

// ErrorCode returns the EIP-1193 code.
func (e *Error) ErrorCode() int { return e.Code }

var (
	ErrUserRejected = &Error{Code: CodeUserRejected, Message: "user rejected the request"}
	ErrUnauthorized = &Error{Code: CodeUnauthorized, Message: "account not authorized"}
	ErrDisconnected = &Error{Code: CodeDisconnected, Message: "provider is disconnected"}
)

// AccountsEvent is an accounts-changed notification. Seq increases by one
// for every notification a provider emits, so consumers can discard
// notifications that arrive after a newer one.
type AccountsEvent struct {
	Seq      uint64
	Accounts []common.Address
}

// Subscription is a registered listener. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Provider is the wallet boundary consumed by the session.
type Provider interface {
	// RequestAccounts asks the user to authorize account access. It may
	// prompt and fails with ErrUserRejected when the user declines.
	RequestAccounts(ctx context.Context) ([]common.Address, error)

	// Accounts returns already-authorized accounts without prompting.
	// The list is empty when nothing is authorized.
	Accounts(ctx context.Context) ([]common.Address, error)

	// SubscribeAccounts registers fn for accounts-changed notifications.
	SubscribeAccounts(fn func(AccountsEvent)) Subscription

	// SignTransaction signs tx with the key of from. It may prompt.
	SignTransaction(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Approver answers the prompts a provider shows its user.
type Approver interface {
	ApproveConnection(ctx context.Context, accounts []common.Address) (bool, error)
	ApproveTransaction(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (bool, error)
}

// AutoApprover approves every prompt. Used for non-interactive runs.
type AutoApprover struct{}

func (AutoApprover) ApproveConnection(context.Context, []common.Address) (bool, error) {
	return true, nil
}

func (AutoApprover) ApproveTransaction(context.Context, common.Address, *types.Transaction, *big.Int) (bool, error) {
	return true, nil
}
