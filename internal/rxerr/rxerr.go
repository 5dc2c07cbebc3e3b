// Package rxerr defines the error taxonomy returned by the wallet session
// and the ledger client. Every failure crossing the provider or ledger
// boundary is classified into a Kind so callers can choose a presentation
// without inspecting transport details.
package rxerr

import (
	"errors"
	"fmt"
)

// Kind classifies a boundary failure.
type Kind int

const (
	Unknown Kind = iota
	// ProviderAbsent: no signing provider or ledger endpoint is reachable.
	ProviderAbsent
	// UserRejected: the user declined a connection or signature prompt.
	UserRejected
	// InvalidAddress: the configured contract location is wrong.
	InvalidAddress
	// NotFound: the requested record does not exist.
	NotFound
	// LedgerError: a contract revert or unexpected ledger failure.
	LedgerError
)

func (k Kind) String() string {
	switch k {
	case ProviderAbsent:
		return "provider absent"
	case UserRejected:
		return "user rejected"
	case InvalidAddress:
		return "invalid address"
	case NotFound:
		return "not found"
	case LedgerError:
		return "ledger error"
	default:
		return "unknown"
	}
}

// Sentinels for use with errors.Is.
var (
	ErrProviderAbsent = &Error{Kind: ProviderAbsent}
	ErrUserRejected   = &Error{Kind: UserRejected}
	ErrInvalidAddress = &Error{Kind: InvalidAddress}
	ErrNotFound       = &Error{Kind: NotFound}
	ErrLedgerError    = &Error{Kind: LedgerError}
)

// Error is a classified boundary failure.
type Error struct {
	Kind Kind
	Op   string // operation, e.g. "ledger.submit"
	Msg  string // human-readable detail, passed through from the ledger where possible
	Err  error  // underlying cause
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op == "" && t.Msg == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

// New returns a classified error without an underlying cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap returns a classified error wrapping err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
