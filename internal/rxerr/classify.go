package rxerr

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EIP-1193 provider error codes and the JSON-RPC revert code.
const (
	CodeUserRejected  = 4001
	CodeUnauthorized  = 4100
	CodeDisconnected  = 4900
	CodeChainDisconn  = 4901
	CodeExecutionFail = 3
)

type codedError interface {
	ErrorCode() int
}

type dataError interface {
	ErrorData() interface{}
}

// Classify maps an error from the provider or ledger boundary onto the
// taxonomy. Errors already classified pass through unchanged. Context
// cancellation is returned as-is so callers can tell it apart.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var coded codedError
	if errors.As(err, &coded) {
		switch coded.ErrorCode() {
		case CodeUserRejected, CodeUnauthorized:
			return Wrap(UserRejected, op, err)
		case CodeDisconnected, CodeChainDisconn:
			return Wrap(ProviderAbsent, op, err)
		case CodeExecutionFail:
			return &Error{Kind: LedgerError, Op: op, Msg: revertMessage(err), Err: err}
		}
	}

	if errors.Is(err, bind.ErrNoCode) {
		return &Error{Kind: InvalidAddress, Op: op, Msg: "no contract deployed at configured address", Err: err}
	}
	if isUnreachable(err) {
		return Wrap(ProviderAbsent, op, err)
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "invalid address"), strings.Contains(lower, "no contract code"):
		return Wrap(InvalidAddress, op, err)
	case strings.Contains(lower, "execution reverted"):
		return &Error{Kind: LedgerError, Op: op, Msg: revertMessage(err), Err: err}
	}
	return Wrap(LedgerError, op, err)
}

// revertMessage prefers the decoded Error(string) reason when the error
// carries revert data.
func revertMessage(err error) string {
	var de dataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(s); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return "execution reverted: " + reason
				}
			}
		}
	}
	return err.Error()
}

func isUnreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
