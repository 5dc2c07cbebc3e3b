package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/term"

	"github.com/blockmed/blockmed/config"
	"github.com/blockmed/blockmed/internal/ledger"
	"github.com/blockmed/blockmed/internal/rxerr"
)

// ── Password helper ─────────────────────────────────────────────────────

// passwordEnv lets scripts supply the wallet password without a terminal.
var passwordEnv = config.EnvKey("password")

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

func (a *app) promptPassword(prompt string, confirm bool) ([]byte, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return []byte(pw), nil
	}
	password, err := readPassword(prompt)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	if !confirm {
		return password, nil
	}
	again, err := readPassword("Confirm password: ")
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	if string(password) != string(again) {
		return nil, errors.New("passwords do not match")
	}
	return password, nil
}

// ── Approval prompts ────────────────────────────────────────────────────

// terminalApprover asks on the terminal before connecting and signing.
type terminalApprover struct {
	in  *bufio.Reader
	out io.Writer
}

func (t *terminalApprover) ApproveConnection(ctx context.Context, accounts []common.Address) (bool, error) {
	fmt.Fprintln(t.out, "BlockMed requests access to your wallet.")
	for _, acct := range accounts {
		fmt.Fprintf(t.out, "  %s\n", acct.Hex())
	}
	return t.ask("Connect?")
}

func (t *terminalApprover) ApproveTransaction(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (bool, error) {
	fmt.Fprintln(t.out, "Signature request:")
	fmt.Fprintf(t.out, "  From:     %s\n", from.Hex())
	if to := tx.To(); to != nil {
		fmt.Fprintf(t.out, "  To:       %s\n", to.Hex())
	}
	fmt.Fprintf(t.out, "  Chain ID: %s\n", chainID)
	fmt.Fprintf(t.out, "  Nonce:    %d\n", tx.Nonce())
	fmt.Fprintf(t.out, "  Gas:      %d\n", tx.Gas())
	return t.ask("Sign?")
}

func (t *terminalApprover) ask(question string) (bool, error) {
	fmt.Fprintf(t.out, "%s [y/N]: ", question)
	line, err := t.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// ── Formatting ──────────────────────────────────────────────────────────

// shortAddress renders an address as 0x1234...abCd, keeping the EIP-55
// checksum casing of Hex.
func shortAddress(addr common.Address) string {
	s := addr.Hex()
	return s[:6] + "..." + s[len(s)-4:]
}

// hint suggests a next step for a classified failure, or "".
func hint(err error, cfg *config.Config) string {
	if errors.Is(err, ledger.ErrInvalidInput) {
		return ""
	}
	switch rxerr.KindOf(err) {
	case rxerr.ProviderAbsent:
		return "Create a wallet with 'blockmed wallet create' (or import one) and make sure the ledger endpoint is reachable."
	case rxerr.UserRejected:
		return "The request was declined. Run 'blockmed connect' to authorize the wallet."
	case rxerr.InvalidAddress:
		if cfg != nil {
			return fmt.Sprintf("Check contract.address for the %s network (currently %q).", cfg.Network, cfg.Contract.Address)
		}
		return "Check the configured contract address."
	case rxerr.NotFound:
		return "Check the prescription ID."
	}
	return ""
}

func printError(w io.Writer, err error, cfg *config.Config) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if h := hint(err, cfg); h != "" {
		fmt.Fprintf(w, "Hint: %s\n", h)
	}
}
