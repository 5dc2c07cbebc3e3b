// Package ledger is the client for the prescription registry contract.
// Reads are single contract calls; writes return a PendingTx whose
// confirmation is a separate step. All boundary failures are classified
// into the rxerr taxonomy.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	klog "github.com/blockmed/blockmed/internal/log"
	"github.com/blockmed/blockmed/internal/rxerr"
	"github.com/blockmed/blockmed/pkg/contract"
)

// ErrInvalidInput is returned for empty record fields before anything is
// sent to the ledger.
var ErrInvalidInput = errors.New("invalid input")

// Backend is the ledger connection: an *ethclient.Client or the devnet's
// in-process backend.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Wallet is the signing side, normally a *session.Session.
type Wallet interface {
	Account() (common.Address, bool)
	SignTransaction(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Config locates the registry.
type Config struct {
	ContractAddress string
	ChainID         *big.Int
}

// Client reads and writes prescription records.
type Client struct {
	address  common.Address
	chainID  *big.Int
	backend  Backend
	wallet   Wallet
	abi      abi.ABI
	contract *bind.BoundContract
	logger   zerolog.Logger
}

// New binds the registry at cfg.ContractAddress. A malformed or zero
// address fails with InvalidAddress. backend and w may be nil; the
// operations needing them then fail with ProviderAbsent.
func New(cfg Config, backend Backend, w Wallet) (*Client, error) {
	addr, err := ParseAddress(cfg.ContractAddress)
	if err != nil {
		return nil, err
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("ledger: chain id must be positive")
	}
	parsed, err := contract.ABI()
	if err != nil {
		return nil, err
	}
	c := &Client{
		address: addr,
		chainID: new(big.Int).Set(cfg.ChainID),
		backend: backend,
		wallet:  w,
		abi:     parsed,
		logger:  klog.WithComponent("ledger").With().Str("contract", addr.Hex()).Logger(),
	}
	if backend != nil {
		c.contract = bind.NewBoundContract(addr, parsed, backend, backend, backend)
	}
	return c, nil
}

// ParseAddress validates a contract address string.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, rxerr.New(rxerr.InvalidAddress, "ledger.config", fmt.Sprintf("malformed contract address %q", s))
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, rxerr.New(rxerr.InvalidAddress, "ledger.config", "contract address is the zero address")
	}
	return addr, nil
}

// Address returns the bound contract address.
func (c *Client) Address() common.Address { return c.address }

// ChainID returns the configured chain id.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

func (c *Client) requireBackend(op string) error {
	if c.contract == nil {
		return rxerr.New(rxerr.ProviderAbsent, op, "no ledger connection")
	}
	return nil
}

// FetchRecord reads record id. Unknown ids fail with NotFound.
func (c *Client) FetchRecord(ctx context.Context, id uint64) (rec *Record, err error) {
	const op = "ledger.fetch"
	defer func(start time.Time) { observe(op, start, err) }(time.Now())

	if id == 0 {
		return nil, rxerr.New(rxerr.NotFound, op, "record ids start at 1")
	}
	if err := c.requireBackend(op); err != nil {
		return nil, err
	}
	rec, err = c.fetch(ctx, id, nil)
	if err != nil {
		return nil, rxerr.Classify(op, err)
	}
	if rec.ID == 0 {
		return nil, rxerr.New(rxerr.NotFound, op, fmt.Sprintf("record %d does not exist", id))
	}
	if rec.ID != id {
		return nil, rxerr.New(rxerr.LedgerError, op, fmt.Sprintf("ledger returned record %d for id %d", rec.ID, id))
	}
	return rec, nil
}

func (c *Client) fetch(ctx context.Context, id uint64, block *big.Int) (*Record, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx, BlockNumber: block}
	if err := c.contract.Call(opts, &out, contract.MethodGetPrescription, new(big.Int).SetUint64(id)); err != nil {
		return nil, err
	}
	if len(out) != 6 {
		return nil, fmt.Errorf("getPrescription returned %d values", len(out))
	}
	rid := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	ts := *abi.ConvertType(out[4], new(*big.Int)).(**big.Int)
	if !rid.IsUint64() || !ts.IsUint64() {
		return nil, fmt.Errorf("getPrescription returned out-of-range values")
	}
	return &Record{
		ID:           rid.Uint64(),
		PatientHash:  *abi.ConvertType(out[1], new(string)).(*string),
		DocumentHash: *abi.ConvertType(out[2], new(string)).(*string),
		Doctor:       *abi.ConvertType(out[3], new(common.Address)).(*common.Address),
		Timestamp:    ts.Uint64(),
		Verified:     *abi.ConvertType(out[5], new(bool)).(*bool),
	}, nil
}

// RecordCount returns the number of records on the ledger.
func (c *Client) RecordCount(ctx context.Context) (n uint64, err error) {
	const op = "ledger.count"
	defer func(start time.Time) { observe(op, start, err) }(time.Now())

	if err := c.requireBackend(op); err != nil {
		return 0, err
	}
	n, err = c.count(ctx, nil)
	if err != nil {
		return 0, rxerr.Classify(op, err)
	}
	return n, nil
}

func (c *Client) count(ctx context.Context, block *big.Int) (uint64, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx, BlockNumber: block}
	if err := c.contract.Call(opts, &out, contract.MethodPrescriptionCount); err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("prescriptionCount returned %d values", len(out))
	}
	n := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if !n.IsUint64() {
		return 0, fmt.Errorf("prescriptionCount out of range")
	}
	return n.Uint64(), nil
}

// SubmitRecord sends addPrescription from the connected account. The new
// record id is only known once the returned PendingTx confirms.
func (c *Client) SubmitRecord(ctx context.Context, patientHash, documentHash string) (ptx *PendingTx, err error) {
	const op = "ledger.submit"
	defer func(start time.Time) { observe(op, start, err) }(time.Now())

	// Hashes are opaque and stored as given; blank ones are refused.
	if strings.TrimSpace(patientHash) == "" {
		return nil, fmt.Errorf("%w: patient hash is required", ErrInvalidInput)
	}
	if strings.TrimSpace(documentHash) == "" {
		return nil, fmt.Errorf("%w: document hash is required", ErrInvalidInput)
	}

	tx, err := c.transact(ctx, op, contract.MethodAddPrescription, patientHash, documentHash)
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("tx", tx.Hash().Hex()).Msg("Prescription submitted")
	return c.pending(op, tx, 0), nil
}

// VerifyRecord sends verifyPrescription. The ledger rejects unknown and
// already-verified ids; both surface as LedgerError.
func (c *Client) VerifyRecord(ctx context.Context, id uint64) (ptx *PendingTx, err error) {
	const op = "ledger.verify"
	defer func(start time.Time) { observe(op, start, err) }(time.Now())

	if id == 0 {
		return nil, fmt.Errorf("%w: record id must be positive", ErrInvalidInput)
	}
	tx, err := c.transact(ctx, op, contract.MethodVerifyPrescription, new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("tx", tx.Hash().Hex()).Uint64("id", id).Msg("Verification submitted")
	return c.pending(op, tx, id), nil
}

func (c *Client) transact(ctx context.Context, op, method string, params ...interface{}) (*types.Transaction, error) {
	if err := c.requireBackend(op); err != nil {
		return nil, err
	}
	if c.wallet == nil {
		return nil, rxerr.New(rxerr.ProviderAbsent, op, "no wallet provider installed")
	}
	from, ok := c.wallet.Account()
	if !ok {
		return nil, rxerr.New(rxerr.ProviderAbsent, op, "wallet is not connected")
	}
	var signErr error
	opts := &bind.TransactOpts{
		From:    from,
		Context: ctx,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			signed, err := c.wallet.SignTransaction(ctx, addr, tx, c.chainID)
			signErr = err
			return signed, err
		},
	}
	tx, err := c.contract.Transact(opts, method, params...)
	if err != nil {
		if signErr != nil {
			// Keep the signer's classification even if bind flattened it.
			return nil, rxerr.Classify(op, signErr)
		}
		return nil, rxerr.Classify(op, err)
	}
	return tx, nil
}
