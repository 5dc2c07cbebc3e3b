package devchain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/blockmed/blockmed/internal/storage"
	"github.com/blockmed/blockmed/pkg/contract"
)

// Gas schedule. Only relative sizes matter on the devnet.
const (
	gasTx           = 21000
	gasZeroByte     = 4
	gasNonZeroByte  = 16
	gasRead         = 5000
	gasAddBase      = 60000
	gasPerWord      = 2000
	gasVerify       = 30000
	wordSize        = 32
	gasEventLogBase = 1500
)

func intrinsicGas(input []byte) uint64 {
	gas := uint64(gasTx)
	for _, b := range input {
		if b == 0 {
			gas += gasZeroByte
		} else {
			gas += gasNonZeroByte
		}
	}
	return gas
}

// execResult is the outcome of running one call against the registry.
type execResult struct {
	ret    []byte
	logs   []*types.Log
	writes []write
	gas    uint64 // execution gas, excluding intrinsic gas
}

// execute runs input from sender against the registry state without
// modifying it. A revert is returned as *RevertError.
func (c *Chain) execute(from common.Address, input []byte, timestamp uint64) (*execResult, error) {
	if len(input) < 4 {
		return nil, newRevert("")
	}
	method, err := c.abi.MethodById(input[:4])
	if err != nil {
		return nil, newRevert("")
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, newRevert("")
	}

	switch method.Name {
	case contract.MethodGetPrescription:
		id := args[0].(*big.Int)
		return c.execGet(method, id)
	case contract.MethodPrescriptionCount:
		count, err := c.recordCount()
		if err != nil {
			return nil, err
		}
		ret, err := method.Outputs.Pack(new(big.Int).SetUint64(count))
		if err != nil {
			return nil, err
		}
		return &execResult{ret: ret, gas: gasRead}, nil
	case contract.MethodAddPrescription:
		return c.execAdd(from, args[0].(string), args[1].(string), timestamp)
	case contract.MethodVerifyPrescription:
		id := args[0].(*big.Int)
		return c.execVerify(from, id)
	}
	return nil, newRevert("")
}

func (c *Chain) execGet(method *abi.Method, id *big.Int) (*execResult, error) {
	rec := &record{Doctor: make([]byte, common.AddressLength)}
	if id.IsUint64() {
		stored, err := c.loadRecord(id.Uint64())
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		if stored != nil {
			rec = stored
		}
	}
	ret, err := method.Outputs.Pack(
		new(big.Int).SetUint64(rec.ID),
		rec.PatientHash,
		rec.IPFSHash,
		common.BytesToAddress(rec.Doctor),
		new(big.Int).SetUint64(rec.Timestamp),
		rec.Verified,
	)
	if err != nil {
		return nil, err
	}
	return &execResult{ret: ret, gas: gasRead}, nil
}

func (c *Chain) execAdd(from common.Address, patientHash, ipfsHash string, timestamp uint64) (*execResult, error) {
	if patientHash == "" {
		return nil, newRevert(contract.ReasonEmptyPatient)
	}
	if ipfsHash == "" {
		return nil, newRevert(contract.ReasonEmptyIPFS)
	}
	count, err := c.recordCount()
	if err != nil {
		return nil, err
	}
	rec := &record{
		ID:          count + 1,
		PatientHash: patientHash,
		IPFSHash:    ipfsHash,
		Doctor:      from.Bytes(),
		Timestamp:   timestamp,
	}
	enc, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}

	event := c.abi.Events[contract.EventPrescriptionAdded]
	data, err := event.Inputs.NonIndexed().Pack(patientHash, ipfsHash)
	if err != nil {
		return nil, fmt.Errorf("pack event: %w", err)
	}
	log := &types.Log{
		Address: c.cfg.ContractAddress,
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(new(big.Int).SetUint64(rec.ID)),
			common.BytesToHash(from.Bytes()),
		},
		Data: data,
	}

	words := uint64((len(patientHash) + len(ipfsHash) + wordSize - 1) / wordSize)
	return &execResult{
		logs: []*types.Log{log},
		writes: []write{
			{key: u64Key(prefixRecord, rec.ID), value: enc},
			{key: keyCount, value: encodeU64(rec.ID)},
		},
		gas: gasAddBase + words*gasPerWord + gasEventLogBase,
	}, nil
}

func (c *Chain) execVerify(from common.Address, id *big.Int) (*execResult, error) {
	if !id.IsUint64() || id.Sign() == 0 {
		return nil, newRevert(contract.ReasonNotFound)
	}
	rec, err := c.loadRecord(id.Uint64())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newRevert(contract.ReasonNotFound)
	}
	if err != nil {
		return nil, err
	}
	if rec.Verified {
		return nil, newRevert(contract.ReasonAlreadyVerified)
	}
	rec.Verified = true
	enc, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}

	event := c.abi.Events[contract.EventPrescriptionVerified]
	log := &types.Log{
		Address: c.cfg.ContractAddress,
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(id),
			common.BytesToHash(from.Bytes()),
		},
		Data: []byte{},
	}
	return &execResult{
		logs:   []*types.Log{log},
		writes: []write{{key: u64Key(prefixRecord, rec.ID), value: enc}},
		gas:    gasVerify + gasEventLogBase,
	}, nil
}

func (c *Chain) loadRecord(id uint64) (*record, error) {
	b, err := c.db.Get(u64Key(prefixRecord, id))
	if err != nil {
		return nil, err
	}
	return decodeRecord(b)
}

func (c *Chain) recordCount() (uint64, error) {
	b, err := c.db.Get(keyCount)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeU64(b)
}
