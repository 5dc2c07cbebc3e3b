package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/blockmed/blockmed/internal/rxerr"
	"github.com/blockmed/blockmed/pkg/contract"
)

// EventKind distinguishes registry events.
type EventKind int

const (
	EventAdded EventKind = iota + 1
	EventVerified
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventVerified:
		return "verified"
	default:
		return "unknown"
	}
}

// Event is a registry log entry. Actor is the doctor for EventAdded and
// the verifier for EventVerified.
type Event struct {
	Kind         EventKind
	RecordID     uint64
	Actor        common.Address
	PatientHash  string
	DocumentHash string
	BlockNumber  uint64
	TxHash       common.Hash
}

type addedLog struct {
	Id          *big.Int
	Doctor      common.Address
	PatientHash string
	IpfsHash    string
}

type verifiedLog struct {
	Id       *big.Int
	Verifier common.Address
}

// History returns registry events from fromBlock to the head, oldest first.
func (c *Client) History(ctx context.Context, fromBlock uint64) (events []Event, err error) {
	const op = "ledger.history"
	defer func(start time.Time) { observe(op, start, err) }(time.Now())

	if err := c.requireBackend(op); err != nil {
		return nil, err
	}
	added := c.abi.Events[contract.EventPrescriptionAdded].ID
	verified := c.abi.Events[contract.EventPrescriptionVerified].ID
	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{added, verified}},
	})
	if err != nil {
		return nil, rxerr.Classify(op, err)
	}

	events = make([]Event, 0, len(logs))
	for _, l := range logs {
		ev := Event{BlockNumber: l.BlockNumber, TxHash: l.TxHash}
		switch l.Topics[0] {
		case added:
			var out addedLog
			if err := c.contract.UnpackLog(&out, contract.EventPrescriptionAdded, l); err != nil {
				return nil, rxerr.Classify(op, fmt.Errorf("unpack %s: %w", contract.EventPrescriptionAdded, err))
			}
			if !out.Id.IsUint64() {
				return nil, rxerr.Classify(op, fmt.Errorf("%s record id out of range", contract.EventPrescriptionAdded))
			}
			ev.Kind = EventAdded
			ev.RecordID = out.Id.Uint64()
			ev.Actor = out.Doctor
			ev.PatientHash = out.PatientHash
			ev.DocumentHash = out.IpfsHash
		case verified:
			var out verifiedLog
			if err := c.contract.UnpackLog(&out, contract.EventPrescriptionVerified, l); err != nil {
				return nil, rxerr.Classify(op, fmt.Errorf("unpack %s: %w", contract.EventPrescriptionVerified, err))
			}
			if !out.Id.IsUint64() {
				return nil, rxerr.Classify(op, fmt.Errorf("%s record id out of range", contract.EventPrescriptionVerified))
			}
			ev.Kind = EventVerified
			ev.RecordID = out.Id.Uint64()
			ev.Actor = out.Verifier
		default:
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
