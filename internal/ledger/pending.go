package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/blockmed/blockmed/internal/rxerr"
	"github.com/blockmed/blockmed/pkg/contract"
)

// PendingTx is a submitted write awaiting confirmation.
type PendingTx struct {
	Hash common.Hash

	op       string
	tx       *types.Transaction
	recordID uint64 // known up front for verifications
	client   *Client
	sentAt   time.Time
}

// Confirmation describes a write included by the ledger.
type Confirmation struct {
	TxHash      common.Hash
	BlockNumber uint64
	RecordID    uint64
	GasUsed     uint64
}

func (c *Client) pending(op string, tx *types.Transaction, recordID uint64) *PendingTx {
	return &PendingTx{
		Hash:     tx.Hash(),
		op:       op,
		tx:       tx,
		recordID: recordID,
		client:   c,
		sentAt:   time.Now(),
	}
}

// Wait blocks until the transaction is mined or ctx ends. A mined but
// reverted transaction fails with LedgerError. For submissions the
// confirmed record id is read from the PrescriptionAdded event.
func (p *PendingTx) Wait(ctx context.Context) (*Confirmation, error) {
	op := p.op + ".wait"
	receipt, err := bind.WaitMined(ctx, p.client.backend, p.tx)
	if err != nil {
		return nil, rxerr.Classify(op, err)
	}
	ledgerConfirmationSeconds.Observe(time.Since(p.sentAt).Seconds())

	logger := p.client.logger.With().Str("tx", p.Hash.Hex()).Uint64("block", receipt.BlockNumber.Uint64()).Logger()
	if receipt.Status != types.ReceiptStatusSuccessful {
		logger.Warn().Msg("Transaction reverted")
		return nil, rxerr.New(rxerr.LedgerError, op, "transaction reverted")
	}

	conf := &Confirmation{
		TxHash:      p.Hash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		RecordID:    p.recordID,
		GasUsed:     receipt.GasUsed,
	}
	if conf.RecordID == 0 {
		id, err := p.client.recordIDFromReceipt(ctx, receipt)
		if err != nil {
			return nil, rxerr.Classify(op, err)
		}
		conf.RecordID = id
	}
	logger.Info().Uint64("id", conf.RecordID).Msg("Transaction confirmed")
	return conf, nil
}

// recordIDFromReceipt finds the PrescriptionAdded event emitted by the
// registry. Without one it falls back to the count at the receipt's block,
// which equals the new id when this was the last write in the block.
func (c *Client) recordIDFromReceipt(ctx context.Context, receipt *types.Receipt) (uint64, error) {
	added := c.abi.Events[contract.EventPrescriptionAdded]
	for _, l := range receipt.Logs {
		if l.Address != c.address || len(l.Topics) < 2 || l.Topics[0] != added.ID {
			continue
		}
		id := new(big.Int).SetBytes(l.Topics[1].Bytes())
		if !id.IsUint64() {
			return 0, fmt.Errorf("event record id out of range")
		}
		return id.Uint64(), nil
	}
	c.logger.Debug().Str("tx", receipt.TxHash.Hex()).Msg("No PrescriptionAdded event, reading count")
	return c.count(ctx, receipt.BlockNumber)
}
