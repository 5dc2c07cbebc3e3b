package ledger

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Record is a prescription as stored by the ledger.
type Record struct {
	ID           uint64
	PatientHash  string
	DocumentHash string // content-addressed document pointer (IPFS hash)
	Doctor       common.Address
	Timestamp    uint64 // seconds since epoch
	Verified     bool
}

// Time returns the creation time.
func (r *Record) Time() time.Time {
	return time.Unix(int64(r.Timestamp), 0).UTC()
}
