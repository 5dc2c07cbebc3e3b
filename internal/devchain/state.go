package devchain

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
)

// Key layout inside the chain namespace.
var (
	prefixRecord    = []byte("rx/")
	prefixNonce     = []byte("nonce/")
	prefixReceipt   = []byte("rcpt/")
	prefixBlock     = []byte("blk/")
	prefixBlockTx   = []byte("blktx/")
	prefixBlockHash = []byte("blkhash/")
	keyCount        = []byte("meta/count")
	keyHead         = []byte("meta/head")
)

func u64Key(prefix []byte, n uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], n)
	return k
}

func hashKey(prefix []byte, h common.Hash) []byte {
	return append(append([]byte{}, prefix...), h.Bytes()...)
}

func addrKey(prefix []byte, a common.Address) []byte {
	return append(append([]byte{}, prefix...), a.Bytes()...)
}

func encodeU64(n uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, n)
}

func decodeU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid uint64 encoding: %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// record is the stored form of a prescription.
type record struct {
	ID          uint64 `cbor:"1,keyasint"`
	PatientHash string `cbor:"2,keyasint"`
	IPFSHash    string `cbor:"3,keyasint"`
	Doctor      []byte `cbor:"4,keyasint"`
	Timestamp   uint64 `cbor:"5,keyasint"`
	Verified    bool   `cbor:"6,keyasint"`
}

// Deterministic encoding keeps state roots reproducible.
var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func encodeRecord(r *record) ([]byte, error) {
	b, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record %d: %w", r.ID, err)
	}
	return b, nil
}

func decodeRecord(b []byte) (*record, error) {
	var r record
	if err := cbor.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &r, nil
}

// write is a pending state change produced by executing a transaction.
type write struct {
	key   []byte
	value []byte
}
