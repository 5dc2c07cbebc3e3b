// Package crypto provides the key and hashing primitives used by BlockMed
// wallets: secp256k1 keys and Ethereum-style Keccak-256 addresses.
package crypto

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Keccak256 computes the legacy Keccak-256 hash used by Ethereum.
func Keccak256(data ...[]byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}
