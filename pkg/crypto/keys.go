package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PrivateKey wraps a secp256k1 private key.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a new random secp256k1 private key.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes creates a PrivateKey from a 32-byte secret.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	return &PrivateKey{key: secp256k1.PrivKeyFromBytes(b)}, nil
}

// PublicKey returns the compressed 33-byte public key.
func (pk *PrivateKey) PublicKey() []byte {
	return pk.key.PubKey().SerializeCompressed()
}

// Address returns the Ethereum address controlled by this key.
func (pk *PrivateKey) Address() common.Address {
	addr, _ := PubkeyToAddress(pk.PublicKey())
	return addr
}

// Serialize returns the 32-byte private key scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}

// ToECDSA converts the key for use with go-ethereum transaction signers.
func (pk *PrivateKey) ToECDSA() (*ecdsa.PrivateKey, error) {
	raw := pk.key.Serialize()
	defer zeroBytes(raw)
	key, err := gethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("convert key: %w", err)
	}
	return key, nil
}

// Zero securely zeroes the private key memory.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// PubkeyToAddress derives an Ethereum address from a compressed or
// uncompressed secp256k1 public key: the last 20 bytes of the Keccak-256
// hash of the uncompressed X||Y coordinates.
func PubkeyToAddress(pub []byte) (common.Address, error) {
	key, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return common.Address{}, fmt.Errorf("parse public key: %w", err)
	}
	h := Keccak256(key.SerializeUncompressed()[1:])
	return common.BytesToAddress(h[12:]), nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
