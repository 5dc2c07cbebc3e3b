package wallet

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tyler-smith/go-bip32"

	"github.com/blockmed/blockmed/pkg/crypto"
)

// BIP-44 path constants. Accounts live at m/44'/60'/account'/0/index,
// the path used by browser wallets.
const (
	PurposeBIP44     = bip32.FirstHardenedChild + 44
	CoinTypeEthereum = bip32.FirstHardenedChild + 60
	ChangeExternal   = 0
)

// HDKey is a BIP-32 extended key.
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DerivePath derives a key along a sequence of indices. Add
// bip32.FirstHardenedChild to an index for hardened derivation.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k.key
	for _, idx := range indices {
		child, err := current.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
		current = child
	}
	return &HDKey{key: current}, nil
}

// DeriveAccount derives the key at m/44'/60'/account'/0/index.
func (k *HDKey) DeriveAccount(account, index uint32) (*HDKey, error) {
	return k.DerivePath(
		PurposeBIP44,
		CoinTypeEthereum,
		bip32.FirstHardenedChild+account,
		ChangeExternal,
		index,
	)
}

// PrivateKey returns the signing key. Fails for public-only keys.
func (k *HDKey) PrivateKey() (*crypto.PrivateKey, error) {
	if !k.key.IsPrivate {
		return nil, fmt.Errorf("cannot create signer from public key")
	}
	// bip32 stores private keys as 33 bytes with a leading 0x00.
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	return crypto.PrivateKeyFromBytes(raw)
}

// PublicKeyBytes returns the compressed 33-byte public key.
func (k *HDKey) PublicKeyBytes() []byte {
	return k.key.PublicKey().Key
}

// Address returns the Ethereum address of this key.
func (k *HDKey) Address() (common.Address, error) {
	return crypto.PubkeyToAddress(k.PublicKeyBytes())
}

// IsPrivate reports whether this key contains a private key.
func (k *HDKey) IsPrivate() bool {
	return k.key.IsPrivate
}

// Neuter returns a public-key-only copy.
func (k *HDKey) Neuter() *HDKey {
	return &HDKey{key: k.key.PublicKey()}
}
