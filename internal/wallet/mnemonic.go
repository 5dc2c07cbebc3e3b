// Package wallet implements the HD key material behind the BlockMed
// keyring: BIP-39 mnemonics, BIP-32/44 Ethereum key derivation and an
// encrypted on-disk keystore.
package wallet

import (
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// MnemonicEntropyBits is the entropy size for 24-word mnemonics.
const MnemonicEntropyBits = 256

// SeedSize is the length of a derived seed in bytes (512 bits).
const SeedSize = 64

// GenerateMnemonic creates a new 24-word BIP-39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// NormalizeMnemonic collapses whitespace and lowercases a user-typed phrase.
func NormalizeMnemonic(mnemonic string) string {
	return strings.ToLower(strings.Join(strings.Fields(mnemonic), " "))
}

// ValidateMnemonic checks word count, word list membership and checksum.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(NormalizeMnemonic(mnemonic))
}

// SeedFromMnemonic derives the BIP-39 seed (PBKDF2-SHA512) from a mnemonic
// and optional passphrase.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	mnemonic = NormalizeMnemonic(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}
	return seed, nil
}
