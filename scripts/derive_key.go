// derive_key.go prints the Ethereum address behind a secret file, e.g. to
// find which devnet account a key or wallet backup belongs to.
//
// The file holds either a hex private key (with or without 0x) or a BIP-39
// mnemonic. For a mnemonic the account at m/44'/60'/0'/0/<index> is shown.
//
// Usage: go run scripts/derive_key.go <file> [index]
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blockmed/blockmed/internal/wallet"
	"github.com/blockmed/blockmed/pkg/crypto"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: derive_key <file> [index]")
		os.Exit(1)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fatal(err)
	}
	secret := strings.TrimSpace(string(data))

	var index uint32
	if len(os.Args) > 2 {
		n, err := strconv.ParseUint(os.Args[2], 10, 32)
		if err != nil {
			fatal(fmt.Errorf("bad index %q", os.Args[2]))
		}
		index = uint32(n)
	}

	var key *crypto.PrivateKey
	if strings.Contains(secret, " ") {
		key, err = fromMnemonic(secret, index)
	} else {
		key, err = fromHex(secret)
	}
	if err != nil {
		fatal(err)
	}
	defer key.Zero()

	fmt.Printf("pubkey=%s\n", hex.EncodeToString(key.PublicKey()))
	fmt.Printf("address=%s\n", key.Address().Hex())
}

func fromHex(s string) (*crypto.PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, err
	}
	return crypto.PrivateKeyFromBytes(b)
}

func fromMnemonic(mnemonic string, index uint32) (*crypto.PrivateKey, error) {
	if !wallet.ValidateMnemonic(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, err
	}
	master, err := wallet.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	hd, err := master.DeriveAccount(0, index)
	if err != nil {
		return nil, err
	}
	fmt.Printf("path=m/44'/60'/0'/0/%d\n", index)
	return hd.PrivateKey()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
