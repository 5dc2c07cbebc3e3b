package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const keystoreVersion = 1

// ErrWalletNotFound is returned for operations on a wallet that does not exist.
var ErrWalletNotFound = errors.New("wallet not found")

var validName = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// keystoreFile is the on-disk JSON format of an encrypted wallet.
type keystoreFile struct {
	Version       int            `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	EncryptedSeed []byte         `json:"encrypted_seed"`
	Accounts      []AccountEntry `json:"accounts"`
	NextIndex     uint32         `json:"next_index"`

	// Connection state persisted on behalf of the provider: whether the
	// user has authorized the application, and which account it sees first.
	Authorized bool   `json:"authorized"`
	Selected   string `json:"selected,omitempty"`
}

// AccountEntry is the public metadata of a derived account.
type AccountEntry struct {
	Index   uint32 `json:"index"`
	Name    string `json:"name"`
	Address string `json:"address"` // 0x-prefixed checksummed hex
}

// CommonAddress parses the stored address.
func (a AccountEntry) CommonAddress() common.Address {
	return common.HexToAddress(a.Address)
}

// Keystore manages wallet files in a directory. It is safe for concurrent use
// within one process.
type Keystore struct {
	path string
	mu   sync.Mutex
}

// NewKeystore opens (creating if needed) a keystore directory.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path}, nil
}

// Dir returns the keystore directory.
func (ks *Keystore) Dir() string { return ks.path }

func (ks *Keystore) walletPath(name string) string {
	return filepath.Join(ks.path, name+".wallet")
}

// Exists reports whether a wallet file with this name exists.
func (ks *Keystore) Exists(name string) bool {
	_, err := os.Stat(ks.walletPath(name))
	return err == nil
}

// Create writes a new wallet holding seed encrypted under password.
func (ks *Keystore) Create(name string, seed, password []byte, params EncryptionParams) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid wallet name %q", name)
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()

	path := ks.walletPath(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("wallet %q already exists", name)
	}
	encrypted, err := Encrypt(seed, password, params)
	if err != nil {
		return fmt.Errorf("encrypt seed: %w", err)
	}
	return ks.writeFile(path, &keystoreFile{
		Version:       keystoreVersion,
		CreatedAt:     time.Now().UTC(),
		EncryptedSeed: encrypted,
		Accounts:      []AccountEntry{},
	})
}

// Load decrypts a wallet and returns its seed.
func (ks *Keystore) Load(name string, password []byte) ([]byte, error) {
	kf, err := ks.read(name)
	if err != nil {
		return nil, err
	}
	seed, err := Decrypt(kf.EncryptedSeed, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt wallet: %w", err)
	}
	return seed, nil
}

// AddAccount records a derived account. Re-adding the same index and
// address is a no-op. The next free index advances past acct.Index.
func (ks *Keystore) AddAccount(name string, acct AccountEntry) error {
	return ks.update(name, func(kf *keystoreFile) error {
		for _, existing := range kf.Accounts {
			if existing.Index == acct.Index {
				if existing.Address == acct.Address {
					return nil
				}
				return fmt.Errorf("account index %d already exists", acct.Index)
			}
			if existing.Address == acct.Address {
				return nil
			}
		}
		kf.Accounts = append(kf.Accounts, acct)
		if acct.Index >= kf.NextIndex {
			kf.NextIndex = acct.Index + 1
		}
		return nil
	})
}

// ListAccounts returns the account entries of a wallet in creation order.
func (ks *Keystore) ListAccounts(name string) ([]AccountEntry, error) {
	kf, err := ks.read(name)
	if err != nil {
		return nil, err
	}
	return kf.Accounts, nil
}

// NextIndex returns the next unused derivation index.
func (ks *Keystore) NextIndex(name string) (uint32, error) {
	kf, err := ks.read(name)
	if err != nil {
		return 0, err
	}
	return kf.NextIndex, nil
}

// Authorized reports whether the wallet has granted account access.
func (ks *Keystore) Authorized(name string) (bool, error) {
	kf, err := ks.read(name)
	if err != nil {
		return false, err
	}
	return kf.Authorized, nil
}

// SetAuthorized persists the account-access grant.
func (ks *Keystore) SetAuthorized(name string, authorized bool) error {
	return ks.update(name, func(kf *keystoreFile) error {
		kf.Authorized = authorized
		return nil
	})
}

// Selected returns the selected account address, or "" if none is set.
func (ks *Keystore) Selected(name string) (string, error) {
	kf, err := ks.read(name)
	if err != nil {
		return "", err
	}
	return kf.Selected, nil
}

// SetSelected persists the selected account. The address must belong to a
// known account.
func (ks *Keystore) SetSelected(name, address string) error {
	return ks.update(name, func(kf *keystoreFile) error {
		for _, a := range kf.Accounts {
			if common.HexToAddress(a.Address) == common.HexToAddress(address) {
				kf.Selected = a.Address
				return nil
			}
		}
		return fmt.Errorf("account %s not in wallet", address)
	})
}

// List returns the names of all wallets in the keystore.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".wallet" {
			names = append(names, e.Name()[:len(e.Name())-len(ext)])
		}
	}
	return names, nil
}

// Delete removes a wallet file.
func (ks *Keystore) Delete(name string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	path := ks.walletPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %q", ErrWalletNotFound, name)
	}
	return os.Remove(path)
}

func (ks *Keystore) read(name string) (*keystoreFile, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.readFile(ks.walletPath(name))
}

func (ks *Keystore) update(name string, fn func(*keystoreFile) error) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	path := ks.walletPath(name)
	kf, err := ks.readFile(path)
	if err != nil {
		return err
	}
	if err := fn(kf); err != nil {
		return err
	}
	return ks.writeFile(path, kf)
}

// writeFile replaces the wallet atomically via a temp file and rename.
func (ks *Keystore) writeFile(path string, kf *keystoreFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wallet: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write wallet: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write wallet: %w", err)
	}
	return nil
}

func (ks *Keystore) readFile(path string) (*keystoreFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("read wallet: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse wallet: %w", err)
	}
	if kf.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported wallet version: %d", kf.Version)
	}
	return &kf, nil
}
