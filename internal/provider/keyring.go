package provider

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	klog "github.com/blockmed/blockmed/internal/log"
	"github.com/blockmed/blockmed/internal/wallet"
)

// Keyring is a Provider backed by an HD wallet in the encrypted keystore.
// Its authorization grant and selected account are persisted in the wallet
// file, so a later process sees the same connection state.
//
// Notifications are delivered synchronously in emission order. Handlers
// must not call Keyring methods that emit (Select, NewAccount, Lock, Revoke,
// RequestAccounts).
type Keyring struct {
	ks       *wallet.Keystore
	name     string
	approver Approver
	logger   zerolog.Logger

	mu         sync.Mutex
	master     *wallet.HDKey // nil when locked
	accounts   []wallet.AccountEntry
	authorized bool
	selected   common.Address
	seq        uint64
	subs       map[uint64]func(AccountsEvent)
	nextSub    uint64

	emitMu sync.Mutex
}

// OpenKeyring unlocks wallet name with password. A wallet without accounts
// gets its first account derived. A nil approver approves everything.
func OpenKeyring(ks *wallet.Keystore, name string, password []byte, approver Approver) (*Keyring, error) {
	seed, err := ks.Load(name, password)
	if err != nil {
		return nil, err
	}
	master, err := wallet.NewMasterKey(seed)
	for i := range seed {
		seed[i] = 0
	}
	if err != nil {
		return nil, err
	}
	if approver == nil {
		approver = AutoApprover{}
	}

	k := &Keyring{
		ks:       ks,
		name:     name,
		approver: approver,
		logger:   klog.WithComponent("provider").With().Str("wallet", name).Logger(),
		master:   master,
		subs:     make(map[uint64]func(AccountsEvent)),
	}

	accounts, err := ks.ListAccounts(name)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		entry, err := k.deriveEntry(0, "Account 1")
		if err != nil {
			return nil, err
		}
		if err := ks.AddAccount(name, entry); err != nil {
			return nil, err
		}
		accounts = []wallet.AccountEntry{entry}
	}
	k.accounts = accounts

	if k.authorized, err = ks.Authorized(name); err != nil {
		return nil, err
	}
	sel, err := ks.Selected(name)
	if err != nil {
		return nil, err
	}
	if sel != "" {
		k.selected = common.HexToAddress(sel)
	} else {
		k.selected = accounts[0].CommonAddress()
	}
	return k, nil
}

// CreateWallet creates a wallet from mnemonic in ks and derives its first
// account.
func CreateWallet(ks *wallet.Keystore, name, mnemonic string, password []byte, params wallet.EncryptionParams) (common.Address, error) {
	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return common.Address{}, err
	}
	defer func() {
		for i := range seed {
			seed[i] = 0
		}
	}()
	master, err := wallet.NewMasterKey(seed)
	if err != nil {
		return common.Address{}, err
	}
	key, err := master.DeriveAccount(0, 0)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := key.Address()
	if err != nil {
		return common.Address{}, err
	}
	if err := ks.Create(name, seed, password, params); err != nil {
		return common.Address{}, err
	}
	entry := wallet.AccountEntry{Index: 0, Name: "Account 1", Address: addr.Hex()}
	if err := ks.AddAccount(name, entry); err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

func (k *Keyring) deriveEntry(index uint32, name string) (wallet.AccountEntry, error) {
	key, err := k.master.DeriveAccount(0, index)
	if err != nil {
		return wallet.AccountEntry{}, err
	}
	addr, err := key.Address()
	if err != nil {
		return wallet.AccountEntry{}, err
	}
	return wallet.AccountEntry{Index: index, Name: name, Address: addr.Hex()}, nil
}

// visibleLocked returns the accounts exposed to the application, selected
// first. Callers hold k.mu.
func (k *Keyring) visibleLocked() []common.Address {
	if !k.authorized || k.master == nil {
		return []common.Address{}
	}
	out := make([]common.Address, 0, len(k.accounts))
	out = append(out, k.selected)
	for _, a := range k.accounts {
		if addr := a.CommonAddress(); addr != k.selected {
			out = append(out, addr)
		}
	}
	return out
}

// Accounts implements Provider.
func (k *Keyring) Accounts(ctx context.Context) ([]common.Address, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.visibleLocked(), nil
}

// RequestAccounts implements Provider.
func (k *Keyring) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	k.mu.Lock()
	if k.master == nil {
		k.mu.Unlock()
		return nil, ErrUnauthorized
	}
	if k.authorized {
		accts := k.visibleLocked()
		k.mu.Unlock()
		return accts, nil
	}
	candidates := make([]common.Address, 0, len(k.accounts))
	for _, a := range k.accounts {
		candidates = append(candidates, a.CommonAddress())
	}
	k.mu.Unlock()

	ok, err := k.approver.ApproveConnection(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("connection prompt: %w", err)
	}
	if !ok {
		k.logger.Info().Msg("Connection request rejected")
		return nil, ErrUserRejected
	}

	k.mu.Lock()
	if err := k.ks.SetAuthorized(k.name, true); err != nil {
		k.mu.Unlock()
		return nil, err
	}
	k.authorized = true
	accts := k.visibleLocked()
	k.logger.Info().Str("account", k.selected.Hex()).Msg("Connection authorized")
	k.emitLocked()
	return accts, nil
}

// SignTransaction implements Provider.
func (k *Keyring) SignTransaction(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	k.mu.Lock()
	if !k.authorized || k.master == nil {
		k.mu.Unlock()
		return nil, ErrUnauthorized
	}
	var (
		index uint32
		found bool
	)
	for _, a := range k.accounts {
		if a.CommonAddress() == from {
			index, found = a.Index, true
			break
		}
	}
	master := k.master
	k.mu.Unlock()
	if !found {
		return nil, ErrUnauthorized
	}

	ok, err := k.approver.ApproveTransaction(ctx, from, tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("signature prompt: %w", err)
	}
	if !ok {
		k.logger.Info().Str("from", from.Hex()).Msg("Signature request rejected")
		return nil, ErrUserRejected
	}

	hd, err := master.DeriveAccount(0, index)
	if err != nil {
		return nil, err
	}
	priv, err := hd.PrivateKey()
	if err != nil {
		return nil, err
	}
	defer priv.Zero()
	ecKey, err := priv.ToECDSA()
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), ecKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	k.logger.Debug().Str("from", from.Hex()).Str("tx", signed.Hash().Hex()).Msg("Transaction signed")
	return signed, nil
}

// SubscribeAccounts implements Provider.
func (k *Keyring) SubscribeAccounts(fn func(AccountsEvent)) Subscription {
	k.mu.Lock()
	defer k.mu.Unlock()
	id := k.nextSub
	k.nextSub++
	k.subs[id] = fn
	return &keyringSub{k: k, id: id}
}

type keyringSub struct {
	k    *Keyring
	id   uint64
	once sync.Once
}

func (s *keyringSub) Unsubscribe() {
	s.once.Do(func() {
		s.k.mu.Lock()
		delete(s.k.subs, s.id)
		s.k.mu.Unlock()
	})
}

// Select makes addr the first exposed account. addr must be one of the
// keyring's accounts.
func (k *Keyring) Select(addr common.Address) error {
	k.mu.Lock()
	known := false
	for _, a := range k.accounts {
		if a.CommonAddress() == addr {
			known = true
			break
		}
	}
	if !known {
		k.mu.Unlock()
		return fmt.Errorf("account %s not in wallet %q", addr.Hex(), k.name)
	}
	if err := k.ks.SetSelected(k.name, addr.Hex()); err != nil {
		k.mu.Unlock()
		return err
	}
	k.selected = addr
	k.emitLocked()
	return nil
}

// NewAccount derives the next account and selects it.
func (k *Keyring) NewAccount(name string) (common.Address, error) {
	k.mu.Lock()
	if k.master == nil {
		k.mu.Unlock()
		return common.Address{}, fmt.Errorf("wallet is locked")
	}
	index, err := k.ks.NextIndex(k.name)
	if err != nil {
		k.mu.Unlock()
		return common.Address{}, err
	}
	if name == "" {
		name = fmt.Sprintf("Account %d", index+1)
	}
	entry, err := k.deriveEntry(index, name)
	if err != nil {
		k.mu.Unlock()
		return common.Address{}, err
	}
	if err := k.ks.AddAccount(k.name, entry); err != nil {
		k.mu.Unlock()
		return common.Address{}, err
	}
	if err := k.ks.SetSelected(k.name, entry.Address); err != nil {
		k.mu.Unlock()
		return common.Address{}, err
	}
	k.accounts = append(k.accounts, entry)
	k.selected = entry.CommonAddress()
	k.emitLocked()
	return entry.CommonAddress(), nil
}

// ListAccounts returns all accounts in the wallet, authorized or not.
func (k *Keyring) ListAccounts() []wallet.AccountEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]wallet.AccountEntry(nil), k.accounts...)
}

// Lock forgets the master key. Accounts becomes empty until reopened.
func (k *Keyring) Lock() {
	k.mu.Lock()
	k.master = nil
	k.emitLocked()
}

// Revoke withdraws the persisted authorization grant.
func (k *Keyring) Revoke() error {
	k.mu.Lock()
	if err := k.ks.SetAuthorized(k.name, false); err != nil {
		k.mu.Unlock()
		return err
	}
	k.authorized = false
	k.emitLocked()
	return nil
}

// emitLocked snapshots the accounts and subscribers, releases k.mu and
// delivers the event. Acquiring emitMu before releasing k.mu keeps delivery
// in sequence order. Callers hold k.mu; it is released on return.
func (k *Keyring) emitLocked() {
	k.seq++
	ev := AccountsEvent{Seq: k.seq, Accounts: k.visibleLocked()}
	handlers := make([]func(AccountsEvent), 0, len(k.subs))
	for _, fn := range k.subs {
		handlers = append(handlers, fn)
	}
	k.emitMu.Lock()
	k.mu.Unlock()
	defer k.emitMu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
