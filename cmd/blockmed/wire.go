package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/blockmed/blockmed/internal/ledger"
	"github.com/blockmed/blockmed/internal/provider"
	"github.com/blockmed/blockmed/internal/rxerr"
	"github.com/blockmed/blockmed/internal/session"
	"github.com/blockmed/blockmed/internal/wallet"
)

func (a *app) keystore() (*wallet.Keystore, error) {
	ks, err := wallet.NewKeystore(a.cfg.KeystoreDir())
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	return ks, nil
}

func (a *app) walletName() (string, error) {
	if a.cfg.Wallet.Name == "" {
		return "", errors.New("no wallet selected (use --wallet or wallet.name)")
	}
	return a.cfg.Wallet.Name, nil
}

func (a *app) approver() provider.Approver {
	if a.opts.yes {
		return provider.AutoApprover{}
	}
	return &terminalApprover{in: a.in, out: a.errOut}
}

// openKeyring unlocks the configured wallet. A missing wallet is reported
// as an absent provider.
func (a *app) openKeyring() (*provider.Keyring, error) {
	ks, err := a.keystore()
	if err != nil {
		return nil, err
	}
	name, err := a.walletName()
	if err != nil {
		return nil, err
	}
	if !ks.Exists(name) {
		return nil, rxerr.Wrap(rxerr.ProviderAbsent, "wallet.open", fmt.Errorf("%w: %q", wallet.ErrWalletNotFound, name))
	}
	password, err := a.password(fmt.Sprintf("Password for wallet %q: ", name), false)
	if err != nil {
		return nil, err
	}
	kr, err := provider.OpenKeyring(ks, name, password, a.approver())
	if err != nil {
		return nil, fmt.Errorf("unlock wallet: %w", err)
	}
	return kr, nil
}

// connect opens a session over the wallet, reusing an existing
// authorization and prompting only when there is none.
func (a *app) connect(ctx context.Context) (*session.Session, error) {
	kr, err := a.openKeyring()
	if err != nil {
		return nil, err
	}
	sess := session.New(kr)
	if err := sess.CheckExistingConnection(ctx); err != nil {
		sess.Close()
		return nil, err
	}
	if _, ok := sess.Account(); !ok {
		if _, err := sess.RequestConnection(ctx); err != nil {
			sess.Close()
			return nil, err
		}
	}
	return sess, nil
}

// dial connects to the ledger endpoint.
func (a *app) dial(ctx context.Context) (*ethclient.Client, error) {
	if a.cfg.Chain.RPCURL == "" {
		return nil, rxerr.New(rxerr.ProviderAbsent, "ledger.dial", fmt.Sprintf("no RPC endpoint configured for %s", a.cfg.Network))
	}
	client, err := ethclient.DialContext(ctx, a.cfg.Chain.RPCURL)
	if err != nil {
		return nil, rxerr.Classify("ledger.dial", err)
	}
	return client, nil
}

// ledgerClient binds the registry. w may be nil for read-only use.
func (a *app) ledgerClient(ctx context.Context, w ledger.Wallet) (*ledger.Client, func(), error) {
	client, err := a.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	lc, err := ledger.New(ledger.Config{
		ContractAddress: a.cfg.Contract.Address,
		ChainID:         a.cfg.ChainID(),
	}, client, w)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return lc, client.Close, nil
}
