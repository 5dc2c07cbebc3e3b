package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/blockmed/blockmed/internal/rpcclient"
	"github.com/blockmed/blockmed/internal/rxerr"
)

func (a *app) connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Authorize BlockMed to use the wallet's selected account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()

			addr, _ := sess.Account()
			fmt.Fprintf(a.out, "Connected: %s\n", shortAddress(addr))
			fmt.Fprintf(a.out, "Account:   %s\n", addr.Hex())
			fmt.Fprintf(a.out, "Network:   %s (chain %d)\n", a.cfg.Chain.Name, a.cfg.Chain.ID)
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show network, ledger and wallet status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(a.out, "Network:  %s (%s, chain %d)\n", a.cfg.Chain.Name, a.cfg.Network, a.cfg.Chain.ID)
			contract := a.cfg.Contract.Address
			if contract == "" {
				contract = "(not configured)"
			}
			fmt.Fprintf(a.out, "Contract: %s\n", contract)
			if a.cfg.Chain.ExplorerURL != "" {
				fmt.Fprintf(a.out, "Explorer: %s\n", a.cfg.Chain.ExplorerURL)
			}

			a.printLedgerStatus(cmd.Context())
			a.printWalletStatus()
			return nil
		},
	}
}

func (a *app) printLedgerStatus(ctx context.Context) {
	if a.cfg.Chain.RPCURL == "" {
		fmt.Fprintln(a.out, "Ledger:   no RPC endpoint configured")
		return
	}

	rc := rpcclient.New(a.cfg.Chain.RPCURL)
	ver, err := rc.ClientVersion(ctx)
	if err != nil {
		fmt.Fprintf(a.out, "Ledger:   %s (unreachable: %v)\n", a.cfg.Chain.RPCURL, rxerr.Classify("status", err))
		return
	}
	fmt.Fprintf(a.out, "Ledger:   %s (%s)\n", a.cfg.Chain.RPCURL, ver)

	if strings.HasPrefix(ver, "blockmed-devnet") {
		st, err := rc.Status(ctx)
		if err == nil {
			if st.ChainID != a.cfg.Chain.ID {
				fmt.Fprintf(a.errOut, "Warning: ledger reports chain %d, configured chain is %d\n", st.ChainID, a.cfg.Chain.ID)
			}
			fmt.Fprintf(a.out, "Height:   %d\n", st.Height)
			fmt.Fprintf(a.out, "Head:     %s\n", st.HeadHash.Hex())
		}
	} else if client, err := a.dial(ctx); err == nil {
		if height, err := client.BlockNumber(ctx); err == nil {
			fmt.Fprintf(a.out, "Height:   %d\n", height)
		}
		client.Close()
	}

	lc, closeFn, err := a.ledgerClient(ctx, nil)
	if err != nil {
		fmt.Fprintf(a.out, "Records:  unavailable (%v)\n", err)
		return
	}
	defer closeFn()
	n, err := lc.RecordCount(ctx)
	if err != nil {
		fmt.Fprintf(a.out, "Records:  unavailable (%v)\n", err)
		return
	}
	fmt.Fprintf(a.out, "Records:  %d\n", n)
}

// printWalletStatus reports the persisted authorization without unlocking
// the wallet.
func (a *app) printWalletStatus() {
	name := a.cfg.Wallet.Name
	ks, err := a.keystore()
	if err != nil || name == "" || !ks.Exists(name) {
		fmt.Fprintln(a.out, "Wallet:   not installed (run 'blockmed wallet create')")
		return
	}
	authorized, err := ks.Authorized(name)
	if err != nil {
		fmt.Fprintf(a.out, "Wallet:   %s (%v)\n", name, err)
		return
	}
	if !authorized {
		fmt.Fprintf(a.out, "Wallet:   %s (not connected)\n", name)
		return
	}
	selected, _ := ks.Selected(name)
	if selected == "" {
		if accounts, err := ks.ListAccounts(name); err == nil && len(accounts) > 0 {
			selected = accounts[0].Address
		}
	}
	fmt.Fprintf(a.out, "Wallet:   %s (connected as %s)\n", name, shortAddress(common.HexToAddress(selected)))
}
