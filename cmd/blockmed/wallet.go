package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/blockmed/blockmed/internal/provider"
	"github.com/blockmed/blockmed/internal/wallet"
)

func (a *app) walletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the local HD wallet that signs ledger transactions",
	}
	cmd.AddCommand(
		a.walletCreateCmd(),
		a.walletImportCmd(),
		a.walletListCmd(),
		a.walletAccountsCmd(),
		a.walletNewAccountCmd(),
		a.walletUseCmd(),
		a.walletRevokeCmd(),
	)
	return cmd
}

func (a *app) walletCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a wallet from a fresh 24-word mnemonic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := a.walletName()
			if err != nil {
				return err
			}
			mnemonic, err := wallet.GenerateMnemonic()
			if err != nil {
				return fmt.Errorf("generate mnemonic: %w", err)
			}

			fmt.Fprintln(a.out, "Mnemonic (write this down!):")
			fmt.Fprintf(a.out, "  %s\n\n", mnemonic)

			return a.storeWallet(name, mnemonic, "Wallet created")
		},
	}
}

func (a *app) walletImportCmd() *cobra.Command {
	var mnemonic string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a wallet from a BIP-39 mnemonic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := a.walletName()
			if err != nil {
				return err
			}
			if mnemonic == "" {
				return errors.New("--mnemonic is required")
			}
			if !wallet.ValidateMnemonic(mnemonic) {
				return errors.New("invalid mnemonic")
			}
			return a.storeWallet(name, wallet.NormalizeMnemonic(mnemonic), "Wallet imported")
		},
	}
	cmd.Flags().StringVar(&mnemonic, "mnemonic", "", "BIP-39 mnemonic (\"word1 word2 ...\")")
	return cmd
}

func (a *app) storeWallet(name, mnemonic, done string) error {
	ks, err := a.keystore()
	if err != nil {
		return err
	}
	if ks.Exists(name) {
		return fmt.Errorf("wallet %q already exists", name)
	}
	password, err := a.password("Enter password: ", true)
	if err != nil {
		return err
	}
	addr, err := provider.CreateWallet(ks, name, mnemonic, password, a.params)
	if err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}
	fmt.Fprintf(a.out, "%s: %s\n", done, name)
	fmt.Fprintf(a.out, "Address: %s\n", addr.Hex())
	return nil
}

func (a *app) walletListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List wallets in the keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := a.keystore()
			if err != nil {
				return err
			}
			names, err := ks.List()
			if err != nil {
				return fmt.Errorf("list wallets: %w", err)
			}
			if len(names) == 0 {
				fmt.Fprintln(a.out, "No wallets found.")
				return nil
			}
			for _, name := range names {
				marker := " "
				if name == a.cfg.Wallet.Name {
					marker = "*"
				}
				fmt.Fprintf(a.out, "%s %s\n", marker, name)
			}
			return nil
		},
	}
}

func (a *app) walletAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the wallet's accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := a.keystore()
			if err != nil {
				return err
			}
			name, err := a.walletName()
			if err != nil {
				return err
			}
			accounts, err := ks.ListAccounts(name)
			if err != nil {
				return fmt.Errorf("list accounts: %w", err)
			}
			selected, err := ks.Selected(name)
			if err != nil {
				return err
			}
			if selected == "" && len(accounts) > 0 {
				selected = accounts[0].Address
			}
			for _, acct := range accounts {
				line := fmt.Sprintf("  [%d] %s  %s", acct.Index, acct.Address, acct.Name)
				if strings.EqualFold(acct.Address, selected) {
					line += " (selected)"
				}
				fmt.Fprintln(a.out, line)
			}
			return nil
		},
	}
}

func (a *app) walletNewAccountCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "new-account",
		Short: "Derive the next account and select it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kr, err := a.openKeyring()
			if err != nil {
				return err
			}
			defer kr.Lock()
			addr, err := kr.NewAccount(label)
			if err != nil {
				return fmt.Errorf("new account: %w", err)
			}
			fmt.Fprintf(a.out, "Address: %s\n", addr.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Account label (default \"Account N\")")
	return cmd
}

func (a *app) walletUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <address|index>",
		Short: "Select the account exposed to BlockMed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kr, err := a.openKeyring()
			if err != nil {
				return err
			}
			defer kr.Lock()
			addr, err := matchAccount(kr.ListAccounts(), args[0])
			if err != nil {
				return err
			}
			if err := kr.Select(addr); err != nil {
				return fmt.Errorf("select account: %w", err)
			}
			fmt.Fprintf(a.out, "Selected: %s\n", addr.Hex())
			return nil
		},
	}
}

// matchAccount finds the wallet account named by an address or an index.
func matchAccount(accounts []wallet.AccountEntry, ref string) (common.Address, error) {
	if common.IsHexAddress(ref) {
		want := common.HexToAddress(ref)
		for _, acct := range accounts {
			if acct.CommonAddress() == want {
				return want, nil
			}
		}
		return common.Address{}, fmt.Errorf("address %s is not in this wallet", want.Hex())
	}
	index, err := strconv.ParseUint(ref, 10, 32)
	if err != nil {
		return common.Address{}, fmt.Errorf("%q is neither an address nor an account index", ref)
	}
	for _, acct := range accounts {
		if uint64(acct.Index) == index {
			return acct.CommonAddress(), nil
		}
	}
	return common.Address{}, fmt.Errorf("no account with index %d", index)
}

func (a *app) walletRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke",
		Short: "Withdraw BlockMed's authorization to use the wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kr, err := a.openKeyring()
			if err != nil {
				return err
			}
			defer kr.Lock()
			if err := kr.Revoke(); err != nil {
				return fmt.Errorf("revoke: %w", err)
			}
			fmt.Fprintln(a.out, "Authorization revoked.")
			return nil
		},
	}
}
