// BlockMed command-line client.
//
// Doctors record prescriptions on the ledger and hand patients a QR code;
// pharmacies scan the code, load the record and mark it verified.
//
// Usage:
//
//	blockmed wallet create                     Create a wallet
//	blockmed connect                           Authorize the wallet
//	blockmed rx add --patient=... --ipfs=...   Record a prescription
//	blockmed rx get <id>                       Load a prescription
//	blockmed rx verify <id>                    Mark a prescription verified
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blockmed/blockmed/config"
	klog "github.com/blockmed/blockmed/internal/log"
	"github.com/blockmed/blockmed/internal/wallet"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configFile string
	envFile    string
	dataDir    string
	network    string
	rpcURL     string
	contract   string
	chainID    uint64
	walletName string
	logLevel   string
	yes        bool
}

// app carries the resolved configuration and the terminal streams.
type app struct {
	opts globalOptions
	cfg  *config.Config

	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer

	// password returns the wallet password. confirm asks twice.
	password func(prompt string, confirm bool) ([]byte, error)
	// params are the Argon2id parameters for new wallets.
	params wallet.EncryptionParams
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	a := &app{
		in:     bufio.NewReader(in),
		out:    out,
		errOut: errOut,
		params: wallet.DefaultParams(),
	}
	a.password = a.promptPassword
	return a
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		printError(a.errOut, err, a.cfg)
		stop()
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blockmed",
		Short: "BlockMed prescription ledger client",
		Long: `blockmed records medical prescriptions on an Ethereum ledger and
verifies them at the pharmacy.

A doctor connects a wallet, adds a prescription and hands the patient the
printed QR code. A pharmacy decodes the QR code, loads the prescription and
marks it verified once dispensed.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.loadConfig,
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.opts.configFile, "config", "c", "", "Config file (default <datadir>/blockmed.conf)")
	pf.StringVar(&a.opts.envFile, "env", "", "Environment file (default ./.env)")
	pf.StringVar(&a.opts.dataDir, "datadir", "", "Data directory (default ~/.blockmed)")
	pf.StringVar(&a.opts.network, "network", "", "Network: localhost or sepolia")
	pf.StringVar(&a.opts.rpcURL, "rpc", "", "Ledger JSON-RPC endpoint")
	pf.StringVar(&a.opts.contract, "contract", "", "Prescription registry address")
	pf.Uint64Var(&a.opts.chainID, "chain-id", 0, "Chain ID override")
	pf.StringVar(&a.opts.walletName, "wallet", "", "Wallet name")
	pf.StringVar(&a.opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	pf.BoolVarP(&a.opts.yes, "yes", "y", false, "Approve wallet prompts without asking")

	root.AddCommand(
		a.walletCmd(),
		a.connectCmd(),
		a.statusCmd(),
		a.rxCmd(),
		a.qrCmd(),
	)
	return root
}

// loadConfig resolves the configuration with the following precedence:
// 1. Default values for the network
// 2. .env file
// 3. Config file
// 4. BLOCKMED_* environment variables
// 5. Command-line flags
func (a *app) loadConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Resolve(config.Options{
		Network:    a.opts.network,
		DataDir:    a.opts.dataDir,
		ConfigFile: a.opts.configFile,
		EnvFile:    a.opts.envFile,
		CreateDirs: true,
	})
	if err != nil {
		return err
	}

	if a.opts.rpcURL != "" {
		cfg.Chain.RPCURL = a.opts.rpcURL
	}
	if a.opts.contract != "" {
		cfg.Contract.Address = a.opts.contract
	}
	if a.opts.chainID != 0 {
		cfg.Chain.ID = a.opts.chainID
	}
	if a.opts.walletName != "" {
		cfg.Wallet.Name = a.opts.walletName
	}
	// The CLI keeps the console quiet unless asked; log.level in the config
	// file governs the devnet daemon.
	cfg.Log.Level = a.opts.logLevel

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	a.cfg = cfg
	return nil
}
