// Package config handles application configuration.
//
// Settings come from, in increasing precedence: per-network defaults, a
// .env file, a key = value .conf file, BLOCKMED_* environment variables and
// command-line flags.
package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NetworkType identifies the ledger network the client talks to.
type NetworkType string

const (
	Localhost NetworkType = "localhost"
	Sepolia   NetworkType = "sepolia"
)

// Storage engines for the devnet ledger.
const (
	StorageBadger = "badger"
	StorageMemory = "memory"
)

// Config holds the client and devnet runtime configuration.
type Config struct {
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	Chain    ChainConfig
	Contract ContractConfig
	Wallet   WalletConfig

	// Devnet JSON-RPC server
	RPC    RPCConfig
	Devnet DevnetConfig

	Log LogConfig
}

// ChainConfig describes the network the ledger lives on.
type ChainConfig struct {
	ID          uint64 `conf:"chain.id"`
	Name        string `conf:"chain.name"`
	RPCURL      string `conf:"chain.rpc"`
	ExplorerURL string `conf:"chain.explorer"` // Empty = no explorer links.
}

// ContractConfig locates the prescription registry.
type ContractConfig struct {
	Address string `conf:"contract.address"`
}

// WalletConfig selects the keystore wallet used as the provider.
type WalletConfig struct {
	Name        string `conf:"wallet.name"`
	KeystoreDir string `conf:"wallet.keystore"` // Empty = <datadir>/<network>/keystore.
}

// RPCConfig holds devnet RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"`      // Allowed CORS origins ("*" = all).
	RateLimit   float64  `conf:"rpc.ratelimit"` // Requests per second per IP, 0 = unlimited.
	RateBurst   int      `conf:"rpc.burst"`
}

// DevnetConfig holds devnet ledger settings.
type DevnetConfig struct {
	Storage       string `conf:"devnet.storage"` // badger or memory
	BlockGasLimit uint64 `conf:"devnet.gaslimit"`
	Reset         bool   // Wipe the ledger on startup (not persisted in config file).
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// ChainID returns the configured chain id.
func (c *Config) ChainID() *big.Int {
	return new(big.Int).SetUint64(c.Chain.ID)
}

// ListenAddr returns the devnet RPC listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.RPC.Addr, c.RPC.Port)
}

// TxURL returns the explorer link for a transaction, or "" when no
// explorer is configured.
func (c *Config) TxURL(hash common.Hash) string {
	if c.Chain.ExplorerURL == "" {
		return ""
	}
	return strings.TrimRight(c.Chain.ExplorerURL, "/") + "/tx/" + hash.Hex()
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.blockmed
//	macOS:   ~/Library/Application Support/BlockMed
//	Windows: %APPDATA%\BlockMed
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".blockmed"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "BlockMed")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "BlockMed")
		}
		return filepath.Join(home, "AppData", "Roaming", "BlockMed")
	default:
		return filepath.Join(home, ".blockmed")
	}
}

// ChainDataDir returns the network-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// KeystoreDir returns the wallet keystore directory.
func (c *Config) KeystoreDir() string {
	if c.Wallet.KeystoreDir != "" {
		return c.Wallet.KeystoreDir
	}
	return filepath.Join(c.ChainDataDir(), "keystore")
}

// DevnetDir returns the devnet ledger database directory.
func (c *Config) DevnetDir() string {
	return filepath.Join(c.ChainDataDir(), "devnet")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "blockmed.conf")
}

// EnvFile returns the default .env path.
func (c *Config) EnvFile() string {
	return filepath.Join(c.DataDir, ".env")
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Safe to call on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.ChainDataDir(),
		cfg.KeystoreDir(),
		cfg.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
