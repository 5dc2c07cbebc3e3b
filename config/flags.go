package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// Flags holds parsed blockmed-devnet command-line flags.
type Flags struct {
	Help    bool
	Version bool

	// Core
	Network string
	DataDir string
	Config  string
	EnvFile string
	ChainID uint64

	// RPC
	RPCAddr      string
	RPCPort      int
	RPCAllowed   string
	RPCCORS      string
	RPCRateLimit float64

	// Devnet
	Storage string
	Reset   bool

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	Args []string

	// Explicitly-set flags (for zero-value overrides).
	SetLogJSON   bool
	SetRateLimit bool
}

// ParseFlags parses blockmed-devnet command-line flags.
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("blockmed-devnet", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	fs.StringVar(&f.Network, "network", "", "Network type (localhost or sepolia)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")
	fs.StringVar(&f.EnvFile, "env", "", ".env file path")
	fs.Uint64Var(&f.ChainID, "chain-id", 0, "Chain id")

	fs.StringVar(&f.RPCAddr, "rpc-addr", "", "RPC listen address")
	fs.IntVar(&f.RPCPort, "rpc-port", 0, "RPC listen port")
	fs.StringVar(&f.RPCAllowed, "rpc-allowed", "", "Allowed IPs for RPC")
	fs.StringVar(&f.RPCCORS, "rpc-cors", "", "Allowed CORS origins for RPC (comma-separated)")
	fs.Float64Var(&f.RPCRateLimit, "rpc-ratelimit", 0, "Requests per second per IP (0 = unlimited)")

	fs.StringVar(&f.Storage, "storage", "", "Ledger storage engine (badger or memory)")
	fs.BoolVar(&f.Reset, "reset", false, "Wipe the devnet ledger before starting")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			f.Help = true
			return f, nil
		}
		return nil, err
	}

	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.SetRateLimit = isFlagSet(fs, "rpc-ratelimit")
	f.Args = fs.Args()

	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}
	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.Network != "" {
		cfg.Network = NetworkType(strings.ToLower(f.Network))
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.ChainID != 0 {
		cfg.Chain.ID = f.ChainID
	}

	if f.RPCAddr != "" {
		cfg.RPC.Addr = f.RPCAddr
	}
	if f.RPCPort != 0 {
		cfg.RPC.Port = f.RPCPort
	}
	if f.RPCAllowed != "" {
		cfg.RPC.AllowedIPs = parseStringList(f.RPCAllowed)
	}
	if f.RPCCORS != "" {
		cfg.RPC.CORSOrigins = parseStringList(f.RPCCORS)
	}
	if f.SetRateLimit {
		cfg.RPC.RateLimit = f.RPCRateLimit
	}

	if f.Storage != "" {
		cfg.Devnet.Storage = strings.ToLower(f.Storage)
	}
	if f.Reset {
		cfg.Devnet.Reset = true
	}

	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// PrintUsage writes the blockmed-devnet help text.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, `BlockMed devnet - local prescription ledger with an Ethereum JSON-RPC API

Usage:
  blockmed-devnet [options]

Core Options:
  --network       Network type: localhost (default) or sepolia
  --datadir       Data directory (default: ~/.blockmed)
  --config, -c    Config file path (default: <datadir>/blockmed.conf)
  --env           .env file path (default: ./.env)
  --chain-id      Chain id (default: 31337)

RPC Options:
  --rpc-addr       RPC listen address (default: 127.0.0.1)
  --rpc-port       RPC port (default: 8545)
  --rpc-allowed    Allowed IPs for RPC (comma-separated)
  --rpc-cors       Allowed CORS origins for RPC (comma-separated)
  --rpc-ratelimit  Requests per second per IP (0 = unlimited)

Devnet Options:
  --storage       Ledger storage: badger (default) or memory
  --reset         Wipe the devnet ledger before starting

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path (default: stdout)
  --log-json      Output logs as JSON

Examples:
  # Start a persistent devnet on 127.0.0.1:8545
  blockmed-devnet

  # Throwaway in-memory devnet on another port
  blockmed-devnet --storage=memory --rpc-port=9545
`)
}

// Options selects where configuration is read from.
type Options struct {
	Network    string
	DataDir    string
	ConfigFile string // Empty = <datadir>/blockmed.conf.
	EnvFile    string // Empty = ./.env.
	CreateDirs bool
}

// Resolve builds a Config from defaults, the .env file, the .conf file and
// BLOCKMED_* environment variables. Flags are applied by the caller.
func Resolve(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := LoadEnvFile(envFile); err != nil {
		return nil, err
	}

	network := opts.Network
	if network == "" {
		network = os.Getenv(EnvKey("network"))
	}
	if network == "" {
		network = string(Localhost)
	}
	cfg := Default(NetworkType(strings.ToLower(network)))

	switch {
	case opts.DataDir != "":
		cfg.DataDir = opts.DataDir
	case os.Getenv(EnvKey("datadir")) != "":
		cfg.DataDir = os.Getenv(EnvKey("datadir"))
	}

	if opts.CreateDirs {
		if err := EnsureDataDirs(cfg); err != nil {
			return nil, fmt.Errorf("ensuring data dirs: %w", err)
		}
	}

	configPath := opts.ConfigFile
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	// The network and data dir were chosen above; the file may not move them.
	delete(fileValues, "network")
	delete(fileValues, "datadir")
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Network = NetworkType(strings.ToLower(network))
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	return cfg, nil
}

// Load builds the blockmed-devnet configuration from the given arguments
// with the following precedence:
// 1. Default values for the network
// 2. .env file
// 3. Config file
// 4. BLOCKMED_* environment variables
// 5. Command-line flags
func Load(args []string) (*Config, *Flags, error) {
	flags, err := ParseFlags(args)
	if err != nil {
		return nil, nil, err
	}
	if flags.Help || flags.Version {
		return nil, flags, nil
	}

	cfg, err := Resolve(Options{
		Network:    flags.Network,
		DataDir:    flags.DataDir,
		ConfigFile: flags.Config,
		EnvFile:    flags.EnvFile,
		CreateDirs: true,
	})
	if err != nil {
		return nil, nil, err
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, flags, nil
}
