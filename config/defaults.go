package config

// LocalContractAddress is the registry address on a fresh local devnet.
const LocalContractAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

// DefaultLocalhost returns the configuration for a local devnet.
func DefaultLocalhost() *Config {
	return &Config{
		Network: Localhost,
		DataDir: DefaultDataDir(),
		Chain: ChainConfig{
			ID:     31337,
			Name:   "Hardhat Local",
			RPCURL: "http://127.0.0.1:8545",
		},
		Contract: ContractConfig{
			Address: LocalContractAddress,
		},
		Wallet: WalletConfig{
			Name: "default",
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8545,
			AllowedIPs: []string{"127.0.0.1"},
			RateLimit:  50,
			RateBurst:  100,
		},
		Devnet: DevnetConfig{
			Storage:       StorageBadger,
			BlockGasLimit: 30_000_000,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultSepolia returns the configuration for the Sepolia testnet. The
// RPC endpoint and contract address have no public default and must be
// supplied.
func DefaultSepolia() *Config {
	cfg := DefaultLocalhost()
	cfg.Network = Sepolia
	cfg.Chain = ChainConfig{
		ID:          11155111,
		Name:        "Sepolia Testnet",
		ExplorerURL: "https://sepolia.etherscan.io",
	}
	cfg.Contract.Address = ""
	cfg.RPC.Enabled = false
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Sepolia:
		return DefaultSepolia()
	default:
		return DefaultLocalhost()
	}
}
