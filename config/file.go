package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Keys lists every configuration key understood by the .conf file and the
// BLOCKMED_* environment variables.
var Keys = []string{
	"network", "datadir",
	"chain.id", "chain.name", "chain.rpc", "chain.explorer",
	"contract.address",
	"wallet.name", "wallet.keystore",
	"rpc.enabled", "rpc.addr", "rpc.port", "rpc.allowed", "rpc.cors", "rpc.ratelimit", "rpc.burst",
	"devnet.storage", "devnet.gaslimit",
	"log.level", "log.file", "log.json",
}

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}
		values[strings.TrimSpace(parts[0])] = unquote(strings.TrimSpace(parts[1]))
	}

	return values, scanner.Err()
}

func unquote(value string) string {
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key. Unknown keys are ignored.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	case "network":
		cfg.Network = NetworkType(strings.ToLower(value))
	case "datadir":
		cfg.DataDir = value

	// Chain
	case "chain.id":
		n, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return err
		}
		cfg.Chain.ID = n
	case "chain.name":
		cfg.Chain.Name = value
	case "chain.rpc":
		cfg.Chain.RPCURL = value
	case "chain.explorer":
		cfg.Chain.ExplorerURL = value

	case "contract.address":
		cfg.Contract.Address = value

	// Wallet
	case "wallet.name":
		cfg.Wallet.Name = value
	case "wallet.keystore":
		cfg.Wallet.KeystoreDir = value

	// RPC
	case "rpc.enabled", "rpc":
		cfg.RPC.Enabled = parseBool(value)
	case "rpc.addr":
		cfg.RPC.Addr = value
	case "rpc.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.RPC.Port = port
	case "rpc.allowed":
		cfg.RPC.AllowedIPs = parseStringList(value)
	case "rpc.cors":
		cfg.RPC.CORSOrigins = parseStringList(value)
	case "rpc.ratelimit":
		r, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		cfg.RPC.RateLimit = r
	case "rpc.burst":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.RPC.RateBurst = n

	// Devnet
	case "devnet.storage":
		cfg.Devnet.Storage = strings.ToLower(value)
	case "devnet.gaslimit":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Devnet.BlockGasLimit = n

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	def := Default(network)
	content := `# BlockMed Configuration
#
# Every key can also be set through the environment as BLOCKMED_<KEY>,
# with dots replaced by underscores (e.g. BLOCKMED_CONTRACT_ADDRESS).

# Network: localhost or sepolia
network = ` + string(network) + `

# Data directory (default: ~/.blockmed)
# datadir = ~/.blockmed

# ============================================================================
# Chain
# ============================================================================

chain.id = ` + strconv.FormatUint(def.Chain.ID, 10) + `
chain.name = ` + def.Chain.Name + `
` + commentIfEmpty("chain.rpc", def.Chain.RPCURL, "https://sepolia.infura.io/v3/<project-id>") + `
` + commentIfEmpty("chain.explorer", def.Chain.ExplorerURL, "https://sepolia.etherscan.io") + `

# ============================================================================
# Prescription registry
# ============================================================================

` + commentIfEmpty("contract.address", def.Contract.Address, "0x<deployed registry address>") + `

# ============================================================================
# Wallet
# ============================================================================

wallet.name = ` + def.Wallet.Name + `
# wallet.keystore = ~/.blockmed/` + string(network) + `/keystore

# ============================================================================
# Devnet RPC server (blockmed-devnet)
# ============================================================================

rpc.addr = 127.0.0.1
rpc.port = 8545
rpc.allowed = 127.0.0.1
# CORS allowed origins ("*" for all)
# rpc.cors = http://localhost:3000
rpc.ratelimit = 50
rpc.burst = 100

# Devnet storage: badger or memory
devnet.storage = badger
# devnet.gaslimit = 30000000

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0600)
}

func commentIfEmpty(key, value, example string) string {
	if value == "" {
		return "# " + key + " = " + example
	}
	return key + " = " + value
}
