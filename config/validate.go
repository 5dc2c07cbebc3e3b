package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var logLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	"disabled": true, "off": true,
}

// Validate checks the configuration for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Localhost && cfg.Network != Sepolia {
		return fmt.Errorf("network must be %q or %q", Localhost, Sepolia)
	}
	if cfg.Chain.ID == 0 {
		return fmt.Errorf("chain.id must be positive")
	}
	if cfg.Contract.Address != "" && !common.IsHexAddress(cfg.Contract.Address) {
		return fmt.Errorf("contract.address %q is not a 20-byte hex address", cfg.Contract.Address)
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	if cfg.RPC.RateLimit < 0 {
		return fmt.Errorf("rpc.ratelimit must not be negative")
	}
	if cfg.RPC.RateLimit > 0 && cfg.RPC.RateBurst < 1 {
		return fmt.Errorf("rpc.burst must be at least 1 when rpc.ratelimit is set")
	}
	switch cfg.Devnet.Storage {
	case StorageBadger, StorageMemory:
	default:
		return fmt.Errorf("devnet.storage must be %q or %q", StorageBadger, StorageMemory)
	}
	if lvl := strings.ToLower(cfg.Log.Level); lvl != "" && !logLevels[lvl] {
		return fmt.Errorf("log.level %q is not a known level", cfg.Log.Level)
	}
	return nil
}
