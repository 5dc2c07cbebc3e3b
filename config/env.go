package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every configuration environment variable.
const EnvPrefix = "BLOCKMED_"

// EnvKey returns the environment variable for a configuration key:
// "contract.address" becomes BLOCKMED_CONTRACT_ADDRESS.
func EnvKey(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// LoadEnvFile loads a .env file into the process environment. Variables
// already set in the environment keep their values. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// EnvValues collects the BLOCKMED_* variables that are set.
func EnvValues() map[string]string {
	values := make(map[string]string)
	for _, key := range Keys {
		if v, ok := os.LookupEnv(EnvKey(key)); ok {
			values[key] = v
		}
	}
	return values
}

// ApplyEnv applies BLOCKMED_* environment variables to cfg.
func ApplyEnv(cfg *Config) error {
	for key, value := range EnvValues() {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("env %s: %w", EnvKey(key), err)
		}
	}
	return nil
}
