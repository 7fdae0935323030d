// Package config loads the node's runtime configuration from a TOML file,
// the same two-stage composition cmd/geth uses for its config file plus
// CLI flag overlay.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is everything the core consumes. The GUI and its own config
// surface are out of scope.
type Config struct {
	Port            int      `toml:"port"`
	ChainSecret     string   `toml:"chain_secret"`
	MinerAddress    string   `toml:"miner_address"`
	Peers           []string `toml:"peers"`
	Debug           bool     `toml:"debug"`
	SmartXChain     string   `toml:"smartxchain"`
	SandboxHostPath string   `toml:"sandbox_host_path"`
	ChainFilePath   string   `toml:"chain_file_path"`
	LogFilePath     string   `toml:"log_file_path"`
}

// Default returns a Config with conservative local-development defaults.
func Default() *Config {
	return &Config{
		Port:            30303,
		Peers:           nil,
		Debug:           false,
		SandboxHostPath: "./contract-host",
		ChainFilePath:   "./smartxchain.dat",
	}
}

// Load reads and parses a TOML config file at path, starting from Default
// so a partial file only overrides what it names.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the system assumes hold.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ChainSecret == "" {
		return fmt.Errorf("chain_secret must not be empty")
	}
	if c.SmartXChain == "" {
		return fmt.Errorf("smartxchain id must not be empty")
	}
	return nil
}
