// Package config handles application configuration: defaults per
// network, a key = value config file and command-line flags, applied in
// that order.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/btcsuite/btcd/chaincfg"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Config holds runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Electrum server connection
	Server ServerConfig

	// Wallet
	Wallet WalletConfig

	// Logging
	Log LogConfig
}

// ServerConfig holds the Electrum server connection settings.
type ServerConfig struct {
	Addr             string `conf:"server.addr"`
	TLS              bool   `conf:"server.tls"`
	TLSSkipVerify    bool   `conf:"server.tls_skip_verify"`
	KeepAliveSeconds int    `conf:"server.keepalive"`
}

// WalletConfig holds the watch-only wallet settings.
type WalletConfig struct {
	XPub       string `conf:"wallet.xpub"`
	ScriptType string `conf:"wallet.script_type"`
	GapLimit   uint32 `conf:"wallet.gap_limit"`
	FeeRate    int64  `conf:"wallet.fee_rate"` // satoshis per vbyte
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// ChainParams returns the btcd chain parameters for the configured
// network.
func (c *Config) ChainParams() *chaincfg.Params {
	if c.Network == Testnet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.keyguard
//	macOS:   ~/Library/Application Support/Keyguard
//	Windows: %APPDATA%\Keyguard
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".keyguard"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Keyguard")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Keyguard")
		}
		return filepath.Join(home, "AppData", "Roaming", "Keyguard")
	default:
		return filepath.Join(home, ".keyguard")
	}
}

// ChainDataDir returns the network-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// WalletDir returns the wallet database directory.
func (c *Config) WalletDir() string {
	return filepath.Join(c.ChainDataDir(), "wallet")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "keyguard.conf")
}
