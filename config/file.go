package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

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

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
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

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value

	// Electrum server
	case "server.addr":
		cfg.Server.Addr = value
	case "server.tls":
		cfg.Server.TLS = parseBool(value)
	case "server.tls_skip_verify":
		cfg.Server.TLSSkipVerify = parseBool(value)
	case "server.keepalive":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Server.KeepAliveSeconds = n

	// Wallet
	case "wallet.xpub":
		cfg.Wallet.XPub = value
	case "wallet.script_type":
		cfg.Wallet.ScriptType = value
	case "wallet.gap_limit":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		cfg.Wallet.GapLimit = uint32(n)
	case "wallet.fee_rate":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Wallet.FeeRate = n

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	defaults := Default(network)
	content := `# Keyguard Wallet Configuration

# Network: mainnet or testnet
network = ` + string(network) + `

# Data directory (default: ~/.keyguard)
# datadir = ~/.keyguard

# ============================================================================
# Electrum Server
# ============================================================================

server.addr = ` + defaults.Server.Addr + `
server.tls = true

# Accept self-signed server certificates (own server only)
# server.tls_skip_verify = false

# Seconds between keep-alive pings
server.keepalive = 30

# ============================================================================
# Wallet
# ============================================================================

# Account-level extended public key to watch
# wallet.xpub = xpub6C...

# Address encoding: legacy, nested-segwit or native-segwit
wallet.script_type = native-segwit

# Unused-address lookahead window
wallet.gap_limit = 20

# Fee rate in satoshis per vbyte
wallet.fee_rate = 2

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
