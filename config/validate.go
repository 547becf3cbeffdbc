package config

import (
	"fmt"
	"strings"
)

// MaxGapLimit bounds the lookahead window. Every slot in the window
// costs a server round trip per sync, so an oversized limit is almost
// always an operator mistake.
const MaxGapLimit = 1000

// Validate checks the config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if cfg.Server.KeepAliveSeconds < 0 {
		return fmt.Errorf("server.keepalive must not be negative")
	}

	switch cfg.Wallet.ScriptType {
	case "legacy", "nested-segwit", "native-segwit":
	default:
		return fmt.Errorf("wallet.script_type must be legacy, nested-segwit or native-segwit")
	}
	if cfg.Wallet.GapLimit == 0 || cfg.Wallet.GapLimit > MaxGapLimit {
		return fmt.Errorf("wallet.gap_limit must be in range [1, %d]", MaxGapLimit)
	}
	if cfg.Wallet.FeeRate <= 0 {
		return fmt.Errorf("wallet.fee_rate must be positive")
	}

	return nil
}
