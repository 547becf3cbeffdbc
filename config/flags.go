package config

import (
	"flag"
	"fmt"
	"os"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Core
	Network string
	DataDir string
	Config  string

	// Electrum server
	Server        string
	NoTLS         bool
	TLSSkipVerify bool

	// Wallet
	XPub       string
	ScriptType string
	GapLimit   uint
	FeeRate    int64

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetNoTLS         bool
	SetTLSSkipVerify bool
	SetLogJSON       bool
}

// NewFlagSet returns a flag set preloaded with the common flags, so
// subcommands can add their own flags next to them.
func NewFlagSet(name string) (*flag.FlagSet, *Flags) {
	f := &Flags{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	// Core
	fs.StringVar(&f.Network, "network", "", "Network type (mainnet or testnet)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")

	// Electrum server
	fs.StringVar(&f.Server, "server", "", "Electrum server address (host:port)")
	fs.BoolVar(&f.NoTLS, "notls", false, "Connect without TLS")
	fs.BoolVar(&f.TLSSkipVerify, "tls-skip-verify", false, "Accept self-signed server certificates")

	// Wallet
	fs.StringVar(&f.XPub, "xpub", "", "Account extended public key to watch")
	fs.StringVar(&f.ScriptType, "script-type", "", "Address type: legacy, nested-segwit or native-segwit")
	fs.UintVar(&f.GapLimit, "gap-limit", 0, "Unused-address lookahead window")
	fs.Int64Var(&f.FeeRate, "fee-rate", 0, "Fee rate in satoshis per vbyte")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "JSON log output")

	return fs, f
}

// Finish captures which bool flags were explicitly set and the remaining
// args. Call after fs.Parse.
func (f *Flags) Finish(fs *flag.FlagSet) {
	f.SetNoTLS = isFlagSet(fs, "notls")
	f.SetTLSSkipVerify = isFlagSet(fs, "tls-skip-verify")
	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.Args = fs.Args()
}

// ParseFlags parses command-line flags from args (not including the
// program or subcommand name).
func ParseFlags(args []string) (*Flags, error) {
	fs, f := NewFlagSet("keyguard")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.Finish(fs)
	return f, nil
}

// ApplyFlags applies flags on top of the loaded config.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// Electrum server
	if f.Server != "" {
		cfg.Server.Addr = f.Server
	}
	if f.SetNoTLS {
		cfg.Server.TLS = !f.NoTLS
	}
	if f.SetTLSSkipVerify {
		cfg.Server.TLSSkipVerify = f.TLSSkipVerify
	}

	// Wallet
	if f.XPub != "" {
		cfg.Wallet.XPub = f.XPub
	}
	if f.ScriptType != "" {
		cfg.Wallet.ScriptType = f.ScriptType
	}
	if f.GapLimit != 0 {
		cfg.Wallet.GapLimit = uint32(f.GapLimit)
	}
	if f.FeeRate != 0 {
		cfg.Wallet.FeeRate = f.FeeRate
	}

	// Logging
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
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			found = true
		}
	})
	return found
}

// Build assembles the effective configuration from parsed flags:
//  1. Network defaults
//  2. Auto-created data dirs + default config (idempotent)
//  3. Config file
//  4. The flags themselves (highest precedence)
func Build(flags *Flags) (*Config, error) {
	// Determine network first (needed for defaults)
	network := Mainnet
	if flags.Network == string(Testnet) {
		network = Testnet
	}

	cfg := Default(network)
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load parses args and builds the effective configuration.
func Load(args []string) (*Config, *Flags, error) {
	flags, err := ParseFlags(args)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := Build(flags)
	if err != nil {
		return nil, nil, err
	}
	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default
// config file if they don't already exist. Safe to call on every start.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.ChainDataDir(),
		cfg.WalletDir(),
		cfg.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
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
