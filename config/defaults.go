package config

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Server: ServerConfig{
			Addr:             "electrum.blockstream.info:50002",
			TLS:              true,
			KeepAliveSeconds: 30,
		},
		Wallet: WalletConfig{
			ScriptType: "native-segwit",
			GapLimit:   20,
			FeeRate:    2,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Server.Addr = "electrum.blockstream.info:60002"
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
