package types

// Chain identifies a derivation branch of the HD keychain.
type Chain uint32

const (
	// External is the receiving-address branch.
	External Chain = 0

	// Internal is the change-address branch.
	Internal Chain = 1
)

// String returns a human-readable name for the chain.
func (c Chain) String() string {
	switch c {
	case External:
		return "external"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// UnknownAddress is the sentinel owner for inputs whose script/witness shape
// could not be matched to a known spending pattern. Consumers must tolerate it.
const UnknownAddress = "unknown"

// AddressInfo describes one derived address of the keychain.
//
// Entries are created in strictly increasing index order per chain and never
// deleted. Active transitions false->true only, never back.
type AddressInfo struct {
	Chain   Chain    `json:"chain"`
	Index   uint32   `json:"index"`
	Address string   `json:"address"`
	Script  HexBytes `json:"script"`
	Active  bool     `json:"active"`
}
