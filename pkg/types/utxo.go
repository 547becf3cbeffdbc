package types

// UTXO is an unspent output owned by the wallet.
//
// The UTXO set is always derived from the current transaction records and
// known addresses; it is recomputed, never mutated in place.
type UTXO struct {
	Outpoint Outpoint `json:"outpoint"`
	Value    int64    `json:"value"`
	Address  string   `json:"address"`
	Script   HexBytes `json:"script"`
	Height   int64    `json:"height,omitempty"` // 0 means unconfirmed
}

// Balance holds confirmed and unconfirmed totals in the smallest unit.
type Balance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
}

// Total returns confirmed plus unconfirmed.
func (b Balance) Total() int64 {
	return b.Confirmed + b.Unconfirmed
}
