// Package types defines the wallet-level data model: addresses, transaction
// records, outpoints and derived unspent outputs.
package types

import (
	"encoding/hex"
	"encoding/json"
)

// HexBytes is a byte slice that marshals to/from a hex string in JSON.
type HexBytes []byte

// MarshalJSON encodes the bytes as a hex string.
func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

// UnmarshalJSON decodes a hex string into bytes.
func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = nil
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*h = b
	return nil
}

// String returns the hex encoding.
func (h HexBytes) String() string {
	return hex.EncodeToString(h)
}
