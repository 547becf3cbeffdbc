package types

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Outpoint references a specific output in a transaction.
type Outpoint struct {
	TxID  chainhash.Hash
	Index uint32
}

// String returns "txid:index" with the txid in display (reversed-hex) order.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Index)
}

// outpointJSON is the JSON representation of an Outpoint.
type outpointJSON struct {
	TxID  string `json:"txid"`
	Index uint32 `json:"index"`
}

// MarshalJSON encodes the outpoint with a reversed-hex txid.
func (o Outpoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(outpointJSON{TxID: o.TxID.String(), Index: o.Index})
}

// UnmarshalJSON decodes an outpoint with a reversed-hex txid.
func (o *Outpoint) UnmarshalJSON(data []byte) error {
	var j outpointJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	h, err := chainhash.NewHashFromStr(j.TxID)
	if err != nil {
		return fmt.Errorf("invalid txid: %w", err)
	}
	o.TxID = *h
	o.Index = j.Index
	return nil
}
