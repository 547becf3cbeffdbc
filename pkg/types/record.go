package types

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Input references a previous output being spent.
type Input struct {
	PrevOut Outpoint
	Address string // best-effort recovered owner, UnknownAddress if unrecognized
	Script  HexBytes
	Witness []HexBytes
}

// Output is a newly created output.
type Output struct {
	Value   int64 // smallest unit
	Address string
	Script  HexBytes
	Index   uint32 // position within the transaction
}

// TransactionRecord is a decoded transaction plus optional confirmation
// metadata. The confirmation fields (Height, BlockTime, BlockHash) are zero
// while the transaction is unconfirmed and may be attached later without
// changing identity.
type TransactionRecord struct {
	TxID      chainhash.Hash
	Version   int32
	Inputs    []Input
	Outputs   []Output
	Fee       int64 // 0 when unknown
	VSize     int64
	Height    int64 // 0 or negative means unconfirmed
	BlockTime int64
	BlockHash *chainhash.Hash
}

// Confirmed reports whether the record carries confirmation metadata.
func (r *TransactionRecord) Confirmed() bool {
	return r.Height > 0
}

type inputJSON struct {
	PrevOut Outpoint   `json:"prevout"`
	Address string     `json:"address"`
	Script  HexBytes   `json:"script"`
	Witness []HexBytes `json:"witness,omitempty"`
}

type outputJSON struct {
	Value   int64    `json:"value"`
	Address string   `json:"address"`
	Script  HexBytes `json:"script"`
	Index   uint32   `json:"index"`
}

type recordJSON struct {
	TxID      string       `json:"txid"`
	Version   int32        `json:"version"`
	Inputs    []inputJSON  `json:"inputs"`
	Outputs   []outputJSON `json:"outputs"`
	Fee       int64        `json:"fee,omitempty"`
	VSize     int64        `json:"vsize"`
	Height    int64        `json:"height,omitempty"`
	BlockTime int64        `json:"block_time,omitempty"`
	BlockHash string       `json:"block_hash,omitempty"`
}

// MarshalJSON encodes the record with reversed-hex transaction and block ids.
func (r TransactionRecord) MarshalJSON() ([]byte, error) {
	j := recordJSON{
		TxID:      r.TxID.String(),
		Version:   r.Version,
		Fee:       r.Fee,
		VSize:     r.VSize,
		Height:    r.Height,
		BlockTime: r.BlockTime,
	}
	if r.BlockHash != nil {
		j.BlockHash = r.BlockHash.String()
	}
	for _, in := range r.Inputs {
		j.Inputs = append(j.Inputs, inputJSON{
			PrevOut: in.PrevOut,
			Address: in.Address,
			Script:  in.Script,
			Witness: in.Witness,
		})
	}
	for _, out := range r.Outputs {
		j.Outputs = append(j.Outputs, outputJSON{
			Value:   out.Value,
			Address: out.Address,
			Script:  out.Script,
			Index:   out.Index,
		})
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a record with reversed-hex transaction and block ids.
func (r *TransactionRecord) UnmarshalJSON(data []byte) error {
	var j recordJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	txid, err := chainhash.NewHashFromStr(j.TxID)
	if err != nil {
		return fmt.Errorf("invalid txid: %w", err)
	}
	r.TxID = *txid
	r.Version = j.Version
	r.Fee = j.Fee
	r.VSize = j.VSize
	r.Height = j.Height
	r.BlockTime = j.BlockTime
	r.BlockHash = nil
	if j.BlockHash != "" {
		bh, err := chainhash.NewHashFromStr(j.BlockHash)
		if err != nil {
			return fmt.Errorf("invalid block hash: %w", err)
		}
		r.BlockHash = bh
	}
	r.Inputs = nil
	for _, in := range j.Inputs {
		r.Inputs = append(r.Inputs, Input{
			PrevOut: in.PrevOut,
			Address: in.Address,
			Script:  in.Script,
			Witness: in.Witness,
		})
	}
	r.Outputs = nil
	for _, out := range j.Outputs {
		r.Outputs = append(r.Outputs, Output{
			Value:   out.Value,
			Address: out.Address,
			Script:  out.Script,
			Index:   out.Index,
		})
	}
	return nil
}
