package chain

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/lunanimous/keyguard/internal/log"
	"github.com/lunanimous/keyguard/pkg/types"
)

// DecodeTransaction parses a serialized transaction into a record. The
// record is unconfirmed (no height/block metadata) and carries no fee; the
// caller attaches both from history and header lookups.
func DecodeTransaction(raw []byte, params *chaincfg.Params) (*types.TransactionRecord, error) {
	var mtx wire.MsgTx
	if err := mtx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("deserialize transaction: %w", err)
	}

	stripped := mtx.SerializeSizeStripped()
	weight := stripped*3 + mtx.SerializeSize()

	rec := &types.TransactionRecord{
		TxID:    mtx.TxHash(),
		Version: mtx.Version,
		VSize:   int64((weight + 3) / 4),
	}

	for _, in := range mtx.TxIn {
		witness := make([]types.HexBytes, 0, len(in.Witness))
		for _, item := range in.Witness {
			witness = append(witness, types.HexBytes(item))
		}
		rec.Inputs = append(rec.Inputs, types.Input{
			PrevOut: types.Outpoint{
				TxID:  in.PreviousOutPoint.Hash,
				Index: in.PreviousOutPoint.Index,
			},
			Address: recoverInputAddress(in, params),
			Script:  types.HexBytes(in.SignatureScript),
			Witness: witness,
		})
	}

	for i, out := range mtx.TxOut {
		addr := types.UnknownAddress
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, params)
		if err == nil && len(addrs) > 0 {
			addr = addrs[0].EncodeAddress()
		}
		rec.Outputs = append(rec.Outputs, types.Output{
			Value:   out.Value,
			Address: addr,
			Script:  types.HexBytes(out.PkScript),
			Index:   uint32(i),
		})
	}

	return rec, nil
}

// recoverInputAddress reconstructs the address an input spends from, using
// only the shape of the unlocking data: the count of signature-script data
// pushes versus witness stack items.
//
//	(2, 0)  legacy P2PKH         pubkey is the second push
//	(1, 2)  nested P2WPKH        the single push is the redeem script
//	(0, 2)  native P2WPKH        pubkey is the second witness item
//	(>2,0)  legacy multisig      last push is the redeem script
//	(1,>2)  nested multisig      the single push is the redeem script
//	(0,>2)  native multisig      last witness item is the witness script
//
// Any other shape (non-standard scripts, Taproot) yields the unknown-address
// sentinel; this never fails the surrounding decode.
func recoverInputAddress(in *wire.TxIn, params *chaincfg.Params) string {
	chunks, err := txscript.PushedData(in.SignatureScript)
	if err != nil {
		log.Chain.Error().Err(err).Msg("undecodable signature script")
		return types.UnknownAddress
	}
	nw := len(in.Witness)

	var (
		addr    btcutil.Address
		addrErr error
	)
	switch {
	case len(chunks) == 2 && nw == 0:
		addr, addrErr = btcutil.NewAddressPubKeyHash(btcutil.Hash160(chunks[1]), params)
	case len(chunks) == 1 && nw == 2:
		addr, addrErr = btcutil.NewAddressScriptHash(chunks[0], params)
	case len(chunks) == 0 && nw == 2:
		addr, addrErr = btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(in.Witness[1]), params)
	case len(chunks) > 2 && nw == 0:
		addr, addrErr = btcutil.NewAddressScriptHash(chunks[len(chunks)-1], params)
	case len(chunks) == 1 && nw > 2:
		addr, addrErr = btcutil.NewAddressScriptHash(chunks[0], params)
	case len(chunks) == 0 && nw > 2:
		script := in.Witness[nw-1]
		digest := sha256.Sum256(script)
		addr, addrErr = btcutil.NewAddressWitnessScriptHash(digest[:], params)
	default:
		log.Chain.Error().
			Int("chunks", len(chunks)).
			Int("witness", nw).
			Msg("unrecognized input shape")
		return types.UnknownAddress
	}

	if addrErr != nil {
		log.Chain.Error().Err(addrErr).Msg("input address recovery failed")
		return types.UnknownAddress
	}
	return addr.EncodeAddress()
}
