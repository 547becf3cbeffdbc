package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"

	"github.com/lunanimous/keyguard/internal/log"
	"github.com/lunanimous/keyguard/pkg/types"
)

// ErrNoSigner is returned when a selected coin cannot be traced back to
// a derivation path, which would make the transaction unsignable.
var ErrNoSigner = errors.New("no signing path for selected output")

// Payment is one requested output.
type Payment struct {
	Address string
	Value   int64
}

// SignerInfo tells an external signer how to sign one input.
type SignerInfo struct {
	InputIndex   int            `json:"input_index"`
	Chain        types.Chain    `json:"chain"`
	Index        uint32         `json:"index"`
	Address      string         `json:"address"`
	PubKey       types.HexBytes `json:"pubkey"`
	RedeemScript types.HexBytes `json:"redeem_script,omitempty"`
	Value        int64          `json:"value"`
}

// UnsignedTx is a fully assembled transaction awaiting signatures.
type UnsignedTx struct {
	Tx            *wire.MsgTx
	Signers       []SignerInfo
	Fee           int64
	Change        int64
	ChangeAddress string
}

// PathResolver maps an owned address back to its derivation path.
type PathResolver interface {
	LookupPath(addr string) (types.Chain, uint32, bool)
}

// Builder assembles unsigned transactions from the wallet's coins.
type Builder struct {
	keychain *Keychain
	paths    PathResolver
	params   *chaincfg.Params
	feeRate  int64
	log      zerolog.Logger
}

func NewBuilder(kc *Keychain, paths PathResolver, params *chaincfg.Params, feeRate int64) *Builder {
	return &Builder{
		keychain: kc,
		paths:    paths,
		params:   params,
		feeRate:  feeRate,
		log:      log.Wallet,
	}
}

// MakeTransaction selects coins for the payments and assembles an
// unsigned transaction. changeIndex is the next unused index on the
// internal chain; a change output is derived there when the selection
// leaves more than dust behind.
func (b *Builder) MakeTransaction(utxos []types.UTXO, payments []Payment, changeIndex uint32) (*UnsignedTx, error) {
	if len(payments) == 0 {
		return nil, fmt.Errorf("no payments requested")
	}
	var target int64
	for _, p := range payments {
		if p.Value < DustLimit {
			return nil, fmt.Errorf("payment of %d to %s is below the dust limit", p.Value, p.Address)
		}
		target += p.Value
	}

	sel, err := SelectOutputs(utxos, target, len(payments), b.feeRate, b.keychain.ScriptType())
	if err != nil {
		return nil, err
	}

	mtx := wire.NewMsgTx(2)
	for _, u := range sel.Inputs {
		op := wire.OutPoint{Hash: u.Outpoint.TxID, Index: u.Outpoint.Index}
		mtx.AddTxIn(wire.NewTxIn(&op, nil, nil))
	}

	for _, p := range payments {
		script, err := payScript(p.Address, b.params)
		if err != nil {
			return nil, err
		}
		mtx.AddTxOut(wire.NewTxOut(p.Value, script))
	}

	unsigned := &UnsignedTx{Tx: mtx, Fee: sel.Fee}
	if sel.RequiresChange {
		change, err := b.keychain.DeriveKey(types.Internal, changeIndex)
		if err != nil {
			return nil, fmt.Errorf("derive change address: %w", err)
		}
		mtx.AddTxOut(wire.NewTxOut(sel.Change, change.Script))
		unsigned.Change = sel.Change
		unsigned.ChangeAddress = change.Address
	}

	for i, u := range sel.Inputs {
		c, index, ok := b.paths.LookupPath(u.Address)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSigner, u.Address)
		}
		da, err := b.keychain.DeriveKey(c, index)
		if err != nil {
			return nil, fmt.Errorf("derive signer for %s: %w", u.Address, err)
		}
		unsigned.Signers = append(unsigned.Signers, SignerInfo{
			InputIndex:   i,
			Chain:        c,
			Index:        index,
			Address:      u.Address,
			PubKey:       da.PubKey,
			RedeemScript: da.RedeemScript,
			Value:        u.Value,
		})
	}

	b.log.Info().
		Int("inputs", len(sel.Inputs)).
		Int("outputs", len(mtx.TxOut)).
		Int64("fee", sel.Fee).
		Int64("change", unsigned.Change).
		Msg("transaction assembled")
	return unsigned, nil
}

func payScript(addr string, params *chaincfg.Params) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return nil, fmt.Errorf("decode address %s: %w", addr, err)
	}
	if !decoded.IsForNet(params) {
		return nil, fmt.Errorf("address %s is not valid for %s", addr, params.Name)
	}
	return txscript.PayToAddrScript(decoded)
}
