package wallet

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lunanimous/keyguard/pkg/types"
)

// ErrInsufficientFunds is returned when the spendable outputs cannot
// cover the payment amount plus the fee of the transaction spending them.
var ErrInsufficientFunds = errors.New("insufficient funds")

// DustLimit is the smallest output value worth creating. A change output
// below it is absorbed into the fee instead.
const DustLimit = 546

// Selection is the result of coin selection.
type Selection struct {
	Inputs         []types.UTXO
	Total          int64 // sum of selected input values
	Fee            int64
	Change         int64 // zero unless RequiresChange
	RequiresChange bool
}

// SelectOutputs chooses coins to fund payments totalling target across
// nOutputs outputs at feeRate satoshis per vbyte.
//
// Selection is deterministic: candidates are ordered by value descending,
// ties by outpoint, and accumulated until they cover target plus the fee
// of the transaction being built. The fee is recomputed as inputs are
// added. A leftover below the dust limit is folded into the fee rather
// than paid to a change output.
func SelectOutputs(utxos []types.UTXO, target int64, nOutputs int, feeRate int64, st ScriptType) (*Selection, error) {
	if target <= 0 {
		return nil, fmt.Errorf("target must be positive, got %d", target)
	}
	if feeRate <= 0 {
		return nil, fmt.Errorf("fee rate must be positive, got %d", feeRate)
	}

	candidates := make([]types.UTXO, 0, len(utxos))
	for _, u := range utxos {
		if u.Value > 0 {
			candidates = append(candidates, u)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Value != candidates[j].Value {
			return candidates[i].Value > candidates[j].Value
		}
		oi, oj := candidates[i].Outpoint, candidates[j].Outpoint
		if oi.TxID != oj.TxID {
			return oi.TxID.String() < oj.TxID.String()
		}
		return oi.Index < oj.Index
	})

	var (
		selected []types.UTXO
		total    int64
	)
	for _, u := range candidates {
		selected = append(selected, u)
		total += u.Value

		feeWithChange := EstimateFee(len(selected), nOutputs+1, st, feeRate)
		if total >= target+feeWithChange {
			change := total - target - feeWithChange
			if change >= DustLimit {
				return &Selection{
					Inputs:         selected,
					Total:          total,
					Fee:            feeWithChange,
					Change:         change,
					RequiresChange: true,
				}, nil
			}
			// Dust change: pay it to the miner instead.
			return &Selection{Inputs: selected, Total: total, Fee: total - target}, nil
		}

		feeNoChange := EstimateFee(len(selected), nOutputs, st, feeRate)
		if total >= target+feeNoChange {
			return &Selection{Inputs: selected, Total: total, Fee: total - target}, nil
		}
	}

	return nil, fmt.Errorf("%w: have %d, need %d plus fees", ErrInsufficientFunds, total, target)
}
