package wallet

// Virtual-size cost in vbytes of spending one input, by script type.
// Legacy carries a full signature script; segwit inputs discount the
// witness at a quarter weight.
const (
	inputVBytesLegacy = 148
	inputVBytesNested = 91
	inputVBytesNative = 68

	// outputVBytes approximates one output. p2pkh is 34, p2wpkh 31,
	// p2sh 32; the largest is used so estimates never undershoot.
	outputVBytes = 34

	// txOverheadVBytes covers version, locktime and the io counts.
	txOverheadVBytes = 11
)

// InputVBytes returns the virtual-size cost of one input of this type.
func (s ScriptType) InputVBytes() int {
	switch s {
	case Legacy:
		return inputVBytesLegacy
	case NestedSegwit:
		return inputVBytesNested
	default:
		return inputVBytesNative
	}
}

// EstimateVSize approximates the virtual size of a transaction with the
// given io counts where every input spends a keychain output.
func EstimateVSize(inputs, outputs int, st ScriptType) int {
	return txOverheadVBytes + inputs*st.InputVBytes() + outputs*outputVBytes
}

// EstimateFee returns the fee for a transaction of the estimated size at
// feeRate satoshis per vbyte.
func EstimateFee(inputs, outputs int, st ScriptType, feeRate int64) int64 {
	return int64(EstimateVSize(inputs, outputs, st)) * feeRate
}
