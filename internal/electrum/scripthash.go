package electrum

import (
	"crypto/sha256"
	"encoding/hex"
)

// ScriptHash returns the address-identifying parameter used by Electrum
// methods: the SHA-256 digest of the output script, byte-reversed and
// hex-encoded.
func ScriptHash(script []byte) string {
	h := sha256.Sum256(script)
	for i, j := 0, len(h)-1; i < j; i, j = i+1, j-1 {
		h[i], h[j] = h[j], h[i]
	}
	return hex.EncodeToString(h[:])
}
