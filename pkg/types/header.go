package types

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// BlockHeader is a decoded block header plus its height.
type BlockHeader struct {
	Hash       chainhash.Hash
	Height     int64
	Version    int32
	PrevBlock  chainhash.Hash
	MerkleRoot chainhash.Hash
	Time       int64
	Bits       uint32
	Nonce      uint32
	Size       int // serialized size in bytes
}
