// Package wallet derives watch-only keychains and assembles unsigned
// transactions for external signing.
package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip32"

	"github.com/lunanimous/keyguard/pkg/types"
)

// ScriptType selects the address encoding of the keychain and, with it,
// the BIP-44/49/84 purpose of seed-derived keys.
type ScriptType string

const (
	Legacy       ScriptType = "legacy"        // p2pkh, purpose 44'
	NestedSegwit ScriptType = "nested-segwit" // p2sh-wrapped p2wpkh, purpose 49'
	NativeSegwit ScriptType = "native-segwit" // p2wpkh, purpose 84'
)

var ErrUnknownScriptType = errors.New("unknown script type")

// ParseScriptType maps a config string to a ScriptType.
func ParseScriptType(s string) (ScriptType, error) {
	switch ScriptType(s) {
	case Legacy, NestedSegwit, NativeSegwit:
		return ScriptType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScriptType, s)
	}
}

func (s ScriptType) purpose() uint32 {
	switch s {
	case Legacy:
		return 44
	case NestedSegwit:
		return 49
	default:
		return 84
	}
}

// DerivedAddress is one address of the keychain together with everything
// an external signer needs to spend from it.
type DerivedAddress struct {
	Chain        types.Chain
	Index        uint32
	PubKey       types.HexBytes
	Address      string
	Script       types.HexBytes
	RedeemScript types.HexBytes // set for nested segwit only
}

// Keychain derives addresses from an account-level extended public key.
// It never holds private key material.
type Keychain struct {
	account    *bip32.Key
	scriptType ScriptType
	params     *chaincfg.Params
}

// NewKeychainFromXPub builds a keychain around an account-level xpub.
func NewKeychainFromXPub(xpub string, st ScriptType, params *chaincfg.Params) (*Keychain, error) {
	key, err := bip32.B58Deserialize(xpub)
	if err != nil {
		return nil, fmt.Errorf("decode xpub: %w", err)
	}
	return &Keychain{account: key.PublicKey(), scriptType: st, params: params}, nil
}

// NewKeychainFromSeed derives the account key at
// m/purpose'/coin'/account' and keeps only its public part.
func NewKeychainFromSeed(seed []byte, account uint32, st ScriptType, params *chaincfg.Params) (*Keychain, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	path := []uint32{
		bip32.FirstHardenedChild + st.purpose(),
		bip32.FirstHardenedChild + params.HDCoinType,
		bip32.FirstHardenedChild + account,
	}
	for _, index := range path {
		key, err = key.NewChildKey(index)
		if err != nil {
			return nil, fmt.Errorf("derive account key: %w", err)
		}
	}
	return &Keychain{account: key.PublicKey(), scriptType: st, params: params}, nil
}

// ScriptType returns the address encoding this keychain derives.
func (k *Keychain) ScriptType() ScriptType {
	return k.scriptType
}

// AccountXPub serializes the account-level public key.
func (k *Keychain) AccountXPub() string {
	return k.account.B58Serialize()
}

// DeriveKey derives the address at account/chain/index with its signing
// metadata.
func (k *Keychain) DeriveKey(c types.Chain, index uint32) (*DerivedAddress, error) {
	chainKey, err := k.account.NewChildKey(uint32(c))
	if err != nil {
		return nil, fmt.Errorf("derive chain %s: %w", c, err)
	}
	child, err := chainKey.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive %s/%d: %w", c, index, err)
	}

	pub := child.PublicKey().Key
	if _, err := secp256k1.ParsePubKey(pub); err != nil {
		return nil, fmt.Errorf("invalid public key at %s/%d: %w", c, index, err)
	}

	da := &DerivedAddress{Chain: c, Index: index, PubKey: pub}
	pkHash := btcutil.Hash160(pub)

	switch k.scriptType {
	case Legacy:
		addr, err := btcutil.NewAddressPubKeyHash(pkHash, k.params)
		if err != nil {
			return nil, err
		}
		da.Address = addr.EncodeAddress()
		da.Script, err = txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}

	case NestedSegwit:
		wprog, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, k.params)
		if err != nil {
			return nil, err
		}
		redeem, err := txscript.PayToAddrScript(wprog)
		if err != nil {
			return nil, err
		}
		addr, err := btcutil.NewAddressScriptHash(redeem, k.params)
		if err != nil {
			return nil, err
		}
		da.RedeemScript = redeem
		da.Address = addr.EncodeAddress()
		da.Script, err = txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}

	case NativeSegwit:
		addr, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, k.params)
		if err != nil {
			return nil, err
		}
		da.Address = addr.EncodeAddress()
		da.Script, err = txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScriptType, k.scriptType)
	}

	return da, nil
}

// Derive is the compact form used by address discovery.
func (k *Keychain) Derive(c types.Chain, index uint32) (string, types.HexBytes, error) {
	da, err := k.DeriveKey(c, index)
	if err != nil {
		return "", nil, err
	}
	return da.Address, da.Script, nil
}
