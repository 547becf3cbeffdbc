package chain

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/lunanimous/keyguard/pkg/types"
)

var testParams = &chaincfg.MainNetParams

// fakeSig and fakePubKey only need plausible lengths; shape recovery never
// validates curve points or signatures.
var (
	fakeSig    = bytes.Repeat([]byte{0x30}, 71)
	fakePubKey = append([]byte{0x02}, bytes.Repeat([]byte{0xab}, 32)...)
)

func pushScript(t *testing.T, items ...[]byte) []byte {
	t.Helper()
	b := txscript.NewScriptBuilder()
	for _, item := range items {
		b.AddData(item)
	}
	script, err := b.Script()
	if err != nil {
		t.Fatalf("build script: %v", err)
	}
	return script
}

func multisigSigScript(t *testing.T, redeem []byte, sigs int) []byte {
	t.Helper()
	b := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
	for i := 0; i < sigs; i++ {
		b.AddData(fakeSig)
	}
	b.AddData(redeem)
	script, err := b.Script()
	if err != nil {
		t.Fatalf("build multisig script: %v", err)
	}
	return script
}

// decodeOneInput round-trips a single-input transaction through the wire
// format and returns the recovered input address.
func decodeOneInput(t *testing.T, sigScript []byte, witness wire.TxWitness) string {
	t.Helper()
	mtx := wire.NewMsgTx(2)
	mtx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0},
		SignatureScript:  sigScript,
		Witness:          witness,
	})
	mtx.AddTxOut(wire.NewTxOut(1000, pushScript(t, bytes.Repeat([]byte{0x55}, 20))))

	var buf bytes.Buffer
	if err := mtx.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	rec, err := DecodeTransaction(buf.Bytes(), testParams)
	if err != nil {
		t.Fatalf("DecodeTransaction: %v", err)
	}
	if len(rec.Inputs) != 1 {
		t.Fatalf("inputs = %d, want 1", len(rec.Inputs))
	}
	return rec.Inputs[0].Address
}

func TestRecoverInputAddressTable(t *testing.T) {
	p2pkhAddr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(fakePubKey), testParams)
	if err != nil {
		t.Fatal(err)
	}
	p2wpkhAddr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(fakePubKey), testParams)
	if err != nil {
		t.Fatal(err)
	}
	nestedRedeem, err := txscript.PayToAddrScript(p2wpkhAddr)
	if err != nil {
		t.Fatal(err)
	}
	nestedAddr, err := btcutil.NewAddressScriptHash(nestedRedeem, testParams)
	if err != nil {
		t.Fatal(err)
	}

	msRedeem := bytes.Repeat([]byte{0x51}, 40) // shape only
	msP2SHAddr, err := btcutil.NewAddressScriptHash(msRedeem, testParams)
	if err != nil {
		t.Fatal(err)
	}
	wscript := bytes.Repeat([]byte{0x52}, 40)
	wscriptDigest := sha256.Sum256(wscript)
	p2wshAddr, err := btcutil.NewAddressWitnessScriptHash(wscriptDigest[:], testParams)
	if err != nil {
		t.Fatal(err)
	}
	nestedWitnessProg := append([]byte{0x00, 0x20}, wscriptDigest[:]...)
	nestedMSAddr, err := btcutil.NewAddressScriptHash(nestedWitnessProg, testParams)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		sigScript []byte
		witness   wire.TxWitness
		want      string
	}{
		{
			name:      "legacy p2pkh (2,0)",
			sigScript: pushScript(t, fakeSig, fakePubKey),
			want:      p2pkhAddr.EncodeAddress(),
		},
		{
			name:      "nested p2wpkh (1,2)",
			sigScript: pushScript(t, nestedRedeem),
			witness:   wire.TxWitness{fakeSig, fakePubKey},
			want:      nestedAddr.EncodeAddress(),
		},
		{
			name:    "native p2wpkh (0,2)",
			witness: wire.TxWitness{fakeSig, fakePubKey},
			want:    p2wpkhAddr.EncodeAddress(),
		},
		{
			name:      "legacy multisig (>2,0)",
			sigScript: multisigSigScript(t, msRedeem, 2),
			want:      msP2SHAddr.EncodeAddress(),
		},
		{
			name:      "nested multisig (1,>2)",
			sigScript: pushScript(t, nestedWitnessProg),
			witness:   wire.TxWitness{{}, fakeSig, fakeSig, wscript},
			want:      nestedMSAddr.EncodeAddress(),
		},
		{
			name:    "native multisig (0,>2)",
			witness: wire.TxWitness{{}, fakeSig, fakeSig, wscript},
			want:    p2wshAddr.EncodeAddress(),
		},
		{
			name:      "unrecognized shape (1,0)",
			sigScript: pushScript(t, fakeSig),
			want:      types.UnknownAddress,
		},
		{
			name:    "unrecognized shape (0,1)",
			witness: wire.TxWitness{fakeSig},
			want:    types.UnknownAddress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeOneInput(t, tt.sigScript, tt.witness)
			if got != tt.want {
				t.Errorf("recovered address = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeTransactionOutputs(t *testing.T) {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(fakePubKey), testParams)
	if err != nil {
		t.Fatal(err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		t.Fatal(err)
	}
	nullData, err := txscript.NullDataScript([]byte("hi"))
	if err != nil {
		t.Fatal(err)
	}

	mtx := wire.NewMsgTx(2)
	mtx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 1},
		SignatureScript:  pushScript(t, fakeSig, fakePubKey),
	})
	mtx.AddTxOut(wire.NewTxOut(12345, pkScript))
	mtx.AddTxOut(wire.NewTxOut(0, nullData))

	var buf bytes.Buffer
	if err := mtx.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	rec, err := DecodeTransaction(buf.Bytes(), testParams)
	if err != nil {
		t.Fatalf("DecodeTransaction: %v", err)
	}

	if rec.TxID != mtx.TxHash() {
		t.Errorf("txid = %s, want %s", rec.TxID, mtx.TxHash())
	}
	if len(rec.Outputs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(rec.Outputs))
	}
	if rec.Outputs[0].Address != addr.EncodeAddress() || rec.Outputs[0].Value != 12345 {
		t.Errorf("output 0 = %+v", rec.Outputs[0])
	}
	if rec.Outputs[0].Index != 0 || rec.Outputs[1].Index != 1 {
		t.Errorf("output positions wrong: %d, %d", rec.Outputs[0].Index, rec.Outputs[1].Index)
	}
	if rec.Outputs[1].Address != types.UnknownAddress {
		t.Errorf("null-data output address = %s, want sentinel", rec.Outputs[1].Address)
	}
	// No witness data: virtual size equals serialized size.
	if rec.VSize != int64(buf.Len()) {
		t.Errorf("vsize = %d, want %d", rec.VSize, buf.Len())
	}
	if rec.Confirmed() {
		t.Error("freshly decoded record must be unconfirmed")
	}
}
