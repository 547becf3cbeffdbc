package ledger

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/lunanimous/keyguard/internal/storage"
	"github.com/lunanimous/keyguard/pkg/types"
)

func txid(b byte) chainhash.Hash {
	return chainhash.Hash{b}
}

func confirmedRec(id byte, height int64, inputs []types.Input, outputs []types.Output) *types.TransactionRecord {
	rec := &types.TransactionRecord{
		TxID:    txid(id),
		Version: 2,
		Inputs:  inputs,
		Outputs: outputs,
		Height:  height,
	}
	if height > 0 {
		rec.BlockTime = 1600000000 + height
		h := chainhash.Hash{0xbb, id}
		rec.BlockHash = &h
	}
	return rec
}

func out(addr string, value int64, index uint32) types.Output {
	return types.Output{Value: value, Address: addr, Index: index}
}

func spend(id byte, index uint32) types.Input {
	return types.Input{PrevOut: types.Outpoint{TxID: txid(id), Index: index}, Address: types.UnknownAddress}
}

func owned(addrs ...string) map[string]struct{} {
	m := make(map[string]struct{})
	for _, a := range addrs {
		m[a] = struct{}{}
	}
	return m
}

func TestUTXODerivation(t *testing.T) {
	l := New()
	// Funding tx pays us and a third party.
	l.Ingest(confirmedRec(0x0a, 100, nil, []types.Output{
		out("mine1", 50000, 0),
		out("other", 20000, 1),
	}))
	// Unconfirmed spend of our coin, paying us twice.
	l.Ingest(confirmedRec(0x0b, 0, []types.Input{spend(0x0a, 0)}, []types.Output{
		out("mine2", 30000, 0),
		out("mine1", 19000, 1),
	}))

	mine := owned("mine1", "mine2")
	utxos := l.UTXOs(mine)
	if len(utxos) != 2 {
		t.Fatalf("utxos = %d, want 2: %+v", len(utxos), utxos)
	}
	for _, u := range utxos {
		if u.Outpoint.TxID != txid(0x0b) {
			t.Errorf("spent or foreign output survived: %s", u.Outpoint)
		}
		if u.Height != 0 {
			t.Errorf("utxo %s height = %d, want 0", u.Outpoint, u.Height)
		}
	}
	// Deterministic order within one tx: ascending index.
	if utxos[0].Outpoint.Index != 0 || utxos[1].Outpoint.Index != 1 {
		t.Errorf("utxo order = %s, %s", utxos[0].Outpoint, utxos[1].Outpoint)
	}

	bal := l.Balance(mine)
	if bal.Confirmed != 0 || bal.Unconfirmed != 49000 {
		t.Errorf("balance = %+v, want unconfirmed 49000", bal)
	}
	if bal.Total() != 49000 {
		t.Errorf("total = %d", bal.Total())
	}
}

func TestBalanceSplitsByConfirmation(t *testing.T) {
	l := New()
	l.Ingest(
		confirmedRec(0x01, 120, nil, []types.Output{out("mine", 1000, 0)}),
		confirmedRec(0x02, 0, nil, []types.Output{out("mine", 250, 0)}),
	)
	bal := l.Balance(owned("mine"))
	if bal.Confirmed != 1000 || bal.Unconfirmed != 250 {
		t.Errorf("balance = %+v", bal)
	}
}

func TestIngestMergeKeepsInputsOutputs(t *testing.T) {
	l := New()
	full := confirmedRec(0x01, 0, []types.Input{spend(0x02, 1)}, []types.Output{out("mine", 777, 0)})
	full.Fee = 141
	l.Ingest(full)

	// A later history pass reports the same tx confirmed. The refetched
	// record may be sparse; placement moves, the io set does not.
	update := confirmedRec(0x01, 640000, nil, nil)
	l.Ingest(update)

	got, ok := l.Get(txid(0x01))
	if !ok {
		t.Fatal("record lost after merge")
	}
	if got.Height != 640000 || got.BlockHash == nil {
		t.Errorf("confirmation not applied: height=%d hash=%v", got.Height, got.BlockHash)
	}
	if len(got.Inputs) != 1 || len(got.Outputs) != 1 {
		t.Errorf("io set changed: %d in, %d out", len(got.Inputs), len(got.Outputs))
	}
	if got.Fee != 141 {
		t.Errorf("fee overwritten: %d", got.Fee)
	}
}

func TestApplyConfirmationReorg(t *testing.T) {
	l := New()
	l.Ingest(confirmedRec(0x01, 500, nil, []types.Output{out("mine", 10, 0)}))

	if l.ApplyConfirmation(txid(0x99), 501, 0, nil) {
		t.Error("ApplyConfirmation matched an unknown txid")
	}

	// Block disconnected: the tx falls back to the mempool.
	if !l.ApplyConfirmation(txid(0x01), 0, 0, nil) {
		t.Fatal("ApplyConfirmation missed a known txid")
	}
	got, _ := l.Get(txid(0x01))
	if got.Height != 0 || got.BlockHash != nil || got.BlockTime != 0 {
		t.Errorf("reorged record still carries placement: %+v", got)
	}
	if got.Confirmed() {
		t.Error("reorged record still confirmed")
	}
}

func TestRecordsHistoryOrder(t *testing.T) {
	l := New()
	l.Ingest(
		confirmedRec(0x01, 500, nil, nil),
		confirmedRec(0x02, 0, nil, nil),
		confirmedRec(0x03, 300, nil, nil),
	)
	recs := l.Records()
	if len(recs) != 3 {
		t.Fatalf("records = %d", len(recs))
	}
	wantOrder := []chainhash.Hash{txid(0x02), txid(0x01), txid(0x03)}
	for i, want := range wantOrder {
		if recs[i].TxID != want {
			t.Errorf("position %d = %s, want %s", i, recs[i].TxID, want)
		}
	}
}

func TestSnapshotRestore(t *testing.T) {
	db := storage.NewMemory()

	l := New()
	l.Ingest(
		confirmedRec(0x01, 100, []types.Input{spend(0x05, 0)}, []types.Output{out("mine", 4000, 0)}),
		confirmedRec(0x02, 0, nil, []types.Output{out("mine", 600, 0)}),
	)
	if err := l.Snapshot(db); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored := New()
	if err := restored.Restore(db); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := len(restored.Records()); got != 2 {
		t.Fatalf("restored records = %d, want 2", got)
	}

	mine := owned("mine")
	if got, want := restored.Balance(mine), l.Balance(mine); got != want {
		t.Errorf("restored balance = %+v, want %+v", got, want)
	}
	rec, ok := restored.Get(txid(0x01))
	if !ok || len(rec.Inputs) != 1 || rec.Height != 100 || rec.BlockHash == nil {
		t.Errorf("restored record mangled: %+v", rec)
	}
}

func TestSnapshotPrunesUntrackedRecords(t *testing.T) {
	db := storage.NewMemory()

	// A record from an earlier wallet session lingers in the store.
	stale := txid(0x0f)
	if err := db.Put([]byte("tx/"+stale.String()), []byte(`{"txid":"stale"}`)); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	l := New()
	l.Ingest(confirmedRec(0x01, 100, nil, []types.Output{out("mine", 4000, 0)}))
	if err := l.Snapshot(db); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if _, err := db.Get([]byte("tx/" + stale.String())); err == nil {
		t.Error("stale record survived the snapshot")
	}
	if _, err := db.Get([]byte("tx/" + txid(0x01).String())); err != nil {
		t.Errorf("tracked record missing after snapshot: %v", err)
	}

	restored := New()
	if err := restored.Restore(db); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := len(restored.Records()); got != 1 {
		t.Fatalf("restored records = %d, want 1", got)
	}
}
