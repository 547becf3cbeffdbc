package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

// snapshotRecord mirrors the shape the ledger persists: a JSON value under
// a "tx/" key.
type snapshotRecord struct {
	TxID   string `json:"txid"`
	Height int64  `json:"height"`
}

func putRecord(t *testing.T, db DB, rec snapshotRecord) {
	t.Helper()
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("encode record: %v", err)
	}
	if err := db.Put([]byte("tx/"+rec.TxID), raw); err != nil {
		t.Fatalf("Put %s: %v", rec.TxID, err)
	}
}

// testWalletStore exercises a DB the way the wallet does: snapshot writes,
// namespace scans on restore, and pruning of stale records.
func testWalletStore(t *testing.T, db DB) {
	t.Helper()

	putRecord(t, db, snapshotRecord{TxID: "aa11", Height: 800100})
	putRecord(t, db, snapshotRecord{TxID: "bb22", Height: 0})
	if err := db.Put([]byte("tip"), []byte("800123")); err != nil {
		t.Fatalf("Put tip: %v", err)
	}

	t.Run("GetRoundTrip", func(t *testing.T) {
		raw, err := db.Get([]byte("tx/aa11"))
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		var rec snapshotRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if rec.Height != 800100 {
			t.Errorf("height = %d, want 800100", rec.Height)
		}
	})

	t.Run("MissingKey", func(t *testing.T) {
		_, err := db.Get([]byte("tx/never-stored"))
		if !errors.Is(err, ErrKeyNotFound) {
			t.Fatalf("err = %v, want ErrKeyNotFound", err)
		}
	})

	t.Run("OverwriteOnReingest", func(t *testing.T) {
		// The mempool record confirms; the snapshot rewrites it in place.
		putRecord(t, db, snapshotRecord{TxID: "bb22", Height: 800101})
		raw, err := db.Get([]byte("tx/bb22"))
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		var rec snapshotRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if rec.Height != 800101 {
			t.Errorf("height after overwrite = %d, want 800101", rec.Height)
		}
	})

	t.Run("RestoreScanSkipsOtherNamespaces", func(t *testing.T) {
		var keys []string
		err := db.ForEach([]byte("tx/"), func(key, value []byte) error {
			keys = append(keys, string(key))
			return nil
		})
		if err != nil {
			t.Fatalf("ForEach: %v", err)
		}
		if len(keys) != 2 {
			t.Fatalf("scan saw %d records, want 2: %v", len(keys), keys)
		}
		for _, k := range keys {
			if k == "tip" {
				t.Fatal("tip key leaked into the tx/ scan")
			}
		}
	})

	t.Run("ScanStopsOnCallbackError", func(t *testing.T) {
		stop := errors.New("enough")
		seen := 0
		err := db.ForEach([]byte("tx/"), func(key, value []byte) error {
			seen++
			return stop
		})
		if !errors.Is(err, stop) {
			t.Fatalf("err = %v, want the callback error", err)
		}
		if seen != 1 {
			t.Errorf("callback ran %d times after stopping, want 1", seen)
		}
	})

	t.Run("PruneStaleRecord", func(t *testing.T) {
		if err := db.Delete([]byte("tx/aa11")); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := db.Get([]byte("tx/aa11")); !errors.Is(err, ErrKeyNotFound) {
			t.Fatalf("Get after Delete = %v, want ErrKeyNotFound", err)
		}
		// Pruning an already-pruned record must stay quiet.
		if err := db.Delete([]byte("tx/aa11")); err != nil {
			t.Errorf("second Delete: %v", err)
		}
	})

	t.Run("BinaryKeysAndValues", func(t *testing.T) {
		// Raw script bytes as part of a key, raw tx bytes as the value.
		key := append([]byte("script/"), 0x00, 0x14, 0xff)
		value := make([]byte, 256)
		for i := range value {
			value[i] = byte(i)
		}
		if err := db.Put(key, value); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := db.Get(key)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, value) {
			t.Error("binary value corrupted")
		}
	})
}

func TestMemoryDB(t *testing.T) {
	db := NewMemory()
	defer db.Close()
	testWalletStore(t, db)
}

func TestMemoryDBForEachOrdered(t *testing.T) {
	db := NewMemory()
	for _, k := range []string{"tx/cc", "tx/aa", "tx/bb"} {
		if err := db.Put([]byte(k), []byte("v")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	var keys []string
	if err := db.ForEach([]byte("tx/"), func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	}); err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	want := []string{"tx/aa", "tx/bb", "tx/cc"}
	if fmt.Sprint(keys) != fmt.Sprint(want) {
		t.Errorf("scan order = %v, want %v", keys, want)
	}
}

func TestBadgerDB(t *testing.T) {
	db, err := NewBadger(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	defer db.Close()
	testWalletStore(t, db)
}

func TestBadgerDBSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	putRecord(t, db, snapshotRecord{TxID: "dd44", Height: 800200})
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err = NewBadger(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	raw, err := db.Get([]byte("tx/dd44"))
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	var rec snapshotRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Height != 800200 {
		t.Errorf("height after reopen = %d, want 800200", rec.Height)
	}
}
