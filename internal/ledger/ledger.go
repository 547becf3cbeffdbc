// Package ledger keeps the authoritative set of wallet transactions and
// derives balances and spendable outputs from it. The UTXO set is never
// stored; it is recomputed from the records on every query so that a
// record update can never leave a stale coin behind.
package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rs/zerolog"

	"github.com/lunanimous/keyguard/internal/log"
	"github.com/lunanimous/keyguard/internal/storage"
	"github.com/lunanimous/keyguard/pkg/types"
)

// recordKeyPrefix namespaces transaction records inside the database.
const recordKeyPrefix = "tx/"

// Ledger is an in-memory transaction store safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	records map[chainhash.Hash]*types.TransactionRecord
	log     zerolog.Logger
}

func New() *Ledger {
	return &Ledger{
		records: make(map[chainhash.Hash]*types.TransactionRecord),
		log:     log.Ledger,
	}
}

// Ingest merges fetched records into the ledger. Unknown transactions
// are stored whole. For known transactions only the confirmation fields
// move: inputs and outputs are immutable once recorded, a reorg or a
// late confirmation changes where a transaction sits, not what it does.
func (l *Ledger) Ingest(recs ...*types.TransactionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		existing, ok := l.records[rec.TxID]
		if !ok {
			cp := *rec
			l.records[rec.TxID] = &cp
			l.log.Debug().Stringer("txid", rec.TxID).Int64("height", rec.Height).Msg("transaction recorded")
			continue
		}
		l.applyConfirmation(existing, rec.Height, rec.BlockTime, rec.BlockHash, rec.Fee)
	}
}

// ApplyConfirmation updates the placement of a known transaction.
// It reports whether the transaction was found.
func (l *Ledger) ApplyConfirmation(txid chainhash.Hash, height, blockTime int64, blockHash *chainhash.Hash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[txid]
	if !ok {
		return false
	}
	l.applyConfirmation(rec, height, blockTime, blockHash, 0)
	return true
}

func (l *Ledger) applyConfirmation(rec *types.TransactionRecord, height, blockTime int64, blockHash *chainhash.Hash, fee int64) {
	rec.Height = height
	rec.BlockTime = blockTime
	if blockHash != nil {
		h := *blockHash
		rec.BlockHash = &h
	} else {
		rec.BlockHash = nil
	}
	if rec.Fee == 0 && fee != 0 {
		rec.Fee = fee
	}
}

// Get returns a copy of the record for txid.
func (l *Ledger) Get(txid chainhash.Hash) (*types.TransactionRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[txid]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// Records returns all transactions in history order: unconfirmed first,
// then by descending height, ties broken by txid.
func (l *Ledger) Records() []*types.TransactionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*types.TransactionRecord, 0, len(l.records))
	for _, rec := range l.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		hi, hj := sortHeight(out[i].Height), sortHeight(out[j].Height)
		if hi != hj {
			return hi > hj
		}
		return out[i].TxID.String() < out[j].TxID.String()
	})
	return out
}

func sortHeight(h int64) int64 {
	if h <= 0 {
		return int64(^uint64(0) >> 1)
	}
	return h
}

// UTXOs derives the spendable outputs owned by the given addresses.
// An output is unspent exactly when no recorded input references its
// outpoint, whether or not that input could be attributed to an address.
func (l *Ledger) UTXOs(owned map[string]struct{}) []types.UTXO {
	l.mu.RLock()
	defer l.mu.RUnlock()

	spent := make(map[types.Outpoint]struct{})
	for _, rec := range l.records {
		for _, in := range rec.Inputs {
			spent[in.PrevOut] = struct{}{}
		}
	}

	var utxos []types.UTXO
	for _, rec := range l.records {
		for _, out := range rec.Outputs {
			if _, ok := owned[out.Address]; !ok {
				continue
			}
			op := types.Outpoint{TxID: rec.TxID, Index: out.Index}
			if _, ok := spent[op]; ok {
				continue
			}
			utxos = append(utxos, types.UTXO{
				Outpoint: op,
				Value:    out.Value,
				Address:  out.Address,
				Script:   out.Script,
				Height:   rec.Height,
			})
		}
	}

	sort.Slice(utxos, func(i, j int) bool {
		ti, tj := utxos[i].Outpoint.TxID.String(), utxos[j].Outpoint.TxID.String()
		if ti != tj {
			return ti < tj
		}
		return utxos[i].Outpoint.Index < utxos[j].Outpoint.Index
	})
	return utxos
}

// Balance sums the owned unspent outputs, split by confirmation.
func (l *Ledger) Balance(owned map[string]struct{}) types.Balance {
	var bal types.Balance
	for _, u := range l.UTXOs(owned) {
		if u.Height > 0 {
			bal.Confirmed += u.Value
		} else {
			bal.Unconfirmed += u.Value
		}
	}
	return bal
}

// Snapshot persists every record under the tx/ namespace and prunes stored
// records the ledger no longer tracks, so the snapshot always mirrors the
// in-memory state (a leftover from an earlier wallet in the same store
// would otherwise resurrect on every restore).
func (l *Ledger) Snapshot(db storage.DB) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	current := make(map[string]struct{}, len(l.records))
	for txid, rec := range l.records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", txid, err)
		}
		key := recordKey(txid)
		if err := db.Put(key, raw); err != nil {
			return fmt.Errorf("store record %s: %w", txid, err)
		}
		current[string(key)] = struct{}{}
	}

	var stale [][]byte
	err := db.ForEach([]byte(recordKeyPrefix), func(key, _ []byte) error {
		if _, ok := current[string(key)]; !ok {
			k := make([]byte, len(key))
			copy(k, key)
			stale = append(stale, k)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range stale {
		if err := db.Delete(key); err != nil {
			return fmt.Errorf("prune record %s: %w", key, err)
		}
		l.log.Debug().Str("key", string(key)).Msg("stale snapshot record pruned")
	}
	return nil
}

// Restore loads previously snapshotted records. Records already in the
// ledger go through the usual merge.
func (l *Ledger) Restore(db storage.DB) error {
	var recs []*types.TransactionRecord
	err := db.ForEach([]byte(recordKeyPrefix), func(key, value []byte) error {
		var rec types.TransactionRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode record %s: %w", key, err)
		}
		recs = append(recs, &rec)
		return nil
	})
	if err != nil {
		return err
	}
	l.Ingest(recs...)
	l.log.Info().Int("records", len(recs)).Msg("ledger restored")
	return nil
}

func recordKey(txid chainhash.Hash) []byte {
	return []byte(recordKeyPrefix + txid.String())
}
