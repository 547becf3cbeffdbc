// Package engine orchestrates a wallet sync: it drives address
// discovery, pulls histories through the chain facade and reconciles
// them into the ledger.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lunanimous/keyguard/internal/ledger"
	"github.com/lunanimous/keyguard/internal/log"
	"github.com/lunanimous/keyguard/internal/storage"
	"github.com/lunanimous/keyguard/pkg/types"
)

// ChainSource is the chain facade surface the engine drives.
type ChainSource interface {
	GetHistory(ctx context.Context, script []byte) ([]*types.TransactionRecord, error)
	SubscribeStatus(ctx context.Context, script []byte, cb func([]*types.TransactionRecord)) error
	SubscribeHeaders(ctx context.Context, cb func(*types.BlockHeader)) error
}

// Discoverer maintains the set of watched addresses.
type Discoverer interface {
	Discover(ctx context.Context) error
	Addresses(c types.Chain) []*types.AddressInfo
	OwnedAddresses() map[string]struct{}
	LookupPath(addr string) (types.Chain, uint32, bool)
}

// Engine ties discovery, the chain facade and the ledger together.
type Engine struct {
	chain  ChainSource
	disc   Discoverer
	ledger *ledger.Ledger
	db     storage.DB // nil disables persistence
	log    zerolog.Logger

	mu  sync.Mutex
	tip *types.BlockHeader
}

func New(chain ChainSource, disc Discoverer, led *ledger.Ledger, db storage.DB) *Engine {
	return &Engine{
		chain:  chain,
		disc:   disc,
		ledger: led,
		db:     db,
		log:    log.Engine,
	}
}

// Restore loads the persisted ledger so balances are available before
// the first network round trip.
func (e *Engine) Restore() error {
	if e.db == nil {
		return nil
	}
	return e.ledger.Restore(e.db)
}

// Sync runs one full pass: extend the address window, fetch the history
// of every tracked address and merge it into the ledger.
func (e *Engine) Sync(ctx context.Context) error {
	defer log.Benchmark("wallet sync")()

	if err := e.disc.Discover(ctx); err != nil {
		return fmt.Errorf("address discovery: %w", err)
	}

	synced := 0
	for _, c := range []types.Chain{types.External, types.Internal} {
		for _, entry := range e.disc.Addresses(c) {
			if !entry.Active {
				continue
			}
			recs, err := e.chain.GetHistory(ctx, entry.Script)
			if err != nil {
				return fmt.Errorf("history of %s: %w", entry.Address, err)
			}
			e.ledger.Ingest(recs...)
			synced++
		}
	}

	if err := e.persist(); err != nil {
		return err
	}
	e.log.Info().Int("addresses", synced).Msg("sync complete")
	return nil
}

// Watch subscribes to status changes of every tracked address and to new
// block headers. Updates flow into the ledger until the connection drops.
func (e *Engine) Watch(ctx context.Context) error {
	if err := e.chain.SubscribeHeaders(ctx, func(hdr *types.BlockHeader) {
		e.mu.Lock()
		e.tip = hdr
		e.mu.Unlock()
		e.log.Info().Int64("height", hdr.Height).Stringer("hash", hdr.Hash).Msg("new tip")
	}); err != nil {
		return fmt.Errorf("subscribe headers: %w", err)
	}

	watched := 0
	for _, c := range []types.Chain{types.External, types.Internal} {
		for _, entry := range e.disc.Addresses(c) {
			entry := entry
			err := e.chain.SubscribeStatus(ctx, entry.Script, func(recs []*types.TransactionRecord) {
				e.ledger.Ingest(recs...)
				if err := e.persist(); err != nil {
					e.log.Error().Err(err).Str("address", entry.Address).Msg("persist after update")
				}
			})
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", entry.Address, err)
			}
			watched++
		}
	}
	e.log.Info().Int("addresses", watched).Msg("watching")
	return nil
}

func (e *Engine) persist() error {
	if e.db == nil {
		return nil
	}
	if err := e.ledger.Snapshot(e.db); err != nil {
		return fmt.Errorf("snapshot ledger: %w", err)
	}
	return nil
}

// Balance reports the wallet balance over all tracked addresses.
func (e *Engine) Balance() types.Balance {
	return e.ledger.Balance(e.disc.OwnedAddresses())
}

// UTXOs reports the spendable outputs of all tracked addresses.
func (e *Engine) UTXOs() []types.UTXO {
	return e.ledger.UTXOs(e.disc.OwnedAddresses())
}

// History returns every known transaction in history order.
func (e *Engine) History() []*types.TransactionRecord {
	return e.ledger.Records()
}

// Tip returns the last header seen by Watch, if any.
func (e *Engine) Tip() *types.BlockHeader {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tip
}
