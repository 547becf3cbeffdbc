// Package discovery grows the set of watched addresses along each
// derivation chain until a run of unused addresses reaches the gap limit.
package discovery

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lunanimous/keyguard/internal/chain"
	"github.com/lunanimous/keyguard/internal/log"
	"github.com/lunanimous/keyguard/pkg/types"
)

// DefaultGapLimit is the conventional lookahead window for HD wallets.
const DefaultGapLimit = 20

// Keychain derives watch-only addresses. A nil Keychain disables
// discovery entirely.
type Keychain interface {
	Derive(chain types.Chain, index uint32) (addr string, script types.HexBytes, err error)
}

// Source answers whether a script has ever appeared on chain.
type Source interface {
	History(ctx context.Context, script []byte) ([]chain.HistoryItem, error)
}

// Engine tracks derived addresses per chain. Addresses are only ever
// appended and an address never goes from active back to inactive.
type Engine struct {
	keychain Keychain
	source   Source
	gapLimit uint32
	log      zerolog.Logger

	mu     sync.Mutex
	chains map[types.Chain][]*types.AddressInfo
}

func NewEngine(kc Keychain, src Source, gapLimit uint32) *Engine {
	if gapLimit == 0 {
		gapLimit = DefaultGapLimit
	}
	return &Engine{
		keychain: kc,
		source:   src,
		gapLimit: gapLimit,
		log:      log.Discovery,
		chains: map[types.Chain][]*types.AddressInfo{
			types.External: nil,
			types.Internal: nil,
		},
	}
}

// Discover extends both chains. With no keychain there is nothing to
// derive and the call is a no-op.
func (e *Engine) Discover(ctx context.Context) error {
	if e.keychain == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range []types.Chain{types.External, types.Internal} {
		if err := e.discoverChain(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) discoverChain(ctx context.Context, c types.Chain) error {
	entries := e.chains[c]

	// Addresses that were inactive last time may have been used since.
	for _, entry := range entries {
		if entry.Active {
			continue
		}
		active, err := e.isActive(ctx, entry.Script)
		if err != nil {
			return err
		}
		if active {
			entry.Active = true
			e.log.Debug().Str("address", entry.Address).Msg("address became active")
		}
	}

	for trailingInactive(entries) < int(e.gapLimit) {
		index := uint32(len(entries))
		addr, script, err := e.keychain.Derive(c, index)
		if err != nil {
			return err
		}
		active, err := e.isActive(ctx, script)
		if err != nil {
			return err
		}
		entries = append(entries, &types.AddressInfo{
			Chain:   c,
			Index:   index,
			Address: addr,
			Script:  script,
			Active:  active,
		})
	}

	e.chains[c] = entries
	e.log.Debug().Stringer("chain", c).Int("addresses", len(entries)).Msg("chain discovered")
	return nil
}

func (e *Engine) isActive(ctx context.Context, script []byte) (bool, error) {
	items, err := e.source.History(ctx, script)
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

func trailingInactive(entries []*types.AddressInfo) int {
	n := 0
	for i := len(entries) - 1; i >= 0 && !entries[i].Active; i-- {
		n++
	}
	return n
}

// Addresses returns a copy of the tracked entries for one chain, in
// derivation order.
func (e *Engine) Addresses(c types.Chain) []*types.AddressInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.AddressInfo, len(e.chains[c]))
	copy(out, e.chains[c])
	return out
}

// NextUnusedIndex returns the derivation index just past the last active
// entry on the chain. Change derived there sits at the start of the
// lookahead window, so the scan loop (and a fresh rescan from the account
// key) still reaches it once it confirms.
func (e *Engine) NextUnusedIndex(c types.Chain) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.chains[c]
	return uint32(len(entries) - trailingInactive(entries))
}

// OwnedAddresses returns every tracked address across both chains.
func (e *Engine) OwnedAddresses() map[string]struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	owned := make(map[string]struct{})
	for _, entries := range e.chains {
		for _, entry := range entries {
			owned[entry.Address] = struct{}{}
		}
	}
	return owned
}

// OwnedScripts returns the output script of every tracked address.
func (e *Engine) OwnedScripts() []types.HexBytes {
	e.mu.Lock()
	defer e.mu.Unlock()
	var scripts []types.HexBytes
	for _, c := range []types.Chain{types.External, types.Internal} {
		for _, entry := range e.chains[c] {
			scripts = append(scripts, entry.Script)
		}
	}
	return scripts
}

// LookupPath resolves a tracked address back to its derivation path.
func (e *Engine) LookupPath(addr string) (types.Chain, uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for c, entries := range e.chains {
		for _, entry := range entries {
			if entry.Address == addr {
				return c, entry.Index, true
			}
		}
	}
	return 0, 0, false
}
