package discovery

import (
	"context"
	"fmt"
	"testing"

	"github.com/lunanimous/keyguard/internal/chain"
	"github.com/lunanimous/keyguard/pkg/types"
)

// fakeKeychain derives deterministic fake addresses and scripts.
type fakeKeychain struct{}

func (fakeKeychain) Derive(c types.Chain, index uint32) (string, types.HexBytes, error) {
	addr := fmt.Sprintf("addr-%s-%d", c, index)
	return addr, types.HexBytes{byte(c), byte(index)}, nil
}

// fakeSource reports activity for a configured set of scripts and
// counts lookups per script.
type fakeSource struct {
	active  map[string]bool
	lookups map[string]int
}

func newFakeSource(active ...types.HexBytes) *fakeSource {
	s := &fakeSource{active: make(map[string]bool), lookups: make(map[string]int)}
	for _, script := range active {
		s.active[script.String()] = true
	}
	return s
}

func (s *fakeSource) History(_ context.Context, script []byte) ([]chain.HistoryItem, error) {
	key := types.HexBytes(script).String()
	s.lookups[key]++
	if s.active[key] {
		return []chain.HistoryItem{{Height: 100}}, nil
	}
	return nil, nil
}

func script(c types.Chain, index uint32) types.HexBytes {
	return types.HexBytes{byte(c), byte(index)}
}

func TestDiscoverStopsAtGapLimit(t *testing.T) {
	// External 0, 1, 2 used, 3 unused. With a gap limit of 1 the first
	// unused address closes the chain; index 4 must never be derived.
	src := newFakeSource(
		script(types.External, 0),
		script(types.External, 1),
		script(types.External, 2),
	)
	eng := NewEngine(fakeKeychain{}, src, 1)

	if err := eng.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	ext := eng.Addresses(types.External)
	if len(ext) != 4 {
		t.Fatalf("external addresses = %d, want 4", len(ext))
	}
	for i, want := range []bool{true, true, true, false} {
		if ext[i].Active != want {
			t.Errorf("external %d active = %v, want %v", i, ext[i].Active, want)
		}
		if ext[i].Index != uint32(i) || ext[i].Chain != types.External {
			t.Errorf("external %d path = %s/%d", i, ext[i].Chain, ext[i].Index)
		}
	}
	if n := src.lookups[script(types.External, 4).String()]; n != 0 {
		t.Errorf("index 4 looked up %d times, want 0", n)
	}

	// Internal chain has no activity at all: one probe and done.
	internal := eng.Addresses(types.Internal)
	if len(internal) != 1 || internal[0].Active {
		t.Errorf("internal chain = %+v, want single inactive entry", internal)
	}
}

func TestDiscoverRescansInactiveAndExtends(t *testing.T) {
	src := newFakeSource(script(types.External, 0))
	eng := NewEngine(fakeKeychain{}, src, 2)

	if err := eng.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if got := len(eng.Addresses(types.External)); got != 3 {
		t.Fatalf("external addresses = %d, want 3 (one used, two lookahead)", got)
	}

	// Index 2 sees funds between syncs. The rescan must flip it active
	// and the window must extend past it.
	src.active[script(types.External, 2).String()] = true
	if err := eng.Discover(context.Background()); err != nil {
		t.Fatalf("second Discover: %v", err)
	}

	ext := eng.Addresses(types.External)
	if len(ext) != 5 {
		t.Fatalf("external addresses = %d, want 5", len(ext))
	}
	if !ext[2].Active {
		t.Error("index 2 not marked active on rescan")
	}
	if ext[3].Active || ext[4].Active {
		t.Error("lookahead entries unexpectedly active")
	}

	// Active entries are settled. They must not be probed again.
	if n := src.lookups[script(types.External, 0).String()]; n != 1 {
		t.Errorf("index 0 looked up %d times, want 1", n)
	}
}

func TestNextUnusedIndexStaysInWindow(t *testing.T) {
	// Internal 0 holds change already. With a gap limit of 2 the chain ends
	// with exactly two inactive lookahead entries, so picking the index past
	// them would park new change where the scan loop never looks.
	src := newFakeSource(script(types.Internal, 0))
	eng := NewEngine(fakeKeychain{}, src, 2)
	if err := eng.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	internal := eng.Addresses(types.Internal)
	if len(internal) != 3 {
		t.Fatalf("internal addresses = %d, want 3", len(internal))
	}
	next := eng.NextUnusedIndex(types.Internal)
	if next != 1 {
		t.Fatalf("NextUnusedIndex = %d, want 1", next)
	}
	if int(next) >= len(internal) {
		t.Fatalf("next index %d outside the tracked window of %d", next, len(internal))
	}

	// Change lands at index 1 and confirms. The rescan must see it and
	// extend the window, and the next change index must advance.
	src.active[script(types.Internal, next).String()] = true
	if err := eng.Discover(context.Background()); err != nil {
		t.Fatalf("second Discover: %v", err)
	}
	internal = eng.Addresses(types.Internal)
	if len(internal) != 4 || !internal[1].Active {
		t.Fatalf("rescan missed the change address: %d entries, index 1 active=%v",
			len(internal), internal[1].Active)
	}
	if got := eng.NextUnusedIndex(types.Internal); got != 2 {
		t.Errorf("NextUnusedIndex after change confirmed = %d, want 2", got)
	}
}

func TestDiscoverNilKeychain(t *testing.T) {
	src := newFakeSource()
	eng := NewEngine(nil, src, 2)

	if err := eng.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(eng.Addresses(types.External)) != 0 || len(eng.Addresses(types.Internal)) != 0 {
		t.Error("nil keychain derived addresses")
	}
	if len(src.lookups) != 0 {
		t.Error("nil keychain still queried the source")
	}
}

func TestLookupPath(t *testing.T) {
	src := newFakeSource(script(types.Internal, 0))
	eng := NewEngine(fakeKeychain{}, src, 1)
	if err := eng.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	c, index, ok := eng.LookupPath("addr-internal-0")
	if !ok || c != types.Internal || index != 0 {
		t.Errorf("LookupPath = %s/%d ok=%v", c, index, ok)
	}
	if _, _, ok := eng.LookupPath("addr-external-99"); ok {
		t.Error("LookupPath matched an unknown address")
	}

	owned := eng.OwnedAddresses()
	if _, ok := owned["addr-internal-0"]; !ok {
		t.Error("OwnedAddresses missing a tracked address")
	}
}
