package registry

import "fmt"

// Entry binds a collateral asset symbol to its oracle price-feed identifier.
type Entry struct {
	Symbol string
	FeedID string
}

// Registry is the fixed set of approved collateral assets. It is populated
// once at construction and never mutated afterwards; the symbol order is the
// insertion order and drives deterministic iteration during valuation.
type Registry struct {
	feeds   map[string]string
	symbols []string
}

// New builds a registry from entries. Duplicate symbols and empty fields are
// construction errors — the asset set is a configuration invariant, not
// runtime state.
func New(entries []Entry) (*Registry, error) {
	r := &Registry{
		feeds:   make(map[string]string, len(entries)),
		symbols: make([]string, 0, len(entries)),
	}

	for _, e := range entries {
		if e.Symbol == "" || e.FeedID == "" {
			return nil, fmt.Errorf("registry entry %+v: symbol and feed required", e)
		}
		if _, dup := r.feeds[e.Symbol]; dup {
			return nil, fmt.Errorf("duplicate asset symbol %q", e.Symbol)
		}
		r.feeds[e.Symbol] = e.FeedID
		r.symbols = append(r.symbols, e.Symbol)
	}

	return r, nil
}

// Has reports whether the asset is registered.
func (r *Registry) Has(asset string) bool {
	_, ok := r.feeds[asset]
	return ok
}

// FeedOf returns the oracle feed identifier for a registered asset.
func (r *Registry) FeedOf(asset string) (string, bool) {
	feed, ok := r.feeds[asset]
	return feed, ok
}

// Symbols returns the registered asset symbols in insertion order. The
// returned slice is a copy.
func (r *Registry) Symbols() []string {
	out := make([]string, len(r.symbols))
	copy(out, r.symbols)
	return out
}
