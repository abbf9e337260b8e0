// Package matcher maps logical events to one tradable instrument per venue.
// The mapping is static, loaded from configuration, and consulted on every
// quote tick to find the pair a given instrument belongs to.
package matcher

import (
	"fmt"
	"sync"

	"github.com/quantleaf/crossarb/internal/domain"
)

// Matcher indexes market pairs by their per-venue instrument identifiers.
type Matcher struct {
	mu     sync.RWMutex
	byPoly map[string]domain.MarketPair
	byKal  map[string]domain.MarketPair
	pairs  []domain.MarketPair
}

// New builds a Matcher from the configured pairs. Inert pairs (one leg
// missing) are kept for listing but never returned by instrument lookups,
// so no opportunities are ever evaluated for them.
func New(pairs []domain.MarketPair) (*Matcher, error) {
	m := &Matcher{
		byPoly: make(map[string]domain.MarketPair, len(pairs)),
		byKal:  make(map[string]domain.MarketPair, len(pairs)),
		pairs:  make([]domain.MarketPair, 0, len(pairs)),
	}
	for _, p := range pairs {
		if p.Name == "" {
			return nil, fmt.Errorf("matcher: pair with empty name")
		}
		if p.Tradable() {
			if _, dup := m.byPoly[p.PolymarketID]; dup {
				return nil, fmt.Errorf("matcher: duplicate polymarket instrument %q", p.PolymarketID)
			}
			if _, dup := m.byKal[p.KalshiTicker]; dup {
				return nil, fmt.Errorf("matcher: duplicate kalshi ticker %q", p.KalshiTicker)
			}
			m.byPoly[p.PolymarketID] = p
			m.byKal[p.KalshiTicker] = p
		}
		m.pairs = append(m.pairs, p)
	}
	return m, nil
}

// ByInstrument returns the tradable pair containing the given venue
// instrument, if any.
func (m *Matcher) ByInstrument(v domain.Venue, instrument string) (domain.MarketPair, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch v {
	case domain.VenuePolymarket:
		p, ok := m.byPoly[instrument]
		return p, ok
	case domain.VenueKalshi:
		p, ok := m.byKal[instrument]
		return p, ok
	default:
		return domain.MarketPair{}, false
	}
}

// Add registers an additional pair at runtime.
func (m *Matcher) Add(p domain.MarketPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Tradable() {
		if _, dup := m.byPoly[p.PolymarketID]; dup {
			return domain.ErrAlreadyExists
		}
		if _, dup := m.byKal[p.KalshiTicker]; dup {
			return domain.ErrAlreadyExists
		}
		m.byPoly[p.PolymarketID] = p
		m.byKal[p.KalshiTicker] = p
	}
	m.pairs = append(m.pairs, p)
	return nil
}

// All returns every configured pair, inert ones included.
func (m *Matcher) All() []domain.MarketPair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.MarketPair, len(m.pairs))
	copy(out, m.pairs)
	return out
}

// Instruments returns the tradable instrument identifiers per venue, used by
// the feeds to build their subscriptions.
func (m *Matcher) Instruments(v domain.Venue) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, p := range m.pairs {
		if !p.Tradable() {
			continue
		}
		out = append(out, p.Instrument(v))
	}
	return out
}
