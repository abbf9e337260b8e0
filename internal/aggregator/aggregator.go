// Package aggregator maintains the latest canonical quote per
// (venue, instrument, side) cell and pushes change notifications to the
// detector. Each cell has a single-writer replace-if-newer discipline with
// lock-free snapshot reads, so feed goroutines from both venues can update
// concurrently while the detector reads without blocking them.
package aggregator

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantleaf/crossarb/internal/domain"
)

// PairQuotes is a point-in-time view of the four quote cells backing one
// market pair. Quotes that are missing or stale are zero-valued.
type PairQuotes struct {
	PolyYes   domain.Quote
	PolyNo    domain.Quote
	KalshiYes domain.Quote
	KalshiNo  domain.Quote
	At        time.Time
}

// Ready reports whether the given direction has both legs fresh.
func (pq PairQuotes) Ready(dir domain.Direction) bool {
	switch dir {
	case domain.DirectionPolyYesKalshiNo:
		return !pq.PolyYes.At.IsZero() && !pq.KalshiNo.At.IsZero()
	case domain.DirectionPolyNoKalshiYes:
		return !pq.PolyNo.At.IsZero() && !pq.KalshiYes.At.IsZero()
	default:
		return false
	}
}

// Book holds the latest quote per cell.
type Book struct {
	staleAfter time.Duration
	cells      sync.Map // domain.QuoteKey -> *atomic.Pointer[domain.Quote]
	updates    chan domain.Quote
	dropped    atomic.Int64
	logger     *slog.Logger
}

// New creates a Book. staleAfter is the maximum quote age tolerated by
// Latest and PairQuotes; older data is treated as missing, which is a
// routine condition rather than an error.
func New(staleAfter time.Duration, logger *slog.Logger) *Book {
	return &Book{
		staleAfter: staleAfter,
		updates:    make(chan domain.Quote, 256),
		logger:     logger.With(slog.String("component", "aggregator")),
	}
}

// Updates returns the change-notification channel consumed by the detector.
// Notifications are best-effort: when the consumer lags the latest state is
// still readable through Latest, only the wake-up is dropped.
func (b *Book) Updates() <-chan domain.Quote {
	return b.updates
}

// Update stores q if it is newer than the current quote for its cell and
// publishes a change notification. Stale and duplicate updates are ignored.
func (b *Book) Update(q domain.Quote) bool {
	cell := b.cell(q.Key())
	for {
		cur := cell.Load()
		if cur != nil && !q.At.After(cur.At) {
			return false
		}
		if cell.CompareAndSwap(cur, &q) {
			break
		}
	}

	select {
	case b.updates <- q:
	default:
		if n := b.dropped.Add(1); n%1000 == 1 {
			b.logger.Warn("update notifications dropped, consumer lagging",
				slog.Int64("total_dropped", n),
			)
		}
	}
	return true
}

// Latest returns the freshest quote for the cell, or false when the cell is
// empty or older than the staleness threshold.
func (b *Book) Latest(key domain.QuoteKey) (domain.Quote, bool) {
	v, ok := b.cells.Load(key)
	if !ok {
		return domain.Quote{}, false
	}
	q := v.(*atomic.Pointer[domain.Quote]).Load()
	if q == nil || !q.Fresh(time.Now(), b.staleAfter) {
		return domain.Quote{}, false
	}
	return *q, true
}

// PairQuotes assembles the four cells behind a market pair. It returns
// domain.ErrNotReady when no direction of the pair has both legs fresh.
func (b *Book) PairQuotes(pair domain.MarketPair) (PairQuotes, error) {
	pq := PairQuotes{At: time.Now()}
	if !pair.Tradable() {
		return pq, domain.ErrNotReady
	}
	pq.PolyYes, _ = b.Latest(domain.QuoteKey{Venue: domain.VenuePolymarket, Instrument: pair.PolymarketID, Side: domain.SideYes})
	pq.PolyNo, _ = b.Latest(domain.QuoteKey{Venue: domain.VenuePolymarket, Instrument: pair.PolymarketID, Side: domain.SideNo})
	pq.KalshiYes, _ = b.Latest(domain.QuoteKey{Venue: domain.VenueKalshi, Instrument: pair.KalshiTicker, Side: domain.SideYes})
	pq.KalshiNo, _ = b.Latest(domain.QuoteKey{Venue: domain.VenueKalshi, Instrument: pair.KalshiTicker, Side: domain.SideNo})

	if !pq.Ready(domain.DirectionPolyYesKalshiNo) && !pq.Ready(domain.DirectionPolyNoKalshiYes) {
		return pq, domain.ErrNotReady
	}
	return pq, nil
}

// StaleAfter returns the configured staleness threshold.
func (b *Book) StaleAfter() time.Duration {
	return b.staleAfter
}

func (b *Book) cell(key domain.QuoteKey) *atomic.Pointer[domain.Quote] {
	if v, ok := b.cells.Load(key); ok {
		return v.(*atomic.Pointer[domain.Quote])
	}
	v, _ := b.cells.LoadOrStore(key, new(atomic.Pointer[domain.Quote]))
	return v.(*atomic.Pointer[domain.Quote])
}
