// Package position maintains the authoritative view of open exposure and
// realized/unrealized profit. All writes go through a single serialized
// mutation path fed by confirmed fills; reads take lock-free snapshots of
// per-instrument cells, so the risk manager and status reporting never
// block the fill path.
package position

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantleaf/crossarb/internal/domain"
)

// fillDedupTTL bounds the fast-path processed-fill entries in the cache;
// the durable FillStore record outlives them.
const fillDedupTTL = 24 * time.Hour

type posKey struct {
	venue      domain.Venue
	instrument string
}

// QuoteReader supplies marks for unrealized PnL; implemented by the
// aggregator.
type QuoteReader interface {
	Latest(key domain.QuoteKey) (domain.Quote, bool)
}

// Tracker owns every Position. store, fills, and dedup are optional; when
// nil the tracker runs purely in memory.
type Tracker struct {
	mu        sync.Mutex // serializes the mutation path
	cells     sync.Map   // posKey -> *atomic.Pointer[domain.Position]
	processed map[string]struct{}

	store  domain.PositionStore
	fills  domain.FillStore
	dedup  domain.FillDedup
	quotes QuoteReader
	logger *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(store domain.PositionStore, fills domain.FillStore, dedup domain.FillDedup, quotes QuoteReader, logger *slog.Logger) *Tracker {
	return &Tracker{
		processed: make(map[string]struct{}),
		store:     store,
		fills:     fills,
		dedup:     dedup,
		quotes:    quotes,
		logger:    logger.With(slog.String("component", "position_tracker")),
	}
}

// Restore loads persisted position snapshots so a restart resumes with the
// same view of open exposure.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	open, err := t.store.ListOpen(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pos := range open {
		p := pos
		t.cell(posKey{p.Venue, p.Instrument}).Store(&p)
	}
	t.logger.Info("positions restored", slog.Int("count", len(open)))
	return nil
}

// ApplyFill applies one confirmed fill, idempotently keyed by the
// venue-issued fill identifier: the second application of the same fill ID
// is a no-op and returns false. Realized PnL is booked on the portion of
// the fill that reduces existing exposure.
func (t *Tracker) ApplyFill(ctx context.Context, fill domain.Fill) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, seen := t.processed[fill.FillID]; seen {
		return false, nil
	}
	if t.dedup != nil {
		if seen, err := t.dedup.Seen(ctx, fill.FillID); err == nil && seen {
			t.processed[fill.FillID] = struct{}{}
			return false, nil
		}
	}
	if t.fills != nil {
		inserted, err := t.fills.MarkProcessed(ctx, fill)
		if err != nil {
			return false, err
		}
		if !inserted {
			t.processed[fill.FillID] = struct{}{}
			return false, nil
		}
	}
	t.processed[fill.FillID] = struct{}{}

	// Convert to YES-equivalent terms: one NO bought at p is one YES sold
	// at 1-p against the payout.
	delta := fill.Size
	entry := fill.Price
	if fill.Side == domain.SideNo {
		delta = -fill.Size
		entry = domain.Payout - fill.Price
	}

	key := posKey{fill.Venue, fill.Instrument}
	cell := t.cell(key)
	cur := cell.Load()
	var pos domain.Position
	if cur != nil {
		pos = *cur
	} else {
		pos = domain.Position{Venue: fill.Venue, Instrument: fill.Instrument}
	}

	pos = applyDelta(pos, delta, entry)
	pos.UpdatedAt = fill.At
	cell.Store(&pos)

	if t.store != nil {
		if err := t.store.Upsert(ctx, pos); err != nil {
			t.logger.Warn("position snapshot persist failed",
				slog.String("instrument", fill.Instrument),
				slog.String("error", err.Error()),
			)
		}
	}
	if t.dedup != nil {
		if err := t.dedup.Record(ctx, fill.FillID, fillDedupTTL); err != nil {
			t.logger.Debug("fill dedup record failed",
				slog.String("fill_id", fill.FillID),
				slog.String("error", err.Error()),
			)
		}
	}

	t.logger.Info("fill applied",
		slog.String("fill_id", fill.FillID),
		slog.String("venue", string(fill.Venue)),
		slog.String("instrument", fill.Instrument),
		slog.Float64("net_size", pos.NetSize),
		slog.Float64("realized_pnl", pos.RealizedPnL),
	)
	return true, nil
}

// applyDelta merges a signed YES-equivalent fill into a position: same-sign
// fills extend at a weighted average entry, opposite-sign fills realize PnL
// on the closed portion and may flip through flat.
func applyDelta(pos domain.Position, delta, entry float64) domain.Position {
	switch {
	case pos.NetSize == 0 || sameSign(pos.NetSize, delta):
		total := pos.NetSize + delta
		if total != 0 {
			pos.AvgEntry = (pos.AvgEntry*abs(pos.NetSize) + entry*abs(delta)) / abs(total)
		}
		pos.NetSize = total

	case abs(delta) <= abs(pos.NetSize):
		// Pure reduction: realize on the closed size, entry unchanged.
		closed := abs(delta)
		pos.RealizedPnL += realize(pos.NetSize, pos.AvgEntry, entry, closed)
		pos.NetSize += delta
		if pos.NetSize == 0 {
			pos.AvgEntry = 0
		}

	default:
		// Flip: close everything, then open the remainder at the new entry.
		closed := abs(pos.NetSize)
		pos.RealizedPnL += realize(pos.NetSize, pos.AvgEntry, entry, closed)
		pos.NetSize += delta
		pos.AvgEntry = entry
	}
	return pos
}

// realize prices the closed portion: a long closes at the exit price, a
// short closes at the exit against its entry.
func realize(net, avgEntry, exit, closed float64) float64 {
	if net > 0 {
		return (exit - avgEntry) * closed
	}
	return (avgEntry - exit) * closed
}

// Get returns the current position snapshot for an instrument.
func (t *Tracker) Get(venue domain.Venue, instrument string) (domain.Position, bool) {
	v, ok := t.cells.Load(posKey{venue, instrument})
	if !ok {
		return domain.Position{}, false
	}
	p := v.(*atomic.Pointer[domain.Position]).Load()
	if p == nil {
		return domain.Position{}, false
	}
	return *p, true
}

// Exposure returns the unsigned open size on one side of an instrument.
// Part of the risk manager's PositionReader view.
func (t *Tracker) Exposure(venue domain.Venue, instrument string, side domain.Side) float64 {
	pos, ok := t.Get(venue, instrument)
	if !ok {
		return 0
	}
	return pos.Exposure(side)
}

// TotalNotional sums the entry-priced value of all open positions. Part of
// the risk manager's PositionReader view.
func (t *Tracker) TotalNotional() float64 {
	var total float64
	t.cells.Range(func(_, v any) bool {
		if p := v.(*atomic.Pointer[domain.Position]).Load(); p != nil {
			total += p.Notional()
		}
		return true
	})
	return total
}

// RealizedPnL sums booked profit across all instruments.
func (t *Tracker) RealizedPnL() float64 {
	var total float64
	t.cells.Range(func(_, v any) bool {
		if p := v.(*atomic.Pointer[domain.Position]).Load(); p != nil {
			total += p.RealizedPnL
		}
		return true
	})
	return total
}

// UnrealizedPnL marks every open position against the latest YES-side mid
// from the aggregator. Instruments without a fresh quote contribute zero;
// stale marks are worse than none.
func (t *Tracker) UnrealizedPnL() float64 {
	if t.quotes == nil {
		return 0
	}
	var total float64
	t.cells.Range(func(_, v any) bool {
		p := v.(*atomic.Pointer[domain.Position]).Load()
		if p == nil || p.Flat() {
			return true
		}
		q, ok := t.quotes.Latest(domain.QuoteKey{
			Venue:      p.Venue,
			Instrument: p.Instrument,
			Side:       domain.SideYes,
		})
		if !ok || q.Bid <= 0 || q.Ask <= 0 {
			return true
		}
		mark := (q.Bid + q.Ask) / 2
		total += (mark - p.AvgEntry) * p.NetSize
		return true
	})
	return total
}

// Open returns a snapshot of every non-flat position.
func (t *Tracker) Open() []domain.Position {
	var out []domain.Position
	t.cells.Range(func(_, v any) bool {
		if p := v.(*atomic.Pointer[domain.Position]).Load(); p != nil && !p.Flat() {
			out = append(out, *p)
		}
		return true
	})
	return out
}

func (t *Tracker) cell(key posKey) *atomic.Pointer[domain.Position] {
	if v, ok := t.cells.Load(key); ok {
		return v.(*atomic.Pointer[domain.Position])
	}
	v, _ := t.cells.LoadOrStore(key, new(atomic.Pointer[domain.Position]))
	return v.(*atomic.Pointer[domain.Position])
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
