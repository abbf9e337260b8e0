package aggregator

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/quantleaf/crossarb/internal/domain"
)

func quoteAt(at time.Time, ask float64) domain.Quote {
	return domain.Quote{
		Venue:      domain.VenuePolymarket,
		Instrument: "asset-1",
		Side:       domain.SideYes,
		Bid:        ask - 0.02,
		Ask:        ask,
		BidSize:    50,
		AskSize:    50,
		At:         at,
	}
}

func TestUpdateReplacesOnlyNewer(t *testing.T) {
	b := New(5*time.Second, slog.Default())
	now := time.Now()

	if !b.Update(quoteAt(now, 0.40)) {
		t.Fatal("first update rejected")
	}
	// Older observation must not supersede.
	if b.Update(quoteAt(now.Add(-time.Second), 0.99)) {
		t.Error("out-of-order update accepted")
	}
	// Equal timestamp is a duplicate.
	if b.Update(quoteAt(now, 0.99)) {
		t.Error("duplicate-timestamp update accepted")
	}

	got, ok := b.Latest(quoteAt(now, 0).Key())
	if !ok {
		t.Fatal("latest missing")
	}
	if got.Ask != 0.40 {
		t.Errorf("ask = %v, want 0.40", got.Ask)
	}

	if !b.Update(quoteAt(now.Add(time.Second), 0.41)) {
		t.Fatal("newer update rejected")
	}
	got, _ = b.Latest(quoteAt(now, 0).Key())
	if got.Ask != 0.41 {
		t.Errorf("ask after replace = %v, want 0.41", got.Ask)
	}
}

func TestLatestTreatsStaleAsMissing(t *testing.T) {
	b := New(100*time.Millisecond, slog.Default())
	b.Update(quoteAt(time.Now().Add(-time.Second), 0.40))

	if _, ok := b.Latest(quoteAt(time.Time{}, 0).Key()); ok {
		t.Error("stale quote returned as fresh")
	}
}

func TestUpdateNotifies(t *testing.T) {
	b := New(5*time.Second, slog.Default())
	b.Update(quoteAt(time.Now(), 0.40))

	select {
	case q := <-b.Updates():
		if q.Ask != 0.40 {
			t.Errorf("notified ask = %v", q.Ask)
		}
	default:
		t.Fatal("no notification published")
	}
}

func TestPairQuotesRequiresOneReadyDirection(t *testing.T) {
	b := New(5*time.Second, slog.Default())
	pair := domain.MarketPair{Name: "p", PolymarketID: "asset-1", KalshiTicker: "TICK"}
	now := time.Now()

	if _, err := b.PairQuotes(pair); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("empty book: err = %v, want ErrNotReady", err)
	}

	// One leg alone is not enough for any direction.
	b.Update(quoteAt(now, 0.40))
	if _, err := b.PairQuotes(pair); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("single leg: err = %v, want ErrNotReady", err)
	}

	b.Update(domain.Quote{
		Venue: domain.VenueKalshi, Instrument: "TICK", Side: domain.SideNo,
		Bid: 0.55, Ask: 0.57, AskSize: 30, At: now,
	})
	pq, err := b.PairQuotes(pair)
	if err != nil {
		t.Fatalf("both legs: %v", err)
	}
	if !pq.Ready(domain.DirectionPolyYesKalshiNo) {
		t.Error("poly_yes_kalshi_no should be ready")
	}
	if pq.Ready(domain.DirectionPolyNoKalshiYes) {
		t.Error("poly_no_kalshi_yes should not be ready")
	}
}

func TestPairQuotesInertPair(t *testing.T) {
	b := New(5*time.Second, slog.Default())
	pair := domain.MarketPair{Name: "inert", PolymarketID: "asset-1"}

	if _, err := b.PairQuotes(pair); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("inert pair: err = %v, want ErrNotReady", err)
	}
}
