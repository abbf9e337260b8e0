package position

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/quantleaf/crossarb/internal/domain"
)

type fakeQuotes map[domain.QuoteKey]domain.Quote

func (f fakeQuotes) Latest(key domain.QuoteKey) (domain.Quote, bool) {
	q, ok := f[key]
	return q, ok
}

func newTracker(quotes QuoteReader) *Tracker {
	return NewTracker(nil, nil, nil, quotes, slog.Default())
}

func fill(id string, side domain.Side, price, size float64) domain.Fill {
	return domain.Fill{
		FillID:     id,
		Venue:      domain.VenuePolymarket,
		Instrument: "asset-fed",
		Side:       side,
		Price:      price,
		Size:       size,
		At:         time.Now(),
	}
}

func TestApplyFillIdempotent(t *testing.T) {
	tr := newTracker(nil)
	ctx := context.Background()

	applied, err := tr.ApplyFill(ctx, fill("f1", domain.SideYes, 0.45, 100))
	if err != nil || !applied {
		t.Fatalf("first apply = (%v, %v)", applied, err)
	}
	applied, err = tr.ApplyFill(ctx, fill("f1", domain.SideYes, 0.45, 100))
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if applied {
		t.Error("duplicate fill applied")
	}

	pos, ok := tr.Get(domain.VenuePolymarket, "asset-fed")
	if !ok {
		t.Fatal("position missing")
	}
	if pos.NetSize != 100 {
		t.Errorf("net size = %v, want 100 (not doubled)", pos.NetSize)
	}
}

func TestApplyFillAveragesEntry(t *testing.T) {
	tr := newTracker(nil)
	ctx := context.Background()

	tr.ApplyFill(ctx, fill("f1", domain.SideYes, 0.40, 100))
	tr.ApplyFill(ctx, fill("f2", domain.SideYes, 0.50, 100))

	pos, _ := tr.Get(domain.VenuePolymarket, "asset-fed")
	if pos.NetSize != 200 {
		t.Errorf("net size = %v, want 200", pos.NetSize)
	}
	if pos.AvgEntry < 0.449 || pos.AvgEntry > 0.451 {
		t.Errorf("avg entry = %v, want 0.45", pos.AvgEntry)
	}
	if pos.RealizedPnL != 0 {
		t.Errorf("realized = %v, extending books no pnl", pos.RealizedPnL)
	}
}

func TestClosingFillRealizesPnL(t *testing.T) {
	tr := newTracker(nil)
	ctx := context.Background()

	// Long 100 YES at 0.40, then buy 100 NO at 0.55: in YES-equivalent
	// terms that is selling 100 YES at 0.45, realizing +5.
	tr.ApplyFill(ctx, fill("f1", domain.SideYes, 0.40, 100))
	tr.ApplyFill(ctx, fill("f2", domain.SideNo, 0.55, 100))

	pos, _ := tr.Get(domain.VenuePolymarket, "asset-fed")
	if pos.NetSize != 0 {
		t.Errorf("net size = %v, want flat", pos.NetSize)
	}
	if pos.RealizedPnL < 4.99 || pos.RealizedPnL > 5.01 {
		t.Errorf("realized = %v, want 5", pos.RealizedPnL)
	}
	if pos.AvgEntry != 0 {
		t.Errorf("avg entry = %v after flat, want 0", pos.AvgEntry)
	}
	if got := tr.RealizedPnL(); got < 4.99 || got > 5.01 {
		t.Errorf("total realized = %v, want 5", got)
	}
}

func TestFlipThroughFlat(t *testing.T) {
	tr := newTracker(nil)
	ctx := context.Background()

	tr.ApplyFill(ctx, fill("f1", domain.SideYes, 0.40, 100))
	// Buy 150 NO at 0.55 = sell 150 YES-equivalent at 0.45: closes 100
	// with +5 realized, opens short 50 at 0.45.
	tr.ApplyFill(ctx, fill("f2", domain.SideNo, 0.55, 150))

	pos, _ := tr.Get(domain.VenuePolymarket, "asset-fed")
	if pos.NetSize != -50 {
		t.Errorf("net size = %v, want -50", pos.NetSize)
	}
	if pos.AvgEntry < 0.449 || pos.AvgEntry > 0.451 {
		t.Errorf("avg entry = %v, want new entry 0.45", pos.AvgEntry)
	}
	if pos.RealizedPnL < 4.99 || pos.RealizedPnL > 5.01 {
		t.Errorf("realized = %v, want 5", pos.RealizedPnL)
	}
}

func TestExposureSides(t *testing.T) {
	tr := newTracker(nil)
	ctx := context.Background()

	tr.ApplyFill(ctx, fill("f1", domain.SideYes, 0.40, 80))

	if got := tr.Exposure(domain.VenuePolymarket, "asset-fed", domain.SideYes); got != 80 {
		t.Errorf("yes exposure = %v, want 80", got)
	}
	if got := tr.Exposure(domain.VenuePolymarket, "asset-fed", domain.SideNo); got != 0 {
		t.Errorf("no exposure = %v, want 0", got)
	}
	if got := tr.TotalNotional(); got < 31.99 || got > 32.01 {
		t.Errorf("notional = %v, want 32", got)
	}
}

func TestUnrealizedPnLMarksAgainstQuotes(t *testing.T) {
	quotes := fakeQuotes{
		{Venue: domain.VenuePolymarket, Instrument: "asset-fed", Side: domain.SideYes}: {
			Bid: 0.48, Ask: 0.52, At: time.Now(),
		},
	}
	tr := newTracker(quotes)
	ctx := context.Background()

	tr.ApplyFill(ctx, fill("f1", domain.SideYes, 0.40, 100))

	// Mid 0.50 against entry 0.40 on 100 contracts.
	if got := tr.UnrealizedPnL(); got < 9.99 || got > 10.01 {
		t.Errorf("unrealized = %v, want 10", got)
	}
}

func TestUnrealizedPnLSkipsUnquoted(t *testing.T) {
	tr := newTracker(fakeQuotes{})
	ctx := context.Background()

	tr.ApplyFill(ctx, fill("f1", domain.SideYes, 0.40, 100))

	if got := tr.UnrealizedPnL(); got != 0 {
		t.Errorf("unrealized = %v, want 0 without a mark", got)
	}
}
