package detector

import (
	"log/slog"
	"testing"
	"time"

	"github.com/quantleaf/crossarb/internal/aggregator"
	"github.com/quantleaf/crossarb/internal/domain"
	"github.com/quantleaf/crossarb/internal/matcher"
)

func near(got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}

var testPair = domain.MarketPair{
	Name:         "fed-cut",
	PolymarketID: "asset-fed",
	KalshiTicker: "FED-25DEC",
}

func newDetector(t *testing.T, cfg Config) (*Detector, *aggregator.Book) {
	t.Helper()
	m, err := matcher.New([]domain.MarketPair{testPair})
	if err != nil {
		t.Fatalf("matcher: %v", err)
	}
	book := aggregator.New(5*time.Second, slog.Default())
	out := make(chan domain.Opportunity, 8)
	return New(cfg, book, m, out, slog.Default()), book
}

func feedQuote(book *aggregator.Book, v domain.Venue, instrument string, side domain.Side, ask, size float64) {
	book.Update(domain.Quote{
		Venue:      v,
		Instrument: instrument,
		Side:       side,
		Bid:        ask - 0.02,
		Ask:        ask,
		BidSize:    size,
		AskSize:    size,
		At:         time.Now(),
	})
}

func TestEvaluateEmitsWhenCombinedCostLow(t *testing.T) {
	d, book := newDetector(t, Config{MinProfit: 0.02, DefaultFeeRate: 0.01})

	// 0.45 + 0.50 = 0.95; margin = 1.00 - 0.95 - 0.01 = 0.04.
	feedQuote(book, domain.VenuePolymarket, "asset-fed", domain.SideYes, 0.45, 100)
	feedQuote(book, domain.VenueKalshi, "FED-25DEC", domain.SideNo, 0.50, 60)

	opp, ok := d.Evaluate(testPair)
	if !ok {
		t.Fatal("no opportunity emitted")
	}
	if opp.Direction != domain.DirectionPolyYesKalshiNo {
		t.Errorf("direction = %s", opp.Direction)
	}
	if !near(opp.CombinedCost, 0.95) {
		t.Errorf("combined cost = %v, want 0.95", opp.CombinedCost)
	}
	if !near(opp.Margin, 0.04) {
		t.Errorf("margin = %v, want 0.04", opp.Margin)
	}
	if opp.Size != 60 {
		t.Errorf("size = %v, want min ask size 60", opp.Size)
	}
}

func TestEvaluateRespectsMinProfit(t *testing.T) {
	d, book := newDetector(t, Config{MinProfit: 0.05, DefaultFeeRate: 0.01})

	// Margin 0.04 < min profit 0.05: stays silent.
	feedQuote(book, domain.VenuePolymarket, "asset-fed", domain.SideYes, 0.45, 100)
	feedQuote(book, domain.VenueKalshi, "FED-25DEC", domain.SideNo, 0.50, 60)

	if _, ok := d.Evaluate(testPair); ok {
		t.Error("opportunity emitted below min profit")
	}
}

func TestEvaluatePicksLargerMargin(t *testing.T) {
	d, book := newDetector(t, Config{MinProfit: 0.01, DefaultFeeRate: 0})

	// Both directions qualify; poly_no+kalshi_yes is cheaper.
	feedQuote(book, domain.VenuePolymarket, "asset-fed", domain.SideYes, 0.47, 100)
	feedQuote(book, domain.VenuePolymarket, "asset-fed", domain.SideNo, 0.45, 100)
	feedQuote(book, domain.VenueKalshi, "FED-25DEC", domain.SideYes, 0.48, 100)
	feedQuote(book, domain.VenueKalshi, "FED-25DEC", domain.SideNo, 0.49, 100)

	opp, ok := d.Evaluate(testPair)
	if !ok {
		t.Fatal("no opportunity emitted")
	}
	if opp.Direction != domain.DirectionPolyNoKalshiYes {
		t.Errorf("direction = %s, want poly_no_kalshi_yes", opp.Direction)
	}
	if !near(opp.CombinedCost, 0.93) {
		t.Errorf("combined cost = %v, want 0.93", opp.CombinedCost)
	}
}

func TestEvaluateTieBreaksOnSize(t *testing.T) {
	d, book := newDetector(t, Config{MinProfit: 0.01, DefaultFeeRate: 0})

	// Equal combined cost both ways; the kalshi_yes leg offers more size.
	feedQuote(book, domain.VenuePolymarket, "asset-fed", domain.SideYes, 0.45, 50)
	feedQuote(book, domain.VenuePolymarket, "asset-fed", domain.SideNo, 0.45, 200)
	feedQuote(book, domain.VenueKalshi, "FED-25DEC", domain.SideYes, 0.50, 300)
	feedQuote(book, domain.VenueKalshi, "FED-25DEC", domain.SideNo, 0.50, 50)

	opp, ok := d.Evaluate(testPair)
	if !ok {
		t.Fatal("no opportunity emitted")
	}
	if opp.Direction != domain.DirectionPolyNoKalshiYes {
		t.Errorf("direction = %s, want the larger-size combination", opp.Direction)
	}
	if opp.Size != 200 {
		t.Errorf("size = %v, want 200", opp.Size)
	}
}

func TestEvaluateUsesPairFeeRate(t *testing.T) {
	pair := testPair
	pair.FeeRate = 0.04
	m, err := matcher.New([]domain.MarketPair{pair})
	if err != nil {
		t.Fatalf("matcher: %v", err)
	}
	book := aggregator.New(5*time.Second, slog.Default())
	d := New(Config{MinProfit: 0.02, DefaultFeeRate: 0}, book, m, make(chan domain.Opportunity, 1), slog.Default())

	// Margin before fees 0.05, after pair fee 0.01 < 0.02.
	feedQuote(book, domain.VenuePolymarket, "asset-fed", domain.SideYes, 0.45, 100)
	feedQuote(book, domain.VenueKalshi, "FED-25DEC", domain.SideNo, 0.50, 60)

	if _, ok := d.Evaluate(pair); ok {
		t.Error("pair fee rate not applied")
	}
}

func TestOpportunityIDsMonotonic(t *testing.T) {
	d, book := newDetector(t, Config{MinProfit: 0.02, DefaultFeeRate: 0})

	feedQuote(book, domain.VenuePolymarket, "asset-fed", domain.SideYes, 0.45, 100)
	feedQuote(book, domain.VenueKalshi, "FED-25DEC", domain.SideNo, 0.50, 60)

	first, ok := d.Evaluate(testPair)
	if !ok {
		t.Fatal("no first opportunity")
	}
	second, ok := d.Evaluate(testPair)
	if !ok {
		t.Fatal("no second opportunity")
	}
	if second.ID <= first.ID {
		t.Errorf("ids not increasing: %d then %d", first.ID, second.ID)
	}
}

func TestEvaluateStaleQuotesSilent(t *testing.T) {
	d, book := newDetector(t, Config{MinProfit: 0.02, DefaultFeeRate: 0})

	book.Update(domain.Quote{
		Venue: domain.VenuePolymarket, Instrument: "asset-fed", Side: domain.SideYes,
		Ask: 0.40, AskSize: 100, At: time.Now().Add(-time.Minute),
	})
	book.Update(domain.Quote{
		Venue: domain.VenueKalshi, Instrument: "FED-25DEC", Side: domain.SideNo,
		Ask: 0.40, AskSize: 100, At: time.Now().Add(-time.Minute),
	})

	if _, ok := d.Evaluate(testPair); ok {
		t.Error("opportunity emitted from stale quotes")
	}
}
