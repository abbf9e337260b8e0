// Package detector scans aggregated quotes for cross-venue combinations
// whose combined cost sits below the payout net of fees and the required
// profit margin. Evaluation is event-triggered per quote update rather than
// polled, which keeps the quote-to-emission latency in the low milliseconds.
package detector

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/quantleaf/crossarb/internal/aggregator"
	"github.com/quantleaf/crossarb/internal/domain"
	"github.com/quantleaf/crossarb/internal/matcher"
)

// Config holds the detection thresholds.
type Config struct {
	// MinProfit is the minimum acceptable margin as a fraction of the
	// payout, e.g. 0.02 for 2 cents per contract.
	MinProfit float64
	// DefaultFeeRate applies to pairs that do not configure their own.
	DefaultFeeRate float64
}

// Detector evaluates market pairs on each quote update and emits
// opportunities. It performs no I/O and holds no mutable cross-call state
// beyond read access to the aggregator and the opportunity ID counter.
type Detector struct {
	cfg     Config
	book    *aggregator.Book
	matcher *matcher.Matcher
	out     chan<- domain.Opportunity
	lastID  atomic.Uint64
	logger  *slog.Logger
}

// New creates a Detector that publishes opportunities to out.
func New(cfg Config, book *aggregator.Book, m *matcher.Matcher, out chan<- domain.Opportunity, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:     cfg,
		book:    book,
		matcher: m,
		out:     out,
		logger:  logger.With(slog.String("component", "detector")),
	}
}

// Run consumes aggregator update notifications until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	d.logger.Info("detector started",
		slog.Float64("min_profit", d.cfg.MinProfit),
	)
	defer d.logger.Info("detector stopped")

	updates := d.book.Updates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case q, ok := <-updates:
			if !ok {
				return nil
			}
			pair, ok := d.matcher.ByInstrument(q.Venue, q.Instrument)
			if !ok {
				continue
			}
			if opp, ok := d.Evaluate(pair); ok {
				select {
				case d.out <- opp:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// Evaluate runs one detection cycle for a pair. At most one opportunity is
// returned per cycle: when both directions qualify, the larger margin wins,
// and exact margin ties go to the combination with more available size.
func (d *Detector) Evaluate(pair domain.MarketPair) (domain.Opportunity, bool) {
	pq, err := d.book.PairQuotes(pair)
	if err != nil {
		// Stale or missing data is routine, not a failure.
		return domain.Opportunity{}, false
	}

	fee := pair.FeeRate
	if fee == 0 {
		fee = d.cfg.DefaultFeeRate
	}

	var best domain.Opportunity
	found := false
	consider := func(cand domain.Opportunity) {
		if cand.Margin < d.cfg.MinProfit {
			return
		}
		if !found || cand.Margin > best.Margin ||
			(cand.Margin == best.Margin && cand.Size > best.Size) {
			best = cand
			found = true
		}
	}

	if pq.Ready(domain.DirectionPolyYesKalshiNo) {
		consider(combine(pair, domain.DirectionPolyYesKalshiNo, pq.PolyYes, pq.KalshiNo, fee, pq.At))
	}
	if pq.Ready(domain.DirectionPolyNoKalshiYes) {
		consider(combine(pair, domain.DirectionPolyNoKalshiYes, pq.PolyNo, pq.KalshiYes, fee, pq.At))
	}

	if !found {
		return domain.Opportunity{}, false
	}
	best.ID = d.lastID.Add(1)
	d.logger.Debug("opportunity detected",
		slog.Uint64("id", best.ID),
		slog.String("pair", pair.Name),
		slog.String("direction", string(best.Direction)),
		slog.Float64("combined_cost", best.CombinedCost),
		slog.Float64("margin", best.Margin),
		slog.Float64("size", best.Size),
	)
	return best, true
}

// combine prices one direction: buy the ask on each venue, pay the fee, and
// collect the payout at settlement.
func combine(pair domain.MarketPair, dir domain.Direction, poly, kalshi domain.Quote, fee float64, at time.Time) domain.Opportunity {
	cost := poly.Ask + kalshi.Ask
	size := poly.AskSize
	if kalshi.AskSize < size {
		size = kalshi.AskSize
	}
	return domain.Opportunity{
		Pair:         pair,
		Direction:    dir,
		PolyQuote:    poly,
		KalshiQuote:  kalshi,
		CombinedCost: cost,
		Margin:       domain.Payout - cost - fee,
		Size:         size,
		DetectedAt:   at,
	}
}
