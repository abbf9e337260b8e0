package domain

import "time"

// Payout is the guaranteed settlement value of one YES+NO contract pair.
const Payout = 1.0

// Direction names which venue takes which outcome side in an opportunity.
type Direction string

const (
	// DirectionPolyYesKalshiNo buys YES on Polymarket and NO on Kalshi.
	DirectionPolyYesKalshiNo Direction = "poly_yes_kalshi_no"
	// DirectionPolyNoKalshiYes buys NO on Polymarket and YES on Kalshi.
	DirectionPolyNoKalshiYes Direction = "poly_no_kalshi_yes"
)

// Opportunity is a candidate arbitrage: two ask-side quotes, one per venue,
// whose combined cost sits below the payout net of fees and the required
// profit margin. Opportunities are immutable and expire as soon as either
// referenced quote is superseded.
type Opportunity struct {
	ID          uint64 // monotonically increasing, assigned by the detector
	Pair        MarketPair
	Direction   Direction
	PolyQuote   Quote
	KalshiQuote Quote
	// CombinedCost is the sum of the two legs' ask prices.
	CombinedCost float64
	// Margin is Payout - CombinedCost - estimated fees.
	Margin float64
	// Size is the executable size, bounded by the smaller ask-side size.
	Size       float64
	DetectedAt time.Time
}

// Legs returns the two quotes in (polymarket, kalshi) order.
func (o Opportunity) Legs() (Quote, Quote) {
	return o.PolyQuote, o.KalshiQuote
}
