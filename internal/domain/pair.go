package domain

// MarketPair binds one logical event to one tradable instrument per venue.
// The Polymarket leg is addressed by condition ID, the Kalshi leg by ticker.
// A pair with an empty instrument on either venue is inert: the detector
// never evaluates it.
type MarketPair struct {
	Name         string
	PolymarketID string
	KalshiTicker string
	// FeeRate is the estimated round-trip fee for this pair, as a fraction
	// of the $1.00 payout.
	FeeRate float64
}

// Tradable reports whether both legs resolve to an instrument.
func (p MarketPair) Tradable() bool {
	return p.PolymarketID != "" && p.KalshiTicker != ""
}

// Instrument returns the pair's instrument identifier on the given venue.
func (p MarketPair) Instrument(v Venue) string {
	switch v {
	case VenuePolymarket:
		return p.PolymarketID
	case VenueKalshi:
		return p.KalshiTicker
	default:
		return ""
	}
}
