package domain

import (
	"fmt"
	"time"
)

// Venue identifies one of the two trading venues.
type Venue string

const (
	VenuePolymarket Venue = "polymarket"
	VenueKalshi     Venue = "kalshi"
)

// Side is the outcome side of a binary contract.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the inverse outcome side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// QuoteKey addresses the latest-quote cell for one side of one instrument on
// one venue.
type QuoteKey struct {
	Venue      Venue
	Instrument string
	Side       Side
}

func (k QuoteKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Venue, k.Instrument, k.Side)
}

// Quote is a canonical best bid/ask observation for one side of one
// instrument on one venue. Quotes are immutable; a newer Quote for the same
// key supersedes an older one, it never mutates it.
type Quote struct {
	Venue      Venue
	Instrument string
	Side       Side
	Bid        float64
	Ask        float64
	BidSize    float64
	AskSize    float64
	At         time.Time
}

// Key returns the aggregation cell key for this quote.
func (q Quote) Key() QuoteKey {
	return QuoteKey{Venue: q.Venue, Instrument: q.Instrument, Side: q.Side}
}

// Fresh reports whether the quote was observed within maxAge of now.
func (q Quote) Fresh(now time.Time, maxAge time.Duration) bool {
	return !q.At.IsZero() && now.Sub(q.At) <= maxAge
}
