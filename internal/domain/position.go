package domain

import "time"

// Position is the net exposure on one instrument of one venue, owned solely
// by the position tracker and mutated only on confirmed fills. NetSize is
// signed in YES-equivalent contracts: buying YES adds, buying NO subtracts,
// since holding one NO is economically short one YES against the $1 payout.
// AvgEntry is the average entry price in YES-equivalent terms.
type Position struct {
	Venue       Venue
	Instrument  string
	NetSize     float64
	AvgEntry    float64
	RealizedPnL float64
	UpdatedAt   time.Time
}

// Flat reports whether the position carries no exposure.
func (p Position) Flat() bool {
	return p.NetSize == 0
}

// Exposure returns the unsigned open size on the given side.
func (p Position) Exposure(side Side) float64 {
	switch {
	case side == SideYes && p.NetSize > 0:
		return p.NetSize
	case side == SideNo && p.NetSize < 0:
		return -p.NetSize
	default:
		return 0
	}
}

// Notional returns the entry-priced value of the open position.
func (p Position) Notional() float64 {
	size := p.NetSize
	if size < 0 {
		size = -size
	}
	return size * p.AvgEntry
}
