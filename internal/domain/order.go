package domain

import "time"

// IntentState tracks the lifecycle of one order leg.
type IntentState string

const (
	IntentCreated         IntentState = "created"
	IntentSubmitted       IntentState = "submitted"
	IntentFilled          IntentState = "filled"
	IntentPartiallyFilled IntentState = "partially_filled"
	IntentRejected        IntentState = "rejected"
	IntentTimedOut        IntentState = "timed_out"
)

// Terminal reports whether the state admits no further transitions.
func (s IntentState) Terminal() bool {
	switch s {
	case IntentFilled, IntentPartiallyFilled, IntentRejected, IntentTimedOut:
		return true
	default:
		return false
	}
}

// OrderIntent is one leg of an opportunity to be executed on one venue.
type OrderIntent struct {
	ID         string
	Venue      Venue
	Instrument string
	Side       Side
	LimitPrice float64
	Size       float64
	State      IntentState
	// VenueOrderID is assigned by the venue after submission.
	VenueOrderID string
	FilledPrice  float64
	FilledSize   float64
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

// Fill is a confirmed execution report from a venue. FillID is the
// venue-issued identifier used for idempotent position application.
type Fill struct {
	FillID     string
	Venue      Venue
	Instrument string
	Side       Side
	Price      float64
	Size       float64
	At         time.Time
}
