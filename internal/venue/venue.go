// Package venue defines the capability interfaces the core consumes to talk
// to a trading venue: a quote feed and a trading API. Authentication,
// signing, and transport details live behind these interfaces in the
// venue-specific sub-packages.
package venue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantleaf/crossarb/internal/domain"
)

// QuoteHandler receives each canonical quote produced by a feed.
type QuoteHandler func(ctx context.Context, q domain.Quote)

// Feed produces a restartable stream of canonical quotes for one venue.
// Run blocks until ctx is cancelled, reconnecting on transient failures.
type Feed interface {
	Venue() domain.Venue
	Run(ctx context.Context, handler QuoteHandler) error
}

// OrderState is a venue's view of a submitted order. Open and partial
// orders are still working on the venue; the other states are final.
type OrderState string

const (
	// OrderStateOpen: resting, nothing matched yet.
	OrderStateOpen OrderState = "open"
	// OrderStateFilled: fully matched.
	OrderStateFilled OrderState = "filled"
	// OrderStatePartial: partially matched with the remainder still live.
	OrderStatePartial OrderState = "partial"
	// OrderStateCancelled: off the book. FilledSize carries any contracts
	// that matched before the cancel or kill.
	OrderStateCancelled OrderState = "cancelled"
	OrderStateRejected  OrderState = "rejected"
	OrderStateUnknown   OrderState = "unknown"
)

// OrderHandle identifies an order on a venue after submission.
type OrderHandle struct {
	Venue   domain.Venue
	OrderID string
}

// OrderStatus is the result of a status query.
type OrderStatus struct {
	State       OrderState
	FilledSize  float64
	FilledPrice float64
	// FillID is the venue-issued fill identifier when State is filled or
	// partial; used for idempotent position application.
	FillID string
	At     time.Time
}

// TradingAPI is the order entry interface for one venue.
type TradingAPI interface {
	Venue() domain.Venue
	SubmitOrder(ctx context.Context, intent domain.OrderIntent) (OrderHandle, error)
	// Cancel returns true when the venue confirmed the cancellation.
	Cancel(ctx context.Context, handle OrderHandle) (bool, error)
	QueryStatus(ctx context.Context, handle OrderHandle) (OrderStatus, error)
}

// TransportError wraps a transport-level failure. Transport errors are
// retryable: the order may or may not have reached the venue.
type TransportError struct {
	Venue domain.Venue
	Op    string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Venue, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Rejection is a terminal, venue-issued refusal. Retrying is pointless.
type Rejection struct {
	Venue  domain.Venue
	Code   string
	Detail string
}

func (e *Rejection) Error() string {
	return fmt.Sprintf("%s rejected order (%s): %s", e.Venue, e.Code, e.Detail)
}

// IsRetryable reports whether err is a transport error worth retrying.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRejection reports whether err is a terminal venue rejection.
func IsRejection(err error) bool {
	var re *Rejection
	return errors.As(err, &re)
}
