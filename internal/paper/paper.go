// Package paper implements a simulated trading venue that fills orders
// against the live aggregated book. It backs the paper trading mode, where
// detection and execution run end to end without touching real venues.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantleaf/crossarb/internal/domain"
	"github.com/quantleaf/crossarb/internal/venue"
)

// QuoteSource provides the latest quote per cell; satisfied by the
// aggregator book.
type QuoteSource interface {
	Latest(key domain.QuoteKey) (domain.Quote, bool)
}

type paperOrder struct {
	intent      domain.OrderIntent
	state       venue.OrderState
	filledSize  float64
	filledPrice float64
	fillID      string
	at          time.Time
}

// Venue is a simulated venue.TradingAPI. Orders fill immediately when the
// current ask crosses the limit price; otherwise they rest until cancelled.
// A cash balance bounds total spend.
type Venue struct {
	id     domain.Venue
	quotes QuoteSource
	logger *slog.Logger

	mu      sync.Mutex
	cash    float64
	orders  map[string]*paperOrder
	nextSeq int
}

// NewVenue creates a paper venue masquerading as the given venue ID with the
// given starting cash balance.
func NewVenue(id domain.Venue, quotes QuoteSource, balance float64, logger *slog.Logger) *Venue {
	return &Venue{
		id:     id,
		quotes: quotes,
		logger: logger.With(slog.String("component", "paper_venue"), slog.String("venue", string(id))),
		cash:   balance,
		orders: make(map[string]*paperOrder),
	}
}

func (v *Venue) Venue() domain.Venue { return v.id }

// SubmitOrder fills against the current book when the ask crosses the limit
// price. Orders that do not cross rest open until cancelled.
func (v *Venue) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (venue.OrderHandle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.nextSeq++
	orderID := fmt.Sprintf("paper-%s-%d", v.id, v.nextSeq)
	ord := &paperOrder{intent: intent, state: venue.OrderStateOpen, at: time.Now()}

	key := domain.QuoteKey{Venue: v.id, Instrument: intent.Instrument, Side: intent.Side}
	q, ok := v.quotes.Latest(key)
	if ok && q.Ask > 0 && intent.LimitPrice >= q.Ask {
		size := intent.Size
		if q.AskSize > 0 && q.AskSize < size {
			size = q.AskSize
		}
		cost := size * q.Ask
		if cost > v.cash {
			return venue.OrderHandle{}, &venue.Rejection{
				Venue: v.id, Code: "insufficient_balance",
				Detail: fmt.Sprintf("cost %.2f exceeds balance %.2f", cost, v.cash),
			}
		}
		v.cash -= cost
		ord.filledSize = size
		ord.filledPrice = q.Ask
		ord.fillID = uuid.NewString()
		if size < intent.Size {
			ord.state = venue.OrderStatePartial
		} else {
			ord.state = venue.OrderStateFilled
		}
		v.logger.Debug("paper fill",
			slog.String("order_id", orderID),
			slog.String("instrument", intent.Instrument),
			slog.String("side", string(intent.Side)),
			slog.Float64("price", q.Ask),
			slog.Float64("size", size))
	}

	v.orders[orderID] = ord
	return venue.OrderHandle{Venue: v.id, OrderID: orderID}, nil
}

// Cancel cancels the live remainder of an order. Fully filled orders cannot
// be cancelled; a partial fill survives the cancel.
func (v *Venue) Cancel(ctx context.Context, handle venue.OrderHandle) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ord, ok := v.orders[handle.OrderID]
	if !ok {
		return false, fmt.Errorf("paper: order %s: %w", handle.OrderID, domain.ErrNotFound)
	}
	if ord.state == venue.OrderStateOpen || ord.state == venue.OrderStatePartial {
		ord.state = venue.OrderStateCancelled
		return true, nil
	}
	return false, nil
}

// QueryStatus returns the current simulated state of an order.
func (v *Venue) QueryStatus(ctx context.Context, handle venue.OrderHandle) (venue.OrderStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ord, ok := v.orders[handle.OrderID]
	if !ok {
		return venue.OrderStatus{}, fmt.Errorf("paper: order %s: %w", handle.OrderID, domain.ErrNotFound)
	}
	return venue.OrderStatus{
		State:       ord.state,
		FilledSize:  ord.filledSize,
		FilledPrice: ord.filledPrice,
		FillID:      ord.fillID,
		At:          ord.at,
	}, nil
}

// Balance returns the remaining simulated cash.
func (v *Venue) Balance() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cash
}

var _ venue.TradingAPI = (*Venue)(nil)
