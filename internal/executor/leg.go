package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quantleaf/crossarb/internal/domain"
	"github.com/quantleaf/crossarb/internal/venue"
)

// legResult is the outcome of running one leg to a terminal intent state.
type legResult struct {
	intent domain.OrderIntent
	fill   *domain.Fill
	// ambiguous is set when the venue's order state could not be resolved
	// after timeout and reconciliation. The coordinator must not guess.
	ambiguous bool
	err       error
}

// filled reports whether the leg acquired exposure.
func (r legResult) filled() bool {
	return r.intent.State == domain.IntentFilled || r.intent.State == domain.IntentPartiallyFilled
}

// runLeg drives one order intent to a terminal state: submit with bounded
// retries, await the fill within the leg timeout, cancel on expiry, and
// reconcile through a status query when the cancel outcome is indeterminate.
func (c *Coordinator) runLeg(ctx context.Context, api venue.TradingAPI, intent domain.OrderIntent) legResult {
	log := c.logger.With(
		slog.String("intent_id", intent.ID),
		slog.String("venue", string(intent.Venue)),
		slog.String("instrument", intent.Instrument),
	)

	handle, err := c.submitWithRetry(ctx, api, intent, log)
	if err != nil {
		if venue.IsRejection(err) {
			intent.State = domain.IntentRejected
			return legResult{intent: resolve(intent), err: err}
		}
		// Retries exhausted without an acknowledged submission: no handle
		// exists to reconcile against, so the leg is marked timed out.
		intent.State = domain.IntentTimedOut
		return legResult{intent: resolve(intent), err: err}
	}
	intent.State = domain.IntentSubmitted
	intent.VenueOrderID = handle.OrderID

	deadline := time.NewTimer(c.cfg.LegTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(c.cfg.StatusPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.expireLeg(ctx, api, handle, intent, log)
		case <-deadline.C:
			return c.expireLeg(ctx, api, handle, intent, log)
		case <-poll.C:
			status, err := api.QueryStatus(ctx, handle)
			if err != nil {
				log.Debug("status query failed, will retry",
					slog.String("error", err.Error()),
				)
				continue
			}
			if res, done := legFromStatus(intent, status); done {
				return res
			}
		}
	}
}

// submitWithRetry retries transport-level submission failures with a bounded
// attempt count. Venue rejections are terminal and returned immediately.
func (c *Coordinator) submitWithRetry(ctx context.Context, api venue.TradingAPI, intent domain.OrderIntent, log *slog.Logger) (venue.OrderHandle, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.SubmitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return venue.OrderHandle{}, ctx.Err()
			case <-time.After(c.cfg.RetryBackoff):
			}
		}
		handle, err := api.SubmitOrder(ctx, intent)
		if err == nil {
			return handle, nil
		}
		if !venue.IsRetryable(err) {
			return venue.OrderHandle{}, err
		}
		lastErr = err
		log.Warn("submission transport error, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return venue.OrderHandle{}, lastErr
}

// expireLeg handles a leg whose timeout elapsed: cancel when the venue
// confirms it, otherwise treat the order as indeterminate and reconcile via
// an explicit status query before concluding anything.
func (c *Coordinator) expireLeg(ctx context.Context, api venue.TradingAPI, handle venue.OrderHandle, intent domain.OrderIntent, log *slog.Logger) legResult {
	// The parent ctx may already be cancelled; reconciliation still has to
	// run, bounded by its own deadline.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ReconcileTimeout)
	defer cancel()

	cancelled, err := api.Cancel(rctx, handle)
	if err == nil && cancelled {
		// Cancel confirmed, but a full or partial fill may have raced it.
		if status, qerr := api.QueryStatus(rctx, handle); qerr == nil {
			// The order is off the book now, so a still-live state from the
			// query is a race artifact; read it as cancelled and keep
			// whatever matched.
			if status.State == venue.OrderStateOpen || status.State == venue.OrderStatePartial {
				status.State = venue.OrderStateCancelled
			}
			if res, done := legFromStatus(intent, status); done {
				return res
			}
		}
		intent.State = domain.IntentTimedOut
		return legResult{intent: resolve(intent)}
	}

	// Cancellation unsupported, refused, or failed: the order state is
	// indeterminate until a status query resolves it.
	for attempt := 0; attempt < c.cfg.ReconcileAttempts; attempt++ {
		status, qerr := api.QueryStatus(rctx, handle)
		if qerr == nil {
			switch status.State {
			case venue.OrderStateOpen, venue.OrderStatePartial:
				// Still live after a failed cancel; try once more.
			default:
				if res, done := legFromStatus(intent, status); done {
					return res
				}
				intent.State = domain.IntentTimedOut
				return legResult{intent: resolve(intent)}
			}
		}
		select {
		case <-rctx.Done():
			attempt = c.cfg.ReconcileAttempts
		case <-time.After(c.cfg.RetryBackoff):
		}
	}

	log.Error("leg unresolved after reconciliation",
		slog.String("venue_order_id", handle.OrderID),
	)
	intent.State = domain.IntentTimedOut
	return legResult{
		intent:    resolve(intent),
		ambiguous: true,
		err:       domain.ErrUnknownExposure,
	}
}

// legFromStatus maps a venue status to a terminal leg result. The second
// return value is false while the order is still working on the venue; a
// partial fill is not concluded until its remainder is off the book.
func legFromStatus(intent domain.OrderIntent, status venue.OrderStatus) (legResult, bool) {
	switch status.State {
	case venue.OrderStateFilled:
		intent.State = domain.IntentFilled
	case venue.OrderStateCancelled:
		// Contracts that matched before the cancel are real exposure.
		if status.FilledSize <= 0 {
			intent.State = domain.IntentTimedOut
			return legResult{intent: resolve(intent)}, true
		}
		intent.State = domain.IntentPartiallyFilled
	case venue.OrderStateRejected:
		intent.State = domain.IntentRejected
		return legResult{intent: resolve(intent)}, true
	default:
		return legResult{}, false
	}

	intent.FilledPrice = status.FilledPrice
	intent.FilledSize = status.FilledSize
	res := legResult{intent: resolve(intent)}
	res.fill = &domain.Fill{
		FillID:     fillKey(intent, status),
		Venue:      intent.Venue,
		Instrument: intent.Instrument,
		Side:       intent.Side,
		Price:      status.FilledPrice,
		Size:       status.FilledSize,
		At:         status.At,
	}
	return res, true
}

// fillKey picks the idempotency key for a confirmed fill. Some venue status
// lookups cannot attribute a fill ID; the venue order ID is unique per order
// and serves as the key so the exposure still reaches the tracker.
func fillKey(intent domain.OrderIntent, status venue.OrderStatus) string {
	if status.FillID != "" {
		return status.FillID
	}
	if intent.VenueOrderID != "" {
		return intent.VenueOrderID
	}
	return intent.ID
}

func resolve(intent domain.OrderIntent) domain.OrderIntent {
	now := time.Now().UTC()
	intent.ResolvedAt = &now
	return intent
}

var errNoVenue = errors.New("executor: no trading API configured for venue")
