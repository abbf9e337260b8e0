package venue

import (
	"context"
	"time"

	"github.com/quantleaf/crossarb/internal/domain"
)

// RateLimited wraps a TradingAPI and checks a rate limiter before every
// call. A denied request surfaces as a retryable transport error so the
// executor's retry and timeout machinery handles it like any transient
// failure.
type RateLimited struct {
	api     TradingAPI
	limiter domain.RateLimiter
	limit   int
	window  time.Duration
}

// NewRateLimited wraps api with a per-venue rate limit of limit calls per
// window.
func NewRateLimited(api TradingAPI, limiter domain.RateLimiter, limit int, window time.Duration) *RateLimited {
	return &RateLimited{api: api, limiter: limiter, limit: limit, window: window}
}

func (r *RateLimited) Venue() domain.Venue { return r.api.Venue() }

func (r *RateLimited) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (OrderHandle, error) {
	if err := r.check(ctx, "submit"); err != nil {
		return OrderHandle{}, err
	}
	return r.api.SubmitOrder(ctx, intent)
}

func (r *RateLimited) Cancel(ctx context.Context, handle OrderHandle) (bool, error) {
	if err := r.check(ctx, "cancel"); err != nil {
		return false, err
	}
	return r.api.Cancel(ctx, handle)
}

func (r *RateLimited) QueryStatus(ctx context.Context, handle OrderHandle) (OrderStatus, error) {
	if err := r.check(ctx, "status"); err != nil {
		return OrderStatus{}, err
	}
	return r.api.QueryStatus(ctx, handle)
}

func (r *RateLimited) check(ctx context.Context, op string) error {
	key := string(r.api.Venue()) + ":" + op
	allowed, err := r.limiter.Allow(ctx, key, r.limit, r.window)
	if err != nil {
		return &TransportError{Venue: r.api.Venue(), Op: op, Err: err}
	}
	if !allowed {
		return &TransportError{Venue: r.api.Venue(), Op: op, Err: domain.ErrRateLimited}
	}
	return nil
}

var _ TradingAPI = (*RateLimited)(nil)
