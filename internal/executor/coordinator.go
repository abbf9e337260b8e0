// Package executor places, tracks, and reconciles the two correlated legs
// of an arbitrage trade. The venues offer no joint-commit primitive, so the
// coordinator's job is to make the partial-failure window as small and as
// observable as possible: legs go out concurrently, every outcome is driven
// to a terminal execution state, and a one-sided fill is always either
// unwound or recorded as explicitly accepted exposure.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantleaf/crossarb/internal/domain"
	"github.com/quantleaf/crossarb/internal/venue"
)

// Config holds the execution parameters.
type Config struct {
	// LegTimeout bounds each leg independently, from submission to fill.
	LegTimeout time.Duration
	// SubmitRetries bounds transport-level resubmission attempts.
	SubmitRetries int
	RetryBackoff  time.Duration
	// StatusPollInterval paces fill-status queries for a live order.
	StatusPollInterval time.Duration
	// ReconcileTimeout and ReconcileAttempts bound the status-query loop
	// that resolves an indeterminate leg after a failed cancellation.
	ReconcileTimeout  time.Duration
	ReconcileAttempts int
	// UnwindPolicy decides what happens when exactly one leg fills.
	UnwindPolicy domain.UnwindPolicy
	// UnwindSlippage bounds how far past breakeven an unwind order may be
	// priced to cross the live book, as a fraction of the payout.
	UnwindSlippage float64
	// FillTolerance is the acceptable size mismatch between the two filled
	// legs, in contracts; any excess beyond it is trimmed with an unwind.
	FillTolerance float64
}

// FillApplier receives confirmed fills; implemented by the position tracker.
type FillApplier interface {
	ApplyFill(ctx context.Context, fill domain.Fill) (bool, error)
}

// OutcomeReporter receives every terminal execution; implemented by the
// risk manager.
type OutcomeReporter interface {
	ReportOutcome(exec domain.Execution)
	TripBreaker(reason string)
}

// Coordinator executes authorized opportunities across the two venues.
type Coordinator struct {
	cfg       Config
	venues    map[domain.Venue]venue.TradingAPI
	quotes    QuoteReader // optional, prices unwind orders off the live book
	positions FillApplier
	risk      OutcomeReporter
	store     domain.ExecutionStore // optional
	bus       domain.SignalBus      // optional
	logger    *slog.Logger
}

// New creates a Coordinator. quotes, store, and bus may be nil; execution
// then prices unwinds from the entry fill alone and runs without persistence
// or event publication.
func New(
	cfg Config,
	venues map[domain.Venue]venue.TradingAPI,
	quotes QuoteReader,
	positions FillApplier,
	risk OutcomeReporter,
	store domain.ExecutionStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		venues:    venues,
		quotes:    quotes,
		positions: positions,
		risk:      risk,
		store:     store,
		bus:       bus,
		logger:    logger.With(slog.String("component", "execution_coordinator")),
	}
}

// Execute runs one approved opportunity to a terminal execution state. It
// always returns a terminal Execution, also on error; no outcome is ever
// swallowed.
func (c *Coordinator) Execute(ctx context.Context, opp domain.Opportunity, auth domain.Authorization) (domain.Execution, error) {
	polyIntent, kalshiIntent := buildIntents(opp, auth.SizedAmount)
	exec := domain.Execution{
		ID:            uuid.New().String(),
		OpportunityID: opp.ID,
		Pair:          opp.Pair.Name,
		PolyLeg:       polyIntent,
		KalshiLeg:     kalshiIntent,
		State:         domain.ExecCreated,
		StartedAt:     time.Now().UTC(),
	}

	polyAPI, okA := c.venues[domain.VenuePolymarket]
	kalshiAPI, okB := c.venues[domain.VenueKalshi]
	if !okA || !okB {
		exec.State = domain.ExecFailed
		exec.Reason = errNoVenue.Error()
		return c.finish(ctx, exec), errNoVenue
	}

	if c.store != nil {
		if err := c.store.Create(ctx, exec); err != nil {
			c.logger.Warn("execution create failed",
				slog.String("execution_id", exec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	// Both legs go out concurrently; their completions may arrive in either
	// order, so results are collected from a channel rather than awaited
	// positionally.
	exec.State = domain.ExecLegsSubmitting
	type tagged struct {
		v   domain.Venue
		res legResult
	}
	results := make(chan tagged, 2)
	go func() {
		results <- tagged{domain.VenuePolymarket, c.runLeg(ctx, polyAPI, exec.PolyLeg)}
	}()
	go func() {
		results <- tagged{domain.VenueKalshi, c.runLeg(ctx, kalshiAPI, exec.KalshiLeg)}
	}()

	var polyRes, kalshiRes legResult
	for i := 0; i < 2; i++ {
		t := <-results
		if t.v == domain.VenuePolymarket {
			polyRes = t.res
		} else {
			kalshiRes = t.res
		}
	}
	exec.PolyLeg = polyRes.intent
	exec.KalshiLeg = kalshiRes.intent

	// A leg whose venue state could not be reconciled means exposure is
	// unknown; the system must not proceed on a guess.
	if polyRes.ambiguous || kalshiRes.ambiguous {
		exec.State = domain.ExecFailed
		exec.Reason = domain.ErrUnknownExposure.Error()
		c.applyFills(ctx, polyRes, kalshiRes)
		c.risk.TripBreaker("unreconciled leg on execution " + exec.ID)
		return c.finish(ctx, exec), domain.ErrUnknownExposure
	}

	c.applyFills(ctx, polyRes, kalshiRes)

	switch {
	case polyRes.filled() && kalshiRes.filled():
		return c.completeBothFilled(ctx, exec, polyRes, kalshiRes)

	case polyRes.filled() != kalshiRes.filled():
		filled := polyRes
		if kalshiRes.filled() {
			filled = kalshiRes
		}
		return c.resolveOneSided(ctx, exec, filled)

	default:
		exec.State = domain.ExecAbandoned
		exec.Reason = abandonReason(polyRes, kalshiRes)
		return c.finish(ctx, exec), nil
	}
}

// completeBothFilled closes out a two-sided fill, trimming any size excess
// beyond tolerance on the larger leg.
func (c *Coordinator) completeBothFilled(ctx context.Context, exec domain.Execution, a, b legResult) (domain.Execution, error) {
	diff := a.intent.FilledSize - b.intent.FilledSize
	if diff < 0 {
		diff = -diff
	}
	if diff > c.cfg.FillTolerance {
		larger := a
		if b.intent.FilledSize > a.intent.FilledSize {
			larger = b
		}
		unwind, err := c.placeUnwind(ctx, larger.intent, diff)
		exec.UnwindOrder = &unwind
		if err != nil {
			exec.State = domain.ExecFailed
			exec.Reason = fmt.Sprintf("excess trim failed: %v", err)
			c.risk.TripBreaker("unwind failure on execution " + exec.ID)
			return c.finish(ctx, exec), err
		}
	}
	exec.State = domain.ExecCompleted
	return c.finish(ctx, exec), nil
}

// resolveOneSided handles the critical case: exactly one leg holds a fill.
// Under the always-hedge policy the filled leg is unwound synchronously;
// under accept-exposure the directional position is kept and flagged. A
// terminal execution in this path always records one or the other.
func (c *Coordinator) resolveOneSided(ctx context.Context, exec domain.Execution, filled legResult) (domain.Execution, error) {
	exec.State = domain.ExecHedging
	log := c.logger.With(
		slog.String("execution_id", exec.ID),
		slog.String("filled_venue", string(filled.intent.Venue)),
		slog.Float64("filled_size", filled.intent.FilledSize),
	)

	if c.cfg.UnwindPolicy == domain.UnwindAcceptExposure {
		exec.AcceptedExposure = true
		exec.State = domain.ExecHedged
		exec.Reason = "one-sided fill kept under accept_exposure policy"
		log.Warn("accepting directional exposure by policy")
		return c.finish(ctx, exec), nil
	}

	unwind, err := c.placeUnwind(ctx, filled.intent, filled.intent.FilledSize)
	exec.UnwindOrder = &unwind
	if err != nil {
		// A failed unwind leaves naked exposure: unrecoverable without an
		// operator, so the breaker opens and the execution fails loudly.
		exec.State = domain.ExecFailed
		exec.Reason = fmt.Sprintf("unwind failed: %v", err)
		c.risk.TripBreaker("unwind failure on execution " + exec.ID)
		log.Error("unwind order failed", slog.String("error", err.Error()))
		return c.finish(ctx, exec), err
	}

	exec.State = domain.ExecHedged
	exec.Reason = "one leg filled, inverse unwind placed"
	log.Info("one-sided fill hedged",
		slog.String("unwind_intent_id", unwind.ID),
	)
	return c.finish(ctx, exec), nil
}

// placeUnwind submits a sell of the filled side for the given size and
// drives it to a terminal state with the same leg machinery.
func (c *Coordinator) placeUnwind(ctx context.Context, filled domain.OrderIntent, size float64) (domain.OrderIntent, error) {
	api, ok := c.venues[filled.Venue]
	if !ok {
		return domain.OrderIntent{}, errNoVenue
	}

	// A hedge that rests is no hedge: breakeven (Payout - entry) sits under
	// the opposite ask whenever the book carries a spread. Price the unwind
	// to cross the live book, bounded at breakeven plus the slippage
	// allowance so the loss stays capped.
	limit := domain.Payout - filled.FilledPrice + c.cfg.UnwindSlippage
	if limit > domain.Payout {
		limit = domain.Payout
	}
	if c.quotes != nil {
		key := domain.QuoteKey{
			Venue:      filled.Venue,
			Instrument: filled.Instrument,
			Side:       filled.Side.Opposite(),
		}
		if q, ok := c.quotes.Latest(key); ok && q.Ask > 0 && q.Ask < limit {
			limit = q.Ask
		}
	}

	intent := domain.OrderIntent{
		ID:         uuid.New().String(),
		Venue:      filled.Venue,
		Instrument: filled.Instrument,
		Side:       filled.Side.Opposite(),
		LimitPrice: limit,
		Size:       size,
		State:      domain.IntentCreated,
		CreatedAt:  time.Now().UTC(),
	}

	res := c.runLeg(ctx, api, intent)
	if res.ambiguous {
		return res.intent, domain.ErrUnknownExposure
	}
	if !res.filled() {
		if res.err != nil {
			return res.intent, res.err
		}
		return res.intent, fmt.Errorf("unwind order not filled (state %s)", res.intent.State)
	}
	if res.fill != nil {
		if _, err := c.positions.ApplyFill(ctx, *res.fill); err != nil {
			c.logger.Warn("unwind fill apply failed",
				slog.String("fill_id", res.fill.FillID),
				slog.String("error", err.Error()),
			)
		}
	}
	return res.intent, nil
}

// applyFills forwards confirmed fills to the position tracker. Application
// is idempotent on the venue fill ID, so a duplicate here is harmless.
func (c *Coordinator) applyFills(ctx context.Context, results ...legResult) {
	for _, r := range results {
		if r.fill == nil {
			continue
		}
		if _, err := c.positions.ApplyFill(ctx, *r.fill); err != nil {
			c.logger.Warn("fill apply failed",
				slog.String("fill_id", r.fill.FillID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// finish stamps, persists, reports, and publishes a terminal execution.
func (c *Coordinator) finish(ctx context.Context, exec domain.Execution) domain.Execution {
	now := time.Now().UTC()
	exec.CompletedAt = &now

	c.risk.ReportOutcome(exec)

	if c.store != nil {
		if err := c.store.Finalize(ctx, exec); err != nil {
			c.logger.Warn("execution finalize failed",
				slog.String("execution_id", exec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if c.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"event":             "execution_terminal",
			"execution_id":      exec.ID,
			"opportunity_id":    exec.OpportunityID,
			"pair":              exec.Pair,
			"state":             string(exec.State),
			"reason":            exec.Reason,
			"hedged":            exec.UnwindOrder != nil,
			"accepted_exposure": exec.AcceptedExposure,
		})
		if err := c.bus.StreamAppend(ctx, "executions", payload); err != nil {
			c.logger.Warn("execution event append failed",
				slog.String("execution_id", exec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	c.logger.Info("execution terminal",
		slog.String("execution_id", exec.ID),
		slog.Uint64("opportunity_id", exec.OpportunityID),
		slog.String("state", string(exec.State)),
		slog.String("reason", exec.Reason),
	)
	return exec
}

// buildIntents shapes the two legs of an opportunity at the authorized size.
func buildIntents(opp domain.Opportunity, size float64) (poly, kalshi domain.OrderIntent) {
	now := time.Now().UTC()
	poly = domain.OrderIntent{
		ID:         uuid.New().String(),
		Venue:      domain.VenuePolymarket,
		Instrument: opp.PolyQuote.Instrument,
		Side:       opp.PolyQuote.Side,
		LimitPrice: opp.PolyQuote.Ask,
		Size:       size,
		State:      domain.IntentCreated,
		CreatedAt:  now,
	}
	kalshi = domain.OrderIntent{
		ID:         uuid.New().String(),
		Venue:      domain.VenueKalshi,
		Instrument: opp.KalshiQuote.Instrument,
		Side:       opp.KalshiQuote.Side,
		LimitPrice: opp.KalshiQuote.Ask,
		Size:       size,
		State:      domain.IntentCreated,
		CreatedAt:  now,
	}
	return poly, kalshi
}

func abandonReason(a, b legResult) string {
	return fmt.Sprintf("no leg filled (polymarket %s, kalshi %s)",
		a.intent.State, b.intent.State)
}
