package executor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/quantleaf/crossarb/internal/domain"
)

// QuoteReader lets the runner check whether an opportunity's quotes are
// still the latest before committing capital; implemented by the aggregator.
type QuoteReader interface {
	Latest(key domain.QuoteKey) (domain.Quote, bool)
}

// Authorizer is the risk gate in front of execution.
type Authorizer interface {
	Authorize(opp domain.Opportunity) domain.Authorization
}

// Runner reads detected opportunities from a channel, drops expired ones,
// passes survivors through the risk manager, and dispatches approved
// executions. Executions on distinct instruments run fully in parallel;
// overlapping exposure is already serialized by the risk manager.
type Runner struct {
	opps   <-chan domain.Opportunity
	book   QuoteReader
	risk   Authorizer
	coord  *Coordinator
	bus    domain.SignalBus // optional
	logger *slog.Logger

	wg sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(opps <-chan domain.Opportunity, book QuoteReader, risk Authorizer, coord *Coordinator, bus domain.SignalBus, logger *slog.Logger) *Runner {
	return &Runner{
		opps:   opps,
		book:   book,
		risk:   risk,
		coord:  coord,
		bus:    bus,
		logger: logger.With(slog.String("component", "execution_runner")),
	}
}

// Run processes opportunities until ctx is cancelled, then waits for
// in-flight executions to reach their terminal states before returning.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("execution runner started")
	defer r.logger.Info("execution runner stopped")
	defer r.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case opp, ok := <-r.opps:
			if !ok {
				return nil
			}
			r.process(ctx, opp)
		}
	}
}

func (r *Runner) process(ctx context.Context, opp domain.Opportunity) {
	log := r.logger.With(
		slog.Uint64("opportunity_id", opp.ID),
		slog.String("pair", opp.Pair.Name),
	)

	// An opportunity expires the moment either referenced quote is
	// superseded; executing against a replaced quote would chase a price
	// that no longer exists.
	if r.expired(opp) {
		log.Debug("opportunity expired before execution")
		return
	}

	auth := r.risk.Authorize(opp)
	if !auth.Approved {
		log.Debug("opportunity denied",
			slog.String("reason", string(auth.Reason)),
		)
		r.publishDenied(ctx, opp, auth)
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.coord.Execute(ctx, opp, auth); err != nil {
			log.Warn("execution finished with error",
				slog.String("error", err.Error()),
			)
		}
	}()
}

// expired reports whether either referenced quote has been superseded.
func (r *Runner) expired(opp domain.Opportunity) bool {
	for _, ref := range []domain.Quote{opp.PolyQuote, opp.KalshiQuote} {
		cur, ok := r.book.Latest(ref.Key())
		if !ok || cur.At.After(ref.At) {
			return true
		}
	}
	return false
}

// publishDenied records routine risk rejections on the audit stream; they
// are expected events, not failures.
func (r *Runner) publishDenied(ctx context.Context, opp domain.Opportunity, auth domain.Authorization) {
	if r.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"event":          "authorization_denied",
		"opportunity_id": opp.ID,
		"pair":           opp.Pair.Name,
		"reason":         string(auth.Reason),
	})
	if err := r.bus.StreamAppend(ctx, "executions", payload); err != nil {
		r.logger.Debug("denied event append failed",
			slog.String("error", err.Error()),
		)
	}
}
