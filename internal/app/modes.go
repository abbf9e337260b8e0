package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantleaf/crossarb/internal/aggregator"
	"github.com/quantleaf/crossarb/internal/detector"
	"github.com/quantleaf/crossarb/internal/domain"
	"github.com/quantleaf/crossarb/internal/executor"
	"github.com/quantleaf/crossarb/internal/feed"
	"github.com/quantleaf/crossarb/internal/matcher"
	"github.com/quantleaf/crossarb/internal/notify"
	"github.com/quantleaf/crossarb/internal/paper"
	"github.com/quantleaf/crossarb/internal/position"
	"github.com/quantleaf/crossarb/internal/risk"
	"github.com/quantleaf/crossarb/internal/venue"
	"github.com/quantleaf/crossarb/internal/venue/kalshi"
	"github.com/quantleaf/crossarb/internal/venue/polymarket"
)

// Published venue API limits, enforced client-side through the Redis
// sliding-window limiter so restarts and concurrent instances share budget.
const (
	polymarketRateLimit = 8
	kalshiRateLimit     = 10
	rateLimitWindow     = time.Second
)

// paperBalance is the simulated cash each paper venue starts with.
const paperBalance = 10_000.0

// DetectMode runs feeds, aggregation, and detection only. Opportunities are
// logged, recorded, and announced; no orders are ever placed.
func (a *App) DetectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting detect mode")

	book, m, err := a.buildBook()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	oppCh := make(chan domain.Opportunity, 64)
	det := detector.New(a.detectorConfig(), book, m, oppCh, a.logger)
	g.Go(func() error {
		return det.Run(ctx)
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case opp, ok := <-oppCh:
				if !ok {
					return nil
				}
				a.logger.InfoContext(ctx, "opportunity (detect only)",
					slog.Uint64("id", opp.ID),
					slog.String("pair", opp.Pair.Name),
					slog.String("direction", string(opp.Direction)),
					slog.Float64("combined_cost", opp.CombinedCost),
					slog.Float64("margin", opp.Margin),
					slog.Float64("size", opp.Size),
				)
				a.recordOpportunity(ctx, deps, opp)
			}
		}
	})

	a.startFeeds(ctx, g, book, m)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// PaperMode runs the full pipeline against simulated venues that fill
// against the live aggregated quotes.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode",
		slog.Float64("balance", paperBalance),
	)

	book, m, err := a.buildBook()
	if err != nil {
		return err
	}

	venues := map[domain.Venue]venue.TradingAPI{
		domain.VenuePolymarket: paper.NewVenue(domain.VenuePolymarket, book, paperBalance, a.logger),
		domain.VenueKalshi:     paper.NewVenue(domain.VenueKalshi, book, paperBalance, a.logger),
	}
	return a.runPipeline(ctx, deps, book, m, venues)
}

// TradeMode runs the full pipeline against the live venue APIs, with each
// client wrapped in the shared rate limiter.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	book, m, err := a.buildBook()
	if err != nil {
		return err
	}

	polyClient := polymarket.NewClient(a.cfg.Polymarket.ClobHost, polymarket.StaticAuth{
		Key:    a.cfg.Polymarket.ApiKey,
		Secret: a.cfg.Polymarket.ApiSecret,
	})
	kalshiClient := kalshi.NewClient(a.cfg.Kalshi.BaseURL, a.cfg.Kalshi.ApiKey, a.cfg.Kalshi.ApiToken)

	venues := map[domain.Venue]venue.TradingAPI{
		domain.VenuePolymarket: venue.NewRateLimited(polyClient, deps.RateLimiter, polymarketRateLimit, rateLimitWindow),
		domain.VenueKalshi:     venue.NewRateLimited(kalshiClient, deps.RateLimiter, kalshiRateLimit, rateLimitWindow),
	}
	return a.runPipeline(ctx, deps, book, m, venues)
}

// runPipeline assembles and supervises the quote-to-execution pipeline
// shared by paper and trade mode: feeds fill the aggregator, the detector
// emits opportunities, the risk manager sizes them, and the coordinator
// drives both legs to a terminal state.
func (a *App) runPipeline(
	ctx context.Context,
	deps *Dependencies,
	book *aggregator.Book,
	m *matcher.Matcher,
	venues map[domain.Venue]venue.TradingAPI,
) error {
	tracker := position.NewTracker(deps.PositionStore, deps.FillStore, deps.FillDedup, book, a.logger)
	if err := tracker.Restore(ctx); err != nil {
		return fmt.Errorf("app: restore positions: %w", err)
	}

	breaker := risk.NewBreaker(a.cfg.Risk.BreakerFailures, a.cfg.Risk.BreakerCooldown.Duration, a.logger)
	riskMgr := risk.NewManager(risk.Config{
		MaxPositionSize:      a.cfg.Risk.MaxPositionSize,
		MaxAggregateExposure: a.cfg.Risk.MaxAggregateExposure,
		MinMargin:            a.cfg.Detector.MinProfit,
	}, breaker, tracker, a.logger)

	reporter := &outcomeReporter{
		risk:     riskMgr,
		opps:     deps.OpportunityStore,
		notifier: deps.Notifier,
	}

	coord := executor.New(executor.Config{
		LegTimeout:         a.cfg.Execution.LegTimeout.Duration,
		SubmitRetries:      a.cfg.Execution.SubmitRetries,
		RetryBackoff:       a.cfg.Execution.RetryBackoff.Duration,
		StatusPollInterval: a.cfg.Execution.StatusPollInterval.Duration,
		ReconcileTimeout:   a.cfg.Execution.ReconcileTimeout.Duration,
		ReconcileAttempts:  a.cfg.Execution.ReconcileAttempts,
		UnwindPolicy:       domain.UnwindPolicy(a.cfg.Execution.UnwindPolicy),
		UnwindSlippage:     a.cfg.Execution.UnwindSlippage,
		FillTolerance:      a.cfg.Execution.FillTolerance,
	}, venues, book, tracker, reporter, deps.ExecutionStore, deps.SignalBus, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	oppCh := make(chan domain.Opportunity, 64)
	det := detector.New(a.detectorConfig(), book, m, oppCh, a.logger)
	g.Go(func() error {
		return det.Run(ctx)
	})

	// Tee detected opportunities into the audit trail on their way to the
	// execution runner.
	execCh := make(chan domain.Opportunity, 64)
	g.Go(func() error {
		defer close(execCh)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case opp, ok := <-oppCh:
				if !ok {
					return nil
				}
				a.recordOpportunity(ctx, deps, opp)
				select {
				case execCh <- opp:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})

	runner := executor.NewRunner(execCh, book, riskMgr, coord, deps.SignalBus, a.logger)
	g.Go(func() error {
		return runner.Run(ctx)
	})

	a.startFeeds(ctx, g, book, m)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// buildBook constructs the quote aggregator and the pair matcher from the
// configured market pairs.
func (a *App) buildBook() (*aggregator.Book, *matcher.Matcher, error) {
	m, err := matcher.New(a.cfg.MarketPairs())
	if err != nil {
		return nil, nil, fmt.Errorf("app: build matcher: %w", err)
	}
	return aggregator.New(a.cfg.Detector.StaleAfter.Duration, a.logger), m, nil
}

func (a *App) detectorConfig() detector.Config {
	return detector.Config{
		MinProfit:      a.cfg.Detector.MinProfit,
		DefaultFeeRate: a.cfg.Detector.DefaultFeeRate,
	}
}

// startFeeds adds one goroutine per venue feed, each pushing canonical
// quotes into the aggregator until the context is cancelled.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, book *aggregator.Book, m *matcher.Matcher) {
	handler := func(_ context.Context, q domain.Quote) {
		book.Update(q)
	}
	pairs := m.All()

	if a.cfg.Polymarket.WsHost != "" {
		polyFeed := feed.NewPolymarketFeed(a.cfg.Polymarket.WsHost, pairs, a.logger)
		g.Go(func() error {
			return polyFeed.Run(ctx, handler)
		})
	}
	if a.cfg.Kalshi.WsURL != "" {
		kalshiFeed := feed.NewKalshiFeed(a.cfg.Kalshi.WsURL, a.cfg.Kalshi.ApiKey, a.cfg.Kalshi.ApiToken, pairs, a.logger)
		g.Go(func() error {
			return kalshiFeed.Run(ctx, handler)
		})
	}
}

// startArchiver adds a periodic cold-storage sweep. The distributed lock
// keeps concurrent instances from pruning the same rows.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.archiveOnce(ctx, deps, retention)
			}
		}
	})
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies, retention time.Duration) {
	lock, err := deps.LockManager.Acquire(ctx, "archiver", 10*time.Minute)
	if err != nil {
		// Held by another instance, or Redis is down; either way skip this
		// cycle rather than double-prune.
		a.logger.DebugContext(ctx, "archive cycle skipped",
			slog.String("error", err.Error()),
		)
		return
	}
	defer lock.Release()

	cutoff := time.Now().UTC().Add(-retention)
	if _, err := deps.Archiver.ArchiveExecutions(ctx, cutoff); err != nil {
		a.logger.WarnContext(ctx, "execution archive failed",
			slog.String("error", err.Error()),
		)
	}
	if _, err := deps.Archiver.ArchiveOpportunities(ctx, cutoff); err != nil {
		a.logger.WarnContext(ctx, "opportunity archive failed",
			slog.String("error", err.Error()),
		)
	}
}

// recordOpportunity persists, publishes, and announces a detected
// opportunity. All outlets are best-effort; detection never blocks on them.
func (a *App) recordOpportunity(ctx context.Context, deps *Dependencies, opp domain.Opportunity) {
	if deps.OpportunityStore != nil {
		if err := deps.OpportunityStore.Insert(ctx, opp); err != nil {
			a.logger.WarnContext(ctx, "opportunity insert failed",
				slog.Uint64("opportunity_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if deps.SignalBus != nil {
		payload, _ := json.Marshal(map[string]any{
			"event":          "opportunity_detected",
			"opportunity_id": opp.ID,
			"pair":           opp.Pair.Name,
			"direction":      string(opp.Direction),
			"combined_cost":  opp.CombinedCost,
			"margin":         opp.Margin,
			"size":           opp.Size,
		})
		if err := deps.SignalBus.StreamAppend(ctx, "opportunities", payload); err != nil {
			a.logger.DebugContext(ctx, "opportunity event append failed",
				slog.String("error", err.Error()),
			)
		}
	}
	if deps.Notifier != nil {
		go func() {
			if err := deps.Notifier.OpportunityDetected(context.WithoutCancel(ctx), opp); err != nil {
				a.logger.DebugContext(ctx, "opportunity notification failed",
					slog.String("error", err.Error()),
				)
			}
		}()
	}
}

// outcomeReporter fans terminal execution outcomes out to the risk manager,
// the opportunity audit trail, and operator notifications. Notification
// delivery runs off the execution path.
type outcomeReporter struct {
	risk     *risk.Manager
	opps     domain.OpportunityStore
	notifier *notify.Notifier
}

func (r *outcomeReporter) ReportOutcome(exec domain.Execution) {
	r.risk.ReportOutcome(exec)

	ctx := context.Background()
	if r.opps != nil {
		_ = r.opps.MarkExecuted(ctx, exec.OpportunityID, exec.ID)
	}
	if r.notifier != nil {
		go func() {
			_ = r.notifier.ExecutionSettled(ctx, exec)
			if exec.AcceptedExposure {
				_ = r.notifier.ExposureAccepted(ctx, exec)
			}
		}()
	}
}

func (r *outcomeReporter) TripBreaker(reason string) {
	r.risk.TripBreaker(reason)
	if r.notifier != nil {
		go func() {
			_ = r.notifier.BreakerTripped(context.Background(), reason)
		}()
	}
}
