// Package risk gates the path between the detector and the execution
// coordinator. Authorize is the single serialization point of the system:
// all calls take one mutex so aggregate exposure limits hold even while
// detection and execution run in parallel.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/quantleaf/crossarb/internal/domain"
)

// Config holds the risk limits.
type Config struct {
	// MaxPositionSize caps the net size per (venue, instrument, side), in
	// contracts.
	MaxPositionSize float64
	// MaxAggregateExposure caps the total entry-priced notional across all
	// open positions and in-flight executions, in currency units.
	MaxAggregateExposure float64
	// MinMargin re-validates the opportunity margin at authorization time.
	MinMargin float64
}

// PositionReader is the tracker-facing view the manager reads exposure from.
type PositionReader interface {
	Exposure(venue domain.Venue, instrument string, side domain.Side) float64
	TotalNotional() float64
}

// reservation is exposure held for an in-flight execution. Reservations are
// released when the execution outcome is reported.
type reservation struct {
	keys     [2]domain.QuoteKey
	size     float64
	notional float64
	probe    bool
	at       time.Time
}

// Manager authorizes opportunities and owns the circuit breaker.
type Manager struct {
	mu        sync.Mutex
	cfg       Config
	breaker   *Breaker
	positions PositionReader
	reserved  map[uint64]reservation // opportunity ID -> in-flight exposure
	logger    *slog.Logger
}

// NewManager creates a Manager with a closed breaker.
func NewManager(cfg Config, breaker *Breaker, positions PositionReader, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		breaker:   breaker,
		positions: positions,
		reserved:  make(map[uint64]reservation),
		logger:    logger.With(slog.String("component", "risk_manager")),
	}
}

// Authorize sizes and approves an opportunity, or denies it with a reason.
// The approved size is capped by the per-instrument position limit, the
// counter-size available on both legs, and the remaining aggregate exposure
// headroom. Overlapping in-flight executions are allowed, but only when the
// full request fits the reservation-inclusive headroom: the final fill of a
// live execution is unknown, so an overlapping request is never downsized
// against a guess. Approval reserves the exposure until ReportOutcome
// releases it.
func (m *Manager) Authorize(opp domain.Opportunity) domain.Authorization {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed, probe := m.breaker.Allow()
	if !allowed {
		return m.deny(opp, domain.DenyCircuitOpen)
	}

	if opp.Margin < m.cfg.MinMargin {
		m.releaseProbe(probe)
		return m.deny(opp, domain.DenyInsufficientMargin)
	}

	// A live reservation under the same ID is a re-submitted opportunity,
	// not new exposure.
	if _, inflight := m.reserved[opp.ID]; inflight {
		m.releaseProbe(probe)
		return m.deny(opp, domain.DenyDuplicateExposure)
	}

	// Counter-size on both legs bounds the request.
	size := opp.Size
	keys := legKeys(opp)

	// Per-instrument headroom on each leg, counting open positions and
	// reserved in-flight size.
	overlapped := false
	for _, key := range keys {
		held := m.positions.Exposure(key.Venue, key.Instrument, key.Side)
		for _, r := range m.reserved {
			if r.keys[0] == key || r.keys[1] == key {
				held += r.size
				overlapped = true
			}
		}
		if headroom := m.cfg.MaxPositionSize - held; headroom < size {
			size = headroom
		}
	}
	if size <= 0 {
		m.releaseProbe(probe)
		return m.deny(opp, domain.DenySizeLimitExceeded)
	}

	// Aggregate notional headroom.
	notionalHeld := m.positions.TotalNotional()
	for _, r := range m.reserved {
		notionalHeld += r.notional
	}
	if opp.CombinedCost > 0 {
		if headroom := (m.cfg.MaxAggregateExposure - notionalHeld) / opp.CombinedCost; headroom < size {
			size = headroom
		}
	}
	if size <= 0 {
		m.releaseProbe(probe)
		return m.deny(opp, domain.DenySizeLimitExceeded)
	}

	if overlapped && size < opp.Size {
		m.releaseProbe(probe)
		return m.deny(opp, domain.DenySizeLimitExceeded)
	}

	m.reserved[opp.ID] = reservation{
		keys:     keys,
		size:     size,
		notional: size * opp.CombinedCost,
		probe:    probe,
		at:       time.Now(),
	}
	m.logger.Info("opportunity authorized",
		slog.Uint64("opportunity_id", opp.ID),
		slog.String("pair", opp.Pair.Name),
		slog.Float64("sized_amount", size),
		slog.Bool("probe", probe),
	)
	return domain.Authorization{Approved: true, SizedAmount: size, Probe: probe}
}

// ReportOutcome releases the reservation for a terminal execution and feeds
// the breaker's failure counter. Completed and hedged outcomes count as
// success, abandoned is neutral, failed counts as a failure.
func (m *Manager) ReportOutcome(exec domain.Execution) {
	m.mu.Lock()
	r, held := m.reserved[exec.OpportunityID]
	delete(m.reserved, exec.OpportunityID)
	m.mu.Unlock()

	probe := held && r.probe
	switch exec.State {
	case domain.ExecCompleted, domain.ExecHedged:
		m.breaker.RecordSuccess(probe)
	case domain.ExecFailed:
		m.breaker.RecordFailure("execution failed: " + exec.Reason)
	case domain.ExecAbandoned:
		if probe {
			// An abandoned probe proves nothing; surrender the slot so the
			// next authorization can probe again.
			m.breaker.RecordFailure("probe abandoned")
		}
	}
}

// TripBreaker opens the breaker for an anomalous external condition.
func (m *Manager) TripBreaker(reason string) {
	m.breaker.Trip(reason)
}

// BreakerState exposes the current breaker state for status reporting.
func (m *Manager) BreakerState() domain.BreakerState {
	return m.breaker.State()
}

// releaseProbe hands back a half-open probe slot that was claimed by Allow
// but never used because the authorization was denied. Caller holds mu.
func (m *Manager) releaseProbe(probe bool) {
	if probe {
		m.breaker.mu.Lock()
		m.breaker.probeInFlight = false
		m.breaker.mu.Unlock()
	}
}

func (m *Manager) deny(opp domain.Opportunity, reason domain.DenyReason) domain.Authorization {
	m.logger.Debug("opportunity denied",
		slog.Uint64("opportunity_id", opp.ID),
		slog.String("pair", opp.Pair.Name),
		slog.String("reason", string(reason)),
	)
	return domain.Authorization{Approved: false, Reason: reason}
}

func legKeys(opp domain.Opportunity) [2]domain.QuoteKey {
	return [2]domain.QuoteKey{opp.PolyQuote.Key(), opp.KalshiQuote.Key()}
}
