package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/quantleaf/crossarb/internal/domain"
)

// Breaker is the three-state circuit breaker guarding order execution.
// Closed→Open on a run of consecutive execution failures or an explicit
// trip; Open→HalfOpen once the cooldown elapses; HalfOpen→Closed after one
// successful probe, back to Open otherwise.
type Breaker struct {
	mu sync.Mutex

	state            domain.BreakerState
	failureThreshold int
	cooldown         time.Duration

	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool

	now    func() time.Time
	logger *slog.Logger
}

// NewBreaker creates a closed Breaker.
func NewBreaker(failureThreshold int, cooldown time.Duration, logger *slog.Logger) *Breaker {
	return &Breaker{
		state:            domain.BreakerClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
		logger:           logger.With(slog.String("component", "circuit_breaker")),
	}
}

// State returns the current state, transitioning Open→HalfOpen when the
// cooldown has elapsed.
func (b *Breaker) State() domain.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tick()
	return b.state
}

// Allow reports whether an execution may proceed. The second return value
// marks a half-open probe: its outcome alone decides the next state.
func (b *Breaker) Allow() (allowed, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tick()

	switch b.state {
	case domain.BreakerClosed:
		return true, false
	case domain.BreakerHalfOpen:
		if b.probeInFlight {
			return false, false
		}
		b.probeInFlight = true
		return true, true
	default:
		return false, false
	}
}

// RecordSuccess resets the failure run; a successful probe closes the
// breaker.
func (b *Breaker) RecordSuccess(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	if probe && b.state == domain.BreakerHalfOpen {
		b.transition(domain.BreakerClosed, "probe succeeded")
		b.probeInFlight = false
	}
}

// RecordFailure counts an execution failure. The breaker opens when the
// consecutive-failure threshold is reached or a half-open probe fails.
func (b *Breaker) RecordFailure(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == domain.BreakerHalfOpen {
		b.probeInFlight = false
		b.transition(domain.BreakerOpen, "probe failed: "+reason)
		b.openedAt = b.now()
		return
	}

	b.consecutiveFailures++
	if b.state == domain.BreakerClosed && b.consecutiveFailures >= b.failureThreshold {
		b.transition(domain.BreakerOpen, reason)
		b.openedAt = b.now()
	}
}

// Trip opens the breaker immediately, regardless of the failure count. Used
// for anomalous price or feed conditions and for unresolved reconciliation
// escalations that need operator intervention.
func (b *Breaker) Trip(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != domain.BreakerOpen {
		b.transition(domain.BreakerOpen, reason)
		b.openedAt = b.now()
	}
}

// tick applies the time-driven Open→HalfOpen transition. Caller holds mu.
func (b *Breaker) tick() {
	if b.state == domain.BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.transition(domain.BreakerHalfOpen, "cooldown elapsed")
		b.probeInFlight = false
	}
}

// transition logs and applies a state change. Caller holds mu.
func (b *Breaker) transition(to domain.BreakerState, reason string) {
	from := b.state
	b.state = to
	b.logger.Warn("circuit breaker transition",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("reason", reason),
	)
}
