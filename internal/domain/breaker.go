package domain

// BreakerState is the circuit breaker state owned by the risk manager.
type BreakerState string

const (
	// BreakerClosed: normal operation, executions allowed.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen: executions blocked until the cooldown elapses.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen: a single probe execution is allowed through.
	BreakerHalfOpen BreakerState = "half_open"
)

// DenyReason explains why an authorization was refused.
type DenyReason string

const (
	DenySizeLimitExceeded  DenyReason = "size_limit_exceeded"
	DenyCircuitOpen        DenyReason = "circuit_open"
	DenyDuplicateExposure  DenyReason = "duplicate_exposure"
	DenyInsufficientMargin DenyReason = "insufficient_margin"
)

// Authorization is the risk manager's verdict on an opportunity.
type Authorization struct {
	Approved bool
	// SizedAmount is the approved size; only meaningful when Approved.
	SizedAmount float64
	Reason      DenyReason
	// Probe marks a half-open trial execution whose outcome decides the
	// breaker's next state.
	Probe bool
}
