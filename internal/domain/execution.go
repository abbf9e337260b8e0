package domain

import "time"

// ExecutionState is the combined state of a two-leg execution.
type ExecutionState string

const (
	ExecCreated        ExecutionState = "created"
	ExecLegsSubmitting ExecutionState = "legs_submitting"
	ExecHedging        ExecutionState = "hedging"
	// ExecCompleted: both legs filled within tolerance.
	ExecCompleted ExecutionState = "completed"
	// ExecHedged: exactly one leg filled; the filled leg was unwound (or
	// directional exposure explicitly accepted under policy).
	ExecHedged ExecutionState = "hedged"
	// ExecAbandoned: neither leg filled; no exposure taken.
	ExecAbandoned ExecutionState = "abandoned"
	// ExecFailed: unrecoverable, e.g. both submissions errored or
	// reconciliation could not determine venue state.
	ExecFailed ExecutionState = "failed"
)

// Terminal reports whether the execution reached a final state.
func (s ExecutionState) Terminal() bool {
	switch s {
	case ExecCompleted, ExecHedged, ExecAbandoned, ExecFailed:
		return true
	default:
		return false
	}
}

// UnwindPolicy controls what the coordinator does when exactly one leg fills.
type UnwindPolicy string

const (
	// UnwindAlwaysHedge places an inverse order for the filled leg.
	UnwindAlwaysHedge UnwindPolicy = "always_hedge"
	// UnwindAcceptExposure records the one-sided fill as accepted
	// directional exposure instead of hedging it.
	UnwindAcceptExposure UnwindPolicy = "accept_exposure"
)

// Execution pairs the two order intents of one authorized opportunity and
// owns them exclusively until a terminal state is reached.
type Execution struct {
	ID            string
	OpportunityID uint64
	Pair          string
	PolyLeg       OrderIntent
	KalshiLeg     OrderIntent
	State         ExecutionState
	// UnwindOrder is set when the coordinator hedged a one-sided fill.
	UnwindOrder *OrderIntent
	// AcceptedExposure is set when policy chose to keep a one-sided fill.
	// For every terminal execution with exactly one filled leg, either
	// UnwindOrder or AcceptedExposure is recorded, never neither.
	AcceptedExposure bool
	Reason           string
	StartedAt        time.Time
	CompletedAt      *time.Time
}

// FilledLegs counts legs that reached IntentFilled or IntentPartiallyFilled.
func (e Execution) FilledLegs() int {
	n := 0
	for _, leg := range []OrderIntent{e.PolyLeg, e.KalshiLeg} {
		if leg.State == IntentFilled || leg.State == IntentPartiallyFilled {
			n++
		}
	}
	return n
}
