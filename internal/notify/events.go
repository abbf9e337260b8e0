package notify

import (
	"context"
	"fmt"

	"github.com/quantleaf/crossarb/internal/domain"
)

// OpportunityDetected reports a detected arbitrage opportunity.
func (n *Notifier) OpportunityDetected(ctx context.Context, opp domain.Opportunity) error {
	return n.publish(ctx, Alert{
		Kind:  KindOpportunity,
		Title: fmt.Sprintf("Arb: %s", opp.Pair.Name),
		Body: fmt.Sprintf(
			"direction %s\ncombined cost %.4f, margin %.4f\nsize %.0f",
			opp.Direction, opp.CombinedCost, opp.Margin, opp.Size,
		),
	})
}

// ExecutionSettled reports a terminal execution outcome.
func (n *Notifier) ExecutionSettled(ctx context.Context, exec domain.Execution) error {
	body := fmt.Sprintf(
		"id %s\npoly leg %s (%.0f @ %.4f)\nkalshi leg %s (%.0f @ %.4f)",
		exec.ID,
		exec.PolyLeg.State, exec.PolyLeg.FilledSize, exec.PolyLeg.FilledPrice,
		exec.KalshiLeg.State, exec.KalshiLeg.FilledSize, exec.KalshiLeg.FilledPrice,
	)
	if exec.Reason != "" {
		body += "\nreason: " + exec.Reason
	}
	return n.publish(ctx, Alert{
		Kind:  KindExecution,
		Title: fmt.Sprintf("Execution %s: %s", exec.State, exec.Pair),
		Body:  body,
	})
}

// BreakerTripped reports that the circuit breaker opened.
func (n *Notifier) BreakerTripped(ctx context.Context, reason string) error {
	return n.publish(ctx, Alert{
		Kind:  KindBreaker,
		Title: "Circuit breaker OPEN",
		Body:  reason,
	})
}

// ExposureAccepted reports a one-sided fill kept as directional exposure
// under the accept_exposure unwind policy.
func (n *Notifier) ExposureAccepted(ctx context.Context, exec domain.Execution) error {
	return n.publish(ctx, Alert{
		Kind:  KindExposure,
		Title: fmt.Sprintf("Directional exposure accepted: %s", exec.Pair),
		Body:  fmt.Sprintf("execution %s kept a one-sided fill under policy", exec.ID),
	})
}
