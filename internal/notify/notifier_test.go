package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/quantleaf/crossarb/internal/domain"
)

type fakeSender struct {
	name string
	err  error
	sent []Alert
}

func (f *fakeSender) Send(_ context.Context, a Alert) error {
	f.sent = append(f.sent, a)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func TestPublishFiltersByKind(t *testing.T) {
	s := &fakeSender{name: "chat"}
	n := NewNotifier([]Sender{s}, []string{"breaker"}, slog.Default())

	if err := n.OpportunityDetected(context.Background(), domain.Opportunity{
		Pair: domain.MarketPair{Name: "fed-cut"},
	}); err != nil {
		t.Fatalf("filtered alert returned error: %v", err)
	}
	if len(s.sent) != 0 {
		t.Errorf("filtered kind reached the sender: %+v", s.sent)
	}

	if err := n.BreakerTripped(context.Background(), "too many failures"); err != nil {
		t.Fatalf("breaker alert: %v", err)
	}
	if len(s.sent) != 1 || s.sent[0].Kind != KindBreaker {
		t.Errorf("sent = %+v, want one breaker alert", s.sent)
	}
}

func TestPublishEmptyFilterPassesEverything(t *testing.T) {
	s := &fakeSender{name: "chat"}
	n := NewNotifier([]Sender{s}, nil, slog.Default())

	if err := n.ExecutionSettled(context.Background(), domain.Execution{
		ID: "e1", Pair: "fed-cut", State: domain.ExecCompleted,
	}); err != nil {
		t.Fatalf("execution alert: %v", err)
	}
	if len(s.sent) != 1 {
		t.Fatalf("sent = %d alerts, want 1", len(s.sent))
	}
	if !strings.Contains(s.sent[0].Body, "e1") {
		t.Errorf("alert body %q missing execution ID", s.sent[0].Body)
	}
}

func TestPublishDeliversPastFailingSender(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("timeout")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, slog.Default())

	err := n.BreakerTripped(context.Background(), "anomaly")
	if err == nil {
		t.Fatal("expected aggregated sender error")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("error %q does not name the failing sender", err)
	}
	if len(good.sent) != 1 {
		t.Errorf("healthy sender got %d alerts, want 1", len(good.sent))
	}
}
