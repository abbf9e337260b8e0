// Package notify pushes operator alerts for the events that need a human
// looking at them: detected opportunities, settled executions, breaker
// trips, and accepted directional exposure. Alerts fan out to every
// configured channel; one channel failing never blocks the others.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Kind classifies an alert for per-operator filtering.
type Kind string

const (
	KindOpportunity Kind = "opportunity"
	KindExecution   Kind = "execution"
	KindBreaker     Kind = "breaker"
	KindExposure    Kind = "exposure"
)

// Alert is one rendered operator notification.
type Alert struct {
	Kind  Kind
	Title string
	Body  string
}

// Sender delivers an alert over one channel.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// Notifier fans alerts out to the configured senders, filtered by kind.
type Notifier struct {
	senders []Sender
	allowed map[Kind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. kinds
// restricts which alert kinds pass; an empty list passes everything.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		allowed[Kind(strings.TrimSpace(k))] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// publish delivers one alert to every sender whose filter admits its kind.
// Sender failures are collected so a single dead channel does not silence
// the rest.
func (n *Notifier) publish(ctx context.Context, a Alert) error {
	if len(n.allowed) > 0 && !n.allowed[a.Kind] {
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var failed []string
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.ErrorContext(ctx, "alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("kind", string(a.Kind)),
				slog.String("error", err.Error()),
			)
			failed = append(failed, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert delivered",
			slog.String("sender", s.Name()),
			slog.String("title", a.Title),
		)
	}

	if len(failed) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}

// postJSON sends one JSON POST and fails on any non-2xx response. Both
// sender channels are plain webhook-style HTTP APIs.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, detail)
	}
	return nil
}
