package domain

import (
	"context"
	"time"
)

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub for live events and durable streams for the
// audit trail of execution outcomes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter throttles calls against venue APIs.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// FillDedup is a fast-path processed-fill set checked before the durable
// FillStore. Seen returns true when the fill ID was already recorded.
type FillDedup interface {
	Seen(ctx context.Context, fillID string) (bool, error)
	Record(ctx context.Context, fillID string, ttl time.Duration) error
}
