package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantleaf/crossarb/internal/domain"
)

// FillDedup implements domain.FillDedup using per-fill keys with a TTL. It
// is the fast-path duplicate check in front of the durable fill store.
type FillDedup struct {
	rdb *redis.Client
}

// NewFillDedup creates a FillDedup backed by the given Client.
func NewFillDedup(c *Client) *FillDedup {
	return &FillDedup{rdb: c.Underlying()}
}

func fillKey(fillID string) string {
	return "fill:" + fillID
}

// Seen reports whether the fill ID was recorded within its TTL.
func (d *FillDedup) Seen(ctx context.Context, fillID string) (bool, error) {
	n, err := d.rdb.Exists(ctx, fillKey(fillID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: fill seen %s: %w", fillID, err)
	}
	return n > 0, nil
}

// Record marks a fill ID as processed for the given TTL.
func (d *FillDedup) Record(ctx context.Context, fillID string, ttl time.Duration) error {
	if err := d.rdb.Set(ctx, fillKey(fillID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis: fill record %s: %w", fillID, err)
	}
	return nil
}

var _ domain.FillDedup = (*FillDedup)(nil)
