package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantleaf/crossarb/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL. The processed
// fills table is the durable half of fill deduplication.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// MarkProcessed records a fill ID. It returns false without error when the
// fill was already recorded, which is the duplicate signal.
func (s *FillStore) MarkProcessed(ctx context.Context, fill domain.Fill) (bool, error) {
	const query = `
		INSERT INTO processed_fills (fill_id, venue, instrument, side, price, size, filled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (fill_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		fill.FillID, string(fill.Venue), fill.Instrument, string(fill.Side),
		fill.Price, fill.Size, fill.At,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: mark fill %s processed: %w", fill.FillID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// IsProcessed reports whether a fill ID was recorded before.
func (s *FillStore) IsProcessed(ctx context.Context, fillID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM processed_fills WHERE fill_id = $1)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, fillID).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: check fill %s: %w", fillID, err)
	}
	return exists, nil
}

var _ domain.FillStore = (*FillStore)(nil)
