package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantleaf/crossarb/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Upsert writes the current snapshot of a position.
func (s *PositionStore) Upsert(ctx context.Context, pos domain.Position) error {
	const query = `
		INSERT INTO positions (venue, instrument, net_size, avg_entry, realized_pnl, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (venue, instrument) DO UPDATE SET
			net_size     = EXCLUDED.net_size,
			avg_entry    = EXCLUDED.avg_entry,
			realized_pnl = EXCLUDED.realized_pnl,
			updated_at   = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		string(pos.Venue), pos.Instrument,
		pos.NetSize, pos.AvgEntry, pos.RealizedPnL, pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", pos.Venue, pos.Instrument, err)
	}
	return nil
}

// Get returns the position for one instrument on one venue.
func (s *PositionStore) Get(ctx context.Context, venue domain.Venue, instrument string) (domain.Position, error) {
	const query = `
		SELECT venue, instrument, net_size, avg_entry, realized_pnl, updated_at
		FROM positions
		WHERE venue = $1 AND instrument = $2`

	pos, err := scanPosition(s.pool.QueryRow(ctx, query, string(venue), instrument))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: position %s/%s: %w", venue, instrument, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", venue, instrument, err)
	}
	return pos, nil
}

// ListOpen returns all positions with non-zero net size.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	const query = `
		SELECT venue, instrument, net_size, avg_entry, realized_pnl, updated_at
		FROM positions
		WHERE net_size <> 0
		ORDER BY venue, instrument`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var venue string
	if err := row.Scan(&venue, &p.Instrument, &p.NetSize, &p.AvgEntry, &p.RealizedPnL, &p.UpdatedAt); err != nil {
		return domain.Position{}, err
	}
	p.Venue = domain.Venue(venue)
	return p, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
