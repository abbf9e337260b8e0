package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantleaf/crossarb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
// The two quote legs are stored as JSONB documents; the pair is stored by
// name since the pair table lives in configuration.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Insert records a detected opportunity.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	polyQuote, err := json.Marshal(opp.PolyQuote)
	if err != nil {
		return fmt.Errorf("postgres: encode poly quote: %w", err)
	}
	kalshiQuote, err := json.Marshal(opp.KalshiQuote)
	if err != nil {
		return fmt.Errorf("postgres: encode kalshi quote: %w", err)
	}

	const query = `
		INSERT INTO opportunities (
			id, pair, direction, combined_cost, margin, size,
			poly_quote, kalshi_quote, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		int64(opp.ID), opp.Pair.Name, string(opp.Direction),
		opp.CombinedCost, opp.Margin, opp.Size,
		polyQuote, kalshiQuote, opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %d: %w", opp.ID, err)
	}
	return nil
}

// MarkExecuted links an opportunity to the execution it produced.
func (s *OpportunityStore) MarkExecuted(ctx context.Context, id uint64, executionID string) error {
	const query = `UPDATE opportunities SET execution_id = $2 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, int64(id), executionID)
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity %d executed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: opportunity %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListRecent returns the most recently detected opportunities.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	const query = opportunitySelect + ` ORDER BY detected_at DESC LIMIT $1`
	return s.list(ctx, query, limit)
}

// ListBefore returns opportunities detected before the cutoff, oldest first.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	const query = opportunitySelect + ` WHERE detected_at < $1 ORDER BY detected_at`
	return s.list(ctx, query, before)
}

// DeleteBefore removes opportunities detected before the cutoff.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM opportunities WHERE detected_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

const opportunitySelect = `
	SELECT id, pair, direction, combined_cost, margin, size,
	       poly_quote, kalshi_quote, detected_at
	FROM opportunities`

func (s *OpportunityStore) list(ctx context.Context, query string, args ...any) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	var opps []domain.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opps = append(opps, opp)
	}
	return opps, rows.Err()
}

func scanOpportunity(row pgx.Row) (domain.Opportunity, error) {
	var o domain.Opportunity
	var id int64
	var direction string
	var polyQuote, kalshiQuote []byte

	err := row.Scan(
		&id, &o.Pair.Name, &direction, &o.CombinedCost, &o.Margin, &o.Size,
		&polyQuote, &kalshiQuote, &o.DetectedAt,
	)
	if err != nil {
		return domain.Opportunity{}, err
	}
	o.ID = uint64(id)
	o.Direction = domain.Direction(direction)

	if err := json.Unmarshal(polyQuote, &o.PolyQuote); err != nil {
		return domain.Opportunity{}, fmt.Errorf("decode poly quote: %w", err)
	}
	if err := json.Unmarshal(kalshiQuote, &o.KalshiQuote); err != nil {
		return domain.Opportunity{}, fmt.Errorf("decode kalshi quote: %w", err)
	}
	return o, nil
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)
