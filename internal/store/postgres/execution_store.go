package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantleaf/crossarb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL. Order
// legs are stored as JSONB documents.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Create inserts a new execution in its initial state.
func (s *ExecutionStore) Create(ctx context.Context, exec domain.Execution) error {
	polyLeg, kalshiLeg, unwind, err := marshalLegs(exec)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO executions (
			id, opportunity_id, pair, state, reason, accepted_exposure,
			poly_leg, kalshi_leg, unwind_order, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = s.pool.Exec(ctx, query,
		exec.ID, int64(exec.OpportunityID), exec.Pair,
		string(exec.State), exec.Reason, exec.AcceptedExposure,
		polyLeg, kalshiLeg, unwind, exec.StartedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create execution %s: %w", exec.ID, err)
	}
	return nil
}

// Finalize replaces the mutable fields of an execution with its terminal
// snapshot.
func (s *ExecutionStore) Finalize(ctx context.Context, exec domain.Execution) error {
	polyLeg, kalshiLeg, unwind, err := marshalLegs(exec)
	if err != nil {
		return err
	}

	const query = `
		UPDATE executions SET
			state             = $2,
			reason            = $3,
			accepted_exposure = $4,
			poly_leg          = $5,
			kalshi_leg        = $6,
			unwind_order      = $7,
			completed_at      = $8
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		exec.ID, string(exec.State), exec.Reason, exec.AcceptedExposure,
		polyLeg, kalshiLeg, unwind, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: finalize execution %s: %w", exec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: finalize execution %s: %w", exec.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns one execution.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.Execution, error) {
	const query = executionSelect + ` WHERE id = $1`

	exec, err := scanExecution(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Execution{}, fmt.Errorf("postgres: execution %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Execution{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	return exec, nil
}

// ListRecent returns the most recently started executions.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.Execution, error) {
	const query = executionSelect + ` ORDER BY started_at DESC LIMIT $1`
	return s.list(ctx, query, limit)
}

// ListBefore returns executions started before the cutoff, oldest first.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Execution, error) {
	const query = executionSelect + ` WHERE started_at < $1 ORDER BY started_at`
	return s.list(ctx, query, before)
}

// DeleteBefore removes executions started before the cutoff and returns the
// number deleted.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

const executionSelect = `
	SELECT id, opportunity_id, pair, state, reason, accepted_exposure,
	       poly_leg, kalshi_leg, unwind_order, started_at, completed_at
	FROM executions`

func (s *ExecutionStore) list(ctx context.Context, query string, args ...any) ([]domain.Execution, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var execs []domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(row pgx.Row) (domain.Execution, error) {
	var e domain.Execution
	var state string
	var oppID int64
	var polyLeg, kalshiLeg []byte
	var unwind []byte

	err := row.Scan(
		&e.ID, &oppID, &e.Pair, &state, &e.Reason, &e.AcceptedExposure,
		&polyLeg, &kalshiLeg, &unwind, &e.StartedAt, &e.CompletedAt,
	)
	if err != nil {
		return domain.Execution{}, err
	}
	e.OpportunityID = uint64(oppID)
	e.State = domain.ExecutionState(state)

	if err := json.Unmarshal(polyLeg, &e.PolyLeg); err != nil {
		return domain.Execution{}, fmt.Errorf("decode poly leg: %w", err)
	}
	if err := json.Unmarshal(kalshiLeg, &e.KalshiLeg); err != nil {
		return domain.Execution{}, fmt.Errorf("decode kalshi leg: %w", err)
	}
	if len(unwind) > 0 {
		var u domain.OrderIntent
		if err := json.Unmarshal(unwind, &u); err != nil {
			return domain.Execution{}, fmt.Errorf("decode unwind order: %w", err)
		}
		e.UnwindOrder = &u
	}
	return e, nil
}

func marshalLegs(exec domain.Execution) (polyLeg, kalshiLeg, unwind []byte, err error) {
	if polyLeg, err = json.Marshal(exec.PolyLeg); err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: encode poly leg: %w", err)
	}
	if kalshiLeg, err = json.Marshal(exec.KalshiLeg); err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: encode kalshi leg: %w", err)
	}
	if exec.UnwindOrder != nil {
		if unwind, err = json.Marshal(exec.UnwindOrder); err != nil {
			return nil, nil, nil, fmt.Errorf("postgres: encode unwind order: %w", err)
		}
	}
	return polyLeg, kalshiLeg, unwind, nil
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
