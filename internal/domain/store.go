package domain

import (
	"context"
	"time"
)

// PositionStore persists position snapshots so the tracker can resume after
// a restart without losing sight of open exposure.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	Get(ctx context.Context, venue Venue, instrument string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
}

// FillStore persists the processed-fill-identifier set. MarkProcessed must
// be idempotent: it returns false (and no error) when the fill ID was
// already recorded, which is how duplicate fill notifications are dropped
// across restarts.
type FillStore interface {
	MarkProcessed(ctx context.Context, fill Fill) (bool, error)
	IsProcessed(ctx context.Context, fillID string) (bool, error)
}

// ExecutionStore persists executions and their legs for audit.
type ExecutionStore interface {
	Create(ctx context.Context, exec Execution) error
	Finalize(ctx context.Context, exec Execution) error
	GetByID(ctx context.Context, id string) (Execution, error)
	ListRecent(ctx context.Context, limit int) ([]Execution, error)
	ListBefore(ctx context.Context, before time.Time) ([]Execution, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OpportunityStore persists detected opportunities for audit and analysis.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	MarkExecuted(ctx context.Context, id uint64, executionID string) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
