package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantleaf/crossarb/internal/domain"
)

// ExecutionArchiveStore is the slice of the execution store the archiver
// needs: time-ranged reads plus pruning.
type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Execution, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OpportunityArchiveStore is the slice of the opportunity store the archiver
// needs.
type OpportunityArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archive implements domain.Archiver by querying the stores for aged
// records, serializing them to JSONL, uploading to object storage, and
// pruning the source rows. Pruning happens only after a successful upload.
type Archive struct {
	writer        domain.BlobWriter
	executions    ExecutionArchiveStore
	opportunities OpportunityArchiveStore
	logger        *slog.Logger
}

// NewArchiver creates an Archive over the given writer and stores.
func NewArchiver(writer domain.BlobWriter, executions ExecutionArchiveStore, opportunities OpportunityArchiveStore, logger *slog.Logger) *Archive {
	return &Archive{
		writer:        writer,
		executions:    executions,
		opportunities: opportunities,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveExecutions uploads executions started before the cutoff to
// archive/executions/YYYY-MM.jsonl and deletes them from the store.
func (a *Archive) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	execs, err := a.executions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(execs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(execs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions marshal: %w", err)
	}

	path := archivePath("executions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive executions upload: %w", err)
	}

	deleted, err := a.executions.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(execs)), fmt.Errorf("s3blob: archive executions prune: %w", err)
	}

	a.logger.Info("archived executions",
		slog.String("path", path),
		slog.Int("uploaded", len(execs)),
		slog.Int64("pruned", deleted))
	return int64(len(execs)), nil
}

// ArchiveOpportunities uploads opportunities detected before the cutoff to
// archive/opportunities/YYYY-MM.jsonl and deletes them from the store.
func (a *Archive) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	opps, err := a.opportunities.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	if len(opps) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(opps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities marshal: %w", err)
	}

	path := archivePath("opportunities", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities upload: %w", err)
	}

	deleted, err := a.opportunities.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(opps)), fmt.Errorf("s3blob: archive opportunities prune: %w", err)
	}

	a.logger.Info("archived opportunities",
		slog.String("path", path),
		slog.Int("uploaded", len(opps)),
		slog.Int64("pruned", deleted))
	return int64(len(opps)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archive)(nil)
