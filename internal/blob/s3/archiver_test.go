package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/quantleaf/crossarb/internal/domain"
)

type memWriter struct {
	puts map[string][]byte
	fail bool
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.fail {
		return errors.New("upload failed")
	}
	var buf bytes.Buffer
	buf.ReadFrom(data)
	if w.puts == nil {
		w.puts = make(map[string][]byte)
	}
	w.puts[path] = buf.Bytes()
	return nil
}

type memExecStore struct {
	execs   []domain.Execution
	deleted bool
}

func (s *memExecStore) ListBefore(_ context.Context, before time.Time) ([]domain.Execution, error) {
	var out []domain.Execution
	for _, e := range s.execs {
		if e.StartedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memExecStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.deleted = true
	var kept []domain.Execution
	var n int64
	for _, e := range s.execs {
		if e.StartedAt.Before(before) {
			n++
		} else {
			kept = append(kept, e)
		}
	}
	s.execs = kept
	return n, nil
}

type memOppStore struct{}

func (memOppStore) ListBefore(context.Context, time.Time) ([]domain.Opportunity, error) {
	return nil, nil
}
func (memOppStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func TestArchiveExecutionsUploadsAndPrunes(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := &memExecStore{execs: []domain.Execution{
		{ID: "old-1", State: domain.ExecCompleted, StartedAt: cutoff.Add(-48 * time.Hour)},
		{ID: "old-2", State: domain.ExecAbandoned, StartedAt: cutoff.Add(-24 * time.Hour)},
		{ID: "new-1", State: domain.ExecCompleted, StartedAt: cutoff.Add(time.Hour)},
	}}
	writer := &memWriter{}
	arch := NewArchiver(writer, store, memOppStore{}, slog.Default())

	n, err := arch.ArchiveExecutions(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 2 {
		t.Errorf("archived = %d, want 2", n)
	}

	body, ok := writer.puts["archive/executions/2026-08.jsonl"]
	if !ok {
		t.Fatalf("expected upload at month-partitioned path, got %v", writer.puts)
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 2 {
		t.Errorf("jsonl lines = %d, want 2", len(lines))
	}

	if len(store.execs) != 1 || store.execs[0].ID != "new-1" {
		t.Errorf("prune kept %v", store.execs)
	}
}

func TestArchiveExecutionsUploadFailureDoesNotPrune(t *testing.T) {
	cutoff := time.Now()
	store := &memExecStore{execs: []domain.Execution{
		{ID: "old-1", StartedAt: cutoff.Add(-time.Hour)},
	}}
	arch := NewArchiver(&memWriter{fail: true}, store, memOppStore{}, slog.Default())

	if _, err := arch.ArchiveExecutions(context.Background(), cutoff); err == nil {
		t.Fatal("expected upload error")
	}
	if store.deleted {
		t.Error("must not prune after a failed upload")
	}
}

func TestArchiveExecutionsEmptyIsNoop(t *testing.T) {
	writer := &memWriter{}
	arch := NewArchiver(writer, &memExecStore{}, memOppStore{}, slog.Default())

	n, err := arch.ArchiveExecutions(context.Background(), time.Now())
	if err != nil || n != 0 {
		t.Fatalf("archive = %d, %v", n, err)
	}
	if len(writer.puts) != 0 {
		t.Error("no upload expected for empty store")
	}
}
