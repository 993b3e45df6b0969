package rtl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/heliosarchitect/axon/pkg/store"
)

// RegressionGenerator writes a test scaffold per failure and records it
// in regression_tests. Authors replace the placeholder assertion.
type RegressionGenerator struct {
	dir    string
	db     *store.Store
	logger *slog.Logger
}

// NewRegressionGenerator creates a generator writing stubs under dir.
func NewRegressionGenerator(dir string, db *store.Store) *RegressionGenerator {
	return &RegressionGenerator{
		dir:    dir,
		db:     db,
		logger: slog.Default().With("component", "regression-generator"),
	}
}

// Propagate writes the stub file and its row, filling rec in place.
func (g *RegressionGenerator) Propagate(ctx context.Context, f *FailureEvent, rec *PropagationRecord) error {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		rec.Status = PropFailed
		rec.ErrorDetail = err.Error()
		return fmt.Errorf("create regression dir: %w", err)
	}

	path := filepath.Join(g.dir, fmt.Sprintf("regress_%s.md", f.ShortID()))
	if _, err := os.Stat(path); err == nil {
		rec.TargetFile = path
		rec.Status = PropSkipped
		rec.ErrorDetail = "stub already exists"
		return nil
	}

	if err := os.WriteFile(path, []byte(renderStub(f)), 0o644); err != nil {
		rec.Status = PropFailed
		rec.ErrorDetail = err.Error()
		return fmt.Errorf("write regression stub: %w", err)
	}

	_, err := g.db.Run(ctx, `INSERT INTO regression_tests
		(id, failure_id, file_path, created_at, status) VALUES (?,?,?,?,?)`,
		uuid.New().String(), f.ID, path, time.Now().UTC(), "stub")
	if err != nil {
		rec.Status = PropFailed
		rec.ErrorDetail = err.Error()
		return fmt.Errorf("record regression stub: %w", err)
	}

	rec.TargetFile = path
	rec.Status = PropCommitted
	return nil
}

func renderStub(f *FailureEvent) string {
	return fmt.Sprintf(`# Regression: failure %s

- failure id: %s
- root cause: %s
- description: %s

## Reproduce

Describe the exact setup that produced the failure.

## Assert

PLACEHOLDER: replace with a concrete assertion that the failure no
longer reproduces. Stubs with this placeholder never pass review.
`, f.ShortID(), f.ID, f.RootCause, strconv.Quote(f.FailureDesc))
}
