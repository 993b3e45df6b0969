package runbook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/heliosarchitect/axon/pkg/store"
)

const defaultConfidence = 0.5

// MetaStore persists per-runbook execution metadata.
type MetaStore struct {
	db     *store.Store
	logger *slog.Logger
}

// NewMetaStore creates a metadata store over the shared store.
func NewMetaStore(db *store.Store) *MetaStore {
	return &MetaStore{
		db:     db,
		logger: slog.Default().With("component", "runbook-meta"),
	}
}

// Get returns the metadata row for a runbook, creating the default row
// on first access.
func (s *MetaStore) Get(ctx context.Context, runbookID string) (*Meta, error) {
	var m Meta
	err := s.db.Get(ctx, &m,
		"SELECT runbook_id, dry_run_count, last_executed_at, last_succeeded_at, confidence, mode FROM runbook_meta WHERE runbook_id = ?",
		runbookID)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Run(ctx,
			"INSERT OR IGNORE INTO runbook_meta (runbook_id, confidence, mode) VALUES (?,?,?)",
			runbookID, defaultConfidence, string(ModeDryRun)); err != nil {
			return nil, fmt.Errorf("seed runbook meta %s: %w", runbookID, err)
		}
		return &Meta{RunbookID: runbookID, Confidence: defaultConfidence, Mode: ModeDryRun}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get runbook meta %s: %w", runbookID, err)
	}
	return &m, nil
}

// Record updates metadata after an execution: stamps timestamps,
// increments the dry-run counter in dry-run mode, and nudges confidence
// on live outcomes.
func (s *MetaStore) Record(ctx context.Context, runbookID string, mode Mode, success bool) (*Meta, error) {
	m, err := s.Get(ctx, runbookID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m.LastExecutedAt = &now
	if success {
		m.LastSucceededAt = &now
	}
	if mode == ModeDryRun {
		m.DryRunCount++
	} else {
		if success {
			m.Confidence = min(1.0, m.Confidence+0.1)
		} else {
			m.Confidence = max(0.0, m.Confidence-0.2)
		}
	}

	_, err = s.db.Run(ctx, `UPDATE runbook_meta SET
		dry_run_count = ?, last_executed_at = ?, last_succeeded_at = ?, confidence = ?
		WHERE runbook_id = ?`,
		m.DryRunCount, m.LastExecutedAt, m.LastSucceededAt, m.Confidence, runbookID)
	if err != nil {
		return nil, fmt.Errorf("record runbook run %s: %w", runbookID, err)
	}
	return m, nil
}

// MaybeGraduate flips the runbook to auto_execute when both graduation
// conditions hold: enough recorded dry runs AND operator whitelisting.
// It reports whether a graduation happened.
func (s *MetaStore) MaybeGraduate(ctx context.Context, runbookID string, graduationCount int, whitelisted bool) (bool, error) {
	m, err := s.Get(ctx, runbookID)
	if err != nil {
		return false, err
	}
	if m.Mode == ModeAutoExecute {
		return false, nil
	}
	if m.DryRunCount < graduationCount || !whitelisted {
		return false, nil
	}

	if _, err := s.db.Run(ctx,
		"UPDATE runbook_meta SET mode = ? WHERE runbook_id = ?",
		string(ModeAutoExecute), runbookID); err != nil {
		return false, fmt.Errorf("graduate runbook %s: %w", runbookID, err)
	}
	s.logger.Info("Runbook graduated to auto_execute",
		"runbook_id", runbookID, "dry_run_count", m.DryRunCount)
	return true, nil
}

// Demote forces the runbook back to dry_run mode, e.g. after an
// operator revokes approval.
func (s *MetaStore) Demote(ctx context.Context, runbookID string) error {
	if _, err := s.Get(ctx, runbookID); err != nil {
		return err
	}
	if _, err := s.db.Run(ctx,
		"UPDATE runbook_meta SET mode = ? WHERE runbook_id = ?",
		string(ModeDryRun), runbookID); err != nil {
		return fmt.Errorf("demote runbook %s: %w", runbookID, err)
	}
	return nil
}
