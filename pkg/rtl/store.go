package rtl

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heliosarchitect/axon/pkg/store"
)

// ErrNotFound is returned when a failure ID does not exist.
var ErrNotFound = errors.New("failure event not found")

// FailureStore persists failure events and propagation records.
type FailureStore struct {
	db     *store.Store
	logger *slog.Logger
}

// NewFailureStore creates a failure store over the shared store.
func NewFailureStore(db *store.Store) *FailureStore {
	return &FailureStore{
		db:     db,
		logger: slog.Default().With("component", "failure-store"),
	}
}

// Insert persists a classified detection in status pending.
func (s *FailureStore) Insert(ctx context.Context, p DetectionPayload, rootCause string) (*FailureEvent, error) {
	f := &FailureEvent{
		ID:          uuid.New().String(),
		DetectedAt:  time.Now().UTC(),
		Type:        p.Type,
		Tier:        p.Tier,
		Source:      p.Source,
		Context:     p.Context,
		RawInput:    p.RawInput,
		FailureDesc: p.FailureDesc,
		RootCause:   rootCause,
		Status:      StatusPending,
	}
	if f.Context == nil {
		f.Context = map[string]any{}
	}
	ctxJSON, err := json.Marshal(f.Context)
	if err != nil {
		return nil, fmt.Errorf("encode failure context: %w", err)
	}

	var raw *string
	if f.RawInput != "" {
		raw = &f.RawInput
	}
	_, err = s.db.Run(ctx, `INSERT INTO failure_events
		(id, detected_at, type, tier, source, context, raw_input, failure_desc, root_cause, propagation_status)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		f.ID, f.DetectedAt, string(f.Type), f.Tier, f.Source, string(ctxJSON),
		raw, f.FailureDesc, f.RootCause, string(f.Status))
	if err != nil {
		return nil, fmt.Errorf("insert failure event: %w", err)
	}
	return f, nil
}

// SetStatus advances the failure's status. Backward transitions are
// rejected; the status order is forward-only.
func (s *FailureStore) SetStatus(ctx context.Context, id string, next PropagationStatus) error {
	f, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !f.Status.CanTransition(next) {
		return fmt.Errorf("failure %s: cannot move status %s -> %s", id, f.Status, next)
	}
	if _, err := s.db.Run(ctx,
		"UPDATE failure_events SET propagation_status = ? WHERE id = ?",
		string(next), id); err != nil {
		return fmt.Errorf("set failure status %s: %w", id, err)
	}
	return nil
}

// Get returns a failure event, or ErrNotFound.
func (s *FailureStore) Get(ctx context.Context, id string) (*FailureEvent, error) {
	var r failureRow
	err := s.db.Get(ctx, &r, "SELECT * FROM failure_events WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get failure %s: %w", id, err)
	}
	return r.toEvent()
}

// ListRecent returns the newest failures, capped at limit.
func (s *FailureStore) ListRecent(ctx context.Context, limit int) ([]*FailureEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []failureRow
	if err := s.db.All(ctx, &rows,
		"SELECT * FROM failure_events ORDER BY detected_at DESC LIMIT ?", limit); err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	out := make([]*FailureEvent, 0, len(rows))
	for _, r := range rows {
		f, err := r.toEvent()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// OpenPropagation starts a propagation record for a (failure, target).
func (s *FailureStore) OpenPropagation(ctx context.Context, failureID string, t TargetType) (*PropagationRecord, error) {
	rec := &PropagationRecord{
		ID:        uuid.New().String(),
		FailureID: failureID,
		StartedAt: time.Now().UTC(),
		Type:      t,
		Status:    "pending",
	}
	_, err := s.db.Run(ctx, `INSERT INTO propagation_records
		(id, failure_id, started_at, propagation_type, status) VALUES (?,?,?,?,?)`,
		rec.ID, rec.FailureID, rec.StartedAt, string(rec.Type), rec.Status)
	if err != nil {
		return nil, fmt.Errorf("open propagation for %s/%s: %w", failureID, t, err)
	}
	return rec, nil
}

// ClosePropagation writes the propagation outcome.
func (s *FailureStore) ClosePropagation(ctx context.Context, rec *PropagationRecord) error {
	now := time.Now().UTC()
	rec.CompletedAt = &now
	_, err := s.db.Run(ctx, `UPDATE propagation_records SET
		completed_at = ?, target_file = ?, commit_sha = ?, synapse_msg_id = ?,
		status = ?, diff_preview = ?, error_detail = ? WHERE id = ?`,
		rec.CompletedAt, nullable(rec.TargetFile), nullable(rec.CommitSHA),
		nullable(rec.SynapseMsgID), rec.Status, nullable(rec.DiffPreview),
		nullable(rec.ErrorDetail), rec.ID)
	if err != nil {
		return fmt.Errorf("close propagation %s: %w", rec.ID, err)
	}
	return nil
}

// PropagationsOf lists the records of one failure, oldest first.
func (s *FailureStore) PropagationsOf(ctx context.Context, failureID string) ([]*PropagationRecord, error) {
	type propRow struct {
		ID           string     `db:"id"`
		FailureID    string     `db:"failure_id"`
		StartedAt    time.Time  `db:"started_at"`
		CompletedAt  *time.Time `db:"completed_at"`
		Type         string     `db:"propagation_type"`
		TargetFile   *string    `db:"target_file"`
		CommitSHA    *string    `db:"commit_sha"`
		SynapseMsgID *string    `db:"synapse_msg_id"`
		Status       string     `db:"status"`
		DiffPreview  *string    `db:"diff_preview"`
		ErrorDetail  *string    `db:"error_detail"`
	}
	var rows []propRow
	if err := s.db.All(ctx, &rows,
		"SELECT * FROM propagation_records WHERE failure_id = ? ORDER BY started_at",
		failureID); err != nil {
		return nil, fmt.Errorf("list propagations of %s: %w", failureID, err)
	}
	out := make([]*PropagationRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, &PropagationRecord{
			ID:           r.ID,
			FailureID:    r.FailureID,
			StartedAt:    r.StartedAt,
			CompletedAt:  r.CompletedAt,
			Type:         TargetType(r.Type),
			TargetFile:   deref(r.TargetFile),
			CommitSHA:    deref(r.CommitSHA),
			SynapseMsgID: deref(r.SynapseMsgID),
			Status:       r.Status,
			DiffPreview:  deref(r.DiffPreview),
			ErrorDetail:  deref(r.ErrorDetail),
		})
	}
	return out, nil
}

// PriorWithRootCause returns earlier failures sharing the root cause
// within the window, excluding the given failure.
func (s *FailureStore) PriorWithRootCause(ctx context.Context, rootCause, excludeID string, window time.Duration) ([]*FailureEvent, error) {
	var rows []failureRow
	err := s.db.All(ctx, &rows, `SELECT * FROM failure_events
		WHERE root_cause = ? AND id != ? AND detected_at > ?
		ORDER BY detected_at DESC`,
		rootCause, excludeID, time.Now().UTC().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("recurrence query for %q: %w", rootCause, err)
	}
	out := make([]*FailureEvent, 0, len(rows))
	for _, r := range rows {
		f, err := r.toEvent()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// MarkRecurred bumps the recurrence counter. The counter is monotone;
// this is the only writer and it only increments.
func (s *FailureStore) MarkRecurred(ctx context.Context, id string) error {
	_, err := s.db.Run(ctx, `UPDATE failure_events SET
		recurrence_count = recurrence_count + 1, last_recurred_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark recurrence on %s: %w", id, err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
