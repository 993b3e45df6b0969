package compress

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// archivedImportance marks a source member as archived behind a
// compressed record.
const archivedImportance = 0.5

// StoreRunner is the write surface the archiver needs. *store.Store
// satisfies it; tests wrap it to inject mid-archive failures.
type StoreRunner interface {
	Run(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Writer inserts the compressed record and archives its sources.
//
// The store has no shared transactions, so the all-or-nothing contract
// is implemented with compensating writes: capture each member's
// original importance before downgrading it, and on any failure restore
// the captured values and delete the compressed row.
type Writer struct {
	db     StoreRunner
	logger *slog.Logger
}

// NewWriter creates the archiving writer.
func NewWriter(db StoreRunner) *Writer {
	return &Writer{
		db:     db,
		logger: slog.Default().With("component", "compression-writer"),
	}
}

// Archive inserts the compressed row and downgrades every member to the
// archived importance. Either the compressed row exists and every
// member is downgraded, or the stm table is left exactly as it was.
func (w *Writer) Archive(ctx context.Context, cl *Cluster, members []MemoryRecord, dist *Distillation) (*MemoryRecord, error) {
	compressed := MemoryRecord{
		ID:             uuid.New().String(),
		Content:        dist.Abstraction,
		Categories:     append(topCategories(members, 2), "compressed"),
		Importance:     maxImportance(members),
		Timestamp:      time.Now().UTC(),
		CompressedFrom: sortedIDs(members),
	}

	cats, err := json.Marshal(compressed.Categories)
	if err != nil {
		return nil, fmt.Errorf("encode compressed categories: %w", err)
	}
	from, err := json.Marshal(compressed.CompressedFrom)
	if err != nil {
		return nil, fmt.Errorf("encode compressed_from: %w", err)
	}

	_, err = w.db.Run(ctx, `INSERT INTO stm
		(id, content, categories, importance, timestamp, compressed_from)
		VALUES (?,?,?,?,?,?)`,
		compressed.ID, compressed.Content, string(cats),
		compressed.Importance, compressed.Timestamp, string(from))
	if err != nil {
		return nil, fmt.Errorf("insert compressed row: %w", err)
	}

	// Original importances, captured so a mid-loop failure restores the
	// real values rather than assuming they all started at 1.0.
	downgraded := make(map[string]float64, len(members))
	for _, m := range members {
		res, err := w.db.Run(ctx,
			"UPDATE stm SET importance = ?, archived_by = ? WHERE id = ?",
			archivedImportance, compressed.ID, m.ID)
		if err == nil {
			if n, affErr := res.RowsAffected(); affErr == nil && n != 1 {
				err = fmt.Errorf("member row missing")
			}
		}
		if err != nil {
			w.rollback(ctx, compressed.ID, downgraded)
			return nil, fmt.Errorf("archive member %s: %w", m.ID, err)
		}
		downgraded[m.ID] = m.Importance
	}

	w.logger.Info("Cluster compressed",
		"compressed_id", compressed.ID, "members", len(members),
		"ratio", fmt.Sprintf("%.2f", dist.Ratio()))
	return &compressed, nil
}

// rollback restores every already-downgraded member to its captured
// importance and deletes the compressed row. Rollback failures are
// logged but do not mask the original error.
func (w *Writer) rollback(ctx context.Context, compressedID string, downgraded map[string]float64) {
	for id, orig := range downgraded {
		if _, err := w.db.Run(ctx,
			"UPDATE stm SET importance = ?, archived_by = NULL WHERE id = ?",
			orig, id); err != nil {
			w.logger.Error("Rollback failed restoring member",
				"member", id, "error", err)
		}
	}
	if _, err := w.db.Run(ctx, "DELETE FROM stm WHERE id = ?", compressedID); err != nil {
		w.logger.Error("Rollback failed deleting compressed row",
			"compressed_id", compressedID, "error", err)
	}
}

func maxImportance(members []MemoryRecord) float64 {
	m := 0.0
	for _, rec := range members {
		if rec.Importance > m {
			m = rec.Importance
		}
	}
	return m
}

func sortedIDs(members []MemoryRecord) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids
}
