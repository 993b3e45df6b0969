// Package compress implements the knowledge-compression pass: cluster
// short-term memories, distill each cluster through the model router,
// archive the sources behind the compressed record, and report.
package compress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/heliosarchitect/axon/pkg/store"
)

// MemoryRecord is one short-term memory row.
type MemoryRecord struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Categories     []string  `json:"categories"`
	Importance     float64   `json:"importance"`
	Timestamp      time.Time `json:"timestamp"`
	CompressedFrom []string  `json:"compressed_from,omitempty"`
	ArchivedBy     string    `json:"archived_by,omitempty"`
}

type memoryRow struct {
	ID             string    `db:"id"`
	Content        string    `db:"content"`
	Categories     string    `db:"categories"`
	Importance     float64   `db:"importance"`
	Timestamp      time.Time `db:"timestamp"`
	CompressedFrom *string   `db:"compressed_from"`
	ArchivedBy     *string   `db:"archived_by"`
}

func (r memoryRow) toRecord() MemoryRecord {
	m := MemoryRecord{
		ID:         r.ID,
		Content:    r.Content,
		Importance: r.Importance,
		Timestamp:  r.Timestamp,
	}
	if r.Categories != "" {
		_ = json.Unmarshal([]byte(r.Categories), &m.Categories)
	}
	if r.CompressedFrom != nil && *r.CompressedFrom != "" {
		_ = json.Unmarshal([]byte(*r.CompressedFrom), &m.CompressedFrom)
	}
	if r.ArchivedBy != nil {
		m.ArchivedBy = *r.ArchivedBy
	}
	return m
}

// MemoryStore reads and writes the stm table.
type MemoryStore struct {
	db *store.Store
}

// NewMemoryStore creates a memory store over the shared store.
func NewMemoryStore(db *store.Store) *MemoryStore {
	return &MemoryStore{db: db}
}

// Insert stores a memory row. The caller supplies the ID so that memories
// captured by the host agent keep their identity.
func (s *MemoryStore) Insert(ctx context.Context, m MemoryRecord) error {
	if m.ID == "" || m.Content == "" {
		return fmt.Errorf("memory needs id and content")
	}
	cats, err := json.Marshal(m.Categories)
	if err != nil {
		return fmt.Errorf("encode memory categories: %w", err)
	}
	var from *string
	if len(m.CompressedFrom) > 0 {
		b, err := json.Marshal(m.CompressedFrom)
		if err != nil {
			return fmt.Errorf("encode compressed_from: %w", err)
		}
		v := string(b)
		from = &v
	}
	_, err = s.db.Run(ctx, `INSERT INTO stm
		(id, content, categories, importance, timestamp, compressed_from)
		VALUES (?,?,?,?,?,?)`,
		m.ID, m.Content, string(cats), m.Importance, m.Timestamp, from)
	if err != nil {
		return fmt.Errorf("insert memory %s: %w", m.ID, err)
	}
	return nil
}

// Get returns one memory by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*MemoryRecord, error) {
	var r memoryRow
	if err := s.db.Get(ctx, &r, "SELECT * FROM stm WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	m := r.toRecord()
	return &m, nil
}

// Eligible returns memories old enough for clustering that have not been
// archived and are not themselves compression products.
func (s *MemoryStore) Eligible(ctx context.Context, olderThan time.Time) ([]MemoryRecord, error) {
	var rows []memoryRow
	err := s.db.All(ctx, &rows, `SELECT * FROM stm
		WHERE timestamp < ?
		  AND archived_by IS NULL
		  AND (compressed_from IS NULL OR compressed_from = '')
		ORDER BY timestamp ASC`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("scan eligible memories: %w", err)
	}
	out := make([]MemoryRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out, nil
}

// estimateTokens is the same rough chars/4 heuristic on both sides of the
// compression ratio, so the ratio stays comparable across runs.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}
