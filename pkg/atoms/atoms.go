// Package atoms persists causal knowledge atoms.
//
// The table is append-only: atoms are never updated or deleted, only
// added. Near-duplicates are filtered at insert time with a token
// similarity check.
package atoms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heliosarchitect/axon/pkg/store"
)

// Atom is one causal record: subject did action, outcome followed.
type Atom struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	Action       string    `json:"action"`
	Outcome      string    `json:"outcome"`
	Consequences string    `json:"consequences"`
	Confidence   float64   `json:"confidence"`
	Source       string    `json:"source"`
	Categories   []string  `json:"categories,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type row struct {
	ID           string    `db:"id"`
	Subject      string    `db:"subject"`
	Action       string    `db:"action"`
	Outcome      string    `db:"outcome"`
	Consequences string    `db:"consequences"`
	Confidence   float64   `db:"confidence"`
	Source       string    `db:"source"`
	Categories   *string   `db:"categories"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r row) toAtom() Atom {
	a := Atom{
		ID:           r.ID,
		Subject:      r.Subject,
		Action:       r.Action,
		Outcome:      r.Outcome,
		Consequences: r.Consequences,
		Confidence:   r.Confidence,
		Source:       r.Source,
		CreatedAt:    r.CreatedAt,
	}
	if r.Categories != nil && *r.Categories != "" {
		_ = json.Unmarshal([]byte(*r.Categories), &a.Categories)
	}
	return a
}

// Store is the append-only atom store.
type Store struct {
	db     *store.Store
	logger *slog.Logger
}

// NewStore creates an atom store over the shared store.
func NewStore(db *store.Store) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "atom-store"),
	}
}

// Append inserts the atom, assigning ID and timestamp.
func (s *Store) Append(ctx context.Context, a Atom) (*Atom, error) {
	if a.Subject == "" || a.Action == "" {
		return nil, fmt.Errorf("atom needs subject and action")
	}
	a.ID = uuid.New().String()
	a.CreatedAt = time.Now().UTC()

	var cats *string
	if len(a.Categories) > 0 {
		b, err := json.Marshal(a.Categories)
		if err != nil {
			return nil, fmt.Errorf("encode atom categories: %w", err)
		}
		v := string(b)
		cats = &v
	}

	_, err := s.db.Run(ctx, `INSERT INTO atoms
		(id, subject, action, outcome, consequences, confidence, source, categories, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Subject, a.Action, a.Outcome, a.Consequences,
		a.Confidence, a.Source, cats, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append atom %q: %w", a.Subject, err)
	}
	return &a, nil
}

// AppendDedup inserts the atom unless an existing atom with the same
// subject is similar above the threshold. Returns the stored (or
// matched) atom and whether an insert happened.
func (s *Store) AppendDedup(ctx context.Context, a Atom, threshold float64) (*Atom, bool, error) {
	var rows []row
	if err := s.db.All(ctx, &rows,
		"SELECT * FROM atoms WHERE subject = ? ORDER BY created_at DESC LIMIT 50",
		a.Subject); err != nil {
		return nil, false, fmt.Errorf("atom dedup query: %w", err)
	}
	for _, r := range rows {
		existing := r.toAtom()
		if Similarity(a.Action+" "+a.Outcome, existing.Action+" "+existing.Outcome) >= threshold {
			s.logger.Debug("Atom deduplicated against existing",
				"subject", a.Subject, "existing_id", existing.ID)
			return &existing, false, nil
		}
	}
	stored, err := s.Append(ctx, a)
	if err != nil {
		return nil, false, err
	}
	return stored, true, nil
}

// Recent returns the newest atoms, capped at limit.
func (s *Store) Recent(ctx context.Context, limit int) ([]Atom, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []row
	if err := s.db.All(ctx, &rows,
		"SELECT * FROM atoms ORDER BY created_at DESC LIMIT ?", limit); err != nil {
		return nil, fmt.Errorf("list atoms: %w", err)
	}
	out := make([]Atom, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toAtom())
	}
	return out, nil
}

// BySubjectPrefix returns atoms whose subject starts with the prefix.
func (s *Store) BySubjectPrefix(ctx context.Context, prefix string, limit int) ([]Atom, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []row
	if err := s.db.All(ctx, &rows,
		"SELECT * FROM atoms WHERE subject LIKE ? ORDER BY created_at DESC LIMIT ?",
		prefix+"%", limit); err != nil {
		return nil, fmt.Errorf("list atoms by prefix: %w", err)
	}
	out := make([]Atom, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toAtom())
	}
	return out, nil
}

// Similarity is token Jaccard over lowercased whitespace tokens.
// Deterministic and cheap; good enough for dedup, not retrieval.
func Similarity(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for tok := range ta {
		if tb[tok] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,:;!?()[]{}\"'")
		if tok != "" {
			out[tok] = true
		}
	}
	return out
}
