package pattern

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/heliosarchitect/axon/pkg/store"
)

// FingerprintStore persists fingerprints for provenance and later
// inspection.
type FingerprintStore struct {
	db *store.Store
}

// NewFingerprintStore creates the store.
func NewFingerprintStore(db *store.Store) *FingerprintStore {
	return &FingerprintStore{db: db}
}

// Insert persists one fingerprint.
func (s *FingerprintStore) Insert(ctx context.Context, fp Fingerprint) error {
	structure, err := json.Marshal(fp.Structure)
	if err != nil {
		return fmt.Errorf("encode fingerprint structure: %w", err)
	}
	_, err = s.db.Run(ctx, `INSERT INTO pattern_fingerprints
		(fingerprint_id, source_domain, source_id, source_type,
		 label, confidence, structure, created_at, run_id)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		fp.ID, string(fp.SourceDomain), fp.SourceID, string(fp.SourceType),
		fp.Label, fp.Confidence, string(structure), fp.CreatedAt, fp.RunID)
	if err != nil {
		return fmt.Errorf("insert fingerprint %s: %w", fp.ID, err)
	}
	return nil
}

// ByRun returns every fingerprint of one matcher run.
func (s *FingerprintStore) ByRun(ctx context.Context, runID string) ([]Fingerprint, error) {
	var rows []fingerprintRow
	err := s.db.All(ctx, &rows,
		`SELECT * FROM pattern_fingerprints WHERE run_id = ? ORDER BY created_at ASC`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints for run %s: %w", runID, err)
	}
	out := make([]Fingerprint, 0, len(rows))
	for _, r := range rows {
		fp, err := r.toFingerprint()
		if err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, nil
}
