package compress

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/heliosarchitect/axon/pkg/store"
)

// Report aggregates the counters of one compression run.
type Report struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	MemoriesScanned  int `json:"memories_scanned"`
	ClustersFound    int `json:"clusters_found"`
	ClustersSkipped  int `json:"clusters_skipped"`
	ClustersRefused  int `json:"clusters_refused"`
	Compressed       int `json:"compressed"`
	MembersArchived  int `json:"members_archived"`
	AtomsCreated     int `json:"atoms_created"`
	AtomsDeduped     int `json:"atoms_deduped"`
	TokensBefore     int `json:"tokens_before"`
	TokensAfter      int `json:"tokens_after"`

	Ratios []float64 `json:"ratios"`
	Errors []string  `json:"errors"`
}

// Summary renders the one-paragraph human view of the run.
func (r *Report) Summary() string {
	return fmt.Sprintf(
		"compression run %s: scanned %d memories, found %d clusters (%d skipped, %d refused), "+
			"compressed %d, archived %d members, atoms %d created / %d deduped, "+
			"tokens %d -> %d, %d errors",
		r.RunID, r.MemoriesScanned, r.ClustersFound, r.ClustersSkipped, r.ClustersRefused,
		r.Compressed, r.MembersArchived, r.AtomsCreated, r.AtomsDeduped,
		r.TokensBefore, r.TokensAfter, len(r.Errors))
}

// Reporter persists run reports: one JSON artifact per run plus a
// compression_log row in the shared store.
type Reporter struct {
	dir string
	db  *store.Store
}

// NewReporter creates the reporter writing artifacts under dir.
func NewReporter(dir string, db *store.Store) *Reporter {
	return &Reporter{dir: dir, db: db}
}

// Write persists the report. Returns the artifact path.
func (r *Reporter) Write(ctx context.Context, rep *Report) (string, error) {
	body, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode run report: %w", err)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}
	path := filepath.Join(r.dir, "compression_"+rep.RunID+".json")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write report artifact: %w", err)
	}

	_, err = r.db.Run(ctx, `INSERT INTO compression_log
		(run_id, started_at, completed_at, report) VALUES (?,?,?,?)`,
		rep.RunID, rep.StartedAt, rep.CompletedAt, string(body))
	if err != nil {
		return "", fmt.Errorf("record compression run %s: %w", rep.RunID, err)
	}
	return path, nil
}
