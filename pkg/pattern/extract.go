package pattern

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/heliosarchitect/axon/pkg/store"
)

// Extractor converts one source of records into fingerprints. Version
// identifies the heuristic generation so stored fingerprints from
// different generations are not compared blindly.
type Extractor interface {
	Domain() Domain
	Version() string
	Extract(ctx context.Context, runID string) ([]Fingerprint, error)
}

// extractorVersion is the current keyword-heuristic generation.
const extractorVersion = "v1"

// maxSourceRows is the hard ceiling on any extractor read.
const maxSourceRows = 1000

// sourceRecord is the common shape every extractor query reduces to.
type sourceRecord struct {
	ID          string  `db:"id"`
	Label       string  `db:"label"`
	Description string  `db:"description"`
	Confidence  float64 `db:"confidence"`
}

// externalExtractor reads a read-only SQLite database owned by another
// system (trading signals, radio events, fleet events).
type externalExtractor struct {
	domain     Domain
	sourceType SourceType
	dbPath     string
	query      string
	limit      int
}

// NewTradingExtractor reads the trading system's signals database.
func NewTradingExtractor(dbPath, ownStorePath string, limit int) (Extractor, error) {
	return newExternal(DomainTrading, SourceSignal, dbPath, ownStorePath, limit,
		`SELECT id, symbol || ' ' || signal_type AS label,
		        description, confidence
		 FROM signals ORDER BY created_at DESC LIMIT ?`)
}

// NewRadioExtractor reads the radio monitor's events database.
func NewRadioExtractor(dbPath, ownStorePath string, limit int) (Extractor, error) {
	return newExternal(DomainRadio, SourceEvent, dbPath, ownStorePath, limit,
		`SELECT id, event_type AS label, description,
		        0.6 AS confidence
		 FROM events ORDER BY created_at DESC LIMIT ?`)
}

// NewFleetExtractor reads the fleet controller's events database.
func NewFleetExtractor(dbPath, ownStorePath string, limit int) (Extractor, error) {
	return newExternal(DomainFleet, SourceEvent, dbPath, ownStorePath, limit,
		`SELECT id, node || ' ' || event_type AS label, description,
		        0.6 AS confidence
		 FROM events ORDER BY created_at DESC LIMIT ?`)
}

func newExternal(domain Domain, st SourceType, dbPath, ownStorePath string, limit int, query string) (Extractor, error) {
	if err := ValidateDBPath(dbPath, ownStorePath); err != nil {
		return nil, fmt.Errorf("%s extractor: %w", domain, err)
	}
	return &externalExtractor{
		domain:     domain,
		sourceType: st,
		dbPath:     dbPath,
		query:      query,
		limit:      clampLimit(limit, 200, maxSourceRows),
	}, nil
}

func (e *externalExtractor) Domain() Domain  { return e.domain }
func (e *externalExtractor) Version() string { return extractorVersion }

func (e *externalExtractor) Extract(ctx context.Context, runID string) ([]Fingerprint, error) {
	db, err := store.OpenBare(ctx, e.dbPath)
	if err != nil {
		return nil, fmt.Errorf("%s extractor open: %w", e.domain, err)
	}
	defer db.Close()

	var rows []sourceRecord
	if err := db.All(ctx, &rows, e.query, e.limit); err != nil {
		return nil, fmt.Errorf("%s extractor query: %w", e.domain, err)
	}
	return fingerprintsFrom(rows, e.domain, e.sourceType, runID), nil
}

func fingerprintsFrom(rows []sourceRecord, domain Domain, st SourceType, runID string) []Fingerprint {
	now := time.Now().UTC()
	out := make([]Fingerprint, 0, len(rows))
	for _, r := range rows {
		v := VectorFromText(r.Label + " " + r.Description)
		if v.Magnitude() == 0 {
			continue
		}
		out = append(out, Fingerprint{
			ID:           uuid.New().String(),
			SourceDomain: domain,
			SourceID:     r.ID,
			SourceType:   st,
			Label:        r.Label,
			Confidence:   r.Confidence,
			Structure:    v,
			CreatedAt:    now,
			RunID:        runID,
		})
	}
	return out
}

// MetaExtractor fingerprints the system's own memories and atoms.
type MetaExtractor struct {
	db    *store.Store
	limit int
}

// NewMetaExtractor reads the shared store directly; no path validation
// applies because no external path is involved.
func NewMetaExtractor(db *store.Store, limit int) *MetaExtractor {
	return &MetaExtractor{db: db, limit: clampLimit(limit, 200, maxSourceRows)}
}

func (e *MetaExtractor) Domain() Domain  { return DomainMeta }
func (e *MetaExtractor) Version() string { return extractorVersion }

func (e *MetaExtractor) Extract(ctx context.Context, runID string) ([]Fingerprint, error) {
	var memories []sourceRecord
	err := e.db.All(ctx, &memories,
		`SELECT id, substr(content, 1, 60) AS label, content AS description,
		        importance / 3.0 AS confidence
		 FROM stm WHERE archived_by IS NULL
		 ORDER BY timestamp DESC LIMIT ?`, e.limit)
	if err != nil {
		return nil, fmt.Errorf("meta extractor memories: %w", err)
	}

	var atomRows []sourceRecord
	err = e.db.All(ctx, &atomRows,
		`SELECT id, subject AS label,
		        action || ' ' || outcome || ' ' || consequences AS description,
		        confidence
		 FROM atoms ORDER BY created_at DESC LIMIT ?`, e.limit)
	if err != nil {
		return nil, fmt.Errorf("meta extractor atoms: %w", err)
	}

	out := fingerprintsFrom(memories, DomainMeta, SourceMemory, runID)
	out = append(out, fingerprintsFrom(atomRows, DomainMeta, SourceAtom, runID)...)
	return out, nil
}
