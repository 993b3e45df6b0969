package pattern

import (
	"encoding/json"
	"fmt"
	"time"
)

// Domain partitions fingerprints; matches only happen across domains.
type Domain string

const (
	DomainTrading Domain = "trading"
	DomainRadio   Domain = "radio"
	DomainFleet   Domain = "fleet"
	DomainMeta    Domain = "meta"
)

// SourceType records what kind of record a fingerprint came from.
type SourceType string

const (
	SourceSignal SourceType = "signal"
	SourceMemory SourceType = "memory"
	SourceAtom   SourceType = "atom"
	SourceEvent  SourceType = "event"
)

// Fingerprint is the structural identity of one source record.
type Fingerprint struct {
	ID           string           `json:"fingerprint_id"`
	SourceDomain Domain           `json:"source_domain"`
	SourceID     string           `json:"source_id"`
	SourceType   SourceType       `json:"source_type"`
	Label        string           `json:"label"`
	Confidence   float64          `json:"confidence"`
	Structure    StructuralVector `json:"structure"`
	CreatedAt    time.Time        `json:"created_at"`
	RunID        string           `json:"run_id"`
}

type fingerprintRow struct {
	ID           string    `db:"fingerprint_id"`
	SourceDomain string    `db:"source_domain"`
	SourceID     string    `db:"source_id"`
	SourceType   string    `db:"source_type"`
	Label        string    `db:"label"`
	Confidence   float64   `db:"confidence"`
	Structure    string    `db:"structure"`
	CreatedAt    time.Time `db:"created_at"`
	RunID        string    `db:"run_id"`
}

func (r fingerprintRow) toFingerprint() (Fingerprint, error) {
	fp := Fingerprint{
		ID:           r.ID,
		SourceDomain: Domain(r.SourceDomain),
		SourceID:     r.SourceID,
		SourceType:   SourceType(r.SourceType),
		Label:        r.Label,
		Confidence:   r.Confidence,
		CreatedAt:    r.CreatedAt,
		RunID:        r.RunID,
	}
	if err := json.Unmarshal([]byte(r.Structure), &fp.Structure); err != nil {
		return fp, fmt.Errorf("decode fingerprint %s structure: %w", r.ID, err)
	}
	return fp, nil
}

// Match is one cross-domain analogy.
type Match struct {
	A        Fingerprint `json:"a"`
	B        Fingerprint `json:"b"`
	Distance float64     `json:"distance"`
	Metaphor string      `json:"metaphor"`
}
