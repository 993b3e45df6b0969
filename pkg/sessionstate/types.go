// Package sessionstate preserves context across agent sessions: a
// snapshot at session end, and a scored, decayed preamble at session
// start.
package sessionstate

import (
	"encoding/json"
	"fmt"
	"time"
)

// schemaVersion guards snapshot JSON evolution.
const schemaVersion = 1

// Pin is one context item worth carrying into a later session.
type Pin struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Snapshot is the preserved end-of-session state.
type Snapshot struct {
	WorkingMemory  []string `json:"working_memory"`
	HotTopics      []string `json:"hot_topics"`
	ActiveProjects []string `json:"active_projects"`
	PendingTasks   []string `json:"pending_tasks"`
	Pins           []Pin    `json:"pins,omitempty"`
}

// Session is one recorded agent session.
type Session struct {
	ID                string     `json:"session_id"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	Channel           string     `json:"channel,omitempty"`
	Snapshot          Snapshot   `json:"snapshot"`
	PreviousSessionID string     `json:"previous_session_id,omitempty"`
	ContinuedBy       string     `json:"continued_by,omitempty"`
	SchemaVersion     int        `json:"schema_version"`
}

type sessionRow struct {
	ID                string     `db:"session_id"`
	StartTime         time.Time  `db:"start_time"`
	EndTime           *time.Time `db:"end_time"`
	Channel           *string    `db:"channel"`
	Snapshot          string     `db:"snapshot"`
	PreviousSessionID *string    `db:"previous_session_id"`
	ContinuedBy       *string    `db:"continued_by"`
	SchemaVersion     int        `db:"schema_version"`
}

func (r sessionRow) toSession() (Session, error) {
	s := Session{
		ID:            r.ID,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		SchemaVersion: r.SchemaVersion,
	}
	if r.Channel != nil {
		s.Channel = *r.Channel
	}
	if r.PreviousSessionID != nil {
		s.PreviousSessionID = *r.PreviousSessionID
	}
	if r.ContinuedBy != nil {
		s.ContinuedBy = *r.ContinuedBy
	}
	if r.Snapshot != "" {
		if err := json.Unmarshal([]byte(r.Snapshot), &s.Snapshot); err != nil {
			return s, fmt.Errorf("decode snapshot of session %s: %w", r.ID, err)
		}
	}
	return s, nil
}

// ScoredSession pairs a prior session with its relevance to the
// starting one.
type ScoredSession struct {
	Session   Session
	Relevance float64
}
