// Package synapse provides the in-process message bus with persisted
// history, live websocket fan-out, and a separate guaranteed external
// delivery channel.
//
// Bus delivery and external delivery are independent paths: a tier-3
// escalation calls both, and the failure of one never suppresses the
// other.
package synapse

import "time"

// Priority classifies a bus message for subscriber routing.
type Priority string

const (
	// PriorityInfo is informational; no operator action expected.
	PriorityInfo Priority = "info"
	// PriorityAction requests an explicit operator decision.
	PriorityAction Priority = "action"
	// PriorityUrgent signals conditions needing immediate attention.
	PriorityUrgent Priority = "urgent"
)

// IsValid checks if the priority is a known value.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityInfo, PriorityAction, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Message is a bus message. ID is assigned at Send time from the
// persisted row.
type Message struct {
	ID        int64     `db:"id" json:"id"`
	Subject   string    `db:"subject" json:"subject"`
	Body      string    `db:"body" json:"body"`
	Priority  Priority  `db:"priority" json:"priority"`
	ThreadID  string    `db:"thread_id" json:"thread_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Subscriber receives every message sent on the bus. Handlers must be
// fast; slow work belongs on the handler's own goroutine.
type Subscriber func(msg Message)
