package synapse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/heliosarchitect/axon/pkg/store"
)

// Bus is the Synapse message bus. Send persists the message, then fans
// out to in-process subscribers and the websocket broadcaster.
type Bus struct {
	db     *store.Store
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers []Subscriber

	// broadcaster is set after construction when the websocket layer is
	// up. Nil-safe: messages are still persisted and fanned out locally.
	broadcaster Broadcaster
}

// Broadcaster pushes a serialized message to live websocket clients.
// Implemented by ConnectionManager.
type Broadcaster interface {
	BroadcastMessage(msg Message)
}

// NewBus creates a bus persisting into the given store.
func NewBus(db *store.Store) *Bus {
	return &Bus{
		db:     db,
		logger: slog.Default().With("component", "synapse"),
	}
}

// SetBroadcaster wires the websocket layer. Called once during startup.
func (b *Bus) SetBroadcaster(bc Broadcaster) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcaster = bc
}

// Subscribe registers an in-process subscriber for all future messages.
func (b *Bus) Subscribe(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// Send persists and delivers a message, returning it with its assigned ID.
// Subscriber panics are recovered and logged so one bad handler cannot
// break delivery to the rest.
func (b *Bus) Send(ctx context.Context, subject, body string, priority Priority, threadID string) (Message, error) {
	if !priority.IsValid() {
		return Message{}, fmt.Errorf("invalid priority %q", priority)
	}
	if subject == "" {
		return Message{}, fmt.Errorf("subject must not be empty")
	}

	msg := Message{
		Subject:   subject,
		Body:      body,
		Priority:  priority,
		ThreadID:  threadID,
		CreatedAt: time.Now().UTC(),
	}

	res, err := b.db.Run(ctx,
		"INSERT INTO synapse_messages (subject, body, priority, thread_id, created_at) VALUES (?,?,?,?,?)",
		msg.Subject, msg.Body, string(msg.Priority), msg.ThreadID, msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("persist message: %w", err)
	}
	if msg.ID, err = res.LastInsertId(); err != nil {
		return Message{}, fmt.Errorf("message id: %w", err)
	}

	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	bc := b.broadcaster
	b.mu.RUnlock()

	for _, fn := range subs {
		b.deliver(fn, msg)
	}
	if bc != nil {
		bc.BroadcastMessage(msg)
	}

	b.logger.Debug("Message sent",
		"id", msg.ID, "subject", subject, "priority", priority, "thread_id", threadID)
	return msg, nil
}

func (b *Bus) deliver(fn Subscriber, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Subscriber panicked", "subject", msg.Subject, "panic", r)
		}
	}()
	fn(msg)
}

// Since returns persisted messages with ID greater than sinceID, oldest
// first, capped at limit. Used for websocket catchup.
func (b *Bus) Since(ctx context.Context, sinceID int64, limit int) ([]Message, error) {
	var msgs []Message
	err := b.db.All(ctx, &msgs,
		"SELECT id, subject, body, priority, COALESCE(thread_id,'') AS thread_id, created_at FROM synapse_messages WHERE id > ? ORDER BY id ASC LIMIT ?",
		sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("catchup query: %w", err)
	}
	return msgs, nil
}

// Prune deletes persisted messages older than the retention window.
func (b *Bus) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := b.db.Run(ctx,
		"DELETE FROM synapse_messages WHERE created_at < ?",
		time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
