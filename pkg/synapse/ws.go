package synapse

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// catchupLimit is the maximum number of messages returned in a catchup
// response. If more were missed, a catchup.overflow message tells the
// client to do a full REST reload.
const catchupLimit = 200

// GlobalChannel receives every bus message.
const GlobalChannel = "messages"

// ThreadChannel returns the channel name scoped to one thread.
func ThreadChannel(threadID string) string {
	return "thread:" + threadID
}

// ClientMessage is the JSON structure for client → server messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // e.g. "messages", "thread:rtl:abc"
	LastEventID *int64 `json:"last_event_id,omitempty"` // For catchup
}

// ConnectionManager manages websocket connections and channel
// subscriptions for live bus message delivery.
type ConnectionManager struct {
	bus *Bus

	connections map[string]*connection
	mu          sync.RWMutex

	// channel → set of connection IDs
	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	writeTimeout time.Duration
	logger       *slog.Logger
}

// connection is a single websocket client.
//
// subscriptions is accessed without a lock: all reads and writes happen on
// the goroutine that owns the connection (HandleConnection's read loop and
// its deferred cleanup).
type connection struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a ConnectionManager fanning out from bus.
func NewConnectionManager(bus *Bus, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		bus:          bus,
		connections:  make(map[string]*connection),
		channels:     make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
		logger:       slog.Default().With("component", "synapse-ws"),
	}
}

// HandleConnection manages one websocket connection's lifecycle. Called by
// the HTTP handler after upgrade; blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:            uuid.New().String(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.id,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Warn("Invalid websocket message", "connection_id", c.id, "error", err)
			continue
		}
		m.handleClientMessage(ctx, c, &msg)
	}
}

// BroadcastMessage implements Broadcaster: delivers a bus message to the
// global channel and, when threaded, to its thread channel.
func (m *ConnectionManager) BroadcastMessage(msg Message) {
	payload, err := json.Marshal(map[string]any{
		"type":    "synapse.message",
		"message": msg,
	})
	if err != nil {
		m.logger.Warn("Failed to marshal broadcast", "error", err)
		return
	}
	m.broadcast(GlobalChannel, payload)
	if msg.ThreadID != "" {
		m.broadcast(ThreadChannel(msg.ThreadID), payload)
	}
}

func (m *ConnectionManager) broadcast(channel string, payload []byte) {
	m.channelMu.RLock()
	ids := make([]string, 0, len(m.channels[channel]))
	for id := range m.channels[channel] {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	// Snapshot connection pointers, then release before sending so slow
	// writes (up to writeTimeout each) don't stall register/unregister.
	m.mu.RLock()
	conns := make([]*connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		if err := m.sendRaw(c, payload); err != nil {
			m.logger.Warn("Failed to send to websocket client",
				"connection_id", c.id, "error", err)
		}
	}
}

// ActiveConnections returns the count of live websocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount is used by tests to poll instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

func (m *ConnectionManager) handleClientMessage(ctx context.Context, c *connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		m.subscribe(c, msg.Channel)
		m.sendJSON(c, map[string]string{
			"type":    "subscription.confirmed",
			"channel": msg.Channel,
		})

	case "unsubscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, msg.Channel)

	case "catchup":
		if msg.LastEventID != nil {
			m.handleCatchup(ctx, c, *msg.LastEventID)
		}

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

func (m *ConnectionManager) subscribe(c *connection, channel string) {
	m.channelMu.Lock()
	if _, exists := m.channels[channel]; !exists {
		m.channels[channel] = make(map[string]bool)
	}
	m.channels[channel][c.id] = true
	m.channelMu.Unlock()

	c.subscriptions[channel] = true
}

func (m *ConnectionManager) unsubscribe(c *connection, channel string) {
	m.channelMu.Lock()
	if subs, exists := m.channels[channel]; exists {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(m.channels, channel)
		}
	}
	m.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

// handleCatchup sends missed messages since lastEventID to the client.
func (m *ConnectionManager) handleCatchup(ctx context.Context, c *connection, lastEventID int64) {
	msgs, err := m.bus.Since(ctx, lastEventID, catchupLimit+1)
	if err != nil {
		m.logger.Error("Catchup query failed", "error", err)
		return
	}

	hasMore := len(msgs) > catchupLimit
	if hasMore {
		msgs = msgs[:catchupLimit]
	}

	for _, msg := range msgs {
		payload, err := json.Marshal(map[string]any{
			"type":    "synapse.message",
			"message": msg,
		})
		if err != nil {
			continue
		}
		if err := m.sendRaw(c, payload); err != nil {
			m.logger.Warn("Failed to send catchup message",
				"connection_id", c.id, "error", err)
			return
		}
	}

	if hasMore {
		m.sendJSON(c, map[string]any{
			"type":     "catchup.overflow",
			"has_more": true,
		})
	}
}

func (m *ConnectionManager) registerConnection(c *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.id] = c
}

func (m *ConnectionManager) unregisterConnection(c *connection) {
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}

	m.mu.Lock()
	delete(m.connections, c.id)
	m.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) sendJSON(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("Failed to marshal websocket message",
			"connection_id", c.id, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		m.logger.Warn("Failed to send websocket message",
			"connection_id", c.id, "error", err)
	}
}

func (m *ConnectionManager) sendRaw(c *connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
