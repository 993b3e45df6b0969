package sessionstate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heliosarchitect/axon/pkg/config"
	"github.com/heliosarchitect/axon/pkg/store"
)

// Preserver records session snapshots and rebuilds context at start.
type Preserver struct {
	db     *store.Store
	cfg    *config.SessionConfig
	logger *slog.Logger
	now    func() time.Time

	// Content-hash cache so identical context is injected at most once
	// per process.
	mu       sync.Mutex
	injected map[string]bool
}

// NewPreserver creates a session preserver.
func NewPreserver(db *store.Store, cfg *config.SessionConfig) *Preserver {
	return &Preserver{
		db:       db,
		cfg:      cfg,
		logger:   slog.Default().With("component", "session-preserver"),
		now:      time.Now,
		injected: make(map[string]bool),
	}
}

// Reset clears the injection cache, forcing re-injection.
func (p *Preserver) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.injected = make(map[string]bool)
}

// InjectOnce reports whether content should be injected: true the first
// time a given content hash is seen, false on repeats.
func (p *Preserver) InjectOnce(content string) bool {
	h := ContentHash(content)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.injected[h] {
		return false
	}
	p.injected[h] = true
	return true
}

// ContentHash is the stable dedup key for injected content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Begin records a new session. previousID, when known, links the chain
// and stamps the prior row's continued_by.
func (p *Preserver) Begin(ctx context.Context, channel, previousID string) (*Session, error) {
	s := Session{
		ID:                uuid.New().String(),
		StartTime:         p.now().UTC(),
		Channel:           channel,
		PreviousSessionID: previousID,
		SchemaVersion:     schemaVersion,
	}
	var prev *string
	if previousID != "" {
		prev = &previousID
	}
	_, err := p.db.Run(ctx, `INSERT INTO sessions
		(session_id, start_time, channel, previous_session_id, schema_version)
		VALUES (?,?,?,?,?)`,
		s.ID, s.StartTime, s.Channel, prev, s.SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	if previousID != "" {
		if _, err := p.db.Run(ctx,
			"UPDATE sessions SET continued_by = ? WHERE session_id = ?",
			s.ID, previousID); err != nil {
			return nil, fmt.Errorf("link session %s: %w", previousID, err)
		}
	}
	p.logger.Info("Session started", "session_id", s.ID, "previous", previousID)
	return &s, nil
}

// End stores the snapshot on the session row and writes the JSON
// document under the session directory.
func (p *Preserver) End(ctx context.Context, sessionID string, snap Snapshot) error {
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	ended := p.now().UTC()
	res, err := p.db.Run(ctx,
		"UPDATE sessions SET end_time = ?, snapshot = ? WHERE session_id = ?",
		ended, string(body), sessionID)
	if err != nil {
		return fmt.Errorf("end session %s: %w", sessionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("end session %s: not found", sessionID)
	}

	if p.cfg.SessionDir != "" {
		if err := os.MkdirAll(p.cfg.SessionDir, 0o755); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
		path := filepath.Join(p.cfg.SessionDir, sessionID+".json")
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return fmt.Errorf("write session document: %w", err)
		}
	}
	p.logger.Info("Session preserved",
		"session_id", sessionID, "topics", len(snap.HotTopics), "pins", len(snap.Pins))
	return nil
}

// ScorePrior ranks ended sessions within the lookback against the
// current topics. At most MaxSessionsScored sessions are considered;
// only those at or above the relevance threshold are returned, best
// first.
func (p *Preserver) ScorePrior(ctx context.Context, currentTopics []string) ([]ScoredSession, error) {
	now := p.now().UTC()
	var rows []sessionRow
	err := p.db.All(ctx, &rows, `SELECT * FROM sessions
		WHERE end_time IS NOT NULL AND end_time >= ?
		ORDER BY end_time DESC LIMIT ?`,
		now.Add(-p.cfg.Lookback()), p.cfg.MaxSessionsScored)
	if err != nil {
		return nil, fmt.Errorf("scan prior sessions: %w", err)
	}

	var out []ScoredSession
	for _, r := range rows {
		s, err := r.toSession()
		if err != nil {
			p.logger.Warn("Skipping undecodable session", "session_id", r.ID, "error", err)
			continue
		}
		score := RelevanceScore(s.Snapshot, *s.EndTime, currentTopics, now)
		if score < p.cfg.RelevanceThreshold {
			continue
		}
		out = append(out, ScoredSession{Session: s, Relevance: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	return out, nil
}

// Preamble is the restored context for a starting session.
type Preamble struct {
	Text     string
	Pins     []Pin
	Sessions []ScoredSession
}

// Restore builds the start-of-session preamble from relevant prior
// sessions. Pin confidences are decayed at read; stored values are
// untouched.
func (p *Preserver) Restore(ctx context.Context, currentTopics []string) (*Preamble, error) {
	scored, err := p.ScorePrior(ctx, currentTopics)
	if err != nil {
		return nil, err
	}
	now := p.now().UTC()

	pre := &Preamble{Sessions: scored}
	var sb strings.Builder
	for _, ss := range scored {
		snap := ss.Session.Snapshot
		fmt.Fprintf(&sb, "Prior session %s (relevance %.2f):\n", ss.Session.ID[:8], ss.Relevance)
		if len(snap.HotTopics) > 0 {
			fmt.Fprintf(&sb, "  topics: %s\n", strings.Join(snap.HotTopics, ", "))
		}
		if len(snap.ActiveProjects) > 0 {
			fmt.Fprintf(&sb, "  projects: %s\n", strings.Join(snap.ActiveProjects, ", "))
		}
		for _, task := range snap.PendingTasks {
			fmt.Fprintf(&sb, "  pending: %s\n", task)
		}

		decay := DecayFactor(*ss.Session.EndTime, now, p.cfg.DecayMinFloor)
		for _, pin := range snap.Pins {
			if len(pre.Pins) >= p.cfg.MaxInheritedPins {
				break
			}
			pre.Pins = append(pre.Pins, Pin{
				Text:       pin.Text,
				Confidence: pin.Confidence * decay,
			})
		}
	}
	for _, pin := range pre.Pins {
		fmt.Fprintf(&sb, "Pinned (%.2f): %s\n", pin.Confidence, pin.Text)
	}
	pre.Text = sb.String()
	return pre, nil
}
