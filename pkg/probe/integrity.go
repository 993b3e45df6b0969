package probe

import (
	"context"
	"os"
	"time"
)

// StoreChecker is the store capability the integrity probe needs.
type StoreChecker interface {
	QuickCheck(ctx context.Context) (string, error)
}

// IntegrityProbe runs the embedded store's integrity quick check.
type IntegrityProbe struct {
	MockSupport
	base
	checker StoreChecker
}

// NewIntegrityProbe creates the store-integrity probe. Source ID is
// "store".
func NewIntegrityProbe(checker StoreChecker, interval time.Duration) *IntegrityProbe {
	return &IntegrityProbe{
		base:    base{sourceID: "store", interval: interval},
		checker: checker,
	}
}

// Poll runs PRAGMA quick_check through the store.
func (p *IntegrityProbe) Poll(ctx context.Context) Reading {
	if r, ok := p.mockReading(p.sourceID); ok {
		return r
	}

	verdict, err := p.checker.QuickCheck(ctx)
	if err != nil {
		return unavailable(p.sourceID, err)
	}
	return available(p.sourceID, map[string]any{
		"verdict": verdict,
		"ok":      verdict == "ok",
	})
}

// SessionFileProbe watches the agent's session heartbeat file; a stale
// mtime means the agent stopped writing.
type SessionFileProbe struct {
	MockSupport
	base
	path string
}

// NewSessionFileProbe creates the session-file freshness probe. Source ID
// is "session-file".
func NewSessionFileProbe(path string, interval time.Duration) *SessionFileProbe {
	return &SessionFileProbe{
		base: base{sourceID: "session-file", interval: interval},
		path: path,
	}
}

// Poll stats the heartbeat file and reports its age.
func (p *SessionFileProbe) Poll(ctx context.Context) Reading {
	if r, ok := p.mockReading(p.sourceID); ok {
		return r
	}

	info, err := os.Stat(p.path)
	if err != nil {
		return unavailable(p.sourceID, err)
	}
	age := time.Since(info.ModTime())
	return available(p.sourceID, map[string]any{
		"path":   p.path,
		"age_ms": age.Milliseconds(),
	})
}
