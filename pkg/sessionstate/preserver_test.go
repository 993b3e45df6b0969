package sessionstate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliosarchitect/axon/pkg/config"
	"github.com/heliosarchitect/axon/pkg/store/storetest"
)

func newPreserver(t *testing.T) *Preserver {
	t.Helper()
	cfg := config.DefaultSessionConfig()
	cfg.SessionDir = t.TempDir()
	return NewPreserver(storetest.New(t), cfg)
}

// endSessionAt ends a fresh session and backdates its end_time.
func endSessionAt(t *testing.T, p *Preserver, snap Snapshot, endedAgo time.Duration) string {
	t.Helper()
	ctx := context.Background()
	s, err := p.Begin(ctx, "cli", "")
	require.NoError(t, err)
	require.NoError(t, p.End(ctx, s.ID, snap))
	_, err = p.db.Run(ctx, "UPDATE sessions SET end_time = ? WHERE session_id = ?",
		time.Now().UTC().Add(-endedAgo), s.ID)
	require.NoError(t, err)
	return s.ID
}

func TestSessionLifecycle(t *testing.T) {
	p := newPreserver(t)
	ctx := context.Background()

	first, err := p.Begin(ctx, "cli", "")
	require.NoError(t, err)

	snap := Snapshot{
		HotTopics:    []string{"augur", "gateway"},
		PendingTasks: []string{"restart feed"},
		Pins:         []Pin{{Text: "gateway flaps after deploys", Confidence: 0.9}},
	}
	require.NoError(t, p.End(ctx, first.ID, snap))

	t.Run("snapshot document written", func(t *testing.T) {
		body, err := os.ReadFile(filepath.Join(p.cfg.SessionDir, first.ID+".json"))
		require.NoError(t, err)
		assert.Contains(t, string(body), "gateway flaps")
	})

	t.Run("continuation links both rows", func(t *testing.T) {
		second, err := p.Begin(ctx, "cli", first.ID)
		require.NoError(t, err)

		var continuedBy string
		require.NoError(t, p.db.Get(ctx, &continuedBy,
			"SELECT continued_by FROM sessions WHERE session_id = ?", first.ID))
		assert.Equal(t, second.ID, continuedBy)
		assert.Equal(t, first.ID, second.PreviousSessionID)
	})

	t.Run("ending an unknown session errors", func(t *testing.T) {
		assert.Error(t, p.End(ctx, "nope", snap))
	})
}

func TestScorePrior(t *testing.T) {
	p := newPreserver(t)
	ctx := context.Background()

	relevant := endSessionAt(t, p, Snapshot{
		HotTopics:    []string{"augur", "gateway"},
		PendingTasks: []string{"restart feed", "check logs"},
	}, 2*time.Hour)
	endSessionAt(t, p, Snapshot{HotTopics: []string{"gardening"}}, 160*time.Hour)
	endSessionAt(t, p, Snapshot{HotTopics: []string{"augur"}}, 30*24*time.Hour)

	scored, err := p.ScorePrior(ctx, []string{"augur", "gateway"})
	require.NoError(t, err)

	require.Len(t, scored, 1, "stale and off-topic sessions fall below threshold")
	assert.Equal(t, relevant, scored[0].Session.ID)
	assert.GreaterOrEqual(t, scored[0].Relevance, p.cfg.RelevanceThreshold)
}

func TestRestore(t *testing.T) {
	p := newPreserver(t)
	ctx := context.Background()

	pins := make([]Pin, 12)
	for i := range pins {
		pins[i] = Pin{Text: "pin", Confidence: 1.0}
	}
	endSessionAt(t, p, Snapshot{
		HotTopics:      []string{"augur"},
		ActiveProjects: []string{"augur"},
		PendingTasks:   []string{"restart feed"},
		Pins:           pins,
	}, 84*time.Hour)

	pre, err := p.Restore(ctx, []string{"augur"})
	require.NoError(t, err)

	t.Run("pins capped and decayed at read", func(t *testing.T) {
		require.Len(t, pre.Pins, p.cfg.MaxInheritedPins)
		for _, pin := range pre.Pins {
			assert.InDelta(t, 0.8, pin.Confidence, 0.01, "84h decay factor")
		}
	})

	t.Run("stored confidence never changes", func(t *testing.T) {
		scored, err := p.ScorePrior(ctx, []string{"augur"})
		require.NoError(t, err)
		require.NotEmpty(t, scored)
		assert.InDelta(t, 1.0, scored[0].Session.Snapshot.Pins[0].Confidence, 1e-9)
	})

	t.Run("preamble mentions topics and pending work", func(t *testing.T) {
		assert.Contains(t, pre.Text, "topics: augur")
		assert.Contains(t, pre.Text, "pending: restart feed")
	})
}

func TestInjectOnce(t *testing.T) {
	p := newPreserver(t)

	assert.True(t, p.InjectOnce("context block"))
	assert.False(t, p.InjectOnce("context block"), "identical content is suppressed")
	assert.True(t, p.InjectOnce("different block"))

	t.Run("hash is stable", func(t *testing.T) {
		assert.Equal(t, ContentHash("x"), ContentHash("x"))
	})

	t.Run("reset forces re-injection", func(t *testing.T) {
		p.Reset()
		assert.True(t, p.InjectOnce("context block"))
	})
}
