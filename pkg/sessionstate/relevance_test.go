package sessionstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRelevanceScore(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	t.Run("fully stale empty session scores exactly zero", func(t *testing.T) {
		end := now.Add(-168 * time.Hour)
		got := RelevanceScore(Snapshot{}, end, nil, now)
		assert.Zero(t, got)
	})

	t.Run("fresh session with full overlap and saturated tasks scores one", func(t *testing.T) {
		snap := Snapshot{
			HotTopics:    []string{"augur", "bnkr"},
			PendingTasks: []string{"a", "b", "c", "d"},
		}
		got := RelevanceScore(snap, now, []string{"augur", "bnkr"}, now)
		assert.InDelta(t, 1.0, got, 1e-9)
	})

	t.Run("weights compose", func(t *testing.T) {
		snap := Snapshot{
			HotTopics:    []string{"augur", "radio"},
			PendingTasks: []string{"one"},
		}
		end := now.Add(-84 * time.Hour) // recency 0.5
		got := RelevanceScore(snap, end, []string{"augur"}, now)
		// 0.4*0.5 + 0.35*(1/2) + 0.25*0.25
		assert.InDelta(t, 0.4375, got, 1e-9)
	})

	t.Run("always within the unit interval", func(t *testing.T) {
		snap := Snapshot{PendingTasks: make([]string, 50)}
		got := RelevanceScore(snap, now.Add(-1000*time.Hour), nil, now)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	})
}

func TestDecayFactor(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	assert.InDelta(t, 1.0, DecayFactor(now, now, 0.3), 1e-9)
	assert.InDelta(t, 0.8, DecayFactor(now.Add(-84*time.Hour), now, 0.3), 1e-9)
	assert.InDelta(t, 0.6, DecayFactor(now.Add(-168*time.Hour), now, 0.3), 1e-9)

	t.Run("floor holds for very old sessions", func(t *testing.T) {
		assert.InDelta(t, 0.3, DecayFactor(now.Add(-4000*time.Hour), now, 0.3), 1e-9)
	})
}

func TestHotTopics(t *testing.T) {
	texts := []string{
		"the augur gateway dropped the augur feed",
		"restarted the augur gateway and the radio relay",
	}
	topics := HotTopics(texts, 3)
	assert.Equal(t, "augur", topics[0], "augur appears three times")
	assert.Contains(t, topics, "gateway")
	assert.NotContains(t, topics, "the")
	assert.NotContains(t, topics, "and")
	assert.Len(t, topics, 3)
}

func TestActiveProjects(t *testing.T) {
	dirs := []string{
		"/home/helios/projects/augur/cmd",
		"/home/helios/projects/augur/pkg/feed",
		"/home/helios/src/radio-relay",
		"/tmp/scratch",
	}
	assert.Equal(t, []string{"augur", "radio-relay", "scratch"}, ActiveProjects(dirs))
}
