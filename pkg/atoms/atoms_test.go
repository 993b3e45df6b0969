package atoms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliosarchitect/axon/pkg/store/storetest"
)

func TestAppendDedup(t *testing.T) {
	db := storetest.New(t)
	s := NewStore(db)
	ctx := context.Background()

	base := Atom{
		Subject:      "failure:TOOL_ERR:ab12cd34",
		Action:       "triggered by missing binary in tool-monitor",
		Outcome:      "propagated to sop_patch, atom",
		Consequences: "regression armed",
		Confidence:   0.8,
		Source:       "rtl",
	}

	t.Run("first insert lands", func(t *testing.T) {
		a, inserted, err := s.AppendDedup(ctx, base, 0.85)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.NotEmpty(t, a.ID)
	})

	t.Run("near-duplicate is dropped", func(t *testing.T) {
		dup := base
		_, inserted, err := s.AppendDedup(ctx, dup, 0.85)
		require.NoError(t, err)
		assert.False(t, inserted)

		all, err := s.Recent(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("different outcome passes the threshold", func(t *testing.T) {
		other := base
		other.Action = "triggered by permission denied in hook-relay"
		other.Outcome = "propagated to regression_test only"
		_, inserted, err := s.AppendDedup(ctx, other, 0.85)
		require.NoError(t, err)
		assert.True(t, inserted)
	})

	t.Run("subject and action are required", func(t *testing.T) {
		_, err := s.Append(ctx, Atom{Subject: "x"})
		assert.Error(t, err)
	})
}

func TestBySubjectPrefix(t *testing.T) {
	db := storetest.New(t)
	s := NewStore(db)
	ctx := context.Background()

	for _, subj := range []string{"failure:TOOL_ERR:1", "failure:CORRECT:2", "compression:3"} {
		_, err := s.Append(ctx, Atom{Subject: subj, Action: "a", Outcome: "o", Consequences: "c", Confidence: 0.5, Source: "test"})
		require.NoError(t, err)
	}

	got, err := s.BySubjectPrefix(ctx, "failure:", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("the same words", "the same words"))
	assert.Equal(t, 0.0, Similarity("alpha beta", "gamma delta"))
	assert.Equal(t, 0.0, Similarity("", "anything"))
	// Punctuation and case do not matter.
	assert.Equal(t, 1.0, Similarity("Hello, World!", "hello world"))
	mid := Similarity("restart the gateway unit", "restart the store unit")
	assert.Greater(t, mid, 0.4)
	assert.Less(t, mid, 1.0)
}
