package rtl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(desc string) DetectionPayload {
	return DetectionPayload{
		Type:        FailureToolError,
		Tier:        1,
		Source:      "test",
		FailureDesc: desc,
	}
}

func TestQueueEnqueue(t *testing.T) {
	t.Run("never blocks when full", func(t *testing.T) {
		q := NewQueue(2, func(context.Context, DetectionPayload) {}, nil)
		// Not started: nothing drains.
		assert.True(t, q.Enqueue(payload("a")))
		assert.True(t, q.Enqueue(payload("b")))

		start := time.Now()
		assert.False(t, q.Enqueue(payload("c")))
		assert.Less(t, time.Since(start), time.Millisecond)
		assert.Equal(t, 2, q.Len())
	})

	t.Run("rejects invalid payloads", func(t *testing.T) {
		q := NewQueue(2, func(context.Context, DetectionPayload) {}, nil)
		assert.False(t, q.Enqueue(DetectionPayload{Type: "nope", Tier: 1, FailureDesc: "x"}))
		assert.False(t, q.Enqueue(DetectionPayload{Type: FailureToolError, Tier: 0, FailureDesc: "x"}))
		assert.False(t, q.Enqueue(DetectionPayload{Type: FailureToolError, Tier: 1}))
		assert.Equal(t, 0, q.Len())
	})
}

func TestQueueDrain(t *testing.T) {
	t.Run("processes in order", func(t *testing.T) {
		var mu sync.Mutex
		var seen []string
		q := NewQueue(16, func(_ context.Context, p DetectionPayload) {
			mu.Lock()
			seen = append(seen, p.FailureDesc)
			mu.Unlock()
		}, nil)
		q.Start(context.Background())
		defer q.Stop()

		for _, d := range []string{"one", "two", "three"} {
			require.True(t, q.Enqueue(payload(d)))
		}
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(seen) == 3
		}, time.Second, time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"one", "two", "three"}, seen)
	})

	t.Run("handler panic does not stop the loop", func(t *testing.T) {
		var mu sync.Mutex
		var seen []string
		q := NewQueue(16, func(_ context.Context, p DetectionPayload) {
			mu.Lock()
			seen = append(seen, p.FailureDesc)
			mu.Unlock()
			if p.FailureDesc == "boom" {
				panic("handler exploded")
			}
		}, nil)
		q.Start(context.Background())
		defer q.Stop()

		require.True(t, q.Enqueue(payload("boom")))
		require.True(t, q.Enqueue(payload("after")))
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(seen) == 2
		}, time.Second, time.Millisecond)
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		q := NewQueue(2, func(context.Context, DetectionPayload) {}, nil)
		q.Start(context.Background())
		q.Stop()
		q.Stop()
	})
}

func TestStatusOrdering(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusInProgress))
	assert.True(t, StatusInProgress.CanTransition(StatusPropagated))
	assert.True(t, StatusInProgress.CanTransition(StatusEscalated))
	assert.False(t, StatusPropagated.CanTransition(StatusPending))
	assert.False(t, StatusEscalated.CanTransition(StatusInProgress))
	assert.False(t, StatusPending.CanTransition(StatusPending))
	assert.False(t, StatusPending.CanTransition("bogus"))
}
