package synapse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliosarchitect/axon/pkg/store/storetest"
)

func TestBusSend(t *testing.T) {
	db := storetest.New(t)
	bus := NewBus(db)
	ctx := context.Background()

	t.Run("persists and assigns id", func(t *testing.T) {
		msg, err := bus.Send(ctx, "heal.incident", "process_dead on augur-executor", PriorityUrgent, "inc-1")
		require.NoError(t, err)
		assert.Greater(t, msg.ID, int64(0))

		var got Message
		require.NoError(t, db.Get(ctx, &got,
			"SELECT id, subject, body, priority, COALESCE(thread_id,'') AS thread_id, created_at FROM synapse_messages WHERE id=?", msg.ID))
		assert.Equal(t, "heal.incident", got.Subject)
		assert.Equal(t, PriorityUrgent, got.Priority)
		assert.Equal(t, "inc-1", got.ThreadID)
	})

	t.Run("rejects invalid priority", func(t *testing.T) {
		_, err := bus.Send(ctx, "s", "b", Priority("shout"), "")
		assert.Error(t, err)
	})

	t.Run("rejects empty subject", func(t *testing.T) {
		_, err := bus.Send(ctx, "", "b", PriorityInfo, "")
		assert.Error(t, err)
	})

	t.Run("fans out to subscribers", func(t *testing.T) {
		var delivered atomic.Int32
		bus.Subscribe(func(msg Message) {
			if msg.Subject == "rtl.recurrence" {
				delivered.Add(1)
			}
		})

		_, err := bus.Send(ctx, "rtl.recurrence", "root cause recurred", PriorityUrgent, "")
		require.NoError(t, err)
		assert.Equal(t, int32(1), delivered.Load())
	})

	t.Run("panicking subscriber does not break delivery", func(t *testing.T) {
		bus.Subscribe(func(msg Message) { panic("boom") })
		var ok atomic.Bool
		bus.Subscribe(func(msg Message) { ok.Store(true) })

		_, err := bus.Send(ctx, "x", "y", PriorityInfo, "")
		require.NoError(t, err)
		assert.True(t, ok.Load())
	})
}

func TestBusSinceAndPrune(t *testing.T) {
	db := storetest.New(t)
	bus := NewBus(db)
	ctx := context.Background()

	var firstID int64
	for i := 0; i < 5; i++ {
		msg, err := bus.Send(ctx, "seq", "n", PriorityInfo, "")
		require.NoError(t, err)
		if i == 0 {
			firstID = msg.ID
		}
	}

	t.Run("Since returns messages after the cursor in order", func(t *testing.T) {
		msgs, err := bus.Since(ctx, firstID, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 4)
		for i := 1; i < len(msgs); i++ {
			assert.Greater(t, msgs[i].ID, msgs[i-1].ID)
		}
	})

	t.Run("Since honors limit", func(t *testing.T) {
		msgs, err := bus.Since(ctx, 0, 2)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	})

	t.Run("Prune removes aged messages", func(t *testing.T) {
		n, err := bus.Prune(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
	})
}

func TestWebhookChannel(t *testing.T) {
	t.Run("delivers with auth header", func(t *testing.T) {
		var gotAuth atomic.Value
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth.Store(r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		ch := NewWebhookChannel(srv.URL, "secret", 5*time.Second)
		require.NoError(t, ch.Deliver(context.Background(), "urgent", "body"))
		assert.Equal(t, "Bearer secret", gotAuth.Load())
	})

	t.Run("non-2xx is a delivery error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		ch := NewWebhookChannel(srv.URL, "", 5*time.Second)
		assert.Error(t, ch.Deliver(context.Background(), "s", "b"))
	})

	t.Run("nil channel reports not configured", func(t *testing.T) {
		ch := NewWebhookChannel("", "", 0)
		assert.Nil(t, ch)
		assert.Error(t, ch.Deliver(context.Background(), "s", "b"))
	})
}
