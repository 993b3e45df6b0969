package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockSupport(t *testing.T) {
	p := NewFuncProbe("test-source", time.Second, func(ctx context.Context) Reading {
		return available("test-source", map[string]any{"real": true})
	})

	t.Run("mock bypasses the real poll", func(t *testing.T) {
		p.SetMockData(map[string]any{"pid_found": false})
		r := p.Poll(context.Background())
		assert.True(t, r.Available)
		assert.Equal(t, false, r.Data["pid_found"])
		assert.NotContains(t, r.Data, "real")
	})

	t.Run("clearing the mock restores real polling", func(t *testing.T) {
		p.ClearMockData()
		r := p.Poll(context.Background())
		assert.Equal(t, true, r.Data["real"])
	})

	t.Run("mock data is copied, not aliased", func(t *testing.T) {
		src := map[string]any{"k": 1}
		p.SetMockData(src)
		r := p.Poll(context.Background())
		src["k"] = 2
		assert.Equal(t, 1, r.Data["k"])
	})
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	a := NewFuncProbe("b-source", time.Second, nil)
	b := NewFuncProbe("a-source", time.Second, nil)
	require.NoError(t, reg.Register(a))
	require.NoError(t, reg.Register(b))

	t.Run("duplicate registration is rejected", func(t *testing.T) {
		assert.Error(t, reg.Register(NewFuncProbe("a-source", time.Second, nil)))
	})

	t.Run("All is sorted by source id", func(t *testing.T) {
		all := reg.All()
		require.Len(t, all, 2)
		assert.Equal(t, "a-source", all[0].SourceID())
		assert.Equal(t, "b-source", all[1].SourceID())
	})

	t.Run("Get finds by id", func(t *testing.T) {
		p, ok := reg.Get("a-source")
		assert.True(t, ok)
		assert.Equal(t, "a-source", p.SourceID())
	})
}

func TestScheduler(t *testing.T) {
	reg := NewRegistry()
	var polls atomic.Int32
	p := NewFuncProbe("fast", 10*time.Millisecond, func(ctx context.Context) Reading {
		return available("fast", map[string]any{})
	})
	require.NoError(t, reg.Register(p))

	var mu sync.Mutex
	seen := map[string]int{}
	sched := NewScheduler(reg, func(ctx context.Context, r Reading) {
		polls.Add(1)
		mu.Lock()
		seen[r.SourceID]++
		mu.Unlock()
	}, nil)

	sched.Start(context.Background())
	require.Eventually(t, func() bool { return polls.Load() >= 3 },
		2*time.Second, 5*time.Millisecond)
	sched.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, seen["fast"], 3)
	assert.NotZero(t, sched.Health()["fast"])
}

func TestGatewayProbe(t *testing.T) {
	t.Run("healthy endpoint resets the failure streak", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		p := NewGatewayProbe(srv.URL, time.Second)
		r := p.Poll(context.Background())
		require.True(t, r.Available)
		assert.Equal(t, true, r.Data["reachable"])
		assert.Equal(t, 0, p.ConsecutiveErrors())
	})

	t.Run("failures accumulate and Reset clears them", func(t *testing.T) {
		var status atomic.Int32
		status.Store(http.StatusServiceUnavailable)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(int(status.Load()))
		}))
		defer srv.Close()

		p := NewGatewayProbe(srv.URL, time.Second)
		for i := 0; i < 3; i++ {
			r := p.Poll(context.Background())
			require.True(t, r.Available)
			assert.Equal(t, false, r.Data["reachable"])
		}
		assert.Equal(t, 3, p.ConsecutiveErrors())

		p.Reset()
		assert.Equal(t, 0, p.ConsecutiveErrors())
	})
}

func TestProcessProbe(t *testing.T) {
	t.Run("rejects shell metacharacters in the name", func(t *testing.T) {
		_, err := NewProcessProbe("evil;rm -rf", time.Second)
		assert.Error(t, err)
	})

	t.Run("missing process yields pid_found=false", func(t *testing.T) {
		p, err := NewProcessProbe("axon-no-such-process", time.Second)
		require.NoError(t, err)
		r := p.Poll(context.Background())
		require.True(t, r.Available, "exit 1 from pgrep is a valid reading: %s", r.Err)
		assert.Equal(t, false, r.Data["pid_found"])
	})
}

func TestStale(t *testing.T) {
	r := Reading{Available: true, Freshness: 3 * time.Second}
	assert.True(t, Stale(r, 2*time.Second))
	assert.False(t, Stale(r, 5*time.Second))
	assert.False(t, Stale(Reading{Available: false, Freshness: time.Hour}, time.Second))
}

func TestUnavailableReading(t *testing.T) {
	r := unavailable("x", fmt.Errorf("boom"))
	assert.False(t, r.Available)
	assert.Equal(t, "boom", r.Err)
	assert.NotNil(t, r.Data)
}
