package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	s, err := NewSink(context.Background(),
		filepath.Join(t.TempDir(), "metrics-test.db"), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSinkAppends(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	s.WriteEvent(ctx, "heal_escalation_fired", map[string]string{"tier": "0", "outcome": "fired"})
	s.WriteValue(ctx, "rtl_queue_depth", 3, nil)
	s.WriteDuration(ctx, "rtl_processing", 120*time.Millisecond, nil)

	var count int
	require.NoError(t, s.db.Get(ctx, &count, "SELECT COUNT(*) FROM metrics"))
	assert.Equal(t, 3, count)

	var value float64
	require.NoError(t, s.db.Get(ctx, &value,
		"SELECT value FROM metrics WHERE name='rtl_queue_depth'"))
	assert.Equal(t, 3.0, value)

	var labels string
	require.NoError(t, s.db.Get(ctx, &labels,
		"SELECT labels FROM metrics WHERE name='heal_escalation_fired'"))
	assert.Contains(t, labels, `"tier":"0"`)
}

func TestNilSinkIsSafe(t *testing.T) {
	var s *Sink
	ctx := context.Background()
	s.WriteEvent(ctx, "noop", nil)
	s.WriteValue(ctx, "noop", 1, nil)
	s.WriteDuration(ctx, "noop", time.Second, nil)
	assert.NoError(t, s.Close())
}
