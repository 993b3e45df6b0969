package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "store-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenAndMigrate(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	t.Run("core tables exist", func(t *testing.T) {
		for _, table := range []string{
			"incidents", "runbook_meta", "synapse_messages",
			"failure_events", "propagation_records", "regression_tests",
			"atoms", "stm", "compression_log", "sessions",
			"pattern_fingerprints",
		} {
			var name string
			err := s.Get(ctx, &name,
				"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table)
			assert.NoError(t, err, "table %s", table)
		}
	})

	t.Run("stm additive columns present", func(t *testing.T) {
		_, err := s.Run(ctx,
			"INSERT INTO stm (id, content, categories, importance, timestamp, compressed_from, archived_by) VALUES (?,?,?,?,?,?,?)",
			"m-test", "body", "[]", 1.0, time.Now(), `["a"]`, "run-1")
		require.NoError(t, err)
	})

	t.Run("migrate is idempotent", func(t *testing.T) {
		require.NoError(t, s.Migrate(ctx))
		require.NoError(t, s.Migrate(ctx))
	})
}

func TestRunGetAll(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	_, err := s.Run(ctx,
		"INSERT INTO atoms (id, subject, action, outcome, consequences, confidence, source, created_at) VALUES (?,?,?,?,?,?,?,?)",
		"a1", "s", "act", "out", "cons", 0.8, "test", time.Now())
	require.NoError(t, err)

	t.Run("Get scans a single row", func(t *testing.T) {
		var subject string
		require.NoError(t, s.Get(ctx, &subject, "SELECT subject FROM atoms WHERE id=?", "a1"))
		assert.Equal(t, "s", subject)
	})

	t.Run("Get returns sql.ErrNoRows on miss", func(t *testing.T) {
		var subject string
		err := s.Get(ctx, &subject, "SELECT subject FROM atoms WHERE id=?", "missing")
		assert.True(t, errors.Is(err, sql.ErrNoRows))
	})

	t.Run("All scans every row", func(t *testing.T) {
		var ids []string
		require.NoError(t, s.All(ctx, &ids, "SELECT id FROM atoms ORDER BY id"))
		assert.Equal(t, []string{"a1"}, ids)
	})
}

func TestOpenIncidentUniqueness(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Now()

	insert := func(id, state string) error {
		_, err := s.Run(ctx,
			"INSERT INTO incidents (id, anomaly_type, target_id, severity, state, detected_at, state_changed_at) VALUES (?,?,?,?,?,?,?)",
			id, "process_dead", "augur-executor", "high", state, now, now)
		return err
	}

	require.NoError(t, insert("i1", "detected"))

	t.Run("second open incident for the same key is rejected", func(t *testing.T) {
		assert.Error(t, insert("i2", "remediating"))
	})

	t.Run("terminal incidents do not count against the key", func(t *testing.T) {
		_, err := s.Run(ctx, "UPDATE incidents SET state='resolved' WHERE id='i1'")
		require.NoError(t, err)
		assert.NoError(t, insert("i3", "detected"))
	})
}

func TestQuickCheck(t *testing.T) {
	s := openTemp(t)
	verdict, err := s.QuickCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", verdict)
}
