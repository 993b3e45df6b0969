package compress

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliosarchitect/axon/pkg/store"
	"github.com/heliosarchitect/axon/pkg/store/storetest"
)

func seedMemories(t *testing.T, db *store.Store) []MemoryRecord {
	t.Helper()
	members := similarMemories(time.Now().UTC().Add(-72 * time.Hour))
	ms := NewMemoryStore(db)
	for _, m := range members {
		require.NoError(t, ms.Insert(context.Background(), m))
	}
	return members
}

func TestArchive(t *testing.T) {
	db := storetest.New(t)
	ctx := context.Background()
	members := seedMemories(t, db)
	dist := &Distillation{
		Abstraction:  "Whale wallets accumulate BNKR before pump events.",
		IsCausal:     true,
		TokensBefore: 80,
		TokensAfter:  13,
	}

	compressed, err := NewWriter(db).Archive(ctx, testCluster(members), members, dist)
	require.NoError(t, err)

	ms := NewMemoryStore(db)
	got, err := ms.Get(ctx, compressed.ID)
	require.NoError(t, err)

	t.Run("compressed row carries merged identity", func(t *testing.T) {
		assert.Equal(t, dist.Abstraction, got.Content)
		assert.InDelta(t, 1.8, got.Importance, 1e-9)
		assert.Equal(t, []string{"m1", "m2", "m3"}, got.CompressedFrom)

		assert.Contains(t, got.Categories, "compressed")
		assert.Contains(t, got.Categories, "trading")
		tail := 0
		for _, c := range got.Categories {
			if c == "signals" || c == "augur" {
				tail++
			}
		}
		assert.LessOrEqual(t, tail, 1)
	})

	t.Run("every source is downgraded and marked", func(t *testing.T) {
		for _, m := range members {
			src, err := ms.Get(ctx, m.ID)
			require.NoError(t, err)
			assert.InDelta(t, archivedImportance, src.Importance, 1e-9, "member %s", m.ID)
			assert.Equal(t, compressed.ID, src.ArchivedBy, "member %s", m.ID)
		}
	})

	t.Run("archived members leave the eligible scan", func(t *testing.T) {
		eligible, err := ms.Eligible(ctx, time.Now().UTC())
		require.NoError(t, err)
		assert.Empty(t, eligible, "sources are archived and the product has compressed_from")
	})
}

// failingRunner passes writes through to the store but fails the
// downgrade of one chosen member.
type failingRunner struct {
	db     *store.Store
	failID string
}

func (f *failingRunner) Run(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if strings.Contains(query, "archived_by = ?") && len(args) == 3 && args[2] == f.failID {
		return nil, errors.New("disk I/O error")
	}
	return f.db.Run(ctx, query, args...)
}

func TestArchiveRollback(t *testing.T) {
	db := storetest.New(t)
	ctx := context.Background()
	members := seedMemories(t, db)
	dist := &Distillation{Abstraction: "x", TokensBefore: 80, TokensAfter: 13}

	w := NewWriter(&failingRunner{db: db, failID: "m2"})
	_, err := w.Archive(ctx, testCluster(members), members, dist)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "m2")

	ms := NewMemoryStore(db)
	t.Run("downgraded member is restored to its original importance", func(t *testing.T) {
		m1, err := ms.Get(ctx, "m1")
		require.NoError(t, err)
		assert.InDelta(t, 1.0, m1.Importance, 1e-9)
		assert.Empty(t, m1.ArchivedBy)
	})

	t.Run("compressed row is deleted", func(t *testing.T) {
		var n int
		require.NoError(t, db.Get(ctx, &n, "SELECT COUNT(*) FROM stm"))
		assert.Equal(t, 3, n, "only the three sources remain")
	})

	t.Run("untouched members keep their importance", func(t *testing.T) {
		m3, err := ms.Get(ctx, "m3")
		require.NoError(t, err)
		assert.InDelta(t, 1.2, m3.Importance, 1e-9)
	})
}
