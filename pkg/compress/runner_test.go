package compress

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliosarchitect/axon/pkg/atoms"
	"github.com/heliosarchitect/axon/pkg/config"
	"github.com/heliosarchitect/axon/pkg/cortex"
	"github.com/heliosarchitect/axon/pkg/store/storetest"
)

func newRunnerFixture(t *testing.T, client cortex.Client) (*Runner, *atoms.Store, string) {
	t.Helper()
	db := storetest.New(t)
	cfg := config.DefaultCompressionConfig()
	cfg.ReportsDir = t.TempDir()

	router := cortex.NewRouter(&config.CortexConfig{
		DefaultModel:   "claude-haiku-4-5",
		MaxAttempts:    1,
		RequestTimeout: time.Second,
	}, client, nil)
	atomStore := atoms.NewStore(db)

	r := NewRunner(Deps{
		Config:    cfg,
		Memories:  NewMemoryStore(db),
		Distiller: NewDistiller(router, cfg),
		Writer:    NewWriter(db),
		Enricher:  NewEnricher(atomStore, cfg),
		Reporter:  NewReporter(cfg.ReportsDir, db),
		Sink:      nil,
	})

	seedMemories(t, db)
	require.NoError(t, NewMemoryStore(db).Insert(context.Background(), MemoryRecord{
		ID: "fresh", Content: "too recent to compress", Importance: 1.0,
		Timestamp: time.Now().UTC(),
	}))
	return r, atomStore, cfg.ReportsDir
}

func TestRunnerFullPass(t *testing.T) {
	client := &cannedClient{text: `{"abstraction": "Whale wallets accumulate BNKR before pump events.",
		"compression_ratio": 4.2, "is_causal": true}`}
	r, atomStore, reportsDir := newRunnerFixture(t, client)
	ctx := context.Background()

	rep, err := r.Run(ctx)
	require.NoError(t, err)

	t.Run("counters reflect the pass", func(t *testing.T) {
		assert.Equal(t, 3, rep.MemoriesScanned)
		assert.Equal(t, 1, rep.ClustersFound)
		assert.Equal(t, 1, rep.Compressed)
		assert.Equal(t, 3, rep.MembersArchived)
		assert.Equal(t, 1, rep.AtomsCreated)
		assert.Empty(t, rep.Errors)
		require.Len(t, rep.Ratios, 1)
		assert.GreaterOrEqual(t, rep.Ratios[0], 1.5)
	})

	t.Run("causal atom derived", func(t *testing.T) {
		got, err := atomStore.BySubjectPrefix(ctx, "compression:trading", 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Contains(t, got[0].Outcome, "Whale wallets")
	})

	t.Run("artifact and log row written", func(t *testing.T) {
		body, err := os.ReadFile(filepath.Join(reportsDir, "compression_"+rep.RunID+".json"))
		require.NoError(t, err)
		assert.Contains(t, string(body), rep.RunID)
		assert.Contains(t, rep.Summary(), "compressed 1")
	})

	t.Run("second pass finds nothing new", func(t *testing.T) {
		rep2, err := r.Run(ctx)
		require.NoError(t, err)
		assert.Zero(t, rep2.MemoriesScanned, "sources archived, product too new")
		assert.Zero(t, rep2.Compressed)
	})
}

func TestRunnerRefusal(t *testing.T) {
	// Abstraction too long to clear the ratio floor.
	long := ""
	for i := 0; i < 6; i++ {
		long += "whale wallets accumulated bnkr before the pump event "
	}
	client := &cannedClient{text: `{"abstraction": "` + long + `"}`}
	r, _, _ := newRunnerFixture(t, client)

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ClustersRefused)
	assert.Zero(t, rep.Compressed)
	assert.Empty(t, rep.Errors, "a refusal is not an error")

	t.Run("refused fingerprint is not retried until reset", func(t *testing.T) {
		rep2, err := r.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, rep2.ClustersSkipped)

		r.Reset()
		rep3, err := r.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, rep3.ClustersRefused)
	})
}

func TestRunnerModelFailure(t *testing.T) {
	client := &cannedClient{err: assert.AnError}
	r, _, _ := newRunnerFixture(t, client)

	rep, err := r.Run(context.Background())
	require.NoError(t, err, "per-cluster failures stay in the report")
	require.Len(t, rep.Errors, 1)
	assert.Zero(t, rep.Compressed)
}
