package healing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliosarchitect/axon/pkg/anomaly"
	"github.com/heliosarchitect/axon/pkg/config"
	"github.com/heliosarchitect/axon/pkg/escalation"
	"github.com/heliosarchitect/axon/pkg/incident"
	"github.com/heliosarchitect/axon/pkg/probe"
	"github.com/heliosarchitect/axon/pkg/runbook"
	"github.com/heliosarchitect/axon/pkg/store/storetest"
	"github.com/heliosarchitect/axon/pkg/synapse"
)

type harness struct {
	engine    *Engine
	incidents *incident.Manager
	bus       *synapse.Bus
	probe     *probe.FuncProbe
	cfg       *config.HealingConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := storetest.New(t)

	p := probe.NewFuncProbe("process:svc", time.Second, func(context.Context) probe.Reading {
		return probe.Reading{
			SourceID: "process:svc", CapturedAt: time.Now(), Available: true,
			Data: map[string]any{"process": "svc", "pid_found": true},
		}
	})
	probes := probe.NewRegistry()
	require.NoError(t, probes.Register(p))

	cfg := config.DefaultHealingConfig()
	cfg.VerificationIntervalMS = 1
	cfg.MinClearReadings = 2

	classifier := anomaly.NewClassifier(anomaly.DefaultRules())
	incidents := incident.NewManager(db)
	bus := synapse.NewBus(db)
	meta := runbook.NewMetaStore(db)
	runbooks := runbook.NewRegistry()
	require.NoError(t, runbook.RegisterBuiltins(runbooks, runbook.BuiltinDeps{
		Run:   func(context.Context, string, ...string) (string, error) { return "", nil },
		Store: db,
	}))

	executor := runbook.NewExecutor(classifier, probes, incidents, meta, cfg, nil)
	router := escalation.NewRouter(bus, nil, incidents, nil)

	e := New(Deps{
		Config:     cfg,
		Probes:     probes,
		Classifier: classifier,
		Incidents:  incidents,
		Runbooks:   runbooks,
		Meta:       meta,
		Executor:   executor,
		Router:     router,
	})
	return &harness{engine: e, incidents: incidents, bus: bus, probe: p, cfg: cfg}
}

func deadReading() probe.Reading {
	return probe.Reading{
		SourceID: "process:svc", CapturedAt: time.Now(), Available: true,
		Data: map[string]any{"process": "svc", "pid_found": false},
	}
}

func aliveReading() probe.Reading {
	return probe.Reading{
		SourceID: "process:svc", CapturedAt: time.Now(), Available: true,
		Data: map[string]any{"process": "svc", "pid_found": true},
	}
}

func TestHandleReading(t *testing.T) {
	ctx := context.Background()

	t.Run("dead process opens an incident and requests approval", func(t *testing.T) {
		h := newHarness(t)
		h.engine.HandleReading(ctx, deadReading())

		open, err := h.incidents.ListOpen(ctx)
		require.NoError(t, err)
		require.Len(t, open, 1)
		inc := open[0]
		assert.Equal(t, anomaly.TypeProcessDead, inc.AnomalyType)
		// Unwhitelisted runbook ran dry, so tier 2 asked for approval.
		assert.Equal(t, incident.StateEscalated, inc.State)
		require.NotNil(t, inc.EscalationTier)
		assert.Equal(t, 2, *inc.EscalationTier)

		msgs, err := h.bus.Since(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, synapse.PriorityAction, msgs[0].Priority)
	})

	t.Run("re-detection does not re-run the runbook", func(t *testing.T) {
		h := newHarness(t)
		h.engine.HandleReading(ctx, deadReading())
		h.engine.HandleReading(ctx, deadReading())

		open, err := h.incidents.ListOpen(ctx)
		require.NoError(t, err)
		require.Len(t, open, 1)

		msgs, err := h.bus.Since(ctx, 0, 10)
		require.NoError(t, err)
		assert.Len(t, msgs, 1, "only the first detection escalates")
	})

	t.Run("clean streak self-resolves the incident", func(t *testing.T) {
		h := newHarness(t)
		h.engine.HandleReading(ctx, deadReading())

		open, err := h.incidents.ListOpen(ctx)
		require.NoError(t, err)
		require.Len(t, open, 1)
		id := open[0].ID

		// One clean reading is below MinClearReadings.
		h.engine.HandleReading(ctx, aliveReading())
		got, err := h.incidents.GetByID(ctx, id)
		require.NoError(t, err)
		assert.False(t, got.State.IsTerminal())

		h.engine.HandleReading(ctx, aliveReading())
		got, err = h.incidents.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, incident.StateSelfResolved, got.State)
		assert.NotNil(t, got.ResolvedAt)
	})

	t.Run("re-detection resets the clean streak", func(t *testing.T) {
		h := newHarness(t)
		h.engine.HandleReading(ctx, deadReading())
		h.engine.HandleReading(ctx, aliveReading())
		h.engine.HandleReading(ctx, deadReading())
		h.engine.HandleReading(ctx, aliveReading())

		open, err := h.incidents.ListOpen(ctx)
		require.NoError(t, err)
		assert.Len(t, open, 1, "streak restarted, incident still open")
	})

	t.Run("unavailable reading is a low severity anomaly without a runbook", func(t *testing.T) {
		h := newHarness(t)
		h.engine.HandleReading(ctx, probe.Reading{
			SourceID: "process:svc", Data: map[string]any{}, Err: "pgrep missing",
		})

		open, err := h.incidents.ListOpen(ctx)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, anomaly.TypeProbeUnavailable, open[0].AnomalyType)
		require.NotNil(t, open[0].EscalationTier)
		assert.Equal(t, 3, *open[0].EscalationTier)
	})

	t.Run("reset clears streak tracking", func(t *testing.T) {
		h := newHarness(t)
		h.engine.HandleReading(ctx, deadReading())
		h.engine.Reset()
		h.engine.HandleReading(ctx, aliveReading())
		h.engine.HandleReading(ctx, aliveReading())

		open, err := h.incidents.ListOpen(ctx)
		require.NoError(t, err)
		assert.Len(t, open, 1, "forgotten streaks cannot self-resolve")
	})
}

func TestEngineStartStop(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.engine.Start(ctx)
	// Immediate first poll lands quickly.
	require.Eventually(t, func() bool {
		return !h.engine.Health()["process:svc"].IsZero()
	}, time.Second, 5*time.Millisecond)
	h.engine.Stop()
}

func TestEngineDisabled(t *testing.T) {
	h := newHarness(t)
	h.cfg.Enabled = false

	ctx := context.Background()
	h.engine.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.engine.Health())
	h.engine.Stop()
}
