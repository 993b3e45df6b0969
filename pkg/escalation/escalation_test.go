package escalation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliosarchitect/axon/pkg/anomaly"
	"github.com/heliosarchitect/axon/pkg/incident"
	"github.com/heliosarchitect/axon/pkg/runbook"
	"github.com/heliosarchitect/axon/pkg/store/storetest"
	"github.com/heliosarchitect/axon/pkg/synapse"
)

func TestSelectTier(t *testing.T) {
	base := Input{
		RunbookExists: true,
		RunbookMode:   runbook.ModeAutoExecute,
		Confidence:    0.9,
		ConfidenceMin: 0.8,
		Severity:      anomaly.SeverityHigh,
	}

	tests := []struct {
		name   string
		mutate func(*Input)
		want   int
	}{
		{"graduated and confident is silent", func(*Input) {}, 0},
		{"no runbook", func(in *Input) { in.RunbookExists = false }, 3},
		{"remediation failed", func(in *Input) { in.RemediationFailed = true }, 3},
		{"critical severity", func(in *Input) { in.Severity = anomaly.SeverityCritical }, 3},
		{"confidence below threshold asks approval", func(in *Input) { in.Confidence = 0.5 }, 2},
		{"dry run below threshold asks approval", func(in *Input) {
			in.RunbookMode = runbook.ModeDryRun
			in.Confidence = 0.5
		}, 2},
		{"dry run with high confidence is uncertain", func(in *Input) {
			in.RunbookMode = runbook.ModeDryRun
		}, 1},
		{"failure beats confidence", func(in *Input) {
			in.RemediationFailed = true
			in.Confidence = 1.0
		}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			assert.Equal(t, tt.want, SelectTier(in))
		})
	}
}

type fakeExternal struct {
	calls []string
	err   error
}

func (f *fakeExternal) Deliver(_ context.Context, subject, _ string) error {
	f.calls = append(f.calls, subject)
	return f.err
}

func testAnomaly() anomaly.Anomaly {
	return anomaly.Anomaly{
		ID:              "a-1",
		Type:            anomaly.TypeProcessDead,
		TargetID:        "svc",
		Severity:        anomaly.SeverityHigh,
		DetectedAt:      time.Now().UTC(),
		SourceID:        "process:svc",
		Details:         map[string]any{},
		RemediationHint: "rb-restart-service",
	}
}

func TestRouter(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, ext *fakeExternal) (*Router, *incident.Manager, *synapse.Bus) {
		db := storetest.New(t)
		incidents := incident.NewManager(db)
		bus := synapse.NewBus(db)
		var channel synapse.ExternalChannel
		if ext != nil {
			channel = ext
		}
		return NewRouter(bus, channel, incidents, nil), incidents, bus
	}

	t.Run("tier 0 is silent", func(t *testing.T) {
		ext := &fakeExternal{}
		r, incidents, bus := setup(t, ext)
		inc, err := incidents.Upsert(ctx, testAnomaly())
		require.NoError(t, err)

		tier := r.Escalate(ctx, inc, testAnomaly(), nil, Input{
			RunbookExists: true, RunbookMode: runbook.ModeAutoExecute,
			Confidence: 0.9, ConfidenceMin: 0.8, Severity: anomaly.SeverityHigh,
		})
		assert.Equal(t, 0, tier)
		assert.Empty(t, ext.calls)

		msgs, err := bus.Since(ctx, 0, 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("tier 2 posts an action message and escalates the incident", func(t *testing.T) {
		r, incidents, bus := setup(t, &fakeExternal{})
		inc, err := incidents.Upsert(ctx, testAnomaly())
		require.NoError(t, err)

		tier := r.Escalate(ctx, inc, testAnomaly(), nil, Input{
			RunbookExists: true, RunbookMode: runbook.ModeDryRun,
			Confidence: 0.5, ConfidenceMin: 0.8, Severity: anomaly.SeverityHigh,
		})
		assert.Equal(t, 2, tier)

		msgs, err := bus.Since(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, synapse.PriorityAction, msgs[0].Priority)
		assert.Contains(t, msgs[0].Body, "approve")
		assert.Equal(t, "incident:"+inc.ID, msgs[0].ThreadID)

		got, err := incidents.GetByID(ctx, inc.ID)
		require.NoError(t, err)
		assert.Equal(t, incident.StateEscalated, got.State)
		require.NotNil(t, got.EscalationTier)
		assert.Equal(t, 2, *got.EscalationTier)
	})

	t.Run("tier 3 delivers on both paths", func(t *testing.T) {
		ext := &fakeExternal{}
		r, incidents, bus := setup(t, ext)
		a := testAnomaly()
		a.Severity = anomaly.SeverityCritical
		inc, err := incidents.Upsert(ctx, a)
		require.NoError(t, err)

		tier := r.Escalate(ctx, inc, a, nil, Input{
			RunbookExists: true, RunbookMode: runbook.ModeAutoExecute,
			Confidence: 0.9, ConfidenceMin: 0.8, Severity: a.Severity,
		})
		assert.Equal(t, 3, tier)
		require.Len(t, ext.calls, 1)
		assert.Contains(t, ext.calls[0], "URGENT")

		msgs, err := bus.Since(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, synapse.PriorityUrgent, msgs[0].Priority)
	})

	t.Run("external failure does not suppress the bus path", func(t *testing.T) {
		ext := &fakeExternal{err: errors.New("SMS gateway down")}
		r, incidents, bus := setup(t, ext)
		inc, err := incidents.Upsert(ctx, testAnomaly())
		require.NoError(t, err)

		tier := r.Escalate(ctx, inc, testAnomaly(), nil, Input{
			RunbookExists: false, Severity: anomaly.SeverityHigh,
		})
		assert.Equal(t, 3, tier)
		assert.Len(t, ext.calls, 1)

		msgs, err := bus.Since(ctx, 0, 10)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})

	t.Run("missing external channel still posts urgent", func(t *testing.T) {
		r, incidents, bus := setup(t, nil)
		inc, err := incidents.Upsert(ctx, testAnomaly())
		require.NoError(t, err)

		tier := r.Escalate(ctx, inc, testAnomaly(), nil, Input{
			RunbookExists: false, Severity: anomaly.SeverityHigh,
		})
		assert.Equal(t, 3, tier)

		msgs, err := bus.Since(ctx, 0, 10)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})

	t.Run("failed step output lands in the body", func(t *testing.T) {
		r, incidents, bus := setup(t, &fakeExternal{})
		inc, err := incidents.Upsert(ctx, testAnomaly())
		require.NoError(t, err)

		res := &runbook.Result{
			Mode: runbook.ModeAutoExecute,
			StepsExecuted: []runbook.StepOutcome{
				{StepID: "restart-unit", Status: runbook.StepFailed, Output: "unit not found"},
			},
		}
		r.Escalate(ctx, inc, testAnomaly(), res, Input{
			RunbookExists: true, RunbookMode: runbook.ModeAutoExecute,
			Confidence: 0.9, ConfidenceMin: 0.8,
			RemediationFailed: true, Severity: anomaly.SeverityHigh,
		})

		msgs, err := bus.Since(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0].Body, "unit not found")
	})
}
