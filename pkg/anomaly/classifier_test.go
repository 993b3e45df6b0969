package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliosarchitect/axon/pkg/probe"
)

func reading(sourceID string, data map[string]any) probe.Reading {
	return probe.Reading{
		SourceID:   sourceID,
		CapturedAt: time.Now(),
		Data:       data,
		Available:  true,
	}
}

func findType(anomalies []Anomaly, t Type) *Anomaly {
	for i := range anomalies {
		if anomalies[i].Type == t {
			return &anomalies[i]
		}
	}
	return nil
}

func TestClassifyDefaultRules(t *testing.T) {
	c := NewClassifier(DefaultRules())

	t.Run("dead process", func(t *testing.T) {
		got := c.Classify(reading("process:augur-executor", map[string]any{
			"process": "augur-executor", "pid_found": false,
		}))
		a := findType(got, TypeProcessDead)
		require.NotNil(t, a)
		assert.Equal(t, "augur-executor", a.TargetID)
		assert.Equal(t, SeverityHigh, a.Severity)
		assert.Equal(t, "rb-restart-service", a.RemediationHint)
	})

	t.Run("live process is clean", func(t *testing.T) {
		got := c.Classify(reading("process:augur-executor", map[string]any{
			"process": "augur-executor", "pid_found": true, "pid": 4242,
		}))
		assert.Nil(t, findType(got, TypeProcessDead))
	})

	t.Run("disk pressure escalates to critical at 97 percent", func(t *testing.T) {
		high := c.Classify(reading("disk:/data", map[string]any{"path": "/data", "used_pct": 92.0}))
		a := findType(high, TypeDiskPressure)
		require.NotNil(t, a)
		assert.Equal(t, SeverityHigh, a.Severity)
		assert.Equal(t, "/data", a.TargetID)

		crit := c.Classify(reading("disk:/data", map[string]any{"path": "/data", "used_pct": 98.5}))
		a = findType(crit, TypeDiskPressure)
		require.NotNil(t, a)
		assert.Equal(t, SeverityCritical, a.Severity)
	})

	t.Run("memory pressure targets system-memory", func(t *testing.T) {
		got := c.Classify(reading("memory", map[string]any{"used_pct": 95.0}))
		a := findType(got, TypeMemoryPressure)
		require.NotNil(t, a)
		assert.Equal(t, "system-memory", a.TargetID)
	})

	t.Run("gateway needs a failure streak", func(t *testing.T) {
		short := c.Classify(reading("gateway", map[string]any{
			"reachable": false, "consec_errors": 1,
		}))
		assert.Nil(t, findType(short, TypeGatewayUnreachable))

		long := c.Classify(reading("gateway", map[string]any{
			"reachable": false, "consec_errors": 3,
		}))
		a := findType(long, TypeGatewayUnreachable)
		require.NotNil(t, a)
		assert.Equal(t, "rb-reset-gateway", a.RemediationHint)
	})

	t.Run("unavailable probe yields probe_unavailable", func(t *testing.T) {
		got := c.Classify(probe.Reading{SourceID: "disk:/data", Available: false, Err: "statfs failed", Data: map[string]any{}})
		a := findType(got, TypeProbeUnavailable)
		require.NotNil(t, a)
		assert.Equal(t, SeverityLow, a.Severity)
	})

	t.Run("store quick_check failure is critical", func(t *testing.T) {
		got := c.Classify(reading("store", map[string]any{"verdict": "row 3 missing", "ok": false}))
		a := findType(got, TypeStoreCorruption)
		require.NotNil(t, a)
		assert.Equal(t, SeverityCritical, a.Severity)
	})
}

// Every rule must have a clean counterpart reading: verification depends
// on being able to observe the anomaly's absence.
func TestEveryRuleHasACleanReading(t *testing.T) {
	c := NewClassifier(DefaultRules())

	clean := []probe.Reading{
		reading("process:x", map[string]any{"process": "x", "pid_found": true}),
		reading("memory", map[string]any{"used_pct": 40.0}),
		reading("disk:/", map[string]any{"path": "/", "used_pct": 50.0}),
		reading("gateway", map[string]any{"reachable": true, "consec_errors": 0, "latency_ms": 20}),
		reading("store", map[string]any{"verdict": "ok", "ok": true}),
		reading("session-file", map[string]any{"path": "/tmp/s", "age_ms": 1000}),
	}
	for _, r := range clean {
		assert.Empty(t, c.Classify(r), "source %s", r.SourceID)
	}
}

func TestHas(t *testing.T) {
	c := NewClassifier(DefaultRules())
	dead := reading("process:svc", map[string]any{"process": "svc", "pid_found": false})
	alive := reading("process:svc", map[string]any{"process": "svc", "pid_found": true})

	assert.True(t, c.Has(dead, TypeProcessDead, "svc"))
	assert.False(t, c.Has(alive, TypeProcessDead, "svc"))
	assert.False(t, c.Has(dead, TypeProcessDead, "other"))
}

func TestSeverityRank(t *testing.T) {
	assert.True(t, SeverityCritical.Rank() > SeverityHigh.Rank())
	assert.True(t, SeverityHigh.Rank() > SeverityMedium.Rank())
	assert.True(t, SeverityMedium.Rank() > SeverityLow.Rank())
	assert.Equal(t, -1, Severity("wat").Rank())
}

func TestTypeIsValid(t *testing.T) {
	assert.Len(t, AllTypes, 13)
	for _, typ := range AllTypes {
		assert.True(t, typ.IsValid())
	}
	assert.False(t, Type("spontaneous_combustion").IsValid())
}
