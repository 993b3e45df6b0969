package rtl

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliosarchitect/axon/pkg/config"
)

type capture struct {
	mu   sync.Mutex
	got  []DetectionPayload
	q    *Queue
	r    *Relays
	when time.Time
}

func newCapture(t *testing.T) *capture {
	t.Helper()
	c := &capture{when: time.Now()}
	c.q = NewQueue(16, nil, nil)
	c.r = NewRelays(c.q, config.DefaultRTLConfig())
	c.r.now = func() time.Time { return c.when }
	return c
}

// drainInto empties the queue synchronously for assertions.
func (c *capture) drainInto(t *testing.T) []DetectionPayload {
	t.Helper()
	var out []DetectionPayload
	for {
		select {
		case p := <-c.q.ch:
			out = append(out, p)
		default:
			return out
		}
	}
}

func TestToolMonitor(t *testing.T) {
	t.Run("success is ignored", func(t *testing.T) {
		c := newCapture(t)
		c.r.ToolResult("grep", "-r foo", 0, "")
		assert.Empty(t, c.drainInto(t))
	})

	t.Run("nonzero exit enqueues", func(t *testing.T) {
		c := newCapture(t)
		c.r.ToolResult("grep", "-r foo", 2, "")
		got := c.drainInto(t)
		require.Len(t, got, 1)
		assert.Equal(t, FailureToolError, got[0].Type)
		assert.Equal(t, 1, got[0].Tier)
		assert.Contains(t, got[0].FailureDesc, "exited 2")
	})

	t.Run("error text enqueues regardless of exit", func(t *testing.T) {
		c := newCapture(t)
		c.r.ToolResult("read", "/tmp/x", 0, "no such file")
		got := c.drainInto(t)
		require.Len(t, got, 1)
		assert.Contains(t, got[0].FailureDesc, "no such file")
	})
}

func TestCorrectionScanner(t *testing.T) {
	t.Run("keyword after tool call binds to it", func(t *testing.T) {
		c := newCapture(t)
		c.r.ToolResult("write", "/etc/app.conf", 0, "")
		c.when = c.when.Add(30 * time.Second)
		c.r.UserMessage("that's the wrong file, it should be app.yaml")

		got := c.drainInto(t)
		require.Len(t, got, 1)
		assert.Equal(t, FailureCorrection, got[0].Type)
		assert.Equal(t, 2, got[0].Tier)
		assert.Equal(t, "write", got[0].Context["tool"])
	})

	t.Run("outside the window nothing fires", func(t *testing.T) {
		c := newCapture(t)
		c.r.ToolResult("write", "x", 0, "")
		c.when = c.when.Add(3 * time.Minute)
		c.r.UserMessage("wrong file")
		assert.Empty(t, c.drainInto(t))
	})

	t.Run("no recent tool call means no scan", func(t *testing.T) {
		c := newCapture(t)
		c.r.UserMessage("this is wrong")
		assert.Empty(t, c.drainInto(t))
	})

	t.Run("keywords inside code fences are ignored", func(t *testing.T) {
		c := newCapture(t)
		c.r.ToolResult("run", "tests", 0, "")
		c.r.UserMessage("here is the output:\n```\nassert failed: wrong value\n```\nlooks fine to me")
		assert.Empty(t, c.drainInto(t))
	})

	t.Run("keywords in quoted lines are ignored", func(t *testing.T) {
		c := newCapture(t)
		c.r.ToolResult("run", "tests", 0, "")
		c.r.UserMessage("> you said: that is wrong\nthanks, continue")
		assert.Empty(t, c.drainInto(t))
	})

	t.Run("reset forgets the binding", func(t *testing.T) {
		c := newCapture(t)
		c.r.ToolResult("write", "x", 0, "")
		c.r.Reset()
		c.r.UserMessage("wrong file")
		assert.Empty(t, c.drainInto(t))
	})
}

func TestFixedTierRelays(t *testing.T) {
	c := newCapture(t)
	c.r.HookViolation("no-direct-prod-writes", "edited prod config", map[string]any{"file": "prod.yaml"})
	c.r.TrustEvent("demoted to supervised after unauthorized push", nil)
	c.r.PipelineFailure("distill", "LLM returned malformed JSON", nil)

	got := c.drainInto(t)
	require.Len(t, got, 3)
	assert.Equal(t, FailureSOPViol, got[0].Type)
	assert.Equal(t, 2, got[0].Tier)
	assert.Equal(t, "no-direct-prod-writes", got[0].Context["rule"])
	assert.Equal(t, FailureTrustDem, got[1].Type)
	assert.Equal(t, 3, got[1].Tier)
	assert.Equal(t, FailurePipeline, got[2].Type)
	assert.Equal(t, 3, got[2].Tier)
	assert.Equal(t, "distill", got[2].Context["stage"])
}

func TestStripForScan(t *testing.T) {
	in := "before\n```go\nwrong := true\n```\n> quoted wrong\nafter"
	out := stripForScan(in)
	assert.NotContains(t, out, "wrong")
	assert.Contains(t, out, "before")
	assert.Contains(t, out, "after")
}

func TestClassifierRules(t *testing.T) {
	c := NewClassifier(DefaultClassRules())

	t.Run("missing path", func(t *testing.T) {
		got := c.Classify(DetectionPayload{
			Type: FailureToolError, Tier: 1,
			FailureDesc: "tool read failed: ENOENT no such file or directory",
		})
		assert.Equal(t, "missing-path", got.RootCause)
		assert.Contains(t, got.Targets, TargetSOPPatch)
		assert.Contains(t, got.Targets, TargetRegression)
	})

	t.Run("generic tool failure falls through", func(t *testing.T) {
		got := c.Classify(DetectionPayload{
			Type: FailureToolError, Tier: 1, FailureDesc: "tool x exited 7",
		})
		assert.Equal(t, "tool-failure", got.RootCause)
	})

	t.Run("trust demotion", func(t *testing.T) {
		got := c.Classify(DetectionPayload{
			Type: FailureTrustDem, Tier: 3, FailureDesc: "demoted",
		})
		assert.Equal(t, "trust-boundary", got.RootCause)
	})

	t.Run("catch-all covers unknown combinations", func(t *testing.T) {
		got := c.Classify(DetectionPayload{
			Type: "future-type", Tier: 1, FailureDesc: "??",
		})
		assert.Equal(t, "unclassified", got.RootCause)
		assert.Equal(t, []TargetType{TargetSynapse}, got.Targets)
	})
}
