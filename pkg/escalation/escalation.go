// Package escalation routes remediation outcomes to the operator.
//
// Tier selection is a pure function; the router only performs delivery.
// Tier 3 fans out to the bus and the external channel concurrently and
// the failure of one path never suppresses the other.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/heliosarchitect/axon/pkg/anomaly"
	"github.com/heliosarchitect/axon/pkg/incident"
	"github.com/heliosarchitect/axon/pkg/metrics"
	"github.com/heliosarchitect/axon/pkg/runbook"
	"github.com/heliosarchitect/axon/pkg/synapse"
)

var errExternalMissing = errors.New("no external channel wired")

// Input is everything tier selection depends on.
type Input struct {
	RunbookExists     bool
	RunbookMode       runbook.Mode
	Confidence        float64
	ConfidenceMin     float64
	RemediationFailed bool
	Severity          anomaly.Severity
}

// SelectTier maps an outcome to its escalation tier.
//
//	0  silent, metric only
//	1  bus info: executed, outcome uncertain
//	2  bus action: approval requested
//	3  bus urgent + external channel
func SelectTier(in Input) int {
	if !in.RunbookExists || in.RemediationFailed || in.Severity == anomaly.SeverityCritical {
		return 3
	}
	if in.RunbookMode == runbook.ModeAutoExecute && in.Confidence >= in.ConfidenceMin {
		return 0
	}
	if in.Confidence < in.ConfidenceMin {
		return 2
	}
	return 1
}

// Router delivers escalations per tier.
type Router struct {
	bus       *synapse.Bus
	external  synapse.ExternalChannel
	incidents *incident.Manager
	sink      *metrics.Sink
	logger    *slog.Logger
}

// NewRouter wires the router. external may be nil; tier-3 external
// delivery then degrades to a logged failure.
func NewRouter(bus *synapse.Bus, external synapse.ExternalChannel, incidents *incident.Manager, sink *metrics.Sink) *Router {
	return &Router{
		bus:       bus,
		external:  external,
		incidents: incidents,
		sink:      sink,
		logger:    slog.Default().With("component", "escalation-router"),
	}
}

// Escalate records the tier on the incident and performs the tier's
// delivery. Delivery failures are logged, not returned: escalation is
// best-effort by design except for the metric write.
func (r *Router) Escalate(ctx context.Context, inc *incident.Incident, a anomaly.Anomaly, res *runbook.Result, in Input) int {
	tier := SelectTier(in)

	if err := r.incidents.SetEscalationTier(ctx, inc.ID, tier); err != nil {
		r.logger.Warn("Failed to record escalation tier",
			"incident_id", inc.ID, "tier", tier, "error", err)
	}
	r.sink.WriteEvent(ctx, "heal_escalation_fired", map[string]string{
		"tier":         fmt.Sprintf("%d", tier),
		"anomaly_type": string(a.Type),
	})

	switch tier {
	case 0:
		// Metric write above is the whole delivery.
	case 1:
		r.send(ctx, synapse.PriorityInfo, inc, a, res,
			"runbook executed, outcome uncertain")
	case 2:
		body := r.renderBody(inc, a, res, fmt.Sprintf(
			"approval requested: reply `axon runbook approve %s` or `axon incident dismiss %s`",
			inc.RunbookID, inc.ID))
		r.send(ctx, synapse.PriorityAction, inc, a, res, body)
		if inc.State != incident.StateEscalated {
			r.transitionEscalated(ctx, inc, "approval requested at tier 2")
		}
	case 3:
		r.deliverTier3(ctx, inc, a, res)
	}

	r.logger.Info("Escalation routed",
		"incident_id", inc.ID, "tier", tier, "anomaly_type", a.Type)
	return tier
}

// deliverTier3 runs both paths concurrently; neither outcome gates the
// other.
func (r *Router) deliverTier3(ctx context.Context, inc *incident.Incident, a anomaly.Anomaly, res *runbook.Result) {
	subject := fmt.Sprintf("URGENT: %s", anomaly.Describe(a))
	body := r.renderBody(inc, a, res, "immediate operator attention required")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := r.bus.Send(ctx, subject, body, synapse.PriorityUrgent, threadID(inc)); err != nil {
			r.logger.Error("Tier-3 bus delivery failed", "incident_id", inc.ID, "error", err)
			r.sink.WriteEvent(ctx, "heal_escalation_delivery_failed", map[string]string{"path": "bus"})
		}
	}()
	go func() {
		defer wg.Done()
		err := errExternalMissing
		if r.external != nil {
			err = r.external.Deliver(ctx, subject, body)
		}
		if err != nil {
			r.logger.Error("Tier-3 external delivery failed", "incident_id", inc.ID, "error", err)
			r.sink.WriteEvent(ctx, "heal_escalation_delivery_failed", map[string]string{"path": "external"})
		}
	}()
	wg.Wait()

	if inc.State != incident.StateEscalated {
		r.transitionEscalated(ctx, inc, "tier 3: urgent + external delivery")
	}
}

func (r *Router) send(ctx context.Context, p synapse.Priority, inc *incident.Incident, a anomaly.Anomaly, res *runbook.Result, note string) {
	subject := anomaly.Describe(a)
	if _, err := r.bus.Send(ctx, subject, r.renderBody(inc, a, res, note), p, threadID(inc)); err != nil {
		r.logger.Error("Escalation bus delivery failed",
			"incident_id", inc.ID, "priority", p, "error", err)
	}
}

func (r *Router) transitionEscalated(ctx context.Context, inc *incident.Incident, note string) {
	if _, err := r.incidents.Transition(ctx, inc.ID, incident.StateEscalated, note, "escalation-router"); err != nil {
		r.logger.Warn("Failed to transition incident to escalated",
			"incident_id", inc.ID, "error", err)
	}
}

func (r *Router) renderBody(inc *incident.Incident, a anomaly.Anomaly, res *runbook.Result, note string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "incident %s: %s\n", inc.ID, anomaly.Describe(a))
	if inc.RunbookID != "" {
		fmt.Fprintf(&b, "runbook: %s\n", inc.RunbookID)
	}
	if res != nil {
		fmt.Fprintf(&b, "mode: %s, steps: %d, success: %v\n",
			res.Mode, len(res.StepsExecuted), res.Success)
		for _, s := range res.StepsExecuted {
			if s.Status == runbook.StepFailed {
				fmt.Fprintf(&b, "failed step %s: %s\n", s.StepID, s.Output)
			}
		}
	}
	b.WriteString(note)
	return b.String()
}

func threadID(inc *incident.Incident) string {
	return "incident:" + inc.ID
}
