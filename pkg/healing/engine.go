// Package healing wires the self-healing loop: scheduled probes feed
// the classifier, anomalies open incidents, incidents drive runbooks,
// and outcomes route through the escalation tiers.
package healing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/heliosarchitect/axon/pkg/anomaly"
	"github.com/heliosarchitect/axon/pkg/config"
	"github.com/heliosarchitect/axon/pkg/escalation"
	"github.com/heliosarchitect/axon/pkg/incident"
	"github.com/heliosarchitect/axon/pkg/metrics"
	"github.com/heliosarchitect/axon/pkg/probe"
	"github.com/heliosarchitect/axon/pkg/runbook"
)

const cleanupEvery = time.Hour

// Engine is the self-healing control loop.
type Engine struct {
	cfg        *config.HealingConfig
	registry   *probe.Registry
	scheduler  *probe.Scheduler
	classifier *anomaly.Classifier
	incidents  *incident.Manager
	runbooks   *runbook.Registry
	meta       *runbook.MetaStore
	executor   *runbook.Executor
	router     *escalation.Router
	sink       *metrics.Sink
	logger     *slog.Logger

	// clearStreaks counts consecutive anomaly-free readings per open
	// incident key; at MinClearReadings the incident self-resolves.
	mu           sync.Mutex
	clearStreaks map[string]*streak

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type streak struct {
	sourceID   string
	incidentID string
	clean      int
}

// Deps carries the engine's collaborators.
type Deps struct {
	Config     *config.HealingConfig
	Probes     *probe.Registry
	Classifier *anomaly.Classifier
	Incidents  *incident.Manager
	Runbooks   *runbook.Registry
	Meta       *runbook.MetaStore
	Executor   *runbook.Executor
	Router     *escalation.Router
	Sink       *metrics.Sink
}

// New assembles the engine. The scheduler is created here so every
// reading flows through HandleReading.
func New(d Deps) *Engine {
	e := &Engine{
		cfg:          d.Config,
		registry:     d.Probes,
		classifier:   d.Classifier,
		incidents:    d.Incidents,
		runbooks:     d.Runbooks,
		meta:         d.Meta,
		executor:     d.Executor,
		router:       d.Router,
		sink:         d.Sink,
		logger:       slog.Default().With("component", "healing-engine"),
		clearStreaks: make(map[string]*streak),
		stopCh:       make(chan struct{}),
	}
	e.scheduler = probe.NewScheduler(d.Probes, e.HandleReading, d.Config.ProbeInterval)
	return e
}

// Start launches the probe scheduler and the retention sweeper.
func (e *Engine) Start(ctx context.Context) {
	if !e.cfg.Enabled {
		e.logger.Info("Self-healing disabled by config")
		return
	}
	e.scheduler.Start(ctx)
	e.wg.Add(1)
	go e.sweep(ctx)
	e.logger.Info("Self-healing engine started", "probes", e.registry.Len())
}

// Stop halts polling and waits for in-flight work.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.scheduler.Stop()
	e.wg.Wait()
}

// Reset clears the per-key clean-reading streaks. Test isolation hook.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearStreaks = make(map[string]*streak)
}

// Health reports last poll times per probe.
func (e *Engine) Health() map[string]time.Time {
	return e.scheduler.Health()
}

// HandleReading is the per-reading pipeline: classify, open or refresh
// incidents, remediate, escalate, and advance clean streaks.
func (e *Engine) HandleReading(ctx context.Context, r probe.Reading) {
	start := time.Now()
	anomalies := e.classifier.Classify(r)

	present := make(map[string]bool, len(anomalies))
	for _, a := range anomalies {
		present[keyOf(a.Type, a.TargetID)] = true
		e.handleAnomaly(ctx, a)
	}
	e.advanceStreaks(ctx, r.SourceID, present)

	e.sink.WriteDuration(ctx, "heal_reading_processed", time.Since(start),
		map[string]string{"source": r.SourceID})
}

func (e *Engine) handleAnomaly(ctx context.Context, a anomaly.Anomaly) {
	e.sink.WriteEvent(ctx, "heal_anomaly_detected", map[string]string{
		"anomaly_type": string(a.Type),
		"severity":     string(a.Severity),
	})

	inc, err := e.incidents.Upsert(ctx, a)
	if err != nil {
		e.logger.Error("Incident upsert failed",
			"anomaly_type", a.Type, "target_id", a.TargetID, "error", err)
		return
	}
	if inc.ID == incident.DismissedID {
		return
	}

	e.trackStreak(a, inc.ID)

	// Remediation fires once per incident, on first detection. Refreshed
	// incidents already ran (or escalated) and wait for the operator or
	// the clean-streak path.
	if inc.State != incident.StateDetected {
		return
	}
	e.remediate(ctx, inc, a)
}

func (e *Engine) remediate(ctx context.Context, inc *incident.Incident, a anomaly.Anomaly) {
	def, ok := e.runbooks.ForAnomaly(a)
	if !ok {
		e.logger.Warn("No runbook for anomaly", "anomaly_type", a.Type, "target_id", a.TargetID)
		e.router.Escalate(ctx, inc, a, nil, escalation.Input{
			RunbookExists: false,
			Severity:      a.Severity,
		})
		return
	}

	res, err := e.executor.Execute(ctx, def, inc, a, runbook.ExecOptions{})
	if err != nil {
		e.logger.Error("Runbook execution errored",
			"runbook_id", def.ID, "incident_id", inc.ID, "error", err)
		e.router.Escalate(ctx, inc, a, nil, escalation.Input{
			RunbookExists:     true,
			RemediationFailed: true,
			Severity:          a.Severity,
		})
		return
	}

	meta, err := e.meta.Get(ctx, def.ID)
	if err != nil {
		e.logger.Error("Runbook meta read failed", "runbook_id", def.ID, "error", err)
		return
	}
	e.router.Escalate(ctx, inc, a, res, escalation.Input{
		RunbookExists:     true,
		RunbookMode:       meta.Mode,
		Confidence:        meta.Confidence,
		ConfidenceMin:     e.cfg.ConfidenceAutoExecute,
		RemediationFailed: res.EscalationNeeded,
		Severity:          a.Severity,
	})
}

func (e *Engine) trackStreak(a anomaly.Anomaly, incidentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := keyOf(a.Type, a.TargetID)
	s, ok := e.clearStreaks[key]
	if !ok {
		s = &streak{sourceID: a.SourceID, incidentID: incidentID}
		e.clearStreaks[key] = s
	}
	s.incidentID = incidentID
	s.clean = 0
}

// advanceStreaks bumps the clean counter for every tracked key fed by
// this source that did not reproduce, and self-resolves incidents whose
// streak reaches the configured floor.
func (e *Engine) advanceStreaks(ctx context.Context, sourceID string, present map[string]bool) {
	type resolved struct{ key, incidentID string }
	var done []resolved

	e.mu.Lock()
	for key, s := range e.clearStreaks {
		if s.sourceID != sourceID || present[key] {
			continue
		}
		s.clean++
		if s.clean >= e.cfg.MinClearReadings {
			done = append(done, resolved{key: key, incidentID: s.incidentID})
			delete(e.clearStreaks, key)
		}
	}
	e.mu.Unlock()

	for _, r := range done {
		inc, err := e.incidents.GetByID(ctx, r.incidentID)
		if err != nil || inc.State.IsTerminal() {
			continue
		}
		note := fmt.Sprintf("%d consecutive clean readings", e.cfg.MinClearReadings)
		if _, err := e.incidents.Transition(ctx, r.incidentID, incident.StateSelfResolved, note, "healing-engine"); err != nil {
			e.logger.Warn("Self-resolve transition failed",
				"incident_id", r.incidentID, "error", err)
			continue
		}
		e.sink.WriteEvent(ctx, "heal_self_resolved", map[string]string{"key": r.key})
	}
}

// sweep periodically removes aged terminal incidents.
func (e *Engine) sweep(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.incidents.Cleanup(ctx, e.cfg.IncidentRetention)
			if err != nil {
				e.logger.Warn("Incident cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				e.logger.Info("Incident cleanup done", "removed", n)
			}
		}
	}
}

func keyOf(t anomaly.Type, target string) string {
	return string(t) + "/" + target
}
