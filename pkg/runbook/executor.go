package runbook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/heliosarchitect/axon/pkg/anomaly"
	"github.com/heliosarchitect/axon/pkg/config"
	"github.com/heliosarchitect/axon/pkg/incident"
	"github.com/heliosarchitect/axon/pkg/metrics"
	"github.com/heliosarchitect/axon/pkg/probe"
)

// ExecOptions tunes a single execution.
type ExecOptions struct {
	// ForceDryRun overrides the runbook's persisted mode.
	ForceDryRun bool
}

// Executor runs a runbook against an incident under pre and post
// verification.
//
// The verification classifier is a constructor-injected collaborator.
// Resolving it by name inside the verification path once shipped a bug
// where a reconfigured rule table was silently ignored; injection keeps
// the executor a pure function of its collaborators.
type Executor struct {
	classifier *anomaly.Classifier
	probes     *probe.Registry
	incidents  *incident.Manager
	meta       *MetaStore
	cfg        *config.HealingConfig
	sink       *metrics.Sink
	logger     *slog.Logger

	// sleep is swappable so verification tests run in microseconds.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor wires the executor. The classifier must be the same
// instance the detection path uses.
func NewExecutor(classifier *anomaly.Classifier, probes *probe.Registry, incidents *incident.Manager, meta *MetaStore, cfg *config.HealingConfig, sink *metrics.Sink) *Executor {
	if classifier == nil {
		panic("runbook.NewExecutor: classifier must not be nil")
	}
	return &Executor{
		classifier: classifier,
		probes:     probes,
		incidents:  incidents,
		meta:       meta,
		cfg:        cfg,
		sink:       sink,
		logger:     slog.Default().With("component", "runbook-executor"),
		sleep:      sleepCtx,
	}
}

// Execute runs the definition for the incident's anomaly and returns
// the typed result. Escalation is signalled, never performed here.
func (e *Executor) Execute(ctx context.Context, def *Definition, inc *incident.Incident, a anomaly.Anomaly, opts ExecOptions) (*Result, error) {
	meta, err := e.meta.Get(ctx, def.ID)
	if err != nil {
		return nil, err
	}

	mode := meta.Mode
	if opts.ForceDryRun {
		mode = ModeDryRun
	}
	res := &Result{Mode: mode}

	steps := def.Build(a)
	if len(steps) == 0 {
		res.EscalationNeeded = true
		return res, nil
	}

	live := mode == ModeAutoExecute

	// Pre-execution verification: the anomaly may have cleared on its
	// own between detection and execution.
	if live && e.stillPresent(ctx, a) == verdictAbsent {
		if _, err := e.incidents.Transition(ctx, inc.ID, incident.StateSelfResolved,
			"anomaly absent on pre-execution probe", "executor"); err != nil {
			return nil, err
		}
		res.Success = true
		e.sink.WriteEvent(ctx, "heal_self_resolved", map[string]string{"runbook": def.ID})
		return res, nil
	}

	note := fmt.Sprintf("runbook %s (%s)", def.ID, mode)
	if _, err := e.incidents.Transition(ctx, inc.ID, incident.StateRemediating, note, "executor"); err != nil {
		return nil, err
	}

	failed := e.runSteps(ctx, steps, live, res)

	switch {
	case !live:
		// Dry runs always count as a success toward graduation.
		res.Success = true
		if _, err := e.meta.Record(ctx, def.ID, ModeDryRun, true); err != nil {
			return nil, err
		}
		graduated, err := e.meta.MaybeGraduate(ctx, def.ID,
			e.cfg.DryRunGraduationCount, e.cfg.IsWhitelisted(def.ID))
		if err != nil {
			return nil, err
		}
		if graduated {
			e.sink.WriteEvent(ctx, "heal_runbook_graduated", map[string]string{"runbook": def.ID})
		}

	case failed != nil:
		res.EscalationNeeded = true
		if _, err := e.meta.Record(ctx, def.ID, ModeAutoExecute, false); err != nil {
			return nil, err
		}
		if _, err := e.incidents.Transition(ctx, inc.ID, incident.StateRemediationFailed,
			fmt.Sprintf("step %s failed: %s", failed.StepID, failed.Output), "executor"); err != nil {
			return nil, err
		}
		e.sink.WriteEvent(ctx, "heal_remediation_failed", map[string]string{"runbook": def.ID})

	default:
		passed, err := e.verify(ctx, def, inc, a)
		if err != nil {
			return nil, err
		}
		res.VerificationPassed = &passed
		res.Success = passed
		res.EscalationNeeded = !passed
		if _, err := e.meta.Record(ctx, def.ID, ModeAutoExecute, passed); err != nil {
			return nil, err
		}
	}

	e.logger.Info("Runbook finished",
		"runbook_id", def.ID, "incident_id", inc.ID, "mode", mode,
		"success", res.Success, "escalation_needed", res.EscalationNeeded)
	return res, nil
}

// runSteps executes the steps in order and returns the first failed
// outcome, or nil when all passed.
func (e *Executor) runSteps(ctx context.Context, steps []Step, live bool, res *Result) *StepOutcome {
	for i, step := range steps {
		out := StepOutcome{StepID: step.ID, Description: step.Description}

		if !live {
			out.Status = StepDryRun
			if step.DryRun != nil {
				out.Output = step.DryRun()
			}
			res.StepsExecuted = append(res.StepsExecuted, out)
			continue
		}

		start := time.Now()
		sr := e.runWithTimeout(ctx, step, i+1)
		out.Status = sr.Status
		out.Output = sr.Output
		out.DurationMS = time.Since(start).Milliseconds()
		res.StepsExecuted = append(res.StepsExecuted, out)

		if out.Status == StepFailed {
			return &res.StepsExecuted[len(res.StepsExecuted)-1]
		}
	}
	return nil
}

// runWithTimeout races the step body against its timeout. A timed-out
// step is recorded as failed; its goroutine is abandoned with a
// cancelled context.
func (e *Executor) runWithTimeout(ctx context.Context, step Step, ordinal int) StepResult {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan StepResult, 1)
	go func() { done <- step.Execute(stepCtx) }()

	select {
	case sr := <-done:
		return sr
	case <-stepCtx.Done():
		return StepResult{
			Status: StepFailed,
			Output: fmt.Sprintf("Step %d timed out after %dms", ordinal, timeout.Milliseconds()),
		}
	}
}

type verdict int

const (
	verdictPresent verdict = iota
	verdictAbsent
	verdictUnknown
)

// stillPresent re-polls the anomaly's originating source and asks the
// injected classifier whether the same (type, target) reproduces.
func (e *Executor) stillPresent(ctx context.Context, a anomaly.Anomaly) verdict {
	p, ok := e.probes.Get(a.SourceID)
	if !ok {
		return verdictUnknown
	}
	r := p.Poll(ctx)
	if !r.Available {
		return verdictUnknown
	}
	if e.classifier.Has(r, a.Type, a.TargetID) {
		return verdictPresent
	}
	return verdictAbsent
}

// verify waits the configured interval, re-polls, and settles the
// incident. An unavailable verification reading counts as a failure.
func (e *Executor) verify(ctx context.Context, def *Definition, inc *incident.Incident, a anomaly.Anomaly) (bool, error) {
	if _, err := e.incidents.Transition(ctx, inc.ID, incident.StateVerifying,
		"waiting for verification probe", "executor"); err != nil {
		return false, err
	}
	if err := e.sleep(ctx, e.cfg.VerificationInterval()); err != nil {
		return false, err
	}

	switch e.stillPresent(ctx, a) {
	case verdictAbsent:
		if _, err := e.incidents.Transition(ctx, inc.ID, incident.StateResolved,
			fmt.Sprintf("verification clean after %s", def.ID), "executor"); err != nil {
			return false, err
		}
		e.sink.WriteEvent(ctx, "heal_remediation_verified", map[string]string{"runbook": def.ID})
		return true, nil
	default:
		if _, err := e.incidents.Transition(ctx, inc.ID, incident.StateRemediationFailed,
			fmt.Sprintf("anomaly still present after %s", def.ID), "executor"); err != nil {
			return false, err
		}
		e.sink.WriteEvent(ctx, "heal_remediation_failed", map[string]string{"runbook": def.ID})
		return false, nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
