package rtl

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/heliosarchitect/axon/pkg/atoms"
	"github.com/heliosarchitect/axon/pkg/config"
	"github.com/heliosarchitect/axon/pkg/masking"
	"github.com/heliosarchitect/axon/pkg/metrics"
	"github.com/heliosarchitect/axon/pkg/synapse"
)

// Pipeline is the drain-side of real-time learning: classify, persist,
// propagate per target, then recurrence-check.
type Pipeline struct {
	cfg        *config.RTLConfig
	classifier *Classifier
	failures   *FailureStore
	patcher    *SOPPatcher
	regress    *RegressionGenerator
	atoms      *atoms.Store
	bus        *synapse.Bus
	scrubber   *masking.Scrubber
	sink       *metrics.Sink
	logger     *slog.Logger
}

// PipelineDeps carries the pipeline's collaborators.
type PipelineDeps struct {
	Config     *config.RTLConfig
	Classifier *Classifier
	Failures   *FailureStore
	Patcher    *SOPPatcher
	Regress    *RegressionGenerator
	Atoms      *atoms.Store
	Bus        *synapse.Bus
	Scrubber   *masking.Scrubber
	Sink       *metrics.Sink
}

// NewPipeline assembles the pipeline.
func NewPipeline(d PipelineDeps) *Pipeline {
	return &Pipeline{
		cfg:        d.Config,
		classifier: d.Classifier,
		failures:   d.Failures,
		patcher:    d.Patcher,
		regress:    d.Regress,
		atoms:      d.Atoms,
		bus:        d.Bus,
		scrubber:   d.Scrubber,
		sink:       d.Sink,
		logger:     slog.Default().With("component", "rtl-pipeline"),
	}
}

// Handle processes one detection end to end. It is the queue handler.
func (p *Pipeline) Handle(ctx context.Context, payload DetectionPayload) {
	start := time.Now()

	// Raw tool output and user messages can carry credentials; scrub
	// before anything is persisted or relayed.
	payload.RawInput = p.scrubber.Mask(payload.RawInput)
	payload.FailureDesc = p.scrubber.Mask(payload.FailureDesc)
	payload.Context = p.scrubber.MaskContext(payload.Context)

	cls := p.classifier.Classify(payload)
	f, err := p.failures.Insert(ctx, payload, cls.RootCause)
	if err != nil {
		p.logger.Error("Failed to persist detection", "type", payload.Type, "error", err)
		return
	}
	if err := p.failures.SetStatus(ctx, f.ID, StatusInProgress); err != nil {
		p.logger.Error("Failed to advance failure status", "failure_id", f.ID, "error", err)
		return
	}

	// Targets run sequentially: propagation order is part of the audit.
	committed := 0
	var targetNames []string
	for _, target := range cls.Targets {
		targetNames = append(targetNames, string(target))
		rec, err := p.failures.OpenPropagation(ctx, f.ID, target)
		if err != nil {
			p.logger.Error("Failed to open propagation",
				"failure_id", f.ID, "target", target, "error", err)
			continue
		}
		if err := p.propagate(ctx, f, rec, targetNames); err != nil {
			p.logger.Warn("Propagation failed",
				"failure_id", f.ID, "target", target, "error", err)
		}
		if rec.Status == PropCommitted {
			committed++
		}
		if err := p.failures.ClosePropagation(ctx, rec); err != nil {
			p.logger.Error("Failed to close propagation", "record_id", rec.ID, "error", err)
		}
	}

	final := StatusPropagated
	if committed == 0 {
		final = StatusEscalated
	}
	if err := p.failures.SetStatus(ctx, f.ID, final); err != nil {
		p.logger.Error("Failed to finalize failure status", "failure_id", f.ID, "error", err)
	}

	p.checkRecurrence(ctx, f)

	p.sink.WriteDuration(ctx, "rtl_detection_processed", time.Since(start), map[string]string{
		"type":   string(f.Type),
		"status": string(final),
	})
}

func (p *Pipeline) propagate(ctx context.Context, f *FailureEvent, rec *PropagationRecord, targetsSoFar []string) error {
	switch rec.Type {
	case TargetSOPPatch:
		return p.patcher.Propagate(ctx, f, rec)

	case TargetRegression:
		return p.regress.Propagate(ctx, f, rec)

	case TargetAtom:
		a, err := p.atoms.Append(ctx, atoms.Atom{
			Subject:      fmt.Sprintf("failure:%s:%s", f.Type, f.ShortID()),
			Action:       fmt.Sprintf("triggered by %s in %s", f.RootCause, f.Source),
			Outcome:      fmt.Sprintf("propagated to %s", strings.Join(targetsSoFar, ", ")),
			Consequences: "regression armed",
			Confidence:   0.8,
			Source:       "rtl",
		})
		if err != nil {
			rec.Status = PropFailed
			rec.ErrorDetail = err.Error()
			return err
		}
		rec.TargetFile = a.ID
		rec.Status = PropCommitted
		return nil

	case TargetSynapse:
		priority := synapse.PriorityInfo
		if f.Tier >= 3 {
			priority = synapse.PriorityUrgent
		}
		msg, err := p.bus.Send(ctx,
			fmt.Sprintf("failure learned: %s (%s)", f.RootCause, f.Type),
			fmt.Sprintf("%s\nsource: %s, tier %d", f.FailureDesc, f.Source, f.Tier),
			priority, "rtl:"+f.ID)
		if err != nil {
			rec.Status = PropFailed
			rec.ErrorDetail = err.Error()
			return err
		}
		rec.SynapseMsgID = fmt.Sprintf("%d", msg.ID)
		rec.Status = PropCommitted
		return nil

	case TargetHookPattern:
		// The hook engine lives outside this process: suggest, don't write.
		msg, err := p.bus.Send(ctx,
			fmt.Sprintf("hook pattern suggestion from failure %s", f.ShortID()),
			fmt.Sprintf("root cause %s; consider a pre-flight hook matching: %s",
				f.RootCause, truncate(f.FailureDesc, 200)),
			synapse.PriorityAction, "rtl:"+f.ID)
		if err != nil {
			rec.Status = PropFailed
			rec.ErrorDetail = err.Error()
			return err
		}
		rec.SynapseMsgID = fmt.Sprintf("%d", msg.ID)
		rec.Status = PropPreviewed
		return nil

	case TargetCrossSystem:
		rec.Status = PropSkipped
		rec.ErrorDetail = "no cross-system endpoint configured"
		return nil

	default:
		rec.Status = PropFailed
		rec.ErrorDetail = fmt.Sprintf("unknown target %q", rec.Type)
		return fmt.Errorf("unknown propagation target %q", rec.Type)
	}
}

// checkRecurrence looks for earlier failures with the same root cause;
// a hit means the original propagation didn't stick.
func (p *Pipeline) checkRecurrence(ctx context.Context, f *FailureEvent) {
	if f.RootCause == "" {
		return
	}
	prior, err := p.failures.PriorWithRootCause(ctx, f.RootCause, f.ID, p.cfg.RecurrenceWindow())
	if err != nil {
		p.logger.Error("Recurrence query failed", "failure_id", f.ID, "error", err)
		return
	}
	if len(prior) == 0 {
		return
	}

	if err := p.failures.MarkRecurred(ctx, f.ID); err != nil {
		p.logger.Error("Failed to mark recurrence", "failure_id", f.ID, "error", err)
	}
	p.sink.WriteEvent(ctx, "rtl_recurrence_detected", map[string]string{
		"root_cause": f.RootCause,
	})
	if _, err := p.bus.Send(ctx,
		fmt.Sprintf("recurring failure: %s", f.RootCause),
		fmt.Sprintf("%d prior occurrence(s) within %d days; the earlier fix didn't stick.\nlatest: %s",
			len(prior), p.cfg.RecurrenceWindowDays, f.FailureDesc),
		synapse.PriorityUrgent, "rtl:"+f.ID); err != nil {
		p.logger.Error("Recurrence alert failed", "failure_id", f.ID, "error", err)
	}
}
