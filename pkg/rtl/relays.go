package rtl

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/heliosarchitect/axon/pkg/config"
)

// Relays are the five detection entry points. All of them end in a
// non-blocking Enqueue; none of them touch the database directly.
type Relays struct {
	queue  *Queue
	cfg    *config.RTLConfig
	logger *slog.Logger

	// lastTool is the binding target for the correction scanner.
	mu       sync.Mutex
	lastTool *toolCall
	now      func() time.Time
}

type toolCall struct {
	Name string
	Args string
	At   time.Time
}

// NewRelays wires the relays to the queue.
func NewRelays(queue *Queue, cfg *config.RTLConfig) *Relays {
	return &Relays{
		queue:  queue,
		cfg:    cfg,
		logger: slog.Default().With("component", "rtl-relays"),
		now:    time.Now,
	}
}

// Reset clears the recent-tool-call binding state. Test isolation hook.
func (r *Relays) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastTool = nil
}

// ToolResult is the tool monitor: every tool invocation reports here,
// successes are remembered for correction binding, failures enqueue.
func (r *Relays) ToolResult(name, args string, exitCode int, errText string) {
	r.mu.Lock()
	r.lastTool = &toolCall{Name: name, Args: args, At: r.now()}
	r.mu.Unlock()

	if exitCode == 0 && errText == "" {
		return
	}
	desc := fmt.Sprintf("tool %s exited %d", name, exitCode)
	if errText != "" {
		desc = fmt.Sprintf("tool %s failed: %s", name, errText)
	}
	r.queue.Enqueue(DetectionPayload{
		Type:   FailureToolError,
		Tier:   1,
		Source: "tool-monitor",
		Context: map[string]any{
			"tool":      name,
			"args":      args,
			"exit_code": exitCode,
		},
		RawInput:    errText,
		FailureDesc: desc,
	})
}

// UserMessage is the correction scanner: user messages arriving within
// the scan window of a tool call are checked for correction keywords,
// with fenced code blocks and quoted lines stripped first.
func (r *Relays) UserMessage(msg string) {
	r.mu.Lock()
	last := r.lastTool
	r.mu.Unlock()
	if last == nil || r.now().Sub(last.At) > r.cfg.CorrectionScanWindow() {
		return
	}

	scannable := stripForScan(msg)
	keyword := ""
	lower := strings.ToLower(scannable)
	for _, kw := range r.cfg.CorrectionKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			keyword = kw
			break
		}
	}
	if keyword == "" {
		return
	}

	r.queue.Enqueue(DetectionPayload{
		Type:   FailureCorrection,
		Tier:   2,
		Source: "correction-scanner",
		Context: map[string]any{
			"keyword":   keyword,
			"tool":      last.Name,
			"tool_args": last.Args,
		},
		RawInput:    msg,
		FailureDesc: fmt.Sprintf("user correction (%q) after tool %s", keyword, last.Name),
	})
}

// HookViolation relays an external SOP hook firing. Always tier 2.
func (r *Relays) HookViolation(rule, detail string, extra map[string]any) {
	ctx := map[string]any{"rule": rule}
	for k, v := range extra {
		ctx[k] = v
	}
	r.queue.Enqueue(DetectionPayload{
		Type:        FailureSOPViol,
		Tier:        2,
		Source:      "hook-relay",
		Context:     ctx,
		FailureDesc: fmt.Sprintf("SOP hook %s fired: %s", rule, detail),
	})
}

// TrustEvent relays a trust demotion. Always tier 3.
func (r *Relays) TrustEvent(desc string, extra map[string]any) {
	r.queue.Enqueue(DetectionPayload{
		Type:        FailureTrustDem,
		Tier:        3,
		Source:      "trust-relay",
		Context:     extra,
		FailureDesc: desc,
	})
}

// PipelineFailure relays a pipeline-stage failure. Always tier 3.
func (r *Relays) PipelineFailure(stage, desc string, extra map[string]any) {
	ctx := map[string]any{"stage": stage}
	for k, v := range extra {
		ctx[k] = v
	}
	r.queue.Enqueue(DetectionPayload{
		Type:        FailurePipeline,
		Tier:        3,
		Source:      "pipeline-relay",
		Context:     ctx,
		FailureDesc: desc,
	})
}

// stripForScan drops fenced code blocks and quoted lines so pasted
// output cannot trip the keyword match.
func stripForScan(msg string) string {
	var out []string
	inFence := false
	for _, line := range strings.Split(msg, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence || strings.HasPrefix(trimmed, ">") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
