package cortex

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/heliosarchitect/axon/pkg/config"
	"github.com/heliosarchitect/axon/pkg/metrics"
)

// Request is one completion request from a consumer.
type Request struct {
	// Task selects a task policy ("distill", "summarize").
	Task string

	// ModelOverride wins over every other selection source.
	ModelOverride string

	System    string
	Prompt    string
	MaxTokens int
}

// Response is a completed attempt.
type Response struct {
	Model     string
	Text      string
	TokensIn  int
	TokensOut int
}

// Client is the provider adapter the router drives.
type Client interface {
	Complete(ctx context.Context, model string, req Request) (*Response, error)
}

// RouteType records where the selected model came from.
type RouteType string

const (
	RouteOverride   RouteType = "override"
	RouteTaskPolicy RouteType = "task_policy"
	RouteDefault    RouteType = "default"
	RouteFallback   RouteType = "fallback"
)

// Router applies the selection chain and the bounded fallback walk.
type Router struct {
	cfg    *config.CortexConfig
	client Client
	sink   *metrics.Sink
	logger *slog.Logger
}

// NewRouter wires the router over a provider client.
func NewRouter(cfg *config.CortexConfig, client Client, sink *metrics.Sink) *Router {
	return &Router{
		cfg:    cfg,
		client: client,
		sink:   sink,
		logger: slog.Default().With("component", "cortex-router"),
	}
}

// candidate pairs a model with how it was selected.
type candidate struct {
	model string
	route RouteType
}

// candidates builds the ordered attempt list: override, task policy,
// default, then fallbacks, deduplicated.
func (r *Router) candidates(req Request) []candidate {
	var out []candidate
	seen := map[string]bool{}
	add := func(model string, route RouteType) {
		if model == "" || seen[model] {
			return
		}
		seen[model] = true
		out = append(out, candidate{model: model, route: route})
	}
	add(req.ModelOverride, RouteOverride)
	add(r.cfg.TaskPolicies[req.Task], RouteTaskPolicy)
	add(r.cfg.DefaultModel, RouteDefault)
	for _, m := range r.cfg.FallbackModels {
		add(m, RouteFallback)
	}
	return out
}

// Complete walks the candidate chain within the attempt budget. Every
// attempt fires a telemetry event whether it succeeds or not.
func (r *Router) Complete(ctx context.Context, req Request) (*Response, error) {
	chain := r.candidates(req)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no model configured")
	}

	budget := r.cfg.MaxAttempts
	if budget <= 0 {
		budget = 1
	}

	var lastErr error
	fallbackReason := ""
	for i, c := range chain {
		if i >= budget {
			break
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
		start := time.Now()
		resp, err := r.client.Complete(attemptCtx, c.model, req)
		cancel()
		elapsed := time.Since(start)

		r.emit(ctx, c, req.Task, resp, elapsed, err, fallbackReason)

		if err == nil {
			return resp, nil
		}
		lastErr = err
		kind := ClassifyError(err)
		fallbackReason = string(kind)
		r.logger.Warn("Model attempt failed",
			"model", c.model, "route", c.route, "kind", kind, "error", err)
		if !kind.Retryable() {
			return nil, fmt.Errorf("model %s failed (%s): %w", c.model, kind, err)
		}
	}
	return nil, fmt.Errorf("all model attempts exhausted: %w", lastErr)
}

func (r *Router) emit(ctx context.Context, c candidate, task string, resp *Response, elapsed time.Duration, err error, fallbackReason string) {
	labels := map[string]string{
		"selected_model":  c.model,
		"route_type":      string(c.route),
		"task":            task,
		"success":         fmt.Sprintf("%t", err == nil),
		"fallback_reason": fallbackReason,
	}
	if resp != nil {
		labels["tokens_in"] = fmt.Sprintf("%d", resp.TokensIn)
		labels["tokens_out"] = fmt.Sprintf("%d", resp.TokensOut)
	}
	r.sink.WriteDuration(ctx, "cortex_attempt", elapsed, labels)
}
