// Package cortex is the shared model router: one place that picks the
// model, applies the fallback chain, and emits per-attempt telemetry
// for every LLM consumer in the process.
package cortex

import (
	"context"
	"errors"
	"strings"
)

// ErrorKind classifies provider failures for fallback decisions.
type ErrorKind string

const (
	ErrTimeout        ErrorKind = "timeout"
	ErrProvider5xx    ErrorKind = "provider_5xx"
	ErrCapacity       ErrorKind = "capacity"
	ErrPolicyOverride ErrorKind = "policy_override"
	ErrUnknown        ErrorKind = "unknown"
)

// ClassifyError maps an error to its kind from standard signatures.
// Pure function: same error text, same kind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "timeout"):
		return ErrTimeout
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "capacity"):
		return ErrCapacity
	case strings.Contains(msg, "policy"),
		strings.Contains(msg, "permission"),
		strings.Contains(msg, "403"):
		return ErrPolicyOverride
	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "internal server error"),
		strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "service unavailable"):
		return ErrProvider5xx
	default:
		return ErrUnknown
	}
}

// Retryable reports whether the kind warrants trying the next model in
// the fallback chain.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrTimeout, ErrProvider5xx, ErrCapacity:
		return true
	default:
		return false
	}
}
