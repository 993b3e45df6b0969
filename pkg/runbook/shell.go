package runbook

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ValidateShellInput rejects inputs that could smuggle shell syntax or
// traverse paths when interpolated into a step's external command. The
// check runs before any invocation.
func ValidateShellInput(input string) error {
	if input == "" {
		return fmt.Errorf("empty input")
	}
	for _, bad := range []string{";", "$(", "`", "&", "|", ">", "<", "\n"} {
		if strings.Contains(input, bad) {
			return fmt.Errorf("input contains %q", bad)
		}
	}
	if strings.Contains(input, "..") {
		return fmt.Errorf("input contains path traversal")
	}
	return nil
}

// rejected renders the validation failure as a step result. The output
// prefix is load-bearing: callers and tests key on "Rejected".
func rejected(input string, err error) StepResult {
	return StepResult{
		Status: StepFailed,
		Output: fmt.Sprintf("Rejected unsafe input %q: %v", input, err),
	}
}

// Commander runs an external command and returns its combined output.
// Injected into the builtin runbooks so tests never shell out.
type Commander func(ctx context.Context, name string, args ...string) (string, error)

// ExecCommander shells out via os/exec, honoring ctx cancellation.
func ExecCommander(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// runStep wraps a Commander call as a step result.
func runStep(ctx context.Context, run Commander, name string, args ...string) StepResult {
	out, err := run(ctx, name, args...)
	out = strings.TrimSpace(out)
	if err != nil {
		return StepResult{Status: StepFailed, Output: fmt.Sprintf("%s: %v", out, err)}
	}
	return StepResult{Status: StepSucceeded, Output: out}
}
