package probe

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// processNamePattern rejects process names that could smuggle shell
// syntax. Exec uses list-form argv, so this is defense at the boundary,
// not escaping.
var processNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ProcessProbe checks that a named process is alive via pgrep.
type ProcessProbe struct {
	MockSupport
	base
	processName string
	timeout     time.Duration
}

// NewProcessProbe creates a liveness probe for processName. The source ID
// is "process:<name>"; the anomaly target is the bare name.
func NewProcessProbe(processName string, interval time.Duration) (*ProcessProbe, error) {
	if !processNamePattern.MatchString(processName) {
		return nil, fmt.Errorf("invalid process name %q", processName)
	}
	return &ProcessProbe{
		base:        base{sourceID: "process:" + processName, interval: interval},
		processName: processName,
		timeout:     5 * time.Second,
	}, nil
}

// Poll runs pgrep -x <name>. Exit code 1 (no match) is a valid reading
// with pid_found=false; other failures mark the probe unavailable.
func (p *ProcessProbe) Poll(ctx context.Context) Reading {
	if r, ok := p.mockReading(p.sourceID); ok {
		return r
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "pgrep", "-x", p.processName).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return available(p.sourceID, map[string]any{
				"process":   p.processName,
				"pid_found": false,
			})
		}
		return unavailable(p.sourceID, fmt.Errorf("pgrep %s: %w", p.processName, err))
	}

	pids := strings.Fields(strings.TrimSpace(string(out)))
	data := map[string]any{
		"process":   p.processName,
		"pid_found": len(pids) > 0,
	}
	if len(pids) > 0 {
		if pid, err := strconv.Atoi(pids[0]); err == nil {
			data["pid"] = pid
		}
	}
	return available(p.sourceID, data)
}
