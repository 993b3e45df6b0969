package runbook

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/heliosarchitect/axon/pkg/anomaly"
)

// StoreRunner is the slice of the store the reindex runbook needs.
type StoreRunner interface {
	Run(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// BuiltinDeps carries the collaborators of the builtin runbooks.
type BuiltinDeps struct {
	// Run executes external commands. Defaults to ExecCommander.
	Run Commander

	// Store backs rb-reindex-store.
	Store StoreRunner
}

// RegisterBuiltins registers the stock runbooks for the builtin probes.
func RegisterBuiltins(reg *Registry, deps BuiltinDeps) error {
	if deps.Run == nil {
		deps.Run = ExecCommander
	}
	for _, d := range []*Definition{
		restartService(deps.Run),
		pruneDisk(deps.Run),
		resetGateway(deps.Run),
		reclaimMemory(deps.Run),
		reindexStore(deps.Store),
	} {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func restartService(run Commander) *Definition {
	return &Definition{
		ID:                   "rb-restart-service",
		Label:                "Restart dead service",
		AppliesTo:            []anomaly.Type{anomaly.TypeProcessDead},
		AutoApproveWhitelist: true,
		Build: func(a anomaly.Anomaly) []Step {
			name := a.TargetID
			return []Step{
				{
					ID:          "confirm-dead",
					Description: fmt.Sprintf("confirm %s has no running process", name),
					Timeout:     5 * time.Second,
					DryRun:      func() string { return fmt.Sprintf("would run: pgrep -x %s", name) },
					Execute: func(ctx context.Context) StepResult {
						if err := ValidateShellInput(name); err != nil {
							return rejected(name, err)
						}
						out, err := run(ctx, "pgrep", "-x", name)
						if err == nil {
							return StepResult{Status: StepFailed,
								Output: fmt.Sprintf("process is running (pid %s), refusing restart", out)}
						}
						return StepResult{Status: StepSucceeded, Output: "no running process"}
					},
				},
				{
					ID:          "restart-unit",
					Description: fmt.Sprintf("restart user unit %s", name),
					Timeout:     30 * time.Second,
					DryRun: func() string {
						return fmt.Sprintf("would run: systemctl --user restart %s", name)
					},
					Execute: func(ctx context.Context) StepResult {
						if err := ValidateShellInput(name); err != nil {
							return rejected(name, err)
						}
						return runStep(ctx, run, "systemctl", "--user", "restart", name)
					},
				},
				{
					ID:          "confirm-running",
					Description: fmt.Sprintf("confirm %s is back up", name),
					Timeout:     10 * time.Second,
					DryRun:      func() string { return fmt.Sprintf("would run: pgrep -x %s", name) },
					Execute: func(ctx context.Context) StepResult {
						if err := ValidateShellInput(name); err != nil {
							return rejected(name, err)
						}
						return runStep(ctx, run, "pgrep", "-x", name)
					},
				},
			}
		},
	}
}

func pruneDisk(run Commander) *Definition {
	return &Definition{
		ID:                   "rb-prune-disk",
		Label:                "Prune aged logs on a pressured filesystem",
		AppliesTo:            []anomaly.Type{anomaly.TypeDiskPressure},
		AutoApproveWhitelist: true,
		Build: func(a anomaly.Anomaly) []Step {
			path := a.TargetID
			return []Step{
				{
					ID:          "snapshot-usage",
					Description: fmt.Sprintf("record usage of %s before pruning", path),
					Timeout:     5 * time.Second,
					DryRun:      func() string { return fmt.Sprintf("would run: df -h %s", path) },
					Execute: func(ctx context.Context) StepResult {
						if err := ValidateShellInput(path); err != nil {
							return rejected(path, err)
						}
						return runStep(ctx, run, "df", "-h", path)
					},
				},
				{
					ID:          "prune-logs",
					Description: fmt.Sprintf("delete *.log files older than 14 days under %s", path),
					Timeout:     60 * time.Second,
					DryRun: func() string {
						return fmt.Sprintf("would run: find %s -xdev -type f -name '*.log' -mtime +14 -delete", path)
					},
					Execute: func(ctx context.Context) StepResult {
						if err := ValidateShellInput(path); err != nil {
							return rejected(path, err)
						}
						return runStep(ctx, run, "find", path, "-xdev", "-type", "f",
							"-name", "*.log", "-mtime", "+14", "-delete")
					},
				},
			}
		},
	}
}

func resetGateway(run Commander) *Definition {
	return &Definition{
		ID:                   "rb-reset-gateway",
		Label:                "Restart the model gateway",
		AppliesTo:            []anomaly.Type{anomaly.TypeGatewayUnreachable},
		AutoApproveWhitelist: true,
		Build: func(anomaly.Anomaly) []Step {
			const unit = "augur-gateway"
			return []Step{
				{
					ID:          "restart-gateway",
					Description: "restart the gateway user unit",
					Timeout:     30 * time.Second,
					DryRun: func() string {
						return "would run: systemctl --user restart " + unit
					},
					Execute: func(ctx context.Context) StepResult {
						return runStep(ctx, run, "systemctl", "--user", "restart", unit)
					},
				},
			}
		},
	}
}

func reclaimMemory(run Commander) *Definition {
	return &Definition{
		ID:                   "rb-reclaim-memory",
		Label:                "Report and reclaim memory pressure",
		AppliesTo:            []anomaly.Type{anomaly.TypeMemoryPressure},
		AutoApproveWhitelist: false,
		Build: func(anomaly.Anomaly) []Step {
			return []Step{
				{
					ID:          "top-consumers",
					Description: "record the largest resident processes",
					Timeout:     5 * time.Second,
					DryRun:      func() string { return "would run: ps axo pid,rss,comm --sort=-rss" },
					Execute: func(ctx context.Context) StepResult {
						return runStep(ctx, run, "ps", "axo", "pid,rss,comm", "--sort=-rss")
					},
				},
				{
					ID:          "restart-executor",
					Description: "restart the executor unit to release heap",
					Timeout:     30 * time.Second,
					DryRun: func() string {
						return "would run: systemctl --user restart augur-executor"
					},
					Execute: func(ctx context.Context) StepResult {
						return runStep(ctx, run, "systemctl", "--user", "restart", "augur-executor")
					},
				},
			}
		},
	}
}

func reindexStore(db StoreRunner) *Definition {
	return &Definition{
		ID:                   "rb-reindex-store",
		Label:                "Checkpoint and reindex the embedded store",
		AppliesTo:            []anomaly.Type{anomaly.TypeStoreCorruption, anomaly.TypeStoreLocked},
		AutoApproveWhitelist: false,
		Build: func(anomaly.Anomaly) []Step {
			return []Step{
				{
					ID:          "wal-checkpoint",
					Description: "truncate the WAL",
					Timeout:     30 * time.Second,
					DryRun:      func() string { return "would run: PRAGMA wal_checkpoint(TRUNCATE)" },
					Execute: func(ctx context.Context) StepResult {
						if db == nil {
							return StepResult{Status: StepFailed, Output: "store not wired"}
						}
						if _, err := db.Run(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
							return StepResult{Status: StepFailed, Output: err.Error()}
						}
						return StepResult{Status: StepSucceeded, Output: "checkpoint done"}
					},
				},
				{
					ID:          "reindex",
					Description: "rebuild all indexes",
					Timeout:     2 * time.Minute,
					DryRun:      func() string { return "would run: REINDEX" },
					Execute: func(ctx context.Context) StepResult {
						if db == nil {
							return StepResult{Status: StepFailed, Output: "store not wired"}
						}
						if _, err := db.Run(ctx, "REINDEX"); err != nil {
							return StepResult{Status: StepFailed, Output: err.Error()}
						}
						return StepResult{Status: StepSucceeded, Output: "reindex done"}
					},
				},
			}
		},
	}
}
