package rtl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/heliosarchitect/axon/pkg/config"
	"github.com/heliosarchitect/axon/pkg/synapse"
)

// rootCauseFiles maps root causes to their SOP file. Unknown causes
// fall through to corrections.md.
var rootCauseFiles = map[string]string{
	"missing-path":             "path-handling.md",
	"path-confusion":           "path-handling.md",
	"insufficient-permissions": "permissions.md",
	"operation-timeout":        "timeouts.md",
	"sop-violation":            "hooks.md",
	"trust-boundary":           "trust-boundaries.md",
	"pipeline-failure":         "pipelines.md",
}

const sopFallbackFile = "corrections.md"

// CmdRunner runs an external command in a directory. List-form args
// only; nothing here passes through a shell.
type CmdRunner func(ctx context.Context, dir, name string, args ...string) (string, error)

// ExecRunner is the os/exec-backed CmdRunner.
func ExecRunner(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// SOPPatcher appends lessons to SOP files. Tier 1-2 patches are
// auto-committed; tier 3 patches are written but held for operator
// approval via a bus preview.
type SOPPatcher struct {
	cfg    *config.RTLConfig
	bus    *synapse.Bus
	run    CmdRunner
	logger *slog.Logger
}

// NewSOPPatcher creates the patcher. run may be nil (ExecRunner).
func NewSOPPatcher(cfg *config.RTLConfig, bus *synapse.Bus, run CmdRunner) *SOPPatcher {
	if run == nil {
		run = ExecRunner
	}
	return &SOPPatcher{
		cfg:    cfg,
		bus:    bus,
		run:    run,
		logger: slog.Default().With("component", "sop-patcher"),
	}
}

// Propagate appends the failure's lesson to the resolved SOP file and
// fills the propagation record in place.
func (p *SOPPatcher) Propagate(ctx context.Context, f *FailureEvent, rec *PropagationRecord) error {
	target, err := p.resolveTarget(f)
	if err != nil {
		rec.Status = PropFailed
		rec.ErrorDetail = err.Error()
		return err
	}
	rec.TargetFile = target

	entry := renderEntry(f)
	written, err := appendOnce(target, f.ShortID(), entry)
	if err != nil {
		rec.Status = PropFailed
		rec.ErrorDetail = err.Error()
		return err
	}
	if !written {
		rec.Status = PropSkipped
		rec.ErrorDetail = "entry already present"
		return nil
	}
	rec.DiffPreview = entry

	if f.Tier >= 3 {
		// No silent writes at tier 3: hold the commit, post the diff.
		msg, err := p.bus.Send(ctx,
			fmt.Sprintf("SOP patch preview for failure %s", f.ShortID()),
			fmt.Sprintf("target: %s\n\n%s\napprove with `axon rtl approve %s` or dismiss within %s",
				target, entry, f.ID, p.cfg.PreviewTTL()),
			synapse.PriorityAction,
			"rtl:"+f.ID)
		if err != nil {
			rec.Status = PropFailed
			rec.ErrorDetail = err.Error()
			return err
		}
		rec.SynapseMsgID = fmt.Sprintf("%d", msg.ID)
		rec.Status = PropPreviewed
		return nil
	}

	sha, err := p.autoCommit(ctx, target, f)
	if err != nil {
		// Commit failure is non-fatal: the lesson is on disk.
		p.logger.Warn("SOP auto-commit failed", "target", target, "error", err)
		rec.ErrorDetail = fmt.Sprintf("commit failed: %v", err)
	}
	rec.CommitSHA = sha
	rec.Status = PropCommitted
	return nil
}

// resolveTarget picks the SOP file: context override, root-cause table,
// then the fallback. Every path must land inside the SOP directory.
func (p *SOPPatcher) resolveTarget(f *FailureEvent) (string, error) {
	name := ""
	if v, ok := f.Context["sop_file"].(string); ok && v != "" {
		name = v
	} else if v, ok := rootCauseFiles[f.RootCause]; ok {
		name = v
	} else {
		name = sopFallbackFile
	}

	root, err := filepath.Abs(p.cfg.SOPDirectory)
	if err != nil {
		return "", fmt.Errorf("resolve sop directory: %w", err)
	}
	resolved := name
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("sop target %q escapes %q", name, root)
	}
	return resolved, nil
}

// renderEntry is the dated, ID-locked SOP entry.
func renderEntry(f *FailureEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n## %s — failure %s (%s)\n",
		time.Now().UTC().Format("2006-01-02"), f.ShortID(), f.RootCause)
	fmt.Fprintf(&b, "- what happened: %s\n", f.FailureDesc)
	fmt.Fprintf(&b, "- source: %s (tier %d)\n", f.Source, f.Tier)
	if f.RawInput != "" {
		fmt.Fprintf(&b, "- raw: %s\n", truncate(f.RawInput, 300))
	}
	b.WriteString("- lesson: avoid repeating this; see the linked regression stub.\n")
	return b.String()
}

// appendOnce appends the entry unless the file already carries an entry
// for this failure ID. Reports whether a write happened.
func appendOnce(path, shortID, entry string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create sop directory: %w", err)
	}
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("read sop file: %w", err)
	}
	if strings.Contains(string(existing), "failure "+shortID) {
		return false, nil
	}

	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("open sop file: %w", err)
	}
	defer fh.Close()
	if _, err := fh.WriteString(entry); err != nil {
		return false, fmt.Errorf("append sop entry: %w", err)
	}
	return true, nil
}

// autoCommit stages and commits the patched file, returning the new
// HEAD sha.
func (p *SOPPatcher) autoCommit(ctx context.Context, target string, f *FailureEvent) (string, error) {
	dir := filepath.Dir(target)
	if _, err := p.run(ctx, dir, "git", "add", filepath.Base(target)); err != nil {
		return "", err
	}
	msg := fmt.Sprintf("sop: record %s lesson from failure %s", f.RootCause, f.ShortID())
	if _, err := p.run(ctx, dir, "git", "commit", "-m", msg); err != nil {
		return "", err
	}
	return p.run(ctx, dir, "git", "rev-parse", "HEAD")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
