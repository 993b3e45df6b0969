package anomaly

import (
	"fmt"
	"strings"

	"github.com/heliosarchitect/axon/pkg/probe"
)

// Rule is one row of the classifier table. The table is the only place
// threshold knowledge lives; Classify itself has no per-source branching.
type Rule struct {
	// SourcePrefix selects readings by source ID prefix ("process:",
	// "disk:") or exact match ("gateway"). "*" matches every source.
	SourcePrefix string

	// Match is the predicate over the reading's data.
	Match func(r probe.Reading) bool

	Type     Type
	Severity Severity

	// Target derives the anomaly target from the reading. Nil uses the
	// source ID.
	Target func(r probe.Reading) string

	// Hint is the suggested runbook ID, empty for none.
	Hint string
}

func (rule Rule) applies(r probe.Reading) bool {
	if rule.SourcePrefix == "*" {
		return true
	}
	if strings.HasSuffix(rule.SourcePrefix, ":") {
		return strings.HasPrefix(r.SourceID, rule.SourcePrefix)
	}
	return r.SourceID == rule.SourcePrefix
}

// Classifier maps readings to zero or more anomalies. It is a pure
// function of its rule table; it never errors and never touches I/O.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a classifier over the given rule table.
func NewClassifier(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify evaluates every applicable rule against the reading.
func (c *Classifier) Classify(r probe.Reading) []Anomaly {
	var out []Anomaly
	for _, rule := range c.rules {
		if !rule.applies(r) {
			continue
		}
		if rule.Match == nil || !rule.Match(r) {
			continue
		}
		target := r.SourceID
		if rule.Target != nil {
			target = rule.Target(r)
		}
		out = append(out, newAnomaly(rule.Type, target, rule.Severity, r.SourceID, rule.Hint, r.Data))
	}
	return out
}

// Has reports whether Classify(r) produces an anomaly of the given type
// and target. Used by the executor's pre/post verification.
func (c *Classifier) Has(r probe.Reading, t Type, targetID string) bool {
	for _, a := range c.Classify(r) {
		if a.Type == t && a.TargetID == targetID {
			return true
		}
	}
	return false
}

// dataBool reads a boolean field, defaulting to def when absent or of the
// wrong type.
func dataBool(r probe.Reading, key string, def bool) bool {
	if v, ok := r.Data[key].(bool); ok {
		return v
	}
	return def
}

// dataFloat reads a numeric field as float64. JSON decoding and probe
// code produce a mix of numeric types.
func dataFloat(r probe.Reading, key string) (float64, bool) {
	switch v := r.Data[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func dataString(r probe.Reading, key string) string {
	if v, ok := r.Data[key].(string); ok {
		return v
	}
	return ""
}

// DefaultRules returns the builtin rule table for the stock probes.
func DefaultRules() []Rule {
	return []Rule{
		{
			SourcePrefix: "process:",
			Match:        func(r probe.Reading) bool { return r.Available && !dataBool(r, "pid_found", true) },
			Type:         TypeProcessDead,
			Severity:     SeverityHigh,
			Target: func(r probe.Reading) string {
				if name := dataString(r, "process"); name != "" {
					return name
				}
				return strings.TrimPrefix(r.SourceID, "process:")
			},
			Hint: "rb-restart-service",
		},
		{
			SourcePrefix: "memory",
			Match: func(r probe.Reading) bool {
				pct, ok := dataFloat(r, "used_pct")
				return r.Available && ok && pct >= 90
			},
			Type:     TypeMemoryPressure,
			Severity: SeverityHigh,
			Target:   func(probe.Reading) string { return "system-memory" },
			Hint:     "rb-reclaim-memory",
		},
		{
			SourcePrefix: "disk:",
			Match: func(r probe.Reading) bool {
				pct, ok := dataFloat(r, "used_pct")
				return r.Available && ok && pct >= 90 && pct < 97
			},
			Type:     TypeDiskPressure,
			Severity: SeverityHigh,
			Target:   func(r probe.Reading) string { return dataString(r, "path") },
			Hint:     "rb-prune-disk",
		},
		{
			SourcePrefix: "disk:",
			Match: func(r probe.Reading) bool {
				pct, ok := dataFloat(r, "used_pct")
				return r.Available && ok && pct >= 97
			},
			Type:     TypeDiskPressure,
			Severity: SeverityCritical,
			Target:   func(r probe.Reading) string { return dataString(r, "path") },
			Hint:     "rb-prune-disk",
		},
		{
			SourcePrefix: "gateway",
			Match: func(r probe.Reading) bool {
				streak, ok := dataFloat(r, "consec_errors")
				return r.Available && !dataBool(r, "reachable", true) && ok && streak >= 3
			},
			Type:     TypeGatewayUnreachable,
			Severity: SeverityHigh,
			Target:   func(probe.Reading) string { return "gateway" },
			Hint:     "rb-reset-gateway",
		},
		{
			SourcePrefix: "gateway",
			Match: func(r probe.Reading) bool {
				lat, ok := dataFloat(r, "latency_ms")
				return r.Available && dataBool(r, "reachable", false) && ok && lat >= 2000
			},
			Type:     TypeGatewayDegraded,
			Severity: SeverityMedium,
			Target:   func(probe.Reading) string { return "gateway" },
		},
		{
			SourcePrefix: "store",
			Match:        func(r probe.Reading) bool { return r.Available && !dataBool(r, "ok", true) },
			Type:         TypeStoreCorruption,
			Severity:     SeverityCritical,
			Target:       func(probe.Reading) string { return "store" },
			Hint:         "rb-reindex-store",
		},
		{
			SourcePrefix: "store",
			Match: func(r probe.Reading) bool {
				return !r.Available && strings.Contains(r.Err, "database is locked")
			},
			Type:     TypeStoreLocked,
			Severity: SeverityHigh,
			Target:   func(probe.Reading) string { return "store" },
		},
		{
			SourcePrefix: "session-file",
			Match: func(r probe.Reading) bool {
				age, ok := dataFloat(r, "age_ms")
				return r.Available && ok && age >= 30*60*1000
			},
			Type:     TypeSessionFileStale,
			Severity: SeverityMedium,
			Target:   func(r probe.Reading) string { return dataString(r, "path") },
		},
		{
			SourcePrefix: "*",
			Match:        func(r probe.Reading) bool { return !r.Available },
			Type:         TypeProbeUnavailable,
			Severity:     SeverityLow,
		},
	}
}

// Describe renders a short human line for logs and bus messages.
func Describe(a Anomaly) string {
	return fmt.Sprintf("%s on %s (%s, source %s)", a.Type, a.TargetID, a.Severity, a.SourceID)
}
