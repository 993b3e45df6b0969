package rtl

import "regexp"

// Classification is the classifier's verdict for one detection.
type Classification struct {
	RootCause string
	Targets   []TargetType
}

// ClassRule matches (failure type, description regex) and assigns a
// root cause plus propagation targets.
type ClassRule struct {
	Type    FailureType
	Desc    *regexp.Regexp
	Cause   string
	Targets []TargetType
}

// Classifier maps detections to root causes via its rule table. The
// final catch-all guarantees every detection classifies.
type Classifier struct {
	rules []ClassRule
}

// NewClassifier builds a classifier over the rule table; a catch-all
// is appended if the table has none.
func NewClassifier(rules []ClassRule) *Classifier {
	hasCatchAll := false
	for _, r := range rules {
		if r.Type == "" && r.Desc == nil {
			hasCatchAll = true
		}
	}
	if !hasCatchAll {
		rules = append(rules, ClassRule{
			Cause:   "unclassified",
			Targets: []TargetType{TargetSynapse},
		})
	}
	return &Classifier{rules: rules}
}

// Classify returns the first matching rule's verdict.
func (c *Classifier) Classify(p DetectionPayload) Classification {
	for _, r := range c.rules {
		if r.Type != "" && r.Type != p.Type {
			continue
		}
		if r.Desc != nil && !r.Desc.MatchString(p.FailureDesc) {
			continue
		}
		return Classification{RootCause: r.Cause, Targets: r.Targets}
	}
	// Unreachable: NewClassifier guarantees a catch-all.
	return Classification{RootCause: "unclassified", Targets: []TargetType{TargetSynapse}}
}

// DefaultClassRules returns the builtin classification table.
func DefaultClassRules() []ClassRule {
	return []ClassRule{
		{
			Type:    FailureToolError,
			Desc:    regexp.MustCompile(`(?i)(no such file|not found|enoent)`),
			Cause:   "missing-path",
			Targets: []TargetType{TargetSOPPatch, TargetRegression, TargetAtom},
		},
		{
			Type:    FailureToolError,
			Desc:    regexp.MustCompile(`(?i)(permission denied|eacces|eperm)`),
			Cause:   "insufficient-permissions",
			Targets: []TargetType{TargetSOPPatch, TargetAtom},
		},
		{
			Type:    FailureToolError,
			Desc:    regexp.MustCompile(`(?i)(timed? ?out|deadline exceeded)`),
			Cause:   "operation-timeout",
			Targets: []TargetType{TargetSOPPatch, TargetAtom},
		},
		{
			Type:    FailureToolError,
			Cause:   "tool-failure",
			Targets: []TargetType{TargetSOPPatch, TargetRegression, TargetAtom, TargetSynapse},
		},
		{
			Type:    FailureCorrection,
			Desc:    regexp.MustCompile(`(?i)(wrong (path|file|dir))`),
			Cause:   "path-confusion",
			Targets: []TargetType{TargetSOPPatch, TargetAtom},
		},
		{
			Type:    FailureCorrection,
			Cause:   "user-correction",
			Targets: []TargetType{TargetSOPPatch, TargetAtom, TargetSynapse},
		},
		{
			Type:    FailureSOPViol,
			Cause:   "sop-violation",
			Targets: []TargetType{TargetSOPPatch, TargetHookPattern, TargetAtom},
		},
		{
			Type:    FailureTrustDem,
			Cause:   "trust-boundary",
			Targets: []TargetType{TargetSOPPatch, TargetAtom, TargetSynapse},
		},
		{
			Type:    FailurePipeline,
			Cause:   "pipeline-failure",
			Targets: []TargetType{TargetSOPPatch, TargetRegression, TargetSynapse},
		},
	}
}
