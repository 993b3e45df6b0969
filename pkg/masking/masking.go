// Package masking scrubs credential material from text before it is
// persisted or relayed. Detection payloads carry raw tool output and
// user messages; those routinely contain tokens that must not land in
// the store or on the message bus.
package masking

import (
	"log/slog"
	"regexp"
)

// MaskedValue replaces every pattern hit.
const MaskedValue = "***MASKED***"

// builtinPatterns are always active. Order matters: broader key=value
// patterns run after the specific token formats so a specific mask is
// not split by a generic one.
var builtinPatterns = []struct {
	name    string
	pattern string
}{
	{"anthropic_key", `sk-ant-[A-Za-z0-9_-]{10,}`},
	{"openai_key", `sk-[A-Za-z0-9]{20,}`},
	{"github_token", `gh[pousr]_[A-Za-z0-9]{20,}`},
	{"bearer_token", `(?i)bearer\s+[A-Za-z0-9._~+/-]{16,}=*`},
	{"basic_auth_url", `://[^/\s:@]+:[^/\s:@]+@`},
	{"private_key_block", `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`},
	{"keyvalue_secret", `(?i)\b(password|passwd|secret|api[_-]?key|access[_-]?token|auth[_-]?token)\b\s*[:=]\s*\S+`},
}

// compiledPattern is one active scrub rule.
type compiledPattern struct {
	name  string
	regex *regexp.Regexp
}

// Scrubber applies the built-in patterns plus any custom ones.
type Scrubber struct {
	patterns []compiledPattern
}

// NewScrubber compiles the built-in set plus custom name->pattern
// entries. Invalid custom patterns are logged and skipped.
func NewScrubber(custom map[string]string) *Scrubber {
	s := &Scrubber{}
	for _, p := range builtinPatterns {
		// Built-ins are tested; MustCompile failures are programmer errors.
		s.patterns = append(s.patterns, compiledPattern{
			name:  p.name,
			regex: regexp.MustCompile(p.pattern),
		})
	}
	for name, raw := range custom {
		re, err := regexp.Compile(raw)
		if err != nil {
			slog.Error("Failed to compile custom masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, compiledPattern{name: name, regex: re})
	}
	return s
}

// Mask replaces every pattern hit in text with MaskedValue. Nil
// receivers pass text through unchanged.
func (s *Scrubber) Mask(text string) string {
	if s == nil || text == "" {
		return text
	}
	for _, p := range s.patterns {
		switch p.name {
		case "basic_auth_url":
			text = p.regex.ReplaceAllString(text, "://"+MaskedValue+"@")
		default:
			text = p.regex.ReplaceAllString(text, MaskedValue)
		}
	}
	return text
}

// MaskContext scrubs the string values of a context map in place and
// returns it. Nested structures are left alone; relays only put flat
// string details in context.
func (s *Scrubber) MaskContext(ctx map[string]any) map[string]any {
	if s == nil || ctx == nil {
		return ctx
	}
	for k, v := range ctx {
		if str, ok := v.(string); ok {
			ctx[k] = s.Mask(str)
		}
	}
	return ctx
}
