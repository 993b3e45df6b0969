package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR_NAME} references. Bare $VAR is deliberately
// not expanded so YAML content containing dollar signs survives intact.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with their environment values.
// Unset variables expand to the empty string.
func expandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		return os.Getenv(name)
	})
}
