package pattern

import (
	"fmt"
	"path/filepath"
	"strings"
)

// dbPathMetachars would let a crafted config smuggle shell syntax into
// anything that later interpolates the path.
const dbPathMetachars = ";$`&|<>\n\t "

// ValidateDBPath vets an external extractor database path: no shell
// metacharacters, no traversal segments, and never the system's own
// store file.
func ValidateDBPath(path, ownStorePath string) error {
	if path == "" {
		return fmt.Errorf("database path is empty")
	}
	if strings.ContainsAny(path, dbPathMetachars) || strings.Contains(path, "$(") {
		return fmt.Errorf("database path %q contains forbidden characters", path)
	}
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return fmt.Errorf("database path %q contains a traversal segment", path)
		}
	}
	if ownStorePath != "" && filepath.Clean(path) == filepath.Clean(ownStorePath) {
		return fmt.Errorf("database path %q is the system's own store", path)
	}
	return nil
}

// clampLimit bounds a configured row limit to [1, max], substituting
// def when the input is unset or out of range.
func clampLimit(n, def, max int) int {
	if n < 1 || n > max {
		return def
	}
	return n
}
