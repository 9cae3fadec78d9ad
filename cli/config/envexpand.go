package config

import (
	"os"
	"regexp"
)

// envRef matches ${NAME} and ${NAME:-fallback}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv substitutes environment references in input.
//
// ${NAME} becomes the value of NAME, or "" when unset. ${NAME:-fallback}
// becomes fallback when NAME is unset or empty. An unset token therefore
// surfaces later as a missing value (for example a 401 from the backend),
// not as a load error.
func ExpandEnv(input string) string {
	return envRef.ReplaceAllStringFunc(input, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		return m[2]
	})
}

// ReferencedVars lists the variable names input refers to, in order of first
// appearance. Used by `parley config` to show what a file depends on.
func ReferencedVars(input string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range envRef.FindAllStringSubmatch(input, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
