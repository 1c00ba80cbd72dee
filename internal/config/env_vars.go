package config

import (
	"fmt"
	"regexp"
	"strings"
)

var envRegex = regexp.MustCompile(`\$\{([A-Za-z_][0-9A-Za-z_.]*)(:[^}]*)?\}`)

// ErrMissingEnvVars is returned when a config references environment variables
// that are not set and have no default.
type ErrMissingEnvVars struct {
	Variables []string

	// The config with every missing variable replaced by an empty string.
	BestAttempt []byte
}

func (e *ErrMissingEnvVars) Error() string {
	return fmt.Sprintf("required environment variables were not set: %v", e.Variables)
}

// ReplaceEnvVariables replaces patterns of the form ${FOO} and ${FOO:bar}
// within a blob, where FOO is an environment variable name and bar a default
// used when the variable is empty or unset. Newlines within values are escaped
// so that they survive inside quoted YAML strings.
func ReplaceEnvVariables(in []byte, lookupFn func(string) (string, bool)) ([]byte, error) {
	var missing []string
	seen := map[string]struct{}{}

	out := envRegex.ReplaceAllFunc(in, func(match []byte) []byte {
		groups := envRegex.FindSubmatch(match)
		name := string(groups[1])

		value, ok := lookupFn(name)
		if len(groups[2]) > 0 {
			if value == "" {
				value = string(groups[2][1:])
			}
		} else if !ok {
			if _, exists := seen[name]; !exists {
				seen[name] = struct{}{}
				missing = append(missing, name)
			}
		}
		return []byte(strings.ReplaceAll(value, "\n", "\\n"))
	})

	if len(missing) > 0 {
		return nil, &ErrMissingEnvVars{Variables: missing, BestAttempt: out}
	}
	return out, nil
}
