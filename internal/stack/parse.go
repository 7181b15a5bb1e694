package stack

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// interpolateEnvVars replaces ${VAR} patterns with environment variable
// values. ${VAR:-default} falls back to the default when VAR is unset or
// empty.
func interpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		if value := os.Getenv(groups[1]); value != "" {
			return value
		}
		if len(groups) >= 3 {
			return groups[2]
		}
		return ""
	})
}

// Load reads, interpolates, parses and validates a stack file.
func Load(path string) (*Stack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stack file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a stack descriptor from YAML. Environment variables are
// interpolated over the raw bytes before decoding, matching what the
// external orchestrator does with its descriptor files. Unknown fields are
// rejected so typos surface at load time rather than as silently ignored
// configuration.
func Parse(data []byte) (*Stack, error) {
	interpolated := interpolateEnvVars(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolated)))
	dec.KnownFields(true)

	var s Stack
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding stack descriptor: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}
