package config

import "strings"

// ConfigurationError reports every missing or invalid setting at once so an
// operator can fix the environment in a single pass.
type ConfigurationError struct {
	Keys []string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: missing or invalid settings: " + strings.Join(e.Keys, ", ")
}
