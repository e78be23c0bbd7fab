package models

import (
	"fmt"
	"sort"
	"strings"
)

// ConfigurationError reports invalid monitor or entity configuration. It is
// fatal to the create/update call and maps to HTTP 400.
type ConfigurationError struct {
	Fields map[string]string
}

// NewConfigurationError creates an error for a single field
func NewConfigurationError(field, problem string) *ConfigurationError {
	return &ConfigurationError{Fields: map[string]string{field: problem}}
}

// Add records another field problem
func (e *ConfigurationError) Add(field, problem string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = problem
}

func (e *ConfigurationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}
