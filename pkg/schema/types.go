// Package schema compiles JSON-Schema descriptors into validation routines that
// coerce scalar types, fill defaults and strip undeclared properties.
package schema

import (
	"strings"
)

// Descriptor is a JSON-Schema-like document. A nil Descriptor accepts any value.
type Descriptor map[string]interface{}

// Pair holds the request and response descriptors declared for one method.
type Pair struct {
	Request  Descriptor `json:"request" yaml:"request"`
	Response Descriptor `json:"response" yaml:"response"`
}

// Issue is a single violation found during validation.
type Issue struct {
	InstancePath string                 `json:"instancePath"`
	SchemaPath   string                 `json:"schemaPath"`
	Keyword      string                 `json:"keyword"`
	Params       map[string]interface{} `json:"params,omitempty"`
	Message      string                 `json:"message"`
}

func (i Issue) String() string {
	return "data" + i.InstancePath + " " + i.Message
}

// Result is the outcome of validating one value.
type Result struct {
	Valid  bool        `json:"valid"`
	Data   interface{} `json:"data,omitempty"`
	Errors []Issue     `json:"errors,omitempty"`
}

// Summarize renders issues as a single line, without echoing instance values.
func Summarize(issues []Issue) string {
	if len(issues) == 0 {
		return "No errors"
	}
	parts := make([]string, 0, len(issues))
	for _, is := range issues {
		parts = append(parts, is.String())
	}
	return strings.Join(parts, ", ")
}
