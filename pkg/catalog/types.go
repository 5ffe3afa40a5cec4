// Package catalog loads shared JSON schemas from a JSON or YAML catalog file.
package catalog

import "github.com/morezero/ws-dispatch/pkg/schema"

// Entry is one version of a shared schema. The schema's "$id" is set to ID
// when loaded.
type Entry struct {
	ID      string            `json:"id" yaml:"id"`
	Version string            `json:"version" yaml:"version"`
	Status  string            `json:"status,omitempty" yaml:"status,omitempty"`
	Schema  schema.Descriptor `json:"schema" yaml:"schema"`
}

// Catalog is the root of a catalog file.
type Catalog struct {
	Name    string  `json:"name" yaml:"name"`
	Version string  `json:"version" yaml:"version"`
	Schemas []Entry `json:"schemas" yaml:"schemas"`
}
