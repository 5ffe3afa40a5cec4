package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/morezero/ws-dispatch/pkg/schema"
	"github.com/morezero/ws-dispatch/pkg/semver"
)

const logPrefix = "catalog:loader"

// HealthReportID is the $id of the shared schema describing rpc.health results.
const HealthReportID = "wsdispatch://schemas/health-report"

// ErrInvalidEntry is returned for catalog entries without an id or with a bad version.
var ErrInvalidEntry = errors.New("invalid catalog entry")

// DefaultPaths are tried after any explicit paths.
var DefaultPaths = []string{"config/schemas.yaml", "config/schemas.json", "schemas.yaml", "schemas.json"}

// LoadCatalog loads a catalog from the first readable path. Explicit paths
// are tried before DefaultPaths. When nothing can be read the default
// catalog is returned.
func LoadCatalog(paths ...string) (*Catalog, error) {
	all := make([]string, 0, len(paths)+len(DefaultPaths))
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	all = append(all, DefaultPaths...)

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		cat, err := Parse(p, data)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse catalog file %s: %v", logPrefix, p, err))
			continue
		}

		slog.Info(fmt.Sprintf("%s - Loaded %d shared schemas from %s", logPrefix, len(cat.Schemas), p))
		return cat, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default schema catalog", logPrefix))
	return GetDefaultCatalog(), nil
}

// LoadFile loads exactly one catalog file and fails when it is missing or invalid.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read %s: %w", logPrefix, path, err)
	}
	return Parse(path, data)
}

// Parse decodes catalog data. Files ending in .yaml or .yml are read as
// YAML, everything else as JSON.
func Parse(name string, data []byte) (*Catalog, error) {
	var cat Catalog
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cat); err != nil {
			return nil, fmt.Errorf("%s - yaml: %w", logPrefix, err)
		}
	default:
		if err := json.Unmarshal(data, &cat); err != nil {
			return nil, fmt.Errorf("%s - json: %w", logPrefix, err)
		}
	}
	if err := cat.normalize(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// normalize validates entries, canonicalizes versions and converts YAML
// values to their JSON forms.
func (c *Catalog) normalize() error {
	for i := range c.Schemas {
		e := &c.Schemas[i]
		e.ID = strings.TrimSuffix(strings.TrimSpace(e.ID), "#")
		if e.ID == "" {
			return fmt.Errorf("%s - schemas[%d]: missing id: %w", logPrefix, i, ErrInvalidEntry)
		}
		if e.Version == "" {
			e.Version = "1.0.0"
		}
		v, err := semver.ParseVersion(e.Version)
		if err != nil {
			return fmt.Errorf("%s - schemas[%d] %s: %v: %w", logPrefix, i, e.ID, err, ErrInvalidEntry)
		}
		e.Version = v
		if e.Status == "" {
			e.Status = semver.StatusActive
		}

		normalized, err := schema.Normalize(e.Schema)
		if err != nil {
			return fmt.Errorf("%s - schemas[%d] %s: %w", logPrefix, i, e.ID, err)
		}
		m, ok := normalized.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%s - schemas[%d] %s: schema must be an object: %w", logPrefix, i, e.ID, ErrInvalidEntry)
		}
		m["$id"] = e.ID
		e.Schema = schema.Descriptor(m)
	}
	return nil
}

// Select returns, for every id, the schema of the highest version that
// satisfies constraint. Ids listed in exempt fall back to their highest
// version when no version satisfies constraint.
func (c *Catalog) Select(constraint string, exempt ...string) ([]schema.Descriptor, error) {
	records := make([]semver.VersionRecord, 0, len(c.Schemas))
	for _, e := range c.Schemas {
		records = append(records, semver.VersionRecord{ID: e.ID, Version: e.Version, Status: e.Status})
	}
	chosen, err := semver.ResolvePerID(records, constraint)
	if err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}

	if len(exempt) > 0 {
		var missing []semver.VersionRecord
		for _, rec := range records {
			if _, ok := chosen[rec.ID]; !ok && slices.Contains(exempt, rec.ID) {
				missing = append(missing, rec)
			}
		}
		fallback, err := semver.ResolvePerID(missing, "")
		if err != nil {
			return nil, fmt.Errorf("%s - %w", logPrefix, err)
		}
		for id, rec := range fallback {
			slog.Info(fmt.Sprintf("%s - %s is exempt from %q, using %s", logPrefix, id, constraint, rec.Version))
			chosen[id] = rec
		}
	}

	out := make([]schema.Descriptor, 0, len(chosen))
	for _, e := range c.Schemas {
		if rec, ok := chosen[e.ID]; ok && rec.Version == e.Version {
			out = append(out, e.Schema)
			delete(chosen, e.ID)
		}
	}
	return out, nil
}

// IDs returns the distinct schema ids in catalog order.
func (c *Catalog) IDs() []string {
	var ids []string
	for _, e := range c.Schemas {
		if !slices.Contains(ids, e.ID) {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// GetDefaultCatalog returns the embedded fallback catalog. It holds the
// shared schemas used by the builtin methods.
func GetDefaultCatalog() *Catalog {
	return &Catalog{
		Name:    "ws-dispatch-default",
		Version: "1.0.0",
		Schemas: []Entry{
			{
				ID:      HealthReportID,
				Version: "1.0.0",
				Status:  semver.StatusActive,
				Schema: schema.Descriptor{
					"$id":  HealthReportID,
					"type": "object",
					"properties": map[string]interface{}{
						"status": map[string]interface{}{
							"type": "string",
							"enum": []interface{}{"healthy", "degraded", "unhealthy"},
						},
						"checks": map[string]interface{}{
							"type": "object",
							"additionalProperties": map[string]interface{}{
								"type": "string",
							},
						},
						"uptimeSeconds": map[string]interface{}{"type": "integer", "minimum": 0},
						"timestamp":     map[string]interface{}{"type": "string", "format": "date-time"},
					},
					"required": []interface{}{"status", "checks", "timestamp"},
				},
			},
		},
	}
}

// MergeCatalogs returns base with the entries of override added. An entry
// with the same id and version as one in base replaces it.
func MergeCatalogs(base, override *Catalog) *Catalog {
	merged := *base
	merged.Schemas = make([]Entry, 0, len(base.Schemas)+len(override.Schemas))

	index := make(map[string]int)
	for _, e := range base.Schemas {
		index[e.ID+"@"+e.Version] = len(merged.Schemas)
		merged.Schemas = append(merged.Schemas, e)
	}
	for _, e := range override.Schemas {
		key := e.ID + "@" + e.Version
		if i, ok := index[key]; ok {
			merged.Schemas[i] = e
			continue
		}
		index[key] = len(merged.Schemas)
		merged.Schemas = append(merged.Schemas, e)
	}

	if override.Name != "" {
		merged.Name = override.Name
	}
	if override.Version != "" {
		merged.Version = override.Version
	}
	return &merged
}
