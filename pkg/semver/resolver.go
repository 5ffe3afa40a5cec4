package semver

import (
	"fmt"
	"log/slog"
	"sort"

	masterminds "github.com/Masterminds/semver/v3"
)

const resolverLogPrefix = "semver:resolver"

// Status values for stored versions.
const (
	StatusActive     = "active"
	StatusDeprecated = "deprecated"
	StatusDisabled   = "disabled"
)

// VersionRecord is one stored version of a shared schema.
type VersionRecord struct {
	ID      string
	Version string
	Status  string // "active", "deprecated", "disabled"
}

// ResolveVersionParams holds parameters for ResolveVersion.
type ResolveVersionParams struct {
	Versions []VersionRecord
	// Constraint is a SemVer range, a bare major or empty (any).
	Constraint        string
	IncludeDeprecated bool
}

// ResolveVersion returns the highest version satisfying the constraint.
// Disabled versions are never selected. Active versions win over deprecated
// ones unless IncludeDeprecated is set. Returns nil when nothing matches.
func ResolveVersion(params ResolveVersionParams) (*VersionRecord, error) {
	constraint, err := ParseConstraint(params.Constraint)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		rec VersionRecord
		sv  *masterminds.Version
	}
	var matching []candidate
	for _, v := range params.Versions {
		if v.Status == StatusDisabled {
			continue
		}
		sv, err := masterminds.NewVersion(v.Version)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - skipping %s: invalid version %q", resolverLogPrefix, v.ID, v.Version))
			continue
		}
		if constraint.Check(sv) {
			matching = append(matching, candidate{rec: v, sv: sv})
		}
	}
	if len(matching) == 0 {
		return nil, nil
	}

	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].sv.GreaterThan(matching[j].sv)
	})

	if !params.IncludeDeprecated {
		for i := range matching {
			if matching[i].rec.Status != StatusDeprecated {
				return &matching[i].rec, nil
			}
		}
	}
	return &matching[0].rec, nil
}

// ResolvePerID groups versions by ID and resolves each group with the same
// constraint. IDs with no matching version are left out.
func ResolvePerID(versions []VersionRecord, constraint string) (map[string]VersionRecord, error) {
	groups := make(map[string][]VersionRecord)
	for _, v := range versions {
		groups[v.ID] = append(groups[v.ID], v)
	}

	selected := make(map[string]VersionRecord, len(groups))
	for id, group := range groups {
		rec, err := ResolveVersion(ResolveVersionParams{Versions: group, Constraint: constraint})
		if err != nil {
			return nil, err
		}
		if rec == nil {
			slog.Warn(fmt.Sprintf("%s - no version of %s satisfies %q", resolverLogPrefix, id, constraint))
			continue
		}
		selected[id] = *rec
	}
	return selected, nil
}
