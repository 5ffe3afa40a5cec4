// Package semver selects shared schema versions using SemVer constraints.
package semver

import (
	"fmt"
	"regexp"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:parser"

var majorOnlyRegex = regexp.MustCompile(`^\d+$`)

// IsMajorOnly checks if a constraint is a major-only specifier (e.g., "3").
func IsMajorOnly(constraint string) bool {
	return majorOnlyRegex.MatchString(strings.TrimSpace(constraint))
}

// ParseVersion parses a strict version string ("1.2.3", "2.0.0-rc.1") and
// returns its canonical form.
func ParseVersion(version string) (string, error) {
	sv, err := masterminds.StrictNewVersion(strings.TrimSpace(version))
	if err != nil {
		return "", fmt.Errorf("%s - invalid version %q: %w", logPrefix, version, err)
	}
	return sv.String(), nil
}

// ParseConstraint parses a version constraint. Empty and "*" match every
// stable version; a bare major ("3") matches 3.x.
func ParseConstraint(constraint string) (*masterminds.Constraints, error) {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		constraint = "*"
	}
	if IsMajorOnly(constraint) {
		constraint = constraint + ".x"
	}
	c, err := masterminds.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid constraint %q: %w", logPrefix, constraint, err)
	}
	return c, nil
}
