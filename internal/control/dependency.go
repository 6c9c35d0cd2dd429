package control

import (
	"fmt"
	"regexp"
	"strings"
)

// Version relation of a dependency constraint.
type Comparator string

const (
	CompareNone    Comparator = ""
	CompareEqual   Comparator = "="
	CompareAtLeast Comparator = ">="
	CompareAtMost  Comparator = "<="
	CompareLater   Comparator = ">>"
	CompareEarlier Comparator = "<<"
)

// Package name grammar shared by Package and Depends.
var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]+$`)

// Matches "name", "name>=1.0", "name >= 1.0" and "name (>= 1.0)". The
// relation group is deliberately loose so obsolete "<" and ">" reach the
// comparator check and get a precise error.
var dependencyRe = regexp.MustCompile(`^([^\s<>=()]+)\s*(?:\(\s*([<>=]+)\s*([^\s()]+)\s*\)|([<>=]+)\s*(\S+))?$`)

// A single Depends entry.
type Dependency struct {
	Name       string
	Comparator Comparator
	Version    string
}

// Formats the dependency as it appears in a Depends field.
func (d Dependency) String() string {
	if d.Comparator == CompareNone {
		return d.Name
	}
	return fmt.Sprintf("%s (%s %s)", d.Name, d.Comparator, d.Version)
}

// Parses a dependency constraint string.
//
// Accepted forms are "name", "name<op>version" with optional whitespace
// around the operator, and the Debian form "name (<op> version)". The
// version may carry an epoch ("1:1.2.8").
func ParseDependency(s string) (Dependency, error) {
	s = strings.TrimSpace(s)
	m := dependencyRe.FindStringSubmatch(s)
	if m == nil {
		return Dependency{}, fmt.Errorf("%w: %q", ErrInvalidDependency, s)
	}

	d := Dependency{Name: m[1]}
	op, version := m[2], m[3]
	if op == "" {
		op, version = m[4], m[5]
	}

	if !nameRe.MatchString(d.Name) {
		return Dependency{}, fmt.Errorf("%w: bad package name %q", ErrInvalidDependency, d.Name)
	}

	if op == "" {
		return d, nil
	}

	switch c := Comparator(op); c {
	case CompareEqual, CompareAtLeast, CompareAtMost, CompareLater, CompareEarlier:
		d.Comparator = c
	default:
		return Dependency{}, fmt.Errorf("%w: unsupported relation %q in %q", ErrInvalidDependency, op, s)
	}

	if !dependencyVersionRe.MatchString(version) {
		return Dependency{}, fmt.Errorf("%w: bad version %q in %q", ErrInvalidDependency, version, s)
	}
	d.Version = version

	return d, nil
}

// Version as written in a relation, epoch and revision included.
var dependencyVersionRe = regexp.MustCompile(`^(?:[0-9]+:)?[0-9][A-Za-z0-9.+~:-]*$`)
