package control

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (

	// Section used when the recipe does not name a group.
	defaultSection = "misc"

	// Priority of every synthesized package.
	defaultPriority = "optional"

	// Longest synopsis dpkg tools display without truncation.
	maxSynopsis = 80
)

var (
	versionRe      = regexp.MustCompile(`^[0-9][A-Za-z0-9.+~-]*$`)
	releaseRe      = regexp.MustCompile(`^[A-Za-z0-9.+~]+$`)
	architectureRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	sectionRe      = regexp.MustCompile(`^[a-z0-9][a-z0-9+./-]*$`)
)

// Package metadata as supplied by the recipe's deb_info mapping.
type Raw struct {
	Name         string   `yaml:"pkgname"`
	Version      string   `yaml:"pkgversion"`
	Release      string   `yaml:"pkgrelease"`
	Architecture string   `yaml:"architecture"`
	License      string   `yaml:"pkglicense"`
	Group        string   `yaml:"pkggroup"`
	Maintainer   string   `yaml:"maintainer"`
	Homepage     string   `yaml:"homepage"`
	Description  string   `yaml:"description"`
	Requires     []string `yaml:"requires"`
}

// Validated, canonical package metadata.
type Metadata struct {
	Name         string
	Version      string // Upstream version.
	Release      string // Debian revision.
	Architecture string
	License      string
	Section      string
	Maintainer   string
	Homepage     string
	Synopsis     string   // First line of the description.
	Extended     []string // Remaining description lines, blank lines preserved.
	Depends      []Dependency
}

// Validates raw metadata and normalizes it.
//
// Every field is checked; the returned [ValidationError] lists all
// offending fields rather than only the first.
func Resolve(raw Raw) (*Metadata, error) {
	var p Problems

	m := &Metadata{
		Name:         strings.TrimSpace(raw.Name),
		Version:      strings.TrimSpace(raw.Version),
		Release:      strings.TrimSpace(raw.Release),
		Architecture: strings.TrimSpace(raw.Architecture),
		License:      strings.TrimSpace(raw.License),
		Section:      strings.TrimSpace(raw.Group),
		Maintainer:   strings.TrimSpace(raw.Maintainer),
		Homepage:     strings.TrimSpace(raw.Homepage),
	}

	switch {
	case m.Name == "":
		p.Add("pkgname", "", "is required")
	case !nameRe.MatchString(m.Name):
		p.Add("pkgname", m.Name, "must be at least two characters of lowercase letters, digits, '+', '-' or '.', starting with a letter or digit")
	}

	switch {
	case m.Version == "":
		p.Add("pkgversion", "", "is required")
	case !versionRe.MatchString(m.Version):
		p.Add("pkgversion", m.Version, "must start with a digit and contain only letters, digits, '.', '+', '~' or '-'")
	}

	switch {
	case m.Release == "":
		p.Add("pkgrelease", "", "is required")
	case !releaseRe.MatchString(m.Release):
		p.Add("pkgrelease", m.Release, "must contain only letters, digits, '.', '+' or '~'")
	}

	switch {
	case m.Architecture == "":
		p.Add("architecture", "", "is required")
	case !architectureRe.MatchString(m.Architecture):
		p.Add("architecture", m.Architecture, "is not a Debian architecture name")
	}

	if m.Section == "" {
		m.Section = defaultSection
	} else if !sectionRe.MatchString(m.Section) {
		p.Add("pkggroup", m.Section, "is not a valid section name")
	}

	if m.Maintainer == "" {
		p.Add("maintainer", "", "is required")
	} else if strings.ContainsAny(m.Maintainer, "\n\r") {
		p.Add("maintainer", m.Maintainer, "must be a single line")
	}

	if strings.ContainsAny(m.License, "\n\r") {
		p.Add("pkglicense", m.License, "must be a single line")
	}
	if strings.ContainsAny(m.Homepage, " \t\n\r") {
		p.Add("homepage", m.Homepage, "must be a URL without whitespace")
	}

	synopsis, extended := splitDescription(raw.Description)
	switch {
	case synopsis == "":
		p.Add("description", "", "is required")
	case len(synopsis) > maxSynopsis:
		p.Add("description", synopsis, "first line must not exceed "+strconv.Itoa(maxSynopsis)+" characters")
	}
	for _, l := range extended {
		if l == "." {
			p.Add("description", l, "a line holding only '.' cannot be represented in a control file")
			break
		}
	}
	m.Synopsis, m.Extended = synopsis, extended

	for i, r := range raw.Requires {
		d, err := ParseDependency(r)
		if err != nil {
			p.Add(fmt.Sprintf("requires[%d]", i), r, strings.TrimPrefix(err.Error(), ErrInvalidDependency.Error()+": "))
			continue
		}
		m.Depends = append(m.Depends, d)
	}

	if err := p.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// Full Debian version: upstream version and revision.
func (m *Metadata) FullVersion() string {
	return m.Version + "-" + m.Release
}

// Artifact filename: {name}_{version}-{release}_{architecture}.deb.
func (m *Metadata) Filename() string {
	return fmt.Sprintf("%s_%s_%s.deb", m.Name, m.FullVersion(), m.Architecture)
}

// Description as multi-line text, synopsis first.
func (m *Metadata) Description() string {
	if len(m.Extended) == 0 {
		return m.Synopsis
	}
	return m.Synopsis + "\n" + strings.Join(m.Extended, "\n")
}

// Splits free text into a synopsis and extended lines.
//
// Leading blank lines are skipped, trailing whitespace is trimmed from every
// line, and trailing blank lines are dropped.
func splitDescription(text string) (string, []string) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return "", nil
	}

	extended := make([]string, 0, len(lines)-1)
	for _, l := range lines[1:] {
		extended = append(extended, strings.TrimRight(l, " \t"))
	}
	if len(extended) == 0 {
		extended = nil
	}
	return strings.TrimSpace(lines[0]), extended
}
