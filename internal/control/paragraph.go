package control

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	deb822 "pault.ag/go/debian/control"
)

// Control field names.
const (
	FieldPackage       = "Package"
	FieldVersion       = "Version"
	FieldArchitecture  = "Architecture"
	FieldMaintainer    = "Maintainer"
	FieldInstalledSize = "Installed-Size"
	FieldDepends       = "Depends"
	FieldSection       = "Section"
	FieldPriority      = "Priority"
	FieldHomepage      = "Homepage"
	FieldLicense       = "License"
	FieldDescription   = "Description"
)

// A deb822 paragraph with field order preserved.
type Paragraph struct {
	p deb822.Paragraph
}

// Appends or replaces a field. Multi-line values keep their continuation
// lines without the leading space.
func (p *Paragraph) Set(key, value string) {
	if p.p.Values == nil {
		p.p.Values = make(map[string]string)
	}
	if _, ok := p.p.Values[key]; !ok {
		p.p.Order = append(p.p.Order, key)
	}
	p.p.Values[key] = value
}

// Returns a field value and whether it is present.
func (p *Paragraph) Get(key string) (string, bool) {
	v, ok := p.p.Values[key]
	return v, ok
}

// Field names in order of appearance.
func (p *Paragraph) Keys() []string {
	return append([]string(nil), p.p.Order...)
}

// Serializes the paragraph. Continuation lines are indented by one space
// and empty continuation lines are written as " .".
func (p *Paragraph) Bytes() []byte {
	out := deb822.Paragraph{
		Order:  p.p.Order,
		Values: make(map[string]string, len(p.p.Values)),
	}
	for k, v := range p.p.Values {
		lines := strings.Split(v, "\n")
		for i := 1; i < len(lines); i++ {
			if lines[i] == "" {
				lines[i] = "."
			}
		}
		out.Values[k] = strings.Join(lines, "\n")
	}

	var b bytes.Buffer
	if err := out.WriteTo(&b); err != nil {
		panic(err) // bytes.Buffer does not fail
	}
	return b.Bytes()
}

// Renders the binary package control file.
//
// Installed-Size is not user-supplied; the assembler computes it from the
// filesystem delta and passes it here in KiB.
func (m *Metadata) Control(installedSize int64) *Paragraph {
	var p Paragraph
	p.Set(FieldPackage, m.Name)
	p.Set(FieldVersion, m.FullVersion())
	p.Set(FieldArchitecture, m.Architecture)
	p.Set(FieldMaintainer, m.Maintainer)
	p.Set(FieldInstalledSize, strconv.FormatInt(installedSize, 10))
	if len(m.Depends) > 0 {
		deps := make([]string, len(m.Depends))
		for i, d := range m.Depends {
			deps[i] = d.String()
		}
		p.Set(FieldDepends, strings.Join(deps, ", "))
	}
	p.Set(FieldSection, m.Section)
	p.Set(FieldPriority, defaultPriority)
	if m.Homepage != "" {
		p.Set(FieldHomepage, m.Homepage)
	}
	if m.License != "" {
		p.Set(FieldLicense, m.License)
	}
	p.Set(FieldDescription, m.Description())
	return &p
}

// Reads a single control paragraph.
//
// Parsing stops at the first blank line or at EOF. Comment lines starting
// with '#' are skipped.
func ParseControl(r io.Reader) (*Paragraph, error) {
	pr, err := deb822.NewParagraphReader(r, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedControl, err)
	}
	next, err := pr.Next()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty paragraph", ErrMalformedControl)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedControl, err)
	}
	if _, ok := next.Values[""]; ok {
		return nil, fmt.Errorf("%w: continuation before any field", ErrMalformedControl)
	}

	var p Paragraph
	for _, key := range next.Order {
		if key == "" || strings.ContainsAny(key, " \t") {
			return nil, fmt.Errorf("%w: bad field name %q", ErrMalformedControl, key)
		}
		if _, dup := p.Get(key); dup {
			return nil, fmt.Errorf("%w: duplicate field %s", ErrMalformedControl, key)
		}
		// Multi-line values come back newline-terminated.
		p.Set(key, strings.TrimSuffix(next.Values[key], "\n"))
	}
	return &p, nil
}

// Rebuilds metadata from a control paragraph.
//
// This is the inverse of [Metadata.Control] for every field except
// Installed-Size, which is returned separately.
func FromParagraph(p *Paragraph) (*Metadata, int64, error) {
	get := func(k string) string {
		v, _ := p.Get(k)
		return v
	}

	version := get(FieldVersion)
	i := strings.LastIndex(version, "-")
	if i < 0 {
		return nil, 0, fmt.Errorf("%w: version %q has no revision", ErrMalformedControl, version)
	}

	var size int64
	if s := get(FieldInstalledSize); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: Installed-Size %q", ErrMalformedControl, s)
		}
		size = n
	}

	m := &Metadata{
		Name:         get(FieldPackage),
		Version:      version[:i],
		Release:      version[i+1:],
		Architecture: get(FieldArchitecture),
		Maintainer:   get(FieldMaintainer),
		Section:      get(FieldSection),
		Homepage:     get(FieldHomepage),
		License:      get(FieldLicense),
	}
	m.Synopsis, m.Extended = splitDescription(get(FieldDescription))

	if deps := get(FieldDepends); deps != "" {
		for _, s := range strings.Split(deps, ",") {
			d, err := ParseDependency(s)
			if err != nil {
				return nil, 0, err
			}
			m.Depends = append(m.Depends, d)
		}
	}

	return m, size, nil
}
