package control

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestControlFieldOrder(t *testing.T) {
	raw := validRaw()
	raw.Homepage = "https://geoff.greer.fm/ag/"
	m, err := Resolve(raw)
	if err != nil {
		t.Fatal(err)
	}

	got := m.Control(1234).Keys()
	want := []string{
		FieldPackage, FieldVersion, FieldArchitecture, FieldMaintainer,
		FieldInstalledSize, FieldDepends, FieldSection, FieldPriority,
		FieldHomepage, FieldLicense, FieldDescription,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("field order (-want +got):\n%s", diff)
	}
}

func TestControlBytes(t *testing.T) {
	m, err := Resolve(validRaw())
	if err != nil {
		t.Fatal(err)
	}

	want := strings.Join([]string{
		"Package: ag",
		"Version: 2.2.0-1",
		"Architecture: amd64",
		"Maintainer: Jane Doe <jane@example.com>",
		"Installed-Size: 42",
		"Depends: zlib1g-dev (>= 1:1.2.8), liblzma5",
		"Section: utils",
		"Priority: optional",
		"License: Apache-2.0",
		"Description: The silver searcher",
		" A code searching tool similar to ack,",
		" .",
		" with a focus on speed.",
		"",
	}, "\n")

	if got := string(m.Control(42).Bytes()); got != want {
		t.Fatalf("control mismatch:\n%s", cmp.Diff(want, got))
	}
}

func TestControlRoundTrip(t *testing.T) {
	m, err := Resolve(validRaw())
	if err != nil {
		t.Fatal(err)
	}

	p, err := ParseControl(bytes.NewReader(m.Control(7).Bytes()))
	if err != nil {
		t.Fatalf("ParseControl: %v", err)
	}

	back, size, err := FromParagraph(p)
	if err != nil {
		t.Fatalf("FromParagraph: %v", err)
	}
	if size != 7 {
		t.Fatalf("installed size = %d, want 7", size)
	}
	if diff := cmp.Diff(m, back); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseControlErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"continuation first", " orphan\n"},
		{"no colon", "Package ag\n"},
		{"space in key", "Pack age: ag\n"},
		{"duplicate", "Package: a\nPackage: b\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseControl(strings.NewReader(tt.input))
			if !errors.Is(err, ErrMalformedControl) {
				t.Fatalf("err = %v, want ErrMalformedControl", err)
			}
		})
	}
}

func TestParseControlStopsAtBlankLine(t *testing.T) {
	p, err := ParseControl(strings.NewReader("\n# comment\nPackage: a\n\nPackage: b\n"))
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := p.Get(FieldPackage); v != "a" {
		t.Fatalf("Package = %q, want a", v)
	}
}

func TestParagraphBlankContinuationRoundTrip(t *testing.T) {
	var p Paragraph
	p.Set(FieldPackage, "ag")
	p.Set(FieldDescription, "syn\nfirst\n\n  indented\nlast")

	want := "Package: ag\nDescription: syn\n first\n .\n   indented\n last\n"
	if got := string(p.Bytes()); got != want {
		t.Fatalf("Bytes mismatch:\n%s", cmp.Diff(want, got))
	}

	back, err := ParseControl(bytes.NewReader(p.Bytes()))
	if err != nil {
		t.Fatalf("ParseControl: %v", err)
	}
	if diff := cmp.Diff(p.Keys(), back.Keys()); diff != "" {
		t.Fatalf("keys (-want +got):\n%s", diff)
	}
	for _, k := range p.Keys() {
		want, _ := p.Get(k)
		if got, _ := back.Get(k); got != want {
			t.Fatalf("%s = %q, want %q", k, got, want)
		}
	}
}
