package control

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func validRaw() Raw {
	return Raw{
		Name:         "ag",
		Version:      "2.2.0",
		Release:      "1",
		Architecture: "amd64",
		License:      "Apache-2.0",
		Group:        "utils",
		Maintainer:   "Jane Doe <jane@example.com>",
		Description:  "The silver searcher\nA code searching tool similar to ack,\n\nwith a focus on speed.\n",
		Requires:     []string{"zlib1g-dev>=1:1.2.8", "liblzma5"},
	}
}

func TestResolve(t *testing.T) {
	m, err := Resolve(validRaw())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want := &Metadata{
		Name:         "ag",
		Version:      "2.2.0",
		Release:      "1",
		Architecture: "amd64",
		License:      "Apache-2.0",
		Section:      "utils",
		Maintainer:   "Jane Doe <jane@example.com>",
		Synopsis:     "The silver searcher",
		Extended:     []string{"A code searching tool similar to ack,", "", "with a focus on speed."},
		Depends: []Dependency{
			{Name: "zlib1g-dev", Comparator: CompareAtLeast, Version: "1:1.2.8"},
			{Name: "liblzma5"},
		},
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Fatalf("Resolve mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveDefaults(t *testing.T) {
	raw := validRaw()
	raw.Group = ""
	raw.Requires = nil

	m, err := Resolve(raw)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.Section != defaultSection {
		t.Fatalf("Section = %q, want %q", m.Section, defaultSection)
	}
	if m.Depends != nil {
		t.Fatalf("Depends = %v, want nil", m.Depends)
	}
}

func TestResolveListsEveryProblem(t *testing.T) {
	raw := Raw{
		Name:         "Bad_Name",
		Version:      "1_0",
		Release:      "1/2",
		Architecture: "amd64",
		Maintainer:   "",
		Description:  "",
		Requires:     []string{"ok", "broken>1"},
	}

	_, err := Resolve(raw)
	if !errors.Is(err, ErrInvalidMetadata) {
		t.Fatalf("err = %v, want ErrInvalidMetadata", err)
	}

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err is %T, want *ValidationError", err)
	}

	var got []string
	for _, f := range ve.Fields() {
		got = append(got, f.Field)
	}
	want := []string{"pkgname", "pkgversion", "pkgrelease", "maintainer", "description", "requires[1]"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}

	if !strings.Contains(err.Error(), "6 problem(s)") {
		t.Fatalf("error text = %q", err.Error())
	}
}

func TestResolveRejectsLongSynopsis(t *testing.T) {
	raw := validRaw()
	raw.Description = strings.Repeat("x", maxSynopsis+1)

	_, err := Resolve(raw)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if f := ve.Fields(); len(f) != 1 || f[0].Field != "description" {
		t.Fatalf("fields = %v", f)
	}
}

func TestResolveRejectsDotLine(t *testing.T) {
	raw := validRaw()
	raw.Description = "syn\nfirst\n.\nlast"

	_, err := Resolve(raw)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if f := ve.Fields(); len(f) != 1 || f[0].Field != "description" || f[0].Value != "." {
		t.Fatalf("fields = %v", f)
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		name, version, release, arch string
		want                         string
	}{
		{"ag", "2.2.0", "1", "amd64", "ag_2.2.0-1_amd64.deb"},
		{"libfoo1", "1.0~rc2", "0ubuntu3", "arm64", "libfoo1_1.0~rc2-0ubuntu3_arm64.deb"},
		{"g++-tool", "3-beta", "2", "all", "g++-tool_3-beta-2_all.deb"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			raw := validRaw()
			raw.Name, raw.Version, raw.Release, raw.Architecture = tt.name, tt.version, tt.release, tt.arch

			m, err := Resolve(raw)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got := m.Filename(); got != tt.want {
				t.Fatalf("Filename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProblemsMerge(t *testing.T) {
	_, err := Resolve(Raw{Name: "ag", Version: "1", Release: "1", Architecture: "amd64"})
	if err == nil {
		t.Fatal("expected validation error")
	}

	sentinel := errors.New("invalid recipe")
	p := Problems{Kind: sentinel}
	p.Add("builder.image", "", "is required")
	p.Prefix = "deb_info."
	p.Merge(err)

	merged := p.Err()
	if !errors.Is(merged, sentinel) {
		t.Fatalf("merged error does not match its kind: %v", merged)
	}
	if errors.Is(merged, ErrInvalidMetadata) {
		t.Fatal("merged error should not match ErrInvalidMetadata")
	}

	var ve *ValidationError
	errors.As(merged, &ve)
	var got []string
	for _, f := range ve.Fields() {
		got = append(got, f.Field)
	}
	want := []string{"builder.image", "deb_info.maintainer", "deb_info.description"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestProblemsEmpty(t *testing.T) {
	var p Problems
	if err := p.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
}
