package snapshot

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func snapOf(t *testing.T, source string, baseline *Snapshot, members ...member) *Snapshot {
	t.Helper()
	var opts []CaptureOption
	if baseline != nil {
		opts = append(opts, WithBaseline(baseline))
	}
	s, err := Capture(archive(t, members...), source, opts...)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	return s
}

func changedPaths(d *Delta) []string {
	var paths []string
	for _, e := range d.Changes {
		paths = append(paths, e.Path)
	}
	return paths
}

func TestDiffIdenticalSnapshotsIsEmpty(t *testing.T) {
	before := snapOf(t, "ctr", nil, base()...)
	after := snapOf(t, "ctr", before, base()...)

	d, err := Diff(before, after, nil)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if !d.Empty() {
		t.Fatalf("delta = %+v, want empty", d)
	}
}

func TestDiffDetectsChanges(t *testing.T) {
	before := snapOf(t, "ctr", nil, append(base(),
		file("./etc/app.conf", 0644, "a=1"),
		file("./usr/bin/gone", 0755, "bye"),
		symlink("./usr/lib/libx.so", "libx.so.1"),
		dir("./srv/", 0755),
		file("./etc/owned", 0644, "same"),
	)...)

	owned := file("./etc/owned", 0644, "same")
	owned.uid = 1000

	after := snapOf(t, "ctr", before, append(base(),
		file("./etc/app.conf", 0644, "a=2"),
		symlink("./usr/lib/libx.so", "libx.so.2"),
		dir("./srv/", 0700),
		owned,
		file("./usr/local/bin/ag", 0755, "ELF"),
	)...)

	d, err := Diff(before, after, nil)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}

	want := []string{"/etc/app.conf", "/etc/owned", "/srv", "/usr/lib/libx.so", "/usr/local/bin/ag"}
	if diff := cmp.Diff(want, changedPaths(d)); diff != "" {
		t.Fatalf("changes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/usr/bin/gone"}, d.Removed); diff != "" {
		t.Fatalf("removed (-want +got):\n%s", diff)
	}
	if d.Files() != 3 {
		t.Fatalf("Files() = %d, want 3", d.Files())
	}

	for _, e := range d.Changes {
		switch e.Path {
		case "/etc/app.conf":
			if string(e.Content) != "a=2" {
				t.Errorf("app.conf content = %q", e.Content)
			}
		case "/usr/lib/libx.so":
			if e.Linkname != "libx.so.2" {
				t.Errorf("libx.so target = %q", e.Linkname)
			}
		case "/srv":
			if e.Mode.Perm() != 0700 {
				t.Errorf("srv mode = %v", e.Mode)
			}
		}
	}
}

func TestDiffChangesAndRemovalsAreDisjoint(t *testing.T) {
	before := snapOf(t, "ctr", nil,
		dir("./", 0755),
		file("./a", 0644, "1"),
		file("./b", 0644, "1"),
		symlink("./c", "a"),
	)
	after := snapOf(t, "ctr", before,
		dir("./", 0755),
		dir("./a/", 0755),
		file("./c", 0644, "now a file"),
		file("./d", 0644, "new"),
	)

	d, err := Diff(before, after, nil)
	if err != nil {
		t.Fatal(err)
	}

	removed := make(map[string]bool)
	for _, p := range d.Removed {
		removed[p] = true
	}
	for _, e := range d.Changes {
		if removed[e.Path] {
			t.Fatalf("%s is both changed and removed", e.Path)
		}
	}
	if diff := cmp.Diff([]string{"/a", "/c", "/d"}, changedPaths(d)); diff != "" {
		t.Fatalf("changes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/b"}, d.Removed); diff != "" {
		t.Fatalf("removed (-want +got):\n%s", diff)
	}
}

func TestDiffAppliesExclusions(t *testing.T) {
	before := snapOf(t, "ctr", nil, dir("./", 0755), file("./var/log/dpkg.log", 0644, "1"))
	after := snapOf(t, "ctr", before,
		dir("./", 0755),
		file("./var/log/dpkg.log", 0644, "2"),
		file("./var/cache/apt/pkgcache.bin", 0644, "x"),
		file("./root/.cache/pip/x", 0644, "x"),
		file("./opt/app/run", 0755, "x"),
	)

	d, err := Diff(before, after, DefaultExclusions)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"/opt/app/run"}, changedPaths(d)); diff != "" {
		t.Fatalf("changes (-want +got):\n%s", diff)
	}
}

func TestDiffInconsistentSnapshots(t *testing.T) {
	good := snapOf(t, "ctr", nil, base()...)

	tests := []struct {
		name          string
		before, after *Snapshot
	}{
		{"different sources", good, snapOf(t, "other", nil, base()...)},
		{"missing root", good, snapOf(t, "ctr", nil, file("./etc/x", 0644, "x"))},
		{"root not a directory", snapOf(t, "ctr", nil, symlink("./", "elsewhere")), good},
		{"root owner diverges", good, snapOf(t, "ctr", nil, member{name: "./", typ: '5', mode: 0755, uid: 7})},
		{"nil snapshot", nil, good},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Diff(tt.before, tt.after, nil)
			if !errors.Is(err, ErrInconsistentSnapshot) {
				t.Fatalf("err = %v, want ErrInconsistentSnapshot", err)
			}
		})
	}
}

func TestExclusions(t *testing.T) {
	x, err := NewExclusions([]string{"/var/cache/", "/home/*/.cache", "/opt/*.log"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{"/var/cache", true},
		{"/var/cache/apt/archives/x.deb", true},
		{"/var/cachex", false},
		{"/home/jane/.cache/pip", true},
		{"/home/jane/.config", false},
		{"/opt/build.log", true},
		{"/opt/bin/tool", false},
	}
	for _, tt := range tests {
		if got := x.Match(tt.path); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestNewExclusionsRejectsBadPatterns(t *testing.T) {
	for _, p := range []string{"relative/path", "/bad/[pattern"} {
		if _, err := NewExclusions([]string{p}); !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("NewExclusions(%q) err = %v, want ErrInvalidPattern", p, err)
		}
	}
}
