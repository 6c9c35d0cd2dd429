package paths

import (
	"path/filepath"
	"testing"

	"github.com/adrg/xdg"
)

func TestPaths(t *testing.T) {
	t.Cleanup(xdg.Reload)
	root := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", filepath.Join(root, "run"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(root, "cache"))
	xdg.Reload()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Runtime", Runtime(), filepath.Join(root, "run", "cruxdeb")},
		{"Socket", Socket(), filepath.Join(root, "run", "cruxdeb", "cruxdeb.sock")},
		{"PIDFile", PIDFile(), filepath.Join(root, "run", "cruxdeb", "cruxdeb.pid")},
		{"Config", Config(), filepath.Join(root, "config", "cruxdeb")},
		{"Downloads", Downloads(), filepath.Join(root, "cache", "cruxdeb", "downloads")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s() = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}
