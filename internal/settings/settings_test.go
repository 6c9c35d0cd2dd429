package settings

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/go-cmp/cmp"

	"github.com/cruciblehq/cruxdeb/internal/compress"
	"github.com/cruciblehq/cruxdeb/internal/snapshot"
)

// Points XDG config lookups at an empty directory so the user's own
// config file does not leak into tests.
func isolate(t *testing.T) {
	t.Helper()
	t.Cleanup(xdg.Reload)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	xdg.Reload()
	for _, kv := range os.Environ() {
		if k, _, _ := strings.Cut(kv, "="); strings.HasPrefix(k, envPrefix+"_") {
			t.Setenv(k, "")
		}
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	s, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if s.ContainerdAddress != "/run/containerd/containerd.sock" {
		t.Errorf("ContainerdAddress = %q", s.ContainerdAddress)
	}
	if s.ContainerdNamespace != "cruxdeb" {
		t.Errorf("ContainerdNamespace = %q", s.ContainerdNamespace)
	}
	if s.StageTimeout != time.Hour {
		t.Errorf("StageTimeout = %v, want 1h", s.StageTimeout)
	}
	if s.Compression != compress.Xz {
		t.Errorf("Compression = %q, want xz", s.Compression)
	}
	if !s.KeepFailedArtifact {
		t.Error("KeepFailedArtifact = false, want true")
	}
	if diff := cmp.Diff([]string{"apt-get", "install", "-y", "--no-install-recommends"}, s.ValidatorInstall); diff != "" {
		t.Errorf("ValidatorInstall mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(snapshot.DefaultExclusions, s.Exclusions); diff != "" {
		t.Errorf("Exclusions mismatch (-want +got):\n%s", diff)
	}
	if s.ConfigFile != "" {
		t.Errorf("ConfigFile = %q, want none", s.ConfigFile)
	}
}

func TestLoadFile(t *testing.T) {
	isolate(t)

	cfg := writeConfig(t, `
containerd-namespace: builds
stage-timeout: 20m
compression: zstd
exclude:
  - /opt/scratch
  - /usr/share/doc/*
keep-failed-artifact: false
validator-install: "dpkg -i"
`)

	s, err := Load(cfg, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if s.ContainerdNamespace != "builds" {
		t.Errorf("ContainerdNamespace = %q", s.ContainerdNamespace)
	}
	if s.StageTimeout != 20*time.Minute {
		t.Errorf("StageTimeout = %v", s.StageTimeout)
	}
	if s.Compression != compress.Zstd {
		t.Errorf("Compression = %q", s.Compression)
	}
	if s.KeepFailedArtifact {
		t.Error("KeepFailedArtifact = true")
	}
	if diff := cmp.Diff([]string{"dpkg", "-i"}, s.ValidatorInstall); diff != "" {
		t.Errorf("ValidatorInstall mismatch (-want +got):\n%s", diff)
	}

	want := append(append(snapshot.Exclusions{}, snapshot.DefaultExclusions...), "/opt/scratch", "/usr/share/doc/*")
	if diff := cmp.Diff(want, s.Exclusions); diff != "" {
		t.Errorf("Exclusions mismatch (-want +got):\n%s", diff)
	}
	if s.ConfigFile != cfg {
		t.Errorf("ConfigFile = %q, want %q", s.ConfigFile, cfg)
	}
}

func TestLoadPrecedence(t *testing.T) {
	isolate(t)

	cfg := writeConfig(t, "compression: zstd\nstage-timeout: 20m\nsnapshotter: native\n")
	t.Setenv("CRUXDEB_STAGE_TIMEOUT", "5m")
	t.Setenv("CRUXDEB_SNAPSHOTTER", "fuse-overlayfs")

	s, err := Load(cfg, map[string]any{KeyCompression: "gzip"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if s.Compression != compress.Gzip {
		t.Errorf("Compression = %q, override should win", s.Compression)
	}
	if s.StageTimeout != 5*time.Minute {
		t.Errorf("StageTimeout = %v, environment should win over the file", s.StageTimeout)
	}
	if s.Snapshotter != "fuse-overlayfs" {
		t.Errorf("Snapshotter = %q", s.Snapshotter)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("err = %v, want ErrInvalidSettings", err)
	}
}

func TestLoadInvalid(t *testing.T) {
	isolate(t)

	cfg := writeConfig(t, `
stage-timeout: soon
compression: lzma
exclude: [relative/path]
validator-install: "'unterminated"
containerd-namespace: ""
`)

	_, err := Load(cfg, nil)
	if !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("err = %v, want ErrInvalidSettings", err)
	}

	for _, key := range []string{KeyStageTimeout, KeyCompression, KeyExclude, KeyValidatorInstall, KeyContainerdNamespace} {
		if !strings.Contains(err.Error(), key+":") {
			t.Errorf("error does not mention %s:\n%v", key, err)
		}
	}
}

func TestLoadNegativeTimeout(t *testing.T) {
	isolate(t)

	_, err := Load("", map[string]any{KeyStageTimeout: "-1m"})
	if !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("err = %v, want ErrInvalidSettings", err)
	}
}

func TestBuildOptions(t *testing.T) {
	isolate(t)

	s, err := Load("", map[string]any{
		KeyStageTimeout:       "5m",
		KeyCompression:        "gzip",
		KeyKeepFailedArtifact: false,
		KeyCacheDir:           "/tmp/cache",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	opts := s.BuildOptions(nil, "/out")
	if opts.OutputDir != "/out" || opts.StageTimeout != 5*time.Minute || opts.Compression != compress.Gzip {
		t.Errorf("opts = %+v", opts)
	}
	if opts.KeepFailedArtifact {
		t.Error("KeepFailedArtifact = true")
	}
	if opts.Source.CacheDir != "/tmp/cache" {
		t.Errorf("Source.CacheDir = %q", opts.Source.CacheDir)
	}
	if diff := cmp.Diff(s.ValidatorInstall, opts.ValidatorInstall); diff != "" {
		t.Errorf("ValidatorInstall mismatch (-want +got):\n%s", diff)
	}
}
