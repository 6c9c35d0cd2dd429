package internal

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func withVersion(t *testing.T, v, s, c string) {
	t.Helper()
	oldV, oldS, oldC := version, stage, gitCommit
	version, stage, gitCommit = v, s, c
	t.Cleanup(func() { version, stage, gitCommit = oldV, oldS, oldC })
}

func TestVersionString(t *testing.T) {
	tests := []struct {
		version, stage, commit string
		want                   string
	}{
		{"v1.2.3", "main", "a1b2c3d4", "1.2.3 a1b2c3d4 [" + Arch() + "]"},
		{"1.2.3", "Staging", "a1b2c3d4", "1.2.3+staging a1b2c3d4 [" + Arch() + "]"},
	}
	for _, tt := range tests {
		withVersion(t, tt.version, tt.stage, tt.commit)
		if got := VersionString(); got != tt.want {
			t.Errorf("VersionString() = %q, want %q", got, tt.want)
		}
	}
}

func TestVersionStringLocal(t *testing.T) {
	withVersion(t, "1.0.0", "", "")
	if !IsLocal() {
		t.Fatal("IsLocal() = false with no stage or commit")
	}
	if got := VersionString(); !strings.HasPrefix(got, defaultLocalBuild) {
		t.Errorf("VersionString() = %q, want %s prefix", got, defaultLocalBuild)
	}
	if Stage() != defaultUndefined {
		t.Errorf("Stage() = %q", Stage())
	}
}

func TestLogLevel(t *testing.T) {
	t.Cleanup(func() { SetMode(ModeDebug|ModeQuiet, false) })

	SetMode(ModeQuiet, true)
	if got := LogLevel(); got != slog.LevelWarn {
		t.Errorf("quiet: LogLevel() = %v", got)
	}
	SetMode(ModeDebug, true)
	if got := LogLevel(); got != slog.LevelDebug {
		t.Errorf("quiet+debug: LogLevel() = %v", got)
	}
}

func TestNewLoggerFollowsLevel(t *testing.T) {
	t.Cleanup(func() { SetMode(ModeQuiet, false) })

	var buf bytes.Buffer
	log := NewLogger(&buf)

	SetMode(ModeQuiet, true)
	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "app="+Name) {
		t.Errorf("output lacks app attribute: %q", out)
	}
}

func TestHasMode(t *testing.T) {
	t.Cleanup(func() { SetMode(ModeQuiet|ModeVerbose, false) })

	SetMode(ModeQuiet|ModeVerbose, true)
	SetMode(ModeQuiet, false)

	if HasMode(ModeQuiet) {
		t.Error("ModeQuiet still set")
	}
	if !HasMode(ModeVerbose) {
		t.Error("ModeVerbose cleared with ModeQuiet")
	}
	if HasMode(ModeVerbose | ModeQuiet) {
		t.Error("HasMode reported a partial set as complete")
	}
}
