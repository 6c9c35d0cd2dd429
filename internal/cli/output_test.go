package cli

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cruciblehq/cruxdeb/internal/build"
	"github.com/cruciblehq/cruxdeb/internal/server"
	"github.com/cruciblehq/cruxdeb/internal/settings"
)

func TestPrefixWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &prefixWriter{w: &buf, prefix: "[build] "}

	io.WriteString(w, "compiling a.c\ncompil")
	io.WriteString(w, "ing b.c\nlinking")
	if got, want := buf.String(), "[build] compiling a.c\n[build] compiling b.c\n"; got != want {
		t.Errorf("before flush = %q, want %q", got, want)
	}

	w.Flush()
	if !strings.HasSuffix(buf.String(), "[build] linking\n") {
		t.Errorf("after flush = %q", buf.String())
	}

	w.Flush()
	if strings.Count(buf.String(), "linking") != 1 {
		t.Errorf("second flush repeated output: %q", buf.String())
	}
}

func TestStageOutput(t *testing.T) {
	var buf bytes.Buffer
	out := newStageOutput(&buf, false)

	io.WriteString(out.For(build.StageBuild), "make\npartial")
	io.WriteString(out.For(build.StageInstall), "make install\n")
	io.WriteString(out.For("custom"), "tail")
	out.Flush()

	want := strings.Join([]string{
		"[build] make",
		"[build] partial",
		"[install] make install",
		"[custom] tail",
		"",
	}, "\n")
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestStageOutputColor(t *testing.T) {
	out := newStageOutput(io.Discard, true)
	if p := out.prefix(build.StageInstall); !strings.Contains(p, "\x1b[") {
		t.Errorf("colored prefix = %q", p)
	}
	if p := out.prefix("custom"); p != "[custom] " {
		t.Errorf("uncolored stage prefix = %q", p)
	}
}

func TestPrintResult(t *testing.T) {
	res := &server.BuildResult{
		Success:     false,
		FailedStage: build.StageInstall,
		Artifact:    "",
		Output:      "make: *** [install] Error 2",
		Elapsed:     3 * time.Second,
		Stages: []server.StageResult{
			{Stage: build.StageBootstrap, Elapsed: time.Second},
			{Stage: build.StageInstall, ExitCode: 2, Elapsed: 2 * time.Second},
		},
	}

	var buf bytes.Buffer
	printResult(&buf, res, true)
	got := buf.String()

	for _, want := range []string{
		"bootstrap  ok",
		"install    exit 2",
		"build failed in stage install after 3s",
		"--- output of install ---\nmake: *** [install] Error 2\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output lacks %q:\n%s", want, got)
		}
	}

	buf.Reset()
	printResult(&buf, res, false)
	if strings.Contains(buf.String(), "Error 2") {
		t.Errorf("tail printed with showTail off:\n%s", buf.String())
	}
}

func TestPrintResultSuccess(t *testing.T) {
	res := &server.BuildResult{Success: true, Artifact: "/out/ag_2.2.0-1_amd64.deb", Elapsed: time.Minute}

	var buf bytes.Buffer
	printResult(&buf, res, true)
	if want := "built /out/ag_2.2.0-1_amd64.deb in 1m0s\n"; buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
	if err := resultErr(res); err != nil {
		t.Errorf("resultErr = %v", err)
	}
}

func TestResultErr(t *testing.T) {
	err := resultErr(&server.BuildResult{Error: "build error: boom"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("resultErr = %v", err)
	}
}

func TestBuildOverrides(t *testing.T) {
	c := &BuildCmd{Timeout: 10 * time.Minute, Compression: "zstd"}
	want := map[string]any{
		settings.KeyStageTimeout: "10m0s",
		settings.KeyCompression:  "zstd",
	}
	if diff := cmp.Diff(want, c.overrides()); diff != "" {
		t.Errorf("overrides mismatch (-want +got):\n%s", diff)
	}
	if got := (&BuildCmd{}).overrides(); len(got) != 0 {
		t.Errorf("no flags: overrides = %v", got)
	}
}
