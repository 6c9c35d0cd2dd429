package stage

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// Records calls and answers Exec through a handler.
type fakeContainer struct {
	mu     sync.Mutex
	execs  [][]string
	envs   [][]string
	dirs   []string
	files  map[string][]byte
	modes  map[string]int64
	mkdirs []string
	handle func(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error)
}

func newFake(handle func(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error)) *fakeContainer {
	return &fakeContainer{files: map[string][]byte{}, modes: map[string]int64{}, handle: handle}
}

func (f *fakeContainer) ID() string { return "fake" }

func (f *fakeContainer) Exec(ctx context.Context, args, env []string, workdir string, stdout, stderr io.Writer) (int, error) {
	f.mu.Lock()
	f.execs = append(f.execs, args)
	f.envs = append(f.envs, env)
	f.dirs = append(f.dirs, workdir)
	f.mu.Unlock()
	if f.handle == nil {
		return 0, nil
	}
	return f.handle(ctx, args, stdout, stderr)
}

func (f *fakeContainer) CopyTo(ctx context.Context, r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		body, _ := io.ReadAll(tr)
		p := filepath.Join(destDir, hdr.Name)
		f.files[p] = body
		f.modes[p] = hdr.Mode
	}
}

func (f *fakeContainer) CopyFrom(ctx context.Context, w io.Writer, path string) error { return nil }

func (f *fakeContainer) MkdirAll(ctx context.Context, path string) error {
	f.mkdirs = append(f.mkdirs, path)
	return nil
}

func (f *fakeContainer) Destroy(ctx context.Context) {}

func TestScriptExecute(t *testing.T) {
	script := filepath.Join(t.TempDir(), "build.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nmake\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctr := newFake(func(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
		io.WriteString(stdout, "compiling\n")
		return 0, nil
	})

	r := &Runner{}
	res, err := r.Run(context.Background(), ctr, "build", &Script{Path: script, Dir: "/build/ag"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := ctr.files["/build/ag/build.sh"]; string(got) != "#!/bin/sh\nmake\n" {
		t.Fatalf("script body = %q", got)
	}
	if ctr.modes["/build/ag/build.sh"] != 0755 {
		t.Fatalf("script mode = %o", ctr.modes["/build/ag/build.sh"])
	}
	if diff := cmp.Diff([][]string{{"/bin/sh", "/build/ag/build.sh"}}, ctr.execs); diff != "" {
		t.Fatalf("execs (-want +got):\n%s", diff)
	}
	if ctr.dirs[0] != "/build/ag" {
		t.Fatalf("workdir = %q", ctr.dirs[0])
	}
	if !contains(ctr.envs[0], "DEBIAN_FRONTEND=noninteractive") {
		t.Fatalf("env = %v", ctr.envs[0])
	}
	if res.Stage != "build" || res.ExitCode != 0 || res.Output != "compiling\n" {
		t.Fatalf("result = %+v", res)
	}
}

func TestScriptMissingOnHost(t *testing.T) {
	r := &Runner{}
	_, err := r.Run(context.Background(), newFake(nil), "build", &Script{Path: "/nonexistent/build.sh", Dir: "/b"})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
	var f *Failure
	if errors.As(err, &f) {
		t.Fatal("host error reported as stage failure")
	}
}

func TestRunNonZeroExit(t *testing.T) {
	ctr := newFake(func(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
		io.WriteString(stderr, "make: *** [all] Error 1\n")
		return 1, nil
	})

	var live bytes.Buffer
	r := &Runner{Output: &live}
	res, err := r.Run(context.Background(), ctr, "build", &Exec{Args: []string{"make"}})

	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("err = %v, want *Failure", err)
	}
	if !errors.Is(err, ErrStageFailed) {
		t.Fatalf("err = %v, want ErrStageFailed", err)
	}
	if f.Result != res || res.ExitCode != 1 || res.TimedOut {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Output, "Error 1") || live.String() != res.Output {
		t.Fatalf("output = %q, live = %q", res.Output, live.String())
	}
	if err.Error() != "stage build exited with code 1" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestRunTimeout(t *testing.T) {
	ctr := newFake(func(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	r := &Runner{Timeout: 20 * time.Millisecond}
	res, err := r.Run(context.Background(), ctr, "install", &Exec{Args: []string{"sleep", "60"}})

	if !errors.Is(err, ErrStageTimeout) {
		t.Fatalf("err = %v, want ErrStageTimeout", err)
	}
	if !res.TimedOut || res.ExitCode != -1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ctr := newFake(func(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
		cancel()
		<-ctx.Done()
		return 0, ctx.Err()
	})

	r := &Runner{Timeout: time.Hour}
	_, err := r.Run(ctx, ctr, "build", &Exec{Args: []string{"make"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	var f *Failure
	if errors.As(err, &f) {
		t.Fatal("cancellation reported as stage failure")
	}
}

func TestRunRuntimeError(t *testing.T) {
	boom := errors.New("shim gone")
	ctr := newFake(func(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
		return 0, boom
	})

	r := &Runner{}
	_, err := r.Run(context.Background(), ctr, "build", &Exec{Args: []string{"true"}})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped runtime error", err)
	}
}

func TestCommandsStopAtFirstFailure(t *testing.T) {
	ctr := newFake(func(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
		if args[2] == "false" {
			return 2, nil
		}
		return 0, nil
	})

	var out bytes.Buffer
	code, err := (&Commands{Lines: []string{"apt-get update", "false", "apt-get install -y make"}}).Execute(context.Background(), ctr, &out)
	if err != nil {
		t.Fatal(err)
	}
	if code != 2 {
		t.Fatalf("code = %d, want 2", code)
	}
	want := [][]string{
		{"/bin/sh", "-c", "apt-get update"},
		{"/bin/sh", "-c", "false"},
	}
	if diff := cmp.Diff(want, ctr.execs); diff != "" {
		t.Fatalf("execs (-want +got):\n%s", diff)
	}
	if out.String() != "+ apt-get update\n+ false\n" {
		t.Fatalf("echo = %q", out.String())
	}
}

func TestSequence(t *testing.T) {
	ctr := newFake(func(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
		if args[0] == "fail" {
			return 3, nil
		}
		return 0, nil
	})

	seq := Sequence{
		&Exec{Args: []string{"one"}},
		&Exec{Args: []string{"fail"}},
		&Exec{Args: []string{"never"}},
	}
	code, err := seq.Execute(context.Background(), ctr, io.Discard)
	if err != nil || code != 3 {
		t.Fatalf("Execute = %d, %v; want 3, nil", code, err)
	}
	if len(ctr.execs) != 2 {
		t.Fatalf("ran %d programs, want 2", len(ctr.execs))
	}
}

func TestParseCommand(t *testing.T) {
	e, err := ParseCommand(`apt-get install -y -o "Dpkg::Options::=--force-confnew"`, "./ag_2.2.0-1_amd64.deb")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"apt-get", "install", "-y", "-o", "Dpkg::Options::=--force-confnew", "./ag_2.2.0-1_amd64.deb"}
	if diff := cmp.Diff(want, e.Args); diff != "" {
		t.Fatalf("args (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"", "   ", `apt-get "unterminated`} {
		if _, err := ParseCommand(bad); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("ParseCommand(%q) err = %v, want ErrInvalidCommand", bad, err)
		}
	}
}

func TestPreflight(t *testing.T) {
	available := map[string]bool{"tar": true, "sh": true}
	ctr := newFake(func(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
		name := strings.TrimPrefix(args[2], "command -v ")
		if available[name] {
			return 0, nil
		}
		return 1, nil
	})

	if err := Preflight(context.Background(), ctr, "tar", "sh"); err != nil {
		t.Fatalf("Preflight: %v", err)
	}

	err := Preflight(context.Background(), ctr, "tar", "git", "curl")
	if !errors.Is(err, ErrMissingProgram) {
		t.Fatalf("err = %v, want ErrMissingProgram", err)
	}
	for _, p := range []string{"git", "curl"} {
		if !strings.Contains(err.Error(), p) {
			t.Errorf("error %q does not name %s", err, p)
		}
	}

	if err := Preflight(context.Background(), ctr, "tar; rm -rf /"); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("err = %v, want ErrInvalidCommand", err)
	}
}

func TestEnvOverlay(t *testing.T) {
	base := Env{"A": "1", "B": "2"}
	got := base.Overlay(Env{"B": "3", "C": "4"})

	if diff := cmp.Diff([]string{"A=1", "B=3", "C=4"}, got.Environ()); diff != "" {
		t.Fatalf("environ (-want +got):\n%s", diff)
	}
	if base["B"] != "2" {
		t.Fatal("overlay modified the base")
	}
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 8}
	for i := range 4 {
		fmt.Fprintf(tb, "line%d\n", i)
	}
	if got := tb.String(); got != "[output truncated]\n2\nline3\n" {
		t.Fatalf("tail = %q", got)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
