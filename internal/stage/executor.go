package stage

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/mattn/go-shellwords"
)

// Does the work of one stage.
//
// Execute writes all process output to out and returns the exit code of
// the last process it ran. Errors are reserved for failures to run
// anything at all; a process exiting non-zero is reported through the
// exit code.
type Executor interface {
	Execute(ctx context.Context, ctr Container, out io.Writer) (int, error)
}

// Runs a host script inside the container.
//
// The script is copied into Dir with mode 0755 and run from there with
// Shell.
type Script struct {
	Path  string // Host path of the script.
	Dir   string // Container directory to copy the script to and run it in.
	Shell string // Interpreter. Defaults to [DefaultShell].
	Env   Env    // Extra environment variables.
}

func (s *Script) Execute(ctx context.Context, ctr Container, out io.Writer) (int, error) {
	body, err := os.ReadFile(s.Path)
	if err != nil {
		return 0, err
	}

	name := path.Base(s.Path)
	if err := CopyFile(ctx, ctr, s.Dir, name, body, 0755); err != nil {
		return 0, err
	}

	shell := s.Shell
	if shell == "" {
		shell = DefaultShell
	}

	slog.Debug("running script", "container", ctr.ID(), "script", name, "dir", s.Dir)
	return ctr.Exec(ctx, []string{shell, path.Join(s.Dir, name)}, baseEnv.Overlay(s.Env).Environ(), s.Dir, out, out)
}

// Runs shell command lines in order, stopping at the first that fails.
type Commands struct {
	Lines []string // Each is passed to Shell with "-c".
	Dir   string   // Working directory. Empty uses the image default.
	Shell string   // Defaults to [DefaultShell].
	Env   Env
}

func (c *Commands) Execute(ctx context.Context, ctr Container, out io.Writer) (int, error) {
	shell := c.Shell
	if shell == "" {
		shell = DefaultShell
	}
	env := baseEnv.Overlay(c.Env).Environ()

	for i, line := range c.Lines {
		slog.Debug("running command", "container", ctr.ID(), "index", i, "command", line)
		fmt.Fprintf(out, "+ %s\n", line)

		code, err := ctr.Exec(ctx, []string{shell, "-c", line}, env, c.Dir, out, out)
		if err != nil {
			return 0, fmt.Errorf("command %d: %w", i+1, err)
		}
		if code != 0 {
			return code, nil
		}
	}
	return 0, nil
}

// Runs a single program directly, without a shell.
type Exec struct {
	Args []string
	Dir  string
	Env  Env
}

// Splits a command line into an [Exec] using shell quoting rules.
//
// Variables and command substitution are not expanded.
func ParseCommand(line string, extra ...string) (*Exec, error) {
	p := shellwords.NewParser()
	args, err := p.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidCommand, line, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}
	return &Exec{Args: append(args, extra...)}, nil
}

func (e *Exec) Execute(ctx context.Context, ctr Container, out io.Writer) (int, error) {
	if len(e.Args) == 0 {
		return 0, fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}
	slog.Debug("running program", "container", ctr.ID(), "args", e.Args)
	return ctr.Exec(ctx, e.Args, baseEnv.Overlay(e.Env).Environ(), e.Dir, out, out)
}

// Runs executors in order, stopping at the first non-zero exit.
type Sequence []Executor

func (s Sequence) Execute(ctx context.Context, ctr Container, out io.Writer) (int, error) {
	for _, ex := range s {
		code, err := ex.Execute(ctx, ctr, out)
		if err != nil || code != 0 {
			return code, err
		}
	}
	return 0, nil
}

// Writes a single file into a container directory, creating the directory
// first.
func CopyFile(ctx context.Context, ctr Container, dir, name string, body []byte, mode int64) error {
	if err := ctr.MkdirAll(ctx, dir); err != nil {
		return err
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     mode,
		Size:     int64(len(body)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := tw.Write(body); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}

	return ctr.CopyTo(ctx, &buf, dir)
}
