package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Sequence counter for generating unique exec process identifiers.
var execSeq uint64

// Returns a unique exec process identifier.
func nextExecID() string {
	return fmt.Sprintf("exec-%d", atomic.AddUint64(&execSeq, 1))
}

// Runs a program inside the container and returns its exit code.
//
// args are run directly, without a shell. env entries override the
// image's environment and an empty workdir keeps the image default. A
// non-zero exit code is not an error. When ctx is done the process is
// killed and ctx.Err() returned.
func (c *Container) Exec(ctx context.Context, args, env []string, workdir string, stdout, stderr io.Writer) (int, error) {
	pspec, err := c.buildProcessSpec(ctx, env, workdir, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return c.execProcess(ctx, pspec, nil, stdout, stderr)
}

// Builds an OCI process spec for running a command inside the container.
//
// The base values are copied from the container's own OCI spec, then env
// and workdir are overridden if provided.
func (c *Container) buildProcessSpec(ctx context.Context, env []string, workdir string, args ...string) (*specs.Process, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, err
	}

	spec, err := ctr.Spec(ctx)
	if err != nil {
		return nil, err
	}

	pspec := *spec.Process
	pspec.Terminal = false
	pspec.Args = args

	if len(env) > 0 {
		pspec.Env = mergeEnv(pspec.Env, env)
	}
	if workdir != "" {
		pspec.Cwd = workdir
	}

	return &pspec, nil
}

// Merges override env vars on top of a base env slice.
//
// Base order is kept, with overridden values replaced in place. New keys
// follow in override order. Entries without "=" are dropped.
func mergeEnv(base, overrides []string) []string {
	index := make(map[string]int, len(base)+len(overrides))
	result := make([]string, 0, len(base)+len(overrides))

	for _, list := range [][]string{base, overrides} {
		for _, entry := range list {
			k, _, ok := strings.Cut(entry, "=")
			if !ok {
				continue
			}
			if i, seen := index[k]; seen {
				result[i] = entry
				continue
			}
			index[k] = len(result)
			result = append(result, entry)
		}
	}
	return result
}

// Runs a command inside the container, returning the exit code and captured
// stderr. A non-zero exit code is not treated as an error; the caller decides.
func (c *Container) execCommand(ctx context.Context, stdin io.Reader, stdout io.Writer, args ...string) (int, string, error) {
	pspec, err := c.buildProcessSpec(ctx, nil, "", args...)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	var stderr bytes.Buffer
	exitCode, err := c.execProcess(ctx, pspec, stdin, stdout, &stderr)
	if err != nil {
		return 0, "", err
	}
	return exitCode, stderr.String(), nil
}

// Starts a process inside the container's running task, waits for it to exit,
// and returns the exit code.
//
// The process is attached to the task as an additional exec, not as the
// primary process. Nil output streams are replaced with io.Discard. When
// stdin is given, the process stdin is closed once the reader is drained.
func (c *Container) execProcess(ctx context.Context, pspec *specs.Process, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	task, err := c.loadTask(ctx)
	if err != nil {
		return 0, err
	}

	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	var eof *eofReader
	if stdin != nil {
		eof = &eofReader{r: stdin, done: make(chan struct{})}
		stdin = eof
	}

	execID := nextExecID()
	process, err := task.Exec(ctx, execID, pspec, cio.NewCreator(
		cio.WithStreams(stdin, stdout, stderr),
	))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	start := time.Now()
	code, err := awaitProcess(ctx, process, eof.Done())
	slog.Debug("exec finished", "container", c.id, "exec", execID, "args", pspec.Args, "exit_code", code, "elapsed", time.Since(start))
	return code, err
}

// Passes reads through and records the first [io.EOF].
//
// The containerd shim holds both ends of the stdin FIFO open, so the
// process only sees EOF once its IO is closed explicitly.
type eofReader struct {
	r    io.Reader
	once sync.Once
	done chan struct{}
}

func (e *eofReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err == io.EOF {
		e.once.Do(func() { close(e.done) })
	}
	return n, err
}

// Closed after the first EOF. A nil reader returns a nil channel.
func (e *eofReader) Done() <-chan struct{} {
	if e == nil {
		return nil
	}
	return e.done
}

// Loads the container's running task.
func (c *Container) loadTask(ctx context.Context) (containerd.Task, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	return task, nil
}

// Starts an exec process and waits for it to exit.
//
// If stdinDone is non-nil, the process stdin is closed when the channel
// fires. When ctx is done first the process is killed. The process is
// always deleted before returning, which also drains its output streams.
func awaitProcess(ctx context.Context, process containerd.Process, stdinDone <-chan struct{}) (int, error) {
	bg := context.WithoutCancel(ctx)
	defer process.Delete(bg, containerd.WithProcessKill)

	statusC, err := process.Wait(bg)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := process.Start(ctx); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if stdinDone != nil {
		go func() {
			select {
			case <-stdinDone:
				process.CloseIO(bg, containerd.WithStdinCloser)
			case <-ctx.Done():
			}
		}()
	}

	select {
	case status := <-statusC:
		code, _, err := status.Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
		}
		return int(code), nil

	case <-ctx.Done():
		process.Kill(bg, syscall.SIGKILL)
		<-statusC
		return -1, ctx.Err()
	}
}
