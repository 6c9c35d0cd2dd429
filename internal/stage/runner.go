package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Bytes of output kept in [Result.Output].
const outputTail = 64 << 10

// Outcome of a stage.
type Result struct {
	Stage    string        // Stage name.
	ExitCode int           // Exit code of the last process the stage ran.
	Output   string        // Tail of the interleaved stdout and stderr.
	Elapsed  time.Duration // Wall time.
	TimedOut bool          // The stage was killed when its time limit expired.
}

// Runs stages with a shared output sink and time limit.
type Runner struct {
	Output  io.Writer     // Receives stage output as it arrives. May be nil.
	Timeout time.Duration // Limit per stage. Zero means no limit.
}

// Runs ex against ctr as the stage called name.
//
// A non-zero exit or an expired time limit returns the result together
// with a [*Failure]. Other errors, including cancellation of ctx, are
// returned as they are.
func (r *Runner) Run(ctx context.Context, ctr Container, name string, ex Executor) (*Result, error) {
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
	}
	defer cancel()

	tail := &tailBuffer{max: outputTail}
	var sink io.Writer = tail
	if r.Output != nil {
		sink = io.MultiWriter(r.Output, tail)
	}
	out := &syncWriter{w: sink}

	slog.Info("stage started", "stage", name, "container", ctr.ID())
	start := time.Now()
	code, err := ex.Execute(runCtx, ctr, out)

	res := &Result{
		Stage:    name,
		ExitCode: code,
		Output:   tail.String(),
		Elapsed:  time.Since(start),
	}

	switch {
	case ctx.Err() != nil:
		return res, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.ExitCode = -1
		slog.Error("stage timed out", "stage", name, "timeout", r.Timeout)
		return res, &Failure{Result: res}
	case err != nil:
		return res, fmt.Errorf("stage %s: %w", name, err)
	case code != 0:
		slog.Error("stage failed", "stage", name, "exit_code", code, "elapsed", res.Elapsed)
		return res, &Failure{Result: res}
	}

	slog.Info("stage finished", "stage", name, "elapsed", res.Elapsed)
	return res, nil
}

// Serializes writes so stdout and stderr chunks interleave whole.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Keeps the last max bytes written.
type tailBuffer struct {
	max       int
	buf       []byte
	truncated bool
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.truncated = true
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	if t.truncated {
		return "[output truncated]\n" + string(t.buf)
	}
	return string(t.buf)
}
