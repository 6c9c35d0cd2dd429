package stage

import (
	"context"
	"io"
)

// Operations a stage needs from a running container.
//
// Exec runs args directly, without a shell, and returns the exit code. A
// non-zero exit is not an error. Cancelling ctx kills the process.
type Container interface {
	ID() string
	Exec(ctx context.Context, args, env []string, workdir string, stdout, stderr io.Writer) (int, error)
	CopyTo(ctx context.Context, r io.Reader, destDir string) error
	CopyFrom(ctx context.Context, w io.Writer, path string) error
	MkdirAll(ctx context.Context, path string) error
	Destroy(ctx context.Context)
}
