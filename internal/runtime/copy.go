package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
)

// GNU tar exits with 1 when files changed while being archived.
const tarChanged = 1

// Creates a directory inside the container, including parents.
func (c *Container) MkdirAll(ctx context.Context, dir string) error {
	return c.mustExec(ctx, "mkdir", nil, nil, "mkdir", "-p", dir)
}

// Copies a tar stream into the container's filesystem.
//
// The contents of r are extracted into destDir by piping them to "tar xf - -C
// destDir" inside the container. Ownership recorded in the stream is kept.
func (c *Container) CopyTo(ctx context.Context, r io.Reader, destDir string) error {
	return c.mustExec(ctx, "tar extract", r, nil, "tar", "xpf", "-", "--same-owner", "-C", destDir)
}

// Copies a path from the container's filesystem as a tar stream.
//
// The file or directory at p is archived by running tar inside the
// container. Archiving stays on one filesystem, so kernel and bind mounts
// below p are left out. The root is archived as ".".
func (c *Container) CopyFrom(ctx context.Context, w io.Writer, p string) error {
	p = path.Clean(p)
	dir, base := path.Dir(p), path.Base(p)
	if p == "/" {
		dir, base = "/", "."
	}

	code, stderr, err := c.execCommand(ctx, nil, w, "tar", "cf", "-", "--one-file-system", "--numeric-owner", "-C", dir, base)
	if err != nil {
		return err
	}
	switch code {
	case 0:
		return nil
	case tarChanged:
		slog.Warn("files changed while archiving", "container", c.id, "path", p, "stderr", stderr)
		return nil
	}
	return fmt.Errorf("%w: tar archive failed with exit code %d (%s)", ErrRuntime, code, stderr)
}

// Runs a command inside the container, returning an error that includes
// desc if the process exits with a non-zero code.
func (c *Container) mustExec(ctx context.Context, desc string, stdin io.Reader, stdout io.Writer, args ...string) error {
	exitCode, stderr, err := c.execCommand(ctx, stdin, stdout, args...)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("%w: %s failed with exit code %d (%s)", ErrRuntime, desc, exitCode, stderr)
	}
	return nil
}
