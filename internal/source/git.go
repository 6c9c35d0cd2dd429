package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/cruciblehq/cruxdeb/internal/stage"
)

// Clones a git repository inside the container.
type Git struct {
	URL        string
	Ref        string // Branch, tag or commit to check out. Empty keeps the default branch.
	Submodules bool   // Initialize and update submodules recursively.
}

// Clones into a directory named after the repository. When that name is
// already taken under workdir, "_1" is appended.
func (g *Git) Acquire(ctx context.Context, ctr stage.Container, workdir string, out io.Writer) (string, error) {
	dir := path.Join(workdir, repoName(g.URL))

	code, err := ctr.Exec(ctx, []string{"test", "-e", dir}, nil, "", io.Discard, io.Discard)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	if code == 0 {
		dir += "_1"
	}

	slog.Info("cloning source", "url", g.URL, "ref", g.Ref, "dir", dir)

	steps := [][]string{{"git", "clone", "--", g.URL, dir}}
	if g.Ref != "" {
		steps = append(steps, []string{"git", "-C", dir, "checkout", g.Ref})
	}
	if g.Submodules {
		steps = append(steps, []string{"git", "-C", dir, "submodule", "update", "--init", "--recursive"})
	}

	for _, args := range steps {
		fmt.Fprintf(out, "+ %s\n", strings.Join(args, " "))
		code, err := ctr.Exec(ctx, args, nil, workdir, out, out)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrAcquire, err)
		}
		if code != 0 {
			return "", fmt.Errorf("%w: %s exited with code %d", ErrAcquire, strings.Join(args[:min(len(args), 4)], " "), code)
		}
	}

	return dir, nil
}

// Repository directory name: the last path element of the URL without a
// ".git" suffix.
func repoName(url string) string {
	u := strings.TrimRight(url, "/")
	if i := strings.LastIndexAny(u, "/:"); i >= 0 {
		u = u[i+1:]
	}
	u = strings.TrimSuffix(u, ".git")
	if u == "" || u == "." || u == ".." {
		return "source"
	}
	return u
}
