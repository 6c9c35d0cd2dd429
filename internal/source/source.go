package source

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/cruciblehq/cruxdeb/internal/recipe"
	"github.com/cruciblehq/cruxdeb/internal/stage"
)

// Places source code inside a container.
//
// Acquire puts the source under workdir and returns its path inside the
// container. Progress output of commands run in the container goes to out.
type Acquirer interface {
	Acquire(ctx context.Context, ctr stage.Container, workdir string, out io.Writer) (string, error)
}

// Acquisition settings shared by all source types.
type Options struct {
	CacheDir string       // Host directory for downloaded tarballs.
	Client   *http.Client // Defaults to a pooled client from go-cleanhttp.
}

// Returns the [Acquirer] for a source descriptor.
func New(src recipe.Source, opts Options) (Acquirer, error) {
	switch src.Type {
	case recipe.SourceGit:
		return &Git{URL: src.URL, Ref: src.Ref, Submodules: src.PullSubmodules}, nil
	case recipe.SourceTarball:
		return &Tarball{
			URL:             src.URL,
			SHA256:          src.SHA256,
			StripComponents: src.StripComponents,
			CacheDir:        opts.CacheDir,
			Client:          opts.Client,
		}, nil
	case recipe.SourceLocalDir:
		return &LocalDir{Path: src.Path}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, src.Type)
	}
}
