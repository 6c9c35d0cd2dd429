package build

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cruciblehq/cruxdeb/internal/deb"
	"github.com/cruciblehq/cruxdeb/internal/recipe"
	"github.com/cruciblehq/cruxdeb/internal/snapshot"
	"github.com/cruciblehq/cruxdeb/internal/source"
	"github.com/cruciblehq/cruxdeb/internal/stage"
)

// Starts the builder, runs its bootstrap commands and checks the programs
// later states rely on.
func (p *pipeline) bootstrap(ctx context.Context) error {
	ctr, err := p.start(ctx, "build", p.recipe.Builder.Image)
	if err != nil {
		return err
	}
	p.builder = ctr

	if err := p.runStage(ctx, ctr, StageBootstrap, &stage.Commands{Lines: p.recipe.Builder.Bootstrap}); err != nil {
		return err
	}

	programs := []string{"tar"}
	if p.recipe.Source.Type == recipe.SourceGit {
		programs = append(programs, "git")
	}
	return stage.Preflight(ctx, ctr, programs...)
}

// Places the source in the builder's work directory.
func (p *pipeline) acquire(ctx context.Context) error {
	if err := p.builder.MkdirAll(ctx, p.workdir); err != nil {
		return err
	}

	acq, err := source.New(p.recipe.Source, p.opts.Source)
	if err != nil {
		return err
	}

	dir, err := acq.Acquire(ctx, p.builder, p.workdir, p.output(StageAcquire))
	if err != nil {
		return err
	}

	slog.Info("source acquired", "type", p.recipe.Source.Type, "dir", dir)
	p.env["CRUXDEB_SOURCE_DIR"] = dir
	return nil
}

func (p *pipeline) noBuildScript() bool {
	return p.recipe.Build == ""
}

func (p *pipeline) build(ctx context.Context) error {
	return p.runStage(ctx, p.builder, StageBuild, p.script(p.recipe.Build))
}

func (p *pipeline) snapshotPre(ctx context.Context) error {
	s, err := p.capture(ctx)
	if err != nil {
		return err
	}
	p.before = s
	slog.Info("pre-install snapshot taken", "entries", s.Len())
	return nil
}

func (p *pipeline) install(ctx context.Context) error {
	return p.runStage(ctx, p.builder, StageInstall, p.script(p.recipe.Install))
}

func (p *pipeline) snapshotPost(ctx context.Context) error {
	s, err := p.capture(ctx, snapshot.WithBaseline(p.before))
	if err != nil {
		return err
	}
	p.after = s
	slog.Info("post-install snapshot taken", "entries", s.Len())
	return nil
}

// Computes what the install stage changed. An install that changed no
// path the package could carry fails here.
func (p *pipeline) diff(ctx context.Context) error {
	delta, err := snapshot.Diff(p.before, p.after, p.opts.Exclusions)
	if err != nil {
		return err
	}

	slog.Info("filesystem delta computed", "changes", len(delta.Changes), "files", delta.Files(), "removed", len(delta.Removed))
	if len(delta.Changes) == 0 {
		if len(delta.Removed) > 0 {
			return fmt.Errorf("%w: install only removed %d paths", ErrEmptyDelta, len(delta.Removed))
		}
		return ErrEmptyDelta
	}

	p.delta = delta
	p.before, p.after = nil, nil
	return nil
}

func (p *pipeline) assemble(ctx context.Context) error {
	scripts, err := p.maintainerScripts()
	if err != nil {
		return err
	}

	dir, err := p.outputDir()
	if err != nil {
		return err
	}

	a, err := deb.Assemble(p.delta, p.recipe.Metadata, dir, deb.Options{
		Compression: p.opts.Compression,
		Scripts:     scripts,
	})
	if err != nil {
		return err
	}

	p.report.Artifact = a
	p.opts.Metrics.Artifact(a.Size)
	slog.Info("package assembled", "path", a.Path, "size", a.Size, "installed_size", a.InstalledSize, "files", a.Files)
	return nil
}

// Installs the package in a fresh validator container and runs the
// validate script there, if the recipe has one. The builder is destroyed
// first so only one container is live at a time.
func (p *pipeline) validate(ctx context.Context) error {
	p.builder.Destroy(context.WithoutCancel(ctx))
	p.builder = nil

	err := p.runValidator(ctx)
	if err == nil {
		return nil
	}

	if a := p.report.Artifact; a != nil && !p.opts.KeepFailedArtifact {
		if rmErr := os.Remove(a.Path); rmErr != nil {
			slog.Warn("failed to remove artifact", "path", a.Path, "error", rmErr)
		} else {
			slog.Info("removed artifact that failed validation", "path", a.Path)
			p.report.Artifact = nil
		}
	}
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

func (p *pipeline) runValidator(ctx context.Context) error {
	ctr, err := p.start(ctx, "validate", p.recipe.Validator.Image)
	if err != nil {
		return err
	}
	p.validator = ctr

	a := p.report.Artifact
	body, err := os.ReadFile(a.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}

	install := append(append([]string{}, p.opts.ValidatorInstall...), "./"+a.Filename)

	steps := stage.Sequence{
		&stage.Commands{Lines: p.recipe.Validator.Bootstrap},
		&copyIn{dir: p.workdir, name: a.Filename, body: body},
		&stage.Exec{Args: install, Dir: p.workdir, Env: p.env},
	}
	if p.recipe.Validate != "" {
		steps = append(steps, p.script(p.recipe.Validate))
	}

	return p.runStage(ctx, ctr, StageValidate, steps)
}

// Captures the builder's root filesystem.
func (p *pipeline) capture(ctx context.Context, opts ...snapshot.CaptureOption) (*snapshot.Snapshot, error) {
	opts = append(opts, snapshot.WithExclusions(p.opts.Exclusions))

	pr, pw := io.Pipe()
	errc := make(chan error, 1)
	go func() {
		err := p.builder.CopyFrom(ctx, pw, "/")
		pw.CloseWithError(err)
		errc <- err
	}()

	s, err := snapshot.Capture(pr, p.builder.ID(), opts...)
	pr.CloseWithError(err)
	copyErr := <-errc
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	if copyErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshot, copyErr)
	}

	for link, target := range s.Unresolved() {
		if err := p.resolveLink(ctx, s, link, target); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSnapshot, err)
		}
	}
	return s, nil
}

// Reads the content of a hard link whose target the root archive did not
// carry, by archiving the target alone.
func (p *pipeline) resolveLink(ctx context.Context, s *snapshot.Snapshot, link, target string) error {
	slog.Debug("reading hard link target", "link", link, "target", target)

	var buf bytes.Buffer
	if err := p.builder.CopyFrom(ctx, &buf, target); err != nil {
		return err
	}
	return s.ResolveLink(link, &buf)
}

// Runs a recipe script from the work directory.
func (p *pipeline) script(hostPath string) *stage.Script {
	return &stage.Script{Path: hostPath, Dir: p.workdir, Env: p.env}
}

// Writes a file into the container as a step of a stage.
type copyIn struct {
	dir  string
	name string
	body []byte
}

func (c *copyIn) Execute(ctx context.Context, ctr stage.Container, out io.Writer) (int, error) {
	fmt.Fprintf(out, "+ copy %s into %s\n", c.name, c.dir)
	if err := stage.CopyFile(ctx, ctr, c.dir, c.name, c.body, 0644); err != nil {
		return 0, err
	}
	return 0, nil
}
