package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/cruciblehq/cruxdeb/internal/compress"
	"github.com/cruciblehq/cruxdeb/internal/deb"
	"github.com/cruciblehq/cruxdeb/internal/metrics"
	"github.com/cruciblehq/cruxdeb/internal/paths"
	"github.com/cruciblehq/cruxdeb/internal/recipe"
	"github.com/cruciblehq/cruxdeb/internal/snapshot"
	"github.com/cruciblehq/cruxdeb/internal/source"
	"github.com/cruciblehq/cruxdeb/internal/stage"
)

// Parent of per-build work directories inside containers.
const workRoot = "/var/tmp"

// Starts containers for a build.
type Runtime interface {
	Start(ctx context.Context, image, id string) (stage.Container, error)
}

// Controls a build.
type Options struct {
	Recipe             *recipe.Recipe
	OutputDir          string                       // Directory the .deb is written to.
	StageTimeout       time.Duration                // Limit per stage. Zero means no limit.
	Exclusions         snapshot.Exclusions          // Paths left out of the delta. Defaults to [snapshot.DefaultExclusions].
	Compression        compress.Format              // Package member compression. Defaults to xz.
	ValidatorInstall   []string                     // Install command in the validator; the package path is appended.
	KeepFailedArtifact bool                         // Keep the .deb when validation fails.
	Source             source.Options               // Source acquisition settings.
	Output             func(stage string) io.Writer // Sink for a stage's output. May be nil.
	Metrics            *metrics.Recorder            // May be nil.
}

// Install command used when none is configured.
var DefaultValidatorInstall = []string{"apt-get", "install", "-y", "--no-install-recommends"}

// Outcome of a build.
type Report struct {
	State       State          // Done or Failed.
	FailedAt    State          // State the build failed in. Meaningful only when State is Failed.
	Success     bool           // The package was built and validated.
	Artifact    *deb.Archive   // Written package. May be set on failure when validation failed.
	FailedStage string         // Name of the first failing stage.
	Result      *stage.Result  // Result of the failing stage, when it ran in a container.
	Err         error          // Why the build failed.
	Elapsed     time.Duration  // Wall time of the whole build.
	Stages      []stage.Result // Every stage that ran, in order.
}

// Short outcome label: "done", "failed" or "cancelled".
func (r *Report) Outcome() string {
	switch {
	case r.Success:
		return "done"
	case errors.Is(r.Err, ErrCancelled):
		return "cancelled"
	}
	return "failed"
}

// Runs a build to completion.
//
// Run never returns nil. Cancelling ctx stops the build at the next state
// boundary, or kills the running stage. Containers are destroyed before Run
// returns, whatever the outcome.
func Run(ctx context.Context, rt Runtime, opts Options) *Report {
	p := newPipeline(rt, opts)
	start := time.Now()

	slog.Info("build started",
		"package", opts.Recipe.Metadata.Name,
		"version", opts.Recipe.Metadata.FullVersion(),
		"workdir", p.workdir,
		"output", opts.OutputDir,
	)

	defer p.teardown(context.WithoutCancel(ctx))

	state := Bootstrapping
	for !state.Terminal() {
		t := transitions[state]

		if err := ctx.Err(); err != nil {
			p.fail(state, t.stage, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx)))
			break
		}

		if t.skip != nil && t.skip(p) {
			slog.Info("skipping state", "state", state)
			state = t.next
			continue
		}

		slog.Debug("entering state", "state", state)
		if err := t.run(p, ctx); err != nil {
			if ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
				err = fmt.Errorf("%w: %w", ErrCancelled, err)
			}
			p.fail(state, t.stage, err)
			break
		}
		state = t.next
	}

	if !p.report.State.Terminal() {
		p.report.State = Done
		p.report.Success = true
	}
	p.report.Elapsed = time.Since(start)
	opts.Metrics.Build(p.report.Outcome(), p.report.Elapsed)

	if p.report.Success {
		slog.Info("build finished", "artifact", p.report.Artifact.Path, "elapsed", p.report.Elapsed)
	} else {
		slog.Error("build failed", "state", p.report.FailedAt, "stage", p.report.FailedStage, "error", p.report.Err, "elapsed", p.report.Elapsed)
	}
	return p.report
}

// Mutable state of one build.
type pipeline struct {
	rt      Runtime
	opts    Options
	recipe  *recipe.Recipe
	id      string    // Short random build identifier.
	workdir string    // Work directory inside both containers.
	env     stage.Env // Extra environment for recipe scripts.

	builder   stage.Container
	validator stage.Container

	before *snapshot.Snapshot
	after  *snapshot.Snapshot
	delta  *snapshot.Delta

	report *Report
}

func newPipeline(rt Runtime, opts Options) *pipeline {
	if opts.Exclusions == nil {
		opts.Exclusions = snapshot.DefaultExclusions
	}
	if len(opts.ValidatorInstall) == 0 {
		opts.ValidatorInstall = DefaultValidatorInstall
	}

	u := uuid.New()
	workdir := path.Join(workRoot, "cruxdeb-"+u.String())

	// The work directory must never end up in the package.
	opts.Exclusions = append(append(snapshot.Exclusions{}, opts.Exclusions...), workdir)

	m := opts.Recipe.Metadata
	return &pipeline{
		rt:      rt,
		opts:    opts,
		recipe:  opts.Recipe,
		id:      u.String()[:8],
		workdir: workdir,
		env: stage.Env{
			"CRUXDEB_WORKDIR":    workdir,
			"CRUXDEB_PKGNAME":    m.Name,
			"CRUXDEB_PKGVERSION": m.Version,
			"CRUXDEB_PKGRELEASE": m.Release,
			"CRUXDEB_ARCH":       m.Architecture,
		},
		report: &Report{},
	}
}

// Moves the report to Failed.
func (p *pipeline) fail(state State, stageName string, err error) {
	p.report.State = Failed
	p.report.FailedAt = state
	p.report.FailedStage = stageName
	p.report.Err = err

	var f *stage.Failure
	if errors.As(err, &f) {
		p.report.FailedStage = f.Result.Stage
	}
}

// Returns the id for a container playing role.
func (p *pipeline) containerID(role string) string {
	return fmt.Sprintf("cruxdeb-%s-%s-%s", p.recipe.Metadata.Name, role, p.id)
}

func (p *pipeline) output(stageName string) io.Writer {
	if p.opts.Output == nil {
		return io.Discard
	}
	if w := p.opts.Output(stageName); w != nil {
		return w
	}
	return io.Discard
}

// Runs one recipe stage and records its result.
func (p *pipeline) runStage(ctx context.Context, ctr stage.Container, name string, ex stage.Executor) error {
	runner := &stage.Runner{Output: p.output(name), Timeout: p.opts.StageTimeout}
	res, err := runner.Run(ctx, ctr, name, ex)
	if res == nil {
		return err
	}

	p.report.Stages = append(p.report.Stages, *res)
	p.opts.Metrics.Stage(name, res.Elapsed, failureReason(err))

	if err != nil {
		p.report.Result = res
	}
	return err
}

func failureReason(err error) string {
	var f *stage.Failure
	switch {
	case err == nil:
		return ""
	case errors.As(err, &f) && f.Result.TimedOut:
		return metrics.ReasonTimeout
	case errors.As(err, &f):
		return metrics.ReasonExit
	}
	return metrics.ReasonError
}

// Starts a container for role from image.
func (p *pipeline) start(ctx context.Context, role, image string) (stage.Container, error) {
	ctr, err := p.rt.Start(ctx, image, p.containerID(role))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrContainer, role, err)
	}
	return ctr, nil
}

// Destroys whatever containers are still live.
func (p *pipeline) teardown(ctx context.Context) {
	if p.builder != nil {
		p.builder.Destroy(ctx)
		p.builder = nil
	}
	if p.validator != nil {
		p.validator.Destroy(ctx)
		p.validator = nil
	}
}

// Reads the recipe's maintainer scripts.
func (p *pipeline) maintainerScripts() (map[string][]byte, error) {
	scripts := make(map[string][]byte, len(p.recipe.Maintainer))
	for name, hostPath := range p.recipe.Maintainer {
		body, err := os.ReadFile(hostPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
		}
		scripts[name] = body
	}
	return scripts, nil
}

// Ensures the output directory exists.
func (p *pipeline) outputDir() (string, error) {
	dir := p.opts.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return "", fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}
	return dir, nil
}
