package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cruciblehq/cruxdeb/internal"
	"github.com/cruciblehq/cruxdeb/internal/build"
	"github.com/cruciblehq/cruxdeb/internal/recipe"
	"github.com/cruciblehq/cruxdeb/internal/runtime"
	"github.com/cruciblehq/cruxdeb/internal/server"
	"github.com/cruciblehq/cruxdeb/internal/settings"
)

// Represents the 'cruxdeb build' command.
type BuildCmd struct {
	Recipe      string        `arg:"" optional:"" default:"." type:"existingdir" help:"Recipe directory."`
	Output      string        `short:"o" default:"." help:"Directory the package is written to." placeholder:"DIR"`
	Timeout     time.Duration `help:"Time limit per stage. Zero keeps the configured limit." placeholder:"DURATION"`
	Compression string        `help:"Package member compression: xz, gzip, zstd or none." placeholder:"FORMAT"`
	Exclude     []string      `help:"Extra paths left out of the package. Replaces the configured list." placeholder:"PATH"`
}

// Returns settings overrides for the flags that were given.
func (c *BuildCmd) overrides() map[string]any {
	o := map[string]any{}
	if c.Timeout != 0 {
		o[settings.KeyStageTimeout] = c.Timeout.String()
	}
	if c.Compression != "" {
		o[settings.KeyCompression] = c.Compression
	}
	if len(c.Exclude) > 0 {
		o[settings.KeyExclude] = c.Exclude
	}
	return o
}

// Executes the build command.
//
// Talks to containerd directly; no daemon is needed. Stage output is streamed
// to stderr unless quiet mode is on.
func (c *BuildCmd) Run(ctx context.Context) error {
	st, err := loadSettings(c.overrides())
	if err != nil {
		return err
	}

	r, err := recipe.Load(c.Recipe, runtime.HostArchitecture())
	if err != nil {
		return err
	}

	rt, err := runtime.New(st.ContainerdAddress, st.ContainerdNamespace, st.Snapshotter)
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := st.BuildOptions(r, c.Output)
	var out *stageOutput
	if !internal.HasMode(internal.ModeQuiet) {
		out = newStageOutput(os.Stderr, useColor(os.Stderr))
		opts.Output = out.For
	}

	report := build.Run(ctx, rt, opts)
	if out != nil {
		out.Flush()
	}

	printResult(os.Stdout, server.NewBuildResult(report), out == nil)
	if report.Success {
		return nil
	}
	return report.Err
}

// Error returned when a build ran but did not succeed.
var errBuildFailed = errors.New("build failed")

// Turns an unsuccessful result into an error.
func resultErr(res *server.BuildResult) error {
	if res.Success {
		return nil
	}
	if res.Error != "" {
		return fmt.Errorf("%w: %s", errBuildFailed, res.Error)
	}
	return errBuildFailed
}
