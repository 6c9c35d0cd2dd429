package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cruciblehq/cruxdeb/internal/server"
)

// Represents the 'cruxdeb submit' command.
type SubmitCmd struct {
	Recipe string `arg:"" optional:"" default:"." type:"existingdir" help:"Recipe directory. Must be readable by the daemon."`
	Output string `short:"o" default:"." help:"Directory the daemon writes the package to." placeholder:"DIR"`
}

// Executes the submit command.
//
// Blocks until the daemon finishes the build. Interrupting the command
// closes the connection, which cancels the build.
func (c *SubmitCmd) Run(ctx context.Context) error {
	recipeDir, err := filepath.Abs(c.Recipe)
	if err != nil {
		return err
	}
	outputDir, err := filepath.Abs(c.Output)
	if err != nil {
		return err
	}

	var res server.BuildResult
	client := &server.Client{SocketPath: RootCmd.Socket}
	err = client.Do(ctx, server.CmdBuild, &server.BuildRequest{
		RecipeDir: recipeDir,
		OutputDir: outputDir,
	}, &res)
	if err != nil {
		return err
	}

	printResult(os.Stdout, &res, true)
	return resultErr(&res)
}
