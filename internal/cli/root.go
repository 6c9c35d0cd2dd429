package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/cruciblehq/cruxdeb/internal"
	"github.com/cruciblehq/cruxdeb/internal/settings"
)

// Represents the root command for cruxdeb.
var RootCmd struct {
	Quiet   bool       `short:"q" help:"Suppress informational output."`
	Verbose bool       `short:"v" help:"Enable verbose output."`
	Debug   bool       `short:"d" help:"Enable debug output."`
	Socket  string     `short:"s" help:"Override the default Unix socket path." placeholder:"PATH"`
	Config  string     `short:"c" help:"Settings file. Defaults to config.yaml in the user config directory." placeholder:"FILE"`
	Build   BuildCmd   `cmd:"" help:"Build a Debian package from a recipe."`
	Start   StartCmd   `cmd:"" help:"Start the daemon."`
	Submit  SubmitCmd  `cmd:"" help:"Build a recipe on a running daemon."`
	Status  StatusCmd  `cmd:"" help:"Show daemon status."`
	Prune   PruneCmd   `cmd:"" help:"Remove containers left by interrupted builds."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Builds Debian packages by diffing container filesystems.\n\nA recipe's install script runs in a throwaway container; everything it adds or changes becomes the package."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Configures the global logger based on CLI flags.
func configureLogger() {
	if RootCmd.Debug {
		internal.SetMode(internal.ModeDebug, true)
	}
	if RootCmd.Quiet {
		internal.SetMode(internal.ModeQuiet, true)
	}
	if RootCmd.Verbose && !internal.HasMode(internal.ModeVerbose) {
		internal.SetMode(internal.ModeVerbose, true)
		slog.SetDefault(internal.NewLogger(os.Stderr))
	}
}

// Loads settings from the configured file, the environment and overrides.
func loadSettings(overrides map[string]any) (*settings.Settings, error) {
	return settings.Load(RootCmd.Config, overrides)
}
