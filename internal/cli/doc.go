// Parses flags, configures logging and runs cruxdeb subcommands.
//
// Global flags:
//
//	-q, --quiet     Suppress informational output.
//	-v, --verbose   Enable verbose output.
//	-d, --debug     Enable debug output.
//	-s, --socket    Unix socket path.
//	-c, --config    Settings file.
//
// Subcommands:
//
//	build     Build a recipe on this host, talking to containerd directly.
//	start     Run the daemon.
//	submit    Send a recipe to a running daemon and wait for the result.
//	status    Query a running daemon.
//	prune     Remove containers left by interrupted builds.
//	version   Show version information.
//
// Flags override build-time defaults set via linker flags. After parsing, the
// global logger is reconfigured to reflect the final level and verbosity before
// the subcommand runs.
package cli
