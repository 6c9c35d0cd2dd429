// Package server implements the cruxdeb daemon.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands.
// Each connection carries a single request-response exchange: the client
// sends a newline-delimited JSON envelope, the server dispatches the
// command, and writes the result back before closing the connection.
//
// A build command names a recipe directory and an output directory on the
// daemon host. The daemon loads the recipe, runs it through the build
// package with the operator settings, and replies with the outcome once the
// build finishes. Closing the connection early cancels the build.
//
// When a metrics address is configured, build and stage metrics are served
// over HTTP at /metrics.
//
// Example usage:
//
//	srv, err := server.New(server.Config{Settings: st})
//	if err != nil {
//	    return err
//	}
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	srv.Wait()
//
// Clients use [Client]:
//
//	var res server.BuildResult
//	err := (&server.Client{}).Do(ctx, server.CmdBuild, &server.BuildRequest{
//	    RecipeDir: "/srv/recipes/ag",
//	    OutputDir: "/srv/out",
//	}, &res)
package server
