// Package build turns a recipe into a Debian package.
//
// A build is a linear state machine. The builder container is started and
// bootstrapped, the source is placed in its work directory, and the
// optional build script runs. The container filesystem is then captured,
// the install script runs, and the filesystem is captured again; the
// difference between the two captures is what the package installs. The
// package is assembled into the output directory and finally installed
// into a fresh validator container, where the optional validate script
// checks it.
//
// Every step either advances to the next state or moves the build to
// [Failed]. Containers are owned by the build and destroyed on every exit
// path, including cancellation. The outcome is returned as a [Report]
// rather than an error, so callers always get the stage results and
// elapsed time.
//
// Example usage:
//
//	report := build.Run(ctx, rt, build.Options{
//	    Recipe:       r,
//	    OutputDir:    ".",
//	    StageTimeout: time.Hour,
//	})
//	if !report.Success {
//	    return report.Err
//	}
package build
