// Package stage runs one step of a package build inside a container.
//
// A stage is a named unit of work (bootstrap, build, install, validate)
// carried out by an [Executor] against a [Container]. The [Runner] wraps
// the executor with a time limit, captures the interleaved stdout and
// stderr of everything it runs, and turns a non-zero exit into a
// [*Failure].
//
//	r := &stage.Runner{Output: os.Stderr, Timeout: time.Hour}
//	res, err := r.Run(ctx, ctr, "build", &stage.Script{
//		Path: "recipe/build.sh",
//		Dir:  "/build/ag",
//	})
//	var f *stage.Failure
//	if errors.As(err, &f) {
//		fmt.Println(f.Result.ExitCode)
//	}
//	_ = res
package stage
