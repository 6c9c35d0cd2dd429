// Package source materializes a recipe's source code inside the builder
// container.
//
// Three kinds of source are supported. Git repositories are cloned inside
// the container, so the builder image must carry git. Tarballs are fetched
// on the host into a download cache, unpacked with leading path components
// stripped, and streamed in. Local directories are archived on the host and
// streamed in.
//
//	acq, err := source.New(r.Source, source.Options{CacheDir: paths.Downloads()})
//	if err != nil {
//		return err
//	}
//	dir, err := acq.Acquire(ctx, ctr, "/var/tmp/cruxdeb-1234", os.Stderr)
package source
