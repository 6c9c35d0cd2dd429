// Package compress maps compression names and filename suffixes to stream
// codecs.
//
// Package members and source tarballs use the same small set of formats:
// gzip, xz, zstd, and (for reading only) bzip2.
//
// Example usage:
//
//	f, err := compress.FromFilename("ag-2.2.0.tar.xz")
//	if err != nil {
//	    return err
//	}
//	zr, err := f.Reader(r)
//	if err != nil {
//	    return err
//	}
//	defer zr.Close()
package compress
