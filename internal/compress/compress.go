package compress

import (
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

var ErrUnsupported = errors.New("unsupported compression")

// A compression format.
type Format string

const (
	None Format = "none"
	Gzip Format = "gzip"
	Xz   Format = "xz"
	Zstd Format = "zstd"
	Bzip Format = "bzip2"
)

// Parses a format name. The empty string selects [Xz].
func Parse(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case "":
		return Xz, nil
	case None, Gzip, Xz, Zstd:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
}

// Filename suffix for the format, including the dot.
func (f Format) Extension() string {
	switch f {
	case Gzip:
		return ".gz"
	case Xz:
		return ".xz"
	case Zstd:
		return ".zst"
	case Bzip:
		return ".bz2"
	default:
		return ""
	}
}

// Wraps w in a compressing writer. Closing the returned writer flushes the
// stream but does not close w.
func (f Format) Writer(w io.Writer) (io.WriteCloser, error) {
	switch f {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	case Xz:
		return xz.NewWriter(w)
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	default:
		return nil, fmt.Errorf("%w: cannot write %q", ErrUnsupported, f)
	}
}

// Wraps r in a decompressing reader.
func (f Format) Reader(r io.Reader) (io.ReadCloser, error) {
	switch f {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		return gzip.NewReader(r)
	case Xz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case Bzip:
		return io.NopCloser(bzip2.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%w: cannot read %q", ErrUnsupported, f)
	}
}

// Detects the format of a tar archive from its filename.
//
// Recognizes "name.tar" plus the compressed suffixes of every supported
// format, and the short forms ".tgz", ".txz", ".tzst" and ".tbz2".
func FromFilename(name string) (Format, error) {
	n := strings.ToLower(name)
	switch {
	case strings.HasSuffix(n, ".tar"):
		return None, nil
	case strings.HasSuffix(n, ".tar.gz"), strings.HasSuffix(n, ".tgz"):
		return Gzip, nil
	case strings.HasSuffix(n, ".tar.xz"), strings.HasSuffix(n, ".txz"):
		return Xz, nil
	case strings.HasSuffix(n, ".tar.zst"), strings.HasSuffix(n, ".tzst"):
		return Zstd, nil
	case strings.HasSuffix(n, ".tar.bz2"), strings.HasSuffix(n, ".tbz2"):
		return Bzip, nil
	default:
		return "", fmt.Errorf("%w: cannot tell the format of %q", ErrUnsupported, name)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
