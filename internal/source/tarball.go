package source

import (
	"archive/tar"
	"context"
	_ "crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/opencontainers/go-digest"

	"github.com/cruciblehq/cruxdeb/internal/compress"
	"github.com/cruciblehq/cruxdeb/internal/stage"
)

// Container directory name the tarball is unpacked into, under workdir.
const tarballDir = "src"

// Downloads and unpacks a tarball.
type Tarball struct {
	URL             string       // http(s) or file URL, or a host path.
	SHA256          string       // Expected hex digest of the archive. Optional.
	StripComponents int          // Leading path elements removed from every member.
	CacheDir        string       // Host directory for downloads. Empty disables caching.
	Client          *http.Client // Defaults to a pooled go-cleanhttp client.
}

func (t *Tarball) Acquire(ctx context.Context, ctr stage.Container, workdir string, out io.Writer) (string, error) {
	local, cleanup, err := t.fetch(ctx)
	if err != nil {
		return "", err
	}
	defer cleanup()

	if err := t.verify(local); err != nil {
		return "", err
	}

	format, err := compress.FromFilename(archiveName(t.URL))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAcquire, err)
	}

	f, err := os.Open(local)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	defer f.Close()

	zr, err := format.Reader(f)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrAcquire, local, err)
	}
	defer zr.Close()

	dest := path.Join(workdir, tarballDir)
	if err := ctr.MkdirAll(ctx, dest); err != nil {
		return "", fmt.Errorf("%w: %w", ErrAcquire, err)
	}

	slog.Info("unpacking tarball", "url", t.URL, "dest", dest, "strip", t.StripComponents)
	fmt.Fprintf(out, "+ unpack %s into %s\n", archiveName(t.URL), dest)

	pr, pw := io.Pipe()
	errc := make(chan error, 1)
	go func() {
		err := stripTar(tar.NewReader(zr), tar.NewWriter(pw), t.StripComponents)
		pw.CloseWithError(err)
		errc <- err
	}()

	if err := ctr.CopyTo(ctx, pr, dest); err != nil {
		pr.CloseWithError(err)
		<-errc
		return "", fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	if err := <-errc; err != nil {
		return "", fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	return dest, nil
}

// Returns a host path holding the archive. Remote archives are downloaded,
// into the cache when one is configured.
func (t *Tarball) fetch(ctx context.Context) (string, func(), error) {
	nop := func() {}

	u, err := url.Parse(t.URL)
	if err != nil {
		return "", nop, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	switch u.Scheme {
	case "":
		return t.URL, nop, nil
	case "file":
		return u.Path, nop, nil
	}

	if t.CacheDir != "" {
		cached := filepath.Join(t.CacheDir, cacheKey(t.URL))
		if _, err := os.Stat(cached); err == nil && t.verify(cached) == nil {
			slog.Debug("using cached download", "url", t.URL, "path", cached)
			return cached, nop, nil
		}
		if err := os.MkdirAll(t.CacheDir, 0755); err != nil {
			return "", nop, fmt.Errorf("%w: %w", ErrDownload, err)
		}
		if err := t.download(ctx, cached); err != nil {
			return "", nop, err
		}
		return cached, nop, nil
	}

	tmp, err := os.CreateTemp("", "cruxdeb-src-*")
	if err != nil {
		return "", nop, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	tmp.Close()
	cleanup := func() { os.Remove(tmp.Name()) }
	if err := t.download(ctx, tmp.Name()); err != nil {
		cleanup()
		return "", nop, err
	}
	return tmp.Name(), cleanup, nil
}

// Downloads the archive to dest through a temporary file in the same
// directory.
func (t *Tarball) download(ctx context.Context, dest string) error {
	client := t.Client
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}

	slog.Info("downloading source", "url", t.URL)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: %s", ErrDownload, t.URL, resp.Status)
	}

	f, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer os.Remove(f.Name())

	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}

	if err := os.Rename(f.Name(), dest); err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	slog.Debug("download complete", "url", t.URL, "bytes", n)
	return nil
}

// Checks the archive against the expected digest, when one is set.
func (t *Tarball) verify(p string) error {
	if t.SHA256 == "" {
		return nil
	}

	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	defer f.Close()

	want := digest.NewDigestFromEncoded(digest.SHA256, strings.ToLower(t.SHA256))
	if err := want.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrChecksum, err)
	}
	v := want.Verifier()
	if _, err := io.Copy(v, f); err != nil {
		return fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	if !v.Verified() {
		return fmt.Errorf("%w: %s does not match %s", ErrChecksum, p, want)
	}
	return nil
}

// Copies members from tr to tw, removing the first n path elements.
//
// Members left with an empty name are dropped. Hard link targets are
// stripped the same way. Paths escaping the archive root are rejected.
func stripTar(tr *tar.Reader, tw *tar.Writer, n int) error {
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return tw.Close()
		}
		if err != nil {
			return err
		}

		name, ok, err := stripPath(hdr.Name, n)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		hdr.Name = name

		if hdr.Typeflag == tar.TypeLink {
			target, ok, err := stripPath(hdr.Linkname, n)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			hdr.Linkname = target
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := io.Copy(tw, tr); err != nil {
			return err
		}
	}
}

func stripPath(name string, n int) (string, bool, error) {
	clean := path.Clean("/" + name)
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", false, fmt.Errorf("%w: %q", ErrUnsafePath, name)
		}
	}

	parts := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	if clean == "/" || len(parts) <= n {
		return "", false, nil
	}
	out := strings.Join(parts[n:], "/")
	if strings.HasSuffix(name, "/") {
		out += "/"
	}
	return out, true, nil
}

// Last path element of a URL or host path.
func archiveName(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return filepath.Base(raw)
}

// Cache file name for a URL: its digest followed by the archive name, so
// the format can still be told from the suffix.
func cacheKey(raw string) string {
	return digest.FromString(raw).Encoded()[:16] + "-" + archiveName(raw)
}
