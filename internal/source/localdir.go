package source

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/cruciblehq/cruxdeb/internal/stage"
)

// Copies a host directory into the container.
type LocalDir struct {
	Path string // Absolute host directory.
}

// The directory keeps its base name under workdir.
func (l *LocalDir) Acquire(ctx context.Context, ctr stage.Container, workdir string, out io.Writer) (string, error) {
	info, err := os.Stat(l.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrAcquire, l.Path)
	}

	name := filepath.Base(l.Path)
	dest := path.Join(workdir, name)

	if err := ctr.MkdirAll(ctx, workdir); err != nil {
		return "", fmt.Errorf("%w: %w", ErrAcquire, err)
	}

	slog.Info("copying local source", "path", l.Path, "dest", dest)
	fmt.Fprintf(out, "+ copy %s into %s\n", l.Path, dest)

	pr, pw := io.Pipe()
	errc := make(chan error, 1)
	go func() {
		tw := tar.NewWriter(pw)
		err := writeDirToTar(tw, l.Path, name)
		if cerr := tw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
		errc <- err
	}()

	if err := ctr.CopyTo(ctx, pr, workdir); err != nil {
		pr.CloseWithError(err)
		<-errc
		return "", fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	if err := <-errc; err != nil {
		return "", fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	return dest, nil
}

// Writes a directory tree to a tar writer rooted at the given archive prefix.
func writeDirToTar(tw *tar.Writer, hostDir, prefix string) error {
	return filepath.WalkDir(hostDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(hostDir, p)
		if err != nil {
			return err
		}

		return writeTarEntry(tw, p, filepath.ToSlash(filepath.Join(prefix, rel)), d)
	})
}

// Writes a single entry. Symlinks are stored as links, not followed.
func writeTarEntry(tw *tar.Writer, hostPath, archivePath string, d os.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(hostPath); err != nil {
			return err
		}
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = archivePath
	if info.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}
