package deb

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/blakesmith/ar"

	"github.com/cruciblehq/cruxdeb/internal/compress"
	"github.com/cruciblehq/cruxdeb/internal/control"
)

// One entry of the data member.
type File struct {
	Path     string      // Absolute path, as installed.
	Mode     fs.FileMode // Type and permission bits.
	UID      int
	GID      int
	Size     int64
	Linkname string
}

// Decoded package.
type Contents struct {
	Control   *control.Paragraph
	MD5Sums   map[string]string // Installed path to hex digest.
	Conffiles []string
	Scripts   map[string][]byte
	Files     []File // Data member entries in archive order, "./" excluded.
}

// Reads the package at path.
func Open(path string) (*Contents, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Decodes a package from r.
func Read(r io.Reader) (*Contents, error) {
	c := &Contents{
		MD5Sums: make(map[string]string),
		Scripts: make(map[string][]byte),
	}

	rd := ar.NewReader(r)
	var seen []string
	for {
		hdr, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedDeb, err)
		}
		name := strings.TrimSuffix(strings.TrimSpace(hdr.Name), "/")
		seen = append(seen, name)

		switch {
		case name == memberBinary:
			b, err := io.ReadAll(rd)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrMalformedDeb, err)
			}
			if !strings.HasPrefix(string(b), "2.") {
				return nil, fmt.Errorf("%w: unsupported format version %q", ErrMalformedDeb, strings.TrimSpace(string(b)))
			}
		case strings.HasPrefix(name, memberControl):
			if err := readMember(name, rd, c.readControl); err != nil {
				return nil, err
			}
		case strings.HasPrefix(name, memberData):
			if err := readMember(name, rd, c.readData); err != nil {
				return nil, err
			}
		}
	}

	if len(seen) < 3 || seen[0] != memberBinary {
		return nil, fmt.Errorf("%w: unexpected members %v", ErrMalformedDeb, seen)
	}
	if c.Control == nil {
		return nil, fmt.Errorf("%w: no control file", ErrMalformedDeb)
	}
	return c, nil
}

// Decompresses a tar member by its suffix and walks it.
func readMember(name string, r io.Reader, walk func(*tar.Reader) error) error {
	format, err := compress.FromFilename(name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedDeb, err)
	}
	zr, err := format.Reader(r)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedDeb, name, err)
	}
	defer zr.Close()

	if err := walk(tar.NewReader(zr)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedDeb, name, err)
	}
	return nil
}

func (c *Contents) readControl(tr *tar.Reader) error {
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			return err
		}

		switch name := strings.TrimPrefix(hdr.Name, "./"); name {
		case "control":
			if c.Control, err = control.ParseControl(bytes.NewReader(body)); err != nil {
				return err
			}
		case "md5sums":
			sc := bufio.NewScanner(bytes.NewReader(body))
			for sc.Scan() {
				sum, p, ok := strings.Cut(sc.Text(), "  ")
				if !ok {
					return fmt.Errorf("md5sums: malformed line %q", sc.Text())
				}
				c.MD5Sums["/"+p] = sum
			}
		case "conffiles":
			c.Conffiles = strings.Fields(string(body))
		default:
			if scriptNames[name] {
				c.Scripts[name] = body
			}
		}
	}
}

func (c *Contents) readData(tr *tar.Reader) error {
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		p := "/" + strings.Trim(strings.TrimPrefix(hdr.Name, "./"), "/")
		if p == "/" {
			continue
		}
		c.Files = append(c.Files, File{
			Path:     p,
			Mode:     hdr.FileInfo().Mode(),
			UID:      hdr.Uid,
			GID:      hdr.Gid,
			Size:     hdr.Size,
			Linkname: hdr.Linkname,
		})
	}
}

// Looks up a data entry by installed path.
func (c *Contents) File(path string) (File, bool) {
	for _, f := range c.Files {
		if f.Path == path {
			return f, true
		}
	}
	return File{}, false
}
