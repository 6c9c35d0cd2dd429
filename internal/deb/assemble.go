package deb

import (
	"archive/tar"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/blakesmith/ar"

	"github.com/cruciblehq/cruxdeb/internal/compress"
	"github.com/cruciblehq/cruxdeb/internal/control"
	"github.com/cruciblehq/cruxdeb/internal/snapshot"
)

const (
	formatVersion = "2.0\n"

	memberBinary  = "debian-binary"
	memberControl = "control.tar"
	memberData    = "data.tar"
)

// Maintainer script names accepted in [Options.Scripts].
var scriptNames = map[string]bool{
	"preinst":  true,
	"postinst": true,
	"prerm":    true,
	"postrm":   true,
	"config":   true,
}

// Assembly options.
type Options struct {
	Compression compress.Format   // Member compression. Defaults to xz.
	Scripts     map[string][]byte // Maintainer scripts by name.
	ModTime     time.Time         // Timestamp for every member. Defaults to now.
}

// A package written to disk.
type Archive struct {
	Path          string // Absolute path of the .deb file.
	Filename      string // Base name, {name}_{version}-{release}_{arch}.deb.
	InstalledSize int64  // Installed-Size in KiB.
	Files         int    // Regular files in the data member.
	Entries       int    // All entries in the data member, synthesized parents included.
	Size          int64  // Size of the .deb file in bytes.
}

// Builds a package from delta and writes it into workdir.
//
// The file is written under a temporary name and renamed into place, so
// workdir never holds a partial package. An empty delta fails with
// [ErrEmptyDelta] before anything is written.
func Assemble(delta *snapshot.Delta, meta *control.Metadata, workdir string, opts Options) (*Archive, error) {
	if delta == nil || len(delta.Changes) == 0 {
		return nil, ErrEmptyDelta
	}
	if opts.Compression == "" {
		opts.Compression = compress.Xz
	}
	if opts.ModTime.IsZero() {
		opts.ModTime = time.Now()
	}
	opts.ModTime = opts.ModTime.UTC().Truncate(time.Second)

	for name := range opts.Scripts {
		if !scriptNames[name] {
			return nil, fmt.Errorf("%w: %q is not a maintainer script name", ErrInvalidScript, name)
		}
	}

	entries := withParents(delta.Changes)

	data, sums, err := buildData(entries, opts)
	if err != nil {
		return nil, &AssemblyError{Op: "data", Err: err}
	}

	size := installedSize(entries)
	ctrl, err := buildControl(meta.Control(size), sums, conffiles(entries), opts)
	if err != nil {
		return nil, &AssemblyError{Op: "control", Err: err}
	}

	a := &Archive{
		Filename:      meta.Filename(),
		InstalledSize: size,
		Files:         len(sums),
		Entries:       len(entries),
	}
	a.Path, err = filepath.Abs(filepath.Join(workdir, a.Filename))
	if err != nil {
		return nil, &AssemblyError{Op: "resolve", Path: workdir, Err: err}
	}

	members := []member{
		{name: memberBinary, body: []byte(formatVersion)},
		{name: memberControl + opts.Compression.Extension(), body: ctrl},
		{name: memberData + opts.Compression.Extension(), body: data},
	}
	if a.Size, err = writeAtomic(a.Path, members, opts.ModTime); err != nil {
		return nil, err
	}

	if len(delta.Removed) > 0 {
		slog.Warn("paths removed by the install cannot be represented in the package",
			"count", len(delta.Removed), "first", delta.Removed[0])
	}
	slog.Debug("package assembled", "path", a.Path, "files", a.Files, "installed_size", a.InstalledSize)

	return a, nil
}

// Adds a directory entry for every ancestor the delta does not carry.
//
// The result is sorted by path, so parents always precede their children.
func withParents(changes []snapshot.Entry) []snapshot.Entry {
	present := make(map[string]bool, len(changes))
	for i := range changes {
		present[changes[i].Path] = true
	}

	out := append([]snapshot.Entry(nil), changes...)
	for i := range changes {
		for p := path.Dir(changes[i].Path); p != "/"; p = path.Dir(p) {
			if present[p] {
				continue
			}
			present[p] = true
			out = append(out, snapshot.Entry{
				Path:  p,
				Kind:  snapshot.KindDirectory,
				Mode:  0755,
				Uname: "root",
				Gname: "root",
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Sum of regular file sizes in KiB, each rounded up to a whole block.
func installedSize(entries []snapshot.Entry) int64 {
	var kib int64
	for i := range entries {
		if entries[i].Kind == snapshot.KindFile {
			kib += (entries[i].Size + 1023) / 1024
		}
	}
	return kib
}

// Files under /etc, which dpkg treats as configuration.
func conffiles(entries []snapshot.Entry) []string {
	var out []string
	for i := range entries {
		if entries[i].Kind == snapshot.KindFile && strings.HasPrefix(entries[i].Path, "/etc/") {
			out = append(out, entries[i].Path)
		}
	}
	return out
}

// Writes the data member and returns it with the md5sums lines.
func buildData(entries []snapshot.Entry, opts Options) ([]byte, []string, error) {
	var sums []string

	body, err := compressedTar(opts.Compression, func(tw *tar.Writer) error {
		if err := tw.WriteHeader(dirHeader("./", 0755, opts.ModTime)); err != nil {
			return err
		}
		for i := range entries {
			e := &entries[i]
			hdr, err := entryHeader(e, opts.ModTime)
			if err != nil {
				return err
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return fmt.Errorf("%s: %w", e.Path, err)
			}
			if e.Kind != snapshot.KindFile {
				continue
			}
			if _, err := tw.Write(e.Content); err != nil {
				return fmt.Errorf("%s: %w", e.Path, err)
			}
			sum := md5.Sum(e.Content)
			sums = append(sums, hex.EncodeToString(sum[:])+"  "+strings.TrimPrefix(e.Path, "/"))
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return body, sums, nil
}

// Writes the control member.
func buildControl(p *control.Paragraph, sums, conf []string, opts Options) ([]byte, error) {
	return compressedTar(opts.Compression, func(tw *tar.Writer) error {
		if err := tw.WriteHeader(dirHeader("./", 0755, opts.ModTime)); err != nil {
			return err
		}
		if err := writeFile(tw, "./control", 0644, p.Bytes(), opts.ModTime); err != nil {
			return err
		}
		if err := writeFile(tw, "./md5sums", 0644, lines(sums), opts.ModTime); err != nil {
			return err
		}
		if len(conf) > 0 {
			if err := writeFile(tw, "./conffiles", 0644, lines(conf), opts.ModTime); err != nil {
				return err
			}
		}

		names := make([]string, 0, len(opts.Scripts))
		for name := range opts.Scripts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := writeFile(tw, "./"+name, 0755, opts.Scripts[name], opts.ModTime); err != nil {
				return err
			}
		}
		return nil
	})
}

// Runs fill against a tar writer and returns the compressed archive.
func compressedTar(format compress.Format, fill func(*tar.Writer) error) ([]byte, error) {
	var buf bytes.Buffer

	cw, err := format.Writer(&buf)
	if err != nil {
		return nil, err
	}
	tw := tar.NewWriter(cw)

	if err := fill(tw); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := cw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Tar header for a delta entry.
func entryHeader(e *snapshot.Entry, mtime time.Time) (*tar.Header, error) {
	name := "." + e.Path
	hdr := &tar.Header{
		Name:    name,
		Mode:    tarMode(e.Mode),
		Uid:     e.UID,
		Gid:     e.GID,
		Uname:   e.Uname,
		Gname:   e.Gname,
		ModTime: mtime,
	}

	switch e.Kind {
	case snapshot.KindDirectory:
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
	case snapshot.KindSymlink:
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = e.Linkname
	case snapshot.KindFile:
		if int64(len(e.Content)) != e.Size {
			return nil, fmt.Errorf("%s: have %d of %d content bytes", e.Path, len(e.Content), e.Size)
		}
		hdr.Typeflag = tar.TypeReg
		hdr.Size = e.Size
	default:
		return nil, fmt.Errorf("%s: cannot package a %s", e.Path, e.Kind)
	}
	return hdr, nil
}

func dirHeader(name string, mode int64, mtime time.Time) *tar.Header {
	return &tar.Header{
		Typeflag: tar.TypeDir,
		Name:     name,
		Mode:     mode,
		Uname:    "root",
		Gname:    "root",
		ModTime:  mtime,
	}
}

func writeFile(tw *tar.Writer, name string, mode int64, body []byte, mtime time.Time) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     mode,
		Size:     int64(len(body)),
		Uname:    "root",
		Gname:    "root",
		ModTime:  mtime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(body)
	return err
}

// Converts permission and special bits to the tar mode field.
func tarMode(m fs.FileMode) int64 {
	mode := int64(m.Perm())
	if m&fs.ModeSetuid != 0 {
		mode |= 04000
	}
	if m&fs.ModeSetgid != 0 {
		mode |= 02000
	}
	if m&fs.ModeSticky != 0 {
		mode |= 01000
	}
	return mode
}

func lines(ls []string) []byte {
	if len(ls) == 0 {
		return nil
	}
	return []byte(strings.Join(ls, "\n") + "\n")
}

type member struct {
	name string
	body []byte
}

// Writes the ar envelope to a temporary file next to dest and renames it
// into place. Returns the final file size.
func writeAtomic(dest string, members []member, mtime time.Time) (int64, error) {
	f, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return 0, &AssemblyError{Op: "create", Path: dest, Err: err}
	}
	tmp := f.Name()

	fail := func(op string, err error) (int64, error) {
		f.Close()
		os.Remove(tmp)
		return 0, &AssemblyError{Op: op, Path: tmp, Err: err}
	}

	if err := writeEnvelope(f, members, mtime); err != nil {
		return fail("write", err)
	}
	if err := f.Chmod(0644); err != nil {
		return fail("chmod", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}
	info, err := f.Stat()
	if err != nil {
		return fail("stat", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, &AssemblyError{Op: "close", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return 0, &AssemblyError{Op: "rename", Path: dest, Err: err}
	}
	return info.Size(), nil
}

// Each member body is written in a single call; the ar writer pads odd
// sized writes to an even boundary.
func writeEnvelope(w io.Writer, members []member, mtime time.Time) error {
	aw := ar.NewWriter(w)
	if err := aw.WriteGlobalHeader(); err != nil {
		return err
	}
	for _, m := range members {
		hdr := &ar.Header{
			Name:    m.name,
			ModTime: mtime,
			Mode:    0644,
			Size:    int64(len(m.body)),
		}
		if err := aw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("%s: %w", m.name, err)
		}
		if _, err := aw.Write(m.body); err != nil {
			return fmt.Errorf("%s: %w", m.name, err)
		}
	}
	return nil
}
