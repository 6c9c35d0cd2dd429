package snapshot

import (
	"archive/tar"
	"bytes"
	_ "crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/opencontainers/go-digest"
)

// Point-in-time view of a container filesystem.
//
// Entries are stored in insertion order in a flat slice; index maps each
// normalized path to its position.
type Snapshot struct {
	source  string
	entries []Entry
	index   map[string]int
	pending map[string]string // Hard link path to target, content not yet read.
}

// Creates an empty snapshot of the given source (typically a container ID).
func New(source string) *Snapshot {
	return &Snapshot{
		source:  source,
		index:   make(map[string]int),
		pending: make(map[string]string),
	}
}

// Identifier of the filesystem the snapshot was taken from.
func (s *Snapshot) Source() string {
	return s.source
}

// Number of entries.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Adds an entry, normalizing its path. A later entry for the same path
// replaces the earlier one, as tar extraction would.
func (s *Snapshot) Add(e Entry) error {
	p, err := NormalizePath(e.Path)
	if err != nil {
		return err
	}
	e.Path = p
	e.Mode &= modeMask
	delete(s.pending, p)

	if i, ok := s.index[p]; ok {
		s.entries[i] = e
		return nil
	}
	s.index[p] = len(s.entries)
	s.entries = append(s.entries, e)
	return nil
}

// Returns the entry at path.
func (s *Snapshot) Lookup(p string) (*Entry, bool) {
	p, err := NormalizePath(p)
	if err != nil {
		return nil, false
	}
	i, ok := s.index[p]
	if !ok {
		return nil, false
	}
	return &s.entries[i], true
}

// Changed hard links whose content the archive did not carry, keyed by
// link path. Values are the link targets. See [Snapshot.ResolveLink].
func (s *Snapshot) Unresolved() map[string]string {
	m := make(map[string]string, len(s.pending))
	for k, v := range s.pending {
		m[k] = v
	}
	return m
}

// Supplies the content of an unresolved hard link from a tar stream of its
// target, such as one produced by archiving the target path alone.
//
// The first regular file in the stream must match the digest recorded for
// the link; otherwise the target changed after the snapshot was taken.
func (s *Snapshot) ResolveLink(link string, r io.Reader) error {
	p, err := NormalizePath(link)
	if err != nil {
		return err
	}
	if _, ok := s.pending[p]; !ok {
		return fmt.Errorf("%w: %s is not an unresolved hard link", ErrInconsistentSnapshot, p)
	}
	e, _ := s.Lookup(p)

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: no content for %s", ErrUnpackableHardlink, p)
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		if hdr.Typeflag != tar.TypeReg && hdr.Typeflag != tar.TypeRegA {
			continue
		}

		d := digest.Canonical.Digester()
		var buf bytes.Buffer
		if _, err := io.Copy(io.MultiWriter(d.Hash(), &buf), tr); err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		if d.Digest() != e.Digest {
			return fmt.Errorf("%w: %s changed while capturing %s", ErrUnpackableHardlink, s.pending[p], p)
		}
		e.Content = buf.Bytes()
		delete(s.pending, p)
		return nil
	}
}

// Configures [Capture].
type CaptureOption func(*capture)

type capture struct {
	baseline *Snapshot
	exclude  Exclusions
	hidden   map[string]Entry // Excluded regular files, for hard link targets.
}

// Retains the content of every regular file that is absent from baseline
// or differs from it.
func WithBaseline(baseline *Snapshot) CaptureOption {
	return func(c *capture) {
		c.baseline = baseline
	}
}

// Skips excluded paths while reading the archive.
func WithExclusions(x Exclusions) CaptureOption {
	return func(c *capture) {
		c.exclude = x
	}
}

// Builds a snapshot from a tar stream of a filesystem root.
//
// Paths are normalized to absolute form. Device nodes and FIFOs are skipped.
// Hard links take the digest of their target and, when the link itself is
// a change, its content. When that content is not in the stream (the
// target is unchanged or excluded) the link is left unresolved.
func Capture(r io.Reader, source string, opts ...CaptureOption) (*Snapshot, error) {
	c := capture{hidden: make(map[string]Entry)}
	for _, opt := range opts {
		opt(&c)
	}

	s := New(source)
	tr := tar.NewReader(r)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading snapshot archive: %w", err)
		}

		p, err := NormalizePath(hdr.Name)
		if err != nil {
			return nil, err
		}
		if c.exclude.Match(p) {
			if err := c.hide(tr, hdr, p); err != nil {
				return nil, err
			}
			continue
		}

		e := Entry{
			Path:  p,
			Mode:  hdr.FileInfo().Mode() & modeMask,
			UID:   hdr.Uid,
			GID:   hdr.Gid,
			Uname: hdr.Uname,
			Gname: hdr.Gname,
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			e.Kind = KindDirectory

		case tar.TypeSymlink:
			e.Kind = KindSymlink
			e.Linkname = hdr.Linkname

		case tar.TypeReg, tar.TypeRegA:
			e.Kind = KindFile
			if err := c.readContent(tr, &e); err != nil {
				return nil, fmt.Errorf("reading %s: %w", p, err)
			}

		case tar.TypeLink:
			target, err := c.resolveHardlink(s, hdr, &e)
			if err != nil {
				return nil, err
			}
			if err := s.Add(e); err != nil {
				return nil, err
			}
			if target != "" {
				s.pending[p] = target
			}
			continue

		default:
			slog.Debug("skipping special file", "path", p, "type", string(hdr.Typeflag))
			continue
		}

		if err := s.Add(e); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Digests a regular file and keeps its content when it differs from the
// baseline.
func (c *capture) readContent(r io.Reader, e *Entry) error {
	d := digest.Canonical.Digester()

	if c.baseline == nil {
		n, err := io.Copy(d.Hash(), r)
		if err != nil {
			return err
		}
		e.Size, e.Digest = n, d.Digest()
		return nil
	}

	var buf bytes.Buffer
	n, err := io.Copy(io.MultiWriter(d.Hash(), &buf), r)
	if err != nil {
		return err
	}
	e.Size, e.Digest = n, d.Digest()

	if c.changed(e) {
		e.Content = buf.Bytes()
	}
	return nil
}

// Records the digest of an excluded regular file.
func (c *capture) hide(r io.Reader, hdr *tar.Header, p string) error {
	if hdr.Typeflag != tar.TypeReg && hdr.Typeflag != tar.TypeRegA {
		return nil
	}
	d := digest.Canonical.Digester()
	n, err := io.Copy(d.Hash(), r)
	if err != nil {
		return fmt.Errorf("reading %s: %w", p, err)
	}
	c.hidden[p] = Entry{Path: p, Kind: KindFile, Size: n, Digest: d.Digest()}
	return nil
}

// Copies state from a hard link's target, which precedes it in the archive.
// Returns the target path when the link is a change whose content must be
// read separately.
func (c *capture) resolveHardlink(s *Snapshot, hdr *tar.Header, e *Entry) (string, error) {
	target, ok := s.Lookup(hdr.Linkname)
	if !ok {
		if p, err := NormalizePath(hdr.Linkname); err == nil {
			if h, hid := c.hidden[p]; hid {
				target, ok = &h, true
			}
		}
	}
	if !ok || target.Kind != KindFile {
		return "", fmt.Errorf("%w: hard link %s points to missing %s", ErrInconsistentSnapshot, e.Path, hdr.Linkname)
	}

	e.Kind = KindFile
	e.Size = target.Size
	e.Digest = target.Digest

	if c.baseline == nil || !c.changed(e) {
		return "", nil
	}
	if target.Content == nil && target.Size > 0 {
		return target.Path, nil
	}
	e.Content = target.Content
	return "", nil
}

// Reports whether e differs from its baseline counterpart.
func (c *capture) changed(e *Entry) bool {
	prev, ok := c.baseline.Lookup(e.Path)
	return !ok || !prev.sameState(e)
}
