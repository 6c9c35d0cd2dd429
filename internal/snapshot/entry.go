package snapshot

import (
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Type of a filesystem entry.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindDirectory
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Mode bits that matter for an installed package.
const modeMask = fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

// One path in a snapshot.
type Entry struct {
	Path     string        // Absolute, normalized path.
	Kind     Kind          // File, directory or symlink.
	Mode     fs.FileMode   // Permission bits plus setuid, setgid and sticky.
	UID      int           // Owner user ID.
	GID      int           // Owner group ID.
	Uname    string        // Owner user name, when the archive records one.
	Gname    string        // Owner group name, when the archive records one.
	Size     int64         // Content size in bytes (files only).
	Digest   digest.Digest // Content digest (files only).
	Linkname string        // Link target (symlinks only).
	Content  []byte        // File content; only retained for changed files.
}

// Reports whether two entries describe the same filesystem state.
//
// Files compare by content digest, symlinks by target string. Timestamps
// are ignored.
func (e *Entry) sameState(o *Entry) bool {
	if e.Kind != o.Kind || e.Mode != o.Mode || e.UID != o.UID || e.GID != o.GID {
		return false
	}
	switch e.Kind {
	case KindFile:
		return e.Digest == o.Digest
	case KindSymlink:
		return e.Linkname == o.Linkname
	}
	return true
}

// Converts an archive or user supplied path into normalized absolute form.
//
// Leading "./" and trailing slashes are removed and "." maps to the root.
// Paths containing a ".." segment are rejected.
func NormalizePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q contains '..'", ErrInvalidPath, p)
		}
	}
	return path.Clean("/" + p), nil
}
