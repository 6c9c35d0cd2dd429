package snapshot

import (
	"fmt"
	"path"
	"strings"
)

// Paths dropped from every delta unless the operator overrides the list.
//
// The defaults cover kernel and runtime mounts, scratch space (which also
// holds the build work directory), and package manager caches and logs
// that bootstrap and install steps commonly touch.
var DefaultExclusions = Exclusions{
	"/proc",
	"/sys",
	"/dev",
	"/run",
	"/tmp",
	"/var/tmp",
	"/var/cache/apt",
	"/var/cache/debconf",
	"/var/cache/ldconfig",
	"/var/lib/apt/lists",
	"/var/lib/dpkg",
	"/var/log",
	"/root/.cache",
	"/etc/ld.so.cache",
}

// Path patterns excluded from snapshots and deltas.
//
// A plain pattern excludes the path itself and everything below it. A
// pattern containing glob meta characters is matched with [path.Match]
// against the path and each of its ancestors.
type Exclusions []string

// Validates and normalizes patterns.
func NewExclusions(patterns []string) (Exclusions, error) {
	x := make(Exclusions, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidPattern, p)
		}
		if _, err := path.Match(p, "/"); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, p, err)
		}
		x = append(x, path.Clean(p))
	}
	return x, nil
}

// Reports whether p, a normalized absolute path, is excluded.
func (x Exclusions) Match(p string) bool {
	for _, pat := range x {
		if !hasMeta(pat) {
			if pat == "/" || p == pat || strings.HasPrefix(p, pat+"/") {
				return true
			}
			continue
		}
		for q := p; ; q = path.Dir(q) {
			if ok, _ := path.Match(pat, q); ok {
				return true
			}
			if q == "/" {
				break
			}
		}
	}
	return false
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, `*?[\`)
}
