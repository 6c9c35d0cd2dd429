package snapshot

import (
	"fmt"
	"sort"
)

// Changes between two snapshots of the same filesystem.
//
// A path is either in Changes or in Removed, never both.
type Delta struct {
	Changes []Entry  // Added or modified entries, carrying the later state, sorted by path.
	Removed []string // Paths present before and absent after, sorted.
}

// Reports whether the delta holds no change at all.
func (d *Delta) Empty() bool {
	return len(d.Changes) == 0 && len(d.Removed) == 0
}

// Number of regular files among the changes.
func (d *Delta) Files() int {
	n := 0
	for i := range d.Changes {
		if d.Changes[i].Kind == KindFile {
			n++
		}
	}
	return n
}

// Computes the delta from before to after.
//
// Both snapshots must come from the same source and have a directory at
// the root; anything else is reported as [ErrInconsistentSnapshot]. The
// root itself is never part of the delta. Excluded paths are dropped from
// both sides. Unresolved hard links in after yield [ErrUnpackableHardlink].
func Diff(before, after *Snapshot, exclude Exclusions) (*Delta, error) {
	if err := checkConsistent(before, after); err != nil {
		return nil, err
	}
	if n := len(after.pending); n > 0 {
		return nil, fmt.Errorf("%w: %d hard links left unresolved", ErrUnpackableHardlink, n)
	}

	d := &Delta{}

	for i := range after.entries {
		e := &after.entries[i]
		if e.Path == "/" || exclude.Match(e.Path) {
			continue
		}
		if j, ok := before.index[e.Path]; ok && before.entries[j].sameState(e) {
			continue
		}
		d.Changes = append(d.Changes, *e)
	}

	for i := range before.entries {
		p := before.entries[i].Path
		if p == "/" || exclude.Match(p) {
			continue
		}
		if _, ok := after.index[p]; !ok {
			d.Removed = append(d.Removed, p)
		}
	}

	sort.Slice(d.Changes, func(i, j int) bool { return d.Changes[i].Path < d.Changes[j].Path })
	sort.Strings(d.Removed)

	return d, nil
}

// Rejects snapshot pairs that cannot describe the same filesystem.
func checkConsistent(before, after *Snapshot) error {
	if before == nil || after == nil {
		return fmt.Errorf("%w: missing snapshot", ErrInconsistentSnapshot)
	}
	if before.source != after.source {
		return fmt.Errorf("%w: sources %q and %q differ", ErrInconsistentSnapshot, before.source, after.source)
	}

	for _, s := range []*Snapshot{before, after} {
		root, ok := s.Lookup("/")
		if !ok {
			return fmt.Errorf("%w: snapshot of %q has no root entry", ErrInconsistentSnapshot, s.source)
		}
		if root.Kind != KindDirectory {
			return fmt.Errorf("%w: root of %q is a %s", ErrInconsistentSnapshot, s.source, root.Kind)
		}
	}

	b, _ := before.Lookup("/")
	a, _ := after.Lookup("/")
	if b.UID != a.UID || b.GID != a.GID {
		return fmt.Errorf("%w: root ownership diverges", ErrInconsistentSnapshot)
	}
	return nil
}
