// Package snapshot captures container filesystems and computes the delta
// an install step introduced.
//
// A [Snapshot] is built from a tar stream of a container's root
// filesystem. Entries live in a flat arena indexed by normalized absolute
// path, so comparing two snapshots is linear in the total entry count.
// Regular files are identified by the digest of their content; symlinks by
// their target string, never by dereferencing them.
//
// The pre-install snapshot only records digests. The post-install snapshot
// is captured against it as a baseline and retains the bytes of files whose
// digest differs, so the resulting [Delta] carries exactly the content the
// package assembler needs without a second pass over the container.
//
// Example usage:
//
//	before, err := snapshot.Capture(preTar, ctr.ID())
//	if err != nil {
//	    return err
//	}
//
//	after, err := snapshot.Capture(postTar, ctr.ID(), snapshot.WithBaseline(before))
//	if err != nil {
//	    return err
//	}
//
//	delta, err := snapshot.Diff(before, after, snapshot.DefaultExclusions)
//	if err != nil {
//	    return err
//	}
package snapshot
