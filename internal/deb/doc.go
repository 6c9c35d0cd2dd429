// Package deb assembles Debian binary packages from a filesystem delta.
//
// A package is an ar archive with three members, in order:
//
//	debian-binary          format version, "2.0\n"
//	control.tar.<ext>      control file, md5sums, conffiles, maintainer scripts
//	data.tar.<ext>         the files to install, rooted at "./"
//
// Usage:
//
//	a, err := deb.Assemble(delta, meta, "/var/tmp/work", deb.Options{
//		Compression: compress.Xz,
//	})
//	if err != nil {
//		return err
//	}
//	fmt.Println(a.Path) // /var/tmp/work/ag_2.2.0-1_amd64.deb
//
// [Open] reads a package back for inspection.
package deb
