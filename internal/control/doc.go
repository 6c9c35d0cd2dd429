// Package control resolves user-supplied package metadata into the
// canonical Debian control paragraph.
//
// Raw recipe values are validated all at once: [Resolve] never stops at
// the first problem, it returns a [ValidationError] listing every
// offending field so a recipe can be fixed in a single pass. The resolved
// [Metadata] renders the binary control file in the field order dpkg
// expects and derives the artifact filename.
//
// The package also reads control paragraphs back ([ParseControl]), which
// the archive reader uses to inspect produced packages.
//
// Example usage:
//
//	meta, err := control.Resolve(control.Raw{
//	    Name:         "ag",
//	    Version:      "2.2.0",
//	    Release:      "1",
//	    Architecture: "amd64",
//	    Maintainer:   "Jane Doe <jane@example.com>",
//	    Description:  "The silver searcher",
//	    Requires:     []string{"zlib1g-dev>=1:1.2.8"},
//	})
//	if err != nil {
//	    return err
//	}
//
//	fmt.Println(meta.Filename()) // ag_2.2.0-1_amd64.deb
package control
