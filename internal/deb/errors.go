package deb

import (
	"errors"

	"github.com/cruciblehq/cruxdeb/internal/snapshot"
)

var (
	ErrEmptyDelta    = snapshot.ErrEmptyDelta
	ErrInvalidScript = errors.New("invalid maintainer script")
	ErrMalformedDeb  = errors.New("malformed package")
)

// Failure while producing a package file.
//
// Op names the step that failed and Path the file involved, if any.
type AssemblyError struct {
	Op   string
	Path string
	Err  error
}

func (e *AssemblyError) Error() string {
	if e.Path == "" {
		return "assemble " + e.Op + ": " + e.Err.Error()
	}
	return "assemble " + e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *AssemblyError) Unwrap() error {
	return e.Err
}
