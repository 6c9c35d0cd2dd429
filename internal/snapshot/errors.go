package snapshot

import "errors"

var (
	ErrInconsistentSnapshot = errors.New("inconsistent snapshot pair")
	ErrInvalidPath          = errors.New("invalid path")
	ErrInvalidPattern       = errors.New("invalid exclusion pattern")
	ErrEmptyDelta           = errors.New("install produced no filesystem changes")
	ErrUnpackableHardlink   = errors.New("hard link content unavailable")
)
