package build

import (
	"errors"

	"github.com/cruciblehq/cruxdeb/internal/deb"
)

var (
	ErrContainer           = errors.New("container start failed")
	ErrSnapshot            = errors.New("snapshot failed")
	ErrEmptyDelta          = deb.ErrEmptyDelta
	ErrValidation          = errors.New("package validation failed")
	ErrCancelled           = errors.New("build cancelled")
	ErrFileSystemOperation = errors.New("file system operation failed")
)
