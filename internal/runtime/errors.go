package runtime

import "errors"

var (
	ErrRuntime        = errors.New("runtime error")
	ErrPull           = errors.New("image pull failed")
	ErrEmptyArchive   = errors.New("archive contains no image")
	ErrMultipleImages = errors.New("archive contains more than one image")
)
