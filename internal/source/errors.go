package source

import "errors"

var (
	ErrAcquire         = errors.New("source acquisition failed")
	ErrDownload        = errors.New("download failed")
	ErrChecksum        = errors.New("checksum mismatch")
	ErrUnsupportedType = errors.New("unsupported source type")
	ErrUnsafePath      = errors.New("unsafe archive path")
)
