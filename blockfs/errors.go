package blockfs

import (
	"errors"

	"github.com/rarydzu/blockfs/blockfs/dir"
	"github.com/rarydzu/blockfs/blockfs/file"
	"github.com/rarydzu/blockfs/blockfs/pathsep"
	"github.com/rarydzu/blockfs/blockfs/volume"
)

var (
	// ErrParentNotFound is returned when an intermediate path component is
	// not an existing directory.
	ErrParentNotFound = errors.New("parent directory not found")

	ErrInvalidPath   = pathsep.ErrInvalidPath
	ErrNotFound      = dir.ErrNotFound
	ErrExists        = dir.ErrExists
	ErrNotEmpty      = dir.ErrNotEmpty
	ErrNameTooLong   = dir.ErrNameTooLong
	ErrInvalidName   = dir.ErrInvalidName
	ErrClosed        = file.ErrClosed
	ErrReadOnly      = file.ErrReadOnly
	ErrTooLarge      = file.ErrTooLarge
	ErrImageTooSmall = volume.ErrImageTooSmall
	ErrInvalidImage  = volume.ErrInvalidImage
	ErrVolumeFull    = volume.ErrVolumeFull
	ErrCorrupted     = volume.ErrCorrupted
)

// IsFatal reports whether err means the volume cannot be trusted anymore.
func IsFatal(err error) bool {
	return volume.IsFatal(err)
}
