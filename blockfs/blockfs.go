// Package blockfs is a filesystem kept inside a single image of fixed-size
// blocks. All operations take absolute paths.
package blockfs

import (
	"fmt"
	"io"

	"github.com/jacobsa/timeutil"
	"github.com/rarydzu/blockfs/blockfs/dir"
	"github.com/rarydzu/blockfs/blockfs/file"
	"github.com/rarydzu/blockfs/blockfs/pathsep"
	"github.com/rarydzu/blockfs/blockfs/volume"
	"go.uber.org/zap"
)

// Mode selects how OpenFile opens a file.
type Mode = file.Mode

const (
	Read   = file.Read
	Write  = file.Write
	Append = file.Append
)

// FileSystem is not safe for concurrent use.
type FileSystem struct {
	vol   *volume.Volume
	log   *zap.SugaredLogger
	Clock timeutil.Clock
	ps    pathsep.Separator
}

// Option configures a FileSystem.
type Option func(*FileSystem)

// WithClock sets the clock used for entry timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(fs *FileSystem) {
		fs.Clock = c
	}
}

// New wraps an existing volume.
func New(vol *volume.Volume, log *zap.SugaredLogger, opts ...Option) *FileSystem {
	fs := &FileSystem{
		vol:   vol,
		log:   log,
		Clock: timeutil.RealClock(),
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// Format creates an empty filesystem of capacity bytes.
func Format(capacity int, log *zap.SugaredLogger, opts ...Option) (*FileSystem, error) {
	vol, err := volume.Format(capacity, log)
	if err != nil {
		return nil, err
	}
	return New(vol, log, opts...), nil
}

// Load opens the image stored at path.
func Load(path string, log *zap.SugaredLogger, opts ...Option) (*FileSystem, error) {
	vol, err := volume.Load(path, log)
	if err != nil {
		return nil, err
	}
	return New(vol, log, opts...), nil
}

// FromImage opens an in-memory image and takes ownership of it.
func FromImage(img []byte, log *zap.SugaredLogger, opts ...Option) (*FileSystem, error) {
	vol, err := volume.FromImage(img, log)
	if err != nil {
		return nil, err
	}
	return New(vol, log, opts...), nil
}

// TotalBlocks returns the number of blocks in the volume.
func (fs *FileSystem) TotalBlocks() int { return fs.vol.TotalBlocks() }

// UsedBlocks returns the number of allocated blocks.
func (fs *FileSystem) UsedBlocks() int { return fs.vol.UsedBlocks() }

// FreeBlocks returns the number of unallocated blocks.
func (fs *FileSystem) FreeBlocks() int { return fs.vol.FreeBlocks() }

// Capacity returns the image size in bytes.
func (fs *FileSystem) Capacity() int { return fs.vol.Capacity() }

// Save writes the image to path.
func (fs *FileSystem) Save(path string) error {
	if err := fs.vol.Save(path); err != nil {
		fs.log.Errorf("Save(%s): %v", path, err)
		return err
	}
	return nil
}

// Image returns a copy of the whole image.
func (fs *FileSystem) Image() []byte {
	return fs.vol.Image()
}

// WriteTo streams the image to w.
func (fs *FileSystem) WriteTo(w io.Writer) (int64, error) {
	return fs.vol.WriteTo(w)
}

func (fs *FileSystem) root() *dir.Directory {
	return dir.Root(fs.vol, fs.Clock)
}

// locateParent walks every intermediate component of path and returns the
// directory holding the leaf together with the leaf name.
func (fs *FileSystem) locateParent(path string) (*dir.Directory, string, error) {
	if err := fs.ps.Set(path); err != nil {
		return nil, "", err
	}
	d := fs.root()
	for fs.ps.HasNext() {
		child, err := d.OpenDirectory(fs.ps.Next())
		if err != nil {
			if volume.IsFatal(err) {
				return nil, "", err
			}
			return nil, "", ErrParentNotFound
		}
		d = child
	}
	return d, fs.ps.Name(), nil
}

// fail wraps err with the operation and path and logs fatal errors.
func (fs *FileSystem) fail(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if volume.IsFatal(err) {
		fs.log.Errorf("%s(%s): %v", op, path, err)
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}
