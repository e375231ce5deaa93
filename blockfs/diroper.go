package blockfs

import (
	"github.com/rarydzu/blockfs/blockfs/dir"
	"github.com/rarydzu/blockfs/blockfs/pathsep"
)

// DirectoryExists reports whether path names a directory. "/" always exists.
func (fs *FileSystem) DirectoryExists(path string) (bool, error) {
	if path == "/" {
		return true, nil
	}
	d, name, err := fs.locateParent(path)
	if err != nil {
		return false, fs.fail("stat", path, err)
	}
	ok, err := d.Exists(name, dir.TypeDirectory)
	return ok, fs.fail("stat", path, err)
}

// CreateDirectory creates the directory path. Its parent must exist.
func (fs *FileSystem) CreateDirectory(path string) error {
	d, name, err := fs.locateParent(path)
	if err != nil {
		return fs.fail("mkdir", path, err)
	}
	if _, err := d.Create(name, dir.TypeDirectory); err != nil {
		return fs.fail("mkdir", path, err)
	}
	fs.log.Debugf("CreateDirectory(%s)", path)
	return nil
}

// DeleteDirectory removes the empty directory path.
func (fs *FileSystem) DeleteDirectory(path string) error {
	d, name, err := fs.locateParent(path)
	if err != nil {
		return fs.fail("rmdir", path, err)
	}
	return fs.fail("rmdir", path, d.Remove(name, dir.TypeDirectory))
}

// RenameDirectory gives the directory path the name newName inside the same
// parent.
func (fs *FileSystem) RenameDirectory(path, newName string) error {
	d, name, err := fs.locateParent(path)
	if err != nil {
		return fs.fail("renamedir", path, err)
	}
	return fs.fail("renamedir", path, d.Rename(name, newName, dir.TypeDirectory))
}

// ParentDirectory checks that every intermediate component of path is a
// directory and returns the path of the parent, "/" for top level entries.
func (fs *FileSystem) ParentDirectory(path string) (string, error) {
	if err := fs.ps.Set(path); err != nil {
		return "", fs.fail("parent", path, err)
	}
	var parent pathsep.Path
	d := fs.root()
	for fs.ps.HasNext() {
		n := fs.ps.Next()
		child, err := d.OpenDirectory(n)
		if err != nil {
			if IsFatal(err) {
				return "", fs.fail("parent", path, err)
			}
			return "", fs.fail("parent", path, ErrParentNotFound)
		}
		parent.Push(n)
		d = child
	}
	return parent.String(), nil
}

// OpenDirectory returns a handle on the directory path.
func (fs *FileSystem) OpenDirectory(path string) (*dir.Directory, error) {
	if path == "/" {
		return fs.root(), nil
	}
	d, name, err := fs.locateParent(path)
	if err != nil {
		return nil, fs.fail("opendir", path, err)
	}
	child, err := d.OpenDirectory(name)
	if err != nil {
		return nil, fs.fail("opendir", path, err)
	}
	return child, nil
}

// DirectoryIterator returns an iterator over the entries of path.
func (fs *FileSystem) DirectoryIterator(path string) (*dir.Iterator, error) {
	d, err := fs.OpenDirectory(path)
	if err != nil {
		return nil, err
	}
	return d.Iterator(path), nil
}

// List returns every entry of the directory path.
func (fs *FileSystem) List(path string) ([]dir.Entry, error) {
	it, err := fs.DirectoryIterator(path)
	if err != nil {
		return nil, err
	}
	entries, err := dir.Collect(it)
	return entries, fs.fail("list", path, err)
}
