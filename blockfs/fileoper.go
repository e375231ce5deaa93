package blockfs

import (
	"io"

	"github.com/rarydzu/blockfs/blockfs/dir"
	"github.com/rarydzu/blockfs/blockfs/file"
)

// FileExists reports whether path names a file.
func (fs *FileSystem) FileExists(path string) (bool, error) {
	d, name, err := fs.locateParent(path)
	if err != nil {
		return false, fs.fail("stat", path, err)
	}
	ok, err := d.Exists(name, dir.TypeFile)
	return ok, fs.fail("stat", path, err)
}

// Stat returns the entry of the file path.
func (fs *FileSystem) Stat(path string) (dir.Entry, error) {
	d, name, err := fs.locateParent(path)
	if err != nil {
		return dir.Entry{}, fs.fail("stat", path, err)
	}
	e, err := d.Lookup(name, dir.TypeFile)
	return e, fs.fail("stat", path, err)
}

// CreateFile creates the empty file path.
func (fs *FileSystem) CreateFile(path string) error {
	d, name, err := fs.locateParent(path)
	if err != nil {
		return fs.fail("create", path, err)
	}
	_, err = d.Create(name, dir.TypeFile)
	return fs.fail("create", path, err)
}

// OpenFile opens the file path. Write and Append create it when missing.
func (fs *FileSystem) OpenFile(path string, mode Mode) (*file.File, error) {
	d, name, err := fs.locateParent(path)
	if err != nil {
		return nil, fs.fail("open", path, err)
	}
	f, err := file.Open(d, name, mode)
	if err != nil {
		return nil, fs.fail("open", path, err)
	}
	return f, nil
}

// DeleteFile removes the file path and releases its data blocks.
func (fs *FileSystem) DeleteFile(path string) error {
	d, name, err := fs.locateParent(path)
	if err != nil {
		return fs.fail("rm", path, err)
	}
	return fs.fail("rm", path, d.Remove(name, dir.TypeFile))
}

// RenameFile gives the file path the name newName inside the same parent.
func (fs *FileSystem) RenameFile(path, newName string) error {
	d, name, err := fs.locateParent(path)
	if err != nil {
		return fs.fail("rename", path, err)
	}
	return fs.fail("rename", path, d.Rename(name, newName, dir.TypeFile))
}

// WriteFile opens path with mode, writes data and closes it.
func (fs *FileSystem) WriteFile(path string, data []byte, mode Mode) error {
	f, err := fs.OpenFile(path, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fs.fail("write", path, err)
	}
	return fs.fail("write", path, f.Close())
}

// ReadFile returns the contents of the file path.
func (fs *FileSystem) ReadFile(path string) ([]byte, error) {
	f, err := fs.OpenFile(path, Read)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fs.fail("read", path, err)
	}
	return data, nil
}
