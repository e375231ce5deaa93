// Package dir keeps the entries of one directory sorted across a chain of
// directory blocks. Directories sort before files, then by name bytes.
package dir

import (
	"errors"
	"strings"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/rarydzu/blockfs/blockfs/volume"
)

var (
	ErrNotFound    = errors.New("no such entry")
	ErrExists      = errors.New("entry already exists")
	ErrNotEmpty    = errors.New("directory not empty")
	ErrNameTooLong = errors.New("name too long")
	ErrInvalidName = errors.New("invalid name")
)

// Directory is a handle on a directory identified by its head block.
type Directory struct {
	vol   *volume.Volume
	head  volume.BlockIndex
	clock timeutil.Clock
}

// New returns the directory whose head block is head.
func New(vol *volume.Volume, head volume.BlockIndex, clock timeutil.Clock) (*Directory, error) {
	if _, err := vol.DirBlock(head); err != nil {
		return nil, err
	}
	return &Directory{vol: vol, head: head, clock: clock}, nil
}

// Root returns the root directory of vol.
func Root(vol *volume.Volume, clock timeutil.Clock) *Directory {
	return &Directory{vol: vol, head: volume.RootBlock, clock: clock}
}

// Head returns the head block of the directory.
func (d *Directory) Head() volume.BlockIndex {
	return d.head
}

// Volume returns the volume the directory lives on.
func (d *Directory) Volume() *volume.Volume {
	return d.vol
}

// Now returns the current time truncated to the stored resolution.
func (d *Directory) Now() time.Time {
	return time.Unix(d.clock.Now().Unix(), 0)
}

// ValidateName checks name against the limits of an entry slot.
func ValidateName(name string) error {
	switch {
	case name == "":
		return ErrInvalidName
	case len(name) > MaxNameLen:
		return ErrNameTooLong
	case strings.ContainsAny(name, "/\x00"):
		return ErrInvalidName
	}
	return nil
}

// find locates (name, typ). Blocks whose last entry sorts before the key are
// skipped; the first block that may hold it is binary searched.
func (d *Directory) find(name string, typ Type) (volume.DirBlock, int, bool, error) {
	steps := 0
	for b := d.head; b != volume.None; steps++ {
		if steps > d.vol.TotalBlocks() {
			return volume.DirBlock{}, 0, false, volume.Corruptf("directory lookup", d.head, "cycle in directory chain")
		}
		blk, err := d.vol.DirBlock(b)
		if err != nil {
			return volume.DirBlock{}, 0, false, err
		}
		n := blk.Count()
		if n == 0 {
			return volume.DirBlock{}, 0, false, nil
		}
		c := compareKey(name, typ, blk.Slot(n-1))
		if c == 0 {
			return blk, n - 1, true, nil
		}
		if c < 0 {
			lo, hi := 0, n-2
			for lo <= hi {
				mid := (lo + hi) / 2
				switch c := compareKey(name, typ, blk.Slot(mid)); {
				case c == 0:
					return blk, mid, true, nil
				case c < 0:
					hi = mid - 1
				default:
					lo = mid + 1
				}
			}
			return volume.DirBlock{}, 0, false, nil
		}
		b = blk.Next()
	}
	return volume.DirBlock{}, 0, false, nil
}

// tail returns the last block of the chain.
func (d *Directory) tail() (volume.DirBlock, error) {
	blk, err := d.vol.DirBlock(d.head)
	if err != nil {
		return blk, err
	}
	for steps := 0; blk.Next() != volume.None; steps++ {
		if steps > d.vol.TotalBlocks() {
			return blk, volume.Corruptf("directory tail", d.head, "cycle in directory chain")
		}
		if blk, err = d.vol.DirBlock(blk.Next()); err != nil {
			return blk, err
		}
	}
	return blk, nil
}

// insert appends e at the tail of the chain and swaps it backwards, across
// block boundaries, until its predecessor sorts before it.
func (d *Directory) insert(e Entry) error {
	blk, err := d.tail()
	if err != nil {
		return err
	}
	if blk.Full() {
		n, err := d.vol.Allocate()
		if err != nil {
			return err
		}
		nb, err := d.vol.DirBlock(n)
		if err != nil {
			return err
		}
		nb.Init(blk.Parent(), blk.Index())
		blk.SetNext(n)
		d.vol.Logger().Debugf("directory %d: chained overflow block %d after %d", d.head, n, blk.Index())
		blk = nb
	}
	idx := blk.Count()
	encodeEntry(blk.Slot(idx), e)
	blk.SetCount(idx + 1)

	for {
		var (
			pblk volume.DirBlock
			pidx int
		)
		if idx > 0 {
			pblk, pidx = blk, idx-1
		} else {
			if blk.Prev() == volume.None {
				return nil
			}
			if pblk, err = d.vol.DirBlock(blk.Prev()); err != nil {
				return err
			}
			pidx = pblk.Count() - 1
			if pidx < 0 {
				return volume.Corruptf("directory insert", pblk.Index(), "empty block inside chain")
			}
		}
		cur, prev := blk.Slot(idx), pblk.Slot(pidx)
		if compareSlots(prev, cur) < 0 {
			return nil
		}
		swapSlots(prev, cur)
		blk, idx = pblk, pidx
	}
}

// remove deletes the slot at (blk, idx). The hole travels forward: each
// following block donates its first entry to the tail of its predecessor.
// An emptied non-head tail block is released.
func (d *Directory) remove(blk volume.DirBlock, idx int) error {
	for {
		n := blk.Count()
		blk.ShiftLeft(idx)
		next := blk.Next()
		if next != volume.None {
			nb, err := d.vol.DirBlock(next)
			if err != nil {
				return err
			}
			if nb.Count() == 0 {
				return volume.Corruptf("directory remove", next, "empty block inside chain")
			}
			copy(blk.Slot(n-1), nb.Slot(0))
			blk, idx = nb, 0
			continue
		}
		blk.SetCount(n - 1)
		if n-1 == 0 && blk.Prev() != volume.None {
			prev, err := d.vol.DirBlock(blk.Prev())
			if err != nil {
				return err
			}
			if err := d.vol.Deallocate(blk.Index()); err != nil {
				return err
			}
			prev.SetNext(volume.None)
			d.vol.Logger().Debugf("directory %d: released empty tail block %d", d.head, blk.Index())
		}
		return nil
	}
}

// Exists reports whether an entry (name, typ) is present.
func (d *Directory) Exists(name string, typ Type) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	_, _, ok, err := d.find(name, typ)
	return ok, err
}

// Lookup returns the entry (name, typ).
func (d *Directory) Lookup(name string, typ Type) (Entry, error) {
	if err := ValidateName(name); err != nil {
		return Entry{}, err
	}
	blk, idx, ok, err := d.find(name, typ)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, ErrNotFound
	}
	return decodeEntry(blk.Slot(idx)), nil
}

// Create inserts a new entry. Directories get an empty child block whose
// parent is this directory.
func (d *Directory) Create(name string, typ Type) (Entry, error) {
	if err := ValidateName(name); err != nil {
		return Entry{}, err
	}
	if typ != TypeDirectory && typ != TypeFile {
		return Entry{}, ErrInvalidName
	}
	_, _, ok, err := d.find(name, typ)
	if err != nil {
		return Entry{}, err
	}
	if ok {
		return Entry{}, ErrExists
	}

	need := 0
	t, err := d.tail()
	if err != nil {
		return Entry{}, err
	}
	if t.Full() {
		need++
	}
	if typ == TypeDirectory {
		need++
	}
	if err := d.vol.Reserve(need); err != nil {
		return Entry{}, err
	}

	now := d.Now()
	e := Entry{
		Name:       name,
		Type:       typ,
		Created:    now,
		Modified:   now,
		FirstBlock: volume.None,
		LastBlock:  volume.None,
	}
	if typ == TypeDirectory {
		n, err := d.vol.Allocate()
		if err != nil {
			return Entry{}, err
		}
		child, err := d.vol.DirBlock(n)
		if err != nil {
			return Entry{}, err
		}
		child.Init(d.head, volume.None)
		e.FirstBlock = n
	}
	if err := d.insert(e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Remove deletes the entry (name, typ). A file's data chain is released
// first. A directory must be empty; only its head block is inspected, which
// is sufficient because non-head blocks never stay empty.
func (d *Directory) Remove(name string, typ Type) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	blk, idx, ok, err := d.find(name, typ)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	e := decodeEntry(blk.Slot(idx))
	if e.IsDir() {
		child, err := d.vol.DirBlock(e.FirstBlock)
		if err != nil {
			return err
		}
		if child.Count() != 0 {
			return ErrNotEmpty
		}
		if err := d.vol.Deallocate(e.FirstBlock); err != nil {
			return err
		}
	} else if _, err := d.vol.FreeChain(e.FirstBlock); err != nil {
		return err
	}
	return d.remove(blk, idx)
}

// Rename moves (name, typ) to newName, keeping its payload. Files also get a
// fresh modification time.
func (d *Directory) Rename(name, newName string, typ Type) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ValidateName(newName); err != nil {
		return err
	}
	blk, idx, ok, err := d.find(name, typ)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	_, _, taken, err := d.find(newName, typ)
	if err != nil {
		return err
	}
	if taken {
		return ErrExists
	}
	e := decodeEntry(blk.Slot(idx))
	e.Name = newName
	if typ == TypeFile {
		e.Modified = d.Now()
	}
	if err := d.remove(blk, idx); err != nil {
		return err
	}
	return d.insert(e)
}

// Update rewrites the stored record of an existing entry in place. The key
// (Name, Type) selects the slot and is not changed.
func (d *Directory) Update(e Entry) error {
	if err := ValidateName(e.Name); err != nil {
		return err
	}
	blk, idx, ok, err := d.find(e.Name, e.Type)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	encodeEntry(blk.Slot(idx), e)
	return nil
}

// OpenDirectory returns the child directory name.
func (d *Directory) OpenDirectory(name string) (*Directory, error) {
	e, err := d.Lookup(name, TypeDirectory)
	if err != nil {
		return nil, err
	}
	return New(d.vol, e.FirstBlock, d.clock)
}

// Parent returns the directory containing d. The root is its own parent.
func (d *Directory) Parent() (*Directory, error) {
	blk, err := d.vol.DirBlock(d.head)
	if err != nil {
		return nil, err
	}
	if blk.Parent() == volume.None {
		return d, nil
	}
	return New(d.vol, blk.Parent(), d.clock)
}

// IsEmpty reports whether the directory has no entries.
func (d *Directory) IsEmpty() (bool, error) {
	blk, err := d.vol.DirBlock(d.head)
	if err != nil {
		return false, err
	}
	return blk.Count() == 0, nil
}

// Iterator returns a forward iterator over the entries. path is reported
// back by Iterator.Path.
func (d *Directory) Iterator(path string) *Iterator {
	return &Iterator{vol: d.vol, blk: d.head, path: path}
}
