// Package file implements positioned reads and writes over a file's chain of
// data blocks.
package file

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/rarydzu/blockfs/blockfs/dir"
	"github.com/rarydzu/blockfs/blockfs/volume"
)

var (
	ErrClosed   = errors.New("file already closed")
	ErrReadOnly = errors.New("file opened for reading")
	ErrTooLarge = errors.New("file too large")
)

// Mode selects how a file is opened.
type Mode int

const (
	// Read requires an existing file and starts at offset 0.
	Read Mode = iota
	// Write creates a missing file and starts at offset 0. Close truncates
	// the file at the final position.
	Write
	// Append creates a missing file and starts at its current size.
	Append
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	case Append:
		return "append"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// File is an open handle. It remembers the last block it touched so that
// sequential access never walks the chain from the start.
type File struct {
	dir    *dir.Directory
	vol    *volume.Volume
	entry  dir.Entry
	mode   Mode
	pos    int64
	hi     int64
	closed bool

	// cached window: blk holds bytes [start, start+FilePayloadSize), prev
	// is the block before it (None for the first block). blk may be None
	// when the window sits just past the end of the chain.
	blk   volume.BlockIndex
	prev  volume.BlockIndex
	start int64
}

var (
	_ io.ReadWriteCloser = (*File)(nil)
	_ io.Seeker          = (*File)(nil)
)

// Open opens name inside d.
func Open(d *dir.Directory, name string, mode Mode) (*File, error) {
	if mode < Read || mode > Append {
		return nil, fmt.Errorf("open %s: unknown mode %v", name, mode)
	}
	e, err := d.Lookup(name, dir.TypeFile)
	if errors.Is(err, dir.ErrNotFound) && mode != Read {
		e, err = d.Create(name, dir.TypeFile)
	}
	if err != nil {
		return nil, err
	}
	f := &File{
		dir:   d,
		vol:   d.Volume(),
		entry: e,
		mode:  mode,
		blk:   e.FirstBlock,
		prev:  volume.None,
	}
	if mode == Append {
		f.pos = int64(e.Size)
	}
	return f, nil
}

// Name returns the file name.
func (f *File) Name() string {
	return f.entry.Name
}

// Mode returns the mode the file was opened with.
func (f *File) Mode() Mode {
	return f.mode
}

// Position returns the cursor offset.
func (f *File) Position() int64 {
	return f.pos
}

// Size returns the logical size seen by this handle, including bytes written
// but not yet published by Close.
func (f *File) Size() int64 {
	if f.hi > int64(f.entry.Size) {
		return f.hi
	}
	return int64(f.entry.Size)
}

// Entry returns the handle's copy of the directory entry.
func (f *File) Entry() dir.Entry {
	return f.entry
}

// blockAt returns the block holding byte pos and the offset inside it. The
// walk starts from the cached window and moves one block per step. In write
// modes stepping past the end of the chain appends a fresh block.
func (f *File) blockAt(pos int64) (volume.FileBlock, int, error) {
	blk, prev, start := f.blk, f.prev, f.start
	for {
		if pos < start {
			if prev == volume.None {
				return volume.FileBlock{}, 0, volume.Corruptf("file seek", blk, "%s: no block before offset %d", f.entry.Name, start)
			}
			pb, err := f.vol.FileBlock(prev)
			if err != nil {
				return volume.FileBlock{}, 0, err
			}
			blk, prev, start = prev, pb.Prev(), start-volume.FilePayloadSize
			continue
		}
		if blk == volume.None {
			if f.mode == Read {
				return volume.FileBlock{}, 0, volume.Corruptf("file read", prev, "%s: no block at offset %d", f.entry.Name, pos)
			}
			n, err := f.extend(prev, start)
			if err != nil {
				return volume.FileBlock{}, 0, err
			}
			blk = n
		}
		if pos < start+volume.FilePayloadSize {
			break
		}
		b, err := f.vol.FileBlock(blk)
		if err != nil {
			return volume.FileBlock{}, 0, err
		}
		blk, prev, start = b.Next(), blk, start+volume.FilePayloadSize
	}
	b, err := f.vol.FileBlock(blk)
	if err != nil {
		return volume.FileBlock{}, 0, err
	}
	f.blk, f.prev, f.start = blk, prev, start
	return b, int(pos - start), nil
}

// extend links a new block after last and publishes the grown chain.
func (f *File) extend(last volume.BlockIndex, start int64) (volume.BlockIndex, error) {
	n, err := f.vol.Allocate()
	if err != nil {
		return volume.None, err
	}
	nb, err := f.vol.FileBlock(n)
	if err != nil {
		return volume.None, err
	}
	nb.SetPrev(last)
	nb.SetNext(volume.None)
	if last == volume.None {
		f.entry.FirstBlock = n
	} else {
		lb, err := f.vol.FileBlock(last)
		if err != nil {
			return volume.None, err
		}
		lb.SetNext(n)
	}
	f.entry.LastBlock = n
	if uint32(start) > f.entry.Size {
		f.entry.Size = uint32(start)
	}
	if err := f.dir.Update(f.entry); err != nil {
		return volume.None, err
	}
	return n, nil
}

// Write copies p at the cursor, growing the chain as needed.
func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if f.mode == Read {
		return 0, ErrReadOnly
	}
	if f.pos+int64(len(p)) > math.MaxUint32 {
		return 0, ErrTooLarge
	}
	n := 0
	for n < len(p) {
		b, off, err := f.blockAt(f.pos)
		if err != nil {
			return n, err
		}
		c := copy(b.Payload()[off:], p[n:])
		n += c
		f.pos += int64(c)
	}
	if f.pos > f.hi {
		f.hi = f.pos
	}
	return n, nil
}

// Read copies bytes from the cursor into p. Reads stop at the file size and
// return io.EOF once nothing is left.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	remain := f.Size() - f.pos
	if remain <= 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	if int64(len(p)) > remain {
		p = p[:remain]
	}
	n := 0
	for n < len(p) {
		b, off, err := f.blockAt(f.pos)
		if err != nil {
			return n, err
		}
		c := copy(p[n:], b.Payload()[off:])
		n += c
		f.pos += int64(c)
	}
	return n, nil
}

// Seek moves the cursor. The result is clamped to [0, Size()].
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, ErrClosed
	}
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		pos = f.Size() + offset
	default:
		return f.pos, fmt.Errorf("seek %s: invalid whence %d", f.entry.Name, whence)
	}
	if pos < 0 {
		pos = 0
	} else if size := f.Size(); pos > size {
		pos = size
	}
	f.pos = pos
	return pos, nil
}

// Close publishes the file. In write modes the file is cut at the cursor:
// blocks after the one holding the last byte are released and the size
// becomes the cursor position.
func (f *File) Close() error {
	if f.closed {
		return ErrClosed
	}
	f.closed = true
	if f.mode == Read {
		return nil
	}

	var released int
	if f.pos == 0 {
		n, err := f.vol.FreeChain(f.entry.FirstBlock)
		if err != nil {
			return err
		}
		released = n
		f.entry.FirstBlock = volume.None
		f.entry.LastBlock = volume.None
	} else {
		b, _, err := f.blockAt(f.pos - 1)
		if err != nil {
			return err
		}
		n, err := f.vol.FreeChain(b.Next())
		if err != nil {
			return err
		}
		released = n
		b.SetNext(volume.None)
		f.entry.LastBlock = b.Index()
	}
	if released > 0 {
		f.vol.Logger().Debugf("file %s: truncated at %d, released %d blocks", f.entry.Name, f.pos, released)
	}
	f.entry.Size = uint32(f.pos)
	f.entry.Modified = f.dir.Now()
	return f.dir.Update(f.entry)
}
