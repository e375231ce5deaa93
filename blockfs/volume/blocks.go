package volume

import "encoding/binary"

const (
	// DirHeaderSize is the size of the fixed fields of a directory block.
	DirHeaderSize = 16
	// EntrySize is the size of one directory entry slot.
	EntrySize = 64
	// DirCapacity is the number of entry slots in a directory block.
	DirCapacity = (BlockSize - DirHeaderSize) / EntrySize
	// FileHeaderSize is the size of the link fields of a file block.
	FileHeaderSize = 8
	// FilePayloadSize is the number of data bytes a file block carries.
	FilePayloadSize = BlockSize - FileHeaderSize
)

// directory block layout
const (
	dirParent = 0
	dirPrev   = 4
	dirNext   = 8
	dirCount  = 12
)

// DirBlock is a view over a directory block.
type DirBlock struct {
	idx BlockIndex
	b   []byte
}

// DirBlock returns a directory view of block i.
func (v *Volume) DirBlock(i BlockIndex) (DirBlock, error) {
	if !v.valid(i) {
		return DirBlock{}, Corruptf("directory block", i, "index out of range")
	}
	return v.dirBlock(i), nil
}

func (v *Volume) dirBlock(i BlockIndex) DirBlock {
	return DirBlock{idx: i, b: v.Raw(i)}
}

func (d DirBlock) Index() BlockIndex      { return d.idx }
func (d DirBlock) Parent() BlockIndex     { return getIndex(d.b, dirParent) }
func (d DirBlock) SetParent(i BlockIndex) { putIndex(d.b, dirParent, i) }
func (d DirBlock) Prev() BlockIndex       { return getIndex(d.b, dirPrev) }
func (d DirBlock) SetPrev(i BlockIndex)   { putIndex(d.b, dirPrev, i) }
func (d DirBlock) Next() BlockIndex       { return getIndex(d.b, dirNext) }
func (d DirBlock) SetNext(i BlockIndex)   { putIndex(d.b, dirNext, i) }
func (d DirBlock) Count() int             { return int(binary.LittleEndian.Uint32(d.b[dirCount:])) }
func (d DirBlock) SetCount(n int)         { binary.LittleEndian.PutUint32(d.b[dirCount:], uint32(n)) }
func (d DirBlock) Full() bool             { return d.Count() >= DirCapacity }

// Slot returns the raw bytes of entry slot i.
func (d DirBlock) Slot(i int) []byte {
	off := DirHeaderSize + i*EntrySize
	return d.b[off : off+EntrySize]
}

// ShiftLeft moves slots from+1..Count-1 one position down onto from.
func (d DirBlock) ShiftLeft(from int) {
	n := d.Count()
	if from >= n-1 {
		return
	}
	start := DirHeaderSize + from*EntrySize
	end := DirHeaderSize + n*EntrySize
	copy(d.b[start:end-EntrySize], d.b[start+EntrySize:end])
}

// Init resets the link fields of a freshly allocated directory block.
func (d DirBlock) Init(parent, prev BlockIndex) {
	d.SetParent(parent)
	d.SetPrev(prev)
	d.SetNext(None)
	d.SetCount(0)
}

// file block layout
const (
	filePrev = 0
	fileNext = 4
)

// FileBlock is a view over a file data block.
type FileBlock struct {
	idx BlockIndex
	b   []byte
}

// FileBlock returns a file view of block i.
func (v *Volume) FileBlock(i BlockIndex) (FileBlock, error) {
	if !v.valid(i) {
		return FileBlock{}, Corruptf("file block", i, "index out of range")
	}
	return FileBlock{idx: i, b: v.Raw(i)}, nil
}

func (f FileBlock) Index() BlockIndex    { return f.idx }
func (f FileBlock) Prev() BlockIndex     { return getIndex(f.b, filePrev) }
func (f FileBlock) SetPrev(i BlockIndex) { putIndex(f.b, filePrev, i) }
func (f FileBlock) Next() BlockIndex     { return getIndex(f.b, fileNext) }
func (f FileBlock) SetNext(i BlockIndex) { putIndex(f.b, fileNext, i) }

// Payload returns the data area of the block.
func (f FileBlock) Payload() []byte {
	return f.b[FileHeaderSize:]
}

// free block layout shares the file block link offsets
type freeBlock struct {
	b []byte
}

func (v *Volume) freeBlock(i BlockIndex) freeBlock {
	return freeBlock{b: v.Raw(i)}
}

func (f freeBlock) prev() BlockIndex     { return getIndex(f.b, filePrev) }
func (f freeBlock) setPrev(i BlockIndex) { putIndex(f.b, filePrev, i) }
func (f freeBlock) next() BlockIndex     { return getIndex(f.b, fileNext) }
func (f freeBlock) setNext(i BlockIndex) { putIndex(f.b, fileNext, i) }

// FreeLinks returns the prev/next links of a block assumed to be free.
// Used by consistency checks walking the free list.
func (v *Volume) FreeLinks(i BlockIndex) (prev, next BlockIndex, err error) {
	if !v.valid(i) {
		return None, None, Corruptf("free block", i, "index out of range")
	}
	fb := v.freeBlock(i)
	return fb.prev(), fb.next(), nil
}
