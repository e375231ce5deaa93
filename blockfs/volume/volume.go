// Package volume owns the raw image buffer: header, free-block allocator and
// typed views over fixed-size blocks. Blocks are only ever referenced by index.
package volume

import (
	"encoding/binary"
	"hash/crc32"

	"go.uber.org/zap"
)

// BlockIndex identifies a block inside the volume. None marks "no block".
type BlockIndex int32

const (
	// None is the null block reference.
	None BlockIndex = -1
	// RootBlock holds the head of the root directory and is never freed.
	RootBlock BlockIndex = 0
)

const (
	// BlockSize is the size of every block in bytes.
	BlockSize = 4096
	// HeaderSize is the size of the header block preceding block 0. Only its
	// first 20 bytes are used.
	HeaderSize = BlockSize
	// MinImageSize is the smallest capacity accepted by Format and Load.
	MinImageSize = 1 << 20
)

var magic = [4]byte{'B', 'K', 'F', 'S'}

// header field offsets
const (
	hdrMagic     = 0
	hdrTotal     = 4
	hdrUsed      = 8
	hdrFirstFree = 12
	hdrChecksum  = 16
)

// Volume is a formatted image held in memory.
type Volume struct {
	buf []byte
	log *zap.SugaredLogger
}

// Format creates a fresh volume holding as many blocks as fit in capacity
// bytes; the image is the header block followed by those blocks. Block 0
// becomes the empty root directory and every other block is chained into
// the free list.
func Format(capacity int, log *zap.SugaredLogger) (*Volume, error) {
	if capacity < MinImageSize {
		return nil, ErrImageTooSmall
	}
	total := (capacity - HeaderSize) / BlockSize
	v := &Volume{
		buf: make([]byte, HeaderSize+total*BlockSize),
		log: log,
	}
	copy(v.buf[hdrMagic:], magic[:])
	v.setTotalBlocks(total)
	v.setUsedBlocks(1)

	root := v.dirBlock(RootBlock)
	root.SetParent(None)
	root.SetPrev(None)
	root.SetNext(None)
	root.SetCount(0)

	if total == 1 {
		v.setFirstFree(None)
	} else {
		v.setFirstFree(1)
	}
	for i := 1; i < total; i++ {
		fb := v.freeBlock(BlockIndex(i))
		if i == 1 {
			fb.setPrev(None)
		} else {
			fb.setPrev(BlockIndex(i - 1))
		}
		if i == total-1 {
			fb.setNext(None)
		} else {
			fb.setNext(BlockIndex(i + 1))
		}
	}
	log.Debugf("formatted volume: %d of %d bytes, %d blocks", len(v.buf), capacity, total)
	return v, nil
}

// Logger returns the logger the volume was created with.
func (v *Volume) Logger() *zap.SugaredLogger {
	return v.log
}

// Capacity returns the size of the image in bytes.
func (v *Volume) Capacity() int {
	return len(v.buf)
}

// TotalBlocks returns the number of blocks in the volume.
func (v *Volume) TotalBlocks() int {
	return int(binary.LittleEndian.Uint32(v.buf[hdrTotal:]))
}

// UsedBlocks returns the number of allocated blocks, root included.
func (v *Volume) UsedBlocks() int {
	return int(binary.LittleEndian.Uint32(v.buf[hdrUsed:]))
}

// FreeBlocks returns the number of blocks on the free list.
func (v *Volume) FreeBlocks() int {
	return v.TotalBlocks() - v.UsedBlocks()
}

// FirstFree returns the head of the free list.
func (v *Volume) FirstFree() BlockIndex {
	return getIndex(v.buf, hdrFirstFree)
}

func (v *Volume) setTotalBlocks(n int) {
	binary.LittleEndian.PutUint32(v.buf[hdrTotal:], uint32(n))
}

func (v *Volume) setUsedBlocks(n int) {
	binary.LittleEndian.PutUint32(v.buf[hdrUsed:], uint32(n))
}

func (v *Volume) setFirstFree(i BlockIndex) {
	putIndex(v.buf, hdrFirstFree, i)
}

func (v *Volume) stamp() {
	binary.LittleEndian.PutUint32(v.buf[hdrChecksum:], crc32.ChecksumIEEE(v.buf[:hdrChecksum]))
}

func (v *Volume) valid(i BlockIndex) bool {
	return i >= 0 && int(i) < v.TotalBlocks()
}

// Raw returns the bytes of block i, or nil for None and out-of-range indices.
func (v *Volume) Raw(i BlockIndex) []byte {
	if !v.valid(i) {
		return nil
	}
	off := HeaderSize + int(i)*BlockSize
	return v.buf[off : off+BlockSize]
}

// IndexOf maps a view returned by Raw back to its block index. Slices that
// do not start on a block boundary of this volume yield None.
func (v *Volume) IndexOf(b []byte) BlockIndex {
	if len(b) == 0 {
		return None
	}
	off := cap(v.buf) - cap(b) - HeaderSize
	if off < 0 || off%BlockSize != 0 {
		return None
	}
	i := BlockIndex(off / BlockSize)
	if !v.valid(i) || &b[0] != &v.buf[HeaderSize+off] {
		return None
	}
	return i
}

func getIndex(b []byte, off int) BlockIndex {
	return BlockIndex(int32(binary.LittleEndian.Uint32(b[off:])))
}

func putIndex(b []byte, off int, i BlockIndex) {
	binary.LittleEndian.PutUint32(b[off:], uint32(int32(i)))
}
