package dir

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/rarydzu/blockfs/blockfs/volume"
)

// Type tags an entry as a directory or a file.
type Type byte

const (
	TypeDirectory Type = 'D'
	TypeFile      Type = 'F'
)

func (t Type) String() string {
	switch t {
	case TypeDirectory:
		return "directory"
	case TypeFile:
		return "file"
	}
	return "unknown"
}

// MaxNameLen is the longest name an entry can hold.
const MaxNameLen = 31

// entry slot layout
const (
	entName     = 0
	entType     = 32
	entSize     = 36
	entCreated  = 40
	entModified = 48
	entFirst    = 56
	entLast     = 60
)

// Entry is a decoded directory record. For directories FirstBlock is the head
// block of the child directory and LastBlock is unused.
type Entry struct {
	Name       string
	Type       Type
	Size       uint32
	Created    time.Time
	Modified   time.Time
	FirstBlock volume.BlockIndex
	LastBlock  volume.BlockIndex
}

// IsDir reports whether e is a directory.
func (e Entry) IsDir() bool {
	return e.Type == TypeDirectory
}

func slotName(s []byte) []byte {
	n := s[entName : entName+MaxNameLen+1]
	if i := bytes.IndexByte(n, 0); i >= 0 {
		return n[:i]
	}
	return n
}

func decodeEntry(s []byte) Entry {
	return Entry{
		Name:       string(slotName(s)),
		Type:       Type(s[entType]),
		Size:       binary.LittleEndian.Uint32(s[entSize:]),
		Created:    time.Unix(int64(binary.LittleEndian.Uint64(s[entCreated:])), 0),
		Modified:   time.Unix(int64(binary.LittleEndian.Uint64(s[entModified:])), 0),
		FirstBlock: volume.BlockIndex(int32(binary.LittleEndian.Uint32(s[entFirst:]))),
		LastBlock:  volume.BlockIndex(int32(binary.LittleEndian.Uint32(s[entLast:]))),
	}
}

func encodeEntry(s []byte, e Entry) {
	for i := range s {
		s[i] = 0
	}
	copy(s[entName:entName+MaxNameLen], e.Name)
	s[entType] = byte(e.Type)
	binary.LittleEndian.PutUint32(s[entSize:], e.Size)
	binary.LittleEndian.PutUint64(s[entCreated:], uint64(e.Created.Unix()))
	binary.LittleEndian.PutUint64(s[entModified:], uint64(e.Modified.Unix()))
	binary.LittleEndian.PutUint32(s[entFirst:], uint32(int32(e.FirstBlock)))
	binary.LittleEndian.PutUint32(s[entLast:], uint32(int32(e.LastBlock)))
}

// compareKey orders (typ, name) against a stored slot: directories sort
// before files, then names compare byte-wise.
func compareKey(name string, typ Type, s []byte) int {
	if st := Type(s[entType]); typ != st {
		if typ == TypeDirectory {
			return -1
		}
		return 1
	}
	return bytes.Compare([]byte(name), slotName(s))
}

func compareSlots(a, b []byte) int {
	return compareKey(string(slotName(a)), Type(a[entType]), b)
}

func swapSlots(a, b []byte) {
	var tmp [volume.EntrySize]byte
	copy(tmp[:], a)
	copy(a, b)
	copy(b, tmp[:])
}

// EntryAt decodes slot i of a directory block.
func EntryAt(blk volume.DirBlock, i int) Entry {
	return decodeEntry(blk.Slot(i))
}

// Compare orders two entries by (type, name), matching the stored order.
func Compare(a, b Entry) int {
	if a.Type != b.Type {
		if a.Type == TypeDirectory {
			return -1
		}
		return 1
	}
	return bytes.Compare([]byte(a.Name), []byte(b.Name))
}
