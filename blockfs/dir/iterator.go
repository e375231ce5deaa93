package dir

import "github.com/rarydzu/blockfs/blockfs/volume"

// Iterator walks the entries of one directory in stored order. It cannot be
// rewound. Creating, removing or renaming entries of the same directory while
// an iterator is in use leaves what the iterator yields afterwards undefined.
type Iterator struct {
	vol   *volume.Volume
	blk   volume.BlockIndex
	idx   int
	steps int
	path  string
	cur   Entry
	err   error
}

// Next advances to the next entry and reports whether there is one.
func (it *Iterator) Next() bool {
	for it.blk != volume.None && it.err == nil {
		b, err := it.vol.DirBlock(it.blk)
		if err != nil {
			it.err = err
			return false
		}
		if it.idx < b.Count() {
			it.cur = decodeEntry(b.Slot(it.idx))
			it.idx++
			return true
		}
		if b.Count() == 0 {
			it.blk = volume.None
			return false
		}
		it.steps++
		if it.steps > it.vol.TotalBlocks() {
			it.err = volume.Corruptf("directory iterator", it.blk, "cycle in directory chain")
			return false
		}
		it.blk, it.idx = b.Next(), 0
	}
	return false
}

// Entry returns the current entry.
func (it *Iterator) Entry() Entry {
	return it.cur
}

// Path returns the path of the directory being iterated.
func (it *Iterator) Path() string {
	return it.path
}

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Collect drains it into a slice.
func Collect(it *Iterator) ([]Entry, error) {
	var out []Entry
	for it.Next() {
		out = append(out, it.Entry())
	}
	return out, it.Err()
}
