package volume

import "fmt"

// Allocate pops the head of the free list. The returned block is zeroed.
// An exhausted free list is a fatal condition since capacity is fixed at
// format time.
func (v *Volume) Allocate() (BlockIndex, error) {
	i := v.FirstFree()
	if i == None {
		return None, newFatal("allocate", None, ErrVolumeFull)
	}
	if !v.valid(i) || i == RootBlock {
		return None, Corruptf("allocate", i, "free list head out of range")
	}
	next := v.freeBlock(i).next()
	if next != None {
		if !v.valid(next) {
			return None, Corruptf("allocate", i, "free list link %d out of range", next)
		}
		v.freeBlock(next).setPrev(None)
	}
	v.setFirstFree(next)
	v.setUsedBlocks(v.UsedBlocks() + 1)

	b := v.Raw(i)
	for j := range b {
		b[j] = 0
	}
	return i, nil
}

// Deallocate pushes block i onto the head of the free list.
func (v *Volume) Deallocate(i BlockIndex) error {
	if i == RootBlock {
		return Corruptf("deallocate", i, "root directory cannot be freed")
	}
	if !v.valid(i) {
		return Corruptf("deallocate", i, "index out of range")
	}
	if v.UsedBlocks() <= 1 {
		return Corruptf("deallocate", i, "no allocated blocks left")
	}
	head := v.FirstFree()
	fb := v.freeBlock(i)
	fb.setPrev(None)
	fb.setNext(head)
	if head != None {
		v.freeBlock(head).setPrev(i)
	}
	v.setFirstFree(i)
	v.setUsedBlocks(v.UsedBlocks() - 1)
	return nil
}

// FreeChain deallocates the file block chain starting at first, following next
// links. It returns the number of blocks released.
func (v *Volume) FreeChain(first BlockIndex) (int, error) {
	n := 0
	for i := first; i != None; {
		fb, err := v.FileBlock(i)
		if err != nil {
			return n, err
		}
		if n >= v.TotalBlocks() {
			return n, Corruptf("free chain", first, "cycle in file chain")
		}
		next := fb.Next()
		if err := v.Deallocate(i); err != nil {
			return n, err
		}
		n++
		i = next
	}
	return n, nil
}

// Reserve fails with ErrVolumeFull, before anything is mutated, when fewer
// than n blocks are free. Nothing has changed yet, so the error is not fatal.
func (v *Volume) Reserve(n int) error {
	if free := v.FreeBlocks(); free < n {
		return fmt.Errorf("reserve %d blocks, %d free: %w", n, free, ErrVolumeFull)
	}
	return nil
}
