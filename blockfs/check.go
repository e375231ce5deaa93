package blockfs

import (
	"fmt"
	"strings"

	"github.com/rarydzu/blockfs/blockfs/dir"
	"github.com/rarydzu/blockfs/blockfs/pathsep"
	"github.com/rarydzu/blockfs/blockfs/volume"
)

// Problem is one inconsistency found by Check.
type Problem struct {
	Block volume.BlockIndex
	Path  string
	Msg   string
}

func (p Problem) String() string {
	var b strings.Builder
	if p.Block != volume.None {
		fmt.Fprintf(&b, "block %d: ", p.Block)
	}
	if p.Path != "" {
		fmt.Fprintf(&b, "%s: ", p.Path)
	}
	b.WriteString(p.Msg)
	return b.String()
}

// Report summarizes a Check run.
type Report struct {
	Directories int
	Files       int
	DirBlocks   int
	FileBlocks  int
	FreeBlocks  int
	Problems    []Problem
}

// OK reports whether no problems were found.
func (r *Report) OK() bool {
	return len(r.Problems) == 0
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d directories, %d files, %d directory blocks, %d file blocks, %d free blocks",
		r.Directories, r.Files, r.DirBlocks, r.FileBlocks, r.FreeBlocks)
	for _, p := range r.Problems {
		b.WriteString("\n  ")
		b.WriteString(p.String())
	}
	return b.String()
}

type owner byte

const (
	unowned owner = iota
	ownedFree
	ownedDir
	ownedFile
)

func (o owner) String() string {
	switch o {
	case ownedFree:
		return "free list"
	case ownedDir:
		return "directory"
	case ownedFile:
		return "file"
	}
	return "nothing"
}

type checker struct {
	vol    *volume.Volume
	owners []owner
	r      *Report
}

func (c *checker) problem(blk volume.BlockIndex, path, format string, args ...interface{}) {
	c.r.Problems = append(c.r.Problems, Problem{Block: blk, Path: path, Msg: fmt.Sprintf(format, args...)})
}

// claim records that i belongs to o. It fails for invalid or already
// claimed blocks, which also stops walks on cyclic chains.
func (c *checker) claim(i volume.BlockIndex, o owner, path string) bool {
	if i < 0 || int(i) >= len(c.owners) {
		c.problem(i, path, "%s references block outside the volume", o)
		return false
	}
	if prev := c.owners[i]; prev != unowned {
		c.problem(i, path, "claimed by %s and %s", prev, o)
		return false
	}
	c.owners[i] = o
	return true
}

func (c *checker) freeList() {
	prev := volume.None
	for i := c.vol.FirstFree(); i != volume.None; {
		if i == volume.RootBlock {
			c.problem(i, "", "root directory on the free list")
			return
		}
		if !c.claim(i, ownedFree, "") {
			return
		}
		p, n, err := c.vol.FreeLinks(i)
		if err != nil {
			c.problem(i, "", "%v", err)
			return
		}
		if p != prev {
			c.problem(i, "", "free list back link %d, expected %d", p, prev)
		}
		c.r.FreeBlocks++
		prev, i = i, n
	}
}

func (c *checker) fileChain(e dir.Entry, path string) {
	want := (int(e.Size) + volume.FilePayloadSize - 1) / volume.FilePayloadSize
	n := 0
	prev := volume.None
	for i := e.FirstBlock; i != volume.None; {
		if !c.claim(i, ownedFile, path) {
			return
		}
		fb, err := c.vol.FileBlock(i)
		if err != nil {
			c.problem(i, path, "%v", err)
			return
		}
		if fb.Prev() != prev {
			c.problem(i, path, "file chain back link %d, expected %d", fb.Prev(), prev)
		}
		n++
		prev, i = i, fb.Next()
	}
	c.r.FileBlocks += n
	if n != want {
		c.problem(e.FirstBlock, path, "size %d needs %d blocks, chain has %d", e.Size, want, n)
	}
	if e.LastBlock != prev {
		c.problem(e.LastBlock, path, "last block %d, chain ends at %d", e.LastBlock, prev)
	}
}

type pending struct {
	head   volume.BlockIndex
	parent volume.BlockIndex
	path   pathsep.Path
}

func (c *checker) directory(d pending, queue []pending) []pending {
	c.r.Directories++
	path := d.path.String()
	var last *dir.Entry
	prev := volume.None
	for i := d.head; i != volume.None; {
		if !c.claim(i, ownedDir, path) {
			return queue
		}
		blk, err := c.vol.DirBlock(i)
		if err != nil {
			c.problem(i, path, "%v", err)
			return queue
		}
		c.r.DirBlocks++
		if blk.Prev() != prev {
			c.problem(i, path, "directory chain back link %d, expected %d", blk.Prev(), prev)
		}
		if blk.Parent() != d.parent {
			c.problem(i, path, "parent %d, expected %d", blk.Parent(), d.parent)
		}
		n := blk.Count()
		if n > volume.DirCapacity {
			c.problem(i, path, "%d entries exceed block capacity", n)
			return queue
		}
		if n == 0 && i != d.head {
			c.problem(i, path, "empty block inside directory chain")
		}
		for k := 0; k < n; k++ {
			e := dir.EntryAt(blk, k)
			child := d.path.Join(e.Name)
			if err := dir.ValidateName(e.Name); err != nil {
				c.problem(i, child, "%v", err)
			}
			if last != nil && dir.Compare(*last, e) >= 0 {
				c.problem(i, child, "out of order after %q", last.Name)
			}
			last = &e
			switch e.Type {
			case dir.TypeDirectory:
				queue = append(queue, pending{head: e.FirstBlock, parent: d.head, path: d.path.Child(e.Name)})
			case dir.TypeFile:
				c.r.Files++
				c.fileChain(e, child)
			default:
				c.problem(i, child, "unknown entry type %q", byte(e.Type))
			}
		}
		prev, i = i, blk.Next()
	}
	return queue
}

// Check walks the free list and the whole directory tree and reports every
// block that is lost, shared or linked inconsistently. It does not modify
// the volume.
func (fs *FileSystem) Check() *Report {
	c := &checker{
		vol:    fs.vol,
		owners: make([]owner, fs.vol.TotalBlocks()),
		r:      &Report{},
	}
	c.freeList()
	queue := []pending{{head: volume.RootBlock, parent: volume.None}}
	for len(queue) > 0 {
		d := queue[0]
		queue = c.directory(d, queue[1:])
	}
	for i, o := range c.owners {
		if o == unowned {
			c.problem(volume.BlockIndex(i), "", "block is neither free nor referenced")
		}
	}
	if used := c.r.DirBlocks + c.r.FileBlocks; used != fs.vol.UsedBlocks() {
		c.problem(volume.None, "", "header counts %d used blocks, tree holds %d", fs.vol.UsedBlocks(), used)
	}
	if c.r.FreeBlocks != fs.vol.FreeBlocks() {
		c.problem(volume.None, "", "header counts %d free blocks, free list holds %d", fs.vol.FreeBlocks(), c.r.FreeBlocks)
	}
	if c.r.OK() {
		fs.log.Debugf("Check: %s", c.r)
	} else {
		fs.log.Warnf("Check: %d problems found", len(c.r.Problems))
	}
	return c.r
}
