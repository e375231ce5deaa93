package volume

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testCapacity = 1 << 20

func newTestVolume(t *testing.T) *Volume {
	t.Helper()
	v, err := Format(testCapacity, zap.NewNop().Sugar())
	require.NoError(t, err)
	return v
}

// freeList walks the free list forward and checks back links on the way.
func freeList(t *testing.T, v *Volume) []BlockIndex {
	t.Helper()
	var out []BlockIndex
	prev := None
	for i := v.FirstFree(); i != None; {
		p, n, err := v.FreeLinks(i)
		require.NoError(t, err)
		require.Equal(t, prev, p, "back link of free block %d", i)
		out = append(out, i)
		require.LessOrEqual(t, len(out), v.TotalBlocks())
		prev, i = i, n
	}
	return out
}

func TestFormat(t *testing.T) {
	v := newTestVolume(t)
	total := (testCapacity - HeaderSize) / BlockSize
	assert.Equal(t, total, v.TotalBlocks())
	assert.Equal(t, 1, v.UsedBlocks())
	assert.Equal(t, total-1, v.FreeBlocks())
	assert.Equal(t, BlockIndex(1), v.FirstFree())
	assert.Equal(t, HeaderSize+total*BlockSize, len(v.Image()))

	root, err := v.DirBlock(RootBlock)
	require.NoError(t, err)
	assert.Equal(t, None, root.Parent())
	assert.Equal(t, None, root.Prev())
	assert.Equal(t, None, root.Next())
	assert.Equal(t, 0, root.Count())

	fl := freeList(t, v)
	require.Len(t, fl, total-1)
	for n, i := range fl {
		assert.Equal(t, BlockIndex(n+1), i)
	}
}

func TestFormatTrimsTail(t *testing.T) {
	v, err := Format(MinImageSize+BlockSize-1, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, MinImageSize, v.Capacity())
	assert.Equal(t, MinImageSize/BlockSize-1, v.TotalBlocks())

	w, err := FromImage(v.Image(), zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, v.TotalBlocks(), w.TotalBlocks())
}

func TestFormatTooSmall(t *testing.T) {
	_, err := Format(MinImageSize-1, zap.NewNop().Sugar())
	assert.ErrorIs(t, err, ErrImageTooSmall)
}

func TestAllocateDeallocate(t *testing.T) {
	v := newTestVolume(t)
	total := v.TotalBlocks()

	a, err := v.Allocate()
	require.NoError(t, err)
	b, err := v.Allocate()
	require.NoError(t, err)
	assert.Equal(t, BlockIndex(1), a)
	assert.Equal(t, BlockIndex(2), b)
	assert.Equal(t, 3, v.UsedBlocks())
	assert.Equal(t, total, v.UsedBlocks()+v.FreeBlocks())

	require.NoError(t, v.Deallocate(a))
	assert.Equal(t, a, v.FirstFree())
	assert.Equal(t, 2, v.UsedBlocks())

	// LIFO reuse
	c, err := v.Allocate()
	require.NoError(t, err)
	assert.Equal(t, a, c)
	assert.Len(t, freeList(t, v), v.FreeBlocks())
}

func TestAllocateZeroesBlock(t *testing.T) {
	v := newTestVolume(t)
	i, err := v.Allocate()
	require.NoError(t, err)
	fb, err := v.FileBlock(i)
	require.NoError(t, err)
	copy(fb.Payload(), []byte("dirty"))
	fb.SetNext(7)
	require.NoError(t, v.Deallocate(i))

	j, err := v.Allocate()
	require.NoError(t, err)
	require.Equal(t, i, j)
	assert.Equal(t, make([]byte, BlockSize), v.Raw(j))
}

func TestAllocateExhausted(t *testing.T) {
	v := newTestVolume(t)
	for v.FreeBlocks() > 0 {
		_, err := v.Allocate()
		require.NoError(t, err)
	}
	assert.Equal(t, None, v.FirstFree())
	_, err := v.Allocate()
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, ErrVolumeFull)
	err = v.Reserve(1)
	assert.ErrorIs(t, err, ErrVolumeFull)
	assert.False(t, IsFatal(err))
	assert.NoError(t, v.Reserve(0))
}

func TestDeallocateInvalid(t *testing.T) {
	v := newTestVolume(t)
	for _, i := range []BlockIndex{RootBlock, None, BlockIndex(v.TotalBlocks())} {
		err := v.Deallocate(i)
		assert.True(t, IsFatal(err), "block %d", i)
		assert.ErrorIs(t, err, ErrCorrupted)
	}
	assert.Equal(t, 1, v.UsedBlocks())

	var fe *FatalError
	require.True(t, errors.As(v.Deallocate(RootBlock), &fe))
	assert.Equal(t, "deallocate", fe.Op)
	assert.NotNil(t, fe.Trace())
}

func TestRawIndexOf(t *testing.T) {
	v := newTestVolume(t)
	assert.Nil(t, v.Raw(None))
	assert.Nil(t, v.Raw(BlockIndex(v.TotalBlocks())))
	for _, i := range []BlockIndex{0, 1, 17, BlockIndex(v.TotalBlocks() - 1)} {
		raw := v.Raw(i)
		require.Len(t, raw, BlockSize)
		assert.Equal(t, i, v.IndexOf(raw))
	}
	assert.Equal(t, None, v.IndexOf(v.Raw(3)[1:]))
	assert.Equal(t, None, v.IndexOf(make([]byte, BlockSize)))
	assert.Equal(t, None, v.IndexOf(nil))
}

func TestDirBlockSlots(t *testing.T) {
	v := newTestVolume(t)
	d, err := v.DirBlock(RootBlock)
	require.NoError(t, err)
	assert.Equal(t, 63, DirCapacity)
	for i := 0; i < 4; i++ {
		d.Slot(i)[0] = byte('a' + i)
	}
	d.SetCount(4)
	d.ShiftLeft(1)
	assert.Equal(t, byte('a'), d.Slot(0)[0])
	assert.Equal(t, byte('c'), d.Slot(1)[0])
	assert.Equal(t, byte('d'), d.Slot(2)[0])

	_, err = v.DirBlock(BlockIndex(v.TotalBlocks()))
	assert.ErrorIs(t, err, ErrCorrupted)
	_, err = v.FileBlock(None)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestSaveLoad(t *testing.T) {
	v := newTestVolume(t)
	i, err := v.Allocate()
	require.NoError(t, err)
	fb, err := v.FileBlock(i)
	require.NoError(t, err)
	copy(fb.Payload(), []byte("persisted"))

	path := filepath.Join(t.TempDir(), "storage.fs")
	require.NoError(t, v.Save(path))

	w, err := Load(path, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, v.TotalBlocks(), w.TotalBlocks())
	assert.Equal(t, v.UsedBlocks(), w.UsedBlocks())
	assert.Equal(t, v.FirstFree(), w.FirstFree())
	assert.True(t, bytes.Equal(v.Image(), w.Image()))

	var buf bytes.Buffer
	n, err := w.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(testCapacity), n)
}

func TestLoadRejects(t *testing.T) {
	log := zap.NewNop().Sugar()

	_, err := FromImage(make([]byte, MinImageSize-1), log)
	assert.ErrorIs(t, err, ErrImageTooSmall)

	_, err = FromImage(make([]byte, MinImageSize), log)
	assert.ErrorIs(t, err, ErrInvalidImage)

	img := newTestVolume(t).Image()
	img[hdrUsed] ^= 0xff
	_, err = FromImage(img, log)
	assert.ErrorIs(t, err, ErrInvalidImage)

	img = newTestVolume(t).Image()
	_, err = FromImage(append(img, make([]byte, BlockSize)...), log)
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = Load(filepath.Join(t.TempDir(), "missing.fs"), log)
	assert.True(t, os.IsNotExist(err))
}

func TestFreeChain(t *testing.T) {
	v := newTestVolume(t)
	prev := None
	var first BlockIndex = None
	for n := 0; n < 5; n++ {
		i, err := v.Allocate()
		require.NoError(t, err)
		fb, err := v.FileBlock(i)
		require.NoError(t, err)
		fb.SetPrev(prev)
		fb.SetNext(None)
		if prev == None {
			first = i
		} else {
			pb, err := v.FileBlock(prev)
			require.NoError(t, err)
			pb.SetNext(i)
		}
		prev = i
	}
	require.Equal(t, 6, v.UsedBlocks())

	n, err := v.FreeChain(first)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 1, v.UsedBlocks())
	assert.Len(t, freeList(t, v), v.FreeBlocks())

	n, err = v.FreeChain(None)
	assert.NoError(t, err)
	assert.Zero(t, n)
}
