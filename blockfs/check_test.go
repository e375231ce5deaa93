package blockfs

import (
	"fmt"
	"strings"
	"testing"

	"github.com/rarydzu/blockfs/blockfs/dir"
	"github.com/rarydzu/blockfs/blockfs/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFS(t *testing.T) *FileSystem {
	t.Helper()
	fs, err := Format(1<<20, zap.NewNop().Sugar())
	require.NoError(t, err)
	return fs
}

func hasProblem(r *Report, substr string) bool {
	for _, p := range r.Problems {
		if strings.Contains(p.String(), substr) {
			return true
		}
	}
	return false
}

func TestCheckClean(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.CreateDirectory("/a"))
	for i := 0; i < 2*volume.DirCapacity; i++ {
		require.NoError(t, fs.CreateFile(fmt.Sprintf("/a/f%03d", i)))
	}
	require.NoError(t, fs.WriteFile("/a/big", make([]byte, 2*volume.FilePayloadSize+1), Write))

	r := fs.Check()
	assert.True(t, r.OK(), r.String())
	assert.Equal(t, 2, r.Directories)
	assert.Equal(t, 2*volume.DirCapacity+1, r.Files)
	assert.Equal(t, 4, r.DirBlocks)
	assert.Equal(t, 3, r.FileBlocks)
	assert.Equal(t, fs.FreeBlocks(), r.FreeBlocks)
}

func TestCheckLeakedBlock(t *testing.T) {
	fs := newTestFS(t)
	leaked, err := fs.vol.Allocate()
	require.NoError(t, err)

	r := fs.Check()
	assert.False(t, r.OK())
	assert.True(t, hasProblem(r, "neither free nor referenced"), r.String())
	assert.Equal(t, leaked, r.Problems[0].Block)
}

func TestCheckBadFileEntry(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.WriteFile("/f", []byte("payload"), Write))
	d := dir.Root(fs.vol, fs.Clock)
	e, err := d.Lookup("f", dir.TypeFile)
	require.NoError(t, err)

	e.Size = 3 * volume.FilePayloadSize
	require.NoError(t, d.Update(e))
	r := fs.Check()
	assert.True(t, hasProblem(r, "/f: size"), r.String())

	e.Size = 7
	e.LastBlock = volume.BlockIndex(fs.TotalBlocks() - 1)
	require.NoError(t, d.Update(e))
	r = fs.Check()
	assert.True(t, hasProblem(r, "last block"), r.String())
}

func TestCheckSharedBlock(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.WriteFile("/a", []byte("a"), Write))
	require.NoError(t, fs.CreateFile("/b"))
	d := dir.Root(fs.vol, fs.Clock)
	a, err := d.Lookup("a", dir.TypeFile)
	require.NoError(t, err)
	b, err := d.Lookup("b", dir.TypeFile)
	require.NoError(t, err)

	b.FirstBlock, b.LastBlock, b.Size = a.FirstBlock, a.LastBlock, a.Size
	require.NoError(t, d.Update(b))
	r := fs.Check()
	assert.True(t, hasProblem(r, "claimed by file and file"), r.String())
}

func TestCheckFreeListDamage(t *testing.T) {
	fs := newTestFS(t)
	raw := fs.vol.Raw(fs.vol.FirstFree())
	// point the head's next link back at itself
	copy(raw[4:8], []byte{1, 0, 0, 0})

	r := fs.Check()
	assert.False(t, r.OK())
	assert.True(t, hasProblem(r, "claimed by free list and free list"), r.String())
	assert.True(t, hasProblem(r, "free blocks"), r.String())
}
