package snapshot

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/rarydzu/blockfs/blockfs/config"
	"github.com/rarydzu/blockfs/blockfs/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type backend struct {
	name string
	kind string
	path func(t *testing.T) string
}

var backends = []backend{
	{"leveldb", config.LevelDB, func(t *testing.T) string { return filepath.Join(t.TempDir(), "db") }},
	{"leveldb-memory", config.LevelDB, func(t *testing.T) string { return "" }},
	{"badger", config.Badger, func(t *testing.T) string { return filepath.Join(t.TempDir(), "badger") }},
	{"badger-memory", config.Badger, func(t *testing.T) string { return "" }},
}

func image(t *testing.T, allocate int) []byte {
	t.Helper()
	return imageOf(t, volume.MinImageSize, allocate)
}

func imageOf(t *testing.T, capacity, allocate int) []byte {
	t.Helper()
	v, err := volume.Format(capacity, zap.NewNop().Sugar())
	require.NoError(t, err)
	for i := 0; i < allocate; i++ {
		_, err := v.Allocate()
		require.NoError(t, err)
	}
	return v.Image()
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s *Snapshot, clock *timeutil.SimulatedClock)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			clock := &timeutil.SimulatedClock{}
			clock.SetTime(time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC))
			s, err := New(b.kind, b.path(t), clock, zap.NewNop().Sugar())
			require.NoError(t, err)
			defer s.Close()
			fn(t, s, clock)
		})
	}
}

func TestCreateRestore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Snapshot, clock *timeutil.SimulatedClock) {
		cur, err := s.Current()
		require.NoError(t, err)
		assert.Equal(t, "", cur)

		img := image(t, 3)
		id, err := s.Create("first", img)
		require.NoError(t, err)
		assert.Len(t, id, 64)

		cur, err = s.Current()
		require.NoError(t, err)
		assert.Equal(t, "first", cur)

		_, err = s.Create("first", img)
		assert.ErrorIs(t, err, ErrExists)
		_, err = s.Create("", img)
		assert.ErrorIs(t, err, ErrEmptyName)
		_, err = s.Create("junk", make([]byte, volume.MinImageSize))
		assert.ErrorIs(t, err, volume.ErrInvalidImage)

		got, err := s.Restore("first")
		require.NoError(t, err)
		assert.Equal(t, img, got)
		_, err = s.Restore("missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestList(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Snapshot, clock *timeutil.SimulatedClock) {
		_, err := s.Create("b", image(t, 1))
		require.NoError(t, err)
		clock.AdvanceTime(time.Minute)
		_, err = s.Create("a", image(t, 5))
		require.NoError(t, err)

		l, err := s.List()
		require.NoError(t, err)
		require.Len(t, l, 2)
		assert.Equal(t, "b", l[0].Name)
		assert.Equal(t, 2, l[0].UsedBlocks)
		assert.Equal(t, "a", l[1].Name)
		assert.Equal(t, 6, l[1].UsedBlocks)
		assert.Equal(t, clock.Now().Unix(), l[1].Created.Unix())
		assert.Equal(t, volume.MinImageSize, l[1].Size)
		assert.Equal(t, (volume.MinImageSize-volume.HeaderSize)/volume.BlockSize, l[1].TotalBlocks)
	})
}

func TestDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Snapshot, clock *timeutil.SimulatedClock) {
		img := image(t, 2)
		_, err := s.Create("one", img)
		require.NoError(t, err)
		_, err = s.Create("two", img)
		require.NoError(t, err)

		require.NoError(t, s.Delete("two"))
		cur, err := s.Current()
		require.NoError(t, err)
		assert.Equal(t, "", cur)

		// data is shared with "one" and must survive
		got, err := s.Restore("one")
		require.NoError(t, err)
		assert.Equal(t, img, got)

		require.NoError(t, s.Delete("one"))
		assert.ErrorIs(t, s.Delete("one"), ErrNotFound)
		keys, err := s.store.Keys([]byte(dataPrefix))
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestCorruptedData(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Snapshot, clock *timeutil.SimulatedClock) {
		id, err := s.Create("x", image(t, 0))
		require.NoError(t, err)
		k := chunkKey(id, 1)
		raw, err := s.store.Get(k)
		require.NoError(t, err)
		raw[len(raw)/2] ^= 0xff
		require.NoError(t, s.store.Put(k, raw))

		_, err = s.Restore("x")
		assert.ErrorIs(t, err, ErrBadRecord)
	})
}

func TestMissingChunk(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Snapshot, clock *timeutil.SimulatedClock) {
		id, err := s.Create("x", image(t, 0))
		require.NoError(t, err)
		require.NoError(t, s.store.Delete(chunkKey(id, 0)))

		_, err = s.Restore("x")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDefaultCapacityImage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Snapshot, clock *timeutil.SimulatedClock) {
		img := imageOf(t, config.DefaultCapacity, 7)
		id, err := s.Create("big", img)
		require.NoError(t, err)

		keys, err := s.store.Keys(chunkPrefix(id))
		require.NoError(t, err)
		assert.Len(t, keys, config.DefaultCapacity/ChunkSize)

		got, err := s.Restore("big")
		require.NoError(t, err)
		assert.Equal(t, img, got)

		require.NoError(t, s.Delete("big"))
		keys, err = s.store.Keys([]byte(dataPrefix))
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	clock := timeutil.RealClock()
	s, err := New(config.LevelDB, path, clock, zap.NewNop().Sugar())
	require.NoError(t, err)
	img := image(t, 4)
	_, err = s.Create("keep", img)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(config.LevelDB, path, clock, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Restore("keep")
	require.NoError(t, err)
	assert.Equal(t, img, got)
}

func TestUnknownBackend(t *testing.T) {
	_, err := New("sqlite", "", timeutil.RealClock(), zap.NewNop().Sugar())
	assert.Error(t, err)
}

func TestRecord(t *testing.T) {
	r := NewRecord([]byte("k"), []byte("value"))
	data := r.Encode()

	got, err := decodeFor([]byte("k"), data)
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got.Value)

	_, err = decodeFor([]byte("other"), data)
	assert.ErrorIs(t, err, ErrBadRecord)
	assert.ErrorIs(t, (&Record{}).Decode(data[:5]), ErrBadRecord)
	assert.ErrorIs(t, (&Record{}).Decode(append(data, 0)), ErrBadRecord)
}
