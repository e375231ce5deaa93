// Package snapshot keeps named copies of whole volume images in an embedded
// key value store.
package snapshot

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/rarydzu/blockfs/blockfs/volume"
	"go.uber.org/zap"
)

const (
	// CurrentSnapshotName 	key holding the name of the current snapshot
	CurrentSnapshotName = "current"
	metaPrefix          = "meta/"
	dataPrefix          = "data/"
	metaSize            = sha256.Size + 8 + 4 + 4 + 8
)

// ChunkSize is the largest piece of image kept under one key. Badger refuses
// values of 1 MiB and more in memory mode.
const ChunkSize = 512 << 10

var (
	ErrExists    = errors.New("snapshot already exists")
	ErrEmptyName = errors.New("name cannot be empty")
	// ErrChecksum is returned when a restored image does not hash to its id.
	ErrChecksum = errors.New("image checksum mismatch")
)

// Info describes one snapshot.
type Info struct {
	Name        string
	ID          string
	Created     time.Time
	UsedBlocks  int
	TotalBlocks int
	Size        int
}

func (i *Info) encode() []byte {
	buf := make([]byte, metaSize)
	sum, _ := hex.DecodeString(i.ID)
	copy(buf[0:sha256.Size], sum)
	off := sha256.Size
	binary.LittleEndian.PutUint64(buf[off:], uint64(i.Created.Unix()))
	binary.LittleEndian.PutUint32(buf[off+8:], uint32(i.UsedBlocks))
	binary.LittleEndian.PutUint32(buf[off+12:], uint32(i.TotalBlocks))
	binary.LittleEndian.PutUint64(buf[off+16:], uint64(i.Size))
	return buf
}

func (i *Info) decode(b []byte) error {
	if len(b) != metaSize {
		return fmt.Errorf("%w: metadata of %d bytes", ErrBadRecord, len(b))
	}
	i.ID = hex.EncodeToString(b[0:sha256.Size])
	off := sha256.Size
	i.Created = time.Unix(int64(binary.LittleEndian.Uint64(b[off:])), 0)
	i.UsedBlocks = int(binary.LittleEndian.Uint32(b[off+8:]))
	i.TotalBlocks = int(binary.LittleEndian.Uint32(b[off+12:]))
	i.Size = int(binary.LittleEndian.Uint64(b[off+16:]))
	return nil
}

type Snapshot struct {
	sync.Mutex
	store Store
	clock timeutil.Clock
	log   *zap.SugaredLogger
}

// New opens the catalogue kept in backend kind at path.
func New(kind, path string, clock timeutil.Clock, log *zap.SugaredLogger) (*Snapshot, error) {
	store, err := OpenStore(kind, path, log)
	if err != nil {
		return nil, err
	}
	return NewWithStore(store, clock, log), nil
}

// NewWithStore wraps an already opened store.
func NewWithStore(store Store, clock timeutil.Clock, log *zap.SugaredLogger) *Snapshot {
	return &Snapshot{store: store, clock: clock, log: log}
}

func metaKey(name string) []byte { return []byte(metaPrefix + name) }
func chunkPrefix(id string) []byte { return []byte(dataPrefix + id + "/") }

func chunkKey(id string, n int) []byte {
	return []byte(fmt.Sprintf("%s%s/%06d", dataPrefix, id, n))
}

func chunks(size int) int {
	return (size + ChunkSize - 1) / ChunkSize
}

// putData stores image in chunks. The last chunk goes in last, so its
// presence means the whole image is stored.
func (s *Snapshot) putData(id string, image []byte) error {
	n := chunks(len(image))
	if _, err := s.store.Get(chunkKey(id, n-1)); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	for i := 0; i < n; i++ {
		end := (i + 1) * ChunkSize
		if end > len(image) {
			end = len(image)
		}
		k := chunkKey(id, i)
		if err := s.store.Put(k, NewRecord(k, image[i*ChunkSize:end]).Encode()); err != nil {
			return fmt.Errorf("store chunk %d: %w", i, err)
		}
	}
	return nil
}

func (s *Snapshot) getData(info *Info) ([]byte, error) {
	image := make([]byte, 0, info.Size)
	for i := 0; i < chunks(info.Size); i++ {
		k := chunkKey(info.ID, i)
		raw, err := s.store.Get(k)
		if err != nil {
			return nil, fmt.Errorf("snapshot %q chunk %d: %w", info.Name, i, err)
		}
		r, err := decodeFor(k, raw)
		if err != nil {
			return nil, err
		}
		image = append(image, r.Value...)
	}
	if len(image) != info.Size {
		return nil, fmt.Errorf("snapshot %q: %w: %d bytes, expected %d", info.Name, ErrBadRecord, len(image), info.Size)
	}
	return image, nil
}

func (s *Snapshot) deleteData(id string) error {
	keys, err := s.store.Keys(chunkPrefix(id))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.store.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Snapshot) info(name string) (*Info, error) {
	key := metaKey(name)
	raw, err := s.store.Get(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("snapshot %q: %w", name, ErrNotFound)
		}
		return nil, err
	}
	r, err := decodeFor(key, raw)
	if err != nil {
		return nil, err
	}
	i := &Info{Name: name}
	if err := i.decode(r.Value); err != nil {
		return nil, err
	}
	return i, nil
}

// Create stores image under name and makes it the current snapshot. It
// returns the hex SHA-256 of the image, which identifies its contents;
// snapshots of identical images share storage.
func (s *Snapshot) Create(name string, image []byte) (string, error) {
	if name == "" {
		return "", ErrEmptyName
	}
	s.Lock()
	defer s.Unlock()
	if _, err := s.info(name); err == nil {
		return "", fmt.Errorf("snapshot %q: %w", name, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	vol, err := volume.FromImage(image, s.log)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(image)
	info := &Info{
		Name:        name,
		ID:          hex.EncodeToString(sum[:]),
		Created:     s.clock.Now(),
		UsedBlocks:  vol.UsedBlocks(),
		TotalBlocks: vol.TotalBlocks(),
		Size:        len(image),
	}

	if err := s.putData(info.ID, image); err != nil {
		return "", err
	}
	mk := metaKey(name)
	if err := s.store.Put(mk, NewRecord(mk, info.encode()).Encode()); err != nil {
		return "", err
	}
	if err := s.store.Put([]byte(CurrentSnapshotName), []byte(name)); err != nil {
		return "", err
	}
	s.log.Infof("snapshot %q created (%s, %d/%d blocks used)", name, info.ID[:12], info.UsedBlocks, info.TotalBlocks)
	return info.ID, nil
}

// Restore returns the image stored under name and makes it current.
func (s *Snapshot) Restore(name string) ([]byte, error) {
	s.Lock()
	defer s.Unlock()
	info, err := s.info(name)
	if err != nil {
		return nil, err
	}
	image, err := s.getData(info)
	if err != nil {
		return nil, err
	}
	if sum := sha256.Sum256(image); hex.EncodeToString(sum[:]) != info.ID {
		return nil, fmt.Errorf("snapshot %q: %w", name, ErrChecksum)
	}
	if err := s.store.Put([]byte(CurrentSnapshotName), []byte(name)); err != nil {
		return nil, err
	}
	s.log.Infof("snapshot %q restored", name)
	return image, nil
}

// List returns every snapshot, oldest first.
func (s *Snapshot) List() ([]Info, error) {
	s.Lock()
	defer s.Unlock()
	return s.list()
}

func (s *Snapshot) list() ([]Info, error) {
	keys, err := s.store.Keys([]byte(metaPrefix))
	if err != nil {
		return nil, err
	}
	l := make([]Info, 0, len(keys))
	for _, k := range keys {
		info, err := s.info(string(k[len(metaPrefix):]))
		if err != nil {
			return nil, err
		}
		l = append(l, *info)
	}
	sort.SliceStable(l, func(a, b int) bool {
		if !l[a].Created.Equal(l[b].Created) {
			return l[a].Created.Before(l[b].Created)
		}
		return l[a].Name < l[b].Name
	})
	return l, nil
}

// Delete removes a snapshot. Image data is dropped once no snapshot refers
// to it any more.
func (s *Snapshot) Delete(name string) error {
	s.Lock()
	defer s.Unlock()
	info, err := s.info(name)
	if err != nil {
		return err
	}
	if err := s.store.Delete(metaKey(name)); err != nil {
		return err
	}
	rest, err := s.list()
	if err != nil {
		return err
	}
	shared := false
	for _, o := range rest {
		if o.ID == info.ID {
			shared = true
			break
		}
	}
	if !shared {
		if err := s.deleteData(info.ID); err != nil {
			return err
		}
	}
	cur, err := s.current()
	if err != nil {
		return err
	}
	if cur == name {
		if err := s.store.Delete([]byte(CurrentSnapshotName)); err != nil {
			return err
		}
	}
	s.log.Infof("snapshot %q deleted", name)
	return nil
}

// Current returns the name of the snapshot created or restored last, or ""
// when there is none.
func (s *Snapshot) Current() (string, error) {
	s.Lock()
	defer s.Unlock()
	return s.current()
}

func (s *Snapshot) current() (string, error) {
	n, err := s.store.Get([]byte(CurrentSnapshotName))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return string(n), nil
}

func (s *Snapshot) Close() error {
	return s.store.Close()
}
