package snapshot

import (
	"errors"
	"fmt"

	"github.com/rarydzu/blockfs/blockfs/config"
	"go.uber.org/zap"
)

// ErrNotFound is returned by a Store for missing keys and by Snapshot for
// unknown snapshot names.
var ErrNotFound = errors.New("not found")

// Store is the key value store a catalogue lives in.
type Store interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// Keys returns every key starting with prefix in ascending order.
	Keys(prefix []byte) ([][]byte, error)
	Close() error
}

// OpenStore opens the backend named by kind at path. An empty path keeps the
// store in memory.
func OpenStore(kind, path string, log *zap.SugaredLogger) (Store, error) {
	switch kind {
	case config.LevelDB, "":
		return openLevelDB(path)
	case config.Badger:
		return openBadger(path, log)
	}
	return nil, fmt.Errorf("unknown snapshot backend %q", kind)
}
