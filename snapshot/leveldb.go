package snapshot

import (
	"github.com/syndtr/goleveldb/leveldb"
	lfilter "github.com/syndtr/goleveldb/leveldb/filter"
	lopt "github.com/syndtr/goleveldb/leveldb/opt"
	lstorage "github.com/syndtr/goleveldb/leveldb/storage"
	lutil "github.com/syndtr/goleveldb/leveldb/util"
)

type levelStore struct {
	db *leveldb.DB
}

func openLevelDB(path string) (*levelStore, error) {
	o := &lopt.Options{
		Filter: lfilter.NewBloomFilter(10),
	}
	var db *leveldb.DB
	var err error
	if path == "" {
		db, err = leveldb.Open(lstorage.NewMemStorage(), o)
	} else {
		db, err = leveldb.OpenFile(path, o)
	}
	if err != nil {
		return nil, err
	}
	return &levelStore{db: db}, nil
}

func (s *levelStore) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *levelStore) Put(key, value []byte) error {
	return s.db.Put(key, value, &lopt.WriteOptions{Sync: true})
}

func (s *levelStore) Delete(key []byte) error {
	return s.db.Delete(key, &lopt.WriteOptions{Sync: true})
}

func (s *levelStore) Keys(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	iter := s.db.NewIterator(lutil.BytesPrefix(prefix), nil)
	for iter.Next() {
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	return keys, iter.Error()
}

func (s *levelStore) Close() error {
	return s.db.Close()
}
