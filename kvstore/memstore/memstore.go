// Package memstore is an in-memory flat key-value backend.
package memstore

import (
	"github.com/brettbedarf/kvfs"
	"github.com/brettbedarf/kvfs/kvstore"
	"github.com/puzpuzpuz/xsync/v4"
)

// Store keeps every value in a concurrent map. Values are copied on the way
// in and out so callers never share memory with the store.
type Store struct {
	data *xsync.Map[string, []byte]
}

var _ kvfs.SimpleStore = (*Store)(nil)

func New() *Store {
	return &Store{data: xsync.NewMap[string, []byte]()}
}

// NewSync returns a transactional store backed by a fresh in-memory map.
func NewSync() *kvstore.SyncStore {
	return kvstore.NewSyncStore(New())
}

func (s *Store) Name() string {
	return "memory"
}

func (s *Store) Clear() error {
	s.data.Clear()
	return nil
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	v, ok := s.data.Load(key)
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (s *Store) Put(key string, data []byte, overwrite bool) (bool, error) {
	v := clone(data)
	if overwrite {
		s.data.Store(key, v)
		return true, nil
	}
	_, loaded := s.data.LoadOrStore(key, v)
	return !loaded, nil
}

func (s *Store) Remove(key string) error {
	s.data.Delete(key)
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	return s.data.Size()
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
