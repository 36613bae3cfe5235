// Package boltstore is a natively transactional backend on top of bbolt.
// Every key lives in a single bucket; a kvfs transaction maps one-to-one
// onto a bolt transaction.
package boltstore

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/brettbedarf/kvfs"
	bolt "go.etcd.io/bbolt"
)

// DefaultBucket is used when no bucket name is configured.
const DefaultBucket = "kvfs"

type Store struct {
	db     *bolt.DB
	bucket []byte
	owned  bool // db was opened by Open and is closed by Close
}

var _ kvfs.Store = (*Store)(nil)

// Open opens (creating if needed) the bolt database at path.
func Open(path, bucket string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database %s: %w", path, err)
	}
	s, err := New(db, bucket)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New uses an already open database, creating the bucket if missing.
func New(db *bolt.DB, bucket string) (*Store, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	s := &Store{db: db, bucket: []byte(bucket)}
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return s, nil
}

func (s *Store) Name() string {
	return "bolt"
}

// Clear drops and re-creates the bucket in one transaction.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(s.bucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
}

func (s *Store) BeginTransaction(mode kvfs.TransactionMode) (kvfs.Transaction, error) {
	var writable bool
	switch mode {
	case kvfs.ReadOnly:
	case kvfs.ReadWrite:
		writable = true
	default:
		return nil, fmt.Errorf("boltstore: unknown transaction mode %q", mode)
	}
	tx, err := s.db.Begin(writable)
	if err != nil {
		return nil, err
	}
	b := tx.Bucket(s.bucket)
	if b == nil {
		tx.Rollback() // nolint:errcheck
		return nil, fmt.Errorf("boltstore: bucket %s missing", s.bucket)
	}
	return &transaction{tx: tx, bucket: b}, nil
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

type transaction struct {
	tx     *bolt.Tx
	bucket *bolt.Bucket
	done   bool
}

func (t *transaction) Get(key string) ([]byte, bool, error) {
	if t.done {
		return nil, false, bolt.ErrTxClosed
	}
	v, ok := t.lookup([]byte(key))
	if !ok {
		return nil, false, nil
	}
	// bolt values are only valid for the life of the transaction
	return append([]byte{}, v...), true, nil
}

// lookup uses a cursor so an empty stored value is distinguishable from a
// missing key.
func (t *transaction) lookup(key []byte) ([]byte, bool) {
	k, v := t.bucket.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, false
	}
	return v, true
}

func (t *transaction) Put(key string, data []byte, overwrite bool) (bool, error) {
	if t.done {
		return false, bolt.ErrTxClosed
	}
	k := []byte(key)
	if !overwrite {
		if _, ok := t.lookup(k); ok {
			return false, nil
		}
	}
	if data == nil {
		data = []byte{}
	}
	if err := t.bucket.Put(k, data); err != nil {
		return false, err
	}
	return true, nil
}

func (t *transaction) Remove(key string) error {
	if t.done {
		return bolt.ErrTxClosed
	}
	return t.bucket.Delete([]byte(key))
}

// Commit commits a writable transaction. Read-only transactions are simply
// released.
func (t *transaction) Commit() error {
	if t.done {
		return bolt.ErrTxClosed
	}
	t.done = true
	if !t.tx.Writable() {
		return t.tx.Rollback()
	}
	return t.tx.Commit()
}

func (t *transaction) Abort() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
