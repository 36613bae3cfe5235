// Package dsstore adapts go-datastore implementations to the kvfs store
// contract. Plain datastores become a flat [kvfs.SimpleStore]; datastores
// that implement [datastore.TxnDatastore] map onto native transactions.
//
// Store keys are converted with [datastore.NewKey], so keys that only differ
// by path cleaning (for example "a//b" and "a/b") collide. The filesystem only
// ever uses "/" and generated ids, neither of which is affected.
package dsstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/brettbedarf/kvfs"
	"github.com/brettbedarf/kvfs/kvstore"
	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	leveldb "github.com/ipfs/go-ds-leveldb"
)

// Store is a flat adapter over any datastore.
type Store struct {
	ctx context.Context
	ds  ds.Datastore
}

var _ kvfs.SimpleStore = (*Store)(nil)

func New(d ds.Datastore) *Store {
	return &Store{ctx: context.Background(), ds: d}
}

// NewSync wraps d with compensating transactions.
func NewSync(d ds.Datastore) *kvstore.SyncStore {
	return kvstore.NewSyncStore(New(d))
}

func (s *Store) Name() string {
	return "datastore"
}

func (s *Store) Clear() error {
	return clearAll(s.ctx, s.ds, s.ds)
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	return get(s.ctx, s.ds, key)
}

func (s *Store) Put(key string, data []byte, overwrite bool) (bool, error) {
	return put(s.ctx, s.ds, s.ds, key, data, overwrite)
}

func (s *Store) Remove(key string) error {
	return remove(s.ctx, s.ds, key)
}

func (s *Store) Close() error {
	return s.ds.Close()
}

// TxnStore uses the datastore's own transactions.
type TxnStore struct {
	ctx context.Context
	ds  ds.TxnDatastore
}

var _ kvfs.Store = (*TxnStore)(nil)

func NewTxn(d ds.TxnDatastore) *TxnStore {
	return &TxnStore{ctx: context.Background(), ds: d}
}

// OpenLevelDB opens (creating if needed) a leveldb datastore in dir and
// uses its native transactions.
func OpenLevelDB(dir string) (*TxnStore, error) {
	d, err := leveldb.NewDatastore(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb datastore %s: %w", dir, err)
	}
	return NewTxn(d), nil
}

func (s *TxnStore) Name() string {
	return "datastore-txn"
}

func (s *TxnStore) Clear() error {
	txn, err := s.ds.NewTransaction(s.ctx, false)
	if err != nil {
		return err
	}
	if err := clearAll(s.ctx, txn, txn); err != nil {
		txn.Discard(s.ctx)
		return err
	}
	return txn.Commit(s.ctx)
}

func (s *TxnStore) BeginTransaction(mode kvfs.TransactionMode) (kvfs.Transaction, error) {
	var readOnly bool
	switch mode {
	case kvfs.ReadOnly:
		readOnly = true
	case kvfs.ReadWrite:
	default:
		return nil, fmt.Errorf("dsstore: unknown transaction mode %q", mode)
	}
	txn, err := s.ds.NewTransaction(s.ctx, readOnly)
	if err != nil {
		return nil, err
	}
	return &transaction{ctx: s.ctx, txn: txn, readOnly: readOnly}, nil
}

func (s *TxnStore) Close() error {
	return s.ds.Close()
}

type transaction struct {
	ctx      context.Context
	txn      ds.Txn
	readOnly bool
	done     bool
}

func (t *transaction) Get(key string) ([]byte, bool, error) {
	return get(t.ctx, t.txn, key)
}

func (t *transaction) Put(key string, data []byte, overwrite bool) (bool, error) {
	if t.readOnly {
		return false, kvstore.ErrReadOnlyTransaction
	}
	return put(t.ctx, t.txn, t.txn, key, data, overwrite)
}

func (t *transaction) Remove(key string) error {
	if t.readOnly {
		return kvstore.ErrReadOnlyTransaction
	}
	return remove(t.ctx, t.txn, key)
}

func (t *transaction) Commit() error {
	if t.done {
		return kvstore.ErrTransactionDone
	}
	t.done = true
	if t.readOnly {
		t.txn.Discard(t.ctx)
		return nil
	}
	return t.txn.Commit(t.ctx)
}

func (t *transaction) Abort() error {
	if t.done {
		return nil
	}
	t.done = true
	t.txn.Discard(t.ctx)
	return nil
}

func get(ctx context.Context, r ds.Read, key string) ([]byte, bool, error) {
	v, err := r.Get(ctx, ds.NewKey(key))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	// some datastores (MapDatastore) hand out their internal slice
	return append([]byte{}, v...), true, nil
}

func put(ctx context.Context, r ds.Read, w ds.Write, key string, data []byte, overwrite bool) (bool, error) {
	k := ds.NewKey(key)
	if !overwrite {
		exists, err := r.Has(ctx, k)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}
	if err := w.Put(ctx, k, append([]byte{}, data...)); err != nil {
		return false, err
	}
	return true, nil
}

func remove(ctx context.Context, w ds.Write, key string) error {
	err := w.Delete(ctx, ds.NewKey(key))
	if errors.Is(err, ds.ErrNotFound) {
		return nil
	}
	return err
}

func clearAll(ctx context.Context, r ds.Read, w ds.Write) error {
	res, err := r.Query(ctx, query.Query{KeysOnly: true})
	if err != nil {
		return err
	}
	entries, err := res.Rest()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := w.Delete(ctx, ds.NewKey(e.Key)); err != nil && !errors.Is(err, ds.ErrNotFound) {
			return err
		}
	}
	return nil
}
