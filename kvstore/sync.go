// Package kvstore adapts key-value backends to the [kvfs.Store] transaction
// contract.
//
// Backends with native multi-key transactions implement [kvfs.Store]
// directly. Flat backends implement [kvfs.SimpleStore] and are wrapped with
// [NewSyncStore], whose read-write transactions apply writes immediately and
// keep a compensating log of each key's first-touched value so Abort can put
// it back.
package kvstore

import (
	"errors"
	"fmt"

	"github.com/brettbedarf/kvfs"
	"github.com/brettbedarf/kvfs/internal/util"
	"go.uber.org/multierr"
)

// ErrReadOnlyTransaction is returned by Put and Remove on a read-only transaction.
var ErrReadOnlyTransaction = errors.New("kvstore: transaction is read-only")

// ErrTransactionDone is returned when a finished transaction is used again.
var ErrTransactionDone = errors.New("kvstore: transaction already committed or aborted")

// SyncStore turns a [kvfs.SimpleStore] into a transactional [kvfs.Store].
type SyncStore struct {
	store kvfs.SimpleStore
}

var _ kvfs.Store = (*SyncStore)(nil)

// NewSyncStore wraps a flat store with compensating transactions.
func NewSyncStore(store kvfs.SimpleStore) *SyncStore {
	return &SyncStore{store: store}
}

func (s *SyncStore) Name() string {
	return s.store.Name()
}

func (s *SyncStore) Clear() error {
	return s.store.Clear()
}

// Unwrap returns the wrapped flat store.
func (s *SyncStore) Unwrap() kvfs.SimpleStore {
	return s.store
}

func (s *SyncStore) BeginTransaction(mode kvfs.TransactionMode) (kvfs.Transaction, error) {
	switch mode {
	case kvfs.ReadOnly:
		return &readOnlyTx{store: s.store}, nil
	case kvfs.ReadWrite:
		return &compensatingTx{store: s.store, stash: make(map[string]stashed)}, nil
	default:
		return nil, fmt.Errorf("kvstore: unknown transaction mode %q", mode)
	}
}

// readOnlyTx reads straight through to the flat store.
type readOnlyTx struct {
	store kvfs.SimpleStore
}

func (tx *readOnlyTx) Get(key string) ([]byte, bool, error) {
	return tx.store.Get(key)
}

func (tx *readOnlyTx) Put(string, []byte, bool) (bool, error) {
	return false, ErrReadOnlyTransaction
}

func (tx *readOnlyTx) Remove(string) error {
	return ErrReadOnlyTransaction
}

func (tx *readOnlyTx) Commit() error { return nil }
func (tx *readOnlyTx) Abort() error  { return nil }

// stashed is a key's value as it was before the transaction first touched it.
type stashed struct {
	value   []byte
	existed bool
}

// compensatingTx applies writes directly and records originals for rollback.
type compensatingTx struct {
	store kvfs.SimpleStore
	stash map[string]stashed
	order []string // first-touch order; restored in reverse
	done  bool
}

func (tx *compensatingTx) Get(key string) ([]byte, bool, error) {
	if tx.done {
		return nil, false, ErrTransactionDone
	}
	return tx.store.Get(key)
}

func (tx *compensatingTx) Put(key string, data []byte, overwrite bool) (bool, error) {
	if tx.done {
		return false, ErrTransactionDone
	}
	if err := tx.markModified(key); err != nil {
		return false, err
	}
	return tx.store.Put(key, data, overwrite)
}

func (tx *compensatingTx) Remove(key string) error {
	if tx.done {
		return ErrTransactionDone
	}
	if err := tx.markModified(key); err != nil {
		return err
	}
	return tx.store.Remove(key)
}

// Commit is a no-op; writes already reached the store.
func (tx *compensatingTx) Commit() error {
	if tx.done {
		return ErrTransactionDone
	}
	tx.done = true
	tx.stash = nil
	tx.order = nil
	return nil
}

// Abort restores every stashed key. Restoration continues past individual
// failures so as many keys as possible are rolled back.
func (tx *compensatingTx) Abort() error {
	if tx.done {
		return nil
	}
	tx.done = true
	logger := util.GetLogger("kvstore.Abort")

	var errs error
	for i := len(tx.order) - 1; i >= 0; i-- {
		key := tx.order[i]
		orig := tx.stash[key]
		if orig.existed {
			if _, err := tx.store.Put(key, orig.value, true); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("restore %q: %w", key, err))
			}
		} else if err := tx.store.Remove(key); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("remove %q: %w", key, err))
		}
	}
	logger.Trace().Int("keys", len(tx.order)).Err(errs).Msg("Rolled back transaction")
	tx.stash = nil
	tx.order = nil
	return errs
}

// markModified stashes key's current value the first time it is touched.
func (tx *compensatingTx) markModified(key string) error {
	if _, ok := tx.stash[key]; ok {
		return nil
	}
	value, found, err := tx.store.Get(key)
	if err != nil {
		return err
	}
	if found {
		value = append([]byte(nil), value...)
	}
	tx.stash[key] = stashed{value: value, existed: found}
	tx.order = append(tx.order, key)
	return nil
}
