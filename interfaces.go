// Package kvfs contains the core contracts shared by the key-value filesystem:
// the store and transaction interfaces every backend implements, typed
// filesystem errors, caller credentials and the filesystem metadata descriptor.
package kvfs

// TransactionMode selects what a [Transaction] may do.
type TransactionMode string

const (
	ReadOnly  TransactionMode = "readonly"
	ReadWrite TransactionMode = "readwrite"
)

// Transaction batches reads and writes against a [Store].
//
// A transaction begun in [ReadOnly] mode rejects Put and Remove. Abort must
// restore every key touched during the transaction to its pre-transaction
// value, or remove it if it did not exist before.
type Transaction interface {
	// Get returns the value stored under key. found is false when the key is absent.
	Get(key string) (value []byte, found bool, err error)

	// Put stores data under key. With overwrite=false it returns false and leaves
	// the store untouched if the key already exists.
	Put(key string, data []byte, overwrite bool) (bool, error)

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error

	// Commit makes the transaction's writes durable.
	Commit() error

	// Abort rolls back every write made by the transaction.
	Abort() error
}

// Store is the minimal key-value contract the filesystem engine is built on.
type Store interface {
	// Name identifies the backend, e.g. "memory" or "bolt".
	Name() string

	// Clear empties the store.
	Clear() error

	// BeginTransaction starts a new transaction in the given mode.
	BeginTransaction(mode TransactionMode) (Transaction, error)
}

// SimpleStore is a flat key-value store with no multi-key transactions.
// Wrap it with kvstore.NewSyncStore to obtain a [Store] whose transactions are
// honored through a compensating rollback log.
type SimpleStore interface {
	Name() string
	Clear() error
	Get(key string) (value []byte, found bool, err error)
	Put(key string, data []byte, overwrite bool) (bool, error)
	Remove(key string) error
}
