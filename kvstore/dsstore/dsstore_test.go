package dsstore

import (
	"context"
	"testing"

	"github.com/brettbedarf/kvfs"
	"github.com/brettbedarf/kvfs/kvstore"
	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// txnMapDatastore is a transactional datastore for tests. Each transaction
// works on a snapshot that replaces the parent on commit.
type txnMapDatastore struct {
	*ds.MapDatastore
}

func (d *txnMapDatastore) NewTransaction(ctx context.Context, readOnly bool) (ds.Txn, error) {
	snap := ds.NewMapDatastore()
	if err := copyAll(ctx, d.MapDatastore, snap); err != nil {
		return nil, err
	}
	return &mapTxn{MapDatastore: snap, parent: d.MapDatastore}, nil
}

type mapTxn struct {
	*ds.MapDatastore
	parent *ds.MapDatastore
}

func (t *mapTxn) Commit(ctx context.Context) error {
	if err := clearAll(ctx, t.parent, t.parent); err != nil {
		return err
	}
	return copyAll(ctx, t.MapDatastore, t.parent)
}

func (t *mapTxn) Discard(context.Context) {}

func copyAll(ctx context.Context, from *ds.MapDatastore, to *ds.MapDatastore) error {
	res, err := from.Query(ctx, query.Query{})
	if err != nil {
		return err
	}
	entries, err := res.Rest()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := to.Put(ctx, ds.NewKey(e.Key), e.Value); err != nil {
			return err
		}
	}
	return nil
}

func TestStore_GetPutRemove(t *testing.T) {
	t.Parallel()
	s := New(ds.NewMapDatastore())

	_, found, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)

	ok, err := s.Put("k", []byte("v"), false)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Put("k", []byte("w"), false)
	require.NoError(t, err)
	assert.False(t, ok)

	v, found, err := s.Get("k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)

	// returned slices are private copies
	v[0] = 'x'
	v2, _, _ := s.Get("k")
	assert.Equal(t, []byte("v"), v2)

	require.NoError(t, s.Remove("k"))
	require.NoError(t, s.Remove("k"), "removing an absent key is not an error")
	_, found, _ = s.Get("k")
	assert.False(t, found)
}

func TestStore_Clear(t *testing.T) {
	t.Parallel()
	s := New(ds.NewMapDatastore())
	_, err := s.Put("/", []byte("root"), true)
	require.NoError(t, err)
	_, err = s.Put("abc", []byte("x"), true)
	require.NoError(t, err)

	require.NoError(t, s.Clear())

	_, found, _ := s.Get("/")
	assert.False(t, found)
	_, found, _ = s.Get("abc")
	assert.False(t, found)
}

func TestNewSync_AbortRestores(t *testing.T) {
	t.Parallel()
	store := NewSync(ds.NewMapDatastore())

	tx, err := store.BeginTransaction(kvfs.ReadWrite)
	require.NoError(t, err)
	_, err = tx.Put("k", []byte("v"), true)
	require.NoError(t, err)
	require.NoError(t, tx.Abort())

	_, found, err := store.Unwrap().Get("k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "datastore", store.Name())
}

func TestTxnStore_CommitAndDiscard(t *testing.T) {
	t.Parallel()
	base := ds.NewMapDatastore()
	s := NewTxn(&txnMapDatastore{MapDatastore: base})

	tx, err := s.BeginTransaction(kvfs.ReadWrite)
	require.NoError(t, err)
	_, err = tx.Put("kept", []byte("1"), true)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = s.BeginTransaction(kvfs.ReadWrite)
	require.NoError(t, err)
	_, err = tx.Put("dropped", []byte("2"), true)
	require.NoError(t, err)
	require.NoError(t, tx.Remove("kept"))
	require.NoError(t, tx.Abort())

	rtx, err := s.BeginTransaction(kvfs.ReadOnly)
	require.NoError(t, err)
	v, found, err := rtx.Get("kept")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("1"), v)
	_, found, _ = rtx.Get("dropped")
	assert.False(t, found)

	_, err = rtx.Put("x", nil, true)
	assert.ErrorIs(t, err, kvstore.ErrReadOnlyTransaction)
	assert.ErrorIs(t, rtx.Remove("kept"), kvstore.ErrReadOnlyTransaction)
	require.NoError(t, rtx.Commit())
	assert.ErrorIs(t, rtx.Commit(), kvstore.ErrTransactionDone)
}

func TestTxnStore_Clear(t *testing.T) {
	t.Parallel()
	base := ds.NewMapDatastore()
	require.NoError(t, base.Put(context.Background(), ds.NewKey("a"), []byte("1")))
	s := NewTxn(&txnMapDatastore{MapDatastore: base})

	require.NoError(t, s.Clear())

	has, err := base.Has(context.Background(), ds.NewKey("a"))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestOpenLevelDB_Persists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := OpenLevelDB(dir)
	require.NoError(t, err)
	tx, err := s.BeginTransaction(kvfs.ReadWrite)
	require.NoError(t, err)
	_, err = tx.Put("/", []byte("root"), true)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, s.Close())

	s, err = OpenLevelDB(dir)
	require.NoError(t, err)
	defer s.Close()
	rtx, err := s.BeginTransaction(kvfs.ReadOnly)
	require.NoError(t, err)
	v, found, err := rtx.Get("/")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("root"), v)
	require.NoError(t, rtx.Abort())
}
