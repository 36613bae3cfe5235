package boltstore

import (
	"path/filepath"
	"testing"

	"github.com/brettbedarf/kvfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kvfs.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CommitPersists(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	tx, err := s.BeginTransaction(kvfs.ReadWrite)
	require.NoError(t, err)
	ok, err := tx.Put("k", []byte("v"), false)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, tx.Commit())

	rtx, err := s.BeginTransaction(kvfs.ReadOnly)
	require.NoError(t, err)
	v, found, err := rtx.Get("k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)
	require.NoError(t, rtx.Abort())
}

func TestStore_AbortDiscards(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	tx, err := s.BeginTransaction(kvfs.ReadWrite)
	require.NoError(t, err)
	_, err = tx.Put("k", []byte("v"), true)
	require.NoError(t, err)
	require.NoError(t, tx.Abort())
	// second abort is harmless
	require.NoError(t, tx.Abort())

	rtx, err := s.BeginTransaction(kvfs.ReadOnly)
	require.NoError(t, err)
	defer rtx.Abort()
	_, found, err := rtx.Get("k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_EmptyValueIsFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	tx, err := s.BeginTransaction(kvfs.ReadWrite)
	require.NoError(t, err)
	_, err = tx.Put("empty", nil, true)
	require.NoError(t, err)
	v, found, err := tx.Get("empty")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, v)

	ok, err := tx.Put("empty", []byte("x"), false)
	require.NoError(t, err)
	assert.False(t, ok, "existing empty value must block a non-overwrite put")
	require.NoError(t, tx.Commit())
}

func TestStore_ReadOnlyRejectsWrites(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	tx, err := s.BeginTransaction(kvfs.ReadOnly)
	require.NoError(t, err)
	defer tx.Abort()

	_, err = tx.Put("k", []byte("v"), true)
	assert.ErrorIs(t, err, bolt.ErrTxNotWritable)
}

func TestStore_UseAfterCommit(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	tx, err := s.BeginTransaction(kvfs.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	_, _, err = tx.Get("k")
	assert.ErrorIs(t, err, bolt.ErrTxClosed)
	assert.ErrorIs(t, tx.Commit(), bolt.ErrTxClosed)
}

func TestStore_Clear(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	tx, err := s.BeginTransaction(kvfs.ReadWrite)
	require.NoError(t, err)
	_, err = tx.Put("a", []byte("1"), true)
	require.NoError(t, err)
	_, err = tx.Put("b", []byte("2"), true)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.NoError(t, s.Clear())

	rtx, err := s.BeginTransaction(kvfs.ReadOnly)
	require.NoError(t, err)
	defer rtx.Abort()
	_, found, _ := rtx.Get("a")
	assert.False(t, found)
	_, found, _ = rtx.Get("b")
	assert.False(t, found)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "kvfs.db")

	s, err := Open(path, "files")
	require.NoError(t, err)
	tx, err := s.BeginTransaction(kvfs.ReadWrite)
	require.NoError(t, err)
	_, err = tx.Put("k", []byte("durable"), true)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, s.Close())

	s, err = Open(path, "files")
	require.NoError(t, err)
	defer s.Close()
	rtx, err := s.BeginTransaction(kvfs.ReadOnly)
	require.NoError(t, err)
	defer rtx.Abort()
	v, found, err := rtx.Get("k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("durable"), v)
}

func TestStore_NewDoesNotOwnDB(t *testing.T) {
	t.Parallel()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "shared.db"), 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	s, err := New(db, "shared")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// db is still usable after the store is closed
	assert.NoError(t, db.View(func(tx *bolt.Tx) error { return nil }))
	assert.Equal(t, "bolt", s.Name())
}
