package memstore

import (
	"testing"

	"github.com/brettbedarf/kvfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CopiesValues(t *testing.T) {
	t.Parallel()
	s := New()
	in := []byte("abc")

	ok, err := s.Put("k", in, true)
	require.NoError(t, err)
	require.True(t, ok)
	in[0] = 'x'

	out, found, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("abc"), out, "stored value must not alias the caller's slice")

	out[1] = 'y'
	again, _, _ := s.Get("k")
	assert.Equal(t, []byte("abc"), again, "returned value must not alias the stored slice")
}

func TestStore_PutOverwrite(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		overwrite bool
		wantOK    bool
		wantValue string
	}{
		{"overwrite replaces", true, true, "new"},
		{"no overwrite keeps", false, false, "old"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := New()
			_, err := s.Put("k", []byte("old"), true)
			require.NoError(t, err)

			ok, err := s.Put("k", []byte("new"), tt.overwrite)

			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			v, _, _ := s.Get("k")
			assert.Equal(t, tt.wantValue, string(v))
		})
	}
}

func TestStore_RemoveAndClear(t *testing.T) {
	t.Parallel()
	s := New()
	_, _ = s.Put("a", []byte("1"), true)
	_, _ = s.Put("b", []byte("2"), true)

	require.NoError(t, s.Remove("a"))
	require.NoError(t, s.Remove("missing"))
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Clear())
	assert.Equal(t, 0, s.Len())
}

func TestNewSync_Transactions(t *testing.T) {
	t.Parallel()
	store := NewSync()

	tx, err := store.BeginTransaction(kvfs.ReadWrite)
	require.NoError(t, err)
	_, err = tx.Put("k", []byte("v"), true)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	rtx, err := store.BeginTransaction(kvfs.ReadOnly)
	require.NoError(t, err)
	v, found, err := rtx.Get("k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)
	assert.Equal(t, "memory", store.Name())
}
