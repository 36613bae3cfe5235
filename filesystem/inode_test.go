package filesystem

import (
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInode_SerializeIsPositionalArray(t *testing.T) {
	t.Parallel()
	node := NewInode("data-id", 42, S_IFREG|0o644, 1700000000123, 1000, 100)

	buf, err := node.Serialize()
	require.NoError(t, err)

	var fields []any
	require.NoError(t, cbor.Unmarshal(buf, &fields))
	require.Len(t, fields, 8, "inode must encode as an 8 element array")
	assert.Equal(t, "data-id", fields[0])
	assert.EqualValues(t, 42, fields[1])
	assert.EqualValues(t, S_IFREG|0o644, fields[2])
	assert.EqualValues(t, 1700000000123, fields[3])
	assert.EqualValues(t, 1000, fields[6])
	assert.EqualValues(t, 100, fields[7])

	again, err := node.Serialize()
	require.NoError(t, err)
	assert.Equal(t, buf, again, "encoding must be deterministic")

	decoded, err := DeserializeInode(buf)
	require.NoError(t, err)
	assert.Equal(t, node, decoded)
}

func TestDeserializeInode_Garbage(t *testing.T) {
	t.Parallel()

	_, err := DeserializeInode([]byte("not cbor at all"))
	assert.Error(t, err)
}

func TestInode_Kind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mode   uint32
		isFile bool
		isDir  bool
	}{
		{"regular file", S_IFREG | 0o644, true, false},
		{"directory", S_IFDIR | 0o755, false, true},
		{"symlink", S_IFLNK | 0o777, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			node := NewInode("id", 0, tt.mode, 0, 0, 0)

			assert.Equal(t, tt.isFile, node.IsFile())
			assert.Equal(t, tt.isDir, node.IsDirectory())
			assert.Equal(t, tt.isFile, node.ToStats().IsFile())
			assert.Equal(t, tt.isDir, node.ToStats().IsDirectory())
		})
	}
}

func TestInode_ToStats(t *testing.T) {
	t.Parallel()
	ms := time.Date(2024, 5, 6, 7, 8, 9, 123_000_000, time.UTC).UnixMilli()
	node := NewInode("id", 7, S_IFREG|0o600, ms, 5, 6)

	stats := node.ToStats()

	assert.Equal(t, uint64(7), stats.Size)
	assert.Equal(t, uint32(0o600), stats.Perm())
	assert.Equal(t, ms, stats.Atime.UnixMilli())
	assert.Equal(t, ms, stats.Mtime.UnixMilli())
	assert.Equal(t, ms, stats.Ctime.UnixMilli())
	assert.Equal(t, uint32(5), stats.UID)
	assert.Equal(t, uint32(6), stats.GID)
}

func TestInode_Update(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		mutate  func(s *Stats)
		changed bool
	}{
		{"unchanged", func(s *Stats) {}, false},
		{"sub-millisecond change is ignored", func(s *Stats) { s.Mtime = s.Mtime.Add(time.Microsecond) }, false},
		{"size", func(s *Stats) { s.Size = 99 }, true},
		{"mode", func(s *Stats) { s.Chmod(0o600) }, true},
		{"atime", func(s *Stats) { s.Atime = s.Atime.Add(time.Second) }, true},
		{"mtime", func(s *Stats) { s.Mtime = s.Mtime.Add(time.Millisecond) }, true},
		{"ctime", func(s *Stats) { s.Ctime = s.Ctime.Add(time.Hour) }, true},
		{"owner", func(s *Stats) { s.Chown(1, 1) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			node := NewInode("id", 3, S_IFREG|0o644, base.UnixMilli(), 0, 0)
			stats := node.ToStats()
			tt.mutate(stats)

			assert.Equal(t, tt.changed, node.Update(stats))
			assert.Equal(t, "id", node.ID, "data id never changes")
			assert.False(t, node.Update(stats), "second update must be a no-op")
		})
	}
}
