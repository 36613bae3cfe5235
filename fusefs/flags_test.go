package fusefs

import (
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/brettbedarf/kvfs"
	"github.com/brettbedarf/kvfs/filesystem"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFlag(t *testing.T) {
	t.Parallel()
	tests := []struct {
		flags uint32
		want  string
	}{
		{filesystem.O_RDONLY, "r"},
		{filesystem.O_RDONLY | filesystem.O_SYNC, "rs"},
		{filesystem.O_RDWR, "r+"},
		{filesystem.O_WRONLY, "r+"},
		{filesystem.O_RDWR | filesystem.O_SYNC, "rs+"},
		{filesystem.O_WRONLY | filesystem.O_TRUNC, "w"},
		{filesystem.O_RDWR | filesystem.O_TRUNC, "w+"},
		{filesystem.O_WRONLY | filesystem.O_APPEND, "a"},
		{filesystem.O_RDWR | filesystem.O_APPEND, "a+"},
		{filesystem.O_RDONLY | filesystem.O_TRUNC, "r"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%#x", tt.flags), func(t *testing.T) {
			t.Parallel()
			got := openFlag(tt.flags)

			assert.Equal(t, tt.want, got)
			_, err := filesystem.ParseFlag(got)
			assert.NoError(t, err)
		})
	}
}

func TestCreateFlag(t *testing.T) {
	t.Parallel()
	tests := []struct {
		flags uint32
		want  string
	}{
		{filesystem.O_WRONLY | filesystem.O_CREAT, "w"},
		{filesystem.O_RDWR | filesystem.O_CREAT, "w+"},
		{filesystem.O_WRONLY | filesystem.O_CREAT | filesystem.O_EXCL, "wx"},
		{filesystem.O_RDWR | filesystem.O_CREAT | filesystem.O_EXCL, "wx+"},
		{filesystem.O_WRONLY | filesystem.O_CREAT | filesystem.O_APPEND, "a"},
		{filesystem.O_RDWR | filesystem.O_CREAT | filesystem.O_APPEND | filesystem.O_EXCL, "ax+"},
		{filesystem.O_RDONLY | filesystem.O_CREAT, "w+"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			got := createFlag(tt.flags)

			assert.Equal(t, tt.want, got)
			f, err := filesystem.ParseFlag(got)
			require.NoError(t, err)
			assert.Equal(t, filesystem.ActionCreate, f.PathNotExistsAction())
		})
	}
}

func TestToErrno(t *testing.T) {
	t.Parallel()

	assert.Equal(t, syscall.Errno(0), toErrno("Op", "/", nil))
	assert.Equal(t, syscall.ENOENT, toErrno("Op", "/x", kvfs.ErrNotFound("stat", "/x")))
	assert.Equal(t, syscall.ENOTEMPTY, toErrno("Op", "/x", kvfs.ErrNotEmpty("rmdir", "/x")))
	assert.Equal(t, syscall.EIO, toErrno("Op", "/x", io.ErrUnexpectedEOF))
}

func TestFillAttr(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	stats := &filesystem.Stats{
		Size:  1025,
		Mode:  filesystem.S_IFREG | 0o640,
		Atime: now,
		Mtime: now.Add(time.Second),
		Ctime: now.Add(time.Minute),
		UID:   1000,
		GID:   100,
	}

	var out fuse.Attr
	fillAttr(stats, &out)

	assert.Equal(t, uint32(filesystem.S_IFREG|0o640), out.Mode)
	assert.Equal(t, uint64(1025), out.Size)
	assert.Equal(t, uint64(3), out.Blocks)
	assert.Equal(t, uint32(1), out.Nlink)
	assert.Equal(t, uint32(1000), out.Owner.Uid)
	assert.Equal(t, uint32(100), out.Owner.Gid)
	assert.Equal(t, uint64(now.Unix()), out.Atime)
	assert.Equal(t, uint32(now.Nanosecond()), out.Atimensec)
	assert.Equal(t, uint64(now.Add(time.Second).Unix()), out.Mtime)
	assert.Equal(t, uint64(now.Add(time.Minute).Unix()), out.Ctime)
}
