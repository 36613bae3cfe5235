package fusefs

import (
	"syscall"
	"testing"
	"time"

	"github.com/brettbedarf/kvfs"
	"github.com/brettbedarf/kvfs/config"
	"github.com/brettbedarf/kvfs/filesystem"
	"github.com/brettbedarf/kvfs/kvstore/memstore"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = kvfs.NewCred(1000, 1000)

// openHandle creates /f owned by alice holding "hello" and returns the engine
// together with an open handle whose write has not been flushed yet.
func openHandle(t *testing.T) (*filesystem.FileSystem, *handle) {
	t.Helper()
	engine, err := filesystem.NewFS(config.NewDefaultConfig(), memstore.NewSync())
	require.NoError(t, err)
	f, err := engine.Open("/f", filesystem.MustParseFlag("w"), 0o644, alice)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	return engine, &handle{bridge: &Bridge{engine: engine}, file: f}
}

func setAttrIn(valid uint32) *fuse.SetAttrIn {
	return &fuse.SetAttrIn{SetAttrInCommon: fuse.SetAttrInCommon{Valid: valid}}
}

func TestSetattr_ChmodThroughOpenHandleSurvivesRelease(t *testing.T) {
	t.Parallel()
	engine, h := openHandle(t)

	in := setAttrIn(fuse.FATTR_MODE)
	in.Mode = 0o600
	stats, err := setattr(engine, "/f", alice, h, in)
	require.NoError(t, err)
	assert.Equal(t, uint32(0o600), stats.Perm())

	require.NoError(t, h.file.Close())
	stats, err = engine.Stat("/f", alice)
	require.NoError(t, err)
	assert.Equal(t, uint32(0o600), stats.Perm())
	assert.True(t, stats.IsFile())
	data, err := engine.ReadFile("/f", alice)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestSetattr_UtimesThroughOpenHandleSurvivesRelease(t *testing.T) {
	t.Parallel()
	engine, h := openHandle(t)
	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

	in := setAttrIn(fuse.FATTR_MTIME)
	in.Mtime = uint64(mtime.Unix())
	_, err := setattr(engine, "/f", alice, h, in)
	require.NoError(t, err)

	require.NoError(t, h.file.Close())
	stats, err := engine.Stat("/f", alice)
	require.NoError(t, err)
	assert.True(t, mtime.Equal(stats.Mtime), "mtime %v", stats.Mtime)
}

func TestSetattr_ChownThroughOpenHandle(t *testing.T) {
	t.Parallel()
	engine, h := openHandle(t)

	in := setAttrIn(fuse.FATTR_UID)
	in.Uid = 2000
	_, err := setattr(engine, "/f", alice, h, in)
	assert.ErrorIs(t, err, syscall.EPERM)

	stats, err := setattr(engine, "/f", kvfs.RootCred, h, in)
	require.NoError(t, err)
	assert.Equal(t, uint32(2000), stats.UID)
	assert.Equal(t, alice.EGID, stats.GID, "unset gid keeps its value")

	require.NoError(t, h.file.Close())
	stats, err = engine.Stat("/f", kvfs.RootCred)
	require.NoError(t, err)
	assert.Equal(t, uint32(2000), stats.UID)
}

func TestSetattr_ChmodThroughOpenHandleNeedsOwner(t *testing.T) {
	t.Parallel()
	engine, h := openHandle(t)
	bob := kvfs.NewCred(1001, 1001)

	in := setAttrIn(fuse.FATTR_MODE)
	in.Mode = 0o777
	_, err := setattr(engine, "/f", bob, h, in)
	assert.ErrorIs(t, err, syscall.EPERM)

	require.NoError(t, h.file.Close())
	stats, err := engine.Stat("/f", alice)
	require.NoError(t, err)
	assert.Equal(t, uint32(0o644), stats.Perm())
}

func TestSetattr_WithoutHandle(t *testing.T) {
	t.Parallel()
	engine, h := openHandle(t)
	require.NoError(t, h.file.Close())

	in := setAttrIn(fuse.FATTR_SIZE | fuse.FATTR_MODE)
	in.Size = 2
	in.Mode = 0o640
	stats, err := setattr(engine, "/f", alice, nil, in)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Size)
	assert.Equal(t, uint32(0o640), stats.Perm())

	data, err := engine.ReadFile("/f", alice)
	require.NoError(t, err)
	assert.Equal(t, "he", string(data))
}
