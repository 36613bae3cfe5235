// Package fusefs exposes a [filesystem.FileSystem] as a mounted directory
// through go-fuse's node API.
//
// The engine does no locking of its own, so every request entering the
// bridge takes one shared mutex for its whole duration.
package fusefs

import (
	"context"
	"path"
	"sync"
	"syscall"
	"time"

	"github.com/brettbedarf/kvfs"
	"github.com/brettbedarf/kvfs/filesystem"
	"github.com/brettbedarf/kvfs/internal/util"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// renameNoReplace is RENAME_NOREPLACE from renameat2(2).
const renameNoReplace = 0x1

// attrTimeout is how long the kernel may cache attributes and entries.
const attrTimeout = time.Second

// Bridge holds the state shared by every node of one mount.
type Bridge struct {
	mu     sync.Mutex
	engine *filesystem.FileSystem
}

// Node is a file or directory in the mounted tree. Its engine path is
// derived from its position in the go-fuse inode tree.
type Node struct {
	fs.Inode
	bridge *Bridge
}

var (
	_ fs.NodeGetattrer = (*Node)(nil)
	_ fs.NodeSetattrer = (*Node)(nil)
	_ fs.NodeLookuper  = (*Node)(nil)
	_ fs.NodeReaddirer = (*Node)(nil)
	_ fs.NodeMkdirer   = (*Node)(nil)
	_ fs.NodeCreater   = (*Node)(nil)
	_ fs.NodeOpener    = (*Node)(nil)
	_ fs.NodeUnlinker  = (*Node)(nil)
	_ fs.NodeRmdirer   = (*Node)(nil)
	_ fs.NodeRenamer   = (*Node)(nil)
)

// NewRoot returns the root node for mounting engine.
func NewRoot(engine *filesystem.FileSystem) *Node {
	return &Node{bridge: &Bridge{engine: engine}}
}

// Engine returns the filesystem served by this node's mount.
func (n *Node) Engine() *filesystem.FileSystem {
	return n.bridge.engine
}

func (n *Node) path() string {
	return "/" + n.Path(nil)
}

func (n *Node) childPath(name string) string {
	return path.Join(n.path(), name)
}

func (n *Node) newChild(ctx context.Context, stats *filesystem.Stats) *fs.Inode {
	child := &Node{bridge: n.bridge}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: stats.Mode & filesystem.S_IFMT})
}

func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.bridge.mu.Lock()
	defer n.bridge.mu.Unlock()

	if h, ok := fh.(*handle); ok {
		fillAttr(h.file.Stat(), &out.Attr)
		out.SetTimeout(attrTimeout)
		return fs.OK
	}
	stats, err := n.bridge.engine.Stat(n.path(), callerCred(ctx))
	if err != nil {
		return toErrno("Getattr", n.path(), err)
	}
	fillAttr(stats, &out.Attr)
	out.SetTimeout(attrTimeout)
	return fs.OK
}

func (n *Node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	n.bridge.mu.Lock()
	defer n.bridge.mu.Unlock()

	p := n.path()
	h, _ := fh.(*handle)
	stats, err := setattr(n.bridge.engine, p, callerCred(ctx), h, in)
	if err != nil {
		return toErrno("Setattr", p, err)
	}
	fillAttr(stats, &out.Attr)
	out.SetTimeout(attrTimeout)
	return fs.OK
}

// setattr applies the attribute changes in in to the node at p. With an open
// handle the changes go through it, so that its buffered stats are the ones
// persisted when it is flushed or released.
func setattr(engine *filesystem.FileSystem, p string, cred kvfs.Cred, h *handle, in *fuse.SetAttrIn) (*filesystem.Stats, error) {
	if size, ok := in.GetSize(); ok {
		var err error
		if h != nil {
			err = h.file.Truncate(int64(size))
		} else {
			err = engine.Truncate(p, int64(size), cred)
		}
		if err != nil {
			return nil, err
		}
	}
	if mode, ok := in.GetMode(); ok {
		var err error
		if h != nil {
			if err = engine.CheckOwner("chmod", p, cred); err == nil {
				err = h.file.Chmod(mode)
			}
		} else {
			err = engine.Chmod(p, mode, cred)
		}
		if err != nil {
			return nil, err
		}
	}

	uid, uok := in.GetUID()
	gid, gok := in.GetGID()
	atime, aok := in.GetATime()
	mtime, mok := in.GetMTime()
	if uok || gok || aok || mok {
		cur, err := currentStats(engine, p, h)
		if err != nil {
			return nil, err
		}
		if uok || gok {
			if !uok {
				uid = cur.UID
			}
			if !gok {
				gid = cur.GID
			}
			if h != nil {
				if !cred.IsRoot() {
					err = kvfs.ErrNotPermitted("chown", p, "only root may change ownership")
				} else if err = engine.CheckOwner("chown", p, cred); err == nil {
					err = h.file.Chown(uid, gid)
				}
			} else {
				err = engine.Chown(p, uid, gid, cred)
			}
			if err != nil {
				return nil, err
			}
		}
		if aok || mok {
			if !aok {
				atime = cur.Atime
			}
			if !mok {
				mtime = cur.Mtime
			}
			if h != nil {
				if err = engine.CheckOwner("utimes", p, cred); err == nil {
					err = h.file.Utimes(atime, mtime)
				}
			} else {
				err = engine.Utimes(p, atime, mtime, cred)
			}
			if err != nil {
				return nil, err
			}
		}
	}
	return currentStats(engine, p, h)
}

func currentStats(engine *filesystem.FileSystem, p string, h *handle) (*filesystem.Stats, error) {
	if h != nil {
		return h.file.Stat(), nil
	}
	return engine.Stat(p, kvfs.RootCred)
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.bridge.mu.Lock()
	defer n.bridge.mu.Unlock()

	p := n.childPath(name)
	// lookups only need search access on the parent, which the kernel checks
	stats, err := n.bridge.engine.Stat(p, kvfs.RootCred)
	if err != nil {
		return nil, toErrno("Lookup", p, err)
	}
	fillEntry(stats, out)
	return n.newChild(ctx, stats), fs.OK
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	n.bridge.mu.Lock()
	defer n.bridge.mu.Unlock()

	p := n.path()
	names, err := n.bridge.engine.Readdir(p, callerCred(ctx))
	if err != nil {
		return nil, toErrno("Readdir", p, err)
	}
	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		stats, err := n.bridge.engine.Stat(path.Join(p, name), kvfs.RootCred)
		if err != nil {
			return nil, toErrno("Readdir", p, err)
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: stats.Mode & filesystem.S_IFMT})
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.bridge.mu.Lock()
	defer n.bridge.mu.Unlock()

	p := n.childPath(name)
	if err := n.bridge.engine.Mkdir(p, mode, callerCred(ctx)); err != nil {
		return nil, toErrno("Mkdir", p, err)
	}
	stats, err := n.bridge.engine.Stat(p, kvfs.RootCred)
	if err != nil {
		return nil, toErrno("Mkdir", p, err)
	}
	fillEntry(stats, out)
	return n.newChild(ctx, stats), fs.OK
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	n.bridge.mu.Lock()
	defer n.bridge.mu.Unlock()

	p := n.childPath(name)
	sym := createFlag(flags)
	if flags&filesystem.O_EXCL == 0 && n.bridge.engine.Exists(p) {
		// lost a race with another creator; open without truncating
		sym = openFlag(flags)
	}
	flag, err := filesystem.ParseFlag(sym)
	if err != nil {
		return nil, nil, 0, toErrno("Create", p, err)
	}
	f, err := n.bridge.engine.Open(p, flag, mode, callerCred(ctx))
	if err != nil {
		return nil, nil, 0, toErrno("Create", p, err)
	}
	stats := f.Stat()
	fillEntry(stats, out)
	return n.newChild(ctx, stats), &handle{bridge: n.bridge, file: f}, fuse.FOPEN_DIRECT_IO, fs.OK
}

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	n.bridge.mu.Lock()
	defer n.bridge.mu.Unlock()

	p := n.path()
	flag, err := filesystem.ParseFlag(openFlag(flags))
	if err != nil {
		return nil, 0, toErrno("Open", p, err)
	}
	f, err := n.bridge.engine.Open(p, flag, 0, callerCred(ctx))
	if err != nil {
		return nil, 0, toErrno("Open", p, err)
	}
	return &handle{bridge: n.bridge, file: f}, fuse.FOPEN_DIRECT_IO, fs.OK
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	n.bridge.mu.Lock()
	defer n.bridge.mu.Unlock()

	p := n.childPath(name)
	return toErrno("Unlink", p, n.bridge.engine.Unlink(p, callerCred(ctx)))
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	n.bridge.mu.Lock()
	defer n.bridge.mu.Unlock()

	p := n.childPath(name)
	return toErrno("Rmdir", p, n.bridge.engine.Rmdir(p, callerCred(ctx)))
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	n.bridge.mu.Lock()
	defer n.bridge.mu.Unlock()

	oldPath := n.childPath(name)
	newPath := path.Join("/"+newParent.EmbeddedInode().Path(nil), newName)
	if flags&^renameNoReplace != 0 {
		return syscall.ENOTSUP
	}
	if flags&renameNoReplace != 0 && n.bridge.engine.Exists(newPath) {
		return syscall.EEXIST
	}
	return toErrno("Rename", oldPath, n.bridge.engine.Rename(oldPath, newPath, callerCred(ctx)))
}

// handle is an open file. Reads and writes go to the engine's buffered
// handle; Flush and Fsync persist it and Release closes it.
type handle struct {
	bridge *Bridge
	file   *filesystem.File
}

var (
	_ fs.FileReader    = (*handle)(nil)
	_ fs.FileWriter    = (*handle)(nil)
	_ fs.FileFlusher   = (*handle)(nil)
	_ fs.FileFsyncer   = (*handle)(nil)
	_ fs.FileReleaser  = (*handle)(nil)
	_ fs.FileGetattrer = (*handle)(nil)
)

func (h *handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.bridge.mu.Lock()
	defer h.bridge.mu.Unlock()

	n, err := h.file.ReadAt(dest, off)
	if err := ignoreEOF(err); err != nil {
		return nil, toErrno("Read", h.file.Path(), err)
	}
	return fuse.ReadResultData(dest[:n]), fs.OK
}

func (h *handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	h.bridge.mu.Lock()
	defer h.bridge.mu.Unlock()

	n, err := h.file.WriteAt(data, off)
	if err != nil {
		return uint32(n), toErrno("Write", h.file.Path(), err)
	}
	return uint32(n), fs.OK
}

func (h *handle) Flush(ctx context.Context) syscall.Errno {
	h.bridge.mu.Lock()
	defer h.bridge.mu.Unlock()

	return toErrno("Flush", h.file.Path(), h.file.Sync())
}

func (h *handle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	h.bridge.mu.Lock()
	defer h.bridge.mu.Unlock()

	return toErrno("Fsync", h.file.Path(), h.file.Sync())
}

func (h *handle) Release(ctx context.Context) syscall.Errno {
	h.bridge.mu.Lock()
	defer h.bridge.mu.Unlock()

	return toErrno("Release", h.file.Path(), h.file.Close())
}

func (h *handle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	h.bridge.mu.Lock()
	defer h.bridge.mu.Unlock()

	fillAttr(h.file.Stat(), &out.Attr)
	out.SetTimeout(attrTimeout)
	return fs.OK
}

// callerCred builds the engine credential of the process behind a request.
// Requests without caller information are treated as root.
func callerCred(ctx context.Context) kvfs.Cred {
	caller, ok := fuse.FromContext(ctx)
	if !ok {
		return kvfs.RootCred
	}
	return kvfs.NewCred(caller.Uid, caller.Gid)
}

// toErrno logs engine failures and converts them for the kernel.
func toErrno(op, p string, err error) syscall.Errno {
	if err == nil {
		return fs.OK
	}
	errno := kvfs.ToErrno(err)
	logger := util.GetLogger("Fuse." + op)
	if errno == syscall.EIO {
		logger.Error().Err(err).Str("path", p).Msg("Engine failure")
	} else {
		logger.Debug().Err(err).Str("path", p).Msg("Request rejected")
	}
	return errno
}

func fillAttr(stats *filesystem.Stats, out *fuse.Attr) {
	out.Mode = stats.Mode
	out.Size = stats.Size
	out.Blocks = (stats.Size + 511) / 512
	out.Blksize = 4096
	out.Nlink = 1
	out.Owner = fuse.Owner{Uid: stats.UID, Gid: stats.GID}
	out.SetTimes(&stats.Atime, &stats.Mtime, &stats.Ctime)
}

func fillEntry(stats *filesystem.Stats, out *fuse.EntryOut) {
	fillAttr(stats, &out.Attr)
	out.SetEntryTimeout(attrTimeout)
	out.SetAttrTimeout(attrTimeout)
}
