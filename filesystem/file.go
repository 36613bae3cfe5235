package filesystem

import (
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/brettbedarf/kvfs"
)

// Syncer persists the contents of an open [File]. It is the flush strategy a
// handle is constructed with.
type Syncer interface {
	// Sync stores data as the full contents of p and updates its metadata.
	Sync(p string, data []byte, stats *Stats) error
	// Metadata describes the filesystem the handle belongs to.
	Metadata() kvfs.Metadata
}

// NoSync discards flushes. Handles built with it live purely in memory.
type NoSync struct {
	Meta kvfs.Metadata
}

func (NoSync) Sync(string, []byte, *Stats) error { return nil }

func (n NoSync) Metadata() kvfs.Metadata { return n.Meta }

// SyncerFunc flushes through a plain function on a synchronous filesystem
// that supports properties.
type SyncerFunc func(p string, data []byte, stats *Stats) error

func (fn SyncerFunc) Sync(p string, data []byte, stats *Stats) error { return fn(p, data, stats) }

func (fn SyncerFunc) Metadata() kvfs.Metadata {
	return kvfs.Metadata{Name: "func", SupportsProperties: true, Synchronous: true}
}

var _ Syncer = (*FileSystem)(nil)

// File is an open file. Its whole contents are buffered in memory; writes
// only reach the store when the handle is synced or closed, or immediately
// when opened with a synchronous flag.
//
// A File must not be used from more than one goroutine at a time.
type File struct {
	syncer Syncer
	clock  clock.Clock
	path   string
	flag   *FileFlag
	stats  Stats
	buf    []byte
	pos    int64
	dirty  bool
}

var (
	_ io.ReadWriteSeeker = (*File)(nil)
	_ io.ReaderAt        = (*File)(nil)
	_ io.WriterAt        = (*File)(nil)
	_ io.Closer          = (*File)(nil)
)

// NewFile returns a handle over data, which the handle takes ownership of.
func NewFile(syncer Syncer, p string, flag *FileFlag, stats *Stats, data []byte) *File {
	f := &File{
		syncer: syncer,
		clock:  clock.New(),
		path:   p,
		flag:   flag,
		stats:  *stats,
		buf:    data,
	}
	// directories keep their reported size
	if !f.stats.IsDirectory() {
		f.stats.Size = uint64(len(data))
	}
	return f
}

func (f *File) Path() string { return f.path }

func (f *File) Flag() *FileFlag { return f.flag }

// Stat returns a copy of the handle's current metadata.
func (f *File) Stat() *Stats {
	s := f.stats
	return &s
}

// Bytes returns the buffered contents. The slice is only valid until the
// next mutating call.
func (f *File) Bytes() []byte {
	return f.buf
}

// IsDirty reports whether the buffer has unflushed changes.
func (f *File) IsDirty() bool {
	return f.dirty
}

// Position is the cursor used by Read and Write. In append mode it is
// always the current size.
func (f *File) Position() int64 {
	if f.flag.IsAppendable() {
		return int64(f.stats.Size)
	}
	return f.pos
}

func (f *File) SetPosition(pos int64) int64 {
	f.pos = pos
	return f.pos
}

func (f *File) AdvancePosition(delta int64) int64 {
	f.pos += delta
	return f.pos
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.Position()
	case io.SeekEnd:
		base = int64(f.stats.Size)
	default:
		return 0, kvfs.ErrInvalid("seek", "invalid whence")
	}
	if base+offset < 0 {
		return 0, kvfs.ErrInvalid("seek", "negative position")
	}
	return f.SetPosition(base + offset), nil
}

// Write writes b at the cursor and advances it.
func (f *File) Write(b []byte) (int, error) {
	pos := f.Position()
	n, err := f.writeAt(b, pos)
	f.pos = pos + int64(n)
	return n, err
}

// WriteAt writes b at off without moving the cursor. In append mode off is
// ignored and b is appended.
func (f *File) WriteAt(b []byte, off int64) (int, error) {
	return f.writeAt(b, off)
}

// writeAt returns the number of bytes written.
func (f *File) writeAt(b []byte, off int64) (int, error) {
	if !f.flag.IsWriteable() {
		return 0, kvfs.ErrNotPermitted("write", f.path, "file not opened with a writeable mode")
	}
	if off < 0 {
		return 0, kvfs.ErrInvalid("write", "negative offset")
	}
	if f.flag.IsAppendable() {
		off = int64(len(f.buf))
	}
	if off > MaxFileSize-int64(len(b)) {
		return 0, kvfs.ErrTooLarge("write", f.path)
	}
	end := off + int64(len(b))
	if end > int64(len(f.buf)) {
		f.grow(int(end))
	}
	n := copy(f.buf[off:end], b)
	f.stats.Mtime = f.clock.Now()
	f.dirty = true
	if f.flag.IsSynchronous() {
		if err := f.Sync(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// grow extends the buffer to size, zero-filling the new region. Capacity left
// over from an earlier truncate is reused.
func (f *File) grow(size int) {
	old := len(f.buf)
	if size > cap(f.buf) {
		nb := make([]byte, size, max(size, 2*cap(f.buf)))
		copy(nb, f.buf)
		f.buf = nb
	} else {
		f.buf = f.buf[:size]
		clear(f.buf[old:])
	}
	f.stats.Size = uint64(size)
}

// Read reads from the cursor and advances it.
func (f *File) Read(b []byte) (int, error) {
	pos := f.Position()
	n, err := f.readAt(b, pos)
	f.pos = pos + int64(n)
	return n, err
}

// ReadAt reads at off without moving the cursor.
func (f *File) ReadAt(b []byte, off int64) (int, error) {
	n, err := f.readAt(b, off)
	if err == nil && n < len(b) {
		err = io.EOF
	}
	return n, err
}

func (f *File) readAt(b []byte, off int64) (int, error) {
	if !f.flag.IsReadable() {
		return 0, kvfs.ErrNotPermitted("read", f.path, "file not opened with a readable mode")
	}
	if off < 0 {
		return 0, kvfs.ErrInvalid("read", "negative offset")
	}
	end := min(off+int64(len(b)), int64(len(f.buf)))
	f.stats.Atime = f.clock.Now()
	if off >= end {
		if len(b) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	return copy(b, f.buf[off:end]), nil
}

// Truncate resizes the file. Growing zero-fills through the write path;
// shrinking keeps a view of the leading bytes.
func (f *File) Truncate(size int64) error {
	if !f.flag.IsWriteable() {
		return kvfs.ErrNotPermitted("truncate", f.path, "file not opened with a writeable mode")
	}
	if size < 0 {
		return kvfs.ErrInvalid("truncate", "negative size")
	}
	if size > MaxFileSize {
		return kvfs.ErrTooLarge("truncate", f.path)
	}
	cur := int64(len(f.buf))
	if size > cur {
		_, err := f.writeAt(make([]byte, size-cur), cur)
		return err
	}
	f.buf = f.buf[:size]
	f.stats.Size = uint64(size)
	f.stats.Mtime = f.clock.Now()
	f.dirty = true
	if f.flag.IsSynchronous() && f.syncer.Metadata().Synchronous {
		return f.Sync()
	}
	return nil
}

// Sync flushes the buffer if it has unflushed changes.
func (f *File) Sync() error {
	if !f.dirty {
		return nil
	}
	if err := f.syncer.Sync(f.path, f.buf, &f.stats); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

func (f *File) Datasync() error {
	return f.Sync()
}

// Close flushes pending changes. The handle should not be used afterwards.
func (f *File) Close() error {
	return f.Sync()
}

func (f *File) Chmod(mode uint32) error {
	if !f.syncer.Metadata().SupportsProperties {
		return kvfs.ErrNotSupported("chmod", f.path)
	}
	f.stats.Chmod(mode)
	f.dirty = true
	return f.Sync()
}

func (f *File) Chown(uid, gid uint32) error {
	if !f.syncer.Metadata().SupportsProperties {
		return kvfs.ErrNotSupported("chown", f.path)
	}
	f.stats.Chown(uid, gid)
	f.dirty = true
	return f.Sync()
}

func (f *File) Utimes(atime, mtime time.Time) error {
	if !f.syncer.Metadata().SupportsProperties {
		return kvfs.ErrNotSupported("utimes", f.path)
	}
	f.stats.Atime = atime
	f.stats.Mtime = mtime
	f.dirty = true
	return f.Sync()
}
