package filesystem

import (
	"time"

	"github.com/brettbedarf/kvfs"
)

// Path level helpers built on top of file handles.

// ReadFile returns a copy of the contents of the file at p.
func (fs *FileSystem) ReadFile(p string, cred kvfs.Cred) ([]byte, error) {
	f, err := fs.Open(p, MustParseFlag("r"), 0, cred)
	if err != nil {
		return nil, err
	}
	defer f.Close() // nolint:errcheck
	return append([]byte{}, f.Bytes()...), nil
}

// WriteFile replaces the contents of p with data, creating it with mode if needed.
func (fs *FileSystem) WriteFile(p string, data []byte, mode uint32, cred kvfs.Cred) error {
	return fs.writeWithFlag(p, data, MustParseFlag("w"), mode, cred)
}

// AppendFile appends data to p, creating it with mode if needed.
func (fs *FileSystem) AppendFile(p string, data []byte, mode uint32, cred kvfs.Cred) error {
	return fs.writeWithFlag(p, data, MustParseFlag("a"), mode, cred)
}

func (fs *FileSystem) writeWithFlag(p string, data []byte, flag *FileFlag, mode uint32, cred kvfs.Cred) error {
	f, err := fs.Open(p, flag, mode, cred)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Close()
}

// Truncate resizes the file at p. Only write access is needed.
func (fs *FileSystem) Truncate(p string, size int64, cred kvfs.Cred) error {
	f, err := fs.openFile("truncate", p, MustParseFlag("r+"), W_OK, cred)
	if err != nil {
		return err
	}
	if f.Stat().IsDirectory() {
		return kvfs.ErrIsDir("truncate", f.Path())
	}
	if err := f.Truncate(size); err != nil {
		return err
	}
	return f.Close()
}

// Chmod changes the permission bits of the node at p. Only the owner may do so.
func (fs *FileSystem) Chmod(p string, mode uint32, cred kvfs.Cred) error {
	f, err := fs.propertyHandle("chmod", p, cred)
	if err != nil {
		return err
	}
	return f.Chmod(mode)
}

// Chown changes the owner of the node at p. Only root may do so.
func (fs *FileSystem) Chown(p string, uid, gid uint32, cred kvfs.Cred) error {
	if !cred.IsRoot() {
		return kvfs.ErrNotPermitted("chown", p, "only root may change ownership")
	}
	f, err := fs.propertyHandle("chown", p, cred)
	if err != nil {
		return err
	}
	return f.Chown(uid, gid)
}

// Utimes sets the access and modification times of the node at p.
func (fs *FileSystem) Utimes(p string, atime, mtime time.Time, cred kvfs.Cred) error {
	f, err := fs.propertyHandle("utimes", p, cred)
	if err != nil {
		return err
	}
	return f.Utimes(atime, mtime)
}

// CheckOwner reports whether cred may change the metadata of the node at p:
// the backend must store properties and the caller must own the node or be
// root.
func (fs *FileSystem) CheckOwner(op, p string, cred kvfs.Cred) error {
	if !fs.cfg.SupportsProperties {
		return kvfs.ErrNotSupported(op, p)
	}
	stats, err := fs.lookupStats(op, p)
	if err != nil {
		return err
	}
	if !cred.IsRoot() && cred.EUID != stats.UID {
		return kvfs.ErrNotPermitted(op, p, "caller does not own the node")
	}
	return nil
}

// propertyHandle opens any node, directories included, for a metadata
// change by its owner.
func (fs *FileSystem) propertyHandle(op, p string, cred kvfs.Cred) (*File, error) {
	if err := fs.CheckOwner(op, p, cred); err != nil {
		return nil, err
	}
	return fs.openFile(op, p, MustParseFlag("r"), F_OK, cred)
}
