package filesystem

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	inodeEnc cbor.EncMode
	inodeDec cbor.DecMode
)

func init() {
	var err error
	inodeEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("filesystem: inode encoder initialization failed: " + err.Error())
	}
	inodeDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("filesystem: inode decoder initialization failed: " + err.Error())
	}
}

// Inode is the persisted metadata of a file or directory. It is stored under
// its own key; ID is the key of the node's data (file contents or directory
// listing) and never changes after creation.
//
// The wire form is a deterministic CBOR array
// [id, size, mode, atime, mtime, ctime, uid, gid] with timestamps in
// milliseconds since the epoch.
type Inode struct {
	_     struct{} `cbor:",toarray"`
	ID    string
	Size  uint64
	Mode  uint32
	Atime int64
	Mtime int64
	Ctime int64
	UID   uint32
	GID   uint32
}

// NewInode builds an inode for a freshly created node.
func NewInode(id string, size uint64, mode uint32, nowMs int64, uid, gid uint32) *Inode {
	return &Inode{
		ID:    id,
		Size:  size,
		Mode:  mode,
		Atime: nowMs,
		Mtime: nowMs,
		Ctime: nowMs,
		UID:   uid,
		GID:   gid,
	}
}

// Serialize encodes the inode for storage.
func (n *Inode) Serialize() ([]byte, error) {
	return inodeEnc.Marshal(n)
}

// DeserializeInode decodes an inode written by [Inode.Serialize].
func DeserializeInode(data []byte) (*Inode, error) {
	var n Inode
	if err := inodeDec.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decode inode: %w", err)
	}
	return &n, nil
}

func (n *Inode) IsFile() bool {
	return n.Mode&S_IFMT == S_IFREG
}

func (n *Inode) IsDirectory() bool {
	return n.Mode&S_IFMT == S_IFDIR
}

// ToStats returns the caller-facing view of the inode.
func (n *Inode) ToStats() *Stats {
	return &Stats{
		Size:  n.Size,
		Mode:  n.Mode,
		Atime: msToTime(n.Atime),
		Mtime: msToTime(n.Mtime),
		Ctime: msToTime(n.Ctime),
		UID:   n.UID,
		GID:   n.GID,
	}
}

// Update copies stats into the inode and reports whether anything changed.
func (n *Inode) Update(stats *Stats) bool {
	changed := false
	if n.Size != stats.Size {
		n.Size = stats.Size
		changed = true
	}
	if n.Mode != stats.Mode {
		n.Mode = stats.Mode
		changed = true
	}
	for _, f := range []struct {
		dst *int64
		src int64
	}{
		{&n.Atime, stats.Atime.UnixMilli()},
		{&n.Mtime, stats.Mtime.UnixMilli()},
		{&n.Ctime, stats.Ctime.UnixMilli()},
	} {
		if *f.dst != f.src {
			*f.dst = f.src
			changed = true
		}
	}
	if n.UID != stats.UID {
		n.UID = stats.UID
		changed = true
	}
	if n.GID != stats.GID {
		n.GID = stats.GID
		changed = true
	}
	return changed
}
