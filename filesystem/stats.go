package filesystem

import (
	"time"

	"github.com/brettbedarf/kvfs"
)

// Stats is a snapshot of a node's metadata.
type Stats struct {
	Size  uint64
	Mode  uint32 // type bits | permission bits
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
	UID   uint32
	GID   uint32
}

func (s *Stats) IsFile() bool {
	return s.Mode&S_IFMT == S_IFREG
}

func (s *Stats) IsDirectory() bool {
	return s.Mode&S_IFMT == S_IFDIR
}

// Perm returns the permission bits.
func (s *Stats) Perm() uint32 {
	return s.Mode &^ S_IFMT
}

// HasAccess checks mode against the owner bits when cred owns the node, the
// group bits when it shares the group, and the other bits otherwise.
func (s *Stats) HasAccess(mode AccessMode, cred kvfs.Cred) bool {
	if cred.IsRoot() {
		return true
	}
	perm := s.Perm()
	var granted uint32
	switch {
	case cred.EUID == s.UID:
		granted = (perm >> 6) & 0o7
	case cred.EGID == s.GID:
		granted = (perm >> 3) & 0o7
	default:
		granted = perm & 0o7
	}
	return uint32(mode)&granted == uint32(mode)
}

// Chmod replaces the permission bits, keeping the node type.
func (s *Stats) Chmod(perm uint32) {
	s.Mode = (s.Mode & S_IFMT) | (perm &^ S_IFMT)
}

func (s *Stats) Chown(uid, gid uint32) {
	s.UID = uid
	s.GID = gid
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
