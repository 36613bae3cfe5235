package filesystem

import "math"

// Node type bits packed into the high bits of a mode. Values are the POSIX
// ones so modes can be handed to FUSE unchanged on every platform.
const (
	S_IFMT  uint32 = 0o170000
	S_IFDIR uint32 = 0o040000
	S_IFREG uint32 = 0o100000
	S_IFLNK uint32 = 0o120000
)

// AccessMode is a mask of R_OK, W_OK and X_OK.
type AccessMode uint32

const (
	F_OK AccessMode = 0
	X_OK AccessMode = 1
	W_OK AccessMode = 2
	R_OK AccessMode = 4
)

// RootID is the store key of the root directory's inode.
const RootID = "/"

// dirBlockSize is the size reported for the root directory inode.
const dirBlockSize = 4096

// MaxFileSize caps the length of a file's contents. Writes or truncates
// beyond it fail with EFBIG.
const MaxFileSize int64 = math.MaxInt32
