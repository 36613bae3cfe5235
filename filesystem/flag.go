package filesystem

import (
	"fmt"
	"strings"

	"github.com/brettbedarf/kvfs"
	"github.com/puzpuzpuz/xsync/v4"
)

// Open flag bits. The values are the Linux ones and are fixed across
// platforms so numeric flags round-trip identically everywhere.
const (
	O_RDONLY = 0x0
	O_WRONLY = 0x1
	O_RDWR   = 0x2
	O_CREAT  = 0x40
	O_EXCL   = 0x80
	O_TRUNC  = 0x200
	O_APPEND = 0x400
	O_SYNC   = 0x101000
)

// flagNumbers is the one-to-one mapping between symbolic and numeric flags.
var flagNumbers = map[string]int{
	"r":   O_RDONLY,
	"rs":  O_RDONLY | O_SYNC,
	"r+":  O_RDWR,
	"rs+": O_RDWR | O_SYNC,
	"w":   O_TRUNC | O_CREAT | O_WRONLY,
	"wx":  O_TRUNC | O_CREAT | O_WRONLY | O_EXCL,
	"w+":  O_TRUNC | O_CREAT | O_RDWR,
	"wx+": O_TRUNC | O_CREAT | O_RDWR | O_EXCL,
	"a":   O_APPEND | O_CREAT | O_WRONLY,
	"ax":  O_APPEND | O_CREAT | O_WRONLY | O_EXCL,
	"a+":  O_APPEND | O_CREAT | O_RDWR,
	"ax+": O_APPEND | O_CREAT | O_RDWR | O_EXCL,
}

var flagStrings = func() map[int]string {
	m := make(map[int]string, len(flagNumbers))
	for s, n := range flagNumbers {
		m[n] = s
	}
	return m
}()

// flagCache holds one immutable *FileFlag per distinct symbolic flag for the
// life of the process. It is filled lazily by ParseFlag and never invalidated.
var flagCache = xsync.NewMap[string, *FileFlag]()

// ActionType is what open should do given whether the path exists.
type ActionType int

const (
	ActionNop ActionType = iota
	ActionThrow
	ActionTruncate
	ActionCreate
)

// FileFlag is a parsed open mode. Instances are shared and must not be modified.
type FileFlag struct {
	str string
	num int
}

// ParseFlag returns the descriptor for a symbolic flag such as "r+" or "ax".
func ParseFlag(s string) (*FileFlag, error) {
	if f, ok := flagCache.Load(s); ok {
		return f, nil
	}
	num, ok := flagNumbers[s]
	if !ok {
		return nil, kvfs.ErrInvalid("open", fmt.Sprintf("invalid flag string %q", s))
	}
	f, _ := flagCache.LoadOrStore(s, &FileFlag{str: s, num: num})
	return f, nil
}

// FlagFromNumber returns the descriptor for a numeric flag bitmask.
func FlagFromNumber(n int) (*FileFlag, error) {
	s, ok := flagStrings[n]
	if !ok {
		return nil, kvfs.ErrInvalid("open", fmt.Sprintf("invalid flag number %#x", n))
	}
	return ParseFlag(s)
}

// MustParseFlag is ParseFlag for compile-time constant flags.
func MustParseFlag(s string) *FileFlag {
	f, err := ParseFlag(s)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *FileFlag) String() string { return f.str }

// Number returns the numeric bitmask equivalent of the flag.
func (f *FileFlag) Number() int { return f.num }

func (f *FileFlag) IsReadable() bool {
	return strings.ContainsAny(f.str, "r+")
}

func (f *FileFlag) IsWriteable() bool {
	return strings.ContainsAny(f.str, "wa+")
}

func (f *FileFlag) IsTruncating() bool {
	return strings.Contains(f.str, "w")
}

func (f *FileFlag) IsAppendable() bool {
	return strings.Contains(f.str, "a")
}

func (f *FileFlag) IsSynchronous() bool {
	return strings.Contains(f.str, "s")
}

func (f *FileFlag) IsExclusive() bool {
	return strings.Contains(f.str, "x")
}

// AccessMode is the permission an open with this flag requires.
func (f *FileFlag) AccessMode() AccessMode {
	var m AccessMode
	if f.IsReadable() {
		m |= R_OK
	}
	if f.IsWriteable() {
		m |= W_OK
	}
	return m
}

// PathExistsAction is what open does when the path already exists.
func (f *FileFlag) PathExistsAction() ActionType {
	switch {
	case f.IsExclusive():
		return ActionThrow
	case f.IsTruncating():
		return ActionTruncate
	default:
		return ActionNop
	}
}

// PathNotExistsAction is what open does when the path is missing.
// "rs+" is writeable and not literally "r+", so it creates.
func (f *FileFlag) PathNotExistsAction() ActionType {
	if (f.IsWriteable() || f.IsAppendable()) && f.str != "r+" {
		return ActionCreate
	}
	return ActionThrow
}
