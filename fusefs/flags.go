package fusefs

import (
	"errors"
	"io"

	"github.com/brettbedarf/kvfs/filesystem"
)

// accessMode masks the O_RDONLY / O_WRONLY / O_RDWR bits of open flags.
const accessMode = 0x3

// openFlag maps kernel open flags on an existing file to a symbolic flag.
// Write-only opens that neither truncate nor append use "r+"; no symbolic
// flag opens for writing without one of the two.
func openFlag(flags uint32) string {
	rdwr := flags&accessMode == filesystem.O_RDWR
	wronly := flags&accessMode == filesystem.O_WRONLY
	sync := flags&filesystem.O_SYNC == filesystem.O_SYNC

	switch {
	case flags&filesystem.O_APPEND != 0:
		if rdwr {
			return "a+"
		}
		return "a"
	case flags&filesystem.O_TRUNC != 0 && (rdwr || wronly):
		if rdwr {
			return "w+"
		}
		return "w"
	case rdwr || wronly:
		if sync {
			return "rs+"
		}
		return "r+"
	case sync:
		return "rs"
	default:
		return "r"
	}
}

// createFlag maps the flags of a create request. The file is new, so
// truncation does nothing; exclusivity makes open fail if it raced into
// existence. Read-only creates still need a readable handle.
func createFlag(flags uint32) string {
	readable := flags&accessMode != filesystem.O_WRONLY
	var s string
	switch {
	case flags&filesystem.O_APPEND != 0:
		s = "a"
	default:
		s = "w"
	}
	if flags&filesystem.O_EXCL != 0 {
		s += "x"
	}
	if readable {
		s += "+"
	}
	return s
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
