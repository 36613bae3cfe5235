package kvfs

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

var errnoNames = map[syscall.Errno]string{
	syscall.ENOENT:    "ENOENT",
	syscall.EEXIST:    "EEXIST",
	syscall.EACCES:    "EACCES",
	syscall.EPERM:     "EPERM",
	syscall.ENOTDIR:   "ENOTDIR",
	syscall.EISDIR:    "EISDIR",
	syscall.ENOTEMPTY: "ENOTEMPTY",
	syscall.EBUSY:     "EBUSY",
	syscall.EIO:       "EIO",
	syscall.EINVAL:    "EINVAL",
	syscall.ENOTSUP:   "ENOTSUP",
	syscall.EFBIG:     "EFBIG",
}

var errnoDescriptions = map[syscall.Errno]string{
	syscall.ENOENT:    "no such file or directory",
	syscall.EEXIST:    "file already exists",
	syscall.EACCES:    "permission denied",
	syscall.EPERM:     "operation not permitted",
	syscall.ENOTDIR:   "not a directory",
	syscall.EISDIR:    "is a directory",
	syscall.ENOTEMPTY: "directory not empty",
	syscall.EBUSY:     "resource busy or locked",
	syscall.EIO:       "input/output error",
	syscall.EINVAL:    "invalid argument",
	syscall.ENOTSUP:   "operation not supported",
	syscall.EFBIG:     "file too large",
}

// Error is the typed failure returned by every filesystem operation.
type Error struct {
	Errno syscall.Errno
	Op    string // operation that failed, e.g. "stat"
	Path  string // path the operation was acting on, may be empty
	Msg   string // optional detail replacing the errno description
	Err   error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	var sb strings.Builder
	name, ok := errnoNames[e.Errno]
	if !ok {
		name = fmt.Sprintf("errno %d", int(e.Errno))
	}
	sb.WriteString(name)
	sb.WriteString(": ")
	if e.Msg != "" {
		sb.WriteString(e.Msg)
	} else if desc, ok := errnoDescriptions[e.Errno]; ok {
		sb.WriteString(desc)
	} else {
		sb.WriteString(e.Errno.Error())
	}
	if e.Op != "" {
		sb.WriteString(", ")
		sb.WriteString(e.Op)
		if e.Path != "" {
			sb.WriteString(" '")
			sb.WriteString(e.Path)
			sb.WriteString("'")
		}
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target names the same failure kind. It matches another
// *Error with the same errno, a bare syscall.Errno, and the io/fs sentinels
// (fs.ErrNotExist, fs.ErrExist, fs.ErrPermission ...).
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case *Error:
		return t.Errno == e.Errno
	case syscall.Errno:
		return t == e.Errno
	}
	return e.Errno.Is(target)
}

func newError(errno syscall.Errno, op, path string, cause error) *Error {
	return &Error{Errno: errno, Op: op, Path: path, Err: cause}
}

func ErrNotFound(op, path string) *Error     { return newError(syscall.ENOENT, op, path, nil) }
func ErrExists(op, path string) *Error       { return newError(syscall.EEXIST, op, path, nil) }
func ErrAccess(op, path string) *Error       { return newError(syscall.EACCES, op, path, nil) }
func ErrNotDir(op, path string) *Error       { return newError(syscall.ENOTDIR, op, path, nil) }
func ErrIsDir(op, path string) *Error        { return newError(syscall.EISDIR, op, path, nil) }
func ErrNotEmpty(op, path string) *Error     { return newError(syscall.ENOTEMPTY, op, path, nil) }
func ErrBusy(op, path string) *Error         { return newError(syscall.EBUSY, op, path, nil) }
func ErrNotSupported(op, path string) *Error { return newError(syscall.ENOTSUP, op, path, nil) }
func ErrTooLarge(op, path string) *Error     { return newError(syscall.EFBIG, op, path, nil) }

// ErrNotPermitted is returned for operations the node kind or open mode forbids.
func ErrNotPermitted(op, path, msg string) *Error {
	e := newError(syscall.EPERM, op, path, nil)
	e.Msg = msg
	return e
}

// ErrIO wraps a store level failure or an engine integrity problem.
func ErrIO(op, path string, cause error) *Error {
	return newError(syscall.EIO, op, path, cause)
}

// ErrInvalid is returned for malformed arguments such as unknown open flags.
func ErrInvalid(op, msg string) *Error {
	e := newError(syscall.EINVAL, op, "", nil)
	e.Msg = msg
	return e
}

// ToErrno maps err to the errno a kernel-facing caller should see.
// Untyped errors map to EIO.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Errno
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EIO
}
