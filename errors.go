package unionfs

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
)

// Error codes returned inside *os.PathError by union operations
var (
	ENOENT       = syscall.ENOENT       // No such file or directory
	EEXIST       = syscall.EEXIST       // File exists
	ENOTDIR      = syscall.ENOTDIR      // Not a directory
	EISDIR       = syscall.EISDIR       // Is a directory
	EINVAL       = syscall.EINVAL       // Invalid argument
	ENOTEMPTY    = syscall.ENOTEMPTY    // Directory not empty
	EACCES       = syscall.EACCES       // Permission denied
	EPERM        = syscall.EPERM        // Operation not permitted
	ENAMETOOLONG = syscall.ENAMETOOLONG // File name too long
	ENOMEM       = syscall.ENOMEM       // Out of memory
	EIO          = syscall.EIO          // I/O error
	EXDEV        = syscall.EXDEV        // Cross-branch rename
	EBUSY        = syscall.EBUSY        // Device or resource busy
	ELOOP        = syscall.ELOOP        // Too many symbolic links
	ENOTSUP      = syscall.ENOTSUP      // Operation not supported by the branch
)

var (
	// ErrNoReadOnlyBranch is returned by New when no read-only branch is configured
	ErrNoReadOnlyBranch = errors.New("no read-only branch configured")
	// ErrNoReadWriteBranch is returned by New when no read-write branch is configured
	ErrNoReadWriteBranch = errors.New("no read-write branch configured")
)

// Kind classifies an error returned by the engine or a branch.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindAlreadyExists
	KindNotEmpty
	KindPermissionDenied
	KindNameTooLong
	KindOutOfMemory
	KindInvalid
	KindIOError
)

var kindNames = map[Kind]string{
	KindNone:             "none",
	KindNotFound:         "not found",
	KindAlreadyExists:    "already exists",
	KindNotEmpty:         "not empty",
	KindPermissionDenied: "permission denied",
	KindNameTooLong:      "name too long",
	KindOutOfMemory:      "out of memory",
	KindInvalid:          "invalid",
	KindIOError:          "i/o error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// KindOf maps an error to its Kind. Anything unrecognized is an IOError.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return KindNotFound
	// ENOTEMPTY also matches fs.ErrExist, test it first.
	case errors.Is(err, syscall.ENOTEMPTY):
		return KindNotEmpty
	case errors.Is(err, fs.ErrExist):
		return KindAlreadyExists
	case errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied
	case errors.Is(err, syscall.ENAMETOOLONG):
		return KindNameTooLong
	case errors.Is(err, syscall.ENOMEM):
		return KindOutOfMemory
	case errors.Is(err, fs.ErrInvalid), errors.Is(err, syscall.EINVAL):
		return KindInvalid
	default:
		return KindIOError
	}
}

func pathErr(op, name string, err error) error {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return &os.PathError{Op: op, Path: name, Err: pe.Err}
	}
	return &os.PathError{Op: op, Path: name, Err: err}
}

// isNotExist also accepts ENOTDIR: a lookup below a non-directory has
// nothing to find.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
