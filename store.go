package unionfs

import (
	"os"
	"time"

	"github.com/spf13/afero"
)

// Branch identifies one side of the union.
type Branch int

const (
	BranchReadOnly Branch = iota
	BranchReadWrite
)

func (b Branch) String() string {
	if b == BranchReadWrite {
		return "rw"
	}
	return "ro"
}

// validModes are the mode bits a metadata shadow may override. Type bits
// always come from the real entry.
const validModes = os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky

// Attributes is the raw per-entry metadata a branch stores.
type Attributes struct {
	Mode  os.FileMode
	Uid   uint32
	Gid   uint32
	Size  int64
	Nlink uint64
	Rdev  uint64
	Ino   uint64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// AttrMask selects which Attributes fields a SetAttr call writes.
type AttrMask uint32

const (
	AttrMode AttrMask = 1 << iota
	AttrUID
	AttrGID
	AttrAtime
	AttrMtime
	AttrCtime

	AttrOwner = AttrUID | AttrGID
	AttrTimes = AttrAtime | AttrMtime
	AttrAll   = AttrMode | AttrOwner | AttrTimes | AttrCtime
)

// Privilege states who an attribute write is performed as. Bookkeeping
// writes (shadows, whiteouts, copy-up transplants) run AsRoot because the
// logical operation was already permission checked by the host.
type Privilege int

const (
	AsCaller Privilege = iota
	AsRoot
)

// RawEntry is an unfiltered directory entry as a branch reports it.
type RawEntry struct {
	Name string
	Type os.FileMode
}

// Store is the capability set the engine needs from a branch. Paths are
// cleaned, slash-separated and relative to the branch root.
type Store interface {
	Lstat(name string) (Attributes, error)
	ReadDir(name string) ([]RawEntry, error)
	OpenFile(name string, flag int, perm os.FileMode) (afero.File, error)
	Mkdir(name string, perm os.FileMode) error
	// Remove unlinks a file or removes an empty directory.
	Remove(name string) error
	Rename(oldname, newname string) error
	Symlink(target, name string) error
	Readlink(name string) (string, error)
	Link(oldname, newname string) error
	Mknod(name string, mode os.FileMode, dev uint64) error
	SetAttr(priv Privilege, name string, attrs Attributes, mask AttrMask) error
}

// createEmpty creates a zero-length regular file, failing if name exists.
func createEmpty(s Store, name string, perm os.FileMode) error {
	f, err := s.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	return f.Close()
}

// fileInfo implements os.FileInfo over merged attributes
type fileInfo struct {
	name  string
	attrs Attributes
}

func newFileInfo(name string, attrs Attributes) *fileInfo {
	return &fileInfo{name: name, attrs: attrs}
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.attrs.Size }
func (fi *fileInfo) Mode() os.FileMode  { return fi.attrs.Mode }
func (fi *fileInfo) ModTime() time.Time { return fi.attrs.Mtime }
func (fi *fileInfo) IsDir() bool        { return fi.attrs.Mode.IsDir() }

// Sys returns a copy of the merged *Attributes.
func (fi *fileInfo) Sys() any {
	a := fi.attrs
	return &a
}
