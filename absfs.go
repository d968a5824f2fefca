package unionfs

import (
	"io/fs"
	"os"
	"time"

	"github.com/absfs/absfs"
)

// absFSAdapter wraps Union to implement absfs.Filer with correct types
type absFSAdapter struct {
	u *Union
}

// Ensure absFSAdapter implements absfs.Filer interface at compile time
var _ absfs.Filer = (*absFSAdapter)(nil)

// FileSystem returns an absfs.FileSystem view of the union.
// The returned FileSystem keeps its own working directory and adds the
// convenience methods of absfs (Open, Create, MkdirAll, RemoveAll and
// Truncate) on top of the union operations.
//
// Example:
//
//	u, _ := unionfs.New(
//	    unionfs.WithReadOnlyBranch(base),
//	    unionfs.WithReadWriteBranch(overlay),
//	)
//
//	fsys := u.FileSystem()
//	fsys.Chdir("/etc")
//	f, err := fsys.Open("hosts")
func (u *Union) FileSystem() absfs.FileSystem {
	return absfs.ExtendFiler(&absFSAdapter{u: u})
}

// OpenFile implements absfs.Filer
func (a *absFSAdapter) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	f, err := a.u.OpenFile(name, flag, perm)
	if err != nil {
		// Avoid returning a typed nil inside the interface.
		return nil, err
	}
	return f, nil
}

// Mkdir implements absfs.Filer
func (a *absFSAdapter) Mkdir(name string, perm os.FileMode) error {
	return a.u.Mkdir(name, perm)
}

// Remove implements absfs.Filer
func (a *absFSAdapter) Remove(name string) error {
	return a.u.Remove(name)
}

// Rename implements absfs.Filer
func (a *absFSAdapter) Rename(oldpath, newpath string) error {
	return a.u.Rename(oldpath, newpath)
}

// Stat implements absfs.Filer
func (a *absFSAdapter) Stat(name string) (os.FileInfo, error) {
	return a.u.Stat(name)
}

// Chmod implements absfs.Filer
func (a *absFSAdapter) Chmod(name string, mode os.FileMode) error {
	return a.u.Chmod(name, mode)
}

// Chtimes implements absfs.Filer
func (a *absFSAdapter) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return a.u.Chtimes(name, atime, mtime)
}

// Chown implements absfs.Filer
func (a *absFSAdapter) Chown(name string, uid, gid int) error {
	return a.u.Chown(name, uid, gid)
}

// Separator returns the path separator (always forward slash for union paths)
func (a *absFSAdapter) Separator() uint8 {
	return '/'
}

// ListSeparator returns the path list separator
func (a *absFSAdapter) ListSeparator() uint8 {
	return ':'
}

// Truncate changes the size of the named file
func (a *absFSAdapter) Truncate(name string, size int64) error {
	return a.u.Truncate(name, size)
}

// ReadDir returns the merged entries of a directory sorted by name
func (a *absFSAdapter) ReadDir(name string) ([]fs.DirEntry, error) {
	return a.u.ReadDir(name)
}

// ReadFile reads the named file
func (a *absFSAdapter) ReadFile(name string) ([]byte, error) {
	return a.u.ReadFile(name)
}

// Sub returns an io/fs view rooted at dir
func (a *absFSAdapter) Sub(dir string) (fs.FS, error) {
	return a.u.Sub(dir)
}
