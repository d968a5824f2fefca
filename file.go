package unionfs

import (
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/spf13/afero"
)

// File is an open union file. Regular files wrap the branch file that
// holds them; directories wrap a DirHandle over the merged listing.
type File struct {
	u    *Union
	name string
	flag int
	f    afero.File
	dir  *DirHandle
}

var _ afero.File = (*File)(nil)

func newFile(u *Union, name string, f afero.File, flag int) *File {
	return &File{u: u, name: name, f: f, flag: flag}
}

func newDirFile(u *Union, name string, d *DirHandle) *File {
	return &File{u: u, name: name, dir: d, flag: os.O_RDONLY}
}

func (f *File) pathErr(op string, err error) error {
	return pathErr(op, f.name, err)
}

// Name returns the logical path the file was opened with
func (f *File) Name() string {
	return f.name
}

// Close closes the file
func (f *File) Close() error {
	if f.dir != nil {
		return f.dir.Close()
	}
	err := f.f.Close()
	if isWriteFlag(f.flag) {
		f.u.cache.invalidate(f.name)
	}
	return err
}

// Read reads from a regular file
func (f *File) Read(p []byte) (int, error) {
	if f.dir != nil {
		return 0, f.pathErr("read", EISDIR)
	}
	return f.f.Read(p)
}

// ReadAt reads from a regular file at an offset
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.dir != nil {
		return 0, f.pathErr("read", EISDIR)
	}
	return f.f.ReadAt(p, off)
}

// Seek sets the offset of the next read or write. On a directory only a
// rewind to the start is supported.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.dir != nil {
		if offset != 0 || whence != io.SeekStart {
			return 0, f.pathErr("seek", EINVAL)
		}
		return 0, f.dir.Rewind()
	}
	return f.f.Seek(offset, whence)
}

// Write writes to a regular file
func (f *File) Write(p []byte) (int, error) {
	if f.dir != nil {
		return 0, f.pathErr("write", EISDIR)
	}
	f.u.cache.invalidate(f.name)
	return f.f.Write(p)
}

// WriteAt writes to a regular file at an offset
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if f.dir != nil {
		return 0, f.pathErr("write", EISDIR)
	}
	f.u.cache.invalidate(f.name)
	return f.f.WriteAt(p, off)
}

// WriteString writes a string to a regular file
func (f *File) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

// Truncate changes the size of a regular file
func (f *File) Truncate(size int64) error {
	if f.dir != nil {
		return f.pathErr("truncate", EISDIR)
	}
	f.u.cache.invalidate(f.name)
	return f.f.Truncate(size)
}

// Sync commits the file to its branch
func (f *File) Sync() error {
	if f.dir != nil {
		return nil
	}
	return f.f.Sync()
}

// Stat returns the merged file info
func (f *File) Stat() (os.FileInfo, error) {
	return f.u.Lstat(f.name)
}

// ReadDir reads up to n merged entries, like os.File.ReadDir
func (f *File) ReadDir(n int) ([]fs.DirEntry, error) {
	if f.dir == nil {
		return nil, f.pathErr("readdir", ENOTDIR)
	}
	entries, err := f.dir.ReadEntries(n)
	if err != nil {
		return nil, err
	}
	out := make([]fs.DirEntry, len(entries))
	for i, e := range entries {
		out[i] = &dirEntry{u: f.u, dir: f.name, entry: e}
	}
	return out, nil
}

// Readdir reads up to count merged entries as file infos
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	entries, err := f.ReadDir(count)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := f.u.Lstat(path.Join(f.name, e.Name()))
		if err != nil {
			// Entry vanished between listing and stat.
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Readdirnames reads up to count merged entry names
func (f *File) Readdirnames(count int) ([]string, error) {
	entries, err := f.ReadDir(count)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}
