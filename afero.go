package unionfs

import (
	"os"
	"time"

	"github.com/spf13/afero"
)

// aferoAdapter exposes a Union as an afero.Fs
type aferoAdapter struct {
	u *Union
}

var (
	_ afero.Fs        = (*aferoAdapter)(nil)
	_ afero.Lstater   = (*aferoAdapter)(nil)
	_ afero.Symlinker = (*aferoAdapter)(nil)
)

// Afero returns an afero.Fs view of the union, so afero helpers such as
// afero.ReadDir, afero.Walk and afero.WriteFile work on the merged tree.
func (u *Union) Afero() afero.Fs {
	return &aferoAdapter{u: u}
}

func (a *aferoAdapter) Name() string {
	return a.u.Name()
}

func (a *aferoAdapter) Create(name string) (afero.File, error) {
	return a.open(a.u.Create(name))
}

func (a *aferoAdapter) Open(name string) (afero.File, error) {
	return a.open(a.u.Open(name))
}

func (a *aferoAdapter) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	return a.open(a.u.OpenFile(name, flag, perm))
}

// open keeps a nil *File out of the afero.File interface
func (a *aferoAdapter) open(f *File, err error) (afero.File, error) {
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (a *aferoAdapter) Mkdir(name string, perm os.FileMode) error {
	return a.u.Mkdir(name, perm)
}

func (a *aferoAdapter) MkdirAll(name string, perm os.FileMode) error {
	return a.u.MkdirAll(name, perm)
}

func (a *aferoAdapter) Remove(name string) error {
	return a.u.Remove(name)
}

func (a *aferoAdapter) RemoveAll(name string) error {
	return a.u.RemoveAll(name)
}

func (a *aferoAdapter) Rename(oldname, newname string) error {
	return a.u.Rename(oldname, newname)
}

func (a *aferoAdapter) Stat(name string) (os.FileInfo, error) {
	return a.u.Stat(name)
}

func (a *aferoAdapter) Chmod(name string, mode os.FileMode) error {
	return a.u.Chmod(name, mode)
}

func (a *aferoAdapter) Chown(name string, uid, gid int) error {
	return a.u.Chown(name, uid, gid)
}

func (a *aferoAdapter) Chtimes(name string, atime, mtime time.Time) error {
	return a.u.Chtimes(name, atime, mtime)
}

func (a *aferoAdapter) LstatIfPossible(name string) (os.FileInfo, bool, error) {
	return a.u.LstatIfPossible(name)
}

func (a *aferoAdapter) SymlinkIfPossible(oldname, newname string) error {
	return a.u.SymlinkIfPossible(oldname, newname)
}

func (a *aferoAdapter) ReadlinkIfPossible(name string) (string, error) {
	return a.u.ReadlinkIfPossible(name)
}
