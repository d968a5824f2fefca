package unionfs

import (
	"io/fs"
	"path"
)

// subFS is an io/fs view of the merged tree below dir. Names are unrooted
// and slash separated, as io/fs requires.
type subFS struct {
	u   *Union
	dir string
}

var (
	_ fs.FS         = (*subFS)(nil)
	_ fs.StatFS     = (*subFS)(nil)
	_ fs.ReadDirFS  = (*subFS)(nil)
	_ fs.ReadFileFS = (*subFS)(nil)
	_ fs.SubFS      = (*subFS)(nil)
)

// Sub returns an io/fs view rooted at dir, which must be a directory
func (u *Union) Sub(dir string) (fs.FS, error) {
	dir = cleanPath(dir)
	fi, err := u.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, pathErr("sub", dir, ENOTDIR)
	}
	return &subFS{u: u, dir: dir}, nil
}

// full maps an io/fs name onto a union path
func (s *subFS) full(op, name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	return path.Join(s.dir, name), nil
}

// fsErr reports err against the io/fs name instead of the union path
func fsErr(op, name string, err error) error {
	return &fs.PathError{Op: op, Path: name, Err: unwrapPathErr(err)}
}

func (s *subFS) Open(name string) (fs.File, error) {
	p, err := s.full("open", name)
	if err != nil {
		return nil, err
	}
	f, err := s.u.Open(p)
	if err != nil {
		return nil, fsErr("open", name, err)
	}
	return f, nil
}

func (s *subFS) Stat(name string) (fs.FileInfo, error) {
	p, err := s.full("stat", name)
	if err != nil {
		return nil, err
	}
	fi, err := s.u.Stat(p)
	if err != nil {
		return nil, fsErr("stat", name, err)
	}
	return fi, nil
}

func (s *subFS) ReadDir(name string) ([]fs.DirEntry, error) {
	p, err := s.full("readdir", name)
	if err != nil {
		return nil, err
	}
	entries, err := s.u.ReadDir(p)
	if err != nil {
		return nil, fsErr("readdir", name, err)
	}
	return entries, nil
}

func (s *subFS) ReadFile(name string) ([]byte, error) {
	p, err := s.full("readfile", name)
	if err != nil {
		return nil, err
	}
	data, err := s.u.ReadFile(p)
	if err != nil {
		return nil, fsErr("readfile", name, err)
	}
	return data, nil
}

func (s *subFS) Sub(dir string) (fs.FS, error) {
	p, err := s.full("sub", dir)
	if err != nil {
		return nil, err
	}
	if p == s.dir {
		return s, nil
	}
	sub, err := s.u.Sub(p)
	if err != nil {
		return nil, fsErr("sub", dir, err)
	}
	return sub, nil
}
