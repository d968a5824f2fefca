package unionfs

import (
	"os"
	"path"
)

// maxSymlinkDepth matches Linux MAXSYMLINKS
const maxSymlinkDepth = 40

// Readlink returns the destination of a symlink
func (u *Union) Readlink(name string) (string, error) {
	name = cleanPath(name)
	res, err := u.mustExist(name, false)
	if err != nil {
		return "", pathErr("readlink", name, err)
	}
	if res.attrs.Mode&os.ModeSymlink == 0 {
		return "", pathErr("readlink", name, EINVAL)
	}
	target, err := u.store(res.loc).Readlink(res.path)
	if err != nil {
		return "", pathErr("readlink", name, err)
	}
	return target, nil
}

// Symlink creates newname as a symbolic link to oldname. The target is
// stored verbatim and resolved against the union when followed.
func (u *Union) Symlink(oldname, newname string) error {
	newname = cleanPath(newname)
	err := u.createEntry(newname, true, func() error {
		return u.rw.Symlink(oldname, newname)
	})
	if err != nil {
		return pathErr("symlink", newname, err)
	}
	u.log.WithField("path", newname).Debug("[symlink] created")
	return nil
}

// Lchown changes the ownership of name without following a symlink
func (u *Union) Lchown(name string, uid, gid int) error {
	name = cleanPath(name)
	attrs, mask := ownerMask(uid, gid)
	if err := u.setAttr(name, attrs, mask); err != nil {
		return pathErr("lchown", name, err)
	}
	return nil
}

// LstatIfPossible returns file info without following symlinks
func (u *Union) LstatIfPossible(name string) (os.FileInfo, bool, error) {
	fi, err := u.Lstat(name)
	return fi, true, err
}

// ReadlinkIfPossible returns the destination of a symlink
func (u *Union) ReadlinkIfPossible(name string) (string, error) {
	return u.Readlink(name)
}

// SymlinkIfPossible creates a symbolic link
func (u *Union) SymlinkIfPossible(oldname, newname string) error {
	return u.Symlink(oldname, newname)
}

// resolveSymlink follows p through the union until it names something that
// is not a symlink. A missing final target is returned as is.
func (u *Union) resolveSymlink(p string, depth int) (string, error) {
	if depth <= 0 {
		return "", ELOOP
	}

	res, err := u.resolve(p, false)
	if err != nil {
		return "", err
	}
	if res.loc == NotFound || res.attrs.Mode&os.ModeSymlink == 0 {
		return p, nil
	}

	target, err := u.store(res.loc).Readlink(res.path)
	if err != nil {
		return "", err
	}

	var resolved string
	if path.IsAbs(target) {
		resolved = target
	} else {
		resolved = path.Join(path.Dir(p), target)
	}
	return u.resolveSymlink(cleanPath(resolved), depth-1)
}

// followSymlinks follows symlinks in the final component of p
func (u *Union) followSymlinks(p string) (string, error) {
	return u.resolveSymlink(cleanPath(p), maxSymlinkDepth)
}
