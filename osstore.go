//go:build linux || darwin

package unionfs

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// OSStore is a branch rooted at a directory on a mounted filesystem. Tree
// and content operations go through an afero.BasePathFs jail; attribute,
// link and device operations use the jailed real path directly.
//
// OSStore cannot raise its own privileges: AsRoot writes succeed only when
// the process is allowed to perform them (root or CAP_CHOWN/CAP_FOWNER).
type OSStore struct {
	root string
	fs   *afero.BasePathFs
}

// NewOSStore opens the directory root as a branch.
func NewOSStore(root string) (*OSStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, &os.PathError{Op: "open", Path: abs, Err: syscall.ENOTDIR}
	}
	return &OSStore{
		root: abs,
		fs:   afero.NewBasePathFs(afero.NewOsFs(), abs).(*afero.BasePathFs),
	}, nil
}

// Root returns the absolute directory backing the branch
func (s *OSStore) Root() string {
	return s.root
}

// RealPath maps a branch path to its location on disk.
func (s *OSStore) RealPath(name string) (string, error) {
	return s.fs.RealPath(cleanPath(name))
}

// realPath maps name onto the disk like RealPath, and refuses to cross a
// symlink or non-directory in any ancestor.
func (s *OSStore) realPath(op, name string) (string, error) {
	rp, err := s.RealPath(name)
	if err != nil {
		return "", unjail(op, name, err)
	}
	if err := s.checkAncestors(op, name); err != nil {
		return "", err
	}
	return rp, nil
}

func (s *OSStore) checkAncestors(op, name string) error {
	comps := splitComponents(name)
	cur := s.root
	for i := 0; i < len(comps)-1; i++ {
		cur = filepath.Join(cur, comps[i])
		var st unix.Stat_t
		if err := unix.Lstat(cur, &st); err != nil {
			return unjail(op, name, err)
		}
		if st.Mode&unix.S_IFMT != unix.S_IFDIR {
			return &os.PathError{Op: op, Path: name, Err: syscall.ENOTDIR}
		}
	}
	return nil
}

// unjail rewrites errors so they carry the branch path, not the disk path.
func unjail(op, name string, err error) error {
	if err == nil {
		return nil
	}
	var pe *os.PathError
	if errors.As(err, &pe) {
		return &os.PathError{Op: op, Path: name, Err: pe.Err}
	}
	var le *os.LinkError
	if errors.As(err, &le) {
		return &os.PathError{Op: op, Path: name, Err: le.Err}
	}
	return &os.PathError{Op: op, Path: name, Err: err}
}

// Lstat returns the attributes of name without following symlinks
func (s *OSStore) Lstat(name string) (Attributes, error) {
	name = cleanPath(name)
	rp, err := s.realPath("lstat", name)
	if err != nil {
		return Attributes{}, err
	}
	var st unix.Stat_t
	if err := unix.Lstat(rp, &st); err != nil {
		return Attributes{}, unjail("lstat", name, err)
	}
	return attrsFromStat(&st), nil
}

// ReadDir lists the raw entries of a directory in name order
func (s *OSStore) ReadDir(name string) ([]RawEntry, error) {
	name = cleanPath(name)
	rp, err := s.realPath("readdir", name)
	if err != nil {
		return nil, err
	}
	var st unix.Stat_t
	if err := unix.Lstat(rp, &st); err != nil {
		return nil, unjail("readdir", name, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return nil, &os.PathError{Op: "readdir", Path: name, Err: syscall.ENOTDIR}
	}
	infos, err := afero.ReadDir(s.fs, name)
	if err != nil {
		return nil, unjail("readdir", name, err)
	}
	entries := make([]RawEntry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, RawEntry{Name: fi.Name(), Type: fi.Mode().Type()})
	}
	return entries, nil
}

// OpenFile opens name for I/O. Symlinks are not followed.
func (s *OSStore) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	name = cleanPath(name)
	if err := s.checkAncestors("open", name); err != nil {
		return nil, err
	}
	f, err := s.fs.OpenFile(name, flag|syscall.O_NOFOLLOW, perm)
	if err != nil {
		return nil, unjail("open", name, err)
	}
	return f, nil
}

// Mkdir creates a directory
func (s *OSStore) Mkdir(name string, perm os.FileMode) error {
	name = cleanPath(name)
	if err := s.checkAncestors("mkdir", name); err != nil {
		return err
	}
	return unjail("mkdir", name, s.fs.Mkdir(name, perm))
}

// Remove unlinks a file or removes an empty directory
func (s *OSStore) Remove(name string) error {
	name = cleanPath(name)
	if err := s.checkAncestors("remove", name); err != nil {
		return err
	}
	return unjail("remove", name, s.fs.Remove(name))
}

// Rename moves oldname to newname within the branch
func (s *OSStore) Rename(oldname, newname string) error {
	oldname, newname = cleanPath(oldname), cleanPath(newname)
	if err := s.checkAncestors("rename", oldname); err != nil {
		return err
	}
	if err := s.checkAncestors("rename", newname); err != nil {
		return err
	}
	return unjail("rename", oldname, s.fs.Rename(oldname, newname))
}

// Symlink creates name pointing at target. The target is stored verbatim.
func (s *OSStore) Symlink(target, name string) error {
	name = cleanPath(name)
	rp, err := s.realPath("symlink", name)
	if err != nil {
		return err
	}
	return unjail("symlink", name, unix.Symlink(target, rp))
}

// Readlink returns the target of a symlink
func (s *OSStore) Readlink(name string) (string, error) {
	name = cleanPath(name)
	rp, err := s.realPath("readlink", name)
	if err != nil {
		return "", err
	}
	target, err := os.Readlink(rp)
	if err != nil {
		return "", unjail("readlink", name, err)
	}
	return target, nil
}

// Link creates a hard link to oldname
func (s *OSStore) Link(oldname, newname string) error {
	oldname, newname = cleanPath(oldname), cleanPath(newname)
	realOld, err := s.realPath("link", oldname)
	if err != nil {
		return err
	}
	realNew, err := s.realPath("link", newname)
	if err != nil {
		return err
	}
	return unjail("link", newname, unix.Link(realOld, realNew))
}

// Mknod creates a fifo, socket or device node
func (s *OSStore) Mknod(name string, mode os.FileMode, dev uint64) error {
	name = cleanPath(name)
	rp, err := s.realPath("mknod", name)
	if err != nil {
		return err
	}
	if mode&os.ModeNamedPipe != 0 {
		return unjail("mknod", name, unix.Mkfifo(rp, uint32(mode.Perm())))
	}
	return unjail("mknod", name, unix.Mknod(rp, toUnixMode(mode), int(dev)))
}

// SetAttr writes the fields selected by mask. Ownership is written first so
// a later chmod can restore setuid/setgid bits the kernel clears on chown.
// ctime cannot be set on a real filesystem and AttrCtime is ignored.
func (s *OSStore) SetAttr(priv Privilege, name string, attrs Attributes, mask AttrMask) error {
	name = cleanPath(name)
	rp, err := s.realPath("setattr", name)
	if err != nil {
		return err
	}

	var st unix.Stat_t
	if err := unix.Lstat(rp, &st); err != nil {
		return unjail("setattr", name, err)
	}
	cur := attrsFromStat(&st)

	if mask&AttrOwner != 0 {
		uid, gid := -1, -1
		if mask&AttrUID != 0 {
			uid = int(attrs.Uid)
		}
		if mask&AttrGID != 0 {
			gid = int(attrs.Gid)
		}
		if err := unix.Lchown(rp, uid, gid); err != nil {
			return unjail("chown", name, err)
		}
	}

	if mask&AttrMode != 0 && cur.Mode&os.ModeSymlink == 0 {
		if err := unix.Chmod(rp, toUnixMode(attrs.Mode&validModes)); err != nil {
			return unjail("chmod", name, err)
		}
	}

	if mask&AttrTimes != 0 {
		ts := []unix.Timespec{
			{Nsec: unix.UTIME_OMIT},
			{Nsec: unix.UTIME_OMIT},
		}
		if mask&AttrAtime != 0 {
			ts[0] = unix.NsecToTimespec(attrs.Atime.UnixNano())
		}
		if mask&AttrMtime != 0 {
			ts[1] = unix.NsecToTimespec(attrs.Mtime.UnixNano())
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, rp, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return unjail("chtimes", name, err)
		}
	}
	return nil
}

// toUnixMode converts a Go file mode into st_mode bits
func toUnixMode(mode os.FileMode) uint32 {
	m := uint32(mode.Perm())
	switch {
	case mode&os.ModeDir != 0:
		m |= unix.S_IFDIR
	case mode&os.ModeSymlink != 0:
		m |= unix.S_IFLNK
	case mode&os.ModeNamedPipe != 0:
		m |= unix.S_IFIFO
	case mode&os.ModeSocket != 0:
		m |= unix.S_IFSOCK
	case mode&os.ModeDevice != 0:
		if mode&os.ModeCharDevice != 0 {
			m |= unix.S_IFCHR
		} else {
			m |= unix.S_IFBLK
		}
	}
	if mode&os.ModeSetuid != 0 {
		m |= unix.S_ISUID
	}
	if mode&os.ModeSetgid != 0 {
		m |= unix.S_ISGID
	}
	if mode&os.ModeSticky != 0 {
		m |= unix.S_ISVTX
	}
	return m
}

// fromUnixMode converts st_mode bits into a Go file mode
func fromUnixMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0777)
	switch m & unix.S_IFMT {
	case unix.S_IFDIR:
		mode |= os.ModeDir
	case unix.S_IFLNK:
		mode |= os.ModeSymlink
	case unix.S_IFIFO:
		mode |= os.ModeNamedPipe
	case unix.S_IFSOCK:
		mode |= os.ModeSocket
	case unix.S_IFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	case unix.S_IFBLK:
		mode |= os.ModeDevice
	}
	if m&unix.S_ISUID != 0 {
		mode |= os.ModeSetuid
	}
	if m&unix.S_ISGID != 0 {
		mode |= os.ModeSetgid
	}
	if m&unix.S_ISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}
