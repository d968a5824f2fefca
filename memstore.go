package unionfs

import (
	"os"
	"path"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/afero"
)

// memInode carries what afero's memory filesystem does not track.
type memInode struct {
	uid    uint32
	gid    uint32
	atime  time.Time
	ctime  time.Time
	typ    os.FileMode
	rdev   uint64
	target string
}

// MemStore is an in-memory branch. File content and the directory tree live
// in an afero.MemMapFs; ownership, atime, ctime, symlinks and device nodes
// live in a side table keyed by path.
type MemStore struct {
	mu    sync.Mutex
	fs    afero.Fs
	nodes map[string]*memInode
	uid   uint32
	gid   uint32
	now   func() time.Time
}

// NewMemStore creates an empty in-memory branch whose new entries are owned
// by the current process credentials.
func NewMemStore() *MemStore {
	return NewMemStoreAs(uint32(os.Geteuid()), uint32(os.Getegid()))
}

// NewMemStoreAs creates an empty in-memory branch whose new entries are
// owned by uid and gid.
func NewMemStoreAs(uid, gid uint32) *MemStore {
	s := &MemStore{
		fs:    afero.NewMemMapFs(),
		nodes: make(map[string]*memInode),
		uid:   uid,
		gid:   gid,
		now:   time.Now,
	}
	now := s.now()
	s.nodes["/"] = &memInode{uid: uid, gid: gid, atime: now, ctime: now}
	return s
}

// Fs exposes the backing afero filesystem, mainly for seeding fixtures.
func (s *MemStore) Fs() afero.Fs {
	return s.fs
}

func (s *MemStore) node(name string) *memInode {
	n, ok := s.nodes[name]
	if !ok {
		// Entries written straight through Fs() get default metadata.
		now := s.now()
		n = &memInode{uid: s.uid, gid: s.gid, atime: now, ctime: now}
		s.nodes[name] = n
	}
	return n
}

func (s *MemStore) newNode(name string, typ os.FileMode) *memInode {
	now := s.now()
	n := &memInode{uid: s.uid, gid: s.gid, atime: now, ctime: now, typ: typ}
	s.nodes[name] = n
	return n
}

func (s *MemStore) lstat(name string) (Attributes, error) {
	fi, err := s.fs.Stat(name)
	if err != nil {
		return Attributes{}, &os.PathError{Op: "lstat", Path: name, Err: syscall.ENOENT}
	}
	n := s.node(name)
	mode := fi.Mode()
	if n.typ != 0 {
		mode = mode&validModes | n.typ
	}
	a := Attributes{
		Mode:  mode,
		Uid:   n.uid,
		Gid:   n.gid,
		Size:  fi.Size(),
		Nlink: 1,
		Rdev:  n.rdev,
		Atime: n.atime,
		Mtime: fi.ModTime(),
		Ctime: n.ctime,
	}
	if n.typ == os.ModeSymlink {
		a.Size = int64(len(n.target))
	}
	if fi.IsDir() {
		a.Size = 0
		a.Nlink = 2
	}
	return a, nil
}

// checkParent fails unless the parent of name is an existing directory.
// afero's MemMapFs silently creates missing parents, a real branch does not.
func (s *MemStore) checkParent(op, name string) error {
	if name == "/" {
		return nil
	}
	fi, err := s.fs.Stat(path.Dir(name))
	if err != nil {
		return &os.PathError{Op: op, Path: name, Err: syscall.ENOENT}
	}
	if !fi.IsDir() {
		return &os.PathError{Op: op, Path: name, Err: syscall.ENOTDIR}
	}
	return nil
}

func (s *MemStore) exists(name string) bool {
	_, err := s.fs.Stat(name)
	return err == nil
}

// Lstat returns the attributes of name without following symlinks
func (s *MemStore) Lstat(name string) (Attributes, error) {
	name = cleanPath(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lstat(name)
}

// ReadDir lists the raw entries of a directory in name order
func (s *MemStore) ReadDir(name string) ([]RawEntry, error) {
	name = cleanPath(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.lstat(name)
	if err != nil {
		return nil, err
	}
	if !a.Mode.IsDir() {
		return nil, &os.PathError{Op: "readdir", Path: name, Err: syscall.ENOTDIR}
	}
	infos, err := afero.ReadDir(s.fs, name)
	if err != nil {
		return nil, err
	}
	entries := make([]RawEntry, 0, len(infos))
	for _, fi := range infos {
		typ := fi.Mode().Type()
		if n, ok := s.nodes[path.Join(name, fi.Name())]; ok && n.typ != 0 {
			typ = n.typ
		}
		entries = append(entries, RawEntry{Name: fi.Name(), Type: typ})
	}
	return entries, nil
}

// OpenFile opens a regular file or directory for I/O
func (s *MemStore) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	name = cleanPath(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	exists := s.exists(name)
	if exists {
		if flag&(os.O_CREATE|os.O_EXCL) == os.O_CREATE|os.O_EXCL {
			return nil, &os.PathError{Op: "open", Path: name, Err: syscall.EEXIST}
		}
		if n, ok := s.nodes[name]; ok && n.typ != 0 {
			if n.typ == os.ModeSymlink {
				return nil, &os.PathError{Op: "open", Path: name, Err: syscall.ELOOP}
			}
			return nil, &os.PathError{Op: "open", Path: name, Err: syscall.ENOTSUP}
		}
	} else {
		if flag&os.O_CREATE == 0 {
			return nil, &os.PathError{Op: "open", Path: name, Err: syscall.ENOENT}
		}
		if err := s.checkParent("open", name); err != nil {
			return nil, err
		}
	}

	f, err := s.fs.OpenFile(name, flag, perm&validModes)
	if err != nil {
		return nil, err
	}
	if !exists {
		s.newNode(name, 0)
	}
	return f, nil
}

// Mkdir creates a directory whose parent must already exist
func (s *MemStore) Mkdir(name string, perm os.FileMode) error {
	name = cleanPath(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exists(name) {
		return &os.PathError{Op: "mkdir", Path: name, Err: syscall.EEXIST}
	}
	if err := s.checkParent("mkdir", name); err != nil {
		return err
	}
	if err := s.fs.Mkdir(name, perm.Perm()); err != nil {
		return err
	}
	s.newNode(name, 0)
	return nil
}

// Remove unlinks a file or removes an empty directory
func (s *MemStore) Remove(name string) error {
	name = cleanPath(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	fi, err := s.fs.Stat(name)
	if err != nil {
		return &os.PathError{Op: "remove", Path: name, Err: syscall.ENOENT}
	}
	if fi.IsDir() {
		if name == "/" {
			return &os.PathError{Op: "remove", Path: name, Err: syscall.EBUSY}
		}
		children, err := afero.ReadDir(s.fs, name)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return &os.PathError{Op: "remove", Path: name, Err: syscall.ENOTEMPTY}
		}
	}
	if err := s.fs.Remove(name); err != nil {
		return err
	}
	delete(s.nodes, name)
	return nil
}

// Rename moves oldname to newname, replacing a file or empty directory there
func (s *MemStore) Rename(oldname, newname string) error {
	oldname, newname = cleanPath(oldname), cleanPath(newname)
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.fs.Stat(oldname)
	if err != nil {
		return &os.PathError{Op: "rename", Path: oldname, Err: syscall.ENOENT}
	}
	if oldname == newname {
		return nil
	}
	if strings.HasPrefix(newname, oldname+"/") {
		return &os.PathError{Op: "rename", Path: newname, Err: syscall.EINVAL}
	}
	if err := s.checkParent("rename", newname); err != nil {
		return err
	}
	if dst, err := s.fs.Stat(newname); err == nil {
		switch {
		case dst.IsDir() && !src.IsDir():
			return &os.PathError{Op: "rename", Path: newname, Err: syscall.EISDIR}
		case !dst.IsDir() && src.IsDir():
			return &os.PathError{Op: "rename", Path: newname, Err: syscall.ENOTDIR}
		case dst.IsDir():
			children, err := afero.ReadDir(s.fs, newname)
			if err != nil {
				return err
			}
			if len(children) > 0 {
				return &os.PathError{Op: "rename", Path: newname, Err: syscall.ENOTEMPTY}
			}
		}
		if err := s.fs.Remove(newname); err != nil {
			return err
		}
		delete(s.nodes, newname)
	}
	return s.move(oldname, newname, src)
}

// move relocates a subtree entry by entry; MemMapFs only renames single keys.
func (s *MemStore) move(oldname, newname string, fi os.FileInfo) error {
	if !fi.IsDir() {
		if err := s.fs.Rename(oldname, newname); err != nil {
			return err
		}
		if n, ok := s.nodes[oldname]; ok {
			s.nodes[newname] = n
			delete(s.nodes, oldname)
		}
		return nil
	}

	if err := s.fs.Mkdir(newname, fi.Mode().Perm()); err != nil {
		return err
	}
	if err := s.fs.Chtimes(newname, fi.ModTime(), fi.ModTime()); err != nil {
		return err
	}
	children, err := afero.ReadDir(s.fs, oldname)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.move(path.Join(oldname, child.Name()), path.Join(newname, child.Name()), child); err != nil {
			return err
		}
	}
	if err := s.fs.Remove(oldname); err != nil {
		return err
	}
	if n, ok := s.nodes[oldname]; ok {
		s.nodes[newname] = n
		delete(s.nodes, oldname)
	}
	return nil
}

// Symlink creates name pointing at target
func (s *MemStore) Symlink(target, name string) error {
	name = cleanPath(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mknode("symlink", name, 0777); err != nil {
		return err
	}
	n := s.newNode(name, os.ModeSymlink)
	n.target = target
	return nil
}

// Readlink returns the target of a symlink
func (s *MemStore) Readlink(name string) (string, error) {
	name = cleanPath(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.exists(name) {
		return "", &os.PathError{Op: "readlink", Path: name, Err: syscall.ENOENT}
	}
	n, ok := s.nodes[name]
	if !ok || n.typ != os.ModeSymlink {
		return "", &os.PathError{Op: "readlink", Path: name, Err: syscall.EINVAL}
	}
	return n.target, nil
}

// Link is not supported in memory: there is no shared inode to point at.
func (s *MemStore) Link(oldname, newname string) error {
	return &os.PathError{Op: "link", Path: cleanPath(newname), Err: syscall.ENOTSUP}
}

// Mknod creates a fifo, socket or device node
func (s *MemStore) Mknod(name string, mode os.FileMode, dev uint64) error {
	name = cleanPath(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	typ := mode.Type()
	if typ == 0 || typ&(os.ModeDir|os.ModeSymlink) != 0 {
		return &os.PathError{Op: "mknod", Path: name, Err: syscall.EINVAL}
	}
	if err := s.mknode("mknod", name, mode.Perm()); err != nil {
		return err
	}
	n := s.newNode(name, typ)
	n.rdev = dev
	return nil
}

// mknode creates the placeholder file backing a symlink or special node.
func (s *MemStore) mknode(op, name string, perm os.FileMode) error {
	if s.exists(name) {
		return &os.PathError{Op: op, Path: name, Err: syscall.EEXIST}
	}
	if err := s.checkParent(op, name); err != nil {
		return err
	}
	f, err := s.fs.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	return f.Close()
}

// SetAttr writes the fields selected by mask. Changing ownership to another
// principal requires AsRoot unless the store itself runs as root.
func (s *MemStore) SetAttr(priv Privilege, name string, attrs Attributes, mask AttrMask) error {
	name = cleanPath(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.lstat(name)
	if err != nil {
		return &os.PathError{Op: "setattr", Path: name, Err: syscall.ENOENT}
	}
	n := s.node(name)

	if mask&AttrOwner != 0 && priv != AsRoot && s.uid != 0 {
		if (mask&AttrUID != 0 && attrs.Uid != cur.Uid) || (mask&AttrGID != 0 && attrs.Gid != cur.Gid) {
			return &os.PathError{Op: "chown", Path: name, Err: syscall.EPERM}
		}
	}

	if mask&AttrMode != 0 {
		if err := s.fs.Chmod(name, attrs.Mode&validModes); err != nil {
			return err
		}
	}
	if mask&AttrUID != 0 {
		n.uid = attrs.Uid
	}
	if mask&AttrGID != 0 {
		n.gid = attrs.Gid
	}
	if mask&AttrTimes != 0 {
		atime, mtime := cur.Atime, cur.Mtime
		if mask&AttrAtime != 0 {
			atime = attrs.Atime
		}
		if mask&AttrMtime != 0 {
			mtime = attrs.Mtime
		}
		if err := s.fs.Chtimes(name, atime, mtime); err != nil {
			return err
		}
		n.atime = atime
	}
	if mask&AttrCtime != 0 {
		n.ctime = attrs.Ctime
	} else if mask != 0 {
		n.ctime = s.now()
	}
	return nil
}
