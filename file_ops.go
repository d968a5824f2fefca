package unionfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"
)

// createEntry runs the protocol shared by every operation that adds a name:
// the name must be free in the merged view and its parent a merged
// directory; the parent chain is materialized on the read-write branch and
// a whiteout left by an earlier deletion is removed before create runs.
func (u *Union) createEntry(name string, forceOwner bool, create func() error) error {
	res, err := u.resolve(name, false)
	if err != nil {
		return err
	}
	if res.loc != NotFound {
		return EEXIST
	}
	if err := checkName(name); err != nil {
		return err
	}

	dir := path.Dir(name)
	parent, err := u.mustExist(dir, false)
	if err != nil {
		return err
	}
	if err := requireDir(parent.attrs); err != nil {
		return err
	}
	if err := u.findPath(dir); err != nil {
		return err
	}

	hadWhiteout, err := u.removeWhiteout(name)
	if err != nil {
		return err
	}
	// A shadow without a visible entry is an orphan and must not leak onto
	// the new one.
	if _, _, err := u.removeShadow(name); err != nil {
		if hadWhiteout {
			u.restoreWhiteout(name)
		}
		return err
	}

	if err := create(); err != nil {
		if hadWhiteout {
			u.restoreWhiteout(name)
		}
		return err
	}

	if forceOwner && u.creator != nil {
		attrs := Attributes{Uid: u.creator.uid, Gid: u.creator.gid}
		if err := u.rw.SetAttr(AsRoot, name, attrs, AttrOwner); err != nil {
			if rerr := u.rw.Remove(name); rerr != nil {
				u.log.WithField("path", name).WithError(rerr).Warn("[create] could not remove entry after chown failed")
			}
			if hadWhiteout {
				u.restoreWhiteout(name)
			}
			return err
		}
	}

	u.cache.invalidateTree(name)
	return nil
}

// Open opens a file for reading
func (u *Union) Open(name string) (*File, error) {
	return u.OpenFile(name, os.O_RDONLY, 0)
}

// Create creates or truncates a file
func (u *Union) Create(name string) (*File, error) {
	return u.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

// OpenFile opens name with the given flags. Opening a read-only file for
// writing copies it up first; O_CREATE on a missing name creates it on the
// read-write branch.
func (u *Union) OpenFile(name string, flag int, perm os.FileMode) (*File, error) {
	name = cleanPath(name)
	f, err := u.openFile(name, flag, perm)
	if err != nil {
		return nil, pathErr("open", name, err)
	}
	return f, nil
}

func isWriteFlag(flag int) bool {
	return flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_TRUNC) != 0
}

func (u *Union) openFile(name string, flag int, perm os.FileMode) (*File, error) {
	target, err := u.followSymlinks(name)
	if err != nil {
		return nil, err
	}

	res, err := u.resolve(target, false)
	if err != nil {
		return nil, err
	}
	if res.loc == NotFound {
		if flag&os.O_CREATE == 0 {
			return nil, ENOENT
		}
		err := u.createEntry(target, true, func() error {
			return createEmpty(u.rw, target, perm&validModes)
		})
		if err != nil {
			return nil, err
		}
		u.log.WithField("path", target).Debug("[create] file created")
		f, err := u.rw.OpenFile(target, flag&^(os.O_CREATE|os.O_EXCL), 0)
		if err != nil {
			return nil, err
		}
		return newFile(u, target, f, flag), nil
	}

	if flag&(os.O_CREATE|os.O_EXCL) == os.O_CREATE|os.O_EXCL {
		return nil, EEXIST
	}
	if res.attrs.Mode.IsDir() {
		if isWriteFlag(flag) {
			return nil, EISDIR
		}
		d, err := u.openDir(res)
		if err != nil {
			return nil, err
		}
		return newDirFile(u, target, d), nil
	}

	if isWriteFlag(flag) && res.loc == ReadOnly {
		if res, err = u.mustExist(target, true); err != nil {
			return nil, err
		}
	}
	f, err := u.store(res.loc).OpenFile(res.path, flag&^(os.O_CREATE|os.O_EXCL), 0)
	if err != nil {
		u.undoCopyUp(res)
		return nil, err
	}
	if isWriteFlag(flag) {
		u.cache.invalidate(target)
	}
	return newFile(u, target, f, flag), nil
}

// Mkdir creates a directory. When a whited-out read-only directory of the
// same name still exists, its contents stay hidden under the new one.
func (u *Union) Mkdir(name string, perm os.FileMode) error {
	name = cleanPath(name)
	err := u.createEntry(name, true, func() error {
		return u.rw.Mkdir(name, perm&validModes)
	})
	if err != nil {
		return pathErr("mkdir", name, err)
	}
	if err := u.hideDirectoryContents(name); err != nil {
		u.rollbackMkdir(name)
		return pathErr("mkdir", name, err)
	}
	u.log.WithField("path", name).Debug("[mkdir] directory created")
	return nil
}

// hideDirectoryContents whites out every entry of the read-only directory
// name that the read-write directory of the same name does not hold.
func (u *Union) hideDirectoryContents(name string) error {
	attrs, err := u.ro.Lstat(name)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return err
	}
	if !attrs.Mode.IsDir() {
		return nil
	}
	raw, err := u.ro.ReadDir(name)
	if err != nil {
		return err
	}
	for _, e := range raw {
		if IsSpecial(e.Name) {
			continue
		}
		child := path.Join(name, e.Name)
		if ok, err := lexists(u.rw, child); err != nil || ok {
			if err != nil {
				return err
			}
			continue
		}
		wh, err := whiteoutPath(child)
		if err != nil {
			return err
		}
		if err := createEmpty(u.rw, wh, 0444); err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
	}
	u.cache.invalidateTree(name)
	return nil
}

// rollbackMkdir undoes a Mkdir whose read-only contents could not be hidden.
func (u *Union) rollbackMkdir(name string) {
	log := u.log.WithField("path", name)
	if _, err := u.purgeMarkers(name); err != nil {
		log.WithError(err).Warn("[mkdir] could not purge markers during rollback")
	}
	if err := u.rw.Remove(name); err != nil {
		log.WithError(err).Warn("[mkdir] could not remove directory during rollback")
		return
	}
	if twin, err := u.roTwin(name); err == nil && twin {
		u.restoreWhiteout(name)
	}
	u.cache.invalidateTree(name)
}

// MkdirAll creates a directory and all missing parents
func (u *Union) MkdirAll(name string, perm os.FileMode) error {
	name = cleanPath(name)
	cur := "/"
	for _, c := range splitComponents(name) {
		cur = path.Join(cur, c)
		attrs, err := u.mergedAttrs(cur)
		if err == nil {
			if !attrs.Mode.IsDir() {
				return pathErr("mkdir", cur, ENOTDIR)
			}
			continue
		}
		if !isNotExist(err) {
			return pathErr("mkdir", cur, err)
		}
		if err := u.Mkdir(cur, perm); err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
	}
	return nil
}

// Mknod creates a fifo, socket, device node or empty regular file
func (u *Union) Mknod(name string, mode os.FileMode, dev uint64) error {
	name = cleanPath(name)
	if mode&(os.ModeDir|os.ModeSymlink) != 0 {
		return pathErr("mknod", name, EINVAL)
	}
	err := u.createEntry(name, true, func() error {
		if mode.Type() == 0 {
			return createEmpty(u.rw, name, mode&validModes)
		}
		return u.rw.Mknod(name, mode, dev)
	})
	if err != nil {
		return pathErr("mknod", name, err)
	}
	return nil
}

// Link creates newname as a hard link to oldname. A read-only origin is
// copied up first so both names share the read-write inode.
func (u *Union) Link(oldname, newname string) error {
	oldname, newname = cleanPath(oldname), cleanPath(newname)
	res, err := u.mustExist(oldname, false)
	if err != nil {
		return pathErr("link", oldname, err)
	}
	if res.attrs.Mode.IsDir() {
		return pathErr("link", oldname, EPERM)
	}
	err = u.createEntry(newname, false, func() error {
		src, err := u.mustExist(oldname, true)
		if err != nil {
			return err
		}
		if err := u.rw.Link(src.path, newname); err != nil {
			u.undoCopyUp(src)
			return err
		}
		u.cache.invalidate(oldname)
		return nil
	})
	if err != nil {
		return pathErr("link", newname, err)
	}
	return nil
}

// Rename moves oldname to newname. Read-only files are copied up first.
// Directories that exist on the read-only branch cannot be moved and fail
// with EXDEV.
func (u *Union) Rename(oldname, newname string) error {
	oldname, newname = cleanPath(oldname), cleanPath(newname)
	if err := u.rename(oldname, newname); err != nil {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: unwrapPathErr(err)}
	}
	return nil
}

func (u *Union) rename(oldname, newname string) error {
	if oldname == "/" || newname == "/" {
		return EBUSY
	}
	if err := checkName(newname); err != nil {
		return err
	}
	src, err := u.mustExist(oldname, false)
	if err != nil {
		return err
	}
	if oldname == newname {
		return nil
	}
	srcDir := src.attrs.Mode.IsDir()
	if srcDir {
		if src.loc == ReadOnly {
			return EXDEV
		}
		if merged, err := u.roDir(oldname); err != nil || merged {
			if err != nil {
				return err
			}
			return EXDEV
		}
		if strings.HasPrefix(newname, oldname+"/") {
			return EINVAL
		}
	}

	dst, err := u.resolve(newname, false)
	if err != nil {
		return err
	}
	if dst.loc == NotFound {
		parent, err := u.mustExist(path.Dir(newname), false)
		if err != nil {
			return err
		}
		if err := requireDir(parent.attrs); err != nil {
			return err
		}
	} else {
		dstDir := dst.attrs.Mode.IsDir()
		switch {
		case dstDir && !srcDir:
			return EISDIR
		case !dstDir && srcDir:
			return ENOTDIR
		case dstDir:
			empty, err := u.isEmptyDir(dst)
			if err != nil {
				return err
			}
			if !empty {
				return ENOTEMPTY
			}
		}
	}

	if src.loc == ReadOnly {
		if src, err = u.mustExist(oldname, true); err != nil {
			return err
		}
	}
	fail := func(err error) error {
		u.undoCopyUp(src)
		return err
	}
	if err := u.findPath(path.Dir(newname)); err != nil {
		return fail(err)
	}

	// Clear the destination: its shadow, a stale whiteout, and the markers
	// of an empty read-write directory about to be replaced.
	dstShadow, hadShadow, err := u.removeShadow(newname)
	if err != nil {
		return fail(err)
	}
	hadWhiteout, err := u.removeWhiteout(newname)
	if err != nil {
		if hadShadow {
			u.restoreShadow(newname, dstShadow)
		}
		return fail(err)
	}
	var purged []marker
	if dst.loc.OnReadWrite() && dst.attrs.Mode.IsDir() {
		purged, err = u.purgeMarkers(newname)
	}
	restoreDst := func() {
		u.restoreMarkers(purged)
		if hadWhiteout {
			u.restoreWhiteout(newname)
		}
		if hadShadow {
			u.restoreShadow(newname, dstShadow)
		}
	}
	if err != nil {
		restoreDst()
		return fail(err)
	}

	twin, err := u.roTwin(oldname)
	if err != nil {
		restoreDst()
		return fail(err)
	}
	var wh string
	if twin {
		if wh, err = u.createWhiteout(oldname); err != nil {
			restoreDst()
			return fail(err)
		}
	}

	if err := u.rw.Rename(oldname, newname); err != nil {
		if twin {
			u.dropWhiteout(oldname, wh)
		}
		restoreDst()
		return fail(err)
	}

	if srcDir {
		if err := u.hideDirectoryContents(newname); err != nil {
			if rerr := u.rw.Rename(newname, oldname); rerr != nil {
				u.log.WithField("path", newname).WithError(rerr).Warn("[rename] could not move directory back")
			} else if twin {
				u.dropWhiteout(oldname, wh)
			}
			restoreDst()
			return err
		}
	}

	u.cache.invalidateTree(oldname)
	u.cache.invalidateTree(newname)
	u.log.WithField("old", oldname).WithField("new", newname).Debug("[rename] done")
	return nil
}

// unwrapPathErr strips an *os.PathError so the errno can be rewrapped.
func unwrapPathErr(err error) error {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}

// SetAttr writes the attributes selected by mask. Read-write entries are
// changed in place; read-only entries get the change in their shadow.
func (u *Union) SetAttr(name string, attrs Attributes, mask AttrMask) error {
	name = cleanPath(name)
	if err := u.setAttr(name, attrs, mask); err != nil {
		return pathErr("setattr", name, err)
	}
	return nil
}

func (u *Union) setAttr(name string, attrs Attributes, mask AttrMask) error {
	res, err := u.mustExist(name, false)
	if err != nil {
		return err
	}
	defer u.cache.invalidate(name)
	if res.loc == ReadOnly {
		return u.applyShadowChange(name, res.path, attrs, mask)
	}
	if res.attrs.Mode&os.ModeSymlink != 0 {
		mask &^= AttrMode
	}
	return u.rw.SetAttr(AsRoot, res.path, attrs, mask)
}

// Chmod changes the mode of the named file, following symlinks
func (u *Union) Chmod(name string, mode os.FileMode) error {
	target, err := u.followSymlinks(cleanPath(name))
	if err != nil {
		return pathErr("chmod", name, err)
	}
	if err := u.setAttr(target, Attributes{Mode: mode}, AttrMode); err != nil {
		return pathErr("chmod", name, err)
	}
	return nil
}

// ownerMask builds the mask for a chown where -1 keeps a field.
func ownerMask(uid, gid int) (Attributes, AttrMask) {
	var attrs Attributes
	var mask AttrMask
	if uid != -1 {
		attrs.Uid = uint32(uid)
		mask |= AttrUID
	}
	if gid != -1 {
		attrs.Gid = uint32(gid)
		mask |= AttrGID
	}
	return attrs, mask
}

// Chown changes the owner of the named file, following symlinks. An id of
// -1 leaves that field unchanged.
func (u *Union) Chown(name string, uid, gid int) error {
	target, err := u.followSymlinks(cleanPath(name))
	if err != nil {
		return pathErr("chown", name, err)
	}
	attrs, mask := ownerMask(uid, gid)
	if err := u.setAttr(target, attrs, mask); err != nil {
		return pathErr("chown", name, err)
	}
	return nil
}

// Chtimes changes the access and modification times, following symlinks
func (u *Union) Chtimes(name string, atime, mtime time.Time) error {
	target, err := u.followSymlinks(cleanPath(name))
	if err != nil {
		return pathErr("chtimes", name, err)
	}
	attrs := Attributes{Atime: atime, Mtime: mtime}
	if err := u.setAttr(target, attrs, AttrTimes); err != nil {
		return pathErr("chtimes", name, err)
	}
	return nil
}

// Truncate changes the size of the named file, copying it up first
func (u *Union) Truncate(name string, size int64) error {
	name = cleanPath(name)
	if err := u.truncate(name, size); err != nil {
		return pathErr("truncate", name, err)
	}
	return nil
}

func (u *Union) truncate(name string, size int64) error {
	if size < 0 {
		return EINVAL
	}
	target, err := u.followSymlinks(name)
	if err != nil {
		return err
	}
	res, err := u.mustExist(target, false)
	if err != nil {
		return err
	}
	if res.attrs.Mode.IsDir() {
		return EISDIR
	}
	if !res.attrs.Mode.IsRegular() {
		return EINVAL
	}
	if res, err = u.mustExist(target, true); err != nil {
		return err
	}
	f, err := u.rw.OpenFile(res.path, os.O_WRONLY, 0)
	if err == nil {
		err = f.Truncate(size)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		u.undoCopyUp(res)
		return err
	}
	u.cache.invalidate(target)
	return nil
}

// Stat returns merged file info, following symlinks
func (u *Union) Stat(name string) (os.FileInfo, error) {
	name = cleanPath(name)
	target, err := u.followSymlinks(name)
	if err != nil {
		return nil, pathErr("stat", name, err)
	}
	attrs, err := u.mergedAttrs(target)
	if err != nil {
		return nil, pathErr("stat", name, err)
	}
	return newFileInfo(baseName(name), attrs), nil
}

// Lstat returns merged file info without following symlinks
func (u *Union) Lstat(name string) (os.FileInfo, error) {
	name = cleanPath(name)
	attrs, err := u.mergedAttrs(name)
	if err != nil {
		return nil, pathErr("lstat", name, err)
	}
	return newFileInfo(baseName(name), attrs), nil
}

func baseName(name string) string {
	if name == "/" {
		return "/"
	}
	return path.Base(name)
}

// ReadDir reads the merged directory name and returns its entries sorted
// by file name.
func (u *Union) ReadDir(name string) ([]fs.DirEntry, error) {
	name = cleanPath(name)
	res, err := u.mustExist(name, false)
	if err != nil {
		return nil, pathErr("readdir", name, err)
	}
	entries, err := u.listDir(res)
	if err != nil {
		return nil, pathErr("readdir", name, err)
	}
	out := make([]fs.DirEntry, len(entries))
	for i, e := range entries {
		out[i] = &dirEntry{u: u, dir: name, entry: e}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name() < out[j].Name()
	})
	return out, nil
}

// ReadFile reads the named file and returns its contents
func (u *Union) ReadFile(name string) ([]byte, error) {
	f, err := u.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if f.dir != nil {
		return nil, pathErr("read", cleanPath(name), EISDIR)
	}
	return io.ReadAll(f)
}

// dirEntry adapts a merged entry to fs.DirEntry
type dirEntry struct {
	u     *Union
	dir   string
	entry DirEntry
}

func (e *dirEntry) Name() string      { return e.entry.Name }
func (e *dirEntry) IsDir() bool       { return e.entry.Type.IsDir() }
func (e *dirEntry) Type() fs.FileMode { return e.entry.Type }

func (e *dirEntry) Info() (fs.FileInfo, error) {
	return e.u.Lstat(path.Join(e.dir, e.entry.Name))
}
