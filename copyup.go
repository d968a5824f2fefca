package unionfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/google/uuid"
)

// CopyUp promotes the read-only entry name to the read-write branch and
// returns its branch path. Entries already on the read-write branch are
// left alone.
func (u *Union) CopyUp(name string) (string, error) {
	name = cleanPath(name)
	res, err := u.mustExist(name, true)
	if err != nil {
		return "", pathErr("copyup", name, err)
	}
	return res.path, nil
}

// copyUp duplicates a read-only entry onto the read-write branch, folding
// its shadow into the copy. It returns the shadow it consumed, if any.
func (u *Union) copyUp(name string, attrs Attributes) (*Attributes, error) {
	if err := u.findPath(path.Dir(name)); err != nil {
		return nil, err
	}

	shadow, found, err := u.findShadow(name)
	if err != nil {
		return nil, err
	}
	if found {
		attrs = overlayShadow(attrs, shadow)
	}

	log := u.log.WithField("path", name)
	log.Debugf("[copyup] copying %v", attrs.Mode.Type())

	if err := u.duplicate(name, attrs); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	sp, _ := shadowPath(name)
	if err := u.rw.Remove(sp); err != nil && !isNotExist(err) {
		if rerr := u.rw.Remove(name); rerr != nil {
			log.WithError(rerr).Warn("[copyup] could not remove copy after shadow removal failed")
		}
		return nil, err
	}
	return &shadow, nil
}

// duplicate creates the read-write copy of name with attrs.
func (u *Union) duplicate(name string, attrs Attributes) error {
	mask := AttrAll
	var err error
	switch mode := attrs.Mode; {
	case mode.IsRegular():
		return u.copyFile(name, attrs)
	case mode.IsDir():
		err = u.rw.Mkdir(name, mode&validModes)
	case mode&os.ModeSymlink != 0:
		var target string
		target, err = u.ro.Readlink(name)
		if err == nil {
			err = u.rw.Symlink(target, name)
		}
		// Symlink permission bits are not meaningful.
		mask &^= AttrMode
	default:
		err = u.rw.Mknod(name, mode, attrs.Rdev)
	}
	if err != nil {
		return err
	}

	if err := u.transplant(name, attrs, mask); err != nil {
		if rerr := u.rw.Remove(name); rerr != nil {
			u.log.WithField("path", name).WithError(rerr).Warn("[copyup] could not remove partial copy")
		}
		return err
	}
	return nil
}

// copyFile streams a regular file into a staging name next to its final
// location and renames it into place once content and attributes are set.
func (u *Union) copyFile(name string, attrs Attributes) error {
	stage := path.Join(path.Dir(name), copyUpStagingPrefix+uuid.NewString())

	src, err := u.ro.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	dst, err := u.rw.OpenFile(stage, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}

	buf := make([]byte, u.copyBufferSize)
	_, err = io.CopyBuffer(dst, src, buf)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = u.transplant(stage, attrs, AttrAll)
	}
	if err == nil {
		err = u.rw.Rename(stage, name)
	}
	if err != nil {
		if rerr := u.rw.Remove(stage); rerr != nil && !isNotExist(rerr) {
			u.log.WithField("path", name).WithError(rerr).Warn("[copyup] could not remove staging file")
		}
		return err
	}
	return nil
}

// transplant gives a fresh copy the attributes of its original. When the
// branch refuses the ownership change, as it does for an unprivileged
// OSStore, the copy keeps the process owner and loses setuid and setgid.
func (u *Union) transplant(name string, attrs Attributes, mask AttrMask) error {
	err := u.rw.SetAttr(AsRoot, name, attrs, mask)
	if err == nil || mask&AttrOwner == 0 || !errors.Is(err, fs.ErrPermission) {
		return err
	}
	u.log.WithField("path", name).WithError(err).Warnf("[copyup] owner %d:%d not preserved", attrs.Uid, attrs.Gid)
	attrs.Mode &^= os.ModeSetuid | os.ModeSetgid
	return u.rw.SetAttr(AsRoot, name, attrs, mask&^AttrOwner)
}

// findPath makes sure dir exists as a directory on the read-write branch,
// copying read-only ancestors up as needed.
func (u *Union) findPath(dir string) error {
	dir = cleanPath(dir)
	if dir == "/" {
		return nil
	}
	attrs, err := u.rw.Lstat(dir)
	if err == nil {
		return requireDir(attrs)
	}
	if !isNotExist(err) {
		return err
	}

	unlock := u.locks.lock(dir)
	defer unlock()

	res, err := u.lookup(dir)
	switch {
	case err != nil:
		return err
	case res.loc == NotFound:
		return ENOENT
	case !res.attrs.Mode.IsDir():
		return ENOTDIR
	case res.loc.OnReadWrite():
		return nil
	}

	if _, err := u.copyUp(dir, res.attrs); err != nil {
		return err
	}
	if _, err := u.removeWhiteout(dir); err != nil {
		return err
	}
	u.cache.invalidate(dir)
	u.log.WithField("path", dir).Debug("[copyup] directory materialized")
	return nil
}

// undoCopyUp removes a copy-up made for an operation that then failed and
// puts back the shadow the copy-up consumed.
func (u *Union) undoCopyUp(res resolution) {
	if res.loc != ReadWriteCopyup {
		return
	}
	log := u.log.WithField("path", res.path)
	if err := u.rw.Remove(res.path); err != nil {
		log.WithError(err).Warn("[copyup] could not undo copy-up")
		return
	}
	u.cache.invalidate(res.path)
	if res.shadow != nil {
		if err := u.createShadow(res.path, *res.shadow); err != nil {
			log.WithError(err).Warn("[copyup] could not restore shadow after undo")
		}
	}
}
