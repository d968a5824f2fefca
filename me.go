package unionfs

import (
	"path"
	"time"
)

// FindShadow returns the attributes recorded by the metadata shadow of
// name. A missing shadow is reported as false with a nil error.
func (u *Union) FindShadow(name string) (Attributes, bool, error) {
	name = cleanPath(name)
	attrs, ok, err := u.findShadow(name)
	if err != nil {
		return Attributes{}, false, pathErr("findshadow", name, err)
	}
	return attrs, ok, nil
}

func (u *Union) findShadow(name string) (Attributes, bool, error) {
	sp, err := shadowPath(name)
	if err != nil {
		// The root and over-long names never carry a shadow.
		return Attributes{}, false, nil
	}
	attrs, err := u.rw.Lstat(sp)
	if err != nil {
		if isNotExist(err) {
			return Attributes{}, false, nil
		}
		return Attributes{}, false, err
	}
	return attrs, true, nil
}

// CreateShadow records attrs as the metadata of the read-only entry name.
// Only ownership, times and the mode bits in validModes are kept.
func (u *Union) CreateShadow(name string, attrs Attributes) error {
	name = cleanPath(name)
	if err := u.createShadow(name, attrs); err != nil {
		return pathErr("mkshadow", name, err)
	}
	return nil
}

func (u *Union) createShadow(name string, attrs Attributes) error {
	sp, err := shadowPath(name)
	if err != nil {
		return err
	}
	if err := u.findPath(path.Dir(name)); err != nil {
		return err
	}
	if err := createEmpty(u.rw, sp, attrs.Mode&validModes); err != nil {
		return err
	}
	if err := u.rw.SetAttr(AsRoot, sp, attrs, AttrAll); err != nil {
		if rerr := u.rw.Remove(sp); rerr != nil {
			u.log.WithField("path", name).WithError(rerr).Warn("[me] could not remove half-created shadow")
		}
		return err
	}
	u.log.WithField("path", name).Debug("[me] shadow created")
	return nil
}

// removeShadow deletes the shadow of name. It reports whether one existed
// and what it held.
func (u *Union) removeShadow(name string) (Attributes, bool, error) {
	attrs, found, err := u.findShadow(name)
	if err != nil || !found {
		return attrs, false, err
	}
	sp, _ := shadowPath(name)
	if err := u.rw.Remove(sp); err != nil {
		if isNotExist(err) {
			return attrs, false, nil
		}
		return attrs, false, err
	}
	u.log.WithField("path", name).Debug("[me] shadow removed")
	return attrs, true, nil
}

// ReadMergedAttributes returns the attributes of name as the union presents
// them: read-only entries get owner, times and mode bits from their shadow.
func (u *Union) ReadMergedAttributes(name string) (Attributes, error) {
	name = cleanPath(name)
	attrs, err := u.mergedAttrs(name)
	if err != nil {
		return Attributes{}, pathErr("lstat", name, err)
	}
	return attrs, nil
}

func (u *Union) mergedAttrs(name string) (Attributes, error) {
	res, err := u.mustExist(name, false)
	if err != nil {
		return Attributes{}, err
	}
	return u.merge(res)
}

// merge applies the shadow of a read-only resolution and sets the union inode.
func (u *Union) merge(res resolution) (Attributes, error) {
	attrs := res.attrs
	if res.loc == ReadOnly {
		shadow, found, err := u.findShadow(res.path)
		if err != nil {
			return Attributes{}, err
		}
		if found {
			attrs = overlayShadow(attrs, shadow)
		}
	}
	attrs.Ino = InodeNumber(res.path)
	return attrs, nil
}

// overlayShadow takes ownership, times and valid mode bits from shadow.
// Type bits always come from the real entry.
func overlayShadow(attrs, shadow Attributes) Attributes {
	attrs.Uid = shadow.Uid
	attrs.Gid = shadow.Gid
	attrs.Atime = shadow.Atime
	attrs.Mtime = shadow.Mtime
	attrs.Ctime = shadow.Ctime
	attrs.Mode = attrs.Mode&^validModes | shadow.Mode&validModes
	return attrs
}

// applyMask copies the fields of src selected by mask into dst.
func applyMask(dst, src Attributes, mask AttrMask) Attributes {
	if mask&AttrMode != 0 {
		dst.Mode = dst.Mode&^validModes | src.Mode&validModes
	}
	if mask&AttrUID != 0 {
		dst.Uid = src.Uid
	}
	if mask&AttrGID != 0 {
		dst.Gid = src.Gid
	}
	if mask&AttrAtime != 0 {
		dst.Atime = src.Atime
	}
	if mask&AttrMtime != 0 {
		dst.Mtime = src.Mtime
	}
	if mask&AttrCtime != 0 {
		dst.Ctime = src.Ctime
	}
	return dst
}

// ApplyShadowChange records a metadata change on the read-only entry name
// whose real file lives at realPath on the read-only branch. Without a
// shadow one is seeded from the real file; otherwise only the fields in
// mask are written. An empty mask changes nothing.
func (u *Union) ApplyShadowChange(name, realPath string, req Attributes, mask AttrMask) error {
	name = cleanPath(name)
	if err := u.applyShadowChange(name, cleanPath(realPath), req, mask); err != nil {
		return pathErr("setattr", name, err)
	}
	return nil
}

func (u *Union) applyShadowChange(name, realPath string, req Attributes, mask AttrMask) error {
	if mask == 0 {
		return nil
	}
	sp, err := shadowPath(name)
	if err != nil {
		return err
	}
	exists, err := lexists(u.rw, sp)
	if err != nil {
		return err
	}
	if exists {
		return u.rw.SetAttr(AsRoot, sp, req, mask)
	}

	seed, err := u.ro.Lstat(realPath)
	if err != nil {
		return err
	}
	if mask&AttrCtime == 0 {
		seed.Ctime = time.Now()
	}
	return u.createShadow(name, applyMask(seed, req, mask))
}
