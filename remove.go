package unionfs

import (
	"path"
)

// Unlink removes a non-directory from the merged view. A read-only entry
// is hidden by a whiteout; a read-write entry is removed, with a whiteout
// first when a read-only twin would otherwise show through.
func (u *Union) Unlink(name string) error {
	name = cleanPath(name)
	if err := u.unlink(name); err != nil {
		return pathErr("unlink", name, err)
	}
	return nil
}

func (u *Union) unlink(name string) error {
	res, err := u.mustExist(name, false)
	if err != nil {
		return err
	}
	if res.attrs.Mode.IsDir() {
		return EISDIR
	}
	defer u.cache.invalidate(name)

	if res.loc == ReadOnly {
		return u.hideReadOnly(name)
	}

	twin, err := u.roTwin(name)
	if err != nil {
		return err
	}
	var wh string
	if twin {
		if wh, err = u.createWhiteout(name); err != nil {
			return err
		}
	}
	if err := u.rw.Remove(name); err != nil {
		if twin {
			u.dropWhiteout(name, wh)
		}
		return err
	}
	u.log.WithField("path", name).Debug("[unlink] removed from read-write branch")
	return nil
}

// hideReadOnly deletes an entry that only exists on the read-only branch.
// The shadow goes first so it never outlives the entry; if the whiteout
// cannot be written the shadow is put back.
func (u *Union) hideReadOnly(name string) error {
	shadow, hadShadow, err := u.removeShadow(name)
	if err != nil {
		return err
	}
	if _, err := u.createWhiteout(name); err != nil {
		if hadShadow {
			u.restoreShadow(name, shadow)
		}
		return err
	}
	return nil
}

// Rmdir removes an empty directory. Emptiness is judged on the merged view.
func (u *Union) Rmdir(name string) error {
	name = cleanPath(name)
	if err := u.rmdir(name); err != nil {
		return pathErr("rmdir", name, err)
	}
	return nil
}

func (u *Union) rmdir(name string) error {
	if name == "/" {
		return EINVAL
	}
	res, err := u.mustExist(name, false)
	if err != nil {
		return err
	}
	if err := requireDir(res.attrs); err != nil {
		return err
	}
	empty, err := u.isEmptyDir(res)
	if err != nil {
		return err
	}
	if !empty {
		return ENOTEMPTY
	}
	defer u.cache.invalidateTree(name)

	if res.loc == ReadOnly {
		return u.hideReadOnly(name)
	}

	twin, err := u.roTwin(name)
	if err != nil {
		return err
	}
	var wh string
	if twin {
		if wh, err = u.createWhiteout(name); err != nil {
			return err
		}
	}

	purged, err := u.purgeMarkers(name)
	if err == nil {
		err = u.rw.Remove(name)
	}
	if err != nil {
		u.restoreMarkers(purged)
		if twin {
			u.dropWhiteout(name, wh)
		}
		return err
	}
	u.log.WithField("path", name).Debug("[rmdir] removed from read-write branch")
	return nil
}

// marker is a whiteout or shadow removed from a directory about to go away.
type marker struct {
	path  string
	attrs Attributes
}

// purgeMarkers removes every marker file in the read-write directory dir.
// On error the markers removed so far are returned for restoring.
func (u *Union) purgeMarkers(dir string) ([]marker, error) {
	raw, err := u.rw.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var purged []marker
	for _, e := range raw {
		if !IsSpecial(e.Name) {
			continue
		}
		p := path.Join(dir, e.Name)
		attrs, err := u.rw.Lstat(p)
		if err != nil {
			return purged, err
		}
		if err := u.rw.Remove(p); err != nil {
			return purged, err
		}
		purged = append(purged, marker{path: p, attrs: attrs})
	}
	return purged, nil
}

func (u *Union) restoreMarkers(purged []marker) {
	for _, m := range purged {
		err := createEmpty(u.rw, m.path, m.attrs.Mode&validModes)
		if err == nil {
			err = u.rw.SetAttr(AsRoot, m.path, m.attrs, AttrAll)
		}
		if err != nil {
			u.log.WithField("path", m.path).WithError(err).Warn("[rmdir] could not restore marker")
		}
	}
}

// Remove removes a file or an empty directory
func (u *Union) Remove(name string) error {
	name = cleanPath(name)
	res, err := u.mustExist(name, false)
	if err != nil {
		return pathErr("remove", name, err)
	}
	if res.attrs.Mode.IsDir() {
		return u.Rmdir(name)
	}
	return u.Unlink(name)
}

// RemoveAll removes name and everything below it in the merged view. A
// missing path is not an error.
func (u *Union) RemoveAll(name string) error {
	name = cleanPath(name)
	if name == "/" {
		return pathErr("removeall", name, EINVAL)
	}
	res, err := u.resolve(name, false)
	if err != nil {
		return pathErr("removeall", name, err)
	}
	if res.loc == NotFound {
		return nil
	}
	if res.attrs.Mode.IsDir() {
		entries, err := u.listDir(res)
		if err != nil {
			return pathErr("removeall", name, err)
		}
		for _, e := range entries {
			if err := u.RemoveAll(path.Join(name, e.Name)); err != nil {
				return err
			}
		}
	}
	return u.Remove(name)
}
