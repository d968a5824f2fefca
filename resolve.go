package unionfs

import (
	"errors"
	"path"
)

// resolution is the outcome of a lookup.
type resolution struct {
	loc   Location
	path  string     // branch path of the authoritative entry
	attrs Attributes // real attributes on that branch, shadow not applied
	// shadow holds the metadata shadow a copy-up consumed, so a failed
	// caller can put it back.
	shadow *Attributes
}

// Resolve decides which branch is authoritative for name and returns the
// branch path. With wantWrite, a read-only entry is first copied up and
// ReadWriteCopyup is returned. NotFound is an outcome, not an error.
func (u *Union) Resolve(name string, wantWrite bool) (Location, string, error) {
	name = cleanPath(name)
	res, err := u.resolve(name, wantWrite)
	if err != nil {
		return NotFound, "", pathErr("resolve", name, err)
	}
	if res.loc == NotFound {
		return NotFound, "", nil
	}
	return res.loc, res.path, nil
}

func (u *Union) resolve(name string, wantWrite bool) (resolution, error) {
	name = cleanPath(name)
	if len(name) > maxPathLen {
		return resolution{}, ENAMETOOLONG
	}
	if hasSpecialComponent(name) {
		return resolution{loc: NotFound, path: name}, nil
	}

	if !wantWrite {
		if loc, attrs, ok := u.cache.getStat(name); ok {
			return resolution{loc: loc, path: name, attrs: attrs}, nil
		}
		if u.cache.isNegative(name) {
			return resolution{loc: NotFound, path: name}, nil
		}
	}

	res, err := u.lookup(name)
	if err != nil {
		return resolution{}, err
	}
	if res.loc == ReadOnly && wantWrite {
		return u.copyUpLocked(name)
	}
	if res.loc == NotFound {
		u.cache.putNegative(name)
	} else {
		u.cache.putStat(name, res.loc, res.attrs)
	}
	return res, nil
}

// lookup performs an uncached resolution without copy-up.
func (u *Union) lookup(name string) (resolution, error) {
	attrs, err := u.rw.Lstat(name)
	switch {
	case err == nil:
		return resolution{loc: ReadWrite, path: name, attrs: attrs}, nil
	case errors.Is(err, ENOTDIR):
		// An ancestor on the read-write branch is not a directory and masks
		// anything the read-only branch has below it.
		return resolution{loc: NotFound, path: name}, nil
	case !isNotExist(err):
		return resolution{}, err
	}

	visible, err := u.roVisible(name)
	if err != nil {
		return resolution{}, err
	}
	if !visible {
		u.log.WithField("path", name).Debug("[resolve] hidden by the read-write branch")
		return resolution{loc: NotFound, path: name}, nil
	}

	attrs, err = u.ro.Lstat(name)
	if err != nil {
		if isNotExist(err) {
			return resolution{loc: NotFound, path: name}, nil
		}
		return resolution{}, err
	}
	return resolution{loc: ReadOnly, path: name, attrs: attrs}, nil
}

// roVisible reports whether the read-write branch leaves the read-only entry
// at name visible. The entry is hidden by its own whiteout, by a whiteout on
// any ancestor, or by an ancestor that exists on the read-write branch as
// something other than a directory.
func (u *Union) roVisible(name string) (bool, error) {
	comps := splitComponents(name)
	cur := "/"
	for i, c := range comps {
		cur = path.Join(cur, c)
		hidden, err := u.hasWhiteoutFor(cur)
		if err != nil || hidden {
			return false, err
		}
		if i == len(comps)-1 {
			break
		}
		attrs, err := u.rw.Lstat(cur)
		if err != nil {
			if isNotExist(err) {
				// Nothing below cur exists on the read-write branch.
				return true, nil
			}
			return false, err
		}
		if !attrs.Mode.IsDir() {
			return false, nil
		}
	}
	return true, nil
}

// hasWhiteoutFor reports whether the whiteout of p exists.
func (u *Union) hasWhiteoutFor(p string) (bool, error) {
	wh, err := whiteoutPath(p)
	if err != nil {
		// A name too long to carry a marker cannot have been whited out.
		return false, nil
	}
	return lexists(u.rw, wh)
}

// roTwin reports whether the read-only branch holds a visible entry at name.
func (u *Union) roTwin(name string) (bool, error) {
	visible, err := u.roVisible(name)
	if err != nil || !visible {
		return false, err
	}
	return lexists(u.ro, name)
}

// roDir reports whether the read-only branch holds a visible directory at name.
func (u *Union) roDir(name string) (bool, error) {
	visible, err := u.roVisible(name)
	if err != nil || !visible {
		return false, err
	}
	attrs, err := u.ro.Lstat(name)
	if err != nil {
		if isNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return attrs.Mode.IsDir(), nil
}

// copyUpLocked copies name up while holding its path lock. A caller that
// waited for another copy-up of the same path sees ReadWrite.
func (u *Union) copyUpLocked(name string) (resolution, error) {
	unlock := u.locks.lock(name)
	defer unlock()

	res, err := u.lookup(name)
	if err != nil || res.loc != ReadOnly {
		return res, err
	}

	shadow, err := u.copyUp(name, res.attrs)
	if err != nil {
		return resolution{}, err
	}
	u.cache.invalidate(name)

	attrs, err := u.rw.Lstat(name)
	if err != nil {
		return resolution{}, err
	}
	return resolution{loc: ReadWriteCopyup, path: name, attrs: attrs, shadow: shadow}, nil
}

// mustExist resolves name and turns NotFound into ENOENT.
func (u *Union) mustExist(name string, wantWrite bool) (resolution, error) {
	res, err := u.resolve(name, wantWrite)
	if err != nil {
		return res, err
	}
	if res.loc == NotFound {
		return res, ENOENT
	}
	return res, nil
}

// lexists reports whether p exists on s without following symlinks.
func lexists(s Store, p string) (bool, error) {
	_, err := s.Lstat(p)
	if err == nil {
		return true, nil
	}
	if isNotExist(err) {
		return false, nil
	}
	return false, err
}

// requireDir fails with ENOTDIR unless attrs describe a directory.
func requireDir(attrs Attributes) error {
	if !attrs.Mode.IsDir() {
		return ENOTDIR
	}
	return nil
}
