package unionfs

import (
	"path"
	"time"

	"github.com/avast/retry-go/v4"
)

// CreateWhiteout hides name by writing its whiteout on the read-write
// branch, materializing the parent chain first. It returns the whiteout path.
func (u *Union) CreateWhiteout(name string) (string, error) {
	name = cleanPath(name)
	wh, err := u.createWhiteout(name)
	if err != nil {
		return "", pathErr("whiteout", name, err)
	}
	return wh, nil
}

func (u *Union) createWhiteout(name string) (string, error) {
	wh, err := whiteoutPath(name)
	if err != nil {
		return "", err
	}
	if err := u.findPath(path.Dir(name)); err != nil {
		return "", err
	}
	if err := createEmpty(u.rw, wh, 0444); err != nil {
		return "", err
	}
	u.cache.invalidateTree(name)
	u.log.WithField("path", name).Debug("[whiteout] created")
	return wh, nil
}

// RemoveWhiteout deletes the whiteout of name. A missing whiteout is not an
// error; the result says whether one was removed.
func (u *Union) RemoveWhiteout(name string) (bool, error) {
	name = cleanPath(name)
	removed, err := u.removeWhiteout(name)
	if err != nil {
		return false, pathErr("unwhiteout", name, err)
	}
	return removed, nil
}

func (u *Union) removeWhiteout(name string) (bool, error) {
	wh, err := whiteoutPath(name)
	if err != nil {
		return false, nil
	}
	if err := u.rw.Remove(wh); err != nil {
		if isNotExist(err) {
			return false, nil
		}
		return false, err
	}
	u.cache.invalidateTree(name)
	u.log.WithField("path", name).Debug("[whiteout] removed")
	return true, nil
}

// HasWhiteout reports whether name is in a set of whited-out base names.
func HasWhiteout(set map[string]struct{}, name string) bool {
	_, ok := set[name]
	return ok
}

// restoreWhiteout recreates a whiteout removed by a step that then failed.
func (u *Union) restoreWhiteout(name string) {
	wh, err := whiteoutPath(name)
	if err == nil {
		err = createEmpty(u.rw, wh, 0444)
	}
	if err != nil {
		u.log.WithField("path", name).WithError(err).Warn("[whiteout] could not restore whiteout")
		return
	}
	u.cache.invalidateTree(name)
}

// dropWhiteout removes a whiteout created by a step that then failed.
func (u *Union) dropWhiteout(name, wh string) {
	if err := u.rw.Remove(wh); err != nil && !isNotExist(err) {
		u.log.WithField("path", name).WithError(err).Warn("[whiteout] could not remove whiteout")
	}
	u.cache.invalidateTree(name)
}

// restoreShadow puts back a shadow that was removed ahead of a whiteout
// that could not be written. Failure is logged, never returned.
func (u *Union) restoreShadow(name string, attrs Attributes) {
	err := retry.Do(
		func() error {
			return u.createShadow(name, attrs)
		},
		retry.Attempts(3),
		retry.Delay(10*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		u.log.WithField("path", name).WithError(err).Warn("[me] could not restore shadow")
	}
}
