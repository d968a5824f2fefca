package unionfs

import (
	"io"
	"os"
	"path"
	"strings"
)

// DirEntry is one entry of a merged directory listing.
type DirEntry struct {
	Name   string
	Type   os.FileMode // type bits only
	Ino    uint64
	Branch Branch
}

type dirState int

const (
	dirUnpopulated dirState = iota
	dirPopulated
	dirClosed
)

// DirHandle iterates the merged listing of one directory. The listing is
// built on the first read and kept until Rewind or Close. A handle is not
// safe for concurrent use.
type DirHandle struct {
	u      *Union
	path   string
	rwPath string // empty when the directory is absent from the read-write branch
	roPath string // empty when the read-only branch contributes nothing

	state   dirState
	entries []DirEntry
	seen    map[string]int
	pos     int
}

// OpenDir opens the merged directory name for listing.
func (u *Union) OpenDir(name string) (*DirHandle, error) {
	name = cleanPath(name)
	res, err := u.mustExist(name, false)
	if err != nil {
		return nil, pathErr("opendir", name, err)
	}
	d, err := u.openDir(res)
	if err != nil {
		return nil, pathErr("opendir", name, err)
	}
	return d, nil
}

func (u *Union) openDir(res resolution) (*DirHandle, error) {
	if err := requireDir(res.attrs); err != nil {
		return nil, err
	}
	d := &DirHandle{u: u, path: res.path}
	if res.loc == ReadOnly {
		d.roPath = res.path
		return d, nil
	}
	d.rwPath = res.path
	roDir, err := u.roDir(res.path)
	if err != nil {
		return nil, err
	}
	if roDir {
		d.roPath = res.path
	}
	return d, nil
}

// Path returns the logical path of the directory
func (d *DirHandle) Path() string {
	return d.path
}

// ReadEntry returns the next merged entry, or io.EOF once the listing is
// exhausted.
func (d *DirHandle) ReadEntry() (DirEntry, error) {
	if err := d.populate(); err != nil {
		return DirEntry{}, err
	}
	if d.pos >= len(d.entries) {
		return DirEntry{}, io.EOF
	}
	e := d.entries[d.pos]
	d.pos++
	return e, nil
}

// ReadEntries returns up to n entries. With n <= 0 it returns the rest of
// the listing and a nil error at the end, like os.File.ReadDir.
func (d *DirHandle) ReadEntries(n int) ([]DirEntry, error) {
	if err := d.populate(); err != nil {
		return nil, err
	}
	rest := d.entries[d.pos:]
	if n <= 0 {
		d.pos = len(d.entries)
		return append([]DirEntry(nil), rest...), nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if n > len(rest) {
		n = len(rest)
	}
	d.pos += n
	return append([]DirEntry(nil), rest[:n]...), nil
}

// Rewind drops the cached listing; the next read rebuilds it.
func (d *DirHandle) Rewind() error {
	if d.state == dirClosed {
		return os.ErrClosed
	}
	d.state = dirUnpopulated
	d.entries = nil
	d.seen = nil
	d.pos = 0
	return nil
}

// Close releases the listing. Further reads fail with os.ErrClosed.
func (d *DirHandle) Close() error {
	if d.state == dirClosed {
		return os.ErrClosed
	}
	d.state = dirClosed
	d.entries = nil
	d.seen = nil
	return nil
}

func (d *DirHandle) populate() error {
	switch d.state {
	case dirClosed:
		return os.ErrClosed
	case dirPopulated:
		return nil
	}

	d.entries = d.entries[:0]
	d.seen = make(map[string]int)
	removed := make(map[string]struct{})

	if d.rwPath != "" {
		raw, err := d.u.rw.ReadDir(d.rwPath)
		if err != nil {
			return err
		}
		for _, e := range raw {
			switch {
			case IsShadow(e.Name):
			case IsWhiteout(e.Name):
				removed[strings.TrimPrefix(e.Name, WhiteoutPrefix)] = struct{}{}
			default:
				d.add(e, BranchReadWrite)
			}
		}
	}

	if d.roPath != "" {
		raw, err := d.u.ro.ReadDir(d.roPath)
		if err != nil {
			return err
		}
		for _, e := range raw {
			if IsSpecial(e.Name) || HasWhiteout(removed, e.Name) {
				continue
			}
			if _, dup := d.seen[e.Name]; dup {
				continue
			}
			d.add(e, BranchReadOnly)
		}
	}

	d.state = dirPopulated
	d.pos = 0
	d.u.log.WithField("path", d.path).Debugf("[readdir] %d entries", len(d.entries))
	return nil
}

func (d *DirHandle) add(e RawEntry, b Branch) {
	d.seen[e.Name] = len(d.entries)
	d.entries = append(d.entries, DirEntry{
		Name:   e.Name,
		Type:   e.Type.Type(),
		Ino:    InodeNumber(path.Join(d.path, e.Name)),
		Branch: b,
	})
}

// IsEmptyDir reports whether the merged directory name has no entries.
func (u *Union) IsEmptyDir(name string) (bool, error) {
	name = cleanPath(name)
	res, err := u.mustExist(name, false)
	if err != nil {
		return false, pathErr("isempty", name, err)
	}
	empty, err := u.isEmptyDir(res)
	if err != nil {
		return false, pathErr("isempty", name, err)
	}
	return empty, nil
}

func (u *Union) isEmptyDir(res resolution) (bool, error) {
	d, err := u.openDir(res)
	if err != nil {
		return false, err
	}
	defer d.Close()
	if _, err := d.ReadEntry(); err != nil {
		if err == io.EOF {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// listDir returns the full merged listing of an already resolved directory.
func (u *Union) listDir(res resolution) ([]DirEntry, error) {
	d, err := u.openDir(res)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return d.ReadEntries(-1)
}
