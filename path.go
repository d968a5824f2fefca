package unionfs

import (
	"hash/fnv"
	"path"
	"strings"
	"syscall"
)

const (
	// WhiteoutPrefix marks a RW entry that hides a RO entry of the same name.
	WhiteoutPrefix = ".wh."
	// ShadowPrefix marks a RW entry carrying metadata for a RO-only entry.
	ShadowPrefix = ".me."

	// copyUpStagingPrefix names in-flight copy-up targets. The whiteout prefix
	// keeps them out of every merged listing.
	copyUpStagingPrefix = WhiteoutPrefix + ".copyup."

	maxNameLen = 255
	maxPathLen = 4096
)

// IsWhiteout reports whether a base name is a whiteout marker.
func IsWhiteout(name string) bool {
	return strings.HasPrefix(name, WhiteoutPrefix)
}

// IsShadow reports whether a base name is a metadata shadow marker.
func IsShadow(name string) bool {
	return strings.HasPrefix(name, ShadowPrefix)
}

// IsSpecial reports whether a base name is reserved by the engine.
func IsSpecial(name string) bool {
	return IsWhiteout(name) || IsShadow(name)
}

// cleanPath normalizes a logical path
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// splitPath returns the parent directory and base name of a logical path.
// The root has no parent and is rejected.
func splitPath(p string) (string, string, error) {
	p = cleanPath(p)
	if p == "/" {
		return "", "", syscall.EINVAL
	}
	return path.Dir(p), path.Base(p), nil
}

// hasSpecialComponent reports whether any component of p is a marker name.
func hasSpecialComponent(p string) bool {
	for _, part := range splitComponents(p) {
		if IsSpecial(part) {
			return true
		}
	}
	return false
}

// splitComponents splits a logical path into its components
func splitComponents(p string) []string {
	p = cleanPath(p)
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}

func markerPath(p, prefix string) (string, error) {
	dir, base, err := splitPath(p)
	if err != nil {
		return "", err
	}
	name := prefix + base
	if len(name) > maxNameLen {
		return "", syscall.ENAMETOOLONG
	}
	full := path.Join(dir, name)
	if len(full) > maxPathLen {
		return "", syscall.ENAMETOOLONG
	}
	return full, nil
}

// whiteoutPath returns the RW location of the whiteout hiding p
func whiteoutPath(p string) (string, error) {
	return markerPath(p, WhiteoutPrefix)
}

// shadowPath returns the RW location of the metadata shadow for p
func shadowPath(p string) (string, error) {
	return markerPath(p, ShadowPrefix)
}

// checkName validates the final component of a path about to be created.
func checkName(p string) error {
	_, base, err := splitPath(p)
	if err != nil {
		return err
	}
	if IsSpecial(base) {
		return syscall.EINVAL
	}
	if len(base) > maxNameLen || len(p) > maxPathLen {
		return syscall.ENAMETOOLONG
	}
	return nil
}

// InodeNumber returns the union inode number of a logical path. It depends
// only on the path, so an entry keeps its number across copy-up.
func InodeNumber(p string) uint64 {
	p = cleanPath(p)
	if p == "/" {
		return 1
	}
	h := fnv.New64a()
	h.Write([]byte(p))
	ino := h.Sum64()
	if ino <= 1 {
		ino += 2
	}
	return ino
}
