//go:build darwin

package unionfs

import (
	"time"

	"golang.org/x/sys/unix"
)

func attrsFromStat(st *unix.Stat_t) Attributes {
	return Attributes{
		Mode:  fromUnixMode(uint32(st.Mode)),
		Uid:   st.Uid,
		Gid:   st.Gid,
		Size:  st.Size,
		Nlink: uint64(st.Nlink),
		Rdev:  uint64(st.Rdev),
		Ino:   st.Ino,
		Atime: time.Unix(st.Atimespec.Unix()),
		Mtime: time.Unix(st.Mtimespec.Unix()),
		Ctime: time.Unix(st.Ctimespec.Unix()),
	}
}
