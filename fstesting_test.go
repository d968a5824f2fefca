package unionfs

import (
	"testing"

	"github.com/absfs/fstesting"
)

// TestUnionFSSuite runs the fstesting conformance suite against the absfs
// view of a union over two in-memory branches.
func TestUnionFSSuite(t *testing.T) {
	u, _, _ := newTestUnion(t)

	suite := &fstesting.Suite{
		FS: u.FileSystem(),
		Features: fstesting.Features{
			Symlinks:      true, // skipped: the view is a plain FileSystem
			HardLinks:     false,
			Permissions:   true,
			Timestamps:    true,
			CaseSensitive: true,
			AtomicRename:  true,
			SparseFiles:   false,
			LargeFiles:    true,
		},
	}

	suite.Run(t)
}
