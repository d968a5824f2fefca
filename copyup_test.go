package unionfs

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// TestCopyUpVisibility tests that a copied-up entry resolves to the
// read-write branch and the read-only original is untouched
func TestCopyUpVisibility(t *testing.T) {
	u, ro, rw := newTestUnion(t)
	content := strings.Repeat("0123456789", 10000)
	seedFile(t, ro, "/a/b/c.txt", content)
	mtime := time.Date(2018, 5, 5, 5, 5, 5, 0, time.UTC)
	if err := ro.SetAttr(AsRoot, "/a/b/c.txt", Attributes{Mode: 0640, Uid: 3, Gid: 4, Atime: mtime, Mtime: mtime}, AttrAll&^AttrCtime); err != nil {
		t.Fatalf("seed attributes: %v", err)
	}

	p, err := u.CopyUp("/a/b/c.txt")
	if err != nil {
		t.Fatalf("copy-up: %v", err)
	}
	if p != "/a/b/c.txt" {
		t.Errorf("copy-up path = %q", p)
	}
	expectLocation(t, u, "/a/b/c.txt", ReadWrite)

	data, err := afero.ReadFile(ro.Fs(), "/a/b/c.txt")
	if err != nil || string(data) != content {
		t.Fatal("read-only original changed")
	}
	data, err = afero.ReadFile(rw.Fs(), "/a/b/c.txt")
	if err != nil || string(data) != content {
		t.Fatal("copy content differs")
	}

	attrs, err := rw.Lstat("/a/b/c.txt")
	if err != nil {
		t.Fatalf("lstat copy: %v", err)
	}
	if attrs.Mode.Perm() != 0640 || attrs.Uid != 3 || attrs.Gid != 4 || !attrs.Mtime.Equal(mtime) {
		t.Errorf("copy attributes not preserved: %+v", attrs)
	}
	for _, dir := range []string{"/a", "/a/b"} {
		if a, err := rw.Lstat(dir); err != nil || !a.Mode.IsDir() {
			t.Errorf("parent %s not materialized: %v", dir, err)
		}
	}

	// Copy-up of an entry already on the read-write branch changes nothing.
	if _, err := u.CopyUp("/a/b/c.txt"); err != nil {
		t.Errorf("second copy-up: %v", err)
	}
	if _, err := u.CopyUp("/missing"); !os.IsNotExist(err) {
		t.Errorf("copy-up of missing entry: %v", err)
	}
}

// TestCopyUpTypes tests copy-up of directories, symlinks and fifos
func TestCopyUpTypes(t *testing.T) {
	u, ro, rw := newTestUnion(t)
	seedDir(t, ro, "/dir/child")
	if err := ro.Symlink("../target", "/dir/link"); err != nil {
		t.Fatalf("seed symlink: %v", err)
	}
	if err := ro.Mknod("/dir/pipe", os.ModeNamedPipe|0600, 0); err != nil {
		t.Fatalf("seed fifo: %v", err)
	}

	if _, err := u.CopyUp("/dir"); err != nil {
		t.Fatalf("copy-up dir: %v", err)
	}
	raw, err := rw.ReadDir("/dir")
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(raw) != 0 {
		t.Errorf("directory copy-up must not copy children: %+v", raw)
	}
	if names := mergedNames(t, u, "/dir"); !equalNames(names, []string{"child", "link", "pipe"}) {
		t.Errorf("merged listing after copy-up = %v", names)
	}

	if _, err := u.CopyUp("/dir/link"); err != nil {
		t.Fatalf("copy-up symlink: %v", err)
	}
	target, err := rw.Readlink("/dir/link")
	if err != nil || target != "../target" {
		t.Errorf("symlink target = %q, %v", target, err)
	}

	if _, err := u.CopyUp("/dir/pipe"); err != nil {
		t.Fatalf("copy-up fifo: %v", err)
	}
	attrs, err := rw.Lstat("/dir/pipe")
	if err != nil || attrs.Mode&os.ModeNamedPipe == 0 {
		t.Errorf("fifo copy has mode %v, %v", attrs.Mode, err)
	}
}

// TestFindPath tests materializing a directory chain on the read-write branch
func TestFindPath(t *testing.T) {
	u, ro, rw := newTestUnion(t)
	seedFile(t, ro, "/p/f", "x")

	if err := u.findPath("/p"); err != nil {
		t.Fatalf("findPath: %v", err)
	}
	if !onBranch(rw, "/p") {
		t.Fatal("/p should be on the read-write branch")
	}
	if err := u.findPath("/p/f"); err != ENOTDIR {
		t.Errorf("findPath of a file: %v", err)
	}
	if err := u.findPath("/nope"); err != ENOENT {
		t.Errorf("findPath of a missing dir: %v", err)
	}
}

// TestCopyUpFailureLeavesNoCopy tests rollback when the copy cannot be
// moved into place
func TestCopyUpFailureLeavesNoCopy(t *testing.T) {
	ro := NewMemStoreAs(0, 0)
	mem := NewMemStoreAs(0, 0)
	rw := &faultStore{Store: mem}
	u := newUnionOver(t, ro, rw)
	seedFile(t, ro, "/f", "content")

	rw.fail = func(op, name string) error {
		if op == "rename" && name == "/f" {
			return EIO
		}
		return nil
	}
	_, err := u.CopyUp("/f")
	expectErrno(t, err, EIO)

	raw, err := mem.ReadDir("/")
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(raw) != 0 {
		t.Errorf("failed copy-up left entries behind: %+v", raw)
	}
	expectLocation(t, u, "/f", ReadOnly)
}

// TestCopyUpAttrFailureRollsBack tests rollback when attributes cannot be set
func TestCopyUpAttrFailureRollsBack(t *testing.T) {
	ro := NewMemStoreAs(0, 0)
	mem := NewMemStoreAs(0, 0)
	rw := &faultStore{Store: mem}
	u := newUnionOver(t, ro, rw)
	seedDir(t, ro, "/d")

	rw.fail = func(op, name string) error {
		if op == "setattr" && name == "/d" {
			return EPERM
		}
		return nil
	}
	_, err := u.CopyUp("/d")
	expectErrno(t, err, EPERM)
	if onBranch(mem, "/d") {
		t.Error("partial directory copy should be removed")
	}
}

// TestOpenFailureUndoesCopyUp tests that a failed open removes the copy-up
// it triggered and restores the shadow
func TestOpenFailureUndoesCopyUp(t *testing.T) {
	ro := NewMemStoreAs(0, 0)
	mem := NewMemStoreAs(0, 0)
	rw := &faultStore{Store: mem}
	u := newUnionOver(t, ro, rw)
	seedFile(t, ro, "/f", "content")
	if err := u.CreateShadow("/f", Attributes{Mode: 0600, Uid: 9, Gid: 9}); err != nil {
		t.Fatalf("create shadow: %v", err)
	}

	rw.fail = func(op, name string) error {
		if op == "open" && name == "/f" {
			return EACCES
		}
		return nil
	}
	_, err := u.OpenFile("/f", os.O_WRONLY, 0)
	expectErrno(t, err, EACCES)

	rw.fail = nil
	expectLocation(t, u, "/f", ReadOnly)
	shadow, ok, err := u.FindShadow("/f")
	if err != nil || !ok {
		t.Fatalf("shadow not restored: %v", err)
	}
	if shadow.Uid != 9 || shadow.Mode.Perm() != 0600 {
		t.Errorf("restored shadow %+v", shadow)
	}
}

// TestCopyBufferSize tests copy-up with a small buffer
func TestCopyBufferSize(t *testing.T) {
	u, ro, _ := newTestUnion(t, WithCopyBufferSize(7))
	content := bytes.Repeat([]byte("abc"), 1000)
	seedFile(t, ro, "/f", string(content))

	if _, err := u.CopyUp("/f"); err != nil {
		t.Fatalf("copy-up: %v", err)
	}
	if got := readString(t, u, "/f"); got != string(content) {
		t.Errorf("copy differs: %d bytes", len(got))
	}
}

// unprivilegedStore refuses every ownership change, like a branch on disk
// used by a process that may not chown
type unprivilegedStore struct {
	Store
}

func (s unprivilegedStore) SetAttr(priv Privilege, name string, attrs Attributes, mask AttrMask) error {
	if mask&AttrOwner != 0 {
		return &os.PathError{Op: "chown", Path: name, Err: EPERM}
	}
	return s.Store.SetAttr(priv, name, attrs, mask)
}

// TestCopyUpWithoutChown tests that copy-up still succeeds when the
// read-write branch cannot take the original owner
func TestCopyUpWithoutChown(t *testing.T) {
	ro := NewMemStoreAs(0, 0)
	mem := NewMemStoreAs(1000, 1000)
	u := newUnionOver(t, ro, unprivilegedStore{mem})
	seedFile(t, ro, "/bin/tool", "#!/bin/sh\n")
	mtime := time.Date(2019, 9, 9, 9, 9, 9, 0, time.UTC)
	attrs := Attributes{Mode: os.ModeSetuid | 0755, Atime: mtime, Mtime: mtime}
	if err := ro.SetAttr(AsRoot, "/bin/tool", attrs, AttrAll&^AttrCtime); err != nil {
		t.Fatalf("seed attributes: %v", err)
	}

	if _, err := u.CopyUp("/bin/tool"); err != nil {
		t.Fatalf("copy up: %v", err)
	}
	a, err := mem.Lstat("/bin/tool")
	if err != nil {
		t.Fatalf("lstat copy: %v", err)
	}
	if a.Uid != 1000 || a.Gid != 1000 {
		t.Errorf("copy owner = %d:%d, want process owner", a.Uid, a.Gid)
	}
	if a.Mode&os.ModeSetuid != 0 || a.Mode.Perm() != 0755 {
		t.Errorf("copy mode = %v", a.Mode)
	}
	if !a.Mtime.Equal(mtime) {
		t.Errorf("copy mtime = %v, want %v", a.Mtime, mtime)
	}
	if got := readString(t, u, "/bin/tool"); got != "#!/bin/sh\n" {
		t.Errorf("content = %q", got)
	}
	if !onBranch(mem, "/bin") {
		t.Error("parent directory should be materialized")
	}
}
