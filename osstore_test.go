//go:build linux

package unionfs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newDiskUnion builds a union over two temporary directories
func newDiskUnion(t *testing.T) (*Union, string, string) {
	t.Helper()
	roDir, rwDir := t.TempDir(), t.TempDir()
	ro, err := NewOSStore(roDir)
	if err != nil {
		t.Fatalf("ro store: %v", err)
	}
	rw, err := NewOSStore(rwDir)
	if err != nil {
		t.Fatalf("rw store: %v", err)
	}
	return newUnionOver(t, ro, rw), roDir, rwDir
}

func writeDisk(t *testing.T, root, name, data string) {
	t.Helper()
	p := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
}

// TestNewOSStore tests opening a branch directory
func TestNewOSStore(t *testing.T) {
	dir := t.TempDir()
	writeDisk(t, dir, "file", "x")

	if _, err := NewOSStore(filepath.Join(dir, "file")); !errors.Is(err, ENOTDIR) {
		t.Errorf("file as root: %v", err)
	}
	if _, err := NewOSStore(filepath.Join(dir, "missing")); !os.IsNotExist(err) {
		t.Errorf("missing root: %v", err)
	}
	s, err := NewOSStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if rp, err := s.RealPath("/file"); err != nil || rp != filepath.Join(s.Root(), "file") {
		t.Errorf("RealPath = %q, %v", rp, err)
	}
}

// TestOSStoreErrorsUseBranchPaths tests that disk paths never leak
func TestOSStoreErrorsUseBranchPaths(t *testing.T) {
	dir := t.TempDir()
	s, err := NewOSStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Lstat("/nope")
	var pe *os.PathError
	if !errors.As(err, &pe) || !errors.Is(err, ENOENT) {
		t.Fatalf("lstat missing: %v", err)
	}
	if pe.Path != "/nope" || strings.Contains(err.Error(), dir) {
		t.Errorf("error leaks disk path: %v", err)
	}
}

// TestOSStoreStaysInsideRoot tests that symlinked directories never lead
// out of a branch
func TestOSStoreStaysInsideRoot(t *testing.T) {
	u, roDir, rwDir := newDiskUnion(t)
	outside := t.TempDir()
	writeDisk(t, outside, "secret", "host data")
	if err := os.Symlink(outside, filepath.Join(roDir, "lnk")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(rwDir, "wl")); err != nil {
		t.Fatal(err)
	}

	if _, err := u.ReadFile("/lnk/secret"); !os.IsNotExist(err) {
		t.Errorf("read through read-only link: %v", err)
	}
	if _, err := u.ReadOnlyBranch().Lstat("/lnk/secret"); !errors.Is(err, ENOTDIR) {
		t.Errorf("branch lstat through link: %v", err)
	}
	if _, err := u.ReadOnlyBranch().ReadDir("/lnk"); !errors.Is(err, ENOTDIR) {
		t.Errorf("branch readdir of link: %v", err)
	}

	if f, err := u.OpenFile("/wl/secret", os.O_WRONLY|os.O_TRUNC, 0); err == nil {
		f.WriteString("clobbered")
		f.Close()
		t.Error("opened a file through a read-write link")
	}
	if _, err := u.OpenFile("/wl/new", os.O_WRONLY|os.O_CREATE, 0644); err == nil {
		t.Error("created a file through a read-write link")
	}
	if _, err := u.ReadWriteBranch().OpenFile("/wl/secret", os.O_WRONLY, 0); !errors.Is(err, ENOTDIR) {
		t.Errorf("branch open through link: %v", err)
	}
	if err := u.ReadWriteBranch().SetAttr(AsRoot, "/wl/secret", Attributes{Mode: 0600}, AttrMode); !errors.Is(err, ENOTDIR) {
		t.Errorf("branch setattr through link: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(outside, "secret"))
	if err != nil || string(data) != "host data" {
		t.Errorf("host file = %q, %v", data, err)
	}
	fi, _ := os.Stat(filepath.Join(outside, "secret"))
	if fi.Mode().Perm() != 0644 {
		t.Errorf("host file mode changed to %v", fi.Mode())
	}
	if _, err := os.Lstat(filepath.Join(outside, "new")); !os.IsNotExist(err) {
		t.Errorf("file created outside the branch: %v", err)
	}
}

// TestDiskUnionCopyUp tests copy-up between two real directories
func TestDiskUnionCopyUp(t *testing.T) {
	u, roDir, rwDir := newDiskUnion(t)
	writeDisk(t, roDir, "etc/hosts", "127.0.0.1 localhost\n")

	expectLocation(t, u, "/etc/hosts", ReadOnly)
	writeString(t, u, "/etc/hosts", "10.0.0.1 gateway\n")

	got, err := os.ReadFile(filepath.Join(rwDir, "etc", "hosts"))
	if err != nil || string(got) != "10.0.0.1 gateway\n" {
		t.Errorf("rw copy = %q, %v", got, err)
	}
	orig, _ := os.ReadFile(filepath.Join(roDir, "etc", "hosts"))
	if string(orig) != "127.0.0.1 localhost\n" {
		t.Errorf("read-only branch modified: %q", orig)
	}
}

// TestDiskUnionWhiteout tests that deletion leaves a marker on disk
func TestDiskUnionWhiteout(t *testing.T) {
	u, roDir, rwDir := newDiskUnion(t)
	writeDisk(t, roDir, "f", "data")

	if err := u.Remove("/f"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(rwDir, ".wh.f")); err != nil {
		t.Errorf("whiteout missing on disk: %v", err)
	}
	if _, err := u.Stat("/f"); !os.IsNotExist(err) {
		t.Errorf("whited-out file visible: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(roDir, "f")); err != nil {
		t.Errorf("read-only file touched: %v", err)
	}
}

// TestDiskUnionLink tests hard links through the union
func TestDiskUnionLink(t *testing.T) {
	u, roDir, _ := newDiskUnion(t)
	writeDisk(t, roDir, "bin/tool", "#!/bin/sh\n")

	if err := u.Link("/bin/tool", "/bin/tool2"); err != nil {
		t.Fatalf("link: %v", err)
	}
	expectLocation(t, u, "/bin/tool", ReadWrite)

	a, err := u.ReadWriteBranch().Lstat("/bin/tool2")
	if err != nil {
		t.Fatalf("lstat link: %v", err)
	}
	if a.Nlink != 2 {
		t.Errorf("nlink = %d, want 2", a.Nlink)
	}
	if got := readString(t, u, "/bin/tool2"); got != "#!/bin/sh\n" {
		t.Errorf("link content = %q", got)
	}
	if err := u.Link("/bin", "/bin2"); !errors.Is(err, EPERM) {
		t.Errorf("link directory: %v", err)
	}
}

// TestDiskUnionSpecialFiles tests fifos and symlinks on disk
func TestDiskUnionSpecialFiles(t *testing.T) {
	u, roDir, _ := newDiskUnion(t)
	if err := os.Symlink("target", filepath.Join(roDir, "ln")); err != nil {
		t.Fatal(err)
	}

	if err := u.Mknod("/pipe", os.ModeNamedPipe|0600, 0); err != nil {
		t.Fatalf("mknod: %v", err)
	}
	fi, err := u.Lstat("/pipe")
	if err != nil || fi.Mode()&os.ModeNamedPipe == 0 || fi.Mode().Perm() != 0600 {
		t.Errorf("fifo = %v, %v", fi, err)
	}

	if target, err := u.Readlink("/ln"); err != nil || target != "target" {
		t.Errorf("readlink = %q, %v", target, err)
	}
	// Copy-up keeps the link text verbatim.
	if _, err := u.CopyUp("/ln"); err != nil {
		t.Fatalf("copy up symlink: %v", err)
	}
	if target, err := u.ReadWriteBranch().Readlink("/ln"); err != nil || target != "target" {
		t.Errorf("copied link = %q, %v", target, err)
	}
}

// TestDiskUnionAttributes tests mode and time changes on disk
func TestDiskUnionAttributes(t *testing.T) {
	u, _, _ := newDiskUnion(t)
	writeString(t, u, "/f", "x")

	if err := u.Chmod("/f", 0600); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	mtime := time.Date(2020, 2, 2, 0, 0, 0, 0, time.UTC)
	if err := u.Chtimes("/f", mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	a, err := u.ReadWriteBranch().Lstat("/f")
	if err != nil {
		t.Fatal(err)
	}
	if a.Mode.Perm() != 0600 {
		t.Errorf("mode = %v", a.Mode)
	}
	if !a.Mtime.Equal(mtime) {
		t.Errorf("mtime = %v, want %v", a.Mtime, mtime)
	}
}

// TestDiskUnionChown tests ownership changes, which need root
func TestDiskUnionChown(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("chown requires root")
	}
	u, roDir, _ := newDiskUnion(t)
	writeDisk(t, roDir, "f", "x")

	if err := u.Chown("/f", 1234, 5678); err != nil {
		t.Fatalf("chown: %v", err)
	}
	fi, err := u.Stat("/f")
	if err != nil {
		t.Fatal(err)
	}
	a := fi.Sys().(*Attributes)
	if a.Uid != 1234 || a.Gid != 5678 {
		t.Errorf("owner = %d:%d", a.Uid, a.Gid)
	}
	expectLocation(t, u, "/f", ReadOnly)
}
