package unionfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

// TestAferoHelpers tests afero utilities over the merged tree
func TestAferoHelpers(t *testing.T) {
	u, ro, rw := newTestUnion(t)
	seedFile(t, ro, "/conf/a.conf", "a")
	seedFile(t, ro, "/conf/b.conf", "b")
	seedFile(t, ro, "/conf/sub/c.conf", "c")

	afs := u.Afero()
	if err := afero.WriteFile(afs, "/conf/b.conf", []byte("b2"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if !onBranch(rw, "/conf/b.conf") {
		t.Error("write should copy up")
	}
	if err := afs.Remove("/conf/a.conf"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	infos, err := afero.ReadDir(afs, "/conf")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var names []string
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	if !equalNames(names, []string{"b.conf", "sub"}) {
		t.Errorf("entries = %v", names)
	}

	var walked []string
	err = afero.Walk(afs, "/conf", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		walked = append(walked, filepath.ToSlash(p))
		return nil
	})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	want := []string{"/conf", "/conf/b.conf", "/conf/sub", "/conf/sub/c.conf"}
	if !equalNames(walked, want) {
		t.Errorf("walked %v, want %v", walked, want)
	}

	data, err := afero.ReadFile(afs, "/conf/b.conf")
	if err != nil || string(data) != "b2" {
		t.Errorf("ReadFile = %q, %v", data, err)
	}
	if ok, _ := afero.Exists(afs, "/conf/a.conf"); ok {
		t.Error("removed file still exists")
	}
}

// TestAferoSymlinks tests the optional afero interfaces
func TestAferoSymlinks(t *testing.T) {
	u, _, _ := newTestUnion(t)
	afs := u.Afero()

	linker, ok := afs.(afero.Linker)
	if !ok {
		t.Fatal("adapter should implement afero.Linker")
	}
	if err := afero.WriteFile(afs, "/target", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := linker.SymlinkIfPossible("/target", "/link"); err != nil {
		t.Fatalf("SymlinkIfPossible failed: %v", err)
	}

	lst := afs.(afero.Lstater)
	fi, lstatCalled, err := lst.LstatIfPossible("/link")
	if err != nil || !lstatCalled || fi.Mode()&os.ModeSymlink == 0 {
		t.Errorf("LstatIfPossible = %v, %v, %v", fi, lstatCalled, err)
	}
	target, err := afs.(afero.LinkReader).ReadlinkIfPossible("/link")
	if err != nil || target != "/target" {
		t.Errorf("ReadlinkIfPossible = %q, %v", target, err)
	}
	if afs.Name() != "unionfs" {
		t.Errorf("Name = %q", afs.Name())
	}
}
