package unionfs

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// TestResolutionPriority tests that the read-write branch always wins
func TestResolutionPriority(t *testing.T) {
	u, ro, rw := newTestUnion(t)
	seedFile(t, ro, "/both", "ro")
	seedFile(t, rw, "/both", "rw")
	seedFile(t, ro, "/ro-only", "ro")
	seedFile(t, rw, "/rw-only", "rw")

	expectLocation(t, u, "/both", ReadWrite)
	expectLocation(t, u, "/ro-only", ReadOnly)
	expectLocation(t, u, "/rw-only", ReadWrite)
	expectLocation(t, u, "/neither", NotFound)

	if got := readString(t, u, "/both"); got != "rw" {
		t.Errorf("expected read-write content, got %q", got)
	}
}

// TestResolveReturnsBranchPath tests the returned branch path
func TestResolveReturnsBranchPath(t *testing.T) {
	u, ro, _ := newTestUnion(t)
	seedFile(t, ro, "/a/b", "x")

	loc, p, err := u.Resolve("a//b/", false)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if loc != ReadOnly || p != "/a/b" {
		t.Errorf("got (%v, %q), want (ro, /a/b)", loc, p)
	}

	loc, p, err = u.Resolve("/missing", false)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if loc != NotFound || p != "" {
		t.Errorf("got (%v, %q), want (not-found, \"\")", loc, p)
	}
}

// TestResolveForWriteCopiesUp tests resolution with wantWrite
func TestResolveForWriteCopiesUp(t *testing.T) {
	u, ro, rw := newTestUnion(t)
	seedFile(t, ro, "/dir/file", "content")

	loc, p, err := u.Resolve("/dir/file", true)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if loc != ReadWriteCopyup || p != "/dir/file" {
		t.Errorf("got (%v, %q), want (rw-copyup, /dir/file)", loc, p)
	}
	if !onBranch(rw, "/dir") || !onBranch(rw, "/dir/file") {
		t.Error("file and parent should be on the read-write branch")
	}

	// Second write resolution finds the copy.
	loc, _, err = u.Resolve("/dir/file", true)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if loc != ReadWrite {
		t.Errorf("got %v, want rw", loc)
	}

	loc, _, err = u.Resolve("/nope", true)
	if err != nil || loc != NotFound {
		t.Errorf("missing path with wantWrite: (%v, %v)", loc, err)
	}
}

// TestWhiteoutHidesReadOnly tests that a whiteout masks its read-only entry
func TestWhiteoutHidesReadOnly(t *testing.T) {
	u, ro, rw := newTestUnion(t)
	seedFile(t, ro, "/a/b", "x")
	seedFile(t, rw, "/a/.wh.b", "")

	expectLocation(t, u, "/a/b", NotFound)
	expectLocation(t, u, "/a", ReadWrite)
}

// TestAncestorWhiteoutHidesSubtree tests that a whited-out directory hides
// everything below it
func TestAncestorWhiteoutHidesSubtree(t *testing.T) {
	u, ro, rw := newTestUnion(t)
	seedFile(t, ro, "/a/b/c", "x")
	seedFile(t, rw, "/.wh.a", "")

	expectLocation(t, u, "/a", NotFound)
	expectLocation(t, u, "/a/b", NotFound)
	expectLocation(t, u, "/a/b/c", NotFound)
}

// TestNonDirectoryAncestorMasks tests that a read-write file masks a
// read-only directory of the same name and its contents
func TestNonDirectoryAncestorMasks(t *testing.T) {
	u, ro, rw := newTestUnion(t)
	seedFile(t, ro, "/a/b", "x")
	seedFile(t, rw, "/a", "file now")

	expectLocation(t, u, "/a", ReadWrite)
	expectLocation(t, u, "/a/b", NotFound)
}

// TestMarkerNamesNeverResolve tests that marker names are invisible
func TestMarkerNamesNeverResolve(t *testing.T) {
	u, ro, rw := newTestUnion(t)
	seedFile(t, ro, "/f", "x")
	seedFile(t, rw, "/.wh.g", "")
	seedFile(t, rw, "/.me.f", "")
	seedDir(t, rw, "/.wh.dir")
	seedFile(t, rw, "/.wh.dir/inner", "")

	for _, name := range []string{"/.wh.g", "/.me.f", "/.wh.dir/inner"} {
		expectLocation(t, u, name, NotFound)
	}
}

// TestResolveNameTooLong tests over-long paths
func TestResolveNameTooLong(t *testing.T) {
	u, _, _ := newTestUnion(t)
	long := "/" + strings.Repeat("a/", maxPathLen/2+1)

	_, _, err := u.Resolve(long, false)
	expectErrno(t, err, ENAMETOOLONG)
	if KindOf(err) != KindNameTooLong {
		t.Errorf("kind = %v", KindOf(err))
	}
}

// TestResolveCachesLocation tests the resolution cache and its invalidation
func TestResolveCachesLocation(t *testing.T) {
	u, ro, _ := newTestUnion(t, WithStatCache(true, time.Minute))
	seedFile(t, ro, "/f", "x")

	expectLocation(t, u, "/f", ReadOnly)
	expectLocation(t, u, "/g", NotFound)
	stats := u.CacheStats()
	if stats.StatCacheSize != 1 || stats.NegativeCacheSize != 1 {
		t.Errorf("unexpected cache sizes %+v", stats)
	}

	writeString(t, u, "/f", "y")
	expectLocation(t, u, "/f", ReadWrite)
	writeString(t, u, "/g", "z")
	expectLocation(t, u, "/g", ReadWrite)

	u.ClearCache()
	if s := u.CacheStats(); s.StatCacheSize != 0 || s.NegativeCacheSize != 0 {
		t.Errorf("cache not cleared: %+v", s)
	}
}

// TestExternalChangeNeedsInvalidation tests InvalidateCache for changes made
// behind the union's back
func TestExternalChangeNeedsInvalidation(t *testing.T) {
	u, ro, _ := newTestUnion(t, WithStatCache(true, time.Minute))
	expectLocation(t, u, "/late", NotFound)

	seedFile(t, ro, "/late", "x")
	expectLocation(t, u, "/late", NotFound)

	u.InvalidateCache("/late")
	expectLocation(t, u, "/late", ReadOnly)

	seedFile(t, ro, "/d/e", "x")
	expectLocation(t, u, "/d/e", ReadOnly)
	u.InvalidateCacheTree("/d")
	if _, _, ok := u.cache.getStat("/d/e"); ok {
		t.Error("/d/e should have been invalidated with its tree")
	}
}

// TestConcurrentCopyUp tests that concurrent first writers share one copy-up
func TestConcurrentCopyUp(t *testing.T) {
	u, ro, rw := newTestUnion(t)
	seedFile(t, ro, "/deep/dir/file", strings.Repeat("data", 4096))

	const workers = 16
	var wg sync.WaitGroup
	locs := make(chan Location, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loc, _, err := u.Resolve("/deep/dir/file", true)
			if err != nil {
				errs <- err
				return
			}
			locs <- loc
		}()
	}
	wg.Wait()
	close(locs)
	close(errs)

	for err := range errs {
		t.Errorf("concurrent copy-up failed: %v", err)
	}
	copied := 0
	for loc := range locs {
		switch loc {
		case ReadWriteCopyup:
			copied++
		case ReadWrite:
		default:
			t.Errorf("unexpected location %v", loc)
		}
	}
	if copied != 1 {
		t.Errorf("expected exactly one copy-up, got %d", copied)
	}

	raw, err := rw.ReadDir("/deep/dir")
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	if len(raw) != 1 || raw[0].Name != "file" {
		t.Errorf("unexpected read-write entries %+v", raw)
	}
	if got := readString(t, u, "/deep/dir/file"); len(got) != 4*4096 {
		t.Errorf("copied file has %d bytes", len(got))
	}
}
