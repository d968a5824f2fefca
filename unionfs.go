package unionfs

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Location says which branch is authoritative for a logical path.
type Location int

const (
	// NotFound means the path is visible on neither branch.
	NotFound Location = iota
	// ReadOnly means the path only exists on the read-only branch.
	ReadOnly
	// ReadWrite means the path exists on the read-write branch.
	ReadWrite
	// ReadWriteCopyup means the path was just copied up to the read-write branch.
	ReadWriteCopyup
)

func (l Location) String() string {
	switch l {
	case ReadOnly:
		return "ro"
	case ReadWrite:
		return "rw"
	case ReadWriteCopyup:
		return "rw-copyup"
	default:
		return "not-found"
	}
}

// OnReadWrite reports whether the location is on the read-write branch.
func (l Location) OnReadWrite() bool {
	return l == ReadWrite || l == ReadWriteCopyup
}

const defaultCopyBufferSize = 32 * 1024

// owner is a forced uid/gid pair applied to newly created entries.
type owner struct {
	uid, gid uint32
}

// Union is a two-branch union filesystem.
type Union struct {
	ro             Store
	rw             Store
	log            logrus.FieldLogger
	cache          *Cache
	locks          *pathLocks
	copyBufferSize int
	creator        *owner
}

// Option is a functional option for configuring a Union
type Option func(*Union)

// WithReadOnlyBranch sets the lower, never modified branch
func WithReadOnlyBranch(s Store) Option {
	return func(u *Union) {
		u.ro = s
	}
}

// WithReadWriteBranch sets the upper branch that receives every change
func WithReadWriteBranch(s Store) Option {
	return func(u *Union) {
		u.rw = s
	}
}

// WithLogger sets the logger used for debug traces and rollback warnings
func WithLogger(l logrus.FieldLogger) Option {
	return func(u *Union) {
		if l != nil {
			u.log = l
		}
	}
}

// WithStatCache enables resolution caching with the specified TTL
func WithStatCache(enabled bool, ttl time.Duration) Option {
	return func(u *Union) {
		negativeTTL := ttl / 2 // Negative cache expires faster
		maxEntries := 1000
		u.cache = newCache(enabled, ttl, negativeTTL, maxEntries)
	}
}

// WithCacheConfig enables resolution caching with custom configuration
func WithCacheConfig(enabled bool, statTTL, negativeTTL time.Duration, maxEntries int) Option {
	return func(u *Union) {
		u.cache = newCache(enabled, statTTL, negativeTTL, maxEntries)
	}
}

// WithCopyBufferSize sets the buffer size for copy-up of regular files
func WithCopyBufferSize(size int) Option {
	return func(u *Union) {
		if size > 0 {
			u.copyBufferSize = size
		}
	}
}

// WithCreatorOwner forces the owner of every entry the union creates, the
// way a kernel host would apply the caller's fsuid and fsgid.
func WithCreatorOwner(uid, gid uint32) Option {
	return func(u *Union) {
		u.creator = &owner{uid: uid, gid: gid}
	}
}

// New creates a Union with the specified options. Both branches are required.
func New(opts ...Option) (*Union, error) {
	u := &Union{
		log:            logrus.StandardLogger(),
		cache:          newCache(false, 0, 0, 0), // disabled by default
		locks:          newPathLocks(),
		copyBufferSize: defaultCopyBufferSize,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.ro == nil {
		return nil, ErrNoReadOnlyBranch
	}
	if u.rw == nil {
		return nil, ErrNoReadWriteBranch
	}
	return u, nil
}

// Name returns the name of the filesystem
func (u *Union) Name() string {
	return "unionfs"
}

// ReadOnlyBranch returns the lower branch
func (u *Union) ReadOnlyBranch() Store {
	return u.ro
}

// ReadWriteBranch returns the upper branch
func (u *Union) ReadWriteBranch() Store {
	return u.rw
}

// store returns the branch backing a location
func (u *Union) store(loc Location) Store {
	if loc.OnReadWrite() {
		return u.rw
	}
	return u.ro
}

// InvalidateCache removes a path from the cache
func (u *Union) InvalidateCache(name string) {
	u.cache.invalidate(cleanPath(name))
}

// InvalidateCacheTree removes all cache entries at or below a path
func (u *Union) InvalidateCacheTree(prefix string) {
	u.cache.invalidateTree(cleanPath(prefix))
}

// ClearCache removes all cache entries
func (u *Union) ClearCache() {
	u.cache.clear()
}

// CacheStats returns cache statistics
func (u *Union) CacheStats() CacheStats {
	return u.cache.Stats()
}
