/*
Package unionfs merges a read-only branch and a read-write branch into a single
tree, with copy-on-write, whiteouts and metadata shadows.

# Overview

A Union presents two branches as one filesystem. The read-only (RO) branch is
never modified. Every change lands on the read-write (RW) branch, which is
consulted first for every lookup: an entry present on RW always masks the RO
entry of the same name.

# Key Features

  - Copy-up of RO entries on first write, staged so no partial copy is ever live
  - Whiteout markers (".wh.<name>") to delete RO entries
  - Metadata shadows (".me.<name>") to chown, chmod or touch RO entries without copying them
  - Merged directory listings with deterministic inode numbers
  - In-memory (MemStore) and on-disk (OSStore) branches
  - absfs.FileSystem and afero.Fs views of the merged tree

# Basic Usage

	package main

	import (
	    "os"

	    "github.com/hepunion/unionfs"
	)

	func main() {
	    base, _ := unionfs.NewOSStore("/srv/image")
	    overlay, _ := unionfs.NewOSStore("/srv/changes")

	    u, err := unionfs.New(
	        unionfs.WithReadOnlyBranch(base),
	        unionfs.WithReadWriteBranch(overlay),
	    )
	    if err != nil {
	        panic(err)
	    }

	    // Reads fall through to the read-only branch
	    data, err := u.ReadFile("/etc/hosts")

	    // Opening for write copies the file up first
	    f, err := u.OpenFile("/etc/hosts", os.O_WRONLY|os.O_APPEND, 0)
	    f.Write([]byte("127.0.0.2 extra\n"))
	    f.Close()
	}

# Resolution

Resolve reports where a path lives: NotFound, ReadOnly, ReadWrite, or
ReadWriteCopyup when a write lookup just promoted the entry. A RO entry is
hidden when its own whiteout exists, when any ancestor is whited out, or when
an ancestor exists on RW as something other than a directory.

# Whiteouts and Shadows

Deleting an entry that is visible on RO writes an empty file ".wh.<name>" in
the same directory on RW. Any later create of the same name removes it.

Changing the owner, mode or times of an entry that only lives on RO does not
copy it. Instead a zero-length ".me.<name>" file is created on RW whose own
inode attributes override those of the RO entry. The shadow is folded into the
copy on copy-up and removed when the entry is deleted.

	u.Chown("/bin/tool", 1000, 1000)     // creates /bin/.me.tool on RW
	fi, _ := u.Lstat("/bin/tool")         // uid 1000, content still on RO

Marker names are reserved: they never appear in listings and never resolve.

# Directory Merging

OpenDir returns a DirHandle that lists RW entries first, then RO entries not
whited out and not already present. Emptiness checks for Rmdir use the same
merged view. Directories present on RO cannot be renamed and fail with EXDEV.

# Errors

Operations return *os.PathError values wrapping a syscall.Errno, so callers can
use errors.Is with fs.ErrNotExist, fs.ErrExist and friends. KindOf classifies
any error into a small Kind enum.

# Concurrency

Copy-up is serialized per path inside a Union. Serializing several processes
sharing the same RW branch is the caller's job; unionctl takes a file lock for
every mutating command.

# Ownership

Copy-up asks the RW branch to give the copy the owner of the original. An
OSStore can only do that when the process may chown (root or CAP_CHOWN).
Otherwise the copy is owned by the process, loses its setuid and setgid bits,
and a warning is logged; mode and times are still copied. Chown on RO entries
writes a shadow and has the same requirement.

# Limitations

  - Exactly one RO and one RW branch
  - Hard links across branches are made by copying the RO origin up first
  - OSStore cannot raise privileges: faking ownership of RO entries needs root
*/
package unionfs
