package commands

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/hepunion/unionfs"
)

var lsLong bool

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a merged directory",
	Long: `List the merged entries of a directory, sorted by name.

Whiteouts, metadata shadows and the read-only entries they hide never appear.

Examples:
  unionctl ls /etc
  unionctl ls -l /`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

var treeCmd = &cobra.Command{
	Use:   "tree [path]",
	Short: "Walk the merged tree below a path",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTree,
}

var statCmd = &cobra.Command{
	Use:   "stat <path>...",
	Short: "Show merged attributes and the authoritative branch",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStat,
}

var catCmd = &cobra.Command{
	Use:   "cat <path>...",
	Short: "Print file contents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCat,
}

var readlinkCmd = &cobra.Command{
	Use:   "readlink <path>",
	Short: "Print a symlink target",
	Args:  cobra.ExactArgs(1),
	RunE:  runReadlink,
}

var resolveWrite bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>...",
	Short: "Show which branch serves a path",
	Long: `Print the location (not-found, ro, rw or rw-copyup) and branch path
for each argument. With --write the path is copied up first, the way an
open for writing would.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

var markersCmd = &cobra.Command{
	Use:   "markers [dir]",
	Short: "List whiteouts and metadata shadows stored in a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMarkers,
}

func init() {
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "show mode, owner, size and time")
	resolveCmd.Flags().BoolVarP(&resolveWrite, "write", "w", false, "resolve for writing (copies up)")

	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(readlinkCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(markersCmd)
}

func argOrRoot(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "/"
}

func runLs(cmd *cobra.Command, args []string) error {
	dir := argOrRoot(args)
	entries, err := union.ReadDir(dir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, e := range entries {
		if !lsLong {
			fmt.Fprintln(out, e.Name())
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Entry vanished since the listing.
			continue
		}
		fmt.Fprintln(out, longLine(path.Join(dir, e.Name()), info))
	}
	return nil
}

// longLine formats an entry the way ls -ln does
func longLine(name string, info fs.FileInfo) string {
	var uid, gid uint32
	var nlink uint64
	if a, ok := info.Sys().(*unionfs.Attributes); ok {
		uid, gid, nlink = a.Uid, a.Gid, a.Nlink
	}
	line := fmt.Sprintf("%s %3d %5d %5d %9d %s %s",
		info.Mode(), nlink, uid, gid, info.Size(), info.ModTime().Format(time.DateTime), info.Name())
	if info.Mode()&os.ModeSymlink != 0 {
		if target, err := union.Readlink(name); err == nil {
			line += " -> " + target
		}
	}
	return line
}

func runTree(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	return afero.Walk(union.Afero(), argOrRoot(args), func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		suffix := ""
		switch {
		case info.IsDir() && p != "/":
			suffix = "/"
		case info.Mode()&os.ModeSymlink != 0:
			suffix = "@"
		}
		fmt.Fprintln(out, p+suffix)
		return nil
	})
}

func runStat(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	return eachArg(cmd, args, func(name string) error {
		info, err := union.Lstat(name)
		if err != nil {
			return err
		}
		loc, branchPath, err := union.Resolve(name, false)
		if err != nil {
			return err
		}
		a := info.Sys().(*unionfs.Attributes)
		fmt.Fprintf(out, "  File: %s\n", name)
		fmt.Fprintf(out, "  Type: %s\n", typeName(a.Mode))
		fmt.Fprintf(out, "  Mode: %s (%04o)\n", a.Mode, uint32(a.Mode.Perm()))
		fmt.Fprintf(out, " Owner: %d:%d\n", a.Uid, a.Gid)
		fmt.Fprintf(out, "  Size: %d\n", a.Size)
		fmt.Fprintf(out, " Links: %d\n", a.Nlink)
		fmt.Fprintf(out, " Inode: %d\n", a.Ino)
		fmt.Fprintf(out, "Access: %s\n", a.Atime.Format(time.RFC3339Nano))
		fmt.Fprintf(out, "Modify: %s\n", a.Mtime.Format(time.RFC3339Nano))
		fmt.Fprintf(out, "Change: %s\n", a.Ctime.Format(time.RFC3339Nano))
		fmt.Fprintf(out, "Branch: %s %s\n", loc, branchPath)
		return nil
	})
}

func typeName(mode os.FileMode) string {
	switch {
	case mode.IsRegular():
		return "regular file"
	case mode.IsDir():
		return "directory"
	case mode&os.ModeSymlink != 0:
		return "symbolic link"
	case mode&os.ModeNamedPipe != 0:
		return "fifo"
	case mode&os.ModeSocket != 0:
		return "socket"
	case mode&os.ModeCharDevice != 0:
		return "character device"
	case mode&os.ModeDevice != 0:
		return "block device"
	default:
		return "unknown"
	}
}

func runCat(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	return eachArg(cmd, args, func(name string) error {
		data, err := union.ReadFile(name)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	})
}

func runReadlink(cmd *cobra.Command, args []string) error {
	target, err := union.Readlink(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), target)
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	resolve := func(name string) error {
		loc, branchPath, err := union.Resolve(name, resolveWrite)
		if err != nil {
			return err
		}
		if loc == unionfs.NotFound {
			fmt.Fprintf(out, "%s\t%s\n", loc, name)
			return nil
		}
		fmt.Fprintf(out, "%s\t%s\n", loc, branchPath)
		return nil
	}
	if !resolveWrite {
		return eachArg(cmd, args, resolve)
	}
	return withLock(func() error {
		return eachArg(cmd, args, resolve)
	})
}

// runMarkers lists the raw bookkeeping entries of the read-write branch
// that the merged view hides.
func runMarkers(cmd *cobra.Command, args []string) error {
	dir := path.Clean("/" + argOrRoot(args))
	entries, err := union.ReadWriteBranch().ReadDir(dir)
	if err != nil {
		if unionfs.KindOf(err) == unionfs.KindNotFound {
			// Nothing of dir lives on the read-write branch yet.
			return nil
		}
		return err
	}
	out := cmd.OutOrStdout()
	for _, e := range entries {
		switch {
		case unionfs.IsWhiteout(e.Name):
			fmt.Fprintf(out, "whiteout\t%s\n", path.Join(dir, e.Name[len(unionfs.WhiteoutPrefix):]))
		case unionfs.IsShadow(e.Name):
			fmt.Fprintf(out, "shadow\t%s\n", path.Join(dir, e.Name[len(unionfs.ShadowPrefix):]))
		}
	}
	return nil
}
