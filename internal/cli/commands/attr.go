package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hepunion/unionfs"
)

var chmodCmd = &cobra.Command{
	Use:   "chmod <mode> <path>...",
	Short: "Change permissions",
	Long: `Change permission bits. Entries that only exist on the read-only branch
are not copied up: the new mode is recorded in a .me. metadata shadow.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runChmod,
}

var chownNoDeref bool

var chownCmd = &cobra.Command{
	Use:   "chown <uid>[:<gid>] <path>...",
	Short: "Change owner and group",
	Long: `Change numeric owner and group. Either side may be omitted (":100",
"1000:") to keep its current value.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runChown,
}

var touchNoCreate bool

var touchCmd = &cobra.Command{
	Use:   "touch <path>...",
	Short: "Update timestamps, creating missing files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTouch,
}

var truncateSize int64

var truncateCmd = &cobra.Command{
	Use:   "truncate -s <size> <path>...",
	Short: "Shrink or extend files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTruncate,
}

func init() {
	chownCmd.Flags().BoolVarP(&chownNoDeref, "no-dereference", "h", false, "change symlinks instead of their targets")
	touchCmd.Flags().BoolVarP(&touchNoCreate, "no-create", "c", false, "do not create missing files")
	truncateCmd.Flags().Int64VarP(&truncateSize, "size", "s", 0, "new size in bytes")
	_ = truncateCmd.MarkFlagRequired("size")

	rootCmd.AddCommand(chmodCmd)
	rootCmd.AddCommand(chownCmd)
	rootCmd.AddCommand(touchCmd)
	rootCmd.AddCommand(truncateCmd)
}

func runChmod(cmd *cobra.Command, args []string) error {
	mode, err := parseMode(args[0])
	if err != nil {
		return err
	}
	return withLock(func() error {
		return eachArg(cmd, args[1:], func(name string) error {
			return union.Chmod(name, mode)
		})
	})
}

// parseOwner parses uid[:gid]; a missing side is -1
func parseOwner(s string) (int, int, error) {
	uidStr, gidStr, _ := strings.Cut(s, ":")
	uid, gid := -1, -1
	if uidStr != "" {
		v, err := strconv.ParseUint(uidStr, 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid uid %q", uidStr)
		}
		uid = int(v)
	}
	if gidStr != "" {
		v, err := strconv.ParseUint(gidStr, 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid gid %q", gidStr)
		}
		gid = int(v)
	}
	if uid == -1 && gid == -1 {
		return 0, 0, fmt.Errorf("invalid owner %q", s)
	}
	return uid, gid, nil
}

func runChown(cmd *cobra.Command, args []string) error {
	uid, gid, err := parseOwner(args[0])
	if err != nil {
		return err
	}
	return withLock(func() error {
		return eachArg(cmd, args[1:], func(name string) error {
			if chownNoDeref {
				return union.Lchown(name, uid, gid)
			}
			return union.Chown(name, uid, gid)
		})
	})
}

func runTouch(cmd *cobra.Command, args []string) error {
	return withLock(func() error {
		return eachArg(cmd, args, func(name string) error {
			now := time.Now()
			err := union.Chtimes(name, now, now)
			if err == nil || touchNoCreate || !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			f, err := union.OpenFile(name, os.O_WRONLY|os.O_CREATE, 0644)
			if err != nil {
				return err
			}
			return f.Close()
		})
	})
}

func runTruncate(cmd *cobra.Command, args []string) error {
	if truncateSize < 0 {
		return &os.PathError{Op: "truncate", Path: args[0], Err: unionfs.EINVAL}
	}
	return withLock(func() error {
		return eachArg(cmd, args, func(name string) error {
			return union.Truncate(name, truncateSize)
		})
	})
}
