package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var putFlags struct {
	from string
	mode string
	app  bool
}

var putCmd = &cobra.Command{
	Use:   "put <path>",
	Short: "Write stdin (or --from) to a file",
	Long: `Write data to a file in the union. A file that only exists on the
read-only branch is copied up first; a new file is created on the
read-write branch.

Examples:
  echo hello | unionctl put /greeting
  unionctl put --from ./hosts /etc/hosts
  echo more | unionctl put -a /greeting`,
	Args: cobra.ExactArgs(1),
	RunE: runPut,
}

var mkdirFlags struct {
	parents bool
	mode    string
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <dir>...",
	Short: "Create directories",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMkdir,
}

var rmRecursive bool

var rmCmd = &cobra.Command{
	Use:   "rm <path>...",
	Short: "Remove entries",
	Long: `Remove entries from the merged view. Entries backed by the read-only
branch are hidden with a whiteout; the read-only branch is never modified.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRm,
}

var rmdirCmd = &cobra.Command{
	Use:   "rmdir <dir>...",
	Short: "Remove empty directories",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRmdir,
}

var lnSymbolic bool

var lnCmd = &cobra.Command{
	Use:   "ln [-s] <target> <name>",
	Short: "Create a hard or symbolic link",
	Args:  cobra.ExactArgs(2),
	RunE:  runLn,
}

var mvCmd = &cobra.Command{
	Use:   "mv <old> <new>",
	Short: "Rename an entry",
	Long: `Rename an entry within the union. Files are copied up before they
move. Directories that have content on the read-only branch cannot be
renamed (EXDEV), matching what a host does for cross-device moves.`,
	Args: cobra.ExactArgs(2),
	RunE: runMv,
}

var copyupCmd = &cobra.Command{
	Use:   "copyup <path>...",
	Short: "Copy entries to the read-write branch",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCopyup,
}

func init() {
	putCmd.Flags().StringVarP(&putFlags.from, "from", "f", "", "read data from this local file instead of stdin")
	putCmd.Flags().StringVarP(&putFlags.mode, "mode", "m", "0644", "permissions for a new file (octal)")
	putCmd.Flags().BoolVarP(&putFlags.app, "append", "a", false, "append instead of truncating")
	mkdirCmd.Flags().BoolVarP(&mkdirFlags.parents, "parents", "p", false, "create missing parents, no error if existing")
	mkdirCmd.Flags().StringVarP(&mkdirFlags.mode, "mode", "m", "0755", "permissions (octal)")
	rmCmd.Flags().BoolVarP(&rmRecursive, "recursive", "r", false, "remove directories and their contents")
	lnCmd.Flags().BoolVarP(&lnSymbolic, "symbolic", "s", false, "create a symbolic link")

	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(rmdirCmd)
	rootCmd.AddCommand(lnCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(copyupCmd)
}

// parseMode parses an octal permission string such as 0644 or 1777
func parseMode(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil || v > 07777 {
		return 0, fmt.Errorf("invalid mode %q", s)
	}
	mode := os.FileMode(v & 0777)
	if v&04000 != 0 {
		mode |= os.ModeSetuid
	}
	if v&02000 != 0 {
		mode |= os.ModeSetgid
	}
	if v&01000 != 0 {
		mode |= os.ModeSticky
	}
	return mode, nil
}

func runPut(cmd *cobra.Command, args []string) error {
	perm, err := parseMode(putFlags.mode)
	if err != nil {
		return err
	}

	var src io.Reader = cmd.InOrStdin()
	if putFlags.from != "" {
		f, err := os.Open(putFlags.from)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}

	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if putFlags.app {
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}

	return withLock(func() error {
		f, err := union.OpenFile(args[0], flag, perm)
		if err != nil {
			return err
		}
		n, err := io.Copy(f, src)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		log.WithField("path", args[0]).WithField("bytes", n).Info("[put] written")
		return nil
	})
}

func runMkdir(cmd *cobra.Command, args []string) error {
	perm, err := parseMode(mkdirFlags.mode)
	if err != nil {
		return err
	}
	return withLock(func() error {
		return eachArg(cmd, args, func(name string) error {
			if mkdirFlags.parents {
				return union.MkdirAll(name, perm)
			}
			return union.Mkdir(name, perm)
		})
	})
}

func runRm(cmd *cobra.Command, args []string) error {
	return withLock(func() error {
		return eachArg(cmd, args, func(name string) error {
			if rmRecursive {
				return union.RemoveAll(name)
			}
			return union.Unlink(name)
		})
	})
}

func runRmdir(cmd *cobra.Command, args []string) error {
	return withLock(func() error {
		return eachArg(cmd, args, union.Rmdir)
	})
}

func runLn(cmd *cobra.Command, args []string) error {
	return withLock(func() error {
		if lnSymbolic {
			return union.Symlink(args[0], args[1])
		}
		return union.Link(args[0], args[1])
	})
}

func runMv(cmd *cobra.Command, args []string) error {
	return withLock(func() error {
		return union.Rename(args[0], args[1])
	})
}

func runCopyup(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	return withLock(func() error {
		return eachArg(cmd, args, func(name string) error {
			p, err := union.CopyUp(name)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, p)
			return nil
		})
	})
}
