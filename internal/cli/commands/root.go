// Package commands implements the unionctl command tree.
package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hepunion/unionfs"
	"github.com/hepunion/unionfs/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

// globalFlags are the persistent flags shared by every subcommand
var globalFlags struct {
	configPath string
	readOnly   string
	readWrite  string
	memory     bool
	logLevel   string
	logFormat  string
	lockFile   string
	wait       bool
}

// State built by PersistentPreRunE for the running command
var (
	cfg   *config.Config
	log   *logrus.Logger
	union *unionfs.Union
)

var rootCmd = &cobra.Command{
	Use:   "unionctl",
	Short: "Inspect and modify a two-branch union filesystem",
	Long: `unionctl operates on the merged view of a read-only and a read-write branch.

Reads see the read-write branch first and fall back to the read-only branch.
Every change lands on the read-write branch: files are copied up before they
are modified, deletions of read-only entries leave .wh. whiteouts and
metadata changes to read-only entries are kept in .me. shadows.

Branches come from the config file ($UNIONCTL_CONFIG or --config) and can be
overridden with --ro and --rw.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		return setup(cmd)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&globalFlags.configPath, "config", "", "config file (default $"+config.EnvConfig+")")
	pf.StringVar(&globalFlags.readOnly, "ro", "", "read-only branch directory")
	pf.StringVar(&globalFlags.readWrite, "rw", "", "read-write branch directory")
	pf.BoolVar(&globalFlags.memory, "memory", false, "use empty in-memory branches, discarded on exit")
	pf.StringVar(&globalFlags.logLevel, "log-level", "", "log level (panic, fatal, error, warn, info, debug, trace)")
	pf.StringVar(&globalFlags.logFormat, "log-format", "", "log format (text or json)")
	pf.StringVar(&globalFlags.lockFile, "lock-file", "", "lock file serializing changes (default <rw>.lock)")
	pf.BoolVar(&globalFlags.wait, "wait", false, "wait for the branch lock instead of failing")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("unionctl version {{.Version}}\n")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// setup loads the config, applies flag overrides and opens the union.
func setup(cmd *cobra.Command) error {
	c, err := config.Load(globalFlags.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("ro") {
		c.ReadOnly = globalFlags.readOnly
	}
	if flags.Changed("rw") {
		c.ReadWrite = globalFlags.readWrite
	}
	if flags.Changed("memory") {
		c.Memory = globalFlags.memory
	}
	if flags.Changed("log-level") {
		c.LogLevel = globalFlags.logLevel
	}
	if flags.Changed("log-format") {
		c.LogFormat = globalFlags.logFormat
	}
	if flags.Changed("lock-file") {
		c.LockFile = globalFlags.lockFile
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(c, cmd)
	if err != nil {
		return err
	}
	u, err := openUnion(c, logger)
	if err != nil {
		return err
	}
	cfg, log, union = c, logger, u
	return nil
}

func newLogger(c *config.Config, cmd *cobra.Command) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid log_level: %w", err)
	}
	l := logrus.New()
	l.SetOutput(cmd.ErrOrStderr())
	l.SetLevel(level)
	if strings.ToLower(c.LogFormat) == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}
	return l, nil
}

func openUnion(c *config.Config, logger logrus.FieldLogger) (*unionfs.Union, error) {
	var ro, rw unionfs.Store
	if c.Memory {
		ro = unionfs.NewMemStore()
		rw = unionfs.NewMemStore()
	} else {
		ros, err := unionfs.NewOSStore(c.ReadOnly)
		if err != nil {
			return nil, fmt.Errorf("failed to open read-only branch: %w", err)
		}
		rws, err := unionfs.NewOSStore(c.ReadWrite)
		if err != nil {
			return nil, fmt.Errorf("failed to open read-write branch: %w", err)
		}
		ro, rw = ros, rws
	}

	opts := []unionfs.Option{
		unionfs.WithReadOnlyBranch(ro),
		unionfs.WithReadWriteBranch(rw),
		unionfs.WithLogger(logger),
		unionfs.WithCopyBufferSize(c.CopyBufferSize),
	}
	if c.StatCache.Enabled {
		opts = append(opts, unionfs.WithCacheConfig(true, c.StatCache.TTL, c.StatCache.NegativeTTL, c.StatCache.MaxEntries))
	}
	return unionfs.New(opts...)
}

// withLock runs fn while holding the exclusive lock on the read-write
// branch. In-memory unions have nothing to share and run unlocked.
func withLock(fn func() error) error {
	path := cfg.LockPath()
	if path == "" {
		return fn()
	}

	lock := flock.New(path)
	if globalFlags.wait {
		if err := lock.Lock(); err != nil {
			return fmt.Errorf("failed to lock %s: %w", path, err)
		}
	} else {
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("failed to lock %s: %w", path, err)
		}
		if !locked {
			return fmt.Errorf("read-write branch is locked by another process (%s)", path)
		}
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.WithError(err).WithField("lock", path).Warn("[lock] unlock failed")
		}
	}()

	log.WithField("lock", path).Debug("[lock] acquired")
	return fn()
}

// eachArg applies fn to every argument and reports all failures, like rm
// and mkdir do.
func eachArg(cmd *cobra.Command, args []string, fn func(string) error) error {
	var first error
	failed := 0
	for _, arg := range args {
		if err := fn(arg); err != nil {
			if len(args) == 1 {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", cmd.Name(), err)
			if first == nil {
				first = err
			}
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d operations failed: %w", failed, len(args), first)
	}
	return nil
}

// exitCode maps an error to a process exit status by its union error kind.
func exitCode(err error) int {
	switch unionfs.KindOf(err) {
	case unionfs.KindNone:
		return 0
	case unionfs.KindNotFound:
		return 2
	case unionfs.KindAlreadyExists, unionfs.KindNotEmpty:
		return 3
	case unionfs.KindPermissionDenied:
		return 4
	default:
		return 1
	}
}

// Main runs unionctl and returns the process exit status.
func Main() int {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return 0
}
