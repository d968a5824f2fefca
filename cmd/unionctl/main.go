package main

import (
	"os"

	"github.com/hepunion/unionfs/internal/cli/commands"
)

// Set via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersion(version, commit, date)
	os.Exit(commands.Main())
}
